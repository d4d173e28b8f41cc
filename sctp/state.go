package sctp

// State is the Association's lifecycle state. Transitions to
// Error are one-way within a session; there is no reset out of it.
type State uint8

const (
	StateNew State = iota
	StateReady
	StateConnecting
	StateConnected
	StateDisconnecting
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateReady:
		return "Ready"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	case StateError:
		return "Error"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// ErrorKind classifies a socket-reported error. TooManyRetries and
// PeerReported force-close the association; every other kind is logged
// only.
type ErrorKind uint8

const (
	ErrorKindOther ErrorKind = iota
	ErrorKindTooManyRetries
	ErrorKindPeerReported
)

func (k ErrorKind) terminal() bool {
	return k == ErrorKindTooManyRetries || k == ErrorKindPeerReported
}
