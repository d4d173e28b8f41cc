package twcc

// PacketState is the lifecycle state of a SentPacket. The
// numeric ordering below is the ordering better_state enforces: Unknown is
// the weakest state, Received the strongest. A transition is only ever
// taken to a state with a strictly greater ordinal.
type PacketState uint8

const (
	StateUnknown PacketState = iota
	StateLost
	StateRecovered
	StateReceived
)

func (s PacketState) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateLost:
		return "lost"
	case StateRecovered:
		return "recovered"
	case StateReceived:
		return "received"
	default:
		return "invalid"
	}
}

// betterState returns the state a SentPacket should transition to given an
// incoming report: a report only ever improves a packet's recorded state.
// ok is false when new is not an improvement over cur, in which case the
// caller must leave cur untouched.
func betterState(cur, new PacketState) (PacketState, bool) {
	if new > cur {
		return new, true
	}
	return cur, false
}
