package sctp

import (
	"time"

	"github.com/pion/sctp"
)

// TimerID identifies one scheduled timer handed out by Callbacks'
// CreateTimeout, used by the engine to Start/Stop/Delete it and by the
// Association's event loop to call Engine.HandleTimeout on expiry.
type TimerID uint64

// Options negotiates the socket parameters used when a fresh Engine is
// created. Loadable from TOML via github.com/pelletier/go-toml/v2.
type Options struct {
	LocalPort  uint16 `toml:"local_port"`
	RemotePort uint16 `toml:"remote_port"`

	MaxMessageSize uint32 `toml:"max_message_size"`

	MaxTimerBackoff time.Duration `toml:"max_timer_backoff"`

	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`

	MaxRetransmissions uint32 `toml:"max_retransmissions"`

	// MaxInitRetransmits is unlimited (-1) when negative (see DESIGN.md's
	// Open Question decisions).
	MaxInitRetransmits int32 `toml:"max_init_retransmits"`

	UseSockStream bool `toml:"use_sock_stream"`

	AggressiveHeartbeat bool `toml:"aggressive_heartbeat"`
}

// DefaultOptions returns the negotiated defaults: 256 KiB messages, 3s max
// timer backoff, 3s/30s heartbeat, 3 max retransmissions, unlimited init
// retransmits.
func DefaultOptions() Options {
	return Options{
		MaxMessageSize:      256 * 1024,
		MaxTimerBackoff:     3 * time.Second,
		HeartbeatInterval:   30 * time.Second,
		MaxRetransmissions:  3,
		MaxInitRetransmits:  -1,
		AggressiveHeartbeat: false,
	}
}

// heartbeatInterval resolves the effective heartbeat interval: 3s when
// AggressiveHeartbeat is set, else the configured (default 30s) interval.
func (o Options) heartbeatInterval() time.Duration {
	if o.AggressiveHeartbeat {
		return 3 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return o.HeartbeatInterval
}

// Engine is the externally supplied SCTP protocol implementation the
// Association drives; the Association itself does not implement the SCTP
// protocol, only the callback vtable an Engine calls back into. An Engine is
// created fresh by an EngineFactory on every Connect, bound to the Callbacks
// the Association implements.
type Engine interface {
	Connect() error
	SendData(streamID uint16, ppid sctp.PayloadProtocolIdentifier, ordered bool, policy ReliabilityPolicy, payload []byte) error
	ResetStream(streamID uint16) error
	Close() error
	HandleIncomingPacket(data []byte)
	HandleTimeout(id TimerID)
}

// Callbacks is implemented by the Association and invoked by the Engine to
// report lifecycle events, deliver data, and manage timers. Every method
// here runs on the Association's event loop with the association lock
// released, so a callback is free to call back into a public Association
// method without deadlocking.
type Callbacks interface {
	SendPacket(data []byte) error

	OnMessageReceived(streamID uint16, ppid sctp.PayloadProtocolIdentifier, payload []byte)
	OnError(kind ErrorKind, msg string)
	OnAborted(kind ErrorKind, msg string)
	OnConnected()
	OnClosed()
	OnConnectionRestarted()
	OnStreamsResetFailed(streamIDs []uint16)
	OnStreamsResetPerformed(streamIDs []uint16)
	OnIncomingStreamsReset(streamIDs []uint16)
	OnBufferedAmountLow(streamID uint16)
	OnTotalBufferedAmountLow()

	CreateTimeout(name string, delay time.Duration) TimerID
	StartTimeout(id TimerID, delay time.Duration)
	StopTimeout(id TimerID)
	DeleteTimeout(id TimerID)

	TimeMillis() int64
	GetRandomInt(low, high int) int
}

// EngineFactory builds a fresh Engine bound to callbacks, using the
// negotiated Options. Connect calls this exactly once per connection
// attempt, allocating a fresh socket with the negotiated options.
type EngineFactory func(opts Options, callbacks Callbacks) (Engine, error)
