package sctp

import "errors"

// Sentinel errors returned by Association's external entry points. No error
// ever propagates as a panic across this package's boundary.
var (
	// ErrIllegalState is returned when an operation is attempted from a
	// state that forbids it (e.g. reset_stream before Connected).
	ErrIllegalState = errors.New("sctp: illegal state for operation")

	// ErrStreamClosing is returned by SendData/ResetStream when the target
	// stream already has a closure flag set.
	ErrStreamClosing = errors.New("sctp: stream is closing")

	// ErrNotConnected is returned by IncomingPacket when no socket is up
	// yet to hand the bytes to.
	ErrNotConnected = errors.New("sctp: association has no live socket")

	// ErrNoEngineFactory is returned by Connect if the Association was
	// built without an EngineFactory.
	ErrNoEngineFactory = errors.New("sctp: no engine factory configured")
)
