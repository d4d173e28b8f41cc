package sctp

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/pion/logging"
	pionsctp "github.com/pion/sctp"
)

// EncoderCallbacks are the hooks an Association drives downward, toward the
// transport: packets to send, and lifecycle changes to surface upward to
// whatever multiplexes several associations.
type EncoderCallbacks struct {
	// PacketOut hands one outbound SCTP packet to the transport.
	PacketOut func(data []byte) error
	// StateChange fires on every lifecycle transition.
	StateChange func(state State)
}

// DecoderCallbacks are the hooks an Association drives upward, toward the
// application: reassembled messages, stream reset completions, errors.
type DecoderCallbacks struct {
	// MessageReceived fires once per fully reassembled user message.
	MessageReceived func(streamID uint16, ppid pionsctp.PayloadProtocolIdentifier, payload []byte)
	// StreamReset fires exactly once per stream id, once both directions of
	// its reset handshake have completed.
	StreamReset func(streamID uint16)
	// Error fires for every reported socket error; fatal marks the kinds
	// that force-close the association.
	Error func(kind ErrorKind, msg string, fatal bool)
	// ConnectionRestarted fires when the peer restarts the association.
	ConnectionRestarted func()
	// BufferedAmountLow and TotalBufferedAmountLow are flow-control signals;
	// nil is a valid no-op subscription.
	BufferedAmountLow      func(streamID uint16)
	TotalBufferedAmountLow func()
}

// Association is one SCTP association's state machine and event loop: it
// owns a stream table, a timer set, and a fresh Engine per connection
// attempt, and implements Callbacks for that Engine to call back into.
//
// All state is owned by a single worker goroutine (the event loop); external
// entry points submit work to it and block for the result. A callback that
// re-enters a public method runs inline on that same goroutine instead of
// submitting-and-waiting on itself, so upcalls never deadlock against the
// loop that invoked them — this is the Go expression of "release the
// recursive mutex across every upward callback".
type Association struct {
	id            uuid.UUID
	opts          Options
	engineFactory EngineFactory
	logger        logging.LeveledLogger

	encoder EncoderCallbacks
	decoder DecoderCallbacks

	loop   *workerpool.WorkerPool
	onLoop atomic.Bool

	stateMu sync.RWMutex
	state   State

	// Everything below is touched exclusively from the event loop goroutine
	// (either directly, or reentrantly via onLoop — never from any other
	// goroutine), so it needs no lock of its own.
	engine  Engine
	streams map[uint16]*StreamState
	timers  *timerService
}

var _ Callbacks = (*Association)(nil)

// NewAssociation builds an Association in StateNew. Connect must be called
// before any data flows.
func NewAssociation(opts Options, engineFactory EngineFactory, encoder EncoderCallbacks, decoder DecoderCallbacks, logger logging.LeveledLogger) *Association {
	a := &Association{
		id:            uuid.New(),
		opts:          opts,
		engineFactory: engineFactory,
		encoder:       encoder,
		decoder:       decoder,
		logger:        logger,
		loop:          workerpool.New(1),
		streams:       make(map[uint16]*StreamState),
		state:         StateNew,
	}
	a.timers = newTimerService(a.onTimerFired)
	return a
}

// ID returns the association's identity, used by whatever multiplexes
// several associations to route incoming packets.
func (a *Association) ID() uuid.UUID { return a.id }

// State returns the current lifecycle state. Safe from any goroutine.
func (a *Association) State() State {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// runSync submits fn to the event loop and waits for it, unless fn is
// already running on the loop goroutine (a reentrant upcall), in which case
// it runs fn inline to avoid submitting a job to a pool whose only worker is
// the caller itself.
func (a *Association) runSync(fn func() error) error {
	if a.onLoop.Load() {
		return fn()
	}
	result := make(chan error, 1)
	a.loop.Submit(func() {
		a.onLoop.Store(true)
		defer a.onLoop.Store(false)
		result <- fn()
	})
	return <-result
}

func (a *Association) setState(s State) {
	a.stateMu.Lock()
	a.state = s
	a.stateMu.Unlock()
	if a.encoder.StateChange != nil {
		a.encoder.StateChange(s)
	}
}

// Connect allocates a fresh Engine bound to this Association's Callbacks and
// drives it into Connecting.
func (a *Association) Connect() error {
	return a.runSync(func() error {
		if a.state != StateNew && a.state != StateReady {
			return ErrIllegalState
		}
		if a.engineFactory == nil {
			return ErrNoEngineFactory
		}
		opts := a.opts
		opts.HeartbeatInterval = opts.heartbeatInterval()
		engine, err := a.engineFactory(opts, a)
		if err != nil {
			return err
		}
		a.engine = engine
		a.setState(StateConnecting)
		return a.engine.Connect()
	})
}

// SendData enqueues one user message on streamID.
func (a *Association) SendData(streamID uint16, ppid pionsctp.PayloadProtocolIdentifier, ordered bool, policy ReliabilityPolicy, payload []byte) error {
	return a.runSync(func() error {
		if a.state != StateConnected {
			return ErrIllegalState
		}
		st, ok := a.streams[streamID]
		if ok && st.closing() {
			return ErrStreamClosing
		}
		if !ok {
			a.streams[streamID] = &StreamState{}
		}
		return a.engine.SendData(streamID, ppid, ordered, policy, payload)
	})
}

// ResetStream initiates the outgoing half of a stream's reset handshake.
func (a *Association) ResetStream(streamID uint16) error {
	return a.runSync(func() error {
		if a.state != StateConnected {
			return ErrIllegalState
		}
		st, ok := a.streams[streamID]
		if !ok {
			st = &StreamState{}
			a.streams[streamID] = st
		}
		if st.ClosureInitiated {
			return ErrStreamClosing
		}
		st.ClosureInitiated = true
		return a.engine.ResetStream(streamID)
	})
}

// IncomingPacket hands one received SCTP packet to the engine.
func (a *Association) IncomingPacket(data []byte) error {
	return a.runSync(func() error {
		if a.engine == nil {
			return ErrNotConnected
		}
		a.engine.HandleIncomingPacket(data)
		return nil
	})
}

// Disconnect begins a graceful shutdown.
func (a *Association) Disconnect() error {
	return a.runSync(func() error {
		if a.state != StateConnected {
			return ErrIllegalState
		}
		a.setState(StateDisconnecting)
		if a.engine == nil {
			return nil
		}
		return a.engine.Close()
	})
}

// ForceClose tears the association down unconditionally: every pending
// timer is cancelled, every stream entry dropped, and the engine closed.
func (a *Association) ForceClose() error {
	return a.runSync(func() error {
		a.forceClose()
		return nil
	})
}

func (a *Association) forceClose() {
	a.timers.cancelAll()
	if a.engine != nil {
		_ = a.engine.Close()
	}
	for sid := range a.streams {
		delete(a.streams, sid)
	}
	a.setState(StateDisconnected)
}

func (a *Association) onTimerFired(id TimerID) {
	_ = a.runSync(func() error {
		if a.engine != nil {
			a.engine.HandleTimeout(id)
		}
		return nil
	})
}

// --- Callbacks, invoked by the Engine from inside a runSync closure ---

func (a *Association) SendPacket(data []byte) error {
	if a.encoder.PacketOut == nil {
		return nil
	}
	return a.encoder.PacketOut(data)
}

func (a *Association) OnMessageReceived(streamID uint16, ppid pionsctp.PayloadProtocolIdentifier, payload []byte) {
	if a.decoder.MessageReceived != nil {
		a.decoder.MessageReceived(streamID, ppid, payload)
	}
}

func (a *Association) OnError(kind ErrorKind, msg string) {
	if a.logger != nil {
		a.logger.Warnf("sctp: association %s error: %s", a.id, msg)
	}
	if a.decoder.Error != nil {
		a.decoder.Error(kind, msg, kind.terminal())
	}
	if kind.terminal() {
		a.forceClose()
	}
}

func (a *Association) OnAborted(kind ErrorKind, msg string) {
	if a.logger != nil {
		a.logger.Errorf("sctp: association %s aborted: %s", a.id, msg)
	}
	fatal := kind.terminal()
	if fatal {
		a.setState(StateError)
	}
	if a.decoder.Error != nil {
		a.decoder.Error(kind, msg, fatal)
	}
	if fatal {
		a.forceClose()
	}
}

func (a *Association) OnConnected() {
	a.setState(StateConnected)
}

func (a *Association) OnClosed() {
	a.forceClose()
}

func (a *Association) OnConnectionRestarted() {
	if a.decoder.ConnectionRestarted != nil {
		a.decoder.ConnectionRestarted()
	}
}

// OnStreamsResetFailed logs a failed reset attempt; the stream is left as-is
// for the engine to retry.
func (a *Association) OnStreamsResetFailed(streamIDs []uint16) {
	if a.logger == nil {
		return
	}
	for _, sid := range streamIDs {
		a.logger.Warnf("sctp: reset failed for stream %d", sid)
	}
}

// OnStreamsResetPerformed marks the outgoing half of each stream's reset
// handshake done, completing the stream's closure once both halves are in.
func (a *Association) OnStreamsResetPerformed(streamIDs []uint16) {
	for _, sid := range streamIDs {
		a.completeResetDirection(sid, func(st *StreamState) { st.OutgoingResetDone = true })
	}
}

// OnIncomingStreamsReset marks the incoming half done. If the local side
// never called ResetStream, this is a peer-initiated reset: the entry is
// created on the fly, the association itself initiates the opposite-direction
// reset so the handshake completes symmetrically, and the upward StreamReset
// callback still only fires once both directions are in.
func (a *Association) OnIncomingStreamsReset(streamIDs []uint16) {
	for _, sid := range streamIDs {
		a.completeResetDirection(sid, func(st *StreamState) {
			st.IncomingResetDone = true
			if !st.ClosureInitiated {
				st.ClosureInitiated = true
				if err := a.engine.ResetStream(sid); err != nil && a.logger != nil {
					a.logger.Warnf("sctp: symmetric reset for stream %d failed: %s", sid, err)
				}
			}
		})
	}
}

func (a *Association) completeResetDirection(streamID uint16, mark func(*StreamState)) {
	st, ok := a.streams[streamID]
	if !ok {
		st = &StreamState{}
		a.streams[streamID] = st
	}
	mark(st)
	if _, stillPresent := a.streams[streamID]; !stillPresent {
		// A reentrant completion (the symmetric ResetStream call above can
		// synchronously report its own OnStreamsResetPerformed) already
		// finished and removed this stream; don't fire StreamReset twice.
		return
	}
	if !st.bothDirectionsDone() {
		return
	}
	delete(a.streams, streamID)
	if a.decoder.StreamReset != nil {
		a.decoder.StreamReset(streamID)
	}
}

func (a *Association) OnBufferedAmountLow(streamID uint16) {
	if a.decoder.BufferedAmountLow != nil {
		a.decoder.BufferedAmountLow(streamID)
	}
}

func (a *Association) OnTotalBufferedAmountLow() {
	if a.decoder.TotalBufferedAmountLow != nil {
		a.decoder.TotalBufferedAmountLow()
	}
}

func (a *Association) CreateTimeout(name string, _ time.Duration) TimerID {
	return a.timers.create(name)
}

func (a *Association) StartTimeout(id TimerID, delay time.Duration) {
	a.timers.start(id, delay)
}

func (a *Association) StopTimeout(id TimerID) {
	a.timers.stop(id)
}

func (a *Association) DeleteTimeout(id TimerID) {
	a.timers.delete(id)
}

func (a *Association) TimeMillis() int64 {
	return time.Now().UnixMilli()
}

func (a *Association) GetRandomInt(low, high int) int {
	if high <= low {
		return low
	}
	return low + rand.Intn(high-low+1)
}
