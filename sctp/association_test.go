package sctp

import (
	"testing"
	"time"

	pionsctp "github.com/pion/sctp"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// newTestAssociation wires an Association to a MockEngine without driving it
// to Connected; callbacks is filled in once Connect's factory runs.
func newTestAssociation(t *testing.T, dec DecoderCallbacks) (*Association, *MockEngine, *Callbacks) {
	t.Helper()
	ctrl := gomock.NewController(t)
	engine := NewMockEngine(ctrl)
	var captured Callbacks
	factory := func(_ Options, callbacks Callbacks) (Engine, error) {
		captured = callbacks
		return engine, nil
	}
	a := NewAssociation(DefaultOptions(), factory, EncoderCallbacks{}, dec, nil)
	return a, engine, &captured
}

// connectedAssociation additionally drives Connect(), with the mock engine
// reporting success by invoking OnConnected synchronously — the way a real
// engine announces a completed handshake from within the same call stack
// that originated it.
func connectedAssociation(t *testing.T, dec DecoderCallbacks) (*Association, *MockEngine, *Callbacks) {
	t.Helper()
	a, engine, captured := newTestAssociation(t, dec)
	engine.EXPECT().Connect().DoAndReturn(func() error {
		(*captured).OnConnected()
		return nil
	})
	require.NoError(t, a.Connect())
	require.Equal(t, StateConnected, a.State())
	return a, engine, captured
}

func anyPPID() pionsctp.PayloadProtocolIdentifier { return pionsctp.PayloadProtocolIdentifier(0) }

func TestConnectWithoutFactoryFails(t *testing.T) {
	a := NewAssociation(DefaultOptions(), nil, EncoderCallbacks{}, DecoderCallbacks{}, nil)
	require.ErrorIs(t, a.Connect(), ErrNoEngineFactory)
}

func TestSendDataBeforeConnectedIsIllegal(t *testing.T) {
	a, _, _ := newTestAssociation(t, DecoderCallbacks{})
	err := a.SendData(1, anyPPID(), true, Reliable(), []byte("x"))
	require.ErrorIs(t, err, ErrIllegalState)
}

func TestResetStreamTwiceIsStreamClosing(t *testing.T) {
	a, engine, _ := connectedAssociation(t, DecoderCallbacks{})
	engine.EXPECT().ResetStream(uint16(3)).Return(nil)
	require.NoError(t, a.ResetStream(3))
	require.ErrorIs(t, a.ResetStream(3), ErrStreamClosing)
}

func TestSendDataOnClosingStreamIsRejected(t *testing.T) {
	a, engine, _ := connectedAssociation(t, DecoderCallbacks{})
	engine.EXPECT().ResetStream(uint16(3)).Return(nil)
	require.NoError(t, a.ResetStream(3))
	err := a.SendData(3, anyPPID(), true, Reliable(), []byte("x"))
	require.ErrorIs(t, err, ErrStreamClosing)
}

// TestStreamResetBothDirectionsFiresOnce checks that a peer-initiated
// incoming reset and the engine's own outgoing-reset completion, arriving
// on two separate inbound packets, only fire the upward StreamReset
// callback once both directions are in.
func TestStreamResetBothDirectionsFiresOnce(t *testing.T) {
	var resetCount int
	var resetStreamID uint16
	a, engine, captured := connectedAssociation(t, DecoderCallbacks{
		StreamReset: func(streamID uint16) {
			resetCount++
			resetStreamID = streamID
		},
	})

	engine.EXPECT().SendData(uint16(7), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, a.SendData(7, anyPPID(), true, Reliable(), []byte("hi")))
	require.Contains(t, a.streams, uint16(7))
	require.False(t, a.streams[7].ClosureInitiated)

	engine.EXPECT().ResetStream(uint16(7)).Return(nil)

	incoming := engine.EXPECT().HandleIncomingPacket(gomock.Any()).DoAndReturn(func([]byte) {
		(*captured).OnIncomingStreamsReset([]uint16{7})
	})
	performed := engine.EXPECT().HandleIncomingPacket(gomock.Any()).DoAndReturn(func([]byte) {
		(*captured).OnStreamsResetPerformed([]uint16{7})
	})
	gomock.InOrder(incoming, performed)

	require.NoError(t, a.IncomingPacket([]byte("pkt-1")))
	require.Equal(t, 0, resetCount, "must not notify upstream until both directions complete")
	require.Contains(t, a.streams, uint16(7))

	require.NoError(t, a.IncomingPacket([]byte("pkt-2")))
	require.Equal(t, 1, resetCount)
	require.Equal(t, uint16(7), resetStreamID)
	require.NotContains(t, a.streams, uint16(7))
}

// TestIncomingResetWithoutLocalInitiationFiresSymmetricReset checks that a
// peer-initiated reset the local side never started still completes the
// handshake: the association must initiate the opposite-direction reset
// itself, not just record the incoming half and stall.
func TestIncomingResetWithoutLocalInitiationFiresSymmetricReset(t *testing.T) {
	var resetCount int
	a, engine, captured := connectedAssociation(t, DecoderCallbacks{
		StreamReset: func(streamID uint16) { resetCount++ },
	})

	engine.EXPECT().ResetStream(uint16(7)).DoAndReturn(func(uint16) error {
		(*captured).OnStreamsResetPerformed([]uint16{7})
		return nil
	})
	engine.EXPECT().HandleIncomingPacket(gomock.Any()).DoAndReturn(func([]byte) {
		(*captured).OnIncomingStreamsReset([]uint16{7})
	})

	require.NoError(t, a.IncomingPacket([]byte("pkt")))
	require.Equal(t, 1, resetCount, "symmetric reset must complete the handshake without local initiation")
	require.NotContains(t, a.streams, uint16(7))
}

// TestCallbackReentryDoesNotDeadlock proves the non-reentrancy invariant: a
// callback invoked from inside the event loop can call back into a public
// method (here SendData) without the association deadlocking against
// itself.
func TestCallbackReentryDoesNotDeadlock(t *testing.T) {
	var assoc *Association
	var reentered bool
	var reentryErr error

	dec := DecoderCallbacks{}
	dec.StreamReset = func(streamID uint16) {
		reentered = true
		reentryErr = assoc.SendData(99, anyPPID(), true, Reliable(), []byte("reentrant"))
	}

	a, engine, captured := connectedAssociation(t, dec)
	assoc = a

	engine.EXPECT().SendData(uint16(7), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	engine.EXPECT().SendData(uint16(99), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, a.SendData(7, anyPPID(), true, Reliable(), []byte("hi")))

	engine.EXPECT().ResetStream(uint16(7)).Return(nil)
	engine.EXPECT().HandleIncomingPacket(gomock.Any()).DoAndReturn(func([]byte) {
		(*captured).OnIncomingStreamsReset([]uint16{7})
		(*captured).OnStreamsResetPerformed([]uint16{7})
	})

	done := make(chan error, 1)
	go func() { done <- a.IncomingPacket([]byte("pkt")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("IncomingPacket deadlocked on a reentrant callback")
	}

	require.True(t, reentered)
	require.NoError(t, reentryErr)
}

func TestForceCloseCancelsTimersAndClearsStreams(t *testing.T) {
	a, engine, _ := connectedAssociation(t, DecoderCallbacks{})
	engine.EXPECT().SendData(uint16(1), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, a.SendData(1, anyPPID(), true, Reliable(), []byte("x")))
	id := a.CreateTimeout("t3-rtx", time.Second)
	a.StartTimeout(id, time.Hour)
	require.Len(t, a.timers.timers, 1)

	engine.EXPECT().Close().Return(nil)
	require.NoError(t, a.ForceClose())

	require.Equal(t, StateDisconnected, a.State())
	require.Empty(t, a.streams)
	require.Empty(t, a.timers.timers)
}

func TestOnAbortedWithTerminalErrorForceCloses(t *testing.T) {
	var gotFatal bool
	a, engine, _ := connectedAssociation(t, DecoderCallbacks{
		Error: func(kind ErrorKind, msg string, fatal bool) { gotFatal = fatal },
	})
	engine.EXPECT().Close().Return(nil)
	a.OnAborted(ErrorKindPeerReported, "peer sent ABORT")
	require.Equal(t, StateDisconnected, a.State())
	require.True(t, gotFatal)
}
