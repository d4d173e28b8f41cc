package twcc

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/twccsctp/seqnum"
)

func stampPackets(t *testing.T, m *Manager, n int) []seqnum.TwccSeq {
	t.Helper()
	base := time.Now().UnixNano()
	seqs := make([]seqnum.TwccSeq, n)
	for i := 0; i < n; i++ {
		pkt := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(100 + i), SSRC: 1, PayloadType: 96},
			Payload: []byte{1, 2, 3},
		}
		seq, err := m.StampOutbound(pkt, base+int64(i)*int64(time.Millisecond))
		require.NoError(t, err)
		seqs[i] = seq
	}
	return seqs
}

// TestManagerStampThenParseRoundTrip checks that a packet the Manager stamps
// and later receives feedback for ends up Received in the history with the
// reconstructed remote timestamp, regardless of the Encoder/Parser round
// trip in between.
func TestManagerStampThenParseRoundTrip(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtensionID = 5
	m := NewManager(opts, nil)

	seqs := stampPackets(t, m, 4)

	arrivals := make(map[seqnum.TwccSeq]int64, len(seqs))
	for i, seq := range seqs {
		arrivals[seq] = int64(i) * 1000
	}
	raw, size := encodeFCI(1, 1, seqs[0], seqs[len(seqs)-1], 0, arrivals)
	require.Greater(t, size, 0)

	var changed []PacketResult
	m.OnStateChange(func(r PacketResult) { changed = append(changed, r) })
	require.NoError(t, m.HandleFeedback(raw, time.Now()))

	require.Len(t, changed, len(seqs))
	for _, r := range changed {
		require.Equal(t, StateReceived, r.State)
		sp, ok := m.history.Get(r.TwccSeq)
		require.True(t, ok)
		require.Equal(t, StateReceived, sp.State)
		require.Equal(t, arrivals[r.TwccSeq], sp.RemoteTS)
	}

	stats := m.Stats()
	require.Equal(t, len(seqs), stats.PacketsReceived)
}

// TestManagerStateNeverRegresses checks that once a packet is reported
// Received, a later report claiming it was lost is rejected and the history
// retains the stronger state.
func TestManagerStateNeverRegresses(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtensionID = 5
	m := NewManager(opts, nil)
	seqs := stampPackets(t, m, 2)
	seq, next := seqs[0], seqs[1]

	// encodeFCI produces nothing for a window with no received packet, so
	// each Lost report for seq rides in a window that also reports next.
	lostRaw, _ := encodeFCI(1, 1, seq, next, 0, map[seqnum.TwccSeq]int64{next: 500})
	require.NoError(t, m.HandleFeedback(lostRaw, time.Now()))
	sp, ok := m.history.Get(seq)
	require.True(t, ok)
	require.Equal(t, StateLost, sp.State)

	receivedRaw, _ := encodeFCI(1, 1, seq, seq, 1, map[seqnum.TwccSeq]int64{seq: 500})
	require.NoError(t, m.HandleFeedback(receivedRaw, time.Now()))
	sp, ok = m.history.Get(seq)
	require.True(t, ok)
	require.Equal(t, StateReceived, sp.State)

	var changed []PacketResult
	m.OnStateChange(func(r PacketResult) { changed = append(changed, r) })
	regressRaw, _ := encodeFCI(1, 1, seq, next, 2, map[seqnum.TwccSeq]int64{next: 500})
	require.NoError(t, m.HandleFeedback(regressRaw, time.Now()))
	require.Empty(t, changed, "a Lost report for an already-Received packet must be rejected, not reported as a change")

	sp, ok = m.history.Get(seq)
	require.True(t, ok)
	require.Equal(t, StateReceived, sp.State, "state must never regress from Received back to Lost")
}

// TestManagerReorderedFeedbackReachesSameState checks that two Managers fed
// the same four feedback packets in a different arrival order converge on
// identical windowed statistics.
func TestManagerReorderedFeedbackReachesSameState(t *testing.T) {
	build := func(order []int) *Manager {
		opts := DefaultOptions()
		opts.ExtensionID = 5
		m := NewManager(opts, nil)
		seqs := stampPackets(t, m, 4)

		fcis := make([][]byte, len(seqs))
		for i, seq := range seqs {
			fcis[i], _ = encodeFCI(1, 1, seq, seq, seqnum.FeedbackCount(i), map[seqnum.TwccSeq]int64{seq: int64(i) * 1000})
		}
		for _, idx := range order {
			require.NoError(t, m.HandleFeedback(fcis[idx], time.Now()))
		}
		return m
	}

	inOrder := build([]int{0, 1, 2, 3})
	reordered := build([]int{0, 2, 1, 3})

	require.Equal(t, inOrder.Stats(), reordered.Stats())
}
