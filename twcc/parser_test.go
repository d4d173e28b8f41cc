package twcc

import (
	"encoding/binary"
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"

	"github.com/HMasataka/twccsctp/ring"
	"github.com/HMasataka/twccsctp/seqnum"
)

// rawFCI builds a minimal (zero-packet) FCI for exercising the fb_pkt_count
// tracking logic independent of the chunk/delta walk.
func rawFCI(t *testing.T, base seqnum.TwccSeq, span int, fbPktCount seqnum.FeedbackCount) []byte {
	t.Helper()
	body := make([]byte, fciHeaderLen)
	binary.BigEndian.PutUint32(body[0:], 1)
	binary.BigEndian.PutUint32(body[4:], 2)
	binary.BigEndian.PutUint16(body[8:], uint16(base))
	binary.BigEndian.PutUint16(body[10:], uint16(span))
	binary.BigEndian.PutUint32(body[12:], uint32(fbPktCount))

	totalWords := uint16(4+len(body)) / 4
	hdr := rtcp.Header{Length: totalWords - 1, Count: rtcp.FormatTCC, Type: rtcp.TypeTransportSpecificFeedback}
	hb, err := hdr.Marshal()
	require.NoError(t, err)
	return append(hb, body...)
}

// TestParserFbPktCountWrapInfersNoLoss checks that a feedback-packet
// wraparound with no packets in between must not fabricate losses.
func TestParserFbPktCountWrapInfersNoLoss(t *testing.T) {
	history := ring.NewBuffer[SentPacket](16)
	parser := NewParser(history, NewSequenceRegistry(), NewBookkeeper(), nil)

	_, err := parser.Parse(rawFCI(t, 1533, 0, 255))
	require.NoError(t, err)

	results, err := parser.Parse(rawFCI(t, 1534, 0, 1))
	require.NoError(t, err)
	require.Empty(t, results, "a feedback-report gap must never synthesize Lost packets")
}

// TestParserInOrderGapMarksLost covers the diff==0 branch: consecutive
// feedback with a hole in the TwccSeq space between them marks that hole
// Lost.
func TestParserInOrderGapMarksLost(t *testing.T) {
	history := ring.NewBuffer[SentPacket](16)
	for i := 0; i < 10; i++ {
		history.Push(seqnum.TwccSeq(i), SentPacket{TwccSeq: seqnum.TwccSeq(i), State: StateUnknown})
	}
	parser := NewParser(history, NewSequenceRegistry(), NewBookkeeper(), nil)

	first, _ := encodeFCI(1, 2, 0, 1, 0, map[seqnum.TwccSeq]int64{0: 0, 1: 1000})
	_, err := parser.Parse(first)
	require.NoError(t, err)

	second, _ := encodeFCI(1, 2, 5, 5, 1, map[seqnum.TwccSeq]int64{5: 5000}) // next in order, but 2,3,4 never reported
	results, err := parser.Parse(second)
	require.NoError(t, err)

	lostSeqs := map[seqnum.TwccSeq]bool{}
	for _, r := range results {
		if r.State == StateLost {
			lostSeqs[r.TwccSeq] = true
		}
	}
	require.True(t, lostSeqs[2])
	require.True(t, lostSeqs[3])
	require.True(t, lostSeqs[4])
}

// TestRedundancyRecoverySingleMedia checks that a pure-RTX block where the
// sole media packet is Lost and its RTX is Received promotes the media
// packet to Recovered.
func TestRedundancyRecoverySingleMedia(t *testing.T) {
	history := ring.NewBuffer[SentPacket](512)
	for seq := seqnum.TwccSeq(100); seq <= 109; seq++ {
		history.Push(seq, SentPacket{TwccSeq: seq, SSRC: 1, OriginalSeq: uint16(seq), State: StateUnknown})
	}
	registry := NewSequenceRegistry()
	for seq := seqnum.TwccSeq(100); seq <= 109; seq++ {
		registry.Register(1, uint16(seq), seq)
	}
	history.Push(200, SentPacket{
		TwccSeq: 200, SSRC: 1, State: StateUnknown,
		Redundancy: &RedundancyInfo{ProtectsSSRC: 1, Protects: ByOriginal([]uint16{105}), RedundantIdx: 0, RedundantNum: 1},
	})

	parser := NewParser(history, registry, NewBookkeeper(), nil)

	changed := parser.applyLocked([]PacketResult{
		{TwccSeq: 105, State: StateLost},
		{TwccSeq: 200, State: StateReceived, RemoteTS: 1000},
	})

	sp, ok := history.Get(105)
	require.True(t, ok)
	require.Equal(t, StateRecovered, sp.State)

	require.Len(t, changed, 2, "seq 105's Lost report and its later Recovered promotion must collapse into one entry")

	seen := make(map[seqnum.TwccSeq]int)
	var sawRecovered bool
	for _, r := range changed {
		seen[r.TwccSeq]++
		if r.TwccSeq == 105 && r.State == StateRecovered {
			sawRecovered = true
		}
	}
	require.True(t, sawRecovered)
	for seq, count := range seen {
		require.Equal(t, 1, count, "duplicate PacketResult entry for seq %d", seq)
	}
}
