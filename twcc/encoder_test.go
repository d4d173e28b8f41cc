package twcc

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HMasataka/twccsctp/ring"
	"github.com/HMasataka/twccsctp/seqnum"
)

// TestEncodeFCIRunLength mirrors a run-length scenario: ten packets spaced
// 33ms apart, constant small deltas, one run-length chunk covering all ten.
func TestEncodeFCIRunLength(t *testing.T) {
	arrivals := make(map[seqnum.TwccSeq]int64)
	for i := 0; i < 10; i++ {
		arrivals[seqnum.TwccSeq(i)] = int64(i) * 33000
	}

	pkt, size := encodeFCI(0x1111, 0x2222, 0, 9, 0, arrivals)
	require.NotNil(t, pkt)
	require.Greater(t, size, fciHeaderLen+4)

	body := pkt[4:]
	require.Equal(t, uint16(0), binary.BigEndian.Uint16(body[8:]))  // base seq
	require.Equal(t, uint16(10), binary.BigEndian.Uint16(body[10:])) // count
	refWord := binary.BigEndian.Uint32(body[12:])
	require.Equal(t, uint32(0), refWord>>8) // ref_time
	require.Equal(t, uint8(0), uint8(refWord&0xff)) // fb_pkt_count

	chunkWord := binary.BigEndian.Uint16(body[fciHeaderLen:])
	require.Equal(t, uint16(0x2000|10), chunkWord) // run-length, status=SmallDelta(1), len=10

	deltaOff := fciHeaderLen + 2
	require.Equal(t, byte(0), body[deltaOff])
	for i := 1; i < 10; i++ {
		require.Equal(t, byte(132), body[deltaOff+i], "delta %d", i)
	}
}

// TestEncodeFCIStatusVector mirrors a scenario requiring a 2-bit status
// vector: packets arriving every 64ms reference-time unit but with two
// 64ms-spaced gaps wide enough to push their deltas past the 1-byte small-
// delta range, forcing ClassLargeOrNegativeDelta.
func TestEncodeFCIStatusVector(t *testing.T) {
	arrivals := map[seqnum.TwccSeq]int64{
		5:  5 * 64000,
		7:  7 * 64000,
		8:  8 * 64000,
		11: 12 * 64000,
	}

	pkt, _ := encodeFCI(0x1111, 0x2222, 5, 11, 0, arrivals)
	require.NotNil(t, pkt)
	body := pkt[4:]

	require.Equal(t, uint16(5), binary.BigEndian.Uint16(body[8:]))
	require.Equal(t, uint16(7), binary.BigEndian.Uint16(body[10:]))
	refWord := binary.BigEndian.Uint32(body[12:])
	require.Equal(t, uint32(5), refWord>>8)

	chunkWord := binary.BigEndian.Uint16(body[fciHeaderLen:])
	require.Equal(t, uint16(0xD282), chunkWord, "vector chunk bits must match exactly: type=vector, size=2bit, symbols=[Small,NotRecv,Large,Large,NotRecv,NotRecv,Large]")

	deltaOff := fciHeaderLen + 2
	require.Equal(t, byte(0x00), body[deltaOff])
	require.Equal(t, uint16(0x0200), binary.BigEndian.Uint16(body[deltaOff+1:]))
	require.Equal(t, uint16(0x0100), binary.BigEndian.Uint16(body[deltaOff+3:]))
	require.Equal(t, uint16(0x0400), binary.BigEndian.Uint16(body[deltaOff+5:]))
}

// TestEncoderPushMarkerEmitsAndRoundTrips exercises Push end to end: the
// marker-bit trigger fires on the last packet, and the produced FCI parses
// back into matching per-seq Received states against the shared SentPacket
// history.
func TestEncoderPushMarkerEmitsAndRoundTrips(t *testing.T) {
	history := ring.NewBuffer[SentPacket](64)
	for i := 0; i < 5; i++ {
		history.Push(seqnum.TwccSeq(i), SentPacket{TwccSeq: seqnum.TwccSeq(i), State: StateUnknown})
	}
	parser := NewParser(history, NewSequenceRegistry(), NewBookkeeper(), nil)

	enc := NewEncoder(0xaaaa, 0xbbbb, DefaultEncoderOptions(), nil)
	var got []byte
	enc.OnFeedback(func(fci []byte) { got = fci })

	base := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		enc.Push(seqnum.TwccSeq(i), int64(i)*10_000_000, i == 4, base)
	}
	require.NotNil(t, got)

	results, err := parser.Parse(got)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		require.Equal(t, StateReceived, r.State)
		sp, ok := history.Get(r.TwccSeq)
		require.True(t, ok)
		require.Equal(t, StateReceived, sp.State)
	}
}

// TestEncoderDropsDuplicateAndStaleArrivals covers the encoder's duplicate/
// stale-arrival rejection: once a seq has been reported, a later Push for
// the same or an older seq than the last emitted window is a no-op.
func TestEncoderDropsDuplicateAndStaleArrivals(t *testing.T) {
	enc := NewEncoder(1, 2, DefaultEncoderOptions(), nil)
	now := time.Unix(0, 0)
	enc.Push(10, 0, false, now)
	enc.Push(10, 1_000_000, false, now) // duplicate seq, different arrival: dropped

	got, ok := enc.arrivals[10]
	require.True(t, ok)
	require.Equal(t, int64(0), got)

	// The marker emits the window [10,11]; seq 9 is then older than its last
	// seq and is dropped, so no new window opens.
	enc.Push(11, 2_000_000, true, now)
	enc.Push(9, 3_000_000, false, now)
	require.False(t, enc.haveWindow)
	require.Empty(t, enc.arrivals)
}

// TestEncoderMTUTriggerEmitsBeforeOverflow exercises the MTU-triggered early
// emission path: with a tight MTU budget, pushing enough packets without a
// marker bit must still force an emission before the buffered FCI would
// exceed it.
func TestEncoderMTUTriggerEmitsBeforeOverflow(t *testing.T) {
	opts := DefaultEncoderOptions()
	opts.MTU = 24 // header(4+16) plus only a couple of status/delta bytes
	enc := NewEncoder(1, 2, opts, nil)

	var emitted [][]byte
	enc.OnFeedback(func(fci []byte) { emitted = append(emitted, append([]byte(nil), fci...)) })

	now := time.Unix(0, 0)
	for i := 0; i < 20; i++ {
		enc.Push(seqnum.TwccSeq(i), int64(i)*10_000_000, false, now)
	}

	require.NotEmpty(t, emitted, "20 packets at a 24-byte MTU must force at least one early emission")
	for _, fci := range emitted {
		require.LessOrEqual(t, len(fci), opts.MTU)
	}
}
