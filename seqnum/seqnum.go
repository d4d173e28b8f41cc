// Package seqnum implements RFC 1982 serial-number arithmetic over the
// 16-bit transport-wide sequence number space used throughout twcc and ring.
package seqnum

// TwccSeq is a 16-bit transport-wide sequence number. Comparisons must use
// serial arithmetic (RFC 1982): the space wraps at 1<<16 and "older" is
// defined by the sign of a 16-bit signed difference, not raw integer order.
type TwccSeq uint16

// Diff returns a-b interpreted as a signed 16-bit serial distance. A
// negative result means a is older than b.
func Diff(a, b TwccSeq) int16 {
	return int16(a - b)
}

// Less reports whether a is strictly older than b in serial order.
func Less(a, b TwccSeq) bool {
	return Diff(a, b) < 0
}

// LessOrEqual reports whether a is older than or equal to b in serial order.
func LessOrEqual(a, b TwccSeq) bool {
	return Diff(a, b) <= 0
}

// InWindow reports whether seq falls in the half-open serial window
// [start, start+size).
func InWindow(seq, start TwccSeq, size uint16) bool {
	d := Diff(seq, start)
	return d >= 0 && d < int16(size)
}

// Add returns seq advanced by delta positions in serial order.
func Add(seq TwccSeq, delta uint16) TwccSeq {
	return seq + TwccSeq(delta)
}

// FeedbackCount is the 8-bit wrapping counter carried in each TWCC FCI
// (fb_pkt_count) and used for the expected-counter tracking in the parser.
type FeedbackCount uint8

// Diff8 returns a-b interpreted as a signed 8-bit serial distance.
func Diff8(a, b FeedbackCount) int8 {
	return int8(a - b)
}
