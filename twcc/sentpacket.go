package twcc

import "github.com/HMasataka/twccsctp/seqnum"

// ProtectsSeqnums holds the set of media sequence numbers a redundancy
// (RTX/FEC) packet protects. It starts out populated with original RTP
// sequence numbers and is rewritten, once, to TWCC sequence numbers the
// first time feedback is processed for the carrying SentPacket. Modeled as
// a tagged variant rather than a shared mutable array rewritten in place.
type ProtectsSeqnums struct {
	orig      []uint16
	twcc      []seqnum.TwccSeq
	byTwcc    bool
}

// ByOriginal constructs a ProtectsSeqnums still keyed by original RTP
// sequence numbers.
func ByOriginal(orig []uint16) ProtectsSeqnums {
	cp := make([]uint16, len(orig))
	copy(cp, orig)
	return ProtectsSeqnums{orig: cp}
}

// IsResolved reports whether this set has already been rewritten to TWCC
// sequence numbers.
func (p ProtectsSeqnums) IsResolved() bool { return p.byTwcc }

// Original returns the original-sequence view. Only meaningful before
// Resolve.
func (p ProtectsSeqnums) Original() []uint16 { return p.orig }

// TwccSeqs returns the TWCC-sequence view. Only meaningful after Resolve.
func (p ProtectsSeqnums) TwccSeqs() []seqnum.TwccSeq { return p.twcc }

// Resolve rewrites the original-sequence view into TWCC sequence numbers
// using lookup, which should be a SequenceRegistry keyed by the protected
// media SSRC. Entries lookup cannot resolve are dropped on a best-effort
// basis. Resolve is idempotent: once byTwcc is set, later calls are no-ops.
func (p *ProtectsSeqnums) Resolve(ssrc uint32, lookup func(ssrc uint32, origSeq uint16) (seqnum.TwccSeq, bool)) {
	if p.byTwcc {
		return
	}
	out := make([]seqnum.TwccSeq, 0, len(p.orig))
	for _, orig := range p.orig {
		if ts, ok := lookup(ssrc, orig); ok {
			out = append(out, ts)
		}
	}
	p.twcc = out
	p.byTwcc = true
}

// RedundancyInfo is present on a SentPacket only when the packet is an
// RTX/FEC redundancy packet.
type RedundancyInfo struct {
	ProtectsSSRC uint32
	Protects     ProtectsSeqnums
	RedundantIdx int // this packet's slot position within its block
	RedundantNum int // total number of redundancy packets in the block
}

// SentPacket is recorded once per stamped outbound RTP packet.
type SentPacket struct {
	TwccSeq     seqnum.TwccSeq
	OriginalSeq uint16
	SSRC        uint32
	PayloadType uint8
	SizeBytes   uint32

	LocalTS  int64 // ns, monotonic, set at send-queue entry
	SocketTS int64 // us, 0 until the network layer reports departure
	HasSocketTS bool
	RemoteTS int64 // us, reconstructed from feedback's reference time + deltas

	State PacketState

	Redundancy *RedundancyInfo

	StatsProcessed bool
}

// ApplyFeedback attempts to move the packet to a new state/remote_ts pair
// reported by a parsed feedback. It returns true if the update was applied;
// false means the incoming report was not an improvement and was rejected
// silently.
func (p *SentPacket) ApplyFeedback(newState PacketState, remoteTS int64) bool {
	next, ok := betterState(p.State, newState)
	if !ok {
		return false
	}
	p.State = next
	p.RemoteTS = remoteTS
	return true
}
