package twcc

import (
	"sync"

	"github.com/pion/rtp"

	"github.com/HMasataka/twccsctp/ring"
	"github.com/HMasataka/twccsctp/seqnum"
)

// Stamper is the send-side half of the transport-wide sequence space: it
// assigns the next TwccSeq to each outbound packet, writes the
// rtp.TransportCCExtension header extension, and records a SentPacket in
// the shared history ring. The extension marshal/unmarshal itself is
// pion/rtp's TransportCCExtension rather than a reimplementation.
type Stamper struct {
	mu sync.Mutex

	extensionID uint8
	next        seqnum.TwccSeq

	history  *ring.Buffer[SentPacket]
	registry *SequenceRegistry
}

// NewStamper creates a stamper. extensionID is the RTP header extension ID
// negotiated for transport-wide-cc; zero is invalid.
func NewStamper(extensionID uint8, history *ring.Buffer[SentPacket], registry *SequenceRegistry) *Stamper {
	return &Stamper{extensionID: extensionID, history: history, registry: registry}
}

// Stamp assigns the next TwccSeq to pkt, writes the header extension, and
// records a plain (non-redundant) SentPacket. localTS is the monotonic send
// timestamp in nanoseconds.
func (s *Stamper) Stamp(pkt *rtp.Packet, localTS int64) (seqnum.TwccSeq, error) {
	return s.stamp(pkt, localTS, nil)
}

// StampRedundant is Stamp for an RTX or FEC packet: protectsSSRC/protectsOrig
// name the media packets it protects (by original sequence number, resolved
// lazily once feedback arrives), and idx/num locate it within its redundancy
// block.
func (s *Stamper) StampRedundant(pkt *rtp.Packet, localTS int64, protectsSSRC uint32, protectsOrig []uint16, idx, num int) (seqnum.TwccSeq, error) {
	info := &RedundancyInfo{
		ProtectsSSRC: protectsSSRC,
		Protects:     ByOriginal(protectsOrig),
		RedundantIdx: idx,
		RedundantNum: num,
	}
	return s.stamp(pkt, localTS, info)
}

func (s *Stamper) stamp(pkt *rtp.Packet, localTS int64, red *RedundancyInfo) (seqnum.TwccSeq, error) {
	if s.extensionID == 0 {
		return 0, ErrNoExtensionID
	}

	s.mu.Lock()
	seq := s.next
	s.next++
	s.mu.Unlock()

	ext := rtp.TransportCCExtension{TransportSequence: uint16(seq)}
	payload, err := ext.Marshal()
	if err != nil {
		return 0, err
	}
	if err := pkt.SetExtension(s.extensionID, payload); err != nil {
		return 0, err
	}

	sp := SentPacket{
		TwccSeq:     seq,
		OriginalSeq: pkt.SequenceNumber,
		SSRC:        pkt.SSRC,
		PayloadType: pkt.PayloadType,
		SizeBytes:   uint32(len(pkt.Payload)) + uint32(pkt.MarshalSize()-len(pkt.Payload)),
		LocalTS:     localTS,
		State:       StateUnknown,
		Redundancy:  red,
	}
	s.history.Push(seq, sp)
	s.registry.Register(pkt.SSRC, pkt.SequenceNumber, seq)

	// Redundancy blocks are registered with the Bookkeeper lazily, once
	// feedback resolves which media TwccSeqs this packet protects (see
	// Parser.applyLocked) — at stamp time the media packets may not even
	// have been stamped yet.

	return seq, nil
}

// OnSocketDeparture records the network layer's report of when a packet
// actually left the socket in the SentPacket's SocketTS; stats sampling
// does not use it.
func (s *Stamper) OnSocketDeparture(seq seqnum.TwccSeq, socketTS int64) {
	sp, ok := s.history.Get(seq)
	if !ok {
		return
	}
	sp.SocketTS = socketTS
	sp.HasSocketTS = true
	s.history.Set(seq, sp)
}
