package twcc

import (
	"encoding/binary"

	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/HMasataka/twccsctp/ring"
	"github.com/HMasataka/twccsctp/seqnum"
)

// PacketResult is one reconstructed per-packet outcome handed to the stats
// engine after a feedback packet has been parsed.
type PacketResult struct {
	TwccSeq  seqnum.TwccSeq
	State    PacketState
	RemoteTS int64 // microseconds, reconstructed from the FCI's reference time + deltas
}

// Parser is the send-side feedback parser: it decodes the wire-exact FCI
// produced by Encoder, reconstructs per-packet arrival state against the
// SentPacket history ring, and tracks the monotone fb_pkt_count sequence.
type Parser struct {
	history    *ring.Buffer[SentPacket]
	registry   *SequenceRegistry
	bookkeeper *Bookkeeper
	logger     logging.LeveledLogger

	initialized        bool
	expectedFbPktCount seqnum.FeedbackCount
	expectedSeq        seqnum.TwccSeq
}

// NewParser creates a parser bound to the shared send-side state: the
// SentPacket history ring, the sequence registry, and the redundancy
// bookkeeper.
func NewParser(history *ring.Buffer[SentPacket], registry *SequenceRegistry, bookkeeper *Bookkeeper, logger logging.LeveledLogger) *Parser {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("twcc")
	}
	return &Parser{history: history, registry: registry, bookkeeper: bookkeeper, logger: logger}
}

// Parse decodes one RTCP transport-wide congestion control FCI (as produced
// by Encoder, wrapped in its RTCP header) and applies the resulting
// per-packet states to the history ring, returning the packets that changed
// state. A malformed packet returns ErrMalformedFeedback and leaves parser
// state untouched.
func (p *Parser) Parse(raw []byte) ([]PacketResult, error) {
	if len(raw) < 4 {
		return nil, ErrMalformedFeedback
	}
	var hdr rtcp.Header
	if err := hdr.Unmarshal(raw); err != nil {
		return nil, ErrMalformedFeedback
	}
	body := raw[4:]
	if len(body) < fciHeaderLen {
		return nil, ErrMalformedFeedback
	}

	baseSeq := seqnum.TwccSeq(binary.BigEndian.Uint16(body[8:]))
	span := int(binary.BigEndian.Uint16(body[10:]))
	refWord := binary.BigEndian.Uint32(body[12:])
	refTimeUnits := int64(refWord >> 8)
	fbPktCount := seqnum.FeedbackCount(refWord & 0xff)

	prevInitialized, prevFbPktCount, prevSeq := p.initialized, p.expectedFbPktCount, p.expectedSeq
	malformed := func() ([]PacketResult, error) {
		p.initialized, p.expectedFbPktCount, p.expectedSeq = prevInitialized, prevFbPktCount, prevSeq
		return nil, ErrMalformedFeedback
	}

	var gapLost []PacketResult
	switch {
	case !p.initialized:
		// First feedback ever seen: nothing precedes it to infer loss from.
		p.initialized = true
		p.expectedFbPktCount = fbPktCount + 1
		p.expectedSeq = seqnum.Add(baseSeq, uint16(span))

	case seqnum.Diff8(fbPktCount, p.expectedFbPktCount) < 0:
		// Reordered feedback (an earlier report arriving late): parse it,
		// but never infer loss from it and never move the expected
		// counters backwards.

	case seqnum.Diff8(fbPktCount, p.expectedFbPktCount) > 0:
		// One or more feedback packets were themselves lost. The gap in
		// TwccSeq space they would have covered is NOT marked lost — a
		// later, delayed FCI may still report on it.
		p.expectedFbPktCount = fbPktCount + 1
		p.expectedSeq = seqnum.Add(baseSeq, uint16(span))

	default: // diff == 0: in-order feedback
		if !seqnum.Less(baseSeq, p.expectedSeq) {
			for s := p.expectedSeq; s != baseSeq; s = seqnum.Add(s, 1) {
				gapLost = append(gapLost, PacketResult{TwccSeq: s, State: StateLost})
			}
		}
		p.expectedFbPktCount = fbPktCount + 1
		p.expectedSeq = seqnum.Add(baseSeq, uint16(span))
	}

	statuses := make([]Classification, 0, span)
	off := fciHeaderLen
	for len(statuses) < span {
		if off+2 > len(body) {
			return malformed()
		}
		word := binary.BigEndian.Uint16(body[off:])
		off += 2
		isVector := word&0x8000 != 0
		if !isVector {
			status := Classification((word >> 13) & 0x3)
			runLength := int(word & 0x1fff)
			for i := 0; i < runLength && len(statuses) < span; i++ {
				statuses = append(statuses, status)
			}
			continue
		}
		symbolBits := 1
		if word&0x4000 != 0 {
			symbolBits = 2
		}
		cap := vectorCapacity(symbolBits)
		for i := 0; i < cap && len(statuses) < span; i++ {
			shift := 16 - 2 - symbolBits*(i+1)
			mask := uint16((1 << symbolBits) - 1)
			sym := Classification((word >> uint(shift)) & mask)
			statuses = append(statuses, sym)
		}
	}

	running := refTimeUnits * tccRefUnitUS
	results := make([]PacketResult, 0, span)
	for i, status := range statuses {
		seq := seqnum.Add(baseSeq, uint16(i))
		if status == ClassNotRecv {
			results = append(results, PacketResult{TwccSeq: seq, State: StateLost})
			continue
		}
		if off+1 > len(body) {
			return malformed()
		}
		var deltaUnits int64
		if status == ClassSmallDelta {
			deltaUnits = int64(body[off])
			off++
		} else {
			if off+2 > len(body) {
				return malformed()
			}
			deltaUnits = int64(int16(binary.BigEndian.Uint16(body[off:])))
			off += 2
		}
		running += deltaUnits * tccTimeUnitUS
		results = append(results, PacketResult{TwccSeq: seq, State: StateReceived, RemoteTS: running})
	}

	if len(gapLost) > 0 {
		results = append(gapLost, results...)
	}
	return p.applyLocked(results), nil
}

// applyLocked writes each result into the SentPacket history ring (via
// ApplyFeedback's monotone-state merge) and re-evaluates any redundancy
// block touched by a Lost or Received transition, promoting recovered
// packets. A redundancy promotion can resolve a TwccSeq that this same call
// already reported on (e.g. a media packet reported Lost, then promoted to
// Recovered once its protecting RTX resolves in the same batch); record
// folds such a second result into the first entry's slot instead of
// appending a duplicate, so callers never see more than one PacketResult
// per TwccSeq and never double-count a packet into the stats window.
func (p *Parser) applyLocked(results []PacketResult) []PacketResult {
	changed := make([]PacketResult, 0, len(results))
	changedIdx := make(map[seqnum.TwccSeq]int, len(results))
	touchedBlocks := make(map[redBlockKey]*RedBlock)

	record := func(r PacketResult) {
		if i, ok := changedIdx[r.TwccSeq]; ok {
			changed[i] = r
			return
		}
		changedIdx[r.TwccSeq] = len(changed)
		changed = append(changed, r)
	}

	for _, r := range results {
		sp, ok := p.history.Get(r.TwccSeq)
		if !ok {
			continue
		}
		if !sp.ApplyFeedback(r.State, r.RemoteTS) {
			continue
		}
		p.history.Set(r.TwccSeq, sp)
		record(r)

		block, ok := p.bookkeeper.BlockFor(r.TwccSeq)
		if !ok && sp.Redundancy != nil {
			block = p.registerRedundancyLocked(r.TwccSeq, sp)
			ok = block != nil
		}
		if ok {
			block.SetFECState(r.TwccSeq, r.State)
			touchedBlocks[keyFor(block.Media)] = block
		}
	}

	for _, block := range touchedBlocks {
		for _, mediaSeq := range block.Reconsider() {
			sp, ok := p.history.Get(mediaSeq)
			if !ok {
				continue
			}
			if sp.ApplyFeedback(StateRecovered, 0) {
				p.history.Set(mediaSeq, sp)
				record(PacketResult{TwccSeq: mediaSeq, State: StateRecovered})
			}
		}
	}

	return changed
}

// registerRedundancyLocked resolves a redundancy packet's protected media
// (original seqnums -> TwccSeqs, via the registry) the first time feedback
// arrives for it, then registers the resulting RedBlock with the
// bookkeeper. Best-effort: media the registry cannot resolve (already
// evicted, or never stamped) are simply absent from the block.
func (p *Parser) registerRedundancyLocked(fecSeq seqnum.TwccSeq, sp SentPacket) *RedBlock {
	red := sp.Redundancy
	if !red.Protects.IsResolved() {
		red.Protects.Resolve(red.ProtectsSSRC, p.registry.Lookup)
	}
	media := red.Protects.TwccSeqs()
	if len(media) == 0 {
		return nil
	}
	return p.bookkeeper.RegisterRedundant(media, fecSeq, red.RedundantIdx, red.RedundantNum, func(mediaSeq seqnum.TwccSeq) PacketState {
		if mp, ok := p.history.Get(mediaSeq); ok {
			return mp.State
		}
		return StateUnknown
	})
}
