package twcc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/HMasataka/twccsctp/internal/invariant"
	"github.com/HMasataka/twccsctp/seqnum"
)

// RedBlock tracks one redundancy block: the media sequence numbers it
// protects and the redundancy (RTX/FEC) sequence numbers that protect them,
// each with an independent slot state.
type RedBlock struct {
	Media    []seqnum.TwccSeq
	FEC      []seqnum.TwccSeq
	FECState []PacketState // parallel to FEC
	mediaState func(seqnum.TwccSeq) PacketState
}

// redBlockKey is the sorted set of protected media sequence numbers; blocks
// are identified by this set.
type redBlockKey string

func keyFor(media []seqnum.TwccSeq) redBlockKey {
	sorted := append([]seqnum.TwccSeq(nil), media...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, s := range sorted {
		parts[i] = fmt.Sprintf("%d", s)
	}
	return redBlockKey(strings.Join(parts, ","))
}

// Bookkeeper owns the set of live RedBlocks and the seqnum -> block index
// used to find a block from either a media or a fec sequence number.
type Bookkeeper struct {
	blocks       map[redBlockKey]*RedBlock
	seqToBlock   map[seqnum.TwccSeq]redBlockKey
}

// NewBookkeeper creates an empty redundancy bookkeeper.
func NewBookkeeper() *Bookkeeper {
	return &Bookkeeper{
		blocks:     make(map[redBlockKey]*RedBlock),
		seqToBlock: make(map[seqnum.TwccSeq]redBlockKey),
	}
}

// RegisterRedundant records that packet fecSeq is the redundantIdx-th (of
// redundantNum) redundancy packet protecting media. It returns the block
// (creating it on first reference) so the caller can immediately Reconsider
// it.
func (bk *Bookkeeper) RegisterRedundant(media []seqnum.TwccSeq, fecSeq seqnum.TwccSeq, redundantIdx, redundantNum int, mediaState func(seqnum.TwccSeq) PacketState) *RedBlock {
	key := keyFor(media)
	block, ok := bk.blocks[key]
	if !ok {
		block = &RedBlock{
			Media:      append([]seqnum.TwccSeq(nil), media...),
			FEC:        make([]seqnum.TwccSeq, redundantNum),
			FECState:   make([]PacketState, redundantNum),
			mediaState: mediaState,
		}
		bk.blocks[key] = block
		for _, m := range block.Media {
			bk.seqToBlock[m] = key
		}
	}
	if redundantIdx >= 0 && redundantIdx < len(block.FEC) {
		block.FEC[redundantIdx] = fecSeq
	}
	block.mediaState = mediaState
	bk.seqToBlock[fecSeq] = key
	return block
}

// BlockFor returns the block a sequence number (media or fec) belongs to.
func (bk *Bookkeeper) BlockFor(seq seqnum.TwccSeq) (*RedBlock, bool) {
	key, ok := bk.seqToBlock[seq]
	if !ok {
		return nil, false
	}
	b, ok := bk.blocks[key]
	return b, ok
}

// Forget drops a block entirely. History eviction in Manager does not call
// it; a registered block stays until Forget is called for its media set.
func (bk *Bookkeeper) Forget(media []seqnum.TwccSeq) {
	key := keyFor(media)
	if block, ok := bk.blocks[key]; ok {
		for _, m := range block.Media {
			delete(bk.seqToBlock, m)
		}
		for _, f := range block.FEC {
			delete(bk.seqToBlock, f)
		}
		delete(bk.blocks, key)
	}
}

// SetFECState records the state of the fecSeq-th slot in block, identified
// by scanning FEC for a match (blocks are small; linear scan is fine).
func (block *RedBlock) SetFECState(fecSeq seqnum.TwccSeq, state PacketState) {
	for i, f := range block.FEC {
		if f == fecSeq {
			block.FECState[i] = state
			return
		}
	}
}

// Reconsider walks the block's media+fec slots; if no slot is Unknown and
// the count of Lost slots does not exceed the number of fec slots, every
// Lost media slot transitions to Recovered. Single-media-packet blocks
// (pure RTX) take a simplified path: if the sole media slot is Lost/Unknown
// and any fec slot Received, it becomes Recovered directly.
// Reconsider returns the set of media sequence numbers that should
// transition to StateRecovered; it does not mutate SentPacket state itself
// — the caller (parser/stats integration) owns that ring.
func (block *RedBlock) Reconsider() []seqnum.TwccSeq {
	invariant.Check(len(block.FEC) == len(block.FECState), "RedBlock.FEC/FECState length mismatch: %d vs %d", len(block.FEC), len(block.FECState))

	if len(block.Media) == 1 {
		mediaSeq := block.Media[0]
		mState := block.mediaState(mediaSeq)
		if mState == StateLost || mState == StateUnknown {
			for _, fs := range block.FECState {
				if fs == StateReceived {
					return []seqnum.TwccSeq{mediaSeq}
				}
			}
		}
		return nil
	}

	unknown := 0
	lost := 0
	for _, m := range block.Media {
		switch block.mediaState(m) {
		case StateUnknown:
			unknown++
		case StateLost:
			lost++
		}
	}
	for _, fs := range block.FECState {
		switch fs {
		case StateUnknown:
			unknown++
		case StateLost:
			lost++
		}
	}
	if unknown > 0 || lost == 0 || lost > len(block.FEC) {
		return nil
	}

	return lo.Filter(block.Media, func(m seqnum.TwccSeq, _ int) bool {
		return block.mediaState(m) == StateLost
	})
}
