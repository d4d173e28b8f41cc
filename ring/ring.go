// Package ring implements a fixed-capacity, sequence-indexed ring buffer.
//
// It generalizes a byte-slab RTP packet cache's step/headSN/maxSteps modular
// arithmetic into a generic typed ring, with an explicit presence bitmap
// standing in for null-pointer gap markers so a never-written or evicted
// slot can be told apart from a real zero value.
package ring

import "github.com/HMasataka/twccsctp/seqnum"

// Buffer is a ring of capacity slots addressed by a seqnum.TwccSeq. Slots
// fall out of the window as the head advances and are overwritten in place;
// Present distinguishes a real zero-value entry from a never-written or
// evicted one.
type Buffer[T any] struct {
	slots    []T
	present  []bool
	headSeq  seqnum.TwccSeq
	headIdx  int
	size     int
	capacity int
	empty    bool
}

// NewBuffer creates a ring buffer with the given capacity. capacity must be
// > 0.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{
		slots:    make([]T, capacity),
		present:  make([]bool, capacity),
		capacity: capacity,
		empty:    true,
	}
}

// Len returns the number of slots spanned between head and tail, including
// any not-present gaps.
func (b *Buffer[T]) Len() int { return b.size }

// Cap returns the ring's capacity.
func (b *Buffer[T]) Cap() int { return b.capacity }

// HeadSeq returns the sequence number of the oldest live slot. Valid only
// when Len() > 0.
func (b *Buffer[T]) HeadSeq() seqnum.TwccSeq { return b.headSeq }

// index maps a sequence number to its slot index using serial distance from
// the head, wrapped modulo capacity.
func (b *Buffer[T]) index(seq seqnum.TwccSeq) int {
	d := int(seqnum.Diff(seq, b.headSeq))
	idx := b.headIdx + d
	idx %= b.capacity
	if idx < 0 {
		idx += b.capacity
	}
	return idx
}

// Push appends a new slot at the next sequence number after the current
// tail. If seq is not exactly head+size, intermediate slots are created
// empty (present=false) so that Len() stays contiguous in sequence space;
// this is how feedback-gap placeholders come to exist.
func (b *Buffer[T]) Push(seq seqnum.TwccSeq, v T) {
	if b.empty {
		b.headSeq = seq
		b.headIdx = 0
		b.size = 1
		b.slots[0] = v
		b.present[0] = true
		b.empty = false
		return
	}

	tailSeq := seqnum.Add(b.headSeq, uint16(b.size-1))
	gap := int(seqnum.Diff(seq, tailSeq))
	if gap <= 0 {
		// Older-or-equal than current tail: direct overwrite if still live.
		if seqnum.Diff(seq, b.headSeq) < 0 {
			return // older than head entirely, out of window, drop silently
		}
		idx := b.index(seq)
		b.slots[idx] = v
		b.present[idx] = true
		return
	}

	for g := int64(1); g < int64(gap); g++ {
		idx := b.index(seqnum.Add(tailSeq, uint16(g)))
		if b.size < b.capacity {
			b.size++
		} else {
			b.advanceHead()
		}
		var zero T
		b.slots[idx] = zero
		b.present[idx] = false
	}

	newIdx := b.index(seq)
	if b.size < b.capacity {
		b.size++
	} else {
		b.advanceHead()
	}
	b.slots[newIdx] = v
	b.present[newIdx] = true
}

// advanceHead drops the oldest slot, sliding the head forward by one. The
// caller is responsible for having already accounted for size not exceeding
// capacity.
func (b *Buffer[T]) advanceHead() {
	b.headSeq = seqnum.Add(b.headSeq, 1)
	b.headIdx = (b.headIdx + 1) % b.capacity
}

// EvictOldest drops exactly one slot from the head, shrinking Len() by one.
// No-op on an empty buffer.
func (b *Buffer[T]) EvictOldest() {
	if b.size == 0 {
		return
	}
	var zero T
	b.slots[b.headIdx] = zero
	b.present[b.headIdx] = false
	b.size--
	if b.size == 0 {
		b.empty = true
		return
	}
	b.advanceHead()
}

// Get returns the value stored at seq and whether it is present. A seq
// outside [head, head+size) or present=false both return ok=false.
func (b *Buffer[T]) Get(seq seqnum.TwccSeq) (T, bool) {
	var zero T
	if b.empty {
		return zero, false
	}
	d := seqnum.Diff(seq, b.headSeq)
	if d < 0 || int(d) >= b.size {
		return zero, false
	}
	idx := b.index(seq)
	if !b.present[idx] {
		return zero, false
	}
	return b.slots[idx], true
}

// Set overwrites the value at seq in place, if seq is within the live
// window. Returns false if seq is out of window.
func (b *Buffer[T]) Set(seq seqnum.TwccSeq, v T) bool {
	if b.empty {
		return false
	}
	d := seqnum.Diff(seq, b.headSeq)
	if d < 0 || int(d) >= b.size {
		return false
	}
	idx := b.index(seq)
	b.slots[idx] = v
	b.present[idx] = true
	return true
}

// Head returns the value at the head slot and whether that slot is present.
// The second return is false both for an empty ring and for a gap at the
// head; Len() tells the two apart.
func (b *Buffer[T]) Head() (T, bool) {
	var zero T
	if b.empty {
		return zero, false
	}
	return b.slots[b.headIdx], b.present[b.headIdx]
}

// Range calls fn for every live slot in sequence order, skipping absent
// gaps unless includeGaps is true (in which case fn is called with
// present=false and the slot's zero value).
func (b *Buffer[T]) Range(includeGaps bool, fn func(seq seqnum.TwccSeq, v T, present bool)) {
	for i := 0; i < b.size; i++ {
		idx := (b.headIdx + i) % b.capacity
		if !b.present[idx] && !includeGaps {
			continue
		}
		fn(seqnum.Add(b.headSeq, uint16(i)), b.slots[idx], b.present[idx])
	}
}
