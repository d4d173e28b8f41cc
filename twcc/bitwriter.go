package twcc

// setBitsU16 sets size bits of val into src starting at bit position
// startIndex (counted from the most-significant bit, 0-based), returning
// the updated value. The shared primitive the encoder's tagged chunk
// writers (below) build on.
func setBitsU16(src, size, startIndex, val uint16) uint16 {
	if startIndex+size > 16 {
		return src
	}
	val &= (1 << size) - 1
	return src | (val << (16 - size - startIndex))
}

// chunkKind tags the two wire encodings for a packet-status chunk.
type chunkKind uint8

const (
	chunkRunLength chunkKind = iota
	chunkVector
)

// statusChunk is the tagged sum type
// teacher's open-coded alternation between run-length and vector writes.
type statusChunk struct {
	kind chunkKind

	// chunkRunLength fields
	status    Classification
	runLength uint16

	// chunkVector fields
	symbolBits int // 1 or 2
	symbols    []Classification
}

// encode returns the two-byte wire encoding of the chunk.
func (c statusChunk) encode() uint16 {
	switch c.kind {
	case chunkRunLength:
		return uint16(c.status) << 13 | (c.runLength & 0x1fff)
	case chunkVector:
		var v uint16
		v = setBitsU16(v, 1, 0, 1) // type flag: 1 = status vector chunk
		sizeFlag := uint16(0)
		if c.symbolBits == 2 {
			sizeFlag = 1
		}
		v = setBitsU16(v, 1, 1, sizeFlag)
		for i, s := range c.symbols {
			v = setBitsU16(v, uint16(c.symbolBits), uint16(c.symbolBits*i)+2, uint16(s))
		}
		return v
	default:
		return 0
	}
}

// vectorCapacity returns how many symbols fit in one status-vector chunk at
// the given symbol width.
func vectorCapacity(symbolBits int) int {
	if symbolBits == 2 {
		return 7
	}
	return 14
}
