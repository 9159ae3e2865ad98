package tlsf

import "math/bits"

// Word and block-class geometry, following the jserv/tlsf-bsd reference
// allocator this package is derived from. Only 64-bit hosts are supported:
// the free-list matrix, split/merge and sentinel math all assume an 8-byte
// machine word.
const (
	wordSize   = 8 // bytes
	alignShift = 3
	align      = 1 << alignShift // 8

	slShift = 4
	slCount = 1 << slShift // 16

	flShift = slShift + alignShift // 7
	flMax   = 38
	flCount = flMax - flShift + 1 // 32

	smallSize = 1 << flShift // 128: boundary between the "small" and mapped regimes

	// TLSFMaxSize is the largest payload size Malloc/Realloc/AlignedAlloc will
	// ever hand out.
	TLSFMaxSize = (1 << (flMax - 1)) - wordSize

	// SLCount and FLCount are exported so callers can size their own
	// bookkeeping or reason about the worst-case fragmentation class.
	SLCount = slCount
	FLCount = flCount
)

// ffs returns the index of the lowest set bit in a bitmap word.
// Callers must ensure x != 0.
func ffs(x uint32) int {
	return bits.TrailingZeros32(x)
}

// log2Floor returns floor(log2(x)) for a full-width block size.
// Sizes can reach TLSFMaxSize (~2^37), well past uint32, so this operates
// on uint64 even though only FLCount/SLCount (<=32) classes come out of it.
// Callers must ensure x > 0.
func log2Floor(x uint64) int {
	return bits.Len64(x) - 1
}

func setBit(nr int, word *uint32) {
	*word |= 1 << uint(nr)
}

func clearBit(nr int, word *uint32) {
	*word &^= 1 << uint(nr)
}

func testBit(nr int, word uint32) bool {
	return word&(1<<uint(nr)) != 0
}

// alignUp rounds x up to the next multiple of a. a must be a power of two.
func alignUp(x, a int) int {
	return (x + a - 1) &^ (a - 1)
}

// adjustSize clamps a requested payload size to the allocator's alignment
// and minimum block size.
func adjustSize(size, a int) int {
	size = alignUp(size, a)
	if size < blockSizeMin {
		return blockSizeMin
	}
	return size
}

// roundBlockSize rounds size up to the next boundary guaranteed to land in
// the same or a higher second-level list as an existing block of that size.
// Used only to pick a search key, never to store an actual block size.
func roundBlockSize(size int) int {
	if size < smallSize {
		return size
	}
	t := (1 << uint(log2Floor(uint64(size))-slShift)) - 1
	return (size + t) &^ t
}

// mapping computes the (fl, sl) free-list indices for a block of the given size.
func mapping(size int) (fl, sl int) {
	if size < smallSize {
		return 0, size / (smallSize / slCount)
	}
	t := log2Floor(uint64(size))
	sl = int(uint64(size)>>uint(t-slShift)) ^ slCount
	fl = t - flShift + 1
	return
}
