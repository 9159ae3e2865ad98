package tlsf

import "unsafe"

// AppendPool extends the arena by coalescing a caller-supplied memory
// region into its tail, without going through the resize callback. It is
// an optional capability layered on top of the grow/shrink protocol (see
// spec's Design Notes): most callers never need it, since resize already
// owns the decision of how much memory to hand back on grow.
//
// mem must point exactly at the current end of the arena (i.e. at
// base+Size()); this is the only placement AppendPool can coalesce into
// without an address-translation scheme of its own. Any other placement
// is rejected. Returns the number of bytes actually absorbed, 0 on
// rejection.
func (a *Allocator) AppendPool(mem unsafe.Pointer, size int) int {
	if a.base == nil || size < 2*blockOverhead {
		return 0
	}
	off := int(uintptr(mem) - uintptr(a.base))
	if off != a.size {
		return 0
	}

	extra := size - blockOverhead
	blockOff := a.size - 2*blockOverhead
	a.setHeader(blockOff, a.header(blockOff)|uintptr(extra)|freeBit)
	blockOff = a.mergePrev(blockOff)
	a.blockInsert(blockOff)

	sentinel := a.linkNext(blockOff)
	a.setHeader(sentinel, prevFreeBit)

	a.size += size
	return size
}
