// Package tlsf implements a Two-Level Segregated Fit memory allocator
// over a single contiguous arena supplied and resized by a host callback.
//
// Every Malloc, Free, Realloc and AlignedAlloc call is bounded by O(1) in
// both time and fragmentation class: a bitmap-indexed first-fit search
// picks a free block, adjacent free blocks are coalesced eagerly, and the
// arena only grows or shrinks at its tail through the caller-supplied
// ResizeFunc.
//
// IMPORTANT: An Allocator is NOT goroutine-safe. Concurrent Malloc/Free/
// Realloc/AlignedAlloc calls from multiple goroutines will corrupt the
// free-list index. Callers sharing an Allocator across goroutines must
// provide their own mutual exclusion.
package tlsf

import (
	"errors"
	"fmt"
	"unsafe"
)

// Block layout, in words relative to a block's offset:
//
//	word 0: prev back-pointer, valid only when PREV_FREE is set
//	word 1: header (size | FREE | PREV_FREE)
//	word 2: next-free link, valid only when FREE is set
//	word 3: prev-free link, valid only when FREE is set
//
// Payload begins right after the header word (offset+structOverhead) so
// that a used block's free-list link words double as ordinary payload
// bytes once the block leaves the free list.
const (
	blockOverhead   = wordSize     // BLOCK_OVERHEAD: size of the header field alone
	structOverhead  = 2 * wordSize // offset from block start to payload
	blockStructSize = 4 * wordSize // prev + header + nextFree + prevFree
	blockSizeMin    = blockStructSize - wordSize

	freeBit     = uintptr(1)
	prevFreeBit = uintptr(1 << 1)
	blockBits   = freeBit | prevFreeBit

	noBlock = -1 // sentinel "null" offset
)

var (
	// ErrOutOfMemory is returned when no free block is available and the
	// host's resize callback could not grow the arena far enough.
	ErrOutOfMemory = errors.New("tlsf: out of memory")
	// ErrInvalidSize is returned by AlignedAlloc for a zero size.
	ErrInvalidSize = errors.New("tlsf: invalid size")
	// ErrInvalidAlignment is returned when an alignment is not a power of
	// two, or a size is not a multiple of the requested alignment.
	ErrInvalidAlignment = errors.New("tlsf: invalid alignment")
	// ErrSizeTooLarge is returned when a request exceeds TLSFMaxSize.
	ErrSizeTooLarge = errors.New("tlsf: requested size exceeds TLSFMaxSize")
)

// ResizeFunc is the host contract an Allocator calls into on grow/shrink.
// It must return a pointer to a region of exactly requestedSize usable
// bytes, or nil if the request cannot be satisfied. The base address it
// returns may only change the first time it is called with a nonzero
// size; on every later call (grow or shrink) it must keep returning the
// same base, with bytes [0, min(old, new)) preserved unchanged.
//
// The Allocator calls Resize synchronously from within Malloc/Free/
// Realloc/AlignedAlloc; Resize must not re-enter the Allocator it serves.
type ResizeFunc func(requestedSize int) unsafe.Pointer

// Allocator is one TLSF instance managing one arena.
//
// The zero value is not ready to use; construct one with NewAllocator.
type Allocator struct {
	resize ResizeFunc

	base unsafe.Pointer // address last returned by resize; nil until first grow
	size int            // current arena length in bytes, 0 before first grow

	flBitmap uint32
	slBitmap [flCount]uint32
	blocks   [flCount][slCount]int // free-list head offsets; noBlock if empty

	checkEnabled bool
}

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithDebugCheck makes the Allocator self-verify every invariant in
// Check() after each Malloc, AlignedAlloc, Realloc and Free call when on is true. Intended for tests and
// debug builds: it adds real overhead to every operation.
func WithDebugCheck(on bool) Option {
	return func(a *Allocator) { a.checkEnabled = on }
}

// NewAllocator creates an allocator with an empty (zero-size) arena. The
// arena is populated lazily: the first Malloc/AlignedAlloc call invokes
// resize to obtain initial backing memory.
func NewAllocator(resize ResizeFunc, opts ...Option) (*Allocator, error) {
	if resize == nil {
		return nil, fmt.Errorf("tlsf: resize callback must not be nil")
	}
	a := &Allocator{resize: resize}
	for i := range a.blocks {
		for j := range a.blocks[i] {
			a.blocks[i][j] = noBlock
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Size reports the current arena length in bytes: the size last requested
// from ResizeFunc, plus any bytes absorbed by AppendPool since. It is 0
// until the first successful allocation.
func (a *Allocator) Size() int { return a.size }

func (a *Allocator) ptr(off int) unsafe.Pointer { return unsafe.Add(a.base, off) }

func (a *Allocator) header(off int) uintptr {
	return *(*uintptr)(a.ptr(off + blockOverhead))
}

func (a *Allocator) setHeader(off int, h uintptr) {
	*(*uintptr)(a.ptr(off + blockOverhead)) = h
}

func (a *Allocator) blockSize(off int) int {
	return int(a.header(off) &^ blockBits)
}

func (a *Allocator) setBlockSize(off int, size int) {
	a.setHeader(off, uintptr(size)|(a.header(off)&blockBits))
}

func (a *Allocator) isFree(off int) bool {
	return a.header(off)&freeBit != 0
}

func (a *Allocator) isPrevFree(off int) bool {
	return a.header(off)&prevFreeBit != 0
}

func (a *Allocator) setPrevFreeBit(off int, free bool) {
	h := a.header(off)
	if free {
		h |= prevFreeBit
	} else {
		h &^= prevFreeBit
	}
	a.setHeader(off, h)
}

func (a *Allocator) readOffsetWord(wordOff int) int {
	w := *(*uintptr)(a.ptr(wordOff))
	if w == 0 {
		return noBlock
	}
	return int(w - 1)
}

func (a *Allocator) writeOffsetWord(wordOff int, target int) {
	if target == noBlock {
		*(*uintptr)(a.ptr(wordOff)) = 0
		return
	}
	*(*uintptr)(a.ptr(wordOff)) = uintptr(target) + 1
}

func (a *Allocator) prevOf(off int)       int  { return a.readOffsetWord(off) }
func (a *Allocator) setPrevOf(off, v int)      { a.writeOffsetWord(off, v) }
func (a *Allocator) nextFree(off int)     int  { return a.readOffsetWord(off + 2*wordSize) }
func (a *Allocator) setNextFree(off, v int)    { a.writeOffsetWord(off+2*wordSize, v) }
func (a *Allocator) prevFree(off int)     int  { return a.readOffsetWord(off + 3*wordSize) }
func (a *Allocator) setPrevFree(off, v int)    { a.writeOffsetWord(off+3*wordSize, v) }

// next returns the offset of the physical successor of off. Always valid
// to call: the sentinel guarantees there is always a next block.
func (a *Allocator) next(off int) int {
	return off + structOverhead + a.blockSize(off) - blockOverhead
}

// linkNext writes off into the successor's back-pointer slot and returns
// the successor's offset.
func (a *Allocator) linkNext(off int) int {
	nb := a.next(off)
	a.setPrevOf(nb, off)
	return nb
}

func (a *Allocator) canSplit(off, size int) bool {
	return a.blockSize(off) >= blockStructSize+size
}

// split carves a used prefix of `size` bytes off off and returns the
// offset of the free remainder. The caller is responsible for inserting
// both halves into the free-list index as appropriate.
func (a *Allocator) split(off, size int) int {
	restOff := off + structOverhead + size - blockOverhead
	restSize := a.blockSize(off) - size - blockOverhead
	a.setHeader(restOff, uintptr(restSize))
	a.setFree(restOff, true)
	a.setBlockSize(off, size)
	return restOff
}

// absorb merges block bOff into its immediate predecessor prevOff,
// leaving prevOff's flag bits untouched.
func (a *Allocator) absorb(prevOff, bOff int) int {
	newSize := a.blockSize(prevOff) + a.blockSize(bOff) + blockOverhead
	a.setBlockSize(prevOff, newSize)
	a.linkNext(prevOff)
	return prevOff
}

// setFree flips the FREE bit of off and keeps invariant (2) tight by also
// updating the successor's PREV_FREE bit and back-pointer.
func (a *Allocator) setFree(off int, free bool) {
	h := a.header(off)
	if free {
		h |= freeBit
	} else {
		h &^= freeBit
	}
	a.setHeader(off, h)
	a.setPrevFreeBit(a.linkNext(off), free)
}

func payloadOffset(blockOff int) int { return blockOff + structOverhead }

func blockOffsetFromPayload(payloadOff int) int { return payloadOff - structOverhead }

func (a *Allocator) payloadPtr(off int) unsafe.Pointer { return a.ptr(payloadOffset(off)) }

func (a *Allocator) offsetFromPayloadPtr(p unsafe.Pointer) int {
	return blockOffsetFromPayload(int(uintptr(p) - uintptr(a.base)))
}

// ---- free-list index (spec §4.3) ----

func (a *Allocator) searchSuitable(fl, sl int) (rfl, rsl, off int) {
	slMap := a.slBitmap[fl] & (^uint32(0) << uint(sl))
	if slMap != 0 {
		sl = ffs(slMap)
		return fl, sl, a.blocks[fl][sl]
	}
	flMap := a.flBitmap & (^uint32(0) << uint(fl+1))
	if flMap == 0 {
		return fl, sl, noBlock
	}
	fl = ffs(flMap)
	sl = ffs(a.slBitmap[fl])
	return fl, sl, a.blocks[fl][sl]
}

func (a *Allocator) insertAt(off, fl, sl int) {
	head := a.blocks[fl][sl]
	a.setNextFree(off, head)
	a.setPrevFree(off, noBlock)
	if head != noBlock {
		a.setPrevFree(head, off)
	}
	a.blocks[fl][sl] = off
	setBit(sl, &a.slBitmap[fl])
	setBit(fl, &a.flBitmap)
}

func (a *Allocator) removeAt(off, fl, sl int) {
	prev := a.prevFree(off)
	next := a.nextFree(off)
	if next != noBlock {
		a.setPrevFree(next, prev)
	}
	if prev != noBlock {
		a.setNextFree(prev, next)
	}
	if a.blocks[fl][sl] == off {
		a.blocks[fl][sl] = next
		if next == noBlock {
			clearBit(sl, &a.slBitmap[fl])
			if a.slBitmap[fl] == 0 {
				clearBit(fl, &a.flBitmap)
			}
		}
	}
}

func (a *Allocator) blockInsert(off int) {
	fl, sl := mapping(a.blockSize(off))
	a.insertAt(off, fl, sl)
}

func (a *Allocator) blockRemove(off int) {
	fl, sl := mapping(a.blockSize(off))
	a.removeAt(off, fl, sl)
}

// ---- merge/trim helpers (spec §4.5) ----

func (a *Allocator) mergePrev(off int) int {
	if a.isPrevFree(off) {
		prev := a.prevOf(off)
		a.blockRemove(prev)
		off = a.absorb(prev, off)
	}
	return off
}

func (a *Allocator) mergeNext(off int) int {
	next := a.next(off)
	if a.isFree(next) {
		a.blockRemove(next)
		off = a.absorb(off, next)
	}
	return off
}

func (a *Allocator) rtrimFree(off, size int) {
	if a.canSplit(off, size) {
		rest := a.split(off, size)
		a.linkNext(off)
		a.setPrevFreeBit(rest, true)
		a.blockInsert(rest)
	}
}

func (a *Allocator) rtrimUsed(off, size int) {
	if a.canSplit(off, size) {
		rest := a.split(off, size)
		a.setPrevFreeBit(rest, false)
		rest = a.mergeNext(rest)
		a.blockInsert(rest)
	}
}

func (a *Allocator) ltrimFree(off, size int) int {
	rest := a.split(off, size-blockOverhead)
	a.setPrevFreeBit(rest, true)
	a.linkNext(off)
	a.blockInsert(off)
	return rest
}

func (a *Allocator) use(off, size int) unsafe.Pointer {
	a.rtrimFree(off, size)
	a.setFree(off, false)
	return a.payloadPtr(off)
}

func (a *Allocator) findFree(size int) (int, error) {
	rounded := roundBlockSize(size)
	fl, sl := mapping(rounded)
	fl, sl, off := a.searchSuitable(fl, sl)
	if off == noBlock {
		if !a.grow(rounded) {
			return noBlock, ErrOutOfMemory
		}
		fl, sl = mapping(rounded)
		fl, sl, off = a.searchSuitable(fl, sl)
		if off == noBlock {
			return noBlock, ErrOutOfMemory
		}
	}
	a.removeAt(off, fl, sl)
	return off, nil
}

// ---- public operations (spec §4.5 / §6) ----

// Malloc allocates size bytes and returns a pointer aligned to at least 8
// bytes, or an error if size exceeds TLSFMaxSize or the arena could not
// be grown far enough.
func (a *Allocator) Malloc(size int) (unsafe.Pointer, error) {
	adjusted := adjustSize(size, align)
	if adjusted > TLSFMaxSize {
		return nil, ErrSizeTooLarge
	}
	off, err := a.findFree(adjusted)
	if err != nil {
		return nil, err
	}
	p := a.use(off, adjusted)
	a.maybeCheck()
	return p, nil
}

// AlignedAlloc allocates size bytes aligned to alignment, which must be a
// power of two. size must be a nonzero multiple of alignment.
func (a *Allocator) AlignedAlloc(alignment, size int) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	if alignment <= 0 || alignment&(alignment-1) != 0 || size%alignment != 0 {
		return nil, ErrInvalidAlignment
	}
	adjust := adjustSize(size, align)
	if adjust > TLSFMaxSize-alignment-blockStructSize {
		return nil, ErrSizeTooLarge
	}
	if alignment <= align {
		return a.Malloc(size)
	}

	asize := adjustSize(adjust+alignment-1+blockStructSize, alignment)
	off, err := a.findFree(asize)
	if err != nil {
		return nil, err
	}

	payload := payloadOffset(off)
	baseAddr := int(uintptr(a.base))
	memOff := alignUp(baseAddr+payload+blockStructSize, alignment) - baseAddr
	off = a.ltrimFree(off, memOff-payload)
	p := a.use(off, adjust)
	a.maybeCheck()
	return p, nil
}

// Free releases the block backing p. p == nil is a no-op. Freeing a
// pointer not returned by this Allocator, or freeing it twice, is
// undefined behavior (a contract violation per spec, not a recoverable
// error).
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	off := a.offsetFromPayloadPtr(p)
	a.setFree(off, true)
	off = a.mergePrev(off)
	off = a.mergeNext(off)

	if a.blockSize(a.next(off)) == 0 {
		a.shrink(off)
	} else {
		a.blockInsert(off)
	}
	a.maybeCheck()
}

// Realloc resizes the allocation at p to size bytes, preserving its
// contents up to min(old, new) size. p == nil behaves as Malloc(size).
// size == 0 with p != nil behaves as Free(p) and returns nil.
//
// On failure the original block is left completely untouched and p
// remains valid to use and to Free.
func (a *Allocator) Realloc(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	if p == nil {
		return a.Malloc(size)
	}
	if size == 0 {
		a.Free(p)
		return nil, nil
	}

	off := a.offsetFromPayloadPtr(p)
	cur := a.blockSize(off)
	adjusted := adjustSize(size, align)
	if adjusted > TLSFMaxSize {
		return nil, ErrSizeTooLarge
	}

	if adjusted <= cur {
		a.rtrimUsed(off, adjusted)
		a.maybeCheck()
		return p, nil
	}

	next := a.next(off)
	availNext := a.blockSize(next)
	if a.isFree(next) && cur+availNext+blockOverhead >= adjusted {
		a.blockRemove(next)
		off = a.absorb(off, next)
		a.setPrevFreeBit(a.next(off), false)
		a.rtrimUsed(off, adjusted)
		a.maybeCheck()
		return p, nil
	}

	dst, err := a.Malloc(size)
	if err != nil {
		return nil, err
	}
	copyBytes(dst, p, cur)
	a.Free(p)
	return dst, nil
}

func copyBytes(dst, src unsafe.Pointer, n int) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}

func (a *Allocator) maybeCheck() {
	if a.checkEnabled {
		if err := a.Check(); err != nil {
			panic(err)
		}
	}
}
