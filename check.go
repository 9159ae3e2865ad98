package tlsf

import "fmt"

// Check walks the entire free-list index, then every block of the arena in
// address order, and returns the first invariant violation it finds, or nil
// if the allocator's bookkeeping is consistent. It never mutates state.
// Meant for tests and debug builds: a full walk is O(number of blocks), not
// O(1), so it is not on any hot path.
func (a *Allocator) Check() error {
	for fl := 0; fl < flCount; fl++ {
		flSet := testBit(fl, a.flBitmap)
		slBitmap := a.slBitmap[fl]
		if !flSet && slBitmap != 0 {
			return fmt.Errorf("tlsf: check: fl bit %d clear but sl bitmap is %#x", fl, slBitmap)
		}

		for sl := 0; sl < slCount; sl++ {
			slSet := testBit(sl, slBitmap)
			head := a.blocks[fl][sl]

			if !slSet {
				if head != noBlock {
					return fmt.Errorf("tlsf: check: fl=%d sl=%d bit clear but head is set", fl, sl)
				}
				continue
			}
			if slBitmap == 0 {
				return fmt.Errorf("tlsf: check: fl=%d sl=%d bit set but sl bitmap is zero", fl, sl)
			}
			if head == noBlock {
				return fmt.Errorf("tlsf: check: fl=%d sl=%d bit set but head is nil", fl, sl)
			}

			for b := head; b != noBlock; b = a.nextFree(b) {
				if !a.isFree(b) {
					return fmt.Errorf("tlsf: check: block at %d on free list but FREE bit clear", b)
				}
				if a.isPrevFree(b) {
					return fmt.Errorf("tlsf: check: block at %d and its predecessor should have coalesced", b)
				}
				nb := a.next(b)
				if a.isFree(nb) {
					return fmt.Errorf("tlsf: check: block at %d and its successor should have coalesced", b)
				}
				if !a.isPrevFree(nb) {
					return fmt.Errorf("tlsf: check: successor of free block at %d missing PREV_FREE", b)
				}
				if a.blockSize(b) < blockSizeMin {
					return fmt.Errorf("tlsf: check: block at %d below minimum block size", b)
				}
				gfl, gsl := mapping(a.blockSize(b))
				if gfl != fl || gsl != sl {
					return fmt.Errorf("tlsf: check: block at %d indexed at (%d,%d), belongs at (%d,%d)", b, fl, sl, gfl, gsl)
				}
			}
		}
	}

	if a.size > 0 {
		b := -blockOverhead
		for a.blockSize(b) != 0 {
			if uintptr(a.payloadPtr(b))%align != 0 {
				return fmt.Errorf("tlsf: check: block at %d has a misaligned payload", b)
			}
			if a.isPrevFree(a.next(b)) != a.isFree(b) || (a.isFree(b) && a.prevOf(a.next(b)) != b) {
				return fmt.Errorf("tlsf: check: successor of block at %d has a stale PREV_FREE bit or back-pointer", b)
			}
			b = a.next(b)
		}
		if b != a.size-2*blockOverhead || a.isFree(b) {
			return fmt.Errorf("tlsf: check: sentinel at %d, want a used zero-size block at %d", b, a.size-2*blockOverhead)
		}
	}
	return nil
}
