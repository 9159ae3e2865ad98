//go:build linux

package tlsf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// NewMmapResizer returns a ResizeFunc that reserves maxBytes of anonymous
// virtual address space up front as PROT_NONE, and grows/shrinks the
// arena by mprotect-ing a PROT_READ|PROT_WRITE prefix of that
// reservation. The base address never moves: there is only ever one
// reservation, so the resize contract's "base changes only on the first
// nonzero call" rule holds trivially.
//
// maxBytes and every requested size should be a multiple of the system
// page size; NewMmapResizer does not round on the caller's behalf.
//
// The returned release function unmaps the entire reservation; call it
// once the Allocator built on top of this resizer is no longer needed.
func NewMmapResizer(maxBytes int) (resize ResizeFunc, release func() error) {
	reservation, err := unix.Mmap(-1, 0, maxBytes, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return func(int) unsafe.Pointer { return nil }, func() error { return nil }
	}

	base := unsafe.Pointer(unsafe.SliceData(reservation))
	committed := 0

	resize = func(requested int) unsafe.Pointer {
		if requested < 0 || requested > maxBytes {
			return nil
		}
		switch {
		case requested > committed:
			if err := unix.Mprotect(reservation[committed:requested], unix.PROT_READ|unix.PROT_WRITE); err != nil {
				return nil
			}
		case requested < committed:
			if err := unix.Mprotect(reservation[requested:committed], unix.PROT_NONE); err != nil {
				return nil
			}
		}
		committed = requested
		return base
	}
	release = func() error {
		return unix.Munmap(reservation)
	}
	return resize, release
}
