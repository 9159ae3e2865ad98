package tlsf

import "unsafe"

// NewByteResizer returns a ResizeFunc backed by a Go byte slice whose
// capacity is reserved once, up front. Growing or shrinking only reslices
// within that reservation, so the base address the Allocator sees never
// moves — the in-process analogue of the stability the resize contract
// requires of a real host. A request beyond maxBytes is treated as the
// host refusing to grow (returns nil), the same as a fixed-size pool.
//
// The reservation is over-allocated by up to align-1 bytes so that the
// returned base can be shifted up to the next ALIGN boundary: Go's
// allocator does not guarantee make([]byte, ...) starts 8-byte aligned
// for every size class, and the first payload sits at base+blockOverhead,
// so an unaligned base would silently violate the allocator's alignment
// invariant on payload addresses.
//
// This is the zero-dependency default: portable, no OS-specific syscalls,
// suitable for tests and for hosts that already know their memory ceiling.
// See NewMmapResizer for a backend that returns pages to the OS on shrink
// (mmap is always page-, and so word-, aligned).
func NewByteResizer(maxBytes int) ResizeFunc {
	if maxBytes < 0 {
		maxBytes = 0
	}
	if maxBytes == 0 {
		return func(requested int) unsafe.Pointer {
			if requested != 0 {
				return nil
			}
			return nil
		}
	}

	raw := make([]byte, maxBytes+align-1)
	rawBase := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	pad := alignUp(int(rawBase), align) - int(rawBase)
	buf := raw[pad:pad : pad+maxBytes]
	base := unsafe.Pointer(unsafe.SliceData(buf))

	return func(requested int) unsafe.Pointer {
		if requested < 0 || requested > maxBytes {
			return nil
		}
		buf = buf[:requested]
		return base
	}
}
