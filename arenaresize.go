//go:build goexperiment.arenas

package tlsf

import (
	"arena"
	"unsafe"
)

// NewExperimentalArenaResizer returns a ResizeFunc backed by the standard
// library's experimental arena package (build with GOEXPERIMENT=arenas).
// It is the direct descendant of the dependency the original tlsf-go
// allocator this package replaces was built on.
//
// Its capacity is fixed at construction and it can never shrink below
// maxBytes: arena.Arena has no operation to hand memory back to the Go
// runtime before the whole arena is released. Because spec's arena
// protocol relies on the host actually reclaiming memory on the final
// free (see Allocator.shrink and the shrink-on-last-free scenario in
// spec's testable properties), this resizer cannot be the default — wire
// it in only when the caller genuinely wants bump-pointer-arena-backed
// storage and does not care about returning memory to the OS until the
// whole allocator is torn down.
func NewExperimentalArenaResizer(maxBytes int) (resize ResizeFunc, release func()) {
	ar := arena.NewArena()
	buf := arena.MakeSlice[byte](ar, maxBytes, maxBytes)
	base := unsafe.Pointer(&buf[0])

	resize = func(requested int) unsafe.Pointer {
		if requested < 0 || requested > maxBytes {
			return nil
		}
		return base
	}
	return resize, ar.Free
}
