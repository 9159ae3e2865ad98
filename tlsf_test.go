package tlsf

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, maxBytes int) *Allocator {
	t.Helper()
	a, err := NewAllocator(NewByteResizer(maxBytes), WithDebugCheck(true))
	require.NoError(t, err)
	return a
}

func isAligned(p unsafe.Pointer, a int) bool {
	return uintptr(p)%uintptr(a) == 0
}

func TestMallocTinySequence(t *testing.T) {
	a := newTestAllocator(t, 1<<16)

	p, err := a.Malloc(1)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, isAligned(p, align))

	*(*byte)(p) = 0xA5
	assert.Equal(t, byte(0xA5), *(*byte)(p))

	a.Free(p)
	require.NoError(t, a.Check())
	assert.Equal(t, 0, a.Size(), "arena should have fully shrunk back")
}

func TestGrowThenShrink(t *testing.T) {
	a := newTestAllocator(t, 1<<20)

	p1, err := a.Malloc(64)
	require.NoError(t, err)
	p2, err := a.Malloc(64)
	require.NoError(t, err)
	p3, err := a.Malloc(64)
	require.NoError(t, err)

	a.Free(p2)
	a.Free(p1)
	a.Free(p3)

	require.NoError(t, a.Check())
	assert.Equal(t, 0, a.Size())
}

func TestReallocInPlace(t *testing.T) {
	a := newTestAllocator(t, 1<<20)

	p1, err := a.Malloc(64)
	require.NoError(t, err)
	p2, err := a.Malloc(64)
	require.NoError(t, err)
	_, err = a.Malloc(64) // keeps p2 off the arena tail, so freeing it leaves a free neighbor instead of shrinking the arena
	require.NoError(t, err)
	a.Free(p2)

	grown, err := a.Realloc(p1, 120)
	require.NoError(t, err)
	assert.Equal(t, p1, grown, "realloc should extend in place into the freed neighbor")
	require.NoError(t, a.Check())
}

func TestReallocRelocates(t *testing.T) {
	a := newTestAllocator(t, 1<<24)

	p1, err := a.Malloc(64)
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		*(*byte)(unsafe.Add(p1, i)) = byte(i)
	}
	_, err = a.Malloc(64) // occupy the physical neighbor so realloc cannot grow in place
	require.NoError(t, err)

	grown, err := a.Realloc(p1, 4096)
	require.NoError(t, err)
	require.NotEqual(t, p1, grown)
	for i := 0; i < 64; i++ {
		assert.Equal(t, byte(i), *(*byte)(unsafe.Add(grown, i)))
	}
	require.NoError(t, a.Check())
}

func TestReallocToZeroFrees(t *testing.T) {
	a := newTestAllocator(t, 1<<16)
	p, err := a.Malloc(32)
	require.NoError(t, err)
	out, err := a.Realloc(p, 0)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 0, a.Size())
}

func TestReallocFromNilIsMalloc(t *testing.T) {
	a := newTestAllocator(t, 1<<16)
	p, err := a.Realloc(nil, 32)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestAlignedAlloc(t *testing.T) {
	a := newTestAllocator(t, 1<<24)

	p, err := a.AlignedAlloc(4096, 8192)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, isAligned(p, 4096))

	a.Free(p)
	require.NoError(t, a.Check())
}

func TestAlignedAllocSmallAlignmentDelegatesToMalloc(t *testing.T) {
	a := newTestAllocator(t, 1<<16)
	p, err := a.AlignedAlloc(align, 64)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestAlignedAllocRejectsBadInput(t *testing.T) {
	a := newTestAllocator(t, 1<<16)

	_, err := a.AlignedAlloc(8, 0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = a.AlignedAlloc(3, 8)
	assert.ErrorIs(t, err, ErrInvalidAlignment)

	_, err = a.AlignedAlloc(8, 9)
	assert.ErrorIs(t, err, ErrInvalidAlignment)
}

func TestMallocBoundary(t *testing.T) {
	a := newTestAllocator(t, 1<<16)

	_, err := a.Malloc(TLSFMaxSize + 1)
	assert.ErrorIs(t, err, ErrSizeTooLarge)

	// TLSFMaxSize itself either succeeds or runs out of (tiny, test-sized)
	// arena space, but must never corrupt state either way.
	_, err = a.Malloc(TLSFMaxSize)
	if err != nil {
		assert.ErrorIs(t, err, ErrOutOfMemory)
	}
	require.NoError(t, a.Check())
}

func TestFreeNilIsNoop(t *testing.T) {
	a := newTestAllocator(t, 1<<16)
	a.Free(nil) // must not panic
}

func TestOutOfMemoryLeavesStateUntouched(t *testing.T) {
	a := newTestAllocator(t, 256)

	p, err := a.Malloc(64)
	require.NoError(t, err)

	_, err = a.Malloc(1 << 20)
	assert.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, a.Check())

	// the earlier allocation must still be valid and freeable
	a.Free(p)
	require.NoError(t, a.Check())
}

func TestManySizesRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 1<<22)
	sizes := []int{1, 7, 8, 9, 15, 16, 17, 100, 127, 128, 129, 1000, 4095, 4096, 65536}

	var ptrs []unsafe.Pointer
	for _, s := range sizes {
		p, err := a.Malloc(s)
		require.NoError(t, err, "size=%d", s)
		for i := 0; i < s; i++ {
			*(*byte)(unsafe.Add(p, i)) = byte(s)
		}
		ptrs = append(ptrs, p)
	}
	require.NoError(t, a.Check())

	for i, p := range ptrs {
		s := sizes[i]
		for j := 0; j < s; j++ {
			assert.Equal(t, byte(s), *(*byte)(unsafe.Add(p, j)), "size=%d byte=%d", s, j)
		}
		a.Free(p)
	}
	require.NoError(t, a.Check())
	assert.Equal(t, 0, a.Size())
}

func TestExample(t *testing.T) {
	a := newTestAllocator(t, 32*1024)

	p, err := a.Malloc(460)
	require.NoError(t, err)
	require.NotNil(t, p)

	a.Free(p)
	assert.Equal(t, 0, a.Size())
}

func BenchmarkMallocFree(b *testing.B) {
	sizes := []int{16, 64, 1024, 1 << 20}
	for _, size := range sizes {
		b.Run(sizeLabel(size), func(b *testing.B) {
			a, err := NewAllocator(NewByteResizer(64 << 20))
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				p, err := a.Malloc(size)
				if err != nil {
					b.Fatal(err)
				}
				a.Free(p)
			}
		})
	}
}

func sizeLabel(n int) string {
	switch {
	case n >= 1<<20:
		return "1MiB"
	case n >= 1<<10:
		return "1KiB"
	default:
		return "small"
	}
}
