package sizeclass

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizeOfClassOfRoundTrip(t *testing.T) {
	sizes := []uint64{1, 15, 16, 17, 63, 64, 65, 1000, SlabSize - 1, SlabSize,
		SlabSize + 1, SuperslabSize - 1, SuperslabSize, SuperslabSize + 1,
		1 << 30}

	for _, n := range sizes {
		c := ClassOf(n)
		require.GreaterOrEqual(t, SizeOf(c), n, "size class for %d must be >= %d", n, n)
	}
}

func TestClassOfSizeOfIsStable(t *testing.T) {
	total := NumSmallClasses() + NumMediumClasses() + 8
	for c := 0; c < total; c++ {
		sz := SizeOf(Class(c))
		require.Equal(t, Class(c), ClassOf(sz), "class %d round trips through size %d", c, sz)
	}
}

func TestKindBoundaries(t *testing.T) {
	require.Equal(t, Small, KindOf(ClassOf(MinAllocSize)))
	require.Equal(t, Small, KindOf(ClassOf(SlabSize)))
	require.Equal(t, Medium, KindOf(ClassOf(SlabSize+1)))
	require.Equal(t, Large, KindOf(ClassOf(SuperslabSize-1)))
	require.Equal(t, Large, KindOf(ClassOf(SuperslabSize)))
}

func TestLargeExponentRoundTrip(t *testing.T) {
	for b := uint(SuperslabBits); b < SuperslabBits+8; b++ {
		c := ClassForLargeExponent(b)
		require.Equal(t, Large, KindOf(c))
		require.Equal(t, b, LargeExponent(c))
		require.Equal(t, uint64(1)<<b, SizeOf(c))
	}
}

func TestReciprocalDivisionMatchesModulo(t *testing.T) {
	for c := 0; c < NumSmallClasses(); c++ {
		info := InfoOf(Class(c))
		for k := uint64(0); k < 16; k++ {
			n := info.Size * k
			require.True(t, info.IsMultipleOfSize(n), "class %d: %d should be a multiple of %d", c, n, info.Size)
			if n > 0 {
				require.False(t, info.IsMultipleOfSize(n+1), "class %d: %d should not be a multiple of %d", c, n+1, info.Size)
			}
		}
	}
}

func TestDivisorIsSmallAndOdd(t *testing.T) {
	for c := 0; c < NumSmallClasses(); c++ {
		info := InfoOf(Class(c))
		require.Equal(t, uint64(1), info.Divisor%2, "divisor must be odd")
		require.LessOrEqual(t, info.Divisor, uint64(7))
	}
}

func TestRoundUpPow2(t *testing.T) {
	require.Equal(t, uint64(4), RoundUpPow2(3))
	require.Equal(t, uint64(1024), RoundUpPow2(1000))
}
