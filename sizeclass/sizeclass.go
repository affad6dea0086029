// Package sizeclass implements the compile-time size-class tables of spec
// §3 and §4.4: dense small integers indexing a monotonic sequence of
// allocation sizes, split into small (<= one slab), medium (one slab to one
// superslab) and large (powers of two >= one superslab) ranges.
//
// Size->class and class->size are total functions on the positive integers
// and satisfy, for every class c and every size n:
//
//	SizeOf(ClassOf(n)) >= n
//	ClassOf(SizeOf(c)) == c
package sizeclass

import (
	"math/bits"

	"github.com/fmstephe/flib/fmath"
)

const (
	// PointerBits is log2(8), the width of a pointer on every platform
	// this allocator targets.
	PointerBits = 3

	// MinAllocBits is the minimum allocation size: two pointer widths,
	// enough to hold a free-list next pointer and a signed predecessor.
	MinAllocBits = PointerBits + 1
	MinAllocSize = 1 << MinAllocBits

	// IntermediateBits controls how many extra size classes exist per
	// octave (power-of-two doubling) beyond the minimum. The spec caps
	// this at 2 so that every class's size/alignment ratio is one of
	// {1, 3, 5, 7}, which keeps the reciprocal-division constants cheap
	// to compute with a 5-step Newton iteration (see modinverse.go).
	IntermediateBits    = 2
	IntermediateClasses = 1 << IntermediateBits

	// SlabBits/SlabSize: one small slab. A superslab is SuperslabSlabs
	// slab-sized slots: the first is the abbreviated "short" slab that
	// shares its space with the superslab header, the rest are full-size.
	SlabBits = 16
	SlabSize = 1 << SlabBits

	SuperslabSlabs     = 64
	superslabShiftBits = 6 // log2(SuperslabSlabs)
	SuperslabBits      = SlabBits + superslabShiftBits
	SuperslabSize      = 1 << SuperslabBits

	// MaxSizeClassBits bounds the large-class range to a 48-bit address
	// space assumption (the canonical VA width on the platforms this
	// targets); see internal/pagemap's flat variant for the same
	// assumption.
	MaxSizeClassBits = 47

	firstBucketBits = MinAllocBits + IntermediateBits
)

// Kind discriminates which of the three allocation paths (§4.5) a class
// belongs to.
type Kind uint8

const (
	Small Kind = iota
	Medium
	Large
)

func (k Kind) String() string {
	switch k {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// Class is a dense, small, non-negative integer identifying one size class.
type Class int

// Info describes everything about one size class needed by the allocator
// and pagemap: its size, its natural alignment, and the reciprocal-division
// constants used to test "is this offset a multiple of this class's size"
// without a 64-bit division (spec §4.4).
type Info struct {
	Size    uint64
	Align   uint64 // natural alignment, power of two
	Divisor uint64 // Size / Align, always odd
	Inverse uint64 // modular inverse of Divisor mod 2^64
	Limit   uint64 // floor((2^64-1) / Divisor): n is a multiple of Divisor iff n*Inverse <= Limit
}

// IsMultipleOfSize reports whether n is an exact multiple of this class's
// size, using the reciprocal-multiplication trick instead of a division.
func (in Info) IsMultipleOfSize(n uint64) bool {
	if in.Align != 0 && n%in.Align != 0 {
		return false
	}
	q := n / in.Align
	return (q * in.Inverse) <= in.Limit
}

var (
	smallClasses  []Info
	mediumClasses []Info

	largeBase int // global Class index of the first large class (exponent SuperslabBits)
)

func init() {
	smallClasses = buildClasses(MinAllocSize, SlabSize)
	mediumClasses = buildClasses(SlabSize, SuperslabSize)
	// buildClasses always ends on hiBound, but a superslab-sized request
	// is the first large class, so the medium table stops just below it.
	mediumClasses = mediumClasses[:len(mediumClasses)-1]
	largeBase = len(smallClasses) + len(mediumClasses)
}

// buildClasses generates the ascending size table covering (loBound,
// hiBound] using the bucket + intermediate-step construction described in
// spec §4.4: within each power-of-two bucket there are IntermediateClasses
// evenly spaced sizes, which is what keeps every class's size/alignment
// ratio in {1, 3, 5, 7} for IntermediateBits == 2.
func buildClasses(loBound, hiBound uint64) []Info {
	var sizes []uint64
	if loBound == MinAllocSize {
		sizes = append(sizes, MinAllocSize)
	}

	start := loBound
	if start < 1<<firstBucketBits {
		start = 1 << firstBucketBits
	}
	// Round start up to the containing bucket's base.
	bucketBits := bits.Len64(start - 1)
	base := uint64(1) << bucketBits
	if base < start {
		base <<= 1
	}

	for ; base <= hiBound; base <<= 1 {
		step := base >> IntermediateBits
		for i := uint64(0); i < IntermediateClasses; i++ {
			sz := base + i*step
			if sz <= loBound {
				continue
			}
			if sz > hiBound {
				break
			}
			if len(sizes) > 0 && sz <= sizes[len(sizes)-1] {
				continue
			}
			sizes = append(sizes, sz)
		}
	}

	if len(sizes) == 0 || sizes[len(sizes)-1] != hiBound {
		sizes = append(sizes, hiBound)
	}

	classes := make([]Info, len(sizes))
	for i, sz := range sizes {
		classes[i] = newInfo(sz)
	}
	return classes
}

func newInfo(sz uint64) Info {
	align := sz & (-sz)
	if align == 0 {
		align = sz
	}
	divisor := sz / align
	inv := modInverseOdd(divisor)
	limit := ^uint64(0) / divisor
	return Info{
		Size:    sz,
		Align:   align,
		Divisor: divisor,
		Inverse: inv,
		Limit:   limit,
	}
}

// NumSmallClasses is the number of small size classes.
func NumSmallClasses() int { return len(smallClasses) }

// NumMediumClasses is the number of medium size classes.
func NumMediumClasses() int { return len(mediumClasses) }

// ClassOf returns the smallest size class whose size is >= n.
func ClassOf(n uint64) Class {
	if n <= SlabSize {
		if n <= MinAllocSize {
			return 0
		}
		return Class(classOfIn(smallClasses, n))
	}
	if n <= mediumClasses[len(mediumClasses)-1].Size {
		return Class(len(smallClasses) + classOfIn(mediumClasses, n))
	}
	b := uint(bits.Len64(n - 1))
	if b < SuperslabBits {
		b = SuperslabBits
	}
	if b > MaxSizeClassBits {
		b = MaxSizeClassBits
	}
	return Class(largeBase + int(b-SuperslabBits))
}

// classOfIn finds the first index whose size is >= n via binary search.
// table is tiny (bounded by SlabBits * IntermediateClasses entries), so
// this is a handful of iterations rather than a true O(1) bucket
// computation — simple and correct by construction against table (which
// is sorted ascending), without a hand-derived bucket formula that could
// drift from the table it's meant to mirror.
func classOfIn(table []Info, n uint64) int {
	lo, hi := 0, len(table)
	for lo < hi {
		mid := (lo + hi) / 2
		if table[mid].Size >= n {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo == len(table) {
		lo = len(table) - 1
	}
	return lo
}

// SizeOf returns the allocation size backing class c.
func SizeOf(c Class) uint64 {
	idx := int(c)
	if idx < len(smallClasses) {
		return smallClasses[idx].Size
	}
	idx -= len(smallClasses)
	if idx < len(mediumClasses) {
		return mediumClasses[idx].Size
	}
	idx -= len(mediumClasses)
	return uint64(1) << (SuperslabBits + idx)
}

// InfoOf returns the full Info record for a small or medium class. Large
// classes have no Info (they are a bare power of two); callers must check
// KindOf first.
func InfoOf(c Class) Info {
	idx := int(c)
	if idx < len(smallClasses) {
		return smallClasses[idx]
	}
	idx -= len(smallClasses)
	if idx < len(mediumClasses) {
		return mediumClasses[idx]
	}
	panic("sizeclass: InfoOf called on a large class")
}

// KindOf reports which allocation path handles class c.
func KindOf(c Class) Kind {
	idx := int(c)
	if idx < len(smallClasses) {
		return Small
	}
	idx -= len(smallClasses)
	if idx < len(mediumClasses) {
		return Medium
	}
	return Large
}

// LargeExponent returns b such that SizeOf(c) == 1<<b. Only valid for large
// classes.
func LargeExponent(c Class) uint {
	if KindOf(c) != Large {
		panic("sizeclass: LargeExponent called on a non-large class")
	}
	return SuperslabBits + uint(int(c)-largeBase)
}

// ClassForLargeExponent is the inverse of LargeExponent.
func ClassForLargeExponent(b uint) Class {
	return Class(largeBase + int(b-SuperslabBits))
}

// RoundUpPow2 rounds n up to the next power of two, using the teacher's own
// fmath helper (the same function offheap/internal/pointerstore uses to
// size objects and slabs).
func RoundUpPow2(n uint64) uint64 {
	return uint64(fmath.NxtPowerOfTwo(int64(n)))
}
