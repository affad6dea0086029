package slabmeta

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/slabmalloc/sizeclass"
)

// Superslab states, spec §3: "recomputed whenever a contained slab
// transitions". Empty is the zero value so a freshly mmap'd (and
// therefore zero-filled) region starts life correctly described, before
// any slab has been carved out of it.
const (
	SuperslabEmpty uint32 = iota
	SuperslabOnlyShortSlabAvailable
	SuperslabAvailable
	SuperslabFull
)

// Superslab is the header that lives at the base of every superslab-sized
// region, inside the region's own first ("short") slab. It owns one
// Metaslab per contained slab, including the short slab itself.
type Superslab struct {
	// Owner identifies the allocator this superslab currently belongs
	// to by its pool-assigned id, a plain integer, not a *Allocator: see
	// the package doc for why nothing in this struct may be a real Go
	// pointer. Zero means unowned (sitting in the global region pool).
	Owner atomic.Uint64
	State atomic.Uint32

	// Extracted counts how many slabs beyond the short slab (index 0)
	// have been carved out and registered so far. Slabs past this
	// count are untouched raw memory and take no part in RecomputeState
	// until ExtractSlab brings them into play.
	Extracted atomic.Uint32

	metas [sizeclass.SuperslabSlabs]Metaslab
}

func init() {
	if err := containsNoPointers[Superslab](); err != nil {
		panic("slabmeta: Superslab must contain no GC-visible fields: " + err.Error())
	}
}

// NewSuperslab overlays a Superslab header onto base, which must be the
// start of a freshly reserved, naturally-aligned superslab-sized region.
// It does not zero the memory: fresh anonymous mmap pages already arrive
// zero-filled, and SuperslabEmpty / SlabEmpty are both the zero value, so
// an untouched region is already a well-formed, empty Superslab.
func NewSuperslab(base uintptr) *Superslab {
	return (*Superslab)(unsafe.Pointer(base))
}

// Meta returns the Metaslab describing the slab at index i (0 is the
// short slab, which shares this superslab's own first slab with the
// header itself).
func (s *Superslab) Meta(i int) *Metaslab {
	return &s.metas[i]
}

// NumSlabs returns how many slabs this superslab is divided into.
func (s *Superslab) NumSlabs() int {
	return len(s.metas)
}

// ExtractSlab claims the next not-yet-carved-out slab (beyond the short
// slab) and initializes its Metaslab for class. Returns the slab index and
// false if every slab in this superslab has already been extracted.
func (s *Superslab) ExtractSlab(class sizeclass.Class, capacity uint32) (int, bool) {
	next := s.Extracted.Add(1)
	idx := int(next) // slabs 1..NumSlabs()-1 are the extractable ones
	if idx >= len(s.metas) {
		s.Extracted.Add(^uint32(0)) // undo: roll back the over-claim
		return 0, false
	}
	s.metas[idx].Init(class, capacity)
	return idx, true
}

// RecomputeState scans every contained Metaslab and updates State to
// match spec §3's four-way classification. This is O(NumSlabs) rather
// than incrementally maintained; it only runs on the slow path where a
// slab transitions between Empty/Active/Full, never on the per-object
// alloc/dealloc fast path, so the scan cost is amortized across an entire
// slab's worth of allocations.
func (s *Superslab) RecomputeState() {
	shortFull := s.metas[0].State == SlabFull
	shortEmpty := s.metas[0].State == SlabEmpty

	extracted := int(s.Extracted.Load())
	if extracted >= len(s.metas) {
		extracted = len(s.metas) - 1
	}

	otherAvailable := 0
	otherFull := 0
	for i := 1; i <= extracted; i++ {
		switch s.metas[i].State {
		case SlabFull:
			otherFull++
		case SlabActive:
			otherAvailable++
		}
	}

	switch {
	case shortEmpty && otherFull == 0 && otherAvailable == 0:
		s.State.Store(SuperslabEmpty)
	case otherAvailable > 0:
		s.State.Store(SuperslabAvailable)
	case !shortFull:
		s.State.Store(SuperslabOnlyShortSlabAvailable)
	default:
		s.State.Store(SuperslabFull)
	}
}
