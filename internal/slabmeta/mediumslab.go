package slabmeta

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/freelist"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// Mediumslab is the header spec §3 places at the start of a medium slab's
// own memory: "a whole superslab-sized region holding objects of a single
// medium size-class. Its first page is a header." Medium allocation is
// described as "a pop from a bitmap-like free stack on the slab"; this
// implementation reuses the same intrusive free list internal/freelist
// already provides for small slabs rather than a second, bitmap-shaped
// data structure — the two are observably equivalent LIFO object pools,
// and medium frees are rare enough relative to small ones that the extra
// indirection through a linked list costs nothing that matters.
type Mediumslab struct {
	Owner atomic.Uint64
	Meta  Metaslab
}

func init() {
	if err := containsNoPointers[Mediumslab](); err != nil {
		panic("slabmeta: Mediumslab must contain no GC-visible fields: " + err.Error())
	}
}

// NewMediumslab overlays a Mediumslab header onto base, which must be the
// start of a freshly reserved superslab-sized region, and initializes its
// Metaslab for class.
func NewMediumslab(base uintptr, class sizeclass.Class, capacity uint32) *Mediumslab {
	m := (*Mediumslab)(unsafe.Pointer(base))
	m.Meta.Init(class, capacity)
	return m
}

// PushFree returns addr to this medium slab's free stack.
func (m *Mediumslab) PushFree(addr uintptr, k freelist.Keys) {
	m.Meta.Free.Push(addr, k)
}

// TakeFree pops the next free object off this medium slab's stack.
func (m *Mediumslab) TakeFree(k freelist.Keys) (uintptr, bool) {
	return m.Meta.Free.Take(k)
}
