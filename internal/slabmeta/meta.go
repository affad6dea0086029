// Package slabmeta implements the per-slab bookkeeping of spec §3:
// Metaslab, Superslab, and Mediumslab. All three live inside the raw
// mmap'd memory they describe rather than on the Go heap — Superslab sits
// at the base of the superslab it headers, Mediumslab at the base of the
// medium slab it headers — so their address can be stored as a bare
// uintptr in the pagemap without the Go garbage collector needing to know
// anything about it. internal/slabmeta's pointer_checker enforces this at
// init time: neither struct may contain a field the GC would scan.
package slabmeta

import (
	"github.com/fmstephe/slabmalloc/internal/freelist"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// Per-slab state, spec §4.5's small-slab state machine: Empty (bump,
// nothing carved out yet or everything freed back) -> Active (partially
// used, sits on the size class's active-slab list) -> Full (no free
// objects; removed from the active list) -> back to Active on the first
// local free.
const (
	SlabEmpty uint32 = iota
	SlabActive
	SlabFull
)

// Metaslab is the per-slab record spec §3 describes: free-count,
// size-class, sleeping/full state, and the free list itself. One exists
// per small slab, stored in the owning Superslab's header array; one
// exists per medium slab, stored in that slab's own header.
type Metaslab struct {
	Class    int32
	State    uint32
	Capacity uint32
	Free     freelist.List
}

// Init resets m to describe an empty slab of the given size class, with
// capacity objects available before the first allocation.
func (m *Metaslab) Init(class sizeclass.Class, capacity uint32) {
	m.Class = int32(class)
	m.State = SlabEmpty
	m.Capacity = capacity
	m.Free = freelist.List{}
}

// Outstanding returns the number of objects currently allocated out of
// this slab: capacity minus whatever sits on the free list.
func (m *Metaslab) Outstanding() uint32 {
	return m.Capacity - uint32(m.Free.Len())
}

func init() {
	if err := containsNoPointers[Metaslab](); err != nil {
		panic("slabmeta: Metaslab must contain no GC-visible fields: " + err.Error())
	}
}
