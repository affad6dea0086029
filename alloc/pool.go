package alloc

import (
	"sync"
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/mpsc"
	"github.com/fmstephe/slabmalloc/internal/pagemap"
	"github.com/fmstephe/slabmalloc/internal/slabmeta"
	"github.com/fmstephe/slabmalloc/platform"
)

// Pool lifetime-manages the set of per-thread Allocators of spec §4.9:
// Acquire hands one out, Release marks it idle without destroying it, so a
// later Acquire can hand the same Allocator — its live slabs and pending
// remote frees intact — back out to a different thread instead of a
// freshly spawned one starting cold.
type Pool struct {
	shared *Shared

	mu         sync.RWMutex
	allocators []*Allocator
	idle       []uint64
}

// NewPool constructs a Pool backed by platform p and cfg.
func NewPool(p platform.Provider, cfg Config) *Pool {
	return &Pool{shared: NewShared(p, cfg)}
}

// Acquire returns an idle allocator if one exists, otherwise constructs a
// new one and appends it to the pool's arena.
func (pl *Pool) Acquire() *Allocator {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	if n := len(pl.idle); n > 0 {
		id := pl.idle[n-1]
		pl.idle = pl.idle[:n-1]
		return pl.allocators[id]
	}

	id := uint64(len(pl.allocators))
	a := newAllocator(id, pl.shared, pl)
	pl.allocators = append(pl.allocators, a)
	return a
}

// Release marks a idle. Its slabs, message queue, and outstanding remote
// frees all survive for whichever future Acquire picks it back up.
func (pl *Pool) Release(a *Allocator) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.idle = append(pl.idle, a.id)
}

// ResolveQueue implements remotecache.Resolver: it follows the pagemap from
// a freed object back to its owning superslab or medium slab, reads the
// stable allocator id stored in that slab's header, and indexes into the
// pool's allocator arena to reach the live (GC-visible) Allocator and its
// inbox — the arena-indexed reference spec §9 asks for in place of a raw,
// possibly-dangling allocator pointer.
func (pl *Pool) ResolveQueue(addr uintptr) *mpsc.Queue {
	tag, header := pl.shared.Pagemap.Get(addr)
	var owner uint64
	switch tag {
	case pagemap.SuperslabTag:
		owner = (*slabmeta.Superslab)(unsafe.Pointer(header)).Owner.Load()
	case pagemap.MediumslabTag:
		owner = (*slabmeta.Mediumslab)(unsafe.Pointer(header)).Owner.Load()
	default:
		panic("alloc: remote message resolves to neither a superslab nor a medium slab")
	}

	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return pl.allocators[owner].Inbox()
}

// CleanupUnused walks every idle allocator, first posting every one's
// outbound remote batches, then draining each inbox and sweeping
// emptied-out superslabs back to the shared large-object cache, repeating
// until a full pass drains and sweeps nothing — spec §4.9's debug
// convergence loop.
func (pl *Pool) CleanupUnused() {
	pl.mu.RLock()
	idleIDs := append([]uint64(nil), pl.idle...)
	pl.mu.RUnlock()

	for {
		progress := false
		for _, id := range idleIDs {
			pl.allocators[id].PostRemote()
		}
		for _, id := range idleIDs {
			a := pl.allocators[id]
			if n := a.drainInboxAll(); n > 0 {
				progress = true
			}
			if n := a.ReturnEmptySuperslabs(); n > 0 {
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// DebugCheckEmpty asserts every tracked allocator's slab bookkeeping shows
// zero outstanding objects. For tests only.
func (pl *Pool) DebugCheckEmpty() bool {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	for _, a := range pl.allocators {
		if !a.DebugCheckEmpty() {
			return false
		}
	}
	return true
}

// NumAllocators reports how many allocators the pool has ever constructed,
// for diagnostics.
func (pl *Pool) NumAllocators() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.allocators)
}
