// Package slabmalloc is the public facade over the allocator core in
// alloc, internal/addrspace, internal/pagemap and internal/largecache. It
// allocates, frees and reports the size of manually managed byte buffers
// that are never visible to the garbage collector — the same shape as
// offheap's facade over pointerstore, generalized from typed Go objects to
// raw size-classed allocations.
//
//	heap := slabmalloc.New()
//	p := heap.Alloc(48)
//	heap.Dealloc(p)
//
// Go has no portable hook for "this OS thread is exiting" and goroutines
// migrate freely between OS threads, so there is no direct analogue of one
// Allocator bound to one thread for the lifetime of that thread. Heap's
// own convenience methods (Alloc, Dealloc, AllocSize, Realloc) check an
// Allocator out of the pool for the duration of a single call and check it
// back in before returning. Callers who want the real locality the core is
// built for — an Allocator whose free lists stay warm across many calls
// from the same goroutine or worker — should call Heap.Acquire once and
// reuse the returned Handle, releasing it only when that worker is done.
// Either way, freeing a pointer through a different Allocator than the one
// that produced it is always correct: that is exactly the cross-allocator
// message-passing path the core implements.
package slabmalloc

import (
	"unsafe"

	"github.com/fmstephe/slabmalloc/alloc"
	"github.com/fmstephe/slabmalloc/internal/platformunix"
	"github.com/fmstephe/slabmalloc/platform"
)

// Heap owns a pool of Allocators and the address space, pagemap and
// large-object cache they share. A Heap is safe for concurrent use by any
// number of goroutines.
type Heap struct {
	pool *alloc.Pool
}

// New returns a Heap backed by real mmap'd memory (internal/platformunix)
// and the default configuration.
func New() *Heap {
	return NewWithConfig(platformunix.New(), alloc.DefaultConfig())
}

// NewWithConfig returns a Heap backed by an arbitrary platform.Provider,
// for tests that want a fake platform or production callers that want a
// non-default Config.
func NewWithConfig(p platform.Provider, cfg alloc.Config) *Heap {
	return &Heap{pool: alloc.NewPool(p, cfg)}
}

// Handle is a single caller's checkout of one Allocator. It is not safe for
// concurrent use — the same single-writer rule the core's Allocator type
// itself documents applies to a Handle.
type Handle struct {
	heap *Heap
	a    *alloc.Allocator
}

// Acquire checks out an Allocator for exclusive use by the caller. The
// returned Handle must be released with Release once the caller is done
// with it; a Handle that is never released simply never returns its
// Allocator to the pool's idle list, it is not leaked memory.
func (h *Heap) Acquire() *Handle {
	return &Handle{heap: h, a: h.pool.Acquire()}
}

// Release posts any pending remote frees this Handle's Allocator has
// queued up for other allocators and returns the Allocator to its Heap's
// idle pool. The Handle must not be used again afterwards.
func (hd *Handle) Release() {
	hd.a.PostRemote()
	hd.heap.pool.Release(hd.a)
	hd.a = nil
}

// Alloc returns a pointer to at least size bytes, uninitialized. The
// result is the absent value (0) on out-of-memory.
func (hd *Handle) Alloc(size uintptr) uintptr {
	return hd.a.Alloc(size, false)
}

// AllocZeroed is Alloc but the returned memory reads as all zero bytes.
func (hd *Handle) AllocZeroed(size uintptr) uintptr {
	return hd.a.Alloc(size, true)
}

// Dealloc frees a pointer previously returned by Alloc/AllocZeroed on any
// Handle drawn from the same Heap. p == 0 is a no-op.
func (hd *Handle) Dealloc(p uintptr) {
	hd.a.Dealloc(p, 0)
}

// DeallocSized is Dealloc with the original allocation size supplied. This
// lets the core skip re-deriving the size class from the pagemap on the
// fast path; size must match the value size was allocated with, or 0.
func (hd *Handle) DeallocSized(p uintptr, size uintptr) {
	hd.a.Dealloc(p, uint64(size))
}

// AllocSize returns the usable size of the allocation at p: the size of
// its size class, always >= the size originally requested.
func (hd *Handle) AllocSize(p uintptr) uint64 {
	return hd.a.AllocSize(p)
}

// Realloc resizes the allocation at p to newSize, preserving its contents
// up to the smaller of the old and new sizes. p == 0 behaves like Alloc;
// newSize == 0 frees p and returns 0. If the current allocation's size
// class already satisfies newSize, p is returned unchanged.
func (hd *Handle) Realloc(p uintptr, newSize uintptr) uintptr {
	if p == 0 {
		return hd.Alloc(newSize)
	}
	if newSize == 0 {
		hd.Dealloc(p)
		return 0
	}

	oldSize := hd.a.AllocSize(p)
	if uintptr(oldSize) >= newSize {
		return p
	}

	next := hd.Alloc(newSize)
	if next == 0 {
		return 0
	}

	src := unsafe.Slice((*byte)(unsafe.Pointer(p)), oldSize)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(next)), oldSize)
	copy(dst, src)

	hd.Dealloc(p)
	return next
}

// Alloc is the Heap-level convenience form of Handle.Alloc: it checks out
// an Allocator, performs the allocation, and checks the Allocator back in
// before returning.
func (h *Heap) Alloc(size uintptr) uintptr {
	hd := h.Acquire()
	defer hd.Release()
	return hd.Alloc(size)
}

// AllocZeroed is the Heap-level convenience form of Handle.AllocZeroed.
func (h *Heap) AllocZeroed(size uintptr) uintptr {
	hd := h.Acquire()
	defer hd.Release()
	return hd.AllocZeroed(size)
}

// Dealloc is the Heap-level convenience form of Handle.Dealloc.
func (h *Heap) Dealloc(p uintptr) {
	hd := h.Acquire()
	defer hd.Release()
	hd.Dealloc(p)
}

// DeallocSized is the Heap-level convenience form of Handle.DeallocSized.
func (h *Heap) DeallocSized(p uintptr, size uintptr) {
	hd := h.Acquire()
	defer hd.Release()
	hd.DeallocSized(p, size)
}

// AllocSize is the Heap-level convenience form of Handle.AllocSize.
func (h *Heap) AllocSize(p uintptr) uint64 {
	hd := h.Acquire()
	defer hd.Release()
	return hd.AllocSize(p)
}

// Realloc is the Heap-level convenience form of Handle.Realloc.
func (h *Heap) Realloc(p uintptr, newSize uintptr) uintptr {
	hd := h.Acquire()
	defer hd.Release()
	return hd.Realloc(p, newSize)
}

// CleanupUnused drains every idle Allocator's inbox and posts its
// outstanding remote frees, converging until no further messages are
// produced, and sweeps fully-empty superslabs back to the shared
// large-object cache.
// Intended for use between test cases and by long-running hosts during
// idle periods; never required for correctness.
func (h *Heap) CleanupUnused() {
	h.pool.CleanupUnused()
}

// DebugCheckEmpty reports whether every Allocator in the Heap has no
// outstanding allocations once fully drained. Test-only.
func (h *Heap) DebugCheckEmpty() bool {
	return h.pool.DebugCheckEmpty()
}
