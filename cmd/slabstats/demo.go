package main

import (
	"fmt"

	"github.com/fmstephe/slabmalloc"
)

// runDemo exercises a real Heap against real mmap'd memory: a handful of
// small, medium and large allocations, freed out of order, followed by
// CleanupUnused and a report of whether every allocator drained back to
// empty.
func runDemo() {
	h := slabmalloc.New()

	sizes := []uintptr{24, 4096, 1 << 17, 1 << 25}
	addrs := make([]uintptr, len(sizes))

	hd := h.Acquire()

	for i, size := range sizes {
		addrs[i] = hd.Alloc(size)
		fmt.Printf("alloc(%d) -> %#x, class size %d\n", size, addrs[i], hd.AllocSize(addrs[i]))
	}

	for i := len(addrs) - 1; i >= 0; i-- {
		hd.Dealloc(addrs[i])
	}

	hd.Release()
	h.CleanupUnused()
	fmt.Printf("all allocators empty after cleanup: %v\n", h.DebugCheckEmpty())
}
