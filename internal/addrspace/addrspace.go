// Package addrspace implements the Address-Space Manager of spec §4.1: a
// power-of-two, naturally-aligned region allocator layered over the
// platform's raw reservation call. Regions are never coalesced; only the
// large-object cache layered above (internal/largecache) does any reuse
// beyond simple caching.
package addrspace

import (
	"math/bits"
	"sync"
	"unsafe"

	"github.com/fmstephe/slabmalloc/platform"
)

// maxBits bounds the per-size-bit caches. 2^63 is already absurd for a
// single region; this just sizes the fixed arrays below.
const maxBits = 64

// Manager hands out aligned power-of-two regions from a pool of unmapped
// address space.
type Manager struct {
	platform platform.Provider

	// mu guards single, lists. It is released before any Commit/zero
	// call (the spec's "lock is released before any commit operation").
	mu     sync.Mutex
	single [maxBits]uintptr // one cached block per size-bit, 0 == empty
	lists  [maxBits]uintptr // head of a singly linked list of further blocks
}

// New constructs a Manager backed by p.
func New(p platform.Provider) *Manager {
	return &Manager{platform: p}
}

// Reserve returns a region of size 2^b, aligned to 2^b. If committed is
// true the whole region is committed (readable/writable) before it is
// returned.
func (m *Manager) Reserve(b uint, committed bool) (uintptr, bool) {
	if b >= maxBits {
		return 0, false
	}

	base, ok := m.popCached(b)
	if !ok {
		base, ok = m.splitFromLarger(b)
	}
	if !ok {
		base, ok = m.reserveFromPlatform(b)
	}
	if !ok {
		return 0, false
	}

	if committed {
		m.platform.NotifyUsing(base, uintptr(1)<<b, false)
	}
	return base, true
}

// AddRange decomposes an arbitrary range into its minimal set of
// maximally-aligned power-of-two blocks and registers each in its size's
// cache. This is how leftover slop from a platform reservation, or a
// caller-supplied range, is folded back into the manager.
func (m *Manager) AddRange(base, length uintptr) {
	addr, remaining := base, length
	for remaining > 0 {
		b := maxAlignedBlockBits(addr, remaining)
		m.register(b, addr)
		size := uintptr(1) << b
		addr += size
		remaining -= size
	}
}

func (m *Manager) popCached(b uint) (uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.single[b] != 0 {
		base := m.single[b]
		m.single[b] = 0
		return base, true
	}
	if m.lists[b] != 0 {
		base := m.lists[b]
		m.lists[b] = readNext(base)
		return base, true
	}
	return 0, false
}

// splitFromLarger takes a cached block of size 2^(b+1), itself split out of
// a still larger cached block if none of that size is cached, and splits it
// in half, keeping the upper half cached for a later request of the same
// size. It never asks the platform for memory: it fails when no larger
// block is cached at all.
func (m *Manager) splitFromLarger(b uint) (uintptr, bool) {
	if b+1 >= maxBits {
		return 0, false
	}
	larger, ok := m.popCached(b + 1)
	if !ok {
		larger, ok = m.splitFromLarger(b + 1)
	}
	if !ok {
		return 0, false
	}
	size := uintptr(1) << b
	lower := larger
	upper := larger + size
	m.register(b, upper)
	return lower, true
}

func (m *Manager) reserveFromPlatform(b uint) (uintptr, bool) {
	size := uintptr(1) << b
	base, ok := m.platform.ReserveAligned(size, false)
	if ok {
		return base, true
	}

	// ReserveAligned is an optional capability; fall back to an
	// oversized reservation, fold the slop on either side into our
	// caches via AddRange, and return the aligned block in between.
	rawBase, rawSize, ok := m.platform.ReserveAtLeast(size * 2)
	if !ok {
		return 0, false
	}
	alignedBase := (rawBase + size - 1) &^ (size - 1)
	if head := alignedBase - rawBase; head > 0 {
		m.AddRange(rawBase, head)
	}
	tailStart := alignedBase + size
	if tail := (rawBase + rawSize) - tailStart; tail > 0 {
		m.AddRange(tailStart, tail)
	}
	return alignedBase, true
}

// register adds a block of size 2^b at addr into the cache for that size.
// It takes the lock itself, and drops it around the commit of the block's
// first word.
func (m *Manager) register(b uint, addr uintptr) {
	m.mu.Lock()
	if m.single[b] == 0 {
		m.single[b] = addr
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	// The successor pointer lives in the first word of the block itself,
	// which requires that word to be committed before we can write it.
	m.platform.NotifyUsing(addr, unsafe.Sizeof(uintptr(0)), false)
	m.mu.Lock()
	writeNext(addr, m.lists[b])
	m.lists[b] = addr
	m.mu.Unlock()
}

func readNext(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

func writeNext(addr uintptr, next uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = next
}

// maxAlignedBlockBits returns the largest b such that a block of size 2^b
// starting at addr fits within remaining and addr is 2^b-aligned. This is
// the standard greedy power-of-two range decomposition: the limiting
// factor is whichever is smaller, the alignment of addr or the size of
// remaining.
func maxAlignedBlockBits(addr, remaining uintptr) uint {
	addrBits := uint(64)
	if addr != 0 {
		addrBits = uint(bits.TrailingZeros64(uint64(addr)))
	}
	remBits := uint(bits.Len64(uint64(remaining)) - 1)
	if addrBits < remBits {
		return addrBits
	}
	return remBits
}
