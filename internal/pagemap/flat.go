package pagemap

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/slabmalloc/platform"
)

// slotSize is the per-slot footprint: a 4 byte tag plus an 8 byte header,
// padded to 16 bytes so atomic.Uintptr's natural alignment requirement is
// always satisfied regardless of where the slab begins.
const slotSize = 16

type slot struct {
	tag    atomic.Uint32
	header atomic.Uintptr
}

// FlatMap is the "fully reserved array" pagemap variant of spec §4.2: it
// reserves (but does not commit) 2^(addressBits-granularityBits) slots and
// relies on the OS to populate pages on demand as Set touches them. This
// mirrors pointerstore.Store's own "reserve big, grow lazily" discipline,
// just keyed by address instead of allocation index.
type FlatMap struct {
	platform        platform.Provider
	base            uintptr
	granularityBits uint
	indexMask       uintptr

	// committed tracks which OS pages of the slot array have already
	// been made writable, so repeat Set calls on the same region don't
	// re-issue mprotect. Guarded by commitMu; reads outside the lock
	// are safe because a missed cache entry only costs a redundant (but
	// harmless) NotifyUsing call.
	commitMu  chanMutex
	committed map[uintptr]struct{}
}

// chanMutex is a trivial non-reentrant lock; pagemap commit races are rare
// (first touch of a new superslab-sized region only) so a channel-based
// mutex keeps this file free of an extra sync import alias.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (c chanMutex) Lock()   { <-c }
func (c chanMutex) Unlock() { c <- struct{}{} }

// NewFlatMap reserves a flat pagemap covering addressBits of address space
// at granularityBits granularity (normally sizeclass.SuperslabBits).
func NewFlatMap(p platform.Provider, addressBits, granularityBits uint) *FlatMap {
	numSlots := uintptr(1) << (addressBits - granularityBits)
	totalSize := numSlots * slotSize

	base, _, ok := p.ReserveAtLeast(totalSize)
	if !ok {
		panic("pagemap: failed to reserve flat map address space")
	}

	return &FlatMap{
		platform:        p,
		base:            base,
		granularityBits: granularityBits,
		indexMask:       numSlots - 1,
		commitMu:        newChanMutex(),
		committed:       make(map[uintptr]struct{}),
	}
}

func (m *FlatMap) indexOf(addr uintptr) uintptr {
	return (addr >> m.granularityBits) & m.indexMask
}

func (m *FlatMap) slotAddr(idx uintptr) uintptr {
	return m.base + idx*slotSize
}

func (m *FlatMap) ensureCommitted(slotBase uintptr) {
	pageSize := uintptr(4096)
	page := slotBase &^ (pageSize - 1)

	m.commitMu.Lock()
	_, done := m.committed[page]
	if !done {
		m.committed[page] = struct{}{}
	}
	m.commitMu.Unlock()

	if !done {
		m.platform.NotifyUsing(page, pageSize, true)
	}
}

func (m *FlatMap) slotAt(addr uintptr) *slot {
	idx := m.indexOf(addr)
	slotBase := m.slotAddr(idx)
	m.ensureCommitted(slotBase)
	return (*slot)(unsafe.Pointer(slotBase))
}

func (m *FlatMap) Get(addr uintptr) (uint8, uintptr) {
	s := m.slotAt(addr)
	return uint8(s.tag.Load()), s.header.Load()
}

func (m *FlatMap) Set(addr uintptr, tag uint8, header uintptr) {
	s := m.slotAt(addr)
	// Publish header before tag: a reader that observes a non-NotOurs
	// tag must see a fully initialised header.
	s.header.Store(header)
	s.tag.Store(uint32(tag))
}

func (m *FlatMap) SetRange(addr uintptr, tag uint8, header uintptr, count uintptr) {
	step := uintptr(1) << m.granularityBits
	for i := uintptr(0); i < count; i++ {
		m.Set(addr+i*step, tag, header)
	}
}

func (m *FlatMap) Config() Config {
	return newConfig(true, uint64(m.granularityBits), slotSize)
}
