package pagemap

import (
	"sync/atomic"
	"unsafe"

	"github.com/fmstephe/slabmalloc/platform"
)

const (
	nodeStateEmpty uint32 = iota
	nodeStateLocked
	nodeStatePopulated
)

// treeNodeBits is the fan-out of the root level: 2^treeNodeBits entries,
// each lazily pointing at a leaf array of slots. A fixed two-level tree
// (root -> leaf) is enough fan-out for the address ranges this allocator
// targets and keeps lookup cost to two indexed dereferences, matching "a
// fixed number of levels determined at compile time" from spec §4.2.
const treeNodeBits = 13

// TreeMap is the "fixed-fan-out prefix tree" pagemap variant of spec §4.2.
// Interior (here: leaf-array) allocation is lazy, guarded per root slot by
// a lock word that cycles Empty -> Locked -> Populated; racing installers
// spin on Locked using the platform's pause hint.
type TreeMap struct {
	platform        platform.Provider
	granularityBits uint
	leafBits        uint // each leaf array holds 2^leafBits slots

	root []treeEntry
}

type treeEntry struct {
	state atomic.Uint32
	child atomic.Uintptr
}

// NewTreeMap builds a tree pagemap covering addressBits of address space at
// granularityBits granularity.
func NewTreeMap(p platform.Provider, addressBits, granularityBits uint) *TreeMap {
	indexBits := addressBits - granularityBits
	rootBits := treeNodeBits
	if uint(rootBits) > indexBits {
		rootBits = int(indexBits)
	}
	leafBits := indexBits - uint(rootBits)

	return &TreeMap{
		platform:        p,
		granularityBits: granularityBits,
		leafBits:        leafBits,
		root:            make([]treeEntry, uintptr(1)<<uint(rootBits)),
	}
}

func (m *TreeMap) split(addr uintptr) (rootIdx, leafIdx uintptr) {
	idx := addr >> m.granularityBits
	leafSize := uintptr(1) << m.leafBits
	rootIdx = (idx / leafSize) % uintptr(len(m.root))
	leafIdx = idx % leafSize
	return rootIdx, leafIdx
}

// ensureLeaf returns the base address of the leaf slot array for rootIdx,
// allocating it on first use. This is the only place contention occurs:
// once a leaf exists it is read with a single relaxed atomic load forever
// after.
func (m *TreeMap) ensureLeaf(rootIdx uintptr) uintptr {
	e := &m.root[rootIdx]
	for {
		switch e.state.Load() {
		case nodeStatePopulated:
			return e.child.Load()
		case nodeStateLocked:
			m.platform.Pause()
		case nodeStateEmpty:
			if e.state.CompareAndSwap(nodeStateEmpty, nodeStateLocked) {
				leafSize := (uintptr(1) << m.leafBits) * slotSize
				base, _, ok := m.platform.ReserveAtLeast(leafSize)
				if !ok {
					m.platform.Error("pagemap: failed to reserve tree leaf")
				}
				m.platform.NotifyUsing(base, leafSize, true)
				e.child.Store(base)
				e.state.Store(nodeStatePopulated)
				return base
			}
			// Lost the race to install this leaf; spin back
			// around and observe whatever the winner does.
		}
	}
}

func (m *TreeMap) slotAt(addr uintptr) *slot {
	rootIdx, leafIdx := m.split(addr)
	leafBase := m.ensureLeaf(rootIdx)
	return (*slot)(unsafe.Pointer(leafBase + leafIdx*slotSize))
}

func (m *TreeMap) Get(addr uintptr) (uint8, uintptr) {
	s := m.slotAt(addr)
	return uint8(s.tag.Load()), s.header.Load()
}

func (m *TreeMap) Set(addr uintptr, tag uint8, header uintptr) {
	s := m.slotAt(addr)
	s.header.Store(header)
	s.tag.Store(uint32(tag))
}

func (m *TreeMap) SetRange(addr uintptr, tag uint8, header uintptr, count uintptr) {
	step := uintptr(1) << m.granularityBits
	for i := uintptr(0); i < count; i++ {
		m.Set(addr+i*step, tag, header)
	}
}

func (m *TreeMap) Config() Config {
	return newConfig(false, uint64(m.granularityBits), slotSize)
}
