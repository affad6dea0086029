package pagemap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatMapRoundTrip(t *testing.T) {
	m := NewFlatMap(newFakePlatform(), 32, 16)

	addr := m.base + (5 << 16)
	tag, header := m.Get(addr)
	require.Equal(t, NotOurs, tag, "untouched slot must default to NotOurs")
	require.Zero(t, header)

	m.Set(addr, SuperslabTag, 0xcafe)
	gotTag, gotHeader := m.Get(addr)
	require.Equal(t, SuperslabTag, gotTag)
	require.EqualValues(t, 0xcafe, gotHeader)

	// Any address within the same granularity-sized region maps to the
	// same slot.
	tag2, header2 := m.Get(addr + 17)
	require.Equal(t, gotTag, tag2)
	require.Equal(t, gotHeader, header2)
}

func TestFlatMapSetRangeCoversEveryGranule(t *testing.T) {
	m := NewFlatMap(newFakePlatform(), 32, 16)

	base := m.base + (2 << 16)
	m.SetRange(base, MediumslabTag, 0x1234, 4)

	for i := uintptr(0); i < 4; i++ {
		tag, header := m.Get(base + i*(1<<16))
		require.Equal(t, MediumslabTag, tag)
		require.EqualValues(t, 0x1234, header)
	}

	// One granule past the range must be untouched.
	tag, _ := m.Get(base + 4*(1<<16))
	require.Equal(t, NotOurs, tag)
}

func TestTreeMapRoundTrip(t *testing.T) {
	m := NewTreeMap(newFakePlatform(), 40, 16)

	addr := uintptr(7) << 16
	tag, _ := m.Get(addr)
	require.Equal(t, NotOurs, tag)

	m.Set(addr, SuperslabTag, 0xbeef)
	gotTag, gotHeader := m.Get(addr)
	require.Equal(t, SuperslabTag, gotTag)
	require.EqualValues(t, 0xbeef, gotHeader)
}

func TestTreeMapSetRangeCoversEveryGranule(t *testing.T) {
	m := NewTreeMap(newFakePlatform(), 40, 16)

	base := uintptr(9) << 16
	m.SetRange(base, MediumslabTag, 0x5555, 3)

	for i := uintptr(0); i < 3; i++ {
		tag, header := m.Get(base + i*(1<<16))
		require.Equal(t, MediumslabTag, tag)
		require.EqualValues(t, 0x5555, header)
	}
}

func TestTreeMapConcurrentFirstTouchIsSafe(t *testing.T) {
	m := NewTreeMap(newFakePlatform(), 40, 16)

	// Many goroutines racing to install the same lazily-allocated leaf
	// must all observe a consistent, single allocation.
	addr := uintptr(3) << 16

	var wg sync.WaitGroup
	results := make([]uintptr, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.slotAt(addr).header.Load() // forces ensureLeaf
			_ = results[i]
		}(i)
	}
	wg.Wait()

	rootIdx, _ := m.split(addr)
	require.Equal(t, nodeStatePopulated, m.root[rootIdx].state.Load())
}

func TestConfigChecksumAgreesOnEqualLayout(t *testing.T) {
	flat := NewFlatMap(newFakePlatform(), 32, 16)
	tree := NewTreeMap(newFakePlatform(), 32, 16)

	flatCfg := flat.Config()
	treeCfg := tree.Config()

	require.False(t, flatCfg.CompatibleWith(treeCfg), "flat and tree variants must not claim ABI compatibility")

	flatCfg2 := flat.Config()
	require.True(t, flatCfg.CompatibleWith(flatCfg2))
}

func TestLargeTagHelpersRoundTrip(t *testing.T) {
	for b := uint(22); b < 40; b++ {
		head := LargeHeadTag(b)
		gotB, ok := IsLargeHead(head)
		require.True(t, ok)
		require.Equal(t, b, gotB)

		interior := LargeInteriorTag(b)
		gotB2, ok2 := IsLargeInterior(interior)
		require.True(t, ok2)
		require.Equal(t, b, gotB2)

		_, notHead := IsLargeHead(interior)
		require.False(t, notHead)
		_, notInterior := IsLargeInterior(head)
		require.False(t, notInterior)
	}
}
