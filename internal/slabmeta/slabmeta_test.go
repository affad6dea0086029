package slabmeta

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/fmstephe/slabmalloc/internal/freelist"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// regionFor allocates real Go heap memory shaped like a freshly mmap'd,
// zero-filled region of size n, returning its base address. Tests overlay
// Superslab/Mediumslab headers onto it exactly as the real allocator
// overlays them onto mmap'd memory.
func regionFor(n uintptr) uintptr {
	buf := make([]byte, n)
	return uintptr(unsafe.Pointer(&buf[0]))
}

func TestFreshSuperslabStartsEmpty(t *testing.T) {
	base := regionFor(uintptr(sizeclass.SuperslabSize))
	s := NewSuperslab(base)

	require.EqualValues(t, SuperslabEmpty, s.State.Load())
	require.EqualValues(t, 0, s.Owner.Load())
	require.Equal(t, sizeclass.SuperslabSlabs, s.NumSlabs())
}

func TestExtractSlabInitializesMetaslabAndAdvancesCount(t *testing.T) {
	base := regionFor(uintptr(sizeclass.SuperslabSize))
	s := NewSuperslab(base)

	idx, ok := s.ExtractSlab(sizeclass.Class(2), 100)
	require.True(t, ok)
	require.Equal(t, 1, idx)
	require.EqualValues(t, 2, s.Meta(idx).Class)
	require.EqualValues(t, 100, s.Meta(idx).Capacity)
	require.EqualValues(t, SlabEmpty, s.Meta(idx).State)
}

func TestExtractSlabFailsOnceExhausted(t *testing.T) {
	base := regionFor(uintptr(sizeclass.SuperslabSize))
	s := NewSuperslab(base)

	var lastOK bool
	for i := 0; i < sizeclass.SuperslabSlabs+5; i++ {
		_, ok := s.ExtractSlab(sizeclass.Class(0), 10)
		lastOK = ok
		if !ok {
			break
		}
	}
	require.False(t, lastOK)

	// Every index past the short slab should now be initialized.
	for i := 1; i < s.NumSlabs(); i++ {
		require.EqualValues(t, SlabEmpty, s.Meta(i).State)
	}
}

func TestRecomputeStateTracksShortAndExtractedSlabs(t *testing.T) {
	base := regionFor(uintptr(sizeclass.SuperslabSize))
	s := NewSuperslab(base)

	// Nothing extracted, short slab untouched (Empty): whole superslab
	// is Empty.
	s.RecomputeState()
	require.EqualValues(t, SuperslabEmpty, s.State.Load())

	// Short slab becomes active (first object allocated from it).
	s.Meta(0).State = SlabActive
	s.RecomputeState()
	require.EqualValues(t, SuperslabOnlyShortSlabAvailable, s.State.Load())

	// Extract a second slab; while it's not full, the superslab is
	// "Available" (has spare capacity beyond the short slab).
	idx, ok := s.ExtractSlab(sizeclass.Class(3), 50)
	require.True(t, ok)
	s.Meta(idx).State = SlabActive
	s.RecomputeState()
	require.EqualValues(t, SuperslabAvailable, s.State.Load())

	// Fill both the short slab and the extracted slab: Full.
	s.Meta(0).State = SlabFull
	s.Meta(idx).State = SlabFull
	s.RecomputeState()
	require.EqualValues(t, SuperslabFull, s.State.Load())
}

func TestMetaslabOutstandingTracksFreeListLength(t *testing.T) {
	var m Metaslab
	m.Init(sizeclass.Class(0), 4)
	require.EqualValues(t, 4, m.Outstanding())

	addrs := []uintptr{regionFor(64), regionFor(64)}
	k := freelist.Keys{}
	for _, a := range addrs {
		m.Free.Push(a, k)
	}
	require.EqualValues(t, 2, m.Outstanding())
}

func TestMediumslabPushTakeRoundTrip(t *testing.T) {
	base := regionFor(uintptr(sizeclass.SuperslabSize))
	ms := NewMediumslab(base, sizeclass.Class(10), 8)

	k := freelist.Keys{}
	obj := regionFor(uintptr(sizeclass.SuperslabSize))
	ms.PushFree(obj, k)

	got, ok := ms.TakeFree(k)
	require.True(t, ok)
	require.Equal(t, obj, got)

	_, ok = ms.TakeFree(k)
	require.False(t, ok)
}

func TestHeaderStructsContainNoGCVisiblePointers(t *testing.T) {
	require.NoError(t, containsNoPointers[Superslab]())
	require.NoError(t, containsNoPointers[Mediumslab]())
	require.NoError(t, containsNoPointers[Metaslab]())
}

func TestPointerCheckerRejectsRealPointerField(t *testing.T) {
	type withPointer struct {
		X *int
	}
	require.Error(t, containsNoPointers[withPointer]())
}
