package slabmalloc_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/fmstephe/slabmalloc"
	"github.com/fmstephe/slabmalloc/alloc"
)

// fakePlatform backs every reservation with real Go heap memory, as the
// alloc package's own tests do, so these tests never touch mmap.
type fakePlatform struct {
	mu    sync.Mutex
	alive [][]byte
}

func newFakePlatform() *fakePlatform { return &fakePlatform{} }

func (f *fakePlatform) ReserveAtLeast(minSize uintptr) (uintptr, uintptr, bool) {
	size := minSize
	if size == 0 {
		size = 1
	}
	buf := make([]byte, size+8192)
	f.mu.Lock()
	f.alive = append(f.alive, buf)
	f.mu.Unlock()
	base := uintptr(unsafe.Pointer(&buf[0]))
	return (base + 4095) &^ 4095, size, true
}

func (f *fakePlatform) ReserveAligned(size uintptr, committed bool) (uintptr, bool) {
	buf := make([]byte, size*2)
	f.mu.Lock()
	f.alive = append(f.alive, buf)
	f.mu.Unlock()
	base := uintptr(unsafe.Pointer(&buf[0]))
	return (base + size - 1) &^ (size - 1), true
}

func (f *fakePlatform) NotifyUsing(base, length uintptr, zero bool) {}
func (f *fakePlatform) NotifyNotUsing(base, length uintptr)         {}

func (f *fakePlatform) Zero(base, length uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(base)), int(length))
	for i := range b {
		b[i] = 0
	}
}

func (f *fakePlatform) RegisterLowMemoryCallback(cb func()) {}
func (f *fakePlatform) Entropy64() uint64                   { return 0x9e3779b97f4a7c15 }
func (f *fakePlatform) Pause()                              {}
func (f *fakePlatform) Tick() uint64                         { return 0 }
func (f *fakePlatform) Error(msg string)                     { panic(msg) }

func newTestHeap() *slabmalloc.Heap {
	return slabmalloc.NewWithConfig(newFakePlatform(), alloc.DefaultConfig())
}

// Calling Heap.Alloc returns a pointer to at least the requested number of
// bytes, which round-trips correctly through Heap.Dealloc and reuse.
func TestHeapAllocDeallocRoundTrip(t *testing.T) {
	h := newTestHeap()

	p := h.Alloc(48)
	require.NotZero(t, p)

	buf := unsafe.Slice((*byte)(unsafe.Pointer(p)), 48)
	for i := range buf {
		buf[i] = byte(i)
	}

	h.Dealloc(p)

	p2 := h.AllocZeroed(48)
	require.Equal(t, p, p2)
	buf2 := unsafe.Slice((*byte)(unsafe.Pointer(p2)), 48)
	for _, b := range buf2 {
		require.Zero(t, b)
	}
}

func TestHeapAllocSizeIsAtLeastRequested(t *testing.T) {
	h := newTestHeap()

	p := h.Alloc(20)
	require.GreaterOrEqual(t, h.AllocSize(p), uint64(20))
}

func TestHeapReallocGrowsAndPreservesContent(t *testing.T) {
	h := newTestHeap()

	p := h.Alloc(16)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(p)), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	grown := h.Realloc(p, 4096)
	require.NotZero(t, grown)

	grownBuf := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 16)
	for i := range grownBuf {
		require.Equal(t, byte(i+1), grownBuf[i])
	}
}

func TestHeapReallocWithinSameClassIsNoop(t *testing.T) {
	h := newTestHeap()

	// 70 bytes rounds up to a size class with slack; requesting a few
	// more bytes, still within that class's actual size, must not move
	// the allocation.
	p := h.Alloc(70)
	classSize := h.AllocSize(p)
	require.Greater(t, classSize, uint64(70))

	same := h.Realloc(p, uintptr(classSize))
	require.Equal(t, p, same)
}

func TestHeapReallocToZeroFrees(t *testing.T) {
	h := newTestHeap()

	p := h.Alloc(32)
	require.Zero(t, h.Realloc(p, 0))

	// The freed slot is available for reuse.
	p2 := h.Alloc(32)
	require.Equal(t, p, p2)
}

func TestHeapReallocFromNilAllocates(t *testing.T) {
	h := newTestHeap()

	p := h.Realloc(0, 64)
	require.NotZero(t, p)
}

// A Handle gives the caller real cross-call locality: repeated Alloc/Dealloc
// through the same Handle reuses the same Allocator's free lists, rather
// than round-tripping through the pool's idle list on every call.
func TestHandleReusesAllocatorAcrossCalls(t *testing.T) {
	h := newTestHeap()
	hd := h.Acquire()
	defer hd.Release()

	p1 := hd.Alloc(32)
	hd.Dealloc(p1)
	p2 := hd.Alloc(32)
	require.Equal(t, p1, p2)
}

// Freeing a pointer through a different Handle than the one that allocated
// it is correct: it is routed through the cross-allocator remote-cache path
// exercised directly in the alloc package's own tests.
func TestHandleCanFreePointerAllocatedByAnotherHandle(t *testing.T) {
	h := newTestHeap()
	producer := h.Acquire()
	consumer := h.Acquire()

	p := producer.Alloc(32)
	require.NotZero(t, p)

	consumer.Dealloc(p)

	// Both allocators must be idle for CleanupUnused to reach the
	// producer's inbox, where the consumer's free landed.
	producer.Release()
	consumer.Release()

	h.CleanupUnused()
	require.True(t, h.DebugCheckEmpty())
}

func TestDeallocOfUnmanagedPointerPanics(t *testing.T) {
	h := newTestHeap()

	stray := make([]byte, 64)
	require.Panics(t, func() {
		h.Dealloc(uintptr(unsafe.Pointer(&stray[0])))
	})
}

// Demonstrate that many goroutines can each acquire their own Handle and
// alloc/dealloc concurrently against a shared Heap. Run with -race.
func TestManyGoroutinesEachWithOwnHandle_Race(t *testing.T) {
	h := newTestHeap()

	barrier := sync.WaitGroup{}
	barrier.Add(1)

	complete := sync.WaitGroup{}
	for i := 0; i < 32; i++ {
		complete.Add(1)
		go func() {
			defer complete.Done()
			barrier.Wait()

			hd := h.Acquire()
			defer hd.Release()

			addrs := make([]uintptr, 0, 256)
			for j := 0; j < 256; j++ {
				addrs = append(addrs, hd.Alloc(32))
			}
			for _, addr := range addrs {
				hd.Dealloc(addr)
			}
		}()
	}

	barrier.Done()
	complete.Wait()
}

// Demonstrate cross-goroutine frees through the shared convenience API:
// each allocation is handed off on a channel and freed by a different
// goroutine than the one that allocated it.
func TestAllocAndShareAcrossGoroutines_Race(t *testing.T) {
	h := newTestHeap()
	shared := make(chan uintptr, 32*64)

	barrier := sync.WaitGroup{}
	barrier.Add(1)
	freed := atomic.Uint64{}

	producers := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			barrier.Wait()
			for j := 0; j < 64; j++ {
				shared <- h.Alloc(48)
			}
		}()
	}

	consumers := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			barrier.Wait()
			for j := 0; j < 64; j++ {
				h.Dealloc(<-shared)
				freed.Add(1)
			}
		}()
	}

	barrier.Done()
	producers.Wait()
	consumers.Wait()

	require.EqualValues(t, 16*64, freed.Load())
}
