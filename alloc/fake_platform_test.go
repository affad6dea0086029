package alloc

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// fakePlatform backs every reservation with real Go heap memory, the same
// trick internal/addrspace, internal/pagemap and internal/largecache's own
// tests use: the alloc package only needs a stable, writable address range,
// never real mmap.
type fakePlatform struct {
	mu      sync.Mutex
	alive   [][]byte
	entropy atomic.Uint64
}

func newFakePlatform() *fakePlatform {
	f := &fakePlatform{}
	f.entropy.Store(0x9e3779b97f4a7c15)
	return f
}

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

// Entropy64 hands out a distinct value per call so each allocator built in
// a test gets distinct freelist.Keys — a repeated constant would make two
// allocators' XOR/sign encoding collide.
func (f *fakePlatform) Entropy64() uint64 {
	v := f.entropy.Load()
	next := v*6364136223846793005 + 1442695040888963407
	f.entropy.Store(next)
	return v
}

func (f *fakePlatform) Pause()          {}
func (f *fakePlatform) Tick() uint64    { return 0 }
func (f *fakePlatform) Error(msg string) { panic(msg) }
