package addrspace

import (
	"sync"
	"unsafe"
)

// fakePlatform is a minimal in-process platform.Provider for testing: it
// backs "reservations" with real Go heap memory so tests can run without
// mmap. This is sufficient for addrspace, which never assumes anything
// about the memory's origin beyond "a stable address I can write to once
// committed".
type fakePlatform struct {
	mu    sync.Mutex
	alive [][]byte // keep slices alive so the backing arrays aren't GC'd
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{}
}

func (f *fakePlatform) ReserveAtLeast(minSize uintptr) (uintptr, uintptr, bool) {
	size := minSize
	if size == 0 {
		size = 1
	}
	// Over-allocate so we can find a naturally aligned sub-region for
	// callers that need one, mirroring what a real mmap-based platform
	// would hand back (page aligned, not necessarily size aligned).
	buf := make([]byte, size+4096)
	f.mu.Lock()
	f.alive = append(f.alive, buf)
	f.mu.Unlock()
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + 4095) &^ 4095
	return aligned, size, true
}

func (f *fakePlatform) ReserveAligned(size uintptr, committed bool) (uintptr, bool) {
	buf := make([]byte, size*2)
	f.mu.Lock()
	f.alive = append(f.alive, buf)
	f.mu.Unlock()
	base := uintptr(unsafe.Pointer(&buf[0]))
	aligned := (base + size - 1) &^ (size - 1)
	return aligned, true
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
