package pagemap

import (
	"sync"
	"unsafe"
)

// fakePlatform backs reservations with real Go heap memory, mirroring the
// same trick used in internal/addrspace's tests: the pagemap variants only
// need a stable address range they can read/write, never real mmap.
type fakePlatform struct {
	mu    sync.Mutex
	alive [][]byte
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{}
}

func (f *fakePlatform) ReserveAtLeast(minSize uintptr) (uintptr, uintptr, bool) {
	size := minSize
	if size == 0 {
		size = 1
	}
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
