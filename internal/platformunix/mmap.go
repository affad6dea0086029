// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package platformunix implements platform.Provider on top of
// golang.org/x/sys/unix, the same dependency and the same mmap/munmap idiom
// used by offheap/internal/pointerstore/mmap.go in the teacher repo.
package platformunix

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Unix is the default, production platform.Provider. Its zero value is not
// usable; construct with New.
type Unix struct {
	lowMemMu  sync.Mutex
	lowMemCbs []func()
	pollOnce  sync.Once
}

// New returns a ready-to-use Unix platform provider.
func New() *Unix {
	return &Unix{}
}

func (u *Unix) ReserveAtLeast(minSize uintptr) (uintptr, uintptr, bool) {
	size := int(roundUpPage(minSize))
	data, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, 0, false
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	return base, uintptr(size), true
}

func (u *Unix) ReserveAligned(size uintptr, committed bool) (uintptr, bool) {
	// Over-reserve by size so we can trim to an aligned sub-region, then
	// release the unused head/tail back to the OS. This is the usual
	// "mmap 2x, munmap the slop" trick for aligned anonymous mappings.
	raw := int(size) * 2
	data, err := unix.Mmap(-1, 0, raw, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, false
	}
	rawBase := uintptr(unsafe.Pointer(&data[0]))
	alignedBase := (rawBase + size - 1) &^ (size - 1)

	if headSlop := alignedBase - rawBase; headSlop > 0 {
		_ = unix.Munmap(sliceAt(rawBase, int(headSlop)))
	}
	tailBase := alignedBase + size
	if tailSlop := (rawBase + uintptr(raw)) - tailBase; tailSlop > 0 {
		_ = unix.Munmap(sliceAt(tailBase, int(tailSlop)))
	}

	if committed {
		u.NotifyUsing(alignedBase, size, false)
	}
	return alignedBase, true
}

func (u *Unix) NotifyUsing(base, length uintptr, zero bool) {
	if length == 0 {
		return
	}
	b := sliceAt(base, int(length))
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		panic(fmt.Errorf("slabmalloc: mprotect(%#x, %d) failed: %w", base, length, err))
	}
	if zero {
		u.Zero(base, length)
	}
}

func (u *Unix) NotifyNotUsing(base, length uintptr) {
	if length == 0 {
		return
	}
	b := sliceAt(base, int(length))
	// MADV_DONTNEED releases the physical pages while keeping the
	// mapping's virtual reservation intact.
	_ = unix.Madvise(b, unix.MADV_DONTNEED)
	_ = unix.Mprotect(b, unix.PROT_NONE)
}

func (u *Unix) Zero(base, length uintptr) {
	b := sliceAt(base, int(length))
	for i := range b {
		b[i] = 0
	}
}

func (u *Unix) RegisterLowMemoryCallback(cb func()) {
	u.lowMemMu.Lock()
	u.lowMemCbs = append(u.lowMemCbs, cb)
	u.lowMemMu.Unlock()

	u.pollOnce.Do(func() {
		if runtime.GOOS == "linux" {
			go u.pollMemAvailable()
		}
	})
}

func (u *Unix) Entropy64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand reading from the OS should not fail in
		// practice; falling back to a fixed seed would be worse
		// than treating this as fatal, since predictable entropy
		// undermines the free-list signing scheme.
		panic(fmt.Errorf("slabmalloc: failed to read entropy: %w", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}

func (u *Unix) Pause() {
	// No portable PAUSE instruction is reachable from pure Go without
	// cgo or an assembly stub; yielding the scheduler is the closest
	// available hint that this goroutine is spinning.
	runtime.Gosched()
}

func (u *Unix) Tick() uint64 {
	return uint64(nowNano())
}

func (u *Unix) Error(msg string) {
	fmt.Fprintln(os.Stderr, "slabmalloc: fatal:", msg)
	os.Exit(2)
}

func roundUpPage(n uintptr) uintptr {
	pageSize := uintptr(os.Getpagesize())
	return (n + pageSize - 1) &^ (pageSize - 1)
}

func sliceAt(addr uintptr, length int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}
