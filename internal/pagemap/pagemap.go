// Package pagemap implements the Pagemap of spec §4.2: an associative
// structure from any address to a small fixed record describing the slab
// kind at the superslab-aligned base containing that address, plus the
// cross-binary ABI descriptor of spec §6.
package pagemap

import (
	"github.com/cespare/xxhash/v2"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// Tag values, per spec §3's pagemap entry table. Large region heads and
// interiors use the raw exponent directly (and exponent+64) rather than a
// fixed tag, so Tag alone recovers the region size for large allocations
// without a second lookup.
const (
	NotOurs       uint8 = 0
	SuperslabTag  uint8 = 1
	MediumslabTag uint8 = 2

	// LargeInteriorOffset is added to a large class's exponent to mark
	// an interior (non-head) page of that region.
	LargeInteriorOffset uint8 = 64
)

// LargeHeadTag returns the tag for the head of a large region of size
// 2^b.
func LargeHeadTag(b uint) uint8 { return uint8(b) }

// LargeInteriorTag returns the tag for an interior page of a large region
// whose head has exponent b.
func LargeInteriorTag(b uint) uint8 { return uint8(b) + LargeInteriorOffset }

// IsLargeHead reports whether tag marks the head of a large region, and if
// so its exponent.
func IsLargeHead(tag uint8) (uint, bool) {
	if tag >= uint8(sizeclass.SuperslabBits) && tag < LargeInteriorOffset {
		return uint(tag), true
	}
	return 0, false
}

// IsLargeInterior reports whether tag marks an interior page of a large
// region, and if so the head's exponent.
func IsLargeInterior(tag uint8) (uint, bool) {
	if tag >= LargeInteriorOffset+uint8(sizeclass.SuperslabBits) {
		return uint(tag - LargeInteriorOffset), true
	}
	return 0, false
}

// Map is implemented by the flat and tree pagemap variants. Header is an
// opaque address: for Superslab/Mediumslab entries it points at the slab
// header that lives at the start of the mmap'd slab region itself (never a
// Go-heap pointer, see internal/slabmeta); for large entries it is unused
// (0) since the size is fully described by Tag.
type Map interface {
	Get(addr uintptr) (tag uint8, header uintptr)
	Set(addr uintptr, tag uint8, header uintptr)
	SetRange(addr uintptr, tag uint8, header uintptr, count uintptr)
	Config() Config
}

// Config is the versioned, cross-binary pagemap ABI descriptor of spec §6.
// Two binaries sharing a pagemap must agree on every field here before
// they can safely call into each other's allocator.
type Config struct {
	Version         uint32
	IsFlat          bool
	PointerSize     uint8
	GranularityBits uint64
	EntrySize       uintptr
	// Checksum is an xxhash fingerprint of the fields above, letting
	// callers do one cheap comparison instead of hand comparing every
	// field.
	Checksum uint64
}

func newConfig(isFlat bool, granularityBits uint64, entrySize uintptr) Config {
	c := Config{
		Version:         1,
		IsFlat:          isFlat,
		PointerSize:     8,
		GranularityBits: granularityBits,
		EntrySize:       entrySize,
	}
	c.Checksum = c.computeChecksum()
	return c
}

func (c Config) computeChecksum() uint64 {
	var buf [24]byte
	putU32(buf[0:4], c.Version)
	if c.IsFlat {
		buf[4] = 1
	}
	buf[5] = c.PointerSize
	putU64(buf[6:14], c.GranularityBits)
	putU64(buf[14:22], uint64(c.EntrySize))
	return xxhash.Sum64(buf[:22])
}

// CompatibleWith reports whether two binaries' pagemap configs describe
// the same layout.
func (c Config) CompatibleWith(other Config) bool {
	return c.Checksum == other.Checksum
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
