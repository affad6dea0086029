package alloc

import (
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/addrspace"
	"github.com/fmstephe/slabmalloc/internal/largecache"
	"github.com/fmstephe/slabmalloc/internal/pagemap"
	"github.com/fmstephe/slabmalloc/internal/slabmeta"
	"github.com/fmstephe/slabmalloc/platform"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// Shared bundles every subsystem with process-wide (not per-allocator)
// state: the platform, the address-space manager, the pagemap and the
// large-object cache. Every Allocator a Pool hands out holds a pointer to
// the same Shared — these are the process-wide siblings spec §9's
// single-explicit-pagemap-context guidance applies to as a group, not just
// the pagemap alone.
type Shared struct {
	Platform   platform.Provider
	AddrSpace  *addrspace.Manager
	Pagemap    pagemap.Map
	LargeCache *largecache.Cache
	Config     Config

	PageSize uintptr

	// ShortHeaderBytes is how much of the first ("short") slab in every
	// superslab is consumed by the Superslab header itself, rounded up to
	// a page boundary so the short slab's object area starts on a fresh
	// page.
	ShortHeaderBytes uintptr
}

// NewShared constructs the process-wide subsystems for a Pool, built from
// platform p and cfg.
func NewShared(p platform.Provider, cfg Config) *Shared {
	var pm pagemap.Map
	if cfg.FlatPagemap {
		pm = pagemap.NewFlatMap(p, cfg.AddressBits, sizeclass.SuperslabBits)
	} else {
		pm = pagemap.NewTreeMap(p, cfg.AddressBits, sizeclass.SuperslabBits)
	}

	headerSize := unsafe.Sizeof(slabmeta.Superslab{})
	shortHeaderBytes := roundUp(headerSize, cfg.PageSize)

	return &Shared{
		Platform:         p,
		AddrSpace:        addrspace.New(p),
		Pagemap:          pm,
		LargeCache:       largecache.New(p, cfg.DecommitPolicy, cfg.PageSize),
		Config:           cfg,
		PageSize:         cfg.PageSize,
		ShortHeaderBytes: shortHeaderBytes,
	}
}

func roundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
