package alloc

import (
	"github.com/fmstephe/slabmalloc/internal/largecache"
)

// Config bundles every tunable spec §5/§7 leaves to the embedder: how
// aggressively remote frees are batched, whether free-list randomization
// and predecessor-signature checking are enabled, and how idle large
// regions are decommitted.
type Config struct {
	// AddressBits sizes the pagemap's address-space assumption (spec §4.2,
	// §6); 47 matches the canonical x86-64/arm64 user VA width.
	AddressBits uint

	// FlatPagemap selects the flat, demand-paged pagemap variant instead
	// of the lazily-populated tree variant. Flat trades address space for
	// one fewer pointer dereference per lookup; tree is the right default
	// for a 47-bit address space.
	FlatPagemap bool

	// PageSize is the platform's page granularity, used to size slab
	// headers and medium-slab header pages.
	PageSize uintptr

	// Randomize enables the two-queue randomized free-list builder (spec
	// §4.3) when a slab is carved or a medium slab is filled.
	Randomize bool

	// CheckIntegrity enables the free list's signed-predecessor
	// corruption check (spec §4.3, §7).
	CheckIntegrity bool

	// RemoteCacheThreshold is the byte capacity restored to an
	// allocator's remote cache after every post (spec §4.7).
	RemoteCacheThreshold int64

	// DecommitPolicy controls how the large-object cache (spec §4.8),
	// which also recycles whole superslab/medium-slab regions, releases
	// idle physical pages.
	DecommitPolicy largecache.DecommitPolicy

	// InboxDrainBatch bounds how many messages a single slow-path cascade
	// step drains from an allocator's inbox (spec §4.5 step ii) before
	// giving up and falling through to the next cascade step.
	InboxDrainBatch int
}

// DefaultConfig returns reasonable settings for production use: tree
// pagemap, randomized free lists, integrity checking on, lazy decommit.
func DefaultConfig() Config {
	return Config{
		AddressBits:          47,
		FlatPagemap:          false,
		PageSize:             4096,
		Randomize:            true,
		CheckIntegrity:       true,
		RemoteCacheThreshold: 1 << 20,
		DecommitPolicy:       largecache.DecommitLazy,
		InboxDrainBatch:      64,
	}
}
