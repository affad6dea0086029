// Package alloc implements the per-thread Allocator and the Pool that owns
// a set of them (spec §4.5, §4.9): the engine the root slabmalloc package's
// public facade drives. An Allocator is a single-writer structure — every
// field below is touched by exactly one goroutine at a time, the one
// holding it via Pool.Acquire — except the handful of atomic fields inside
// the slab headers it shares ownership boundaries with (Superslab.Owner,
// Mediumslab.Owner), which other allocators' remote frees and this
// allocator's own reclaim path both touch.
package alloc

import (
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/fatal"
	"github.com/fmstephe/slabmalloc/internal/freelist"
	"github.com/fmstephe/slabmalloc/internal/mpsc"
	"github.com/fmstephe/slabmalloc/internal/pagemap"
	"github.com/fmstephe/slabmalloc/internal/remotecache"
	"github.com/fmstephe/slabmalloc/internal/slabmeta"
	"github.com/fmstephe/slabmalloc/sizeclass"
)

// remoteCacheInitialShift is the number of low bits of an allocator id that
// routing never consumes. Pool-assigned ids are small dense integers, not
// pointers, so unlike spec §4.7's own worked example (which reserves bits
// for a packed sizeclass inside the id itself) there is nothing to shield
// round 0 from — the packed id/sizeclass word (internal/remotecache.Pack)
// is carried separately in the freed object's header and never touches the
// routing math. Zero is therefore the correct, and the existing
// internal/remotecache tests' own, choice.
const remoteCacheInitialShift = 0

// defaultInboxDrainBatch backs Config.InboxDrainBatch when unset.
const defaultInboxDrainBatch = 64

// Boundary selects which edge of an allocated object ExternalPointer snaps
// an interior address to (spec §4.5's external-pointer-queries).
type Boundary int

const (
	Start Boundary = iota
	End
	OnePastEnd
)

type smallSlabRef struct {
	super *slabmeta.Superslab
	idx   int
}

func (r *smallSlabRef) meta() *slabmeta.Metaslab { return r.super.Meta(r.idx) }

// smallClassState is the per-small-class slice of an allocator's state
// (spec §3's "array of head-of-free-list pointers, one per small size
// class"): current is the slab the fast path draws from, its own
// Metaslab.Free acting as that combined free list; active holds slabs with
// known spare capacity waiting to become current once current empties out.
type smallClassState struct {
	current *smallSlabRef
	active  []*smallSlabRef
}

// mediumClassState mirrors smallClassState for medium classes, one whole
// slab at a time instead of one slab-within-a-superslab at a time.
type mediumClassState struct {
	current *slabmeta.Mediumslab
	active  []*slabmeta.Mediumslab
}

// Allocator is the per-thread allocation core of spec §4.5.
type Allocator struct {
	id       uint64
	shared   *Shared
	resolver remotecache.Resolver

	keys    freelist.Keys
	entropy uint64

	small  []smallClassState
	medium []mediumClassState

	// spareSuperslabs holds superslabs with slab capacity still
	// unextracted beyond what has already been carved out. Spec §4.5
	// describes two separate lists here ("available" and "only the short
	// slab available"); both exist purely to find a superslab with spare
	// extractable capacity, so this implementation merges them into one
	// — see DESIGN.md's Simplification note.
	spareSuperslabs []*slabmeta.Superslab

	// superslabs and mediumslabs record every region this allocator has
	// ever acquired, so ReturnEmptySuperslabs (and DebugCheckEmpty) can
	// sweep them without needing a second index.
	superslabs  []*slabmeta.Superslab
	mediumslabs []*slabmeta.Mediumslab

	remote *remotecache.Cache
	inbox  *mpsc.Queue
}

func newAllocator(id uint64, shared *Shared, resolver remotecache.Resolver) *Allocator {
	a := &Allocator{
		id:       id,
		shared:   shared,
		resolver: resolver,
		keys: freelist.Keys{
			K1:       shared.Platform.Entropy64(),
			K2:       shared.Platform.Entropy64(),
			XORKey:   uintptr(shared.Platform.Entropy64()),
			Checking: shared.Config.CheckIntegrity,
		},
		entropy: shared.Platform.Entropy64(),
		small:   make([]smallClassState, sizeclass.NumSmallClasses()),
		medium:  make([]mediumClassState, sizeclass.NumMediumClasses()),
		remote:  remotecache.New(id, remoteCacheInitialShift, shared.Config.RemoteCacheThreshold),
		inbox:   mpsc.New(),
	}
	if a.entropy == 0 {
		a.entropy = 0x9e3779b97f4a7c15
	}
	return a
}

// ID is this allocator's stable, pool-assigned index: both its remote-cache
// routing identity and, via Pool.ResolveQueue, the key other allocators use
// to find its message queue (spec §9's arena-indexed reference in place of
// a raw, possibly-dangling allocator pointer).
func (a *Allocator) ID() uint64 { return a.id }

// Inbox returns this allocator's message queue, for Pool.ResolveQueue.
func (a *Allocator) Inbox() *mpsc.Queue { return a.inbox }

func (a *Allocator) nextEntropy() uint64 {
	a.entropy ^= a.entropy << 13
	a.entropy ^= a.entropy >> 7
	a.entropy ^= a.entropy << 17
	if a.entropy == 0 {
		a.entropy = 0x9e3779b97f4a7c15
	}
	return a.entropy
}

func (a *Allocator) inboxBatch() int {
	if n := a.shared.Config.InboxDrainBatch; n > 0 {
		return n
	}
	return defaultInboxDrainBatch
}

// Alloc returns a new object of at least size bytes, zeroing it first if
// zero is true. Returns 0 on address-space exhaustion, or when size is
// larger than the largest size class.
func (a *Allocator) Alloc(size uintptr, zero bool) uintptr {
	if size == 0 {
		size = uintptr(sizeclass.MinAllocSize)
	}
	class := sizeclass.ClassOf(uint64(size))
	if sizeclass.SizeOf(class) < uint64(size) {
		return 0
	}
	switch sizeclass.KindOf(class) {
	case sizeclass.Small:
		return a.allocSmall(class, zero)
	case sizeclass.Medium:
		return a.allocMedium(class, zero)
	default:
		return a.allocLarge(class, zero)
	}
}

func (a *Allocator) finish(addr uintptr, size uint64, zero bool) uintptr {
	if zero {
		a.shared.Platform.Zero(addr, uintptr(size))
	}
	return addr
}

// --- small path ---------------------------------------------------------

// takeFromSlab pops one object from ref's own free list, updating its
// Metaslab.State across both edges of spec §4.5's small-slab state
// machine: Empty -> Active on the first object taken from a freshly
// carved slab, Active -> Full once its free list drains.
func (a *Allocator) takeFromSlab(ref *smallSlabRef) (uintptr, bool) {
	meta := ref.meta()
	addr, ok := meta.Free.Take(a.keys)
	if !ok {
		return 0, false
	}
	if meta.State == slabmeta.SlabEmpty {
		meta.State = slabmeta.SlabActive
		ref.super.RecomputeState()
	}
	if meta.Free.Empty() {
		meta.State = slabmeta.SlabFull
		ref.super.RecomputeState()
	}
	return addr, true
}

func (a *Allocator) allocSmall(class sizeclass.Class, zero bool) uintptr {
	st := &a.small[class]
	objSize := sizeclass.SizeOf(class)

	if st.current != nil {
		if addr, ok := a.takeFromSlab(st.current); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	a.drainInbox(a.inboxBatch())
	if st.current != nil {
		if addr, ok := a.takeFromSlab(st.current); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	for len(st.active) > 0 {
		ref := st.active[len(st.active)-1]
		st.active = st.active[:len(st.active)-1]
		st.current = ref
		if addr, ok := a.takeFromSlab(ref); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	ref, ok := a.extractSmallSlab(class)
	if !ok {
		return 0
	}
	st.current = ref
	addr, ok := a.takeFromSlab(ref)
	if !ok {
		return 0
	}
	return a.finish(addr, objSize, zero)
}

// slabObjectsBase returns the address where slab idx's object area begins
// within super: the short slab (idx 0) starts after the Superslab header,
// every other slab starts on its own SlabSize-aligned boundary.
func (a *Allocator) slabObjectsBase(super *slabmeta.Superslab, idx int) uintptr {
	base := uintptr(unsafe.Pointer(super))
	if idx == 0 {
		return base + a.shared.ShortHeaderBytes
	}
	return base + uintptr(idx)*sizeclass.SlabSize
}

// extractSmallSlab acquires a not-yet-used slab (from spare capacity or a
// freshly acquired superslab) and carves its entire capacity into a
// randomized free list in one pass — see DESIGN.md's Simplification note
// on why this implementation carves a whole slab at once rather than one
// page at a time.
func (a *Allocator) extractSmallSlab(class sizeclass.Class) (*smallSlabRef, bool) {
	super, idx, ok := a.acquireSlab(class)
	if !ok {
		return nil, false
	}
	ref := &smallSlabRef{super: super, idx: idx}
	meta := ref.meta()
	objSize := uintptr(sizeclass.SizeOf(class))
	base := a.slabObjectsBase(super, idx)

	b := freelist.NewBuilder(a.keys, a.nextEntropy(), a.shared.Config.Randomize)
	for i := uint32(0); i < meta.Capacity; i++ {
		b.Add(base + uintptr(i)*objSize)
	}
	meta.Free = b.Close()
	return ref, true
}

// acquireSlab finds a superslab with unextracted slab capacity — first
// among this allocator's own spareSuperslabs, falling back to the shared
// large-object cache (regions recycled at exponent SuperslabBits, spec
// §4.8) and finally the address-space manager — and claims one slab from
// it for class.
func (a *Allocator) acquireSlab(class sizeclass.Class) (*slabmeta.Superslab, int, bool) {
	objSize := sizeclass.SizeOf(class)

	for len(a.spareSuperslabs) > 0 {
		super := a.spareSuperslabs[len(a.spareSuperslabs)-1]

		// A short slab too small for one object of class is left for a
		// smaller class; the object goes into a full-size slab instead.
		shortCap := uint32((uint64(sizeclass.SlabSize) - uint64(a.shared.ShortHeaderBytes)) / objSize)
		if super.Meta(0).Capacity == 0 && shortCap > 0 {
			super.Meta(0).Init(class, shortCap)
			super.RecomputeState()
			a.popSpareIfExhausted(super)
			return super, 0, true
		}

		cap := uint32(uint64(sizeclass.SlabSize) / objSize)
		idx, ok := super.ExtractSlab(class, cap)
		if ok {
			a.popSpareIfExhausted(super)
			return super, idx, true
		}
		a.spareSuperslabs = a.spareSuperslabs[:len(a.spareSuperslabs)-1]
	}

	super, ok := a.newSuperslab()
	if !ok {
		return nil, 0, false
	}
	a.superslabs = append(a.superslabs, super)
	a.spareSuperslabs = append(a.spareSuperslabs, super)
	return a.acquireSlab(class)
}

// popSpareIfExhausted removes super from spareSuperslabs once every slab
// beyond the short slab has been extracted, since no further calls to
// ExtractSlab could ever succeed against it again.
func (a *Allocator) popSpareIfExhausted(super *slabmeta.Superslab) {
	if int(super.Extracted.Load()) < super.NumSlabs()-1 {
		return
	}
	for i, s := range a.spareSuperslabs {
		if s == super {
			a.spareSuperslabs = append(a.spareSuperslabs[:i], a.spareSuperslabs[i+1:]...)
			return
		}
	}
}

// newSuperslab pulls a fresh superslab-sized region, tries the large-object
// cache before falling back to the address-space manager (spec §4.5 step
// iv's "pull a superslab from the available list ... or allocate a new
// one"), overlays a Superslab header onto it and records this allocator as
// its owner.
func (a *Allocator) newSuperslab() (*slabmeta.Superslab, bool) {
	addr, ok := a.shared.LargeCache.Pop(sizeclass.SuperslabBits, true)
	if !ok {
		addr, ok = a.shared.AddrSpace.Reserve(sizeclass.SuperslabBits, true)
		if !ok {
			return nil, false
		}
	}
	super := slabmeta.NewSuperslab(addr)
	super.Owner.Store(a.id)
	a.shared.Pagemap.Set(addr, pagemap.SuperslabTag, addr)
	return super, true
}

// reclaimSmall returns addr to the slab it belongs to, exactly the same
// whether it arrived via a local Dealloc call or a drained remote message
// (spec §4.5 step 5's "goes back onto the local free lists").
func (a *Allocator) reclaimSmall(addr uintptr, super *slabmeta.Superslab, idx int) {
	meta := super.Meta(idx)
	wasFull := meta.State == slabmeta.SlabFull
	meta.Free.Push(addr, a.keys)

	switch {
	case meta.Outstanding() == 0:
		meta.State = slabmeta.SlabEmpty
		super.RecomputeState()
	case wasFull:
		meta.State = slabmeta.SlabActive
		super.RecomputeState()
		class := sizeclass.Class(meta.Class)
		a.small[class].active = append(a.small[class].active, &smallSlabRef{super: super, idx: idx})
	}
}

// ReturnEmptySuperslabs sweeps every superslab this allocator owns, purging
// the bookkeeping references to (and returning to the shared large-object
// cache) any whose every slab has gone entirely free. This is deliberately
// not done eagerly inline with the free that empties the last slab: doing
// so safely requires first scrubbing every per-class active/current
// reference to that superslab, which is cheap to do all at once in a sweep
// but would otherwise mean a dedicated scan on every single dealloc. Spec
// §4.9's CleanupUnused calls this for every idle allocator; it may also be
// called directly.
func (a *Allocator) ReturnEmptySuperslabs() int {
	returned := 0
	kept := a.superslabs[:0]
	for _, super := range a.superslabs {
		if super.State.Load() != slabmeta.SuperslabEmpty {
			kept = append(kept, super)
			continue
		}
		a.purgeSuperslabRefs(super)
		base := uintptr(unsafe.Pointer(super))
		super.Owner.Store(0)
		a.shared.Pagemap.Set(base, pagemap.NotOurs, 0)
		a.shared.LargeCache.Push(sizeclass.SuperslabBits, base)
		returned++
	}
	a.superslabs = kept
	return returned
}

func (a *Allocator) purgeSuperslabRefs(super *slabmeta.Superslab) {
	for c := range a.small {
		st := &a.small[c]
		if st.current != nil && st.current.super == super {
			st.current = nil
		}
		filtered := st.active[:0]
		for _, ref := range st.active {
			if ref.super != super {
				filtered = append(filtered, ref)
			}
		}
		st.active = filtered
	}
	filtered := a.spareSuperslabs[:0]
	for _, s := range a.spareSuperslabs {
		if s != super {
			filtered = append(filtered, s)
		}
	}
	a.spareSuperslabs = filtered
}

// --- medium path ---------------------------------------------------------

func classIndex(class sizeclass.Class) int {
	return int(class) - sizeclass.NumSmallClasses()
}

func (a *Allocator) takeFromMedium(ms *slabmeta.Mediumslab) (uintptr, bool) {
	addr, ok := ms.TakeFree(a.keys)
	if !ok {
		return 0, false
	}
	if ms.Meta.State == slabmeta.SlabEmpty {
		ms.Meta.State = slabmeta.SlabActive
	}
	if ms.Meta.Free.Empty() {
		ms.Meta.State = slabmeta.SlabFull
	}
	return addr, true
}

func (a *Allocator) allocMedium(class sizeclass.Class, zero bool) uintptr {
	idx := classIndex(class)
	st := &a.medium[idx]
	objSize := sizeclass.SizeOf(class)

	if st.current != nil {
		if addr, ok := a.takeFromMedium(st.current); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	a.drainInbox(a.inboxBatch())
	if st.current != nil {
		if addr, ok := a.takeFromMedium(st.current); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	for len(st.active) > 0 {
		ms := st.active[len(st.active)-1]
		st.active = st.active[:len(st.active)-1]
		st.current = ms
		if addr, ok := a.takeFromMedium(ms); ok {
			return a.finish(addr, objSize, zero)
		}
	}

	ms, ok := a.newMediumslab(class)
	if !ok {
		return 0
	}
	a.mediumslabs = append(a.mediumslabs, ms)
	a.carveMediumslab(ms, objSize)
	st.current = ms
	addr, ok := a.takeFromMedium(ms)
	if !ok {
		return 0
	}
	return a.finish(addr, objSize, zero)
}

func (a *Allocator) newMediumslab(class sizeclass.Class) (*slabmeta.Mediumslab, bool) {
	addr, ok := a.shared.LargeCache.Pop(sizeclass.SuperslabBits, true)
	if !ok {
		addr, ok = a.shared.AddrSpace.Reserve(sizeclass.SuperslabBits, true)
		if !ok {
			return nil, false
		}
	}
	objSize := sizeclass.SizeOf(class)
	cap := uint32((uint64(sizeclass.SuperslabSize) - uint64(a.shared.PageSize)) / objSize)
	ms := slabmeta.NewMediumslab(addr, class, cap)
	ms.Owner.Store(a.id)
	a.shared.Pagemap.Set(addr, pagemap.MediumslabTag, addr)
	return ms, true
}

func (a *Allocator) carveMediumslab(ms *slabmeta.Mediumslab, objSize uint64) {
	base := uintptr(unsafe.Pointer(ms)) + a.shared.PageSize
	b := freelist.NewBuilder(a.keys, a.nextEntropy(), a.shared.Config.Randomize)
	for i := uint32(0); i < ms.Meta.Capacity; i++ {
		b.Add(base + uintptr(i)*uintptr(objSize))
	}
	ms.Meta.Free = b.Close()
}

func (a *Allocator) reclaimMedium(addr uintptr, ms *slabmeta.Mediumslab) {
	wasFull := ms.Meta.State == slabmeta.SlabFull
	ms.PushFree(addr, a.keys)

	switch {
	case ms.Meta.Outstanding() == 0:
		ms.Meta.State = slabmeta.SlabEmpty
		a.retireMediumslab(ms)
	case wasFull:
		ms.Meta.State = slabmeta.SlabActive
		idx := classIndex(sizeclass.Class(ms.Meta.Class))
		a.medium[idx].active = append(a.medium[idx].active, ms)
	}
}

// retireMediumslab returns ms to the shared large-object cache. Unlike a
// small slab (which shares a superslab with many others), a medium slab's
// whole region serves exactly one class and nothing else can reference any
// part of it, so this can happen immediately rather than waiting for a
// sweep.
func (a *Allocator) retireMediumslab(ms *slabmeta.Mediumslab) {
	idx := classIndex(sizeclass.Class(ms.Meta.Class))
	st := &a.medium[idx]
	if st.current == ms {
		st.current = nil
	}
	filtered := st.active[:0]
	for _, m := range st.active {
		if m != ms {
			filtered = append(filtered, m)
		}
	}
	st.active = filtered

	base := uintptr(unsafe.Pointer(ms))
	ms.Owner.Store(0)
	a.shared.Pagemap.Set(base, pagemap.NotOurs, 0)
	a.shared.LargeCache.Push(sizeclass.SuperslabBits, base)

	kept := a.mediumslabs[:0]
	for _, m := range a.mediumslabs {
		if m != ms {
			kept = append(kept, m)
		}
	}
	a.mediumslabs = kept
}

// --- large path ------------------------------------------------------------

func (a *Allocator) allocLarge(class sizeclass.Class, zero bool) uintptr {
	b := sizeclass.LargeExponent(class)
	a.drainInbox(a.inboxBatch())

	addr, ok := a.shared.LargeCache.Pop(b, zero)
	if !ok {
		addr, ok = a.shared.AddrSpace.Reserve(b, true)
		if !ok {
			return 0
		}
		if zero {
			a.shared.Platform.Zero(addr, uintptr(1)<<b)
		}
	}

	a.shared.Pagemap.Set(addr, pagemap.LargeHeadTag(b), 0)
	a.registerLargeInterior(addr, b)
	return addr
}

// registerLargeInterior tags every superslab-granule of a multi-granule
// large region (beyond its head) as an interior page of that region, so a
// client dealloc'ing an address anywhere inside the region is correctly
// rejected as an interior-pointer misuse (spec §7) rather than silently
// treated as NotOurs.
func (a *Allocator) registerLargeInterior(addr uintptr, b uint) {
	total := uintptr(1) << b >> sizeclass.SuperslabBits
	if total <= 1 {
		return
	}
	a.shared.Pagemap.SetRange(addr+sizeclass.SuperslabSize, pagemap.LargeInteriorTag(b), 0, total-1)
}

func (a *Allocator) deallocLarge(p uintptr, b uint, sized uint64) {
	size := uint64(1) << b
	if sized != 0 && sized > size {
		fatal.Errorf("slabmalloc: dealloc size %d exceeds region size %d at %#x", sized, size, p)
	}
	if p&(uintptr(1)<<b-1) != 0 {
		fatal.Errorf("slabmalloc: dealloc of interior pointer %#x into a large region", p)
	}
	count := uintptr(1) << b >> sizeclass.SuperslabBits
	a.shared.Pagemap.SetRange(p, pagemap.NotOurs, 0, count)
	a.shared.LargeCache.Push(b, p)
}

// --- dealloc dispatch ------------------------------------------------------

// Dealloc returns p to its owning allocator, locally if this allocator owns
// the slab p belongs to, or via the remote cache otherwise (spec §4.5's
// dealloc contract). sized is the caller-asserted object size, or 0 if
// unknown; when nonzero it is checked against the recovered size class.
func (a *Allocator) Dealloc(p uintptr, sized uint64) {
	if p == 0 {
		return
	}
	tag, header := a.shared.Pagemap.Get(p)
	switch tag {
	case pagemap.SuperslabTag:
		a.deallocSmall(p, header, sized)
	case pagemap.MediumslabTag:
		a.deallocMedium(p, header, sized)
	default:
		if b, ok := pagemap.IsLargeHead(tag); ok {
			a.deallocLarge(p, b, sized)
			return
		}
		if _, ok := pagemap.IsLargeInterior(tag); ok {
			fatal.Errorf("slabmalloc: dealloc of interior pointer %#x into a large region", p)
		}
		fatal.Errorf("slabmalloc: dealloc of unmanaged pointer %#x", p)
	}
}

func (a *Allocator) deallocSmall(p, header uintptr, sized uint64) {
	super := (*slabmeta.Superslab)(unsafe.Pointer(header))
	idx := int((p - header) >> sizeclass.SlabBits)
	meta := super.Meta(idx)
	class := sizeclass.Class(meta.Class)
	objSize := sizeclass.SizeOf(class)

	base := a.slabObjectsBase(super, idx)
	offset := uint64(p - base)
	if !sizeclass.InfoOf(class).IsMultipleOfSize(offset) {
		fatal.Errorf("slabmalloc: dealloc of interior pointer %#x (object size %d)", p, objSize)
	}
	if sized != 0 && sized > objSize {
		fatal.Errorf("slabmalloc: dealloc size %d exceeds object size %d at %#x", sized, objSize, p)
	}

	owner := super.Owner.Load()
	if owner == a.id {
		a.reclaimSmall(p, super, idx)
		return
	}
	a.remote.Add(owner, uint32(class), p, objSize, a.resolver)
}

func (a *Allocator) deallocMedium(p, header uintptr, sized uint64) {
	ms := (*slabmeta.Mediumslab)(unsafe.Pointer(header))
	class := sizeclass.Class(ms.Meta.Class)
	objSize := sizeclass.SizeOf(class)

	base := header + a.shared.PageSize
	offset := uint64(p - base)
	if !sizeclass.InfoOf(class).IsMultipleOfSize(offset) {
		fatal.Errorf("slabmalloc: dealloc of interior pointer %#x (object size %d)", p, objSize)
	}
	if sized != 0 && sized > objSize {
		fatal.Errorf("slabmalloc: dealloc size %d exceeds object size %d at %#x", sized, objSize, p)
	}

	owner := ms.Owner.Load()
	if owner == a.id {
		a.reclaimMedium(p, ms)
		return
	}
	a.remote.Add(owner, uint32(class), p, objSize, a.resolver)
}

// --- inbox draining ---------------------------------------------------------

func (a *Allocator) reinjectMessage(addr uintptr) {
	_, sc := remotecache.Unpack(remotecache.PackedAt(addr))
	class := sizeclass.Class(sc)

	switch sizeclass.KindOf(class) {
	case sizeclass.Small:
		tag, header := a.shared.Pagemap.Get(addr)
		if tag != pagemap.SuperslabTag {
			fatal.Errorf("slabmalloc: remote message for %#x does not resolve to a superslab", addr)
		}
		super := (*slabmeta.Superslab)(unsafe.Pointer(header))
		idx := int((addr - header) >> sizeclass.SlabBits)
		a.reclaimSmall(addr, super, idx)
	case sizeclass.Medium:
		tag, header := a.shared.Pagemap.Get(addr)
		if tag != pagemap.MediumslabTag {
			fatal.Errorf("slabmalloc: remote message for %#x does not resolve to a medium slab", addr)
		}
		a.reclaimMedium(addr, (*slabmeta.Mediumslab)(unsafe.Pointer(header)))
	default:
		fatal.Errorf("slabmalloc: remote message for %#x names a large size class", addr)
	}
}

// drainInbox reinjects up to maxBatch pending messages from this
// allocator's inbox (spec §4.5 step ii), returning early once the inbox
// reports no further progress.
func (a *Allocator) drainInbox(maxBatch int) {
	for i := 0; i < maxBatch; i++ {
		addr, ok := a.inbox.Dequeue()
		if !ok {
			return
		}
		a.reinjectMessage(addr)
	}
}

// drainInboxAll drains the inbox to empty, returning how many messages were
// reinjected. Used by Pool.CleanupUnused's convergence loop.
func (a *Allocator) drainInboxAll() int {
	n := 0
	for {
		addr, ok := a.inbox.Dequeue()
		if !ok {
			return n
		}
		a.reinjectMessage(addr)
		n++
	}
}

// PostRemote flushes this allocator's outbound remote cache, posting every
// pending batch onto its destinations' inboxes (spec §4.7).
func (a *Allocator) PostRemote() {
	a.remote.Post(a.resolver)
}

// --- size and boundary queries ----------------------------------------------

// AllocSize returns the usable size of the object containing p.
func (a *Allocator) AllocSize(p uintptr) uint64 {
	if p == 0 {
		return 0
	}
	tag, header := a.shared.Pagemap.Get(p)
	switch tag {
	case pagemap.SuperslabTag:
		super := (*slabmeta.Superslab)(unsafe.Pointer(header))
		idx := int((p - header) >> sizeclass.SlabBits)
		return sizeclass.SizeOf(sizeclass.Class(super.Meta(idx).Class))
	case pagemap.MediumslabTag:
		ms := (*slabmeta.Mediumslab)(unsafe.Pointer(header))
		return sizeclass.SizeOf(sizeclass.Class(ms.Meta.Class))
	default:
		if b, ok := pagemap.IsLargeHead(tag); ok {
			return uint64(1) << b
		}
		fatal.Errorf("slabmalloc: alloc_size of unmanaged pointer %#x", p)
		return 0
	}
}

// ExternalPointer snaps p — which may point anywhere inside a live
// allocation — to the requested boundary of the object containing it
// (spec §4.5's external-pointer-queries).
func (a *Allocator) ExternalPointer(p uintptr, boundary Boundary) uintptr {
	tag, header := a.shared.Pagemap.Get(p)
	switch tag {
	case pagemap.SuperslabTag:
		super := (*slabmeta.Superslab)(unsafe.Pointer(header))
		idx := int((p - header) >> sizeclass.SlabBits)
		class := sizeclass.Class(super.Meta(idx).Class)
		base := a.slabObjectsBase(super, idx)
		return snapToBoundary(base, sizeclass.SizeOf(class), p, boundary)
	case pagemap.MediumslabTag:
		ms := (*slabmeta.Mediumslab)(unsafe.Pointer(header))
		class := sizeclass.Class(ms.Meta.Class)
		base := header + a.shared.PageSize
		return snapToBoundary(base, sizeclass.SizeOf(class), p, boundary)
	default:
		if b, ok := pagemap.IsLargeHead(tag); ok {
			head := p &^ (uintptr(1)<<b - 1)
			return snapToBoundary(head, uint64(1)<<b, p, boundary)
		}
		if b, ok := pagemap.IsLargeInterior(tag); ok {
			head := p &^ (uintptr(1)<<b - 1)
			return snapToBoundary(head, uint64(1)<<b, p, boundary)
		}
		fatal.Errorf("slabmalloc: external_pointer of unmanaged pointer %#x", p)
		return 0
	}
}

func snapToBoundary(base uintptr, objSize uint64, p uintptr, boundary Boundary) uintptr {
	offset := (uint64(p-base) / objSize) * objSize
	start := base + uintptr(offset)
	switch boundary {
	case End:
		return start + uintptr(objSize) - 1
	case OnePastEnd:
		return start + uintptr(objSize)
	default:
		return start
	}
}

// DebugCheckEmpty reports whether every slab this allocator has ever
// acquired currently shows zero outstanding objects. For tests and
// Pool.DebugCheckEmpty only.
func (a *Allocator) DebugCheckEmpty() bool {
	for _, super := range a.superslabs {
		for i := 0; i < super.NumSlabs(); i++ {
			m := super.Meta(i)
			if m.Capacity != 0 && m.Outstanding() != 0 {
				return false
			}
		}
	}
	for _, ms := range a.mediumslabs {
		if ms.Meta.Capacity != 0 && ms.Meta.Outstanding() != 0 {
			return false
		}
	}
	return true
}
