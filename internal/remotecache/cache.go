// Package remotecache implements the outbound cross-thread free batching
// and radix routing of spec §4.7: an allocator's Remote Cache groups
// outbound frees by destination and periodically "posts" them onto the
// owning allocators' message queues (internal/mpsc) in batches, rather
// than contending on every single cross-thread free.
package remotecache

import (
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/fatal"
	"github.com/fmstephe/slabmalloc/internal/mpsc"
)

// Slots is REMOTE_SLOTS from spec §4.7: a small power of two number of
// partial lists an outbound free can land in before a post.
const Slots = 64

// slotShiftPerRound is log2(Slots): each posting round that fails to empty
// the self slot looks at the next window of that many bits of the target
// id, per spec §4.7's "shifts the hash to the next window of bits".
const slotShiftPerRound = 6

// sizeClassBits is how many low bits of a packed header word are reserved
// for the size class, matching spec §4.7's "the identifier is aligned such
// that the low bits are always clear and can carry the sizeclass".
const sizeClassBits = 12

// Pack combines a target allocator id and a size class into the single
// word stored in a remote object's header, for the receiving allocator's
// post-dequeue bookkeeping (it does not participate in routing itself;
// routing always uses the raw target id passed to Add/Post).
func Pack(targetID uint64, sizeClass uint32) uint64 {
	return (targetID << sizeClassBits) | uint64(sizeClass)
}

// Unpack reverses Pack.
func Unpack(packed uint64) (targetID uint64, sizeClass uint32) {
	const mask = uint64(1)<<sizeClassBits - 1
	return packed >> sizeClassBits, uint32(packed & mask)
}

// PackedAt reads back the packed target-id/size-class word Add wrote at
// addr. The consuming allocator calls this once a message has been
// dequeued from its internal/mpsc inbox, to recover the size class needed
// to route the freed object back onto the right local free list.
func PackedAt(addr uintptr) uint64 {
	return at(addr).packed
}

// header overlays the first two words of a freed object while it transits
// the remote cache and the destination's message queue: a next pointer for
// intrusive chaining (the same trick internal/freelist and internal/mpsc
// use) and the packed target id/size class word.
type header struct {
	next   uintptr
	packed uint64
}

func at(addr uintptr) *header {
	return (*header)(unsafe.Pointer(addr))
}

// Resolver resolves the message queue belonging to whichever allocator
// owns the slab containing addr, via a pagemap lookup — spec §4.7 step 2,
// "resolve the allocator owning the head object via the pagemap". Defined
// here (rather than depending on internal/pagemap directly) to keep this
// package free of a dependency on slab/allocator bookkeeping; the alloc
// package supplies the concrete implementation.
type Resolver interface {
	ResolveQueue(addr uintptr) *mpsc.Queue
}

// slotList is a single destination-slot's pending chain. It is only ever
// touched by the allocator thread that owns the enclosing Cache, so it
// needs no synchronization of its own — unlike internal/mpsc's queue,
// which is the multi-producer structure this cache eventually feeds into.
type slotList struct {
	head uintptr
	last uintptr
}

func (l *slotList) empty() bool { return l.head == 0 }

func (l *slotList) append(addr uintptr) {
	at(addr).next = 0
	if l.head == 0 {
		l.head = addr
	} else {
		at(l.last).next = addr
	}
	l.last = addr
}

func (l *slotList) takeAll() (head, last uintptr, ok bool) {
	if l.head == 0 {
		return 0, 0, false
	}
	head, last = l.head, l.last
	l.head, l.last = 0, 0
	return head, last, true
}

// Cache is one allocator's outbound remote-free batcher.
type Cache struct {
	selfID       uint64
	initialShift uint
	threshold    int64

	slots    [Slots]slotList
	capacity int64
}

// New creates a Cache for the allocator identified by selfID. initialShift
// is the number of low bits of a target id that round 0 routing skips.
// The size class never lives in those bits: Pack stores it beside the id in
// a separate header word, and routing always uses the raw id. threshold is
// the capacity (in bytes) restored after each post.
func New(selfID uint64, initialShift uint, threshold int64) *Cache {
	return &Cache{
		selfID:       selfID,
		initialShift: initialShift,
		threshold:    threshold,
		capacity:     threshold,
	}
}

func (c *Cache) slotIndex(id uint64, round uint) uint64 {
	shift := c.initialShift + round*slotShiftPerRound
	return (id >> shift) & (Slots - 1)
}

// Add enqueues addr as a pending free bound for targetID, of the given
// size class and object size, per spec §4.5 step 5. It returns true if
// this push drove capacity to or below zero and a Post was therefore
// triggered.
func (c *Cache) Add(targetID uint64, sizeClass uint32, addr uintptr, objSize uint64, r Resolver) bool {
	at(addr).packed = Pack(targetID, sizeClass)
	slot := c.slotIndex(targetID, 0)
	c.slots[slot].append(addr)

	c.capacity -= int64(objSize)
	if c.capacity <= 0 {
		c.Post(r)
		return true
	}
	return false
}

// Post implements spec §4.7's posting algorithm: drain every slot but the
// allocator's own self-slot into the owning allocator's message queue,
// then redistribute the residual self-slot chain into a fresh window of
// routing bits and repeat, until the self-slot empties out. Capacity is
// reset to threshold once posting completes.
func (c *Cache) Post(r Resolver) {
	round := uint(0)
	mySlot := c.slotIndex(c.selfID, round)

	for {
		for i := uint64(0); i < Slots; i++ {
			if i == mySlot {
				continue
			}
			head, last, ok := c.slots[i].takeAll()
			if !ok {
				continue
			}
			q := r.ResolveQueue(head)
			q.Enqueue(head, last)
		}

		head, _, ok := c.slots[mySlot].takeAll()
		if !ok {
			break
		}

		if c.initialShift+(round+1)*slotShiftPerRound >= 64 {
			fatal.Errorf("remotecache: post_round bit budget exhausted for self id %#x", c.selfID)
		}

		round++
		for addr := head; addr != 0; {
			next := at(addr).next
			targetID, _ := Unpack(at(addr).packed)
			c.slots[c.slotIndex(targetID, round)].append(addr)
			addr = next
		}
		mySlot = c.slotIndex(c.selfID, round)
	}

	c.capacity = c.threshold
}
