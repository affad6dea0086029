// Package freelist implements the intrusive per-slab free list of spec
// §4.3: free objects are threaded together using their own first words as
// storage, with an optional signed-predecessor integrity check and an
// optional XOR obfuscation of the next pointer.
package freelist

import (
	"unsafe"

	"github.com/fmstephe/slabmalloc/internal/fatal"
)

// Keys bundles the per-allocator entropy used to encode and sign list
// entries. A fresh Keys is drawn once per allocator from the platform's
// entropy source; every slab that allocator owns shares it.
type Keys struct {
	K1       uint64 // predecessor-signature offset for prev_addr
	K2       uint64 // predecessor-signature offset for self_addr
	XORKey   uintptr
	Checking bool // integrity checking enabled (signed predecessors verified)
}

// node overlays the first two machine words of a free object: an encoded
// next pointer, and (only when Keys.Checking) a signed predecessor token.
// This struct is never heap-allocated; it is always created by casting a
// pointer into already-mmap'd slab memory that the allocator owns.
type node struct {
	next       uintptr
	signedPrev uint64
}

func at(addr uintptr) *node {
	return (*node)(unsafe.Pointer(addr))
}

// sign computes the signed-predecessor token per spec §4.3:
// sign(prev_addr, self_addr, key) = (prev_addr + k1) * (self_addr + k2).
func sign(prevAddr, selfAddr uintptr, k Keys) uint64 {
	return (uint64(prevAddr) + k.K1) * (uint64(selfAddr) + k.K2)
}

func encode(raw uintptr, k Keys) uintptr {
	return raw ^ k.XORKey
}

func decode(enc uintptr, k Keys) uintptr {
	return enc ^ k.XORKey
}

// List is a singly-linked intrusive free list with a head and tail,
// tracking the count of objects it holds so callers can decide when a slab
// transitions between the states described in spec §3's Metaslab entry.
type List struct {
	head  uintptr // 0 means empty
	tail  uintptr
	count int
}

// Empty reports whether the list currently holds no objects.
func (l *List) Empty() bool { return l.head == 0 }

// Len returns the number of objects currently on the list.
func (l *List) Len() int { return l.count }

// Push prepends addr to the list, signing it against the current head (its
// new successor) when integrity checking is enabled.
func (l *List) Push(addr uintptr, k Keys) {
	n := at(addr)
	oldHead := l.head
	n.next = encode(oldHead, k)
	if k.Checking && oldHead != 0 {
		// addr is now the predecessor of the old head in the sense
		// spec §4.3 means: the old head's signature must attest to
		// the node that now points at it.
		at(oldHead).signedPrev = sign(addr, oldHead, k)
	}
	l.head = addr
	if l.tail == 0 {
		l.tail = addr
	}
	l.count++
}

// Take returns the current head, advances the list, and — when integrity
// checking is enabled — verifies that the new head's recorded predecessor
// signature matches what Take itself just computed for the object it is
// removing. A mismatch means the object underneath the list has been
// corrupted by something other than this allocator and fails fatally, per
// spec §4.3's iterator contract.
func (l *List) Take(k Keys) (uintptr, bool) {
	if l.head == 0 {
		return 0, false
	}
	addr := l.head
	n := at(addr)
	next := decode(n.next, k)

	if k.Checking && next != 0 {
		want := sign(addr, next, k)
		if at(next).signedPrev != want {
			fatal.Errorf("freelist: corrupt predecessor signature at %#x", next)
		}
	}

	l.head = next
	if l.head == 0 {
		l.tail = 0
	}
	l.count--
	return addr, true
}

// PushList splices another list onto the front of l in O(1), re-signing the
// join point so the predecessor chain stays valid across the splice.
func (l *List) PushList(other List, k Keys) {
	if other.head == 0 {
		return
	}
	if l.head != 0 && k.Checking {
		at(l.head).signedPrev = sign(other.tail, l.head, k)
	}
	at(other.tail).next = encode(l.head, k)
	if l.head == 0 {
		l.tail = other.tail
	}
	l.head = other.head
	l.count += other.count
}

// Append splices other onto the tail of l in O(1): l's last object now
// points at other's first. Used by Builder.Close to join its two queues in
// the order spec §4.3 describes ("appends queue 2 onto queue 1").
func (l *List) Append(other List, k Keys) {
	if other.head == 0 {
		return
	}
	if l.head == 0 {
		*l = other
		return
	}
	at(l.tail).next = encode(other.head, k)
	if k.Checking {
		at(other.head).signedPrev = sign(l.tail, other.head, k)
	}
	l.tail = other.tail
	l.count += other.count
}
