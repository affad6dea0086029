// Package mpsc implements the cross-thread deallocation mailbox of spec
// §4.6: a multi-producer/single-consumer queue with wait-free enqueue,
// built on Vyukov's intrusive-node algorithm. Nodes are raw addresses whose
// first word is repurposed as the queue's `next` link — the same freed
// objects that arrive here as remote-cache chains (internal/remotecache)
// are threaded through this queue using that same word, so no extra
// allocation or copy happens at the queue boundary.
package mpsc

import (
	"sync/atomic"
	"unsafe"
)

type mnode struct {
	next atomic.Uintptr
}

func at(addr uintptr) *mnode {
	return (*mnode)(unsafe.Pointer(addr))
}

// Queue is a single consumer's inbound mailbox. The zero value is not
// usable; construct with New.
type Queue struct {
	back  atomic.Uintptr // last enqueued node; producers only ever touch this
	front uintptr        // consumer-owned; never touched by producers

	// stub is the permanently-primed dummy message spec §4.6 requires so
	// the queue is never observably empty to a producer mid-enqueue. It
	// lives inline in the Queue struct (ordinary Go memory, kept alive by
	// the Queue's own lifetime) rather than inside a slab, since nothing
	// outside this package ever stores its address.
	stub [2]uint64
}

// New returns a freshly primed, empty queue. It is kept out of line so the
// Queue always lives on the heap: back and front hold the stub's address as
// a plain uintptr, which would go stale if a stack-allocated Queue moved.
//
//go:noinline
func New() *Queue {
	q := &Queue{}
	s := q.stubAddr()
	at(s).next.Store(0)
	q.back.Store(s)
	q.front = s
	return q
}

func (q *Queue) stubAddr() uintptr {
	return uintptr(unsafe.Pointer(&q.stub[0]))
}

// Enqueue splices the chain [first..last] (already linked node-to-node via
// each node's first word, in the style of internal/freelist) onto the
// queue in three steps: terminate the chain, claim the tail slot, publish
// the link from the previous tail. This is wait-free for any number of
// concurrent producers — exactly one atomic read-modify-write
// (back.Swap) per call, with no spinning or retry loop.
func (q *Queue) Enqueue(first, last uintptr) {
	at(last).next.Store(0)
	prev := q.back.Swap(last)
	at(prev).next.Store(first)
}

// Dequeue removes and returns the oldest message, or reports "no progress"
// (ok == false) if the queue is momentarily empty to the consumer — which
// can happen even while a producer is mid-Enqueue, since the final
// link-up store has not yet landed. front is the oldest node still in the
// queue; the stub is skipped whenever it reaches the front. When the
// message being returned is also the last one enqueued, the stub is
// re-enqueued behind it first, so a returned node is never referenced by
// the queue again and the caller may reuse its first word immediately.
func (q *Queue) Dequeue() (uintptr, bool) {
	front := q.front
	if front == q.stubAddr() {
		front = at(front).next.Load()
		if front == 0 {
			return 0, false
		}
		q.front = front
	}
	next := at(front).next.Load()
	if next == 0 && front == q.back.Load() {
		q.Enqueue(q.stubAddr(), q.stubAddr())
		next = at(front).next.Load()
	}
	if next == 0 {
		return 0, false
	}
	q.front = next
	return front, true
}
