// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package boundedqueue provides a mutex-and-condition-variable bounded SPSC
// queue for capacities, type parameters, or deployment targets where the
// lock-free and mmap engines in this module don't apply: it accepts any
// capacity (not just a power of two) and makes no assumption about T
// beyond the ordinary Go zero value, at the cost of a lock per operation.
package boundedqueue

import (
	"sync"
	"time"

	"code.hybscloud.com/spscq/internal/deadline"
	"code.hybscloud.com/spscq/internal/ringalg"
)

type queue[T any] struct {
	mu       sync.Mutex
	notEmpty *deadline.Cond
	notFull  *deadline.Cond

	buf  []T
	head uint64 // next slot to dequeue
	tail uint64 // next slot to enqueue
}

func newQueue[T any](capacity int) *queue[T] {
	if capacity < 2 {
		capacity = 2
	}
	q := &queue[T]{buf: make([]T, capacity)}
	q.notEmpty = deadline.NewCond(&q.mu)
	q.notFull = deadline.NewCond(&q.mu)
	return q
}

// cap reports the physical capacity N; one slot is always reserved, so
// maximum observable occupancy is N-1 (same contract as spsc/spscmmap).
func (q *queue[T]) cap() int { return len(q.buf) }

func (q *queue[T]) n() uint64 { return uint64(len(q.buf)) }

func succMod(i, n uint64) uint64 {
	i++
	if i == n {
		return 0
	}
	return i
}

// tryEnqueueOneLocked assumes q.mu is held. Full is the classic
// one-slot-reserved circular buffer check: the tail may never advance
// onto head.
func (q *queue[T]) tryEnqueueOneLocked(v T) bool {
	n := q.n()
	if succMod(q.tail, n) == q.head {
		return false
	}
	q.buf[q.tail] = v
	q.tail = succMod(q.tail, n)
	return true
}

// tryDequeueOneLocked assumes q.mu is held.
func (q *queue[T]) tryDequeueOneLocked() (T, bool) {
	var zero T
	if q.head == q.tail {
		return zero, false
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = succMod(q.head, q.n())
	return v, true
}

// tryEnqueueBulkLocked writes as many of src as currently fit, in up to
// two contiguous segments per ringalg.SplitMod, and returns the count
// written. Assumes q.mu is held.
func (q *queue[T]) tryEnqueueBulkLocked(src []T) int {
	n := q.n()
	occ := ringalg.OccupancyMod(q.head, q.tail, n)
	free := n - 1 - occ
	k := uint64(len(src))
	if k > free {
		k = free
	}
	if k == 0 {
		return 0
	}
	seg := ringalg.SplitMod(q.tail, k, n)
	copy(q.buf[seg.Start1:seg.Start1+seg.Len1], src[:seg.Len1])
	copy(q.buf[seg.Start2:seg.Start2+seg.Len2], src[seg.Len1:k])
	q.tail = (q.tail + k) % n
	return int(k)
}

// tryDequeueBulkLocked fills as much of dst as is currently available, in
// up to two contiguous segments per ringalg.SplitMod, and returns the
// count read. Assumes q.mu is held.
func (q *queue[T]) tryDequeueBulkLocked(dst []T) int {
	n := q.n()
	occ := ringalg.OccupancyMod(q.head, q.tail, n)
	k := uint64(len(dst))
	if k > occ {
		k = occ
	}
	if k == 0 {
		return 0
	}
	seg := ringalg.SplitMod(q.head, k, n)
	copy(dst[:seg.Len1], q.buf[seg.Start1:seg.Start1+seg.Len1])
	copy(dst[seg.Len1:k], q.buf[seg.Start2:seg.Start2+seg.Len2])
	var zero T
	for i := seg.Start1; i < seg.Start1+seg.Len1; i++ {
		q.buf[i] = zero
	}
	for i := seg.Start2; i < seg.Start2+seg.Len2; i++ {
		q.buf[i] = zero
	}
	q.head = (q.head + k) % n
	return int(k)
}

func (q *queue[T]) tryEnqueue(v T) bool {
	q.mu.Lock()
	ok := q.tryEnqueueOneLocked(v)
	if ok {
		q.notEmpty.Signal()
	}
	q.mu.Unlock()
	return ok
}

func (q *queue[T]) tryDequeue() (T, bool) {
	q.mu.Lock()
	v, ok := q.tryDequeueOneLocked()
	if ok {
		q.notFull.Signal()
	}
	q.mu.Unlock()
	return v, ok
}

func (q *queue[T]) tryEnqueueBulk(src []T) int {
	q.mu.Lock()
	n := q.tryEnqueueBulkLocked(src)
	if n > 0 {
		q.notEmpty.Broadcast()
	}
	q.mu.Unlock()
	return n
}

func (q *queue[T]) tryDequeueBulk(dst []T) int {
	q.mu.Lock()
	n := q.tryDequeueBulkLocked(dst)
	if n > 0 {
		q.notFull.Broadcast()
	}
	q.mu.Unlock()
	return n
}

// enqueue blocks on notFull, re-checking the predicate on every wakeup
// (including the spurious ones sync.Cond always permits and the ones
// deadline.Cond manufactures from its timeout timer).
func (q *queue[T]) enqueue(v T, timeout time.Duration) bool {
	d := deadline.New(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.tryEnqueueOneLocked(v) {
			q.notEmpty.Signal()
			return true
		}
		if d.Expired() {
			return false
		}
		d.Wait(q.notFull)
	}
}

func (q *queue[T]) dequeue(timeout time.Duration) (T, bool) {
	d := deadline.New(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if v, ok := q.tryDequeueOneLocked(); ok {
			q.notFull.Signal()
			return v, true
		}
		if d.Expired() {
			var zero T
			return zero, false
		}
		d.Wait(q.notEmpty)
	}
}

// enqueueBulk is all-or-timeout: it re-enters the wait loop between
// segment groups so a slow consumer draining in small increments doesn't
// force the caller to busy-poll.
func (q *queue[T]) enqueueBulk(src []T, timeout time.Duration) bool {
	d := deadline.New(timeout)
	done := 0
	q.mu.Lock()
	defer q.mu.Unlock()
	for done < len(src) {
		n := q.tryEnqueueBulkLocked(src[done:])
		done += n
		if n > 0 {
			q.notEmpty.Broadcast()
		}
		if done >= len(src) {
			return true
		}
		if d.Expired() {
			return false
		}
		d.Wait(q.notFull)
	}
	return true
}

// dequeueBulk is partial-on-timeout: it returns however much it has
// managed to fill by the time the deadline elapses.
func (q *queue[T]) dequeueBulk(dst []T, timeout time.Duration) int {
	d := deadline.New(timeout)
	done := 0
	q.mu.Lock()
	defer q.mu.Unlock()
	for done < len(dst) {
		n := q.tryDequeueBulkLocked(dst[done:])
		done += n
		if n > 0 {
			q.notFull.Broadcast()
		}
		if done >= len(dst) {
			return done
		}
		if d.Expired() {
			return done
		}
		d.Wait(q.notEmpty)
	}
	return done
}

func (q *queue[T]) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head == q.tail
}

func (q *queue[T]) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(ringalg.OccupancyMod(q.head, q.tail, q.n()))
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Sink is the producer-side handle.
type Sink[T any] struct {
	noCopy noCopy
	q      *queue[T]
}

// Source is the consumer-side handle.
type Source[T any] struct {
	noCopy noCopy
	q      *queue[T]
}

// NewQueue constructs a mutex-backed bounded queue of exactly the given
// capacity (no power-of-two rounding; a capacity below 2 is raised to 2).
func NewQueue[T any](capacity int) (Sink[T], Source[T]) {
	q := newQueue[T](capacity)
	return Sink[T]{q: q}, Source[T]{q: q}
}

// Cap returns the queue's capacity.
func (s Sink[T]) Cap() int { return s.q.cap() }

// TryEnqueue stores v without blocking. Returns false if the queue is full.
func (s Sink[T]) TryEnqueue(v T) bool { return s.q.tryEnqueue(v) }

// TryEnqueueBulk stores as many elements of src as currently fit, in
// order, and returns the count actually stored (0..len(src)).
func (s Sink[T]) TryEnqueueBulk(src []T) int { return s.q.tryEnqueueBulk(src) }

// Enqueue stores v, blocking until it succeeds or timeout elapses.
func (s Sink[T]) Enqueue(v T, timeout time.Duration) bool { return s.q.enqueue(v, timeout) }

// EnqueueBulk stores all of src, blocking until it succeeds in full or
// timeout elapses (all-or-timeout).
func (s Sink[T]) EnqueueBulk(src []T, timeout time.Duration) bool {
	return s.q.enqueueBulk(src, timeout)
}

// Empty reports whether the queue appeared empty at the time of the call.
func (s Sink[T]) Empty() bool { return s.q.empty() }

// Size reports the queue's occupancy at the time of the call.
func (s Sink[T]) Size() int { return s.q.size() }

// Cap returns the queue's capacity.
func (c Source[T]) Cap() int { return c.q.cap() }

// TryDequeue removes and returns the oldest element without blocking.
func (c Source[T]) TryDequeue() (T, bool) { return c.q.tryDequeue() }

// TryDequeueBulk fills dst with the oldest available elements, in FIFO
// order, returning the count actually extracted (0..len(dst)).
func (c Source[T]) TryDequeueBulk(dst []T) int { return c.q.tryDequeueBulk(dst) }

// Dequeue removes and returns the oldest element, blocking until one is
// available or timeout elapses.
func (c Source[T]) Dequeue(timeout time.Duration) (T, bool) { return c.q.dequeue(timeout) }

// DequeueBulk fills dst, blocking until it is full or timeout elapses
// (partial-on-timeout).
func (c Source[T]) DequeueBulk(dst []T, timeout time.Duration) int {
	return c.q.dequeueBulk(dst, timeout)
}

// Empty reports whether the queue appeared empty at the time of the call.
func (c Source[T]) Empty() bool { return c.q.empty() }

// Size reports the queue's occupancy at the time of the call.
func (c Source[T]) Size() int { return c.q.size() }
