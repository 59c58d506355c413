// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package spsc provides a lock-free, array-backed, bounded single-producer
// single-consumer ring queue.
//
// Based on Lamport's ring buffer with cached index optimization: the
// producer caches the consumer's read index and vice versa, cutting
// cross-core cache line traffic on the hot path.
//
// Exactly one goroutine may call Sink methods and exactly one goroutine
// may call Source methods, concurrently with each other. Any other access
// pattern (two producers, two consumers) is undefined.
package spsc

import (
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"code.hybscloud.com/spscq/internal/deadline"
	"code.hybscloud.com/spscq/internal/ringalg"
)

// ring is the shared engine behind a Sink/Source pair. Its address is
// fixed at construction: it is never copied or moved, only referenced
// through the handles that share it.
type ring[T any] struct {
	_          ringalg.Pad
	head       atomix.Uint64 // next slot to read; consumer-owned
	_          ringalg.Pad
	cachedTail uint64 // consumer's cached view of tail
	_          ringalg.Pad
	tail       atomix.Uint64 // next slot to write; producer-owned
	_          ringalg.Pad
	cachedHead uint64 // producer's cached view of head
	_          ringalg.Pad
	buffer     []T
	mask       uint64
}

func newRing[T any](capacity int) *ring[T] {
	n := uint64(ringalg.RoundToPow2(capacity))
	return &ring[T]{
		buffer: make([]T, n),
		mask:   n - 1,
	}
}

// Cap returns the physical capacity (rounded up to a power of two).
// Maximum observable occupancy is Cap()-1: one slot is reserved to
// distinguish full from empty.
func (r *ring[T]) Cap() int { return int(r.mask + 1) }

func (r *ring[T]) tryEnqueueOne(v T) bool {
	tail := r.tail.LoadRelaxed()
	if tail-r.cachedHead >= r.mask {
		r.cachedHead = r.head.LoadAcquire()
		if tail-r.cachedHead >= r.mask {
			return false
		}
	}
	r.buffer[tail&r.mask] = v
	r.tail.StoreRelease(tail + 1)
	return true
}

func (r *ring[T]) tryDequeueOne() (T, bool) {
	head := r.head.LoadRelaxed()
	if head >= r.cachedTail {
		r.cachedTail = r.tail.LoadAcquire()
		if head >= r.cachedTail {
			var zero T
			return zero, false
		}
	}
	idx := head & r.mask
	elem := r.buffer[idx]
	var zero T
	r.buffer[idx] = zero // let the GC reclaim anything elem referenced
	r.head.StoreRelease(head + 1)
	return elem, true
}

// tryEnqueueBulk stores as many of src as currently fit, in order,
// starting from src[0]. It returns the number actually stored and never
// blocks or fails partway through a slot.
//
// Bulk transfers always take a fresh acquire snapshot of the opposite
// index rather than the single-element path's cached view: a bulk call
// is already amortizing one cross-core read over many elements, so there
// is nothing to save by risking a stale, under-reported free count.
func (r *ring[T]) tryEnqueueBulk(src []T) int {
	if len(src) == 0 {
		return 0
	}
	tail := r.tail.LoadRelaxed()
	head := r.head.LoadAcquire()
	r.cachedHead = head
	free := r.mask - (tail - head)
	k := uint64(len(src))
	if k > free {
		k = free
	}
	if k == 0 {
		return 0
	}
	seg := ringalg.Split(tail, k, r.mask)
	for i := uint64(0); i < seg.Len1; i++ {
		r.buffer[seg.Start1+i] = src[i]
	}
	for i := uint64(0); i < seg.Len2; i++ {
		r.buffer[seg.Start2+i] = src[seg.Len1+i]
	}
	r.tail.StoreRelease(tail + k)
	return int(k)
}

// tryDequeueBulk fills as much of dst as there is data for, in FIFO
// order, returning the number of elements extracted.
func (r *ring[T]) tryDequeueBulk(dst []T) int {
	if len(dst) == 0 {
		return 0
	}
	head := r.head.LoadRelaxed()
	tail := r.tail.LoadAcquire()
	r.cachedTail = tail
	occ := tail - head
	k := uint64(len(dst))
	if k > occ {
		k = occ
	}
	if k == 0 {
		return 0
	}
	seg := ringalg.Split(head, k, r.mask)
	var zero T
	for i := uint64(0); i < seg.Len1; i++ {
		idx := seg.Start1 + i
		dst[i] = r.buffer[idx]
		r.buffer[idx] = zero
	}
	for i := uint64(0); i < seg.Len2; i++ {
		idx := seg.Start2 + i
		dst[seg.Len1+i] = r.buffer[idx]
		r.buffer[idx] = zero
	}
	r.head.StoreRelease(head + k)
	return int(k)
}

// empty and size are advisory: a concurrent enqueue/dequeue on the other
// side may change the answer before the caller observes it.
func (r *ring[T]) empty() bool {
	return r.head.LoadAcquire() == r.tail.LoadAcquire()
}

func (r *ring[T]) size() int {
	head := r.head.LoadAcquire()
	tail := r.tail.LoadAcquire()
	return int(ringalg.OccupancyMask(head, tail, r.mask))
}

// noCopy, embedded by value, makes go vet flag accidental copies of Sink
// and Source (the same trick sync.Pool and sync.WaitGroup use).
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Sink is the producer-side handle. Its methods are forwarded directly to
// the shared ring; Sink carries no state of its own beyond the ring
// pointer, and holds no dequeue method.
type Sink[T any] struct {
	noCopy noCopy
	r      *ring[T]
}

// Source is the consumer-side handle; the mirror image of Sink.
type Source[T any] struct {
	noCopy noCopy
	r      *ring[T]
}

// NewRing constructs a lock-free SPSC ring of the given capacity (rounded
// up to the next power of two, minimum 2) and returns its producer and
// consumer handles. The ring is shared by both handles and stays alive as
// long as either is reachable.
func NewRing[T any](capacity int) (Sink[T], Source[T]) {
	r := newRing[T](capacity)
	return Sink[T]{r: r}, Source[T]{r: r}
}

// Cap returns the ring's physical capacity.
func (s Sink[T]) Cap() int { return s.r.Cap() }

// TryEnqueue stores v without blocking. Returns false if the ring is full.
func (s Sink[T]) TryEnqueue(v T) bool { return s.r.tryEnqueueOne(v) }

// TryEnqueueBulk stores as many elements of src as currently fit, in
// order, and returns the count actually stored (0..len(src)).
func (s Sink[T]) TryEnqueueBulk(src []T) int { return s.r.tryEnqueueBulk(src) }

// Enqueue stores v, blocking (by cooperative spin-yield) until it
// succeeds or timeout elapses. Returns false on timeout.
func (s Sink[T]) Enqueue(v T, timeout time.Duration) bool {
	d := deadline.New(timeout)
	return deadline.SpinUntil(d, func() bool { return s.r.tryEnqueueOne(v) })
}

// EnqueueBulk stores all of src, blocking until it succeeds in full or
// timeout elapses. This operation is all-or-timeout: on timeout it
// returns false, and any elements already transferred on earlier partial
// rounds remain in the ring (already-published data is never rolled
// back).
func (s Sink[T]) EnqueueBulk(src []T, timeout time.Duration) bool {
	d := deadline.New(timeout)
	done := 0
	sw := spin.Wait{}
	for done < len(src) {
		n := s.r.tryEnqueueBulk(src[done:])
		done += n
		if done >= len(src) {
			return true
		}
		if d.Expired() {
			return false
		}
		if n == 0 {
			sw.Once()
		}
	}
	return true
}

// Empty reports whether the ring appeared empty at the time of the call.
func (s Sink[T]) Empty() bool { return s.r.empty() }

// Size reports the ring's approximate occupancy at the time of the call.
func (s Sink[T]) Size() int { return s.r.size() }

// Cap returns the ring's physical capacity.
func (c Source[T]) Cap() int { return c.r.Cap() }

// TryDequeue removes and returns the oldest element without blocking.
// Returns (zero-value, false) if the ring is empty.
func (c Source[T]) TryDequeue() (T, bool) { return c.r.tryDequeueOne() }

// TryDequeueBulk fills dst with the oldest available elements, in FIFO
// order, returning the count actually extracted (0..len(dst)).
func (c Source[T]) TryDequeueBulk(dst []T) int { return c.r.tryDequeueBulk(dst) }

// Dequeue removes and returns the oldest element, blocking (by
// cooperative spin-yield) until one is available or timeout elapses.
func (c Source[T]) Dequeue(timeout time.Duration) (T, bool) {
	d := deadline.New(timeout)
	var out T
	ok := deadline.SpinUntil(d, func() bool {
		v, ok := c.r.tryDequeueOne()
		if ok {
			out = v
		}
		return ok
	})
	return out, ok
}

// DequeueBulk fills dst, blocking until it is full or timeout elapses.
// Unlike EnqueueBulk this is partial-on-timeout: it returns the number
// of elements actually extracted when the deadline passes, which may be
// less than len(dst).
func (c Source[T]) DequeueBulk(dst []T, timeout time.Duration) int {
	d := deadline.New(timeout)
	done := 0
	sw := spin.Wait{}
	for done < len(dst) {
		n := c.r.tryDequeueBulk(dst[done:])
		done += n
		if done >= len(dst) {
			return done
		}
		if d.Expired() {
			return done
		}
		if n == 0 {
			sw.Once()
		}
	}
	return done
}

// Empty reports whether the ring appeared empty at the time of the call.
func (c Source[T]) Empty() bool { return c.r.empty() }

// Size reports the ring's approximate occupancy at the time of the call.
func (c Source[T]) Size() int { return c.r.size() }
