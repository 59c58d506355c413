// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package spscmmap provides a double-mapped variant of the lock-free SPSC
// ring: the ring's physical pages are mapped twice, adjacently, into
// virtual memory, so any span of up to the ring's physical size starting
// anywhere in the first mapping can be read or written as one contiguous
// range. Wrap-around becomes implicit in the address aliasing instead of
// a branch in the hot path. Bulk transfers use this single span only when
// the ring's slots fill the mapped region exactly; otherwise (a ring
// smaller than a page, or the heap fallback) they split at the wrap point.
//
// T must not contain pointers, slices, maps, channels, funcs, interfaces,
// or strings: the ring's storage lives in memory the Go garbage collector
// never scans (an anonymous double mapping, or a plain heap fallback
// treated the same way for uniformity), so anything reachable only
// through it would be invisible to the collector. NewRing panics if T
// fails this check.
package spscmmap

import (
	"reflect"
	"time"
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
	"code.hybscloud.com/spscq/internal/deadline"
	"code.hybscloud.com/spscq/internal/dmap"
	"code.hybscloud.com/spscq/internal/ringalg"
)

type ring[T any] struct {
	_          ringalg.Pad
	head       atomix.Uint64
	_          ringalg.Pad
	cachedTail uint64
	_          ringalg.Pad
	tail       atomix.Uint64
	_          ringalg.Pad
	cachedHead uint64
	_          ringalg.Pad
	region     *dmap.Region
	elemSize   uintptr
	mask       uint64
}

func newRing[T any](capacity int) (*ring[T], error) {
	assertNoPointers[T]()

	n := uint64(ringalg.RoundToPow2(capacity))
	var zero T
	elemSize := unsafe.Sizeof(zero)

	region, err := dmap.New(uintptr(n) * elemSize)
	if err != nil {
		return nil, err
	}
	return &ring[T]{
		region:   region,
		elemSize: elemSize,
		mask:     n - 1,
	}, nil
}

// Cap returns the physical capacity (rounded up to a power of two).
func (r *ring[T]) Cap() int { return int(r.mask + 1) }

func (r *ring[T]) slot(idx uint64) *T {
	return (*T)(unsafe.Add(r.region.Base, uintptr(idx)*r.elemSize))
}

func (r *ring[T]) tryEnqueueOne(v T) bool {
	tail := r.tail.LoadRelaxed()
	if tail-r.cachedHead >= r.mask {
		r.cachedHead = r.head.LoadAcquire()
		if tail-r.cachedHead >= r.mask {
			return false
		}
	}
	*r.slot(tail & r.mask) = v
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
	p := r.slot(head & r.mask)
	elem := *p
	var zero T
	*p = zero
	r.head.StoreRelease(head + 1)
	return elem, true
}

// tryEnqueueBulk writes a single straight-line span when the region is
// double-mapped and the ring's slots fill it exactly (wrap-around is
// implicit in the address aliasing); otherwise (heap fallback, or a ring
// smaller than the page-rounded region) it uses the two-segment copy of
// the array-backed SPSC engine.
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
	start := tail & r.mask
	if r.region.Mirrored && uintptr(r.mask+1)*r.elemSize == r.region.Size {
		dst := unsafe.Slice(r.slot(start), k)
		copy(dst, src[:k])
	} else {
		seg := ringalg.Split(tail, k, r.mask)
		copy(unsafe.Slice(r.slot(seg.Start1), seg.Len1), src[:seg.Len1])
		copy(unsafe.Slice(r.slot(seg.Start2), seg.Len2), src[seg.Len1:k])
	}
	r.tail.StoreRelease(tail + k)
	return int(k)
}

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
	start := head & r.mask
	var zero T
	if r.region.Mirrored && uintptr(r.mask+1)*r.elemSize == r.region.Size {
		src := unsafe.Slice(r.slot(start), k)
		copy(dst[:k], src)
		for i := range src {
			src[i] = zero
		}
	} else {
		seg := ringalg.Split(head, k, r.mask)
		s1 := unsafe.Slice(r.slot(seg.Start1), seg.Len1)
		s2 := unsafe.Slice(r.slot(seg.Start2), seg.Len2)
		copy(dst[:seg.Len1], s1)
		copy(dst[seg.Len1:k], s2)
		for i := range s1 {
			s1[i] = zero
		}
		for i := range s2 {
			s2[i] = zero
		}
	}
	r.head.StoreRelease(head + k)
	return int(k)
}

func (r *ring[T]) empty() bool {
	return r.head.LoadAcquire() == r.tail.LoadAcquire()
}

func (r *ring[T]) size() int {
	head := r.head.LoadAcquire()
	tail := r.tail.LoadAcquire()
	return int(ringalg.OccupancyMask(head, tail, r.mask))
}

func (r *ring[T]) close() error {
	head := r.head.LoadAcquire()
	tail := r.tail.LoadAcquire()
	var zero T
	for i := head; i != tail; i++ {
		*r.slot(i & r.mask) = zero
	}
	r.head.StoreRelease(tail)
	return r.region.Close()
}

func assertNoPointers[T any]() {
	var zero T
	if containsPointer(reflect.TypeOf(&zero).Elem()) {
		panic("spscmmap: T must not contain pointers, slices, maps, channels, funcs, interfaces, or strings")
	}
}

func containsPointer(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return containsPointer(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsPointer(t.Field(i).Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Sink is the producer-side handle.
type Sink[T any] struct {
	noCopy noCopy
	r      *ring[T]
}

// Source is the consumer-side handle.
type Source[T any] struct {
	noCopy noCopy
	r      *ring[T]
}

// NewRing constructs a double-mapped (or, on unsupported hosts,
// heap-backed) SPSC ring of the given capacity (rounded up to the next
// power of two, minimum 2). A failed double mapping falls back to heap
// storage instead of failing, so the returned error is currently always
// nil; the error result exists for parity with spec §7's
// construction-failure surface.
func NewRing[T any](capacity int) (Sink[T], Source[T], error) {
	r, err := newRing[T](capacity)
	if err != nil {
		return Sink[T]{}, Source[T]{}, err
	}
	return Sink[T]{r: r}, Source[T]{r: r}, nil
}

// Close releases the ring's backing memory and any live elements still
// enqueued. It may be called from either handle; calling it twice (from
// either or both handles) is safe.
func (s Sink[T]) Close() error { return s.r.close() }

// Close releases the ring's backing memory and any live elements still
// enqueued. It may be called from either handle; calling it twice (from
// either or both handles) is safe.
func (c Source[T]) Close() error { return c.r.close() }

// Cap returns the ring's physical capacity.
func (s Sink[T]) Cap() int { return s.r.Cap() }

// TryEnqueue stores v without blocking. Returns false if the ring is full.
func (s Sink[T]) TryEnqueue(v T) bool { return s.r.tryEnqueueOne(v) }

// TryEnqueueBulk stores as many elements of src as currently fit, in
// order, and returns the count actually stored (0..len(src)).
func (s Sink[T]) TryEnqueueBulk(src []T) int { return s.r.tryEnqueueBulk(src) }

// Enqueue stores v, blocking (by cooperative spin-yield) until it
// succeeds or timeout elapses.
//
// v is taken by value and written into the ring only by the attempt that
// has found a free slot: a failed attempt neither stores v nor alters the
// caller's variable, so every retry enqueues the original value.
func (s Sink[T]) Enqueue(v T, timeout time.Duration) bool {
	d := deadline.New(timeout)
	return deadline.SpinUntil(d, func() bool { return s.r.tryEnqueueOne(v) })
}

// EnqueueBulk stores all of src, blocking until it succeeds in full or
// timeout elapses (all-or-timeout).
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
func (c Source[T]) TryDequeue() (T, bool) { return c.r.tryDequeueOne() }

// TryDequeueBulk fills dst with the oldest available elements, in FIFO
// order, returning the count actually extracted (0..len(dst)).
func (c Source[T]) TryDequeueBulk(dst []T) int { return c.r.tryDequeueBulk(dst) }

// Dequeue removes and returns the oldest element, blocking until one is
// available or timeout elapses.
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

// DequeueBulk fills dst, blocking until it is full or timeout elapses
// (partial-on-timeout).
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
