// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package spscmmap_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/spscq/spscmmap"
)

func TestCap(t *testing.T) {
	sink, _, err := spscmmap.NewRing[int](5)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()
	if got := sink.Cap(); got != 8 {
		t.Fatalf("Cap() = %d, want 8 (rounded up from 5)", got)
	}
}

func TestFIFOAndCapacityBound(t *testing.T) {
	sink, source, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	for _, v := range []int{10, 20, 30, 40, 50} {
		if !sink.TryEnqueue(v) {
			t.Fatalf("TryEnqueue(%d) failed unexpectedly", v)
		}
	}
	for _, want := range []int{10, 20, 30, 40, 50} {
		got, ok := source.TryDequeue()
		if !ok || got != want {
			t.Fatalf("TryDequeue() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}

	for v := 1; v <= 7; v++ {
		if !sink.TryEnqueue(v) {
			t.Fatalf("TryEnqueue(%d) failed unexpectedly", v)
		}
	}
	if sink.TryEnqueue(999) {
		t.Fatalf("TryEnqueue(999) succeeded at capacity-1 occupancy, want false")
	}
	if _, ok := source.TryDequeue(); !ok {
		t.Fatalf("TryDequeue() failed unexpectedly")
	}
	if !sink.TryEnqueue(999) {
		t.Fatalf("TryEnqueue(999) failed after freeing a slot")
	}

	var drained []int
	for {
		v, ok := source.TryDequeue()
		if !ok {
			break
		}
		drained = append(drained, v)
	}
	want := []int{2, 3, 4, 5, 6, 7, 999}
	if len(drained) != len(want) {
		t.Fatalf("drained = %v, want %v", drained, want)
	}
	for i := range want {
		if drained[i] != want[i] {
			t.Fatalf("drained = %v, want %v", drained, want)
		}
	}
}

func TestWrapAroundInvariance(t *testing.T) {
	sink, source, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	next := 0
	for round := 0; round < 100; round++ {
		if sink.Size() < sink.Cap()-1 {
			sink.TryEnqueue(next)
			next++
		}
		if round%3 != 0 {
			source.TryDequeue()
		}
		if got := sink.Size(); got > sink.Cap()-1 {
			t.Fatalf("Size() = %d at round %d, want <= %d", got, round, sink.Cap()-1)
		}
	}
}

func TestBulkConservation(t *testing.T) {
	sink, source, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	if n := sink.TryEnqueueBulk([]int{1, 2, 3, 4}); n != 4 {
		t.Fatalf("TryEnqueueBulk = %d, want 4", n)
	}
	dst := make([]int, 2)
	if n := source.TryDequeueBulk(dst); n != 2 || dst[0] != 1 || dst[1] != 2 {
		t.Fatalf("TryDequeueBulk = %d %v, want 2 [1 2]", n, dst)
	}
	if n := sink.TryEnqueueBulk([]int{5, 6}); n != 2 {
		t.Fatalf("TryEnqueueBulk = %d, want 2", n)
	}
	if n := sink.TryEnqueueBulk([]int{7, 8, 9, 10}); n != 3 {
		t.Fatalf("TryEnqueueBulk = %d, want 3 (only room for 3)", n)
	}
	dst = make([]int, 7)
	if n := source.TryDequeueBulk(dst); n != 7 {
		t.Fatalf("TryDequeueBulk = %d, want 7", n)
	}
	want := []int{3, 4, 5, 6, 7, 8, 9}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("drained = %v, want %v", dst, want)
		}
	}
}

func TestBulkEnqueueZero(t *testing.T) {
	sink, _, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()
	if n := sink.TryEnqueueBulk(nil); n != 0 {
		t.Fatalf("TryEnqueueBulk(nil) = %d, want 0", n)
	}
}

func TestAdvisoryObserversQuiescent(t *testing.T) {
	sink, source, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()
	if !sink.Empty() || sink.Size() != 0 {
		t.Fatalf("new ring not reported empty: Empty()=%v Size()=%d", sink.Empty(), sink.Size())
	}
	sink.TryEnqueue(1)
	sink.TryEnqueue(2)
	if sink.Empty() || sink.Size() != 2 {
		t.Fatalf("after 2 enqueues: Empty()=%v Size()=%d, want false 2", sink.Empty(), sink.Size())
	}
	source.TryDequeue()
	source.TryDequeue()
	if !source.Empty() || source.Size() != 0 {
		t.Fatalf("after draining: Empty()=%v Size()=%d, want true 0", source.Empty(), source.Size())
	}
}

func TestDeadlineCompliance(t *testing.T) {
	sink, _, err := spscmmap.NewRing[int](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	for v := 1; v <= 7; v++ {
		if !sink.TryEnqueue(v) {
			t.Fatalf("TryEnqueue(%d) failed unexpectedly", v)
		}
	}

	start := time.Now()
	ok := sink.Enqueue(999, 50*time.Millisecond)
	elapsed := time.Since(start)
	if ok {
		t.Fatalf("Enqueue succeeded against a full ring with no consumer")
	}
	if elapsed < 30*time.Millisecond || elapsed > 300*time.Millisecond {
		t.Fatalf("elapsed = %v, want between 30ms and 300ms", elapsed)
	}
}

func TestMoveOnSuccess(t *testing.T) {
	type payload struct{ n int }

	sink, source, err := spscmmap.NewRing[payload](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	for v := 0; v <= 6; v++ {
		if !sink.TryEnqueue(payload{n: v}) {
			t.Fatalf("TryEnqueue(%d) failed unexpectedly", v)
		}
	}

	var drained []payload
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		for len(drained) < 1 {
			if v, ok := source.TryDequeue(); ok {
				drained = append(drained, v)
			}
		}
	}()

	toEnqueue := payload{n: 99}
	ok := sink.Enqueue(toEnqueue, 500*time.Millisecond)
	wg.Wait()
	if !ok {
		t.Fatalf("Enqueue(toEnqueue, 500ms) timed out despite a draining consumer")
	}
	if toEnqueue.n != 99 {
		t.Fatalf("caller's value mutated by Enqueue: got %+v, want {99}", toEnqueue)
	}

	var rest []payload
	for {
		v, ok := source.TryDequeue()
		if !ok {
			break
		}
		rest = append(rest, v)
	}
	if len(rest) == 0 || rest[len(rest)-1].n != 99 {
		t.Fatalf("drained tail = %v, want last element {99}", rest)
	}
}

func TestUseAfterDequeueValidity(t *testing.T) {
	// payload, not string: spscmmap's storage lives outside memory the Go
	// garbage collector scans, so T may not contain pointers (which a
	// string's header does) — see assertNoPointers in ring.go.
	type payload struct{ n int }

	sink, source, err := spscmmap.NewRing[payload](8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	sink.TryEnqueue(payload{n: 1})
	v, ok := source.TryDequeue()
	if !ok || v.n != 1 {
		t.Fatalf("TryDequeue() = (%+v, %v), want ({1}, true)", v, ok)
	}
	for i := 0; i < 10; i++ {
		sink.TryEnqueue(payload{n: 2})
		source.TryDequeue()
	}
	if v.n != 1 {
		t.Fatalf("previously dequeued value mutated to %+v after further ring activity", v)
	}
}

func TestConcurrentProducerConsumer(t *testing.T) {
	const n = 1000
	sink, source, err := spscmmap.NewRing[int](256)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	defer sink.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !sink.Enqueue(i, time.Second) {
			}
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			v, ok := source.Dequeue(time.Second)
			if ok {
				received = append(received, v)
			}
		}
	}()
	wg.Wait()

	for i := 0; i < n; i++ {
		if received[i] != i {
			t.Fatalf("received[%d] = %d, want %d", i, received[i], i)
		}
	}
}
