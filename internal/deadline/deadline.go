// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package deadline implements the blocking/timeout shell shared by every
// bounded queue engine in this module: compute a deadline once at entry,
// retry the non-blocking primitive, and surrender when the deadline has
// passed.
package deadline

import (
	"sync"
	"time"

	"code.hybscloud.com/spin"
)

// Deadline is a monotonic point in time computed once at the start of a
// timed operation.
type Deadline struct {
	at time.Time
}

// New computes a deadline d in the future. d <= 0 produces an
// already-expired deadline so the caller's first attempt is also its
// last.
func New(d time.Duration) Deadline {
	return Deadline{at: time.Now().Add(d)}
}

// Expired reports whether the deadline has passed.
func (d Deadline) Expired() bool {
	return !time.Now().Before(d.at)
}

// Remaining returns the time left until the deadline, or 0 if it has
// already passed.
func (d Deadline) Remaining() time.Duration {
	r := time.Until(d.at)
	if r < 0 {
		return 0
	}
	return r
}

// SpinUntil retries attempt, cooperatively yielding between tries, until
// attempt succeeds or the deadline expires. It never busy-loops on a
// single core indefinitely: each failed attempt is followed by one
// spin.Wait step before the deadline is rechecked.
//
// Used by the lock-free engines, where blocking a goroutine the way the
// mutex engine does would defeat the point of lock-freedom: a timed
// enqueue/dequeue on those engines spins, it does not sleep.
func SpinUntil(d Deadline, attempt func() bool) bool {
	if attempt() {
		return true
	}
	if d.Expired() {
		return false
	}
	sw := spin.Wait{}
	for {
		sw.Once()
		if attempt() {
			return true
		}
		if d.Expired() {
			return false
		}
	}
}

// Cond wraps a sync.Cond with a deadline-aware Wait. The standard library
// sync.Cond has no timed wait, so Cond arms a one-shot timer per call that
// broadcasts the condition when the deadline elapses; the waiter always
// re-checks its own predicate after waking; a wake caused by the timer
// looks identical to a spurious wakeup; Wait returns whether it woke
// before the deadline so the caller can distinguish "try the predicate
// again" from "give up".
type Cond struct {
	L *sync.Mutex
	c *sync.Cond
}

// NewCond returns a Cond guarded by l. l must be held by the caller of
// Wait exactly as sync.Cond requires.
func NewCond(l *sync.Mutex) *Cond {
	return &Cond{L: l, c: sync.NewCond(l)}
}

// Broadcast wakes all goroutines waiting on the condition.
func (c *Cond) Broadcast() { c.c.Broadcast() }

// Signal wakes one goroutine waiting on the condition, if any.
func (c *Cond) Signal() { c.c.Signal() }

// Wait blocks until Broadcast/Signal is called or the deadline elapses.
// The caller must hold c.L. Returns false once the deadline has passed;
// the caller must still re-check its predicate in either case, since a
// Broadcast and a timeout can race.
func (d Deadline) Wait(c *Cond) bool {
	remaining := d.Remaining()
	if remaining <= 0 {
		return false
	}
	// The timer takes c.L before broadcasting, so it cannot fire between
	// this point and the waiter enlisting in c.c.Wait.
	timer := time.AfterFunc(remaining, func() {
		c.L.Lock()
		c.c.Broadcast()
		c.L.Unlock()
	})
	defer timer.Stop()
	c.c.Wait()
	return !d.Expired()
}
