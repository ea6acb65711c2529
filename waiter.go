// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import (
	"sync"
	"sync/atomic"
)

// dll is a node in a doubly-linked, circular list of waiters, identical in
// shape to nsync's waiter.go dll: a sentinel node (the Lock's wait-list
// head) is itself a dll with elem == nil, and every waiter embeds one
// pointing back to itself.
type dll struct {
	next, prev *dll
	elem       *Waiter
}

func (l *dll) makeEmpty() { l.next, l.prev = l, l }

func (l *dll) isEmpty() bool { return l.next == l }

// insertBefore inserts e immediately before p (so that appending with
// p == &list bumps e to the tail of a FIFO list rooted at list).
func (e *dll) insertBefore(p *dll) {
	e.prev = p.prev
	e.next = p
	e.prev.next = e
	e.next.prev = e
}

func (e *dll) remove() {
	e.next.prev = e.prev
	e.prev.next = e.next
	e.next, e.prev = nil, nil
}

// A Waiter is one blocked caller's queue entry. It can be caller-
// allocated (typically on the waiter's own stack) to avoid allocating on
// the contended path; LockReadWaiter/LockIntentWaiter/LockWriteWaiter
// accept a caller-supplied *Waiter for exactly this reason, letting the
// caller inspect queue position (Mode, Start) and outcome (Acquired)
// after the call returns. The zero value is not ready to use; construct
// one with NewWaiter. LockRead/LockIntent/LockWrite, which don't expose
// queue position, obtain one from a package-level sync.Pool (the TryLock
// and Relock variants never block and use no Waiter at all)
// instead, grounded on nsync's own waiter free-list, which keeps them
// off the heap after warmup without requiring every caller to manage the
// allocation themselves.
type Waiter struct {
	q     dll
	mode  Mode
	token *Token // nil for Read waiters; the identity being granted Intent/Write

	// start orders waiters FIFO within a mode even when two enqueue in the
	// same clock tick; the later one is bumped to last+1.
	start int64

	// acquired is set to 1 by the waker, under waitMu, immediately before
	// the wakeup is delivered: direct handoff. The waiter never re-runs
	// the acquisition loop; it only observes this flag.
	acquired uint32

	// sem is a binary semaphore used to deliver the wakeup, the same
	// technique as nsync's binarySemaphore: a buffered channel that can
	// hold at most one pending wakeup.
	sem chan struct{}

	// cause, set alongside canceled for waiters woken by cancellation
	// rather than a grant, carries the cancellation error or nil.
	cause error
	// canceled records that the waiter was taken off the queue and is not
	// to be granted the lock, distinct from "granted" (acquired && cause
	// == nil).
	canceled bool
}

// NewWaiter returns a Waiter ready to pass to LockReadWaiter,
// LockIntentWaiter, or LockWriteWaiter. Callers that supply their own
// Waiter (rather than letting Lock pull one from its internal pool) are
// responsible for not reusing it concurrently across two blocked calls.
func NewWaiter() *Waiter {
	return &Waiter{sem: make(chan struct{}, 1)}
}

// Mode reports the access mode this waiter is queued for.
func (w *Waiter) Mode() Mode { return w.mode }

// Start returns the FIFO ordering timestamp assigned when the waiter was
// enqueued, in the same units as time.Now().UnixNano(). It is zero until
// the waiter has actually been enqueued (it may be granted on the fast
// path and never enqueued at all). Like Mode, it is meant to be read
// after the blocking call that owns w has returned.
func (w *Waiter) Start() int64 { return w.start }

// Acquired reports whether the lock has been granted to this waiter.
// False both before the outcome is known and if the wait ended in
// cancellation; check the blocking call's returned error to distinguish
// the two.
func (w *Waiter) Acquired() bool { return w.isAcquired() }

func newWaiterLocked(mode Mode, token *Token) *Waiter {
	w := waiterPool.Get().(*Waiter)
	w.mode = mode
	w.token = token
	w.acquired = 0
	w.cause = nil
	w.canceled = false
	w.q.elem = w
	return w
}

func releaseWaiter(w *Waiter) {
	w.token = nil
	w.cause = nil
	select {
	case <-w.sem:
	default:
	}
	waiterPool.Put(w)
}

var waiterPool = sync.Pool{
	New: func() interface{} {
		return &Waiter{sem: make(chan struct{}, 1)}
	},
}

func (w *Waiter) isAcquired() bool { return atomic.LoadUint32(&w.acquired) != 0 }

// grant marks w as having been handed the lock directly by the releaser:
// unlink the waiter, set acquired, then wake it. Must be called with
// waitMu held and w already removed from the wait list.
func (w *Waiter) grant() {
	atomic.StoreUint32(&w.acquired, 1)
	select {
	case w.sem <- struct{}{}:
	default:
	}
}

// abort marks w as canceled with the given cause and wakes its goroutine.
// Must be called with waitMu held and w already removed from the wait
// list.
func (w *Waiter) abort(cause error) {
	w.canceled = true
	w.cause = cause
	select {
	case w.sem <- struct{}{}:
	default:
	}
}

// wait blocks until grant or abort is called for w.
func (w *Waiter) wait() {
	<-w.sem
}
