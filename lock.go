// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package trilock implements a three-mode sequenced lock: shared read,
// exclusive-but-reader-compatible intent, and fully exclusive write (an
// upgrade of intent, not an independent mode). It is built for
// filesystem/B-tree-style workloads that want to reserve a node for
// future mutation while still permitting concurrent lookups, then
// perform the mutation later without holding a writer lock across
// arbitrary caller work.
//
// The design is grounded in v.io/x/lib/nsync's Mu: a single packed atomic
// state word arbitrated by compare-and-swap, a spinlock-protected FIFO
// wait list, and a direct-handoff wake-up protocol in which the releaser
// acquires the lock on the next waiter's behalf before waking it.
package trilock

import (
	"context"
	"sync"
	"sync/atomic"
)

// A Lock grants read, intent, and write access per the package doc. The
// zero value is not ready to use; construct one with New.
type Lock struct {
	word atomic.Uint64

	// owner is the Token currently holding intent; non-nil iff
	// intentHeldBit is set. Set when intent_held goes 0->1 and cleared on
	// the final intent release; read by the debug-mode contract
	// assertions (assertIntentOwner).
	owner atomic.Pointer[Token]

	// intentRecurse counts nested intent acquisitions by owner; the
	// underlying intentHeldBit is released only when it reaches zero.
	intentRecurse atomic.Int32

	shard atomic.Pointer[Shard]

	// waitMu is wait_lock: a plain mutex guarding the wait list and the
	// waiter bits' "is the list actually empty of this mode" decision.
	// It never guards `word` itself, which is CAS-arbitrated lock-free;
	// it only serializes the "retry once, else enqueue" race against a
	// concurrent releaser's wake scan.
	waitMu   sync.Mutex
	waitHead dll
	lastStart int64

	metrics *Metrics
}

// New returns an idle Lock with no holders, no waiters, and seq == 0.
func New() *Lock {
	l := &Lock{}
	l.waitHead.makeEmpty()
	return l
}

// SetMetrics attaches a Metrics collector that future acquisitions and
// releases report into. Not safe to call concurrently with use of the
// lock.
func (l *Lock) SetMetrics(m *Metrics) { l.metrics = m }

// ShardAlloc attaches a per-CPU reader shard. It must be called with no
// outstanding readers; in debug builds a concurrent reader is a contract
// violation like any other (see debug.go).
func (l *Lock) ShardAlloc() {
	assertNoReaders(l, "ShardAlloc")
	l.shard.Store(newShard())
}

// ShardFree detaches the per-CPU reader shard, requiring no outstanding
// readers. After this call reads fall back to the shared read_count
// field.
func (l *Lock) ShardFree() {
	assertNoReaders(l, "ShardFree")
	l.shard.Store(nil)
}

// --- fast-path acquisition, one CAS loop per mode ---

func (l *Lock) readersAbsent() bool {
	if sh := l.shard.Load(); sh != nil {
		return sh.isZero()
	}
	return readCountOf(l.word.Load()) == 0
}

func (l *Lock) tryReadCAS() bool {
	for {
		word := l.word.Load()
		if writeHeldOf(word) || writeLockingOf(word) {
			return false
		}
		n := readCountOf(word)
		if n == maxReadCount {
			return false
		}
		if l.word.CompareAndSwap(word, withReadCount(word, n+1)) {
			return true
		}
	}
}

// tryLockReadShard implements the per-CPU fast path: bump the local
// cell, then check whether a writer has since announced itself. The
// increment and the subsequent load of state are both atomic operations
// (rather than a plain store plus explicit fence), which gives Go's
// memory model the ordering guarantee this needs by construction: either
// this goroutine's increment is visible to a writer's shard sum, or the
// writer's write_locking announcement is visible to this load. Both
// failing to observe each other is impossible because both sides only
// ever touch these fields through sync/atomic.
func (l *Lock) tryLockReadShard(sh *Shard) bool {
	cell, unpin := sh.pin()
	cell.inc()
	word := l.word.Load()
	if writeHeldOf(word) || writeLockingOf(word) {
		cell.dec()
		unpin()
		// This retraction may have raced a writer's shard-sum scan,
		// transiently overcounting it; nudge the writer to retry. The
		// nudge runs on its own goroutine because lockSlow and wakeScan
		// reach this point with waitMu already held.
		go l.wakeScan(Write)
		return false
	}
	unpin()
	return true
}

func (l *Lock) tryAcquireIntentBit() bool {
	for {
		word := l.word.Load()
		if intentHeldOf(word) {
			return false
		}
		if l.word.CompareAndSwap(word, word|intentHeldBit) {
			return true
		}
	}
}

func (l *Lock) announceWriteLocking() bool {
	for {
		word := l.word.Load()
		if writeLockingOf(word) {
			return false
		}
		if l.word.CompareAndSwap(word, word|writeLockingBit) {
			return true
		}
	}
}

// retractWriteLocking clears write_locking unconditionally, optionally
// waking readers that may have deferred to it.
func (l *Lock) retractWriteLocking(wakeReaders bool) {
	for {
		word := l.word.Load()
		if l.word.CompareAndSwap(word, word&^writeLockingBit) {
			break
		}
	}
	if wakeReaders {
		l.wakeScan(Read)
	}
}

// tryWriteCASAnnounced assumes write_locking is already set (by this
// caller or another writer already in flight) and attempts the second
// phase: confirm no readers, then bump seq odd and clear write_locking
// atomically. It does not itself retract write_locking on failure,
// since that announcement may still be needed by a queued writer.
func (l *Lock) tryWriteCASAnnounced() bool {
	if !l.readersAbsent() {
		return false
	}
	for {
		word := l.word.Load()
		if readCountOf(word) != 0 || writeHeldOf(word) {
			return false
		}
		newWord := (word &^ writeLockingBit) + seqUnit
		if l.word.CompareAndSwap(word, newWord) {
			return true
		}
	}
}

// tryWriteCAS is the non-blocking, self-contained write attempt used by
// TryLockWrite: it announces write_locking itself and retracts it again
// if the attempt doesn't pan out, since a bare trylock must never leave
// state behind for someone else to clean up.
func (l *Lock) tryWriteCAS() bool {
	if !l.announceWriteLocking() {
		return false
	}
	ok := l.tryWriteCASAnnounced()
	if !ok {
		l.retractWriteLocking(true)
	}
	return ok
}

// tryAcquireLocked dispatches the mode-appropriate fast-path attempt. The
// name mirrors its two callers: the slow path's "retry once while holding
// waitMu" and wakeScan's "perform the acquisition on the waiter's behalf"
// — neither actually requires holding waitMu for correctness of the word
// CAS itself, only for synchronizing the decision against the wait list.
func (l *Lock) tryAcquireLocked(mode Mode) bool {
	switch mode {
	case Read:
		if sh := l.shard.Load(); sh != nil {
			return l.tryLockReadShard(sh)
		}
		return l.tryReadCAS()
	case Intent:
		return l.tryAcquireIntentBit()
	case Write:
		return l.tryWriteCASAnnounced()
	default:
		panic("trilock: invalid mode")
	}
}

// --- public trylock_M ---

// TryLockRead attempts shared read access without blocking.
func (l *Lock) TryLockRead() bool {
	var ok bool
	if sh := l.shard.Load(); sh != nil {
		ok = l.tryLockReadShard(sh)
	} else {
		ok = l.tryReadCAS()
	}
	l.observeTry(Read, ok)
	return ok
}

// TryLockIntent attempts intent access without blocking, attributing
// ownership to token on success. token must be non-nil and, for the
// lifetime of the hold, must be the same *Token passed to every recursive
// IncrementIntent, UnlockIntent, Downgrade, and write call.
func (l *Lock) TryLockIntent(token *Token) bool {
	ok := l.tryAcquireIntentBit()
	if ok {
		l.owner.Store(token)
		l.intentRecurse.Store(1)
	}
	l.observeTry(Intent, ok)
	return ok
}

// TryLockWrite attempts the write upgrade without blocking. The caller
// must already hold intent via token (write is an upgrade of intent, not
// an independent mode); in debug builds holding a different token or no
// intent at all is a contract violation (see debug.go).
func (l *Lock) TryLockWrite(token *Token) bool {
	assertIntentOwner(l, token, "TryLockWrite")
	ok := l.tryWriteCAS()
	l.observeTry(Write, ok)
	return ok
}

// --- public lock_M / lock_M_waiter ---

// LockRead blocks until read access is granted, ctx is done, or abort
// returns a non-nil error, whichever comes first.
func (l *Lock) LockRead(ctx context.Context, abort ShouldAbort) error {
	return l.lockMode(ctx, abort, Read, nil, nil)
}

// LockReadWaiter is LockRead using a caller-supplied Waiter, constructed
// with NewWaiter, so the caller can inspect queue position and outcome
// via w once the call returns.
func (l *Lock) LockReadWaiter(ctx context.Context, abort ShouldAbort, w *Waiter) error {
	return l.lockMode(ctx, abort, Read, nil, w)
}

// LockIntent blocks until intent is granted and attributes it to token.
func (l *Lock) LockIntent(ctx context.Context, abort ShouldAbort, token *Token) error {
	return l.lockMode(ctx, abort, Intent, token, nil)
}

// LockIntentWaiter is LockIntent using a caller-supplied Waiter,
// constructed with NewWaiter.
func (l *Lock) LockIntentWaiter(ctx context.Context, abort ShouldAbort, token *Token, w *Waiter) error {
	return l.lockMode(ctx, abort, Intent, token, w)
}

// LockWrite blocks until the write upgrade succeeds. token must already
// hold intent.
func (l *Lock) LockWrite(ctx context.Context, abort ShouldAbort, token *Token) error {
	assertIntentOwner(l, token, "LockWrite")
	return l.lockMode(ctx, abort, Write, token, nil)
}

// LockWriteWaiter is LockWrite using a caller-supplied Waiter,
// constructed with NewWaiter.
func (l *Lock) LockWriteWaiter(ctx context.Context, abort ShouldAbort, token *Token, w *Waiter) error {
	assertIntentOwner(l, token, "LockWrite")
	return l.lockMode(ctx, abort, Write, token, w)
}

func (l *Lock) lockMode(ctx context.Context, abort ShouldAbort, mode Mode, token *Token, w *Waiter) error {
	switch mode {
	case Intent:
		if l.tryAcquireIntentBit() {
			l.owner.Store(token)
			l.intentRecurse.Store(1)
			l.observeTry(Intent, true)
			return nil
		}
	case Write:
		// Unlike tryAcquireLocked(Write), tryWriteCAS announces
		// write_locking itself before checking readers, which the slow
		// path below otherwise relies on the caller having already
		// done (see lockSlow's announcedWrite). Skipping the
		// announcement here would let a concurrent reader's shard
		// increment race the reader-absence check.
		if l.tryWriteCAS() {
			l.observeTry(Write, true)
			return nil
		}
	default:
		if l.tryAcquireLocked(mode) {
			l.observeTry(mode, true)
			return nil
		}
	}
	l.observeTry(mode, false)
	return l.lockSlow(ctx, abort, mode, token, w)
}

func (l *Lock) lockSlow(ctx context.Context, abort ShouldAbort, mode Mode, token *Token, w *Waiter) error {
	owned := w == nil
	if owned {
		w = newWaiterLocked(mode, token)
	} else {
		w.mode = mode
		w.token = token
		atomic.StoreUint32(&w.acquired, 0)
		w.canceled = false
		w.cause = nil
		w.q.elem = w
		select {
		case <-w.sem:
		default:
		}
	}

	announcedWrite := mode == Write && l.announceWriteLocking()

	l.waitMu.Lock()
	if l.tryAcquireLocked(mode) {
		if mode == Intent {
			l.owner.Store(token)
			l.intentRecurse.Store(1)
		}
		l.waitMu.Unlock()
		if announcedWrite {
			l.retractWriteLocking(false)
		}
		if owned {
			releaseWaiter(w)
		}
		return nil
	}
	l.setWaiterBitLocked(mode)
	l.enqueueLocked(w)
	l.waitMu.Unlock()
	l.observeBlocked(mode)

	var err error
	if optimisticSpin(w) {
		err = w.cause
	} else {
		err = l.awaitGrant(ctx, abort, w)
	}

	if err != nil && announcedWrite {
		l.undoWriteAnnounce()
	}
	if owned {
		releaseWaiter(w)
	}
	return err
}

// awaitGrant parks until w is granted or the caller cancels, consulting
// abort once up front and ctx.Done() for the remainder of the wait — the
// Go rendition of nsync's own CV.WaitWithDeadline(mu, deadline,
// cancelChan), whose doc already names a context's Done channel as a
// suitable cancelChan.
func (l *Lock) awaitGrant(ctx context.Context, abort ShouldAbort, w *Waiter) error {
	if abort != nil {
		if cause := abort(); cause != nil {
			if l.cancelWaiter(w, cause) {
				l.observeCanceled()
				return cause
			}
			w.wait()
			return w.cause
		}
	}
	select {
	case <-w.sem:
		return w.cause
	case <-ctx.Done():
		if l.cancelWaiter(w, classifyCtxErr(ctx)) {
			l.observeCanceled()
			return w.cause
		}
		w.wait()
		return w.cause
	}
}

func classifyCtxErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return ErrDeadlineExceeded
	}
	return ErrCanceled
}

// --- release ---

// UnlockRead releases one shared read unit. Undefined if the caller does
// not hold one; in debug builds this is a contract violation.
func (l *Lock) UnlockRead() {
	if sh := l.shard.Load(); sh != nil {
		cell, unpin := sh.pin()
		cell.dec()
		unpin()
	} else {
		for {
			word := l.word.Load()
			assertHeld(readCountOf(word) > 0, "UnlockRead: no read unit held")
			n := readCountOf(word)
			if l.word.CompareAndSwap(word, withReadCount(word, n-1)) {
				break
			}
		}
	}
	l.observeRelease(Read)
	if l.readersAbsent() {
		l.wakeScan(Write)
	}
}

// UnlockIntent releases one level of intent recursion, releasing the
// underlying hold (and clearing ownership) only once the recursion count
// reaches zero.
func (l *Lock) UnlockIntent(token *Token) {
	assertIntentOwner(l, token, "UnlockIntent")
	if l.intentRecurse.Add(-1) > 0 {
		return
	}
	l.owner.Store(nil)
	for {
		word := l.word.Load()
		if l.word.CompareAndSwap(word, word&^intentHeldBit) {
			break
		}
	}
	l.observeRelease(Intent)
	l.wakeScan(Intent)
}

// UnlockWrite releases the write upgrade, returning to intent-held-only.
func (l *Lock) UnlockWrite(token *Token) {
	assertIntentOwner(l, token, "UnlockWrite")
	for {
		word := l.word.Load()
		assertHeld(writeHeldOf(word), "UnlockWrite: write not held")
		if l.word.CompareAndSwap(word, word+seqUnit) {
			break
		}
	}
	l.observeRelease(Write)
	l.wakeScan(Read)
}

func (l *Lock) undoWriteAnnounce() { l.retractWriteLocking(true) }

// --- relock ---

// RelockRead acquires read iff the lock's sequence equals seq and read is
// currently compatible. Never sleeps.
func (l *Lock) RelockRead(seq uint64) bool {
	word := l.word.Load()
	if seqOf(word) != seq {
		return false
	}
	return l.TryLockRead()
}

// RelockIntent acquires intent iff the lock's sequence equals seq.
func (l *Lock) RelockIntent(seq uint64, token *Token) bool {
	word := l.word.Load()
	if seqOf(word) != seq {
		return false
	}
	return l.TryLockIntent(token)
}

// RelockWrite acquires the write upgrade iff the lock's sequence equals
// seq. token must already hold intent.
func (l *Lock) RelockWrite(seq uint64, token *Token) bool {
	word := l.word.Load()
	if seqOf(word) != seq {
		return false
	}
	return l.TryLockWrite(token)
}
