// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import "runtime"

// spinDelay backs off a CAS retry loop: a handful of empty busy-spins,
// then yielding the processor. Lifted from nsync's common.go spinDelay,
// which every CAS loop in mu.go and cv.go uses for exactly this purpose.
func spinDelay(attempts uint) uint {
	if attempts < 7 {
		for i := 0; i != 1<<attempts; i++ {
		}
		attempts++
	} else {
		runtime.Gosched()
	}
	return attempts
}

// maxOptimisticSpins bounds the optimistic spin: a waiter that would
// otherwise sleep instead busy-waits a little while, betting that the
// current holder is about to finish quickly. A kernel implementation of
// this idea can bound the spin by watching whether the owning task is
// still scheduled on a CPU; Go's runtime exposes no equivalent of
// owner-on-CPU to user code, so trilock instead bounds by iteration count
// the same way sync.Mutex's own normal-mode spin does (runtime_canSpin),
// and only spins at all when there is more than one P to make spinning
// plausibly productive (see Open Question in DESIGN.md).
const maxOptimisticSpins = 4

// canSpin reports whether optimistic spinning is worth attempting at all:
// single-CPU builds can never have the owner still running concurrently,
// so spinning there is pure waste (the same reasoning sync.Mutex's
// runtime_canSpin applies).
func canSpin() bool { return runtime.GOMAXPROCS(0) > 1 }

// optimisticSpin busy-waits for up to maxOptimisticSpins rounds hoping w
// is granted without a full sleep round-trip. It returns true iff w was
// granted (acquired or canceled) during the spin. This is only meaningful
// for Intent waiters at the head of the queue and for Read waiters; Write
// waiters never spin here, since they are blocked on readers draining
// rather than on a single owner relinquishing the lock.
func optimisticSpin(w *Waiter) bool {
	if w.mode == Write || !canSpin() {
		return false
	}
	for i := 0; i < maxOptimisticSpins; i++ {
		if w.isAcquired() || w.canceled {
			return true
		}
		runtime.Gosched()
	}
	return w.isAcquired() || w.canceled
}
