// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import (
	"runtime"
	"sync/atomic"
	_ "unsafe" // for go:linkname

	"golang.org/x/sys/cpu"
)

// A Shard is the optional per-CPU reader counter. When attached to a
// Lock (ShardAlloc), read acquisition and release become a local counter
// bump on one cache line per P instead of contention on the lock's
// single shared word; the rare writer pays the cost of summing every
// cell.
//
// Cells hold signed deltas rather than plain unsigned counts: an
// increment and its matching decrement need not land on the
// same cell (the goroutine that releases a read is rarely the one
// scheduled on the same P that acquired it), so individual cells may be
// transiently negative. Only the sum across all cells is meaningful, and
// it is always >= 0 for a lock used correctly.
type Shard struct {
	cells []shardCell
}

type shardCell struct {
	n int64
	_ cpu.CacheLinePad
}

// newShard allocates one cell per logical P. GOMAXPROCS, not NumCPU: the
// scheduler never runs more than GOMAXPROCS goroutines simultaneously, so
// that's the degree of real parallelism worth paying cache-line isolation
// for.
func newShard() *Shard {
	n := runtime.GOMAXPROCS(0)
	if n < 1 {
		n = 1
	}
	return &Shard{cells: make([]shardCell, n)}
}

// sum reports the net outstanding reader count across all cells.
func (s *Shard) sum() int64 {
	var total int64
	for i := range s.cells {
		total += atomic.LoadInt64(&s.cells[i].n)
	}
	return total
}

func (s *Shard) isZero() bool { return s.sum() == 0 }

// pin selects the cell for the calling goroutine's current P and disables
// preemption for the duration, the user-space equivalent of disabling
// preemption on the current CPU. It uses the same runtime hook
// sync.Pool's per-P pools use to pin themselves to a P for the length of a
// Get/Put; the lock does the equivalent here to keep its shard index
// stable across the increment-barrier-check sequence.
func (s *Shard) pin() (cell *shardCell, unpin func()) {
	pid := runtimeProcPin()
	cell = &s.cells[pid%len(s.cells)]
	return cell, runtimeProcUnpin
}

func (c *shardCell) inc() { atomic.AddInt64(&c.n, 1) }
func (c *shardCell) dec() { atomic.AddInt64(&c.n, -1) }

//go:linkname runtimeProcPin sync.runtime_procPin
func runtimeProcPin() int

//go:linkname runtimeProcUnpin sync.runtime_procUnpin
func runtimeProcUnpin()
