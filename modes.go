// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

// Downgrade converts a held intent into a held read: add a read unit
// first, then release intent normally, so there is no window in which
// neither is held.
func (l *Lock) Downgrade(token *Token) {
	assertIntentOwner(l, token, "Downgrade")
	if sh := l.shard.Load(); sh != nil {
		cell, unpin := sh.pin()
		cell.inc()
		unpin()
	} else {
		for {
			word := l.word.Load()
			if l.word.CompareAndSwap(word, withReadCount(word, readCountOf(word)+1)) {
				break
			}
		}
	}
	l.UnlockIntent(token)
}

// TryUpgrade converts a held read into intent in place. It succeeds iff
// no intent is currently held; it does not wait for other
// readers to drain; the caller's own read contribution is removed (one
// unit from read_count, or from its shard cell if enabled) and replaced
// with one intent unit, atomically with respect to other CAS attempts on
// the shared field.
func (l *Lock) TryUpgrade(token *Token) bool {
	if sh := l.shard.Load(); sh != nil {
		if !l.tryAcquireIntentBit() {
			return false
		}
		l.owner.Store(token)
		l.intentRecurse.Store(1)
		cell, unpin := sh.pin()
		cell.dec()
		unpin()
		return true
	}
	for {
		word := l.word.Load()
		if intentHeldOf(word) {
			return false
		}
		n := readCountOf(word)
		assertHeld(n > 0, "TryUpgrade: no read unit held")
		newWord := withReadCount(word|intentHeldBit, n-1)
		if l.word.CompareAndSwap(word, newWord) {
			l.owner.Store(token)
			l.intentRecurse.Store(1)
			return true
		}
	}
}

// TryConvert performs one of the two valid mode conversions, read->intent
// (TryUpgrade) or intent->read (Downgrade, which never fails). Any other
// pairing is a contract violation.
func (l *Lock) TryConvert(from, to Mode, token *Token) bool {
	switch {
	case from == Read && to == Intent:
		return l.TryUpgrade(token)
	case from == Intent && to == Read:
		l.Downgrade(token)
		return true
	default:
		assertHeld(false, "TryConvert: unsupported conversion "+from.String()+"->"+to.String())
		return false
	}
}

// IncrementRead bumps the caller's already-held read count by one; the
// caller must already hold at least one read unit. Used by recursive
// readers and by code that wants to hold several independent read leases
// on the same object.
func (l *Lock) IncrementRead() {
	if sh := l.shard.Load(); sh != nil {
		cell, unpin := sh.pin()
		cell.inc()
		unpin()
		return
	}
	for {
		word := l.word.Load()
		n := readCountOf(word)
		if l.word.CompareAndSwap(word, withReadCount(word, n+1)) {
			return
		}
	}
}

// IncrementIntent bumps the recursion count for a caller that already
// holds intent via token. Recursion for read or write modes is out of
// scope; recursive intent is the one recursion this lock requires.
func (l *Lock) IncrementIntent(token *Token) {
	assertIntentOwner(l, token, "IncrementIntent")
	l.intentRecurse.Add(1)
}

// Counts reports the lock's observational state: outstanding reads, and
// whether intent and write are currently held.
func (l *Lock) Counts() (reads, intents, writes int) {
	word := l.word.Load()
	r := int64(readCountOf(word))
	if sh := l.shard.Load(); sh != nil {
		r = sh.sum()
	}
	if r < 0 {
		r = 0
	}
	reads = int(r)
	if intentHeldOf(word) {
		intents = 1
	}
	if writeHeldOf(word) {
		writes = 1
	}
	return reads, intents, writes
}

// Seq returns the lock's current sequence number, for use with
// RelockRead/RelockIntent/RelockWrite.
func (l *Lock) Seq() uint64 { return seqOf(l.word.Load()) }
