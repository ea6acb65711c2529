// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btreeguard demonstrates the intent-then-write pattern
// trilock.Lock is built for: a mutator reserves a B-tree node for future
// modification while still letting concurrent lookups through, then
// performs the mutation once it actually has work to do, without ever
// holding a writer lock across the caller-supplied comparison/merge
// logic that google/btree calls back into. It deliberately does not
// implement B-tree transaction semantics (multi-node splits, rebalancing
// across a guarded subtree, etc.) — that remains out of scope, a caller
// concern layered on top.
package btreeguard

import (
	"context"
	"fmt"

	"github.com/google/btree"

	"github.com/arborstore/trilock"
)

// A Key is any ordered value storable in a Tree.
type Key interface {
	Less(than Key) bool
}

// entry pairs a Key with the trilock.Lock guarding it, so that concurrent
// lookups can traverse the tree freely while a reservation is in effect
// on one of its nodes.
type entry struct {
	key  Key
	lock *trilock.Lock
}

func (e entry) Less(than btree.Item) bool { return e.key.Less(than.(entry).key) }

// Tree is a google/btree.BTree whose every item carries its own
// trilock.Lock, letting callers reserve individual keys for mutation
// (Reserve) without blocking concurrent lookups (Lookup) of other keys,
// or even of the same key while it's merely reserved rather than being
// written.
type Tree struct {
	bt *btree.BTree
}

// NewTree returns an empty Tree with the given B-tree degree.
func NewTree(degree int) *Tree {
	return &Tree{bt: btree.New(degree)}
}

// Insert adds key to the tree with an idle lock, returning false if the
// key was already present (in which case the tree is unchanged).
func (t *Tree) Insert(key Key) bool {
	e := entry{key: key, lock: trilock.New()}
	if t.bt.Has(e) {
		return false
	}
	t.bt.ReplaceOrInsert(e)
	return true
}

// Lookup runs fn with a read lock held on key's node, or returns false if
// key is not present. Concurrent Lookups and Reserves of other keys, and
// concurrent Lookups of the same key, proceed without contention.
func (t *Tree) Lookup(ctx context.Context, key Key, fn func()) (bool, error) {
	e, ok := t.find(key)
	if !ok {
		return false, nil
	}
	if err := e.lock.LockRead(ctx, nil); err != nil {
		return false, err
	}
	defer e.lock.UnlockRead()
	fn()
	return true, nil
}

// Reservation is a held intent on one key, returned by Reserve. Callers
// either Commit (upgrade to write, run fn, release) or Release (drop the
// reservation without ever having blocked a concurrent reader).
type Reservation struct {
	key   Key
	lock  *trilock.Lock
	token *trilock.Token
}

// Reserve blocks until intent is granted on key, or ctx is done. While a
// Reservation is outstanding, concurrent Lookups of the same key still
// proceed (intent is compatible with readers); only a second Reserve (or
// Commit) of the same key blocks.
func (t *Tree) Reserve(ctx context.Context, key Key) (*Reservation, bool, error) {
	e, ok := t.find(key)
	if !ok {
		return nil, false, nil
	}
	tok := trilock.NewToken()
	if err := e.lock.LockIntent(ctx, nil, tok); err != nil {
		return nil, false, err
	}
	return &Reservation{key: key, lock: e.lock, token: tok}, true, nil
}

// Commit upgrades the reservation to a write lock, runs fn, and releases
// both. fn is the only place arbitrary, possibly-slow mutation logic
// should run; trilock.Lock never holds write across anything else.
func (r *Reservation) Commit(ctx context.Context, fn func()) error {
	if err := r.lock.LockWrite(ctx, nil, r.token); err != nil {
		return err
	}
	fn()
	r.lock.UnlockWrite(r.token)
	r.lock.UnlockIntent(r.token)
	return nil
}

// Release drops the reservation without ever upgrading to write.
func (r *Reservation) Release() {
	r.lock.UnlockIntent(r.token)
}

func (t *Tree) find(key Key) (entry, bool) {
	item := t.bt.Get(entry{key: key})
	if item == nil {
		return entry{}, false
	}
	return item.(entry), true
}

// String renders the tree's size for diagnostics.
func (t *Tree) String() string {
	return fmt.Sprintf("btreeguard.Tree{len=%d}", t.bt.Len())
}
