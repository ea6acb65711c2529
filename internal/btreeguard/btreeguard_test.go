// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btreeguard

import (
	"context"
	"testing"
)

type intKey int

func (k intKey) Less(than Key) bool { return k < than.(intKey) }

func TestReserveThenCommit(t *testing.T) {
	tree := NewTree(8)
	if !tree.Insert(intKey(7)) {
		t.Fatal("Insert failed")
	}

	ctx := context.Background()
	res, ok, err := tree.Reserve(ctx, intKey(7))
	if err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}

	sawLookupDuringReservation := false
	if ok, err := tree.Lookup(ctx, intKey(7), func() { sawLookupDuringReservation = true }); err != nil || !ok {
		t.Fatalf("Lookup during reservation: ok=%v err=%v", ok, err)
	}
	if !sawLookupDuringReservation {
		t.Fatal("lookup should proceed while the key is only reserved, not committed")
	}

	mutated := false
	if err := res.Commit(ctx, func() { mutated = true }); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !mutated {
		t.Fatal("Commit did not run fn")
	}

	if ok, _ := tree.Lookup(ctx, intKey(7), func() {}); !ok {
		t.Fatal("key should still be present and lockable after commit")
	}
}

func TestReleaseWithoutCommit(t *testing.T) {
	tree := NewTree(8)
	tree.Insert(intKey(1))
	ctx := context.Background()

	res, ok, err := tree.Reserve(ctx, intKey(1))
	if err != nil || !ok {
		t.Fatalf("Reserve: ok=%v err=%v", ok, err)
	}
	res.Release()

	res2, ok, err := tree.Reserve(ctx, intKey(1))
	if err != nil || !ok {
		t.Fatalf("second Reserve after Release: ok=%v err=%v", ok, err)
	}
	res2.Release()
}

func TestLookupMissingKey(t *testing.T) {
	tree := NewTree(8)
	if ok, err := tree.Lookup(context.Background(), intKey(42), func() {}); ok || err != nil {
		t.Fatalf("Lookup of missing key: ok=%v err=%v", ok, err)
	}
}
