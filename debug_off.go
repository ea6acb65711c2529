// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !trilock_debug

package trilock

// Without the trilock_debug build tag, contract violations are undefined
// rather than checked: these compile away to nothing so the hot paths
// that call them pay zero cost in production builds.

func assertHeld(cond bool, msg string) {}

func assertIntentOwner(l *Lock, token *Token, op string) {}

func assertNoReaders(l *Lock, op string) {}

// AssertRead is a no-op without the trilock_debug build tag.
func (l *Lock) AssertRead() {}

// AssertIntent is a no-op without the trilock_debug build tag.
func (l *Lock) AssertIntent(token *Token) {}

// AssertWrite is a no-op without the trilock_debug build tag.
func (l *Lock) AssertWrite(token *Token) {}
