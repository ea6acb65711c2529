// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build trilock_debug

package trilock

import "go.uber.org/zap"

// Contract violations (releasing a mode not held, writing without
// holding intent, freeing a shard with live readers) abort in debug
// builds and are undefined in release builds. Build with
// -tags trilock_debug to get the abort-and-log behavior; the default
// build (debug_off.go) compiles these checks away entirely.

var debugLogger = zap.Must(zap.NewDevelopment())

func debugFail(op, msg string) {
	debugLogger.Error("trilock: contract violation", zap.String("op", op), zap.String("detail", msg))
	panic("trilock: " + op + ": " + msg)
}

func assertHeld(cond bool, msg string) {
	if !cond {
		debugFail("assert", msg)
	}
}

func assertIntentOwner(l *Lock, token *Token, op string) {
	owner := l.owner.Load()
	if owner == nil {
		debugFail(op, "intent not held")
	}
	if owner != token {
		debugFail(op, "caller does not hold intent")
	}
}

func assertNoReaders(l *Lock, op string) {
	if !l.readersAbsent() {
		debugFail(op, "outstanding readers")
	}
}

// AssertRead panics (in debug builds) unless at least one reader is held.
func (l *Lock) AssertRead() {
	word := l.word.Load()
	held := readCountOf(word) > 0
	if sh := l.shard.Load(); sh != nil {
		held = sh.sum() > 0
	}
	assertHeld(held, "AssertRead: no read unit held")
}

// AssertIntent panics (in debug builds) unless token holds intent.
func (l *Lock) AssertIntent(token *Token) { assertIntentOwner(l, token, "AssertIntent") }

// AssertWrite panics (in debug builds) unless token holds the write
// upgrade.
func (l *Lock) AssertWrite(token *Token) {
	assertIntentOwner(l, token, "AssertWrite")
	assertHeld(writeHeldOf(l.word.Load()), "AssertWrite: write not held")
}
