// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import "github.com/arborstore/trilock/uniqueid"

// A Token identifies a caller across the Intent/Write acquisition
// protocols: it is the lock's notion of "the holder currently holding
// intent." Go has no user-visible goroutine identity to borrow for that
// role (unlike a kernel task pointer), so callers that want intent,
// recursive intent, try-upgrade, or write obtain one Token per logical
// holder and pass it to every call.
//
// A Token is comparable by pointer identity and must not be copied after
// first use.
type Token struct {
	id uniqueid.ID
}

// NewToken returns a fresh, probably-globally-unique Token suitable for
// identifying one logical holder of Intent across repeated Lock calls.
// The lock records it as the intent owner; the trilock_debug contract
// checks (recursion, downgrade, unlock, write) compare Tokens by identity.
// The optimistic spin does not consult it.
func NewToken() *Token {
	id, err := uniqueid.Random()
	if err != nil {
		// crypto/rand failure: uniqueid.Random falls back to nothing, so
		// surface a degraded-but-still-unique token rather than losing
		// owner identity altogether.
		return &Token{}
	}
	return &Token{id: id}
}

// String returns the token's identifier in the same hex form
// uniqueid.ID.String would, for use in log messages.
func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.id.String()
}
