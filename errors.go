// Copyright 2016 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package trilock

import "errors"

// ErrCanceled is returned by a blocking acquire when its context is
// canceled before the lock was granted. This is caller-initiated
// cancellation, not a lock error: nothing is attributed to the caller and
// the lock's state is unaffected.
var ErrCanceled = errors.New("trilock: acquire canceled")

// ErrDeadlineExceeded is returned by a blocking acquire whose context
// deadline passes before the lock was granted.
var ErrDeadlineExceeded = errors.New("trilock: acquire deadline exceeded")

// ShouldAbort is a predicate consulted immediately before a blocking
// acquire parks. A non-nil return cancels the wait; that error is
// returned from the acquire call verbatim. It is the caller's escape
// hatch for deadlock avoidance detected above the lock.
type ShouldAbort func() error
