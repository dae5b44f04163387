// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package rangeset

import (
	"sync"
)

// A Tracker accumulates dirty ranges concurrently. Writers call Mark as
// device writes are observed; the copy loop periodically calls Drain to
// take the accumulated set and leave the tracker empty.
//
// Drain is atomic with respect to Mark: a mark that happens before a
// drain is in the drained set, and a mark concurrent with a drain lands
// either in the drained set or in the next accumulation. No mark is
// ever lost or split across the two.
type Tracker struct {
	mu  sync.Mutex
	set Set
}

// Mark records r as dirty. Empty ranges are ignored.
func (t *Tracker) Mark(r Range) {
	if r.Empty() {
		return
	}
	t.mu.Lock()
	t.set.Add(r)
	t.mu.Unlock()
}

// Drain returns the accumulated set and resets the tracker to empty.
func (t *Tracker) Drain() Set {
	t.mu.Lock()
	s := t.set
	t.set = nil
	t.mu.Unlock()
	return s
}

// Snapshot returns a copy of the accumulated set without draining it.
func (t *Tracker) Snapshot() Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := make(Set, len(t.set))
	copy(s, t.set)
	return s
}

// Total returns the number of bytes currently marked dirty.
func (t *Tracker) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.Total()
}

// Len returns the number of ranges currently held.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set.Len()
}
