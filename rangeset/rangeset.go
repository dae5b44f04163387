// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package rangeset implements sets of byte ranges as ordered lists of
// merged intervals. It is the bookkeeping behind dirty-region tracking:
// writes observed on a device are added to a set, and whole sets are
// periodically drained and copied.
package rangeset

import (
	"fmt"
	"sort"
)

// A Range is the half-open byte interval [Offset, Offset+Length).
type Range struct {
	Offset uint64
	Length uint64
}

// End returns the first offset past the range.
func (r Range) End() uint64 {
	return r.Offset + r.Length
}

// Empty reports whether the range covers no bytes.
func (r Range) Empty() bool {
	return r.Length == 0
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return !r.Empty() && !o.Empty() && r.Offset < o.End() && o.Offset < r.End()
}

// Adjacent reports whether r and o touch without overlapping, so that
// their union is a single range.
func (r Range) Adjacent(o Range) bool {
	return r.End() == o.Offset || o.End() == r.Offset
}

// Intersect returns the overlap of r and o, or the zero Range if they
// are disjoint.
func (r Range) Intersect(o Range) Range {
	lo, hi := r.Offset, r.End()
	if o.Offset > lo {
		lo = o.Offset
	}
	if o.End() < hi {
		hi = o.End()
	}
	if hi <= lo {
		return Range{}
	}
	return Range{Offset: lo, Length: hi - lo}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Offset, r.End())
}

// Align widens r to granularity boundaries: the offset is rounded down
// and the end rounded up. A granularity of 0 or 1 leaves r unchanged.
func Align(r Range, granularity uint64) Range {
	if granularity <= 1 || r.Empty() {
		return r
	}
	lo := r.Offset - r.Offset%granularity
	hi := r.End()
	if rem := hi % granularity; rem != 0 {
		hi += granularity - rem
	}
	return Range{Offset: lo, Length: hi - lo}
}

// A Set is an ordered collection of non-empty, non-overlapping,
// non-adjacent ranges, ascending by offset. The zero value is an empty
// set ready for use. A Set is not safe for concurrent use; see Tracker.
type Set []Range

// Len returns the number of ranges in the set.
func (s Set) Len() int {
	return len(s)
}

// Empty reports whether the set covers no bytes.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Total returns the number of bytes covered by the set.
func (s Set) Total() uint64 {
	var n uint64
	for _, r := range s {
		n += r.Length
	}
	return n
}

// Contains reports whether every byte of r is covered by the set.
func (s Set) Contains(r Range) bool {
	if r.Empty() {
		return true
	}
	i := sort.Search(len(s), func(k int) bool { return s[k].End() > r.Offset })
	return i < len(s) && s[i].Offset <= r.Offset && r.End() <= s[i].End()
}

// Add inserts r into the set, merging it with any ranges it overlaps
// or touches. Adding a range already covered by the set is a no-op, so
// repeated Adds of the same range are idempotent. Empty ranges are
// ignored.
func (s *Set) Add(r Range) {
	if r.Empty() {
		return
	}
	t := *s

	// i is the first range that overlaps or touches r on the left; j is
	// the first range strictly beyond r. Everything in [i, j) collapses
	// into a single range with r.
	i := sort.Search(len(t), func(k int) bool { return t[k].End() >= r.Offset })
	j := sort.Search(len(t), func(k int) bool { return t[k].Offset > r.End() })

	lo, hi := r.Offset, r.End()
	if i < j {
		if t[i].Offset < lo {
			lo = t[i].Offset
		}
		if end := t[j-1].End(); end > hi {
			hi = end
		}
	}
	merged := Range{Offset: lo, Length: hi - lo}

	if i == j {
		t = append(t, Range{})
		copy(t[i+1:], t[i:])
		t[i] = merged
	} else {
		t[i] = merged
		t = append(t[:i+1], t[j:]...)
	}
	*s = t
}

// AddSet inserts every range of o into the set.
func (s *Set) AddSet(o Set) {
	for _, r := range o {
		s.Add(r)
	}
}

// Clamp truncates the set to [0, limit): ranges at or beyond the limit
// are dropped, and a range straddling it is shortened.
func (s *Set) Clamp(limit uint64) {
	t := *s
	i := sort.Search(len(t), func(k int) bool { return t[k].End() > limit })
	if i == len(t) {
		return
	}
	if t[i].Offset < limit {
		t[i].Length = limit - t[i].Offset
		i++
	}
	*s = t[:i]
}

func (s Set) String() string {
	return fmt.Sprintf("{%d ranges, %d bytes}", len(s), s.Total())
}
