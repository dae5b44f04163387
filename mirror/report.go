// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"sort"
	"strings"
	"time"

	"github.com/ashleynewson/trackup/rangeset"
)

// Snapshot is a point-in-time view of a run's progress.
type Snapshot struct {
	State       State
	Pass        int
	Paused      bool
	CopiedBytes uint64
	DirtyBytes  uint64
	DeviceBytes uint64
	Diagram     string
}

// Report summarizes a finished run.
type Report struct {
	Passes      int
	DeviceBytes uint64
	CopiedBytes uint64
	Converged   bool
	Duration    time.Duration
}

const (
	diagramCells = 512
	diagramWidth = 64
)

// progressMap coarsely tracks which slices of the device have been
// copied at least once, one cell per diagram character. Guarded by the
// controller's mutex.
type progressMap struct {
	cellBytes uint64
	copied    []bool
}

func newProgressMap(size uint64) *progressMap {
	if size == 0 {
		return &progressMap{}
	}
	cells := uint64(diagramCells)
	if size < cells {
		cells = size
	}
	cellBytes := (size + cells - 1) / cells
	n := (size + cellBytes - 1) / cellBytes
	return &progressMap{cellBytes: cellBytes, copied: make([]bool, n)}
}

func (p *progressMap) markCopied(r rangeset.Range) {
	if p.cellBytes == 0 || r.Empty() {
		return
	}
	first := r.Offset / p.cellBytes
	last := (r.End() - 1) / p.cellBytes
	for i := first; i <= last && i < uint64(len(p.copied)); i++ {
		p.copied[i] = true
	}
}

// diagram renders one character per cell: '#' copied and clean, ','
// copied but dirtied again, '.' not yet copied, ';' not yet copied and
// already dirty.
func (p *progressMap) diagram(live rangeset.Set) string {
	if len(p.copied) == 0 {
		return ""
	}
	var b strings.Builder
	for i, done := range p.copied {
		if i > 0 && i%diagramWidth == 0 {
			b.WriteByte('\n')
		}
		cell := rangeset.Range{Offset: uint64(i) * p.cellBytes, Length: p.cellBytes}
		switch dirty := overlapsAny(live, cell); {
		case done && !dirty:
			b.WriteByte('#')
		case done && dirty:
			b.WriteByte(',')
		case !done && !dirty:
			b.WriteByte('.')
		default:
			b.WriteByte(';')
		}
	}
	return b.String()
}

func overlapsAny(s rangeset.Set, r rangeset.Range) bool {
	i := sort.Search(len(s), func(k int) bool { return s[k].End() > r.Offset })
	return i < len(s) && s[i].Overlaps(r)
}
