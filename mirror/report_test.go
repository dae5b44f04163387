// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"strings"
	"testing"

	"github.com/ashleynewson/trackup/rangeset"
)

func TestProgressMapSizing(t *testing.T) {
	tests := []struct {
		size      uint64
		cells     int
		cellBytes uint64
	}{
		{size: 100, cells: 100, cellBytes: 1},
		{size: 1 << 20, cells: 512, cellBytes: 2048},
		{size: 1<<20 + 1, cells: 512, cellBytes: 2049},
		{size: 0, cells: 0, cellBytes: 0},
	}
	for _, test := range tests {
		p := newProgressMap(test.size)
		if len(p.copied) != test.cells || p.cellBytes != test.cellBytes {
			t.Errorf("newProgressMap(%d) = %d cells of %d bytes, want %d of %d",
				test.size, len(p.copied), p.cellBytes, test.cells, test.cellBytes)
		}
	}
}

func TestDiagram(t *testing.T) {
	p := newProgressMap(8)
	p.markCopied(rangeset.Range{Offset: 0, Length: 3})
	p.markCopied(rangeset.Range{Offset: 6, Length: 2})
	live := rangeset.Set{{Offset: 4, Length: 1}, {Offset: 6, Length: 1}}
	if got, want := p.diagram(live), "###.;.,#"; got != want {
		t.Errorf("diagram = %q, want %q", got, want)
	}
}

func TestDiagramWraps(t *testing.T) {
	p := newProgressMap(128)
	row := strings.Repeat(".", diagramWidth)
	if got, want := p.diagram(nil), row+"\n"+row; got != want {
		t.Errorf("diagram = %q, want %q", got, want)
	}
}

func TestOverlapsAny(t *testing.T) {
	s := rangeset.Set{{Offset: 10, Length: 10}, {Offset: 30, Length: 10}}
	tests := []struct {
		r    rangeset.Range
		want bool
	}{
		{rangeset.Range{Offset: 0, Length: 5}, false},
		{rangeset.Range{Offset: 15, Length: 2}, true},
		{rangeset.Range{Offset: 20, Length: 5}, false},
		{rangeset.Range{Offset: 25, Length: 10}, true},
		{rangeset.Range{Offset: 40, Length: 5}, false},
		{rangeset.Range{Offset: 0, Length: 100}, true},
	}
	for _, test := range tests {
		if got := overlapsAny(s, test.r); got != test.want {
			t.Errorf("overlapsAny(%v, %v) = %t, want %t", s, test.r, got, test.want)
		}
	}
}
