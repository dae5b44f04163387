// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package fake

import (
	"github.com/ashleynewson/trackup/block"
)

// Flaky wraps a Device and misbehaves on cue, for exercising the copy
// engine's short-I/O and error paths. Each scripted fault fires once,
// keyed by the offset of the call that should trip it; calls at other
// offsets, and repeated calls at a consumed offset, pass through.
type Flaky struct {
	block.Device

	// ShortReads and ShortWrites map an offset to the count the next
	// call at that offset should return. The transfer really happens
	// for the returned count, so a retrying caller makes progress.
	ShortReads  map[int64]int
	ShortWrites map[int64]int

	// ReadErrs and WriteErrs map an offset to an error the next call at
	// that offset should fail with, transferring nothing.
	ReadErrs  map[int64]error
	WriteErrs map[int64]error
}

// ReadAt implements block.Device.ReadAt for Flaky.
func (f *Flaky) ReadAt(p []byte, off int64) (int, error) {
	if err, ok := f.ReadErrs[off]; ok {
		delete(f.ReadErrs, off)
		return 0, err
	}
	if n, ok := f.ShortReads[off]; ok {
		delete(f.ShortReads, off)
		if n > len(p) {
			n = len(p)
		}
		return f.Device.ReadAt(p[:n], off)
	}
	return f.Device.ReadAt(p, off)
}

// WriteAt implements block.Device.WriteAt for Flaky.
func (f *Flaky) WriteAt(p []byte, off int64) (int, error) {
	if err, ok := f.WriteErrs[off]; ok {
		delete(f.WriteErrs, off)
		return 0, err
	}
	if n, ok := f.ShortWrites[off]; ok {
		delete(f.ShortWrites, off)
		if n > len(p) {
			n = len(p)
		}
		return f.Device.WriteAt(p[:n], off)
	}
	return f.Device.WriteAt(p, off)
}
