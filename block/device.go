// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package block defines the interface that backup sources and targets
// present to the copy engine.
package block

// Device is a fixed-size, randomly addressable store of bytes. Both
// block device nodes and regular files satisfy it.
//
// I/O goes through the page cache, so offsets and lengths are byte
// granular; BlockSize is the device's logical block size and is used
// as a marking granularity, not as an alignment requirement.
type Device interface {
	// BlockSize returns the size in bytes of the smallest write the
	// underlying device performs. The return value is undefined after
	// Close() is called.
	BlockSize() int64

	// Size returns the fixed size of the device in bytes. The return
	// value is undefined after Close() is called.
	Size() int64

	// ReadAt reads len(p) bytes starting at offset off. It returns the
	// number of bytes read and the error, if any. A short count with a
	// nil error is permitted; callers needing a full transfer must
	// retry from where the read stopped.
	ReadAt(p []byte, off int64) (n int, err error)

	// WriteAt writes the contents of p starting at offset off. It
	// returns the number of bytes written and an error, if any. As with
	// ReadAt, a short count with a nil error is permitted.
	WriteAt(p []byte, off int64) (n int, err error)

	// Flush forces any writes that have been cached in memory to be
	// committed to persistent storage. Flush will not return until all
	// data from previous calls to WriteAt have been committed.
	Flush() error

	// Close closes the device, rendering it unusable for I/O. It does
	// not imply Flush; callers that wrote must Flush first.
	Close() error

	// Path returns the path to the underlying device or file.
	Path() string
}
