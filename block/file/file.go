// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package file implements block.Device backed by a block device node or
// a regular file.
package file

import (
	"os"

	"github.com/pkg/errors"
)

// FallbackBlockSize is the block size assumed for regular files, which
// have no logical sector size of their own.
const FallbackBlockSize int64 = 512

// File represents a block device or regular file opened for backup I/O.
type File struct {
	f         *os.File
	path      string
	size      int64
	blockSize int64
	device    bool
}

// Open opens the backup source at path read-only and probes its
// geometry. Block device nodes report their logical sector size and
// capacity; regular files report their length and FallbackBlockSize.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening source")
	}
	bf, err := fromOpen(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return bf, nil
}

func fromOpen(f *os.File, path string) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return &File{f: f, path: path, size: info.Size(), blockSize: FallbackBlockSize}, nil
	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice == 0:
		size, blockSize, err := geometry(f)
		if err != nil {
			return nil, errors.Wrapf(err, "probing geometry of %s", path)
		}
		return &File{f: f, path: path, size: size, blockSize: blockSize, device: true}, nil
	default:
		return nil, errors.Errorf("%s: not a block device or regular file", path)
	}
}

// CreateTarget opens the backup target at path for writing, sized to
// hold a full mirror of a source of the given size and block size.
//
// A path that does not exist is created and preallocated as a zeroed
// regular file. An existing regular file is reused only if its size
// matches exactly, so a stale or truncated target cannot be silently
// mirrored into. An existing block device is accepted if it is at
// least as large as the source.
func CreateTarget(path string, size, blockSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err == nil {
		if err := preallocate(f, size); err != nil {
			f.Close()
			os.Remove(path)
			return nil, errors.Wrapf(err, "preallocating %s", path)
		}
		return &File{f: f, path: path, size: size, blockSize: blockSize}, nil
	}
	if !os.IsExist(err) {
		return nil, errors.Wrap(err, "creating target")
	}

	f, err = os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening target")
	}
	bf, err := fromOpen(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	if bf.device {
		if bf.size < size {
			f.Close()
			return nil, errors.Errorf("target device %s holds %d bytes, need %d", path, bf.size, size)
		}
		bf.size = size
		return bf, nil
	}
	if bf.size != size {
		f.Close()
		return nil, errors.Errorf("existing target %s has size %d, want %d; refusing to reuse it", path, bf.size, size)
	}
	bf.blockSize = blockSize
	return bf, nil
}

// BlockSize implements block.Device.BlockSize for File.
func (f *File) BlockSize() int64 {
	return f.blockSize
}

// Size implements block.Device.Size for File.
func (f *File) Size() int64 {
	return f.size
}

func (f *File) check(p []byte, off int64, op string) error {
	if off < 0 || off+int64(len(p)) > f.size {
		return errors.Errorf("%s %s: range [%d, %d) is out of bounds", op, f.path, off, off+int64(len(p)))
	}
	return nil
}

// ReadAt implements block.Device.ReadAt for File.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.check(p, off, "read"); err != nil {
		return 0, err
	}
	return f.f.ReadAt(p, off)
}

// WriteAt implements block.Device.WriteAt for File.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if err := f.check(p, off, "write"); err != nil {
		return 0, err
	}
	return f.f.WriteAt(p, off)
}

// Flush implements block.Device.Flush for File.
func (f *File) Flush() error {
	return f.f.Sync()
}

// Close implements block.Device.Close for File.
func (f *File) Close() error {
	return f.f.Close()
}

// Path implements block.Device.Path for File.
func (f *File) Path() string {
	return f.path
}

// IsDevice reports whether the file is backed by a block device node.
func (f *File) IsDevice() bool {
	return f.device
}
