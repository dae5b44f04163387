// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package file

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// geometry returns the capacity and logical sector size of an open
// block device node.
func geometry(f *os.File) (size, blockSize int64, err error) {
	var bytes uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&bytes))); errno != 0 {
		return 0, 0, errors.Wrap(errno, "BLKGETSIZE64")
	}
	var ssz int32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKSSZGET, uintptr(unsafe.Pointer(&ssz))); errno != 0 {
		return 0, 0, errors.Wrap(errno, "BLKSSZGET")
	}
	if ssz <= 0 {
		ssz = int32(FallbackBlockSize)
	}
	return int64(bytes), int64(ssz), nil
}

// preallocate reserves size zeroed bytes for a freshly created target
// file. Filesystems without zero-range or allocation support fall back
// to a sparse truncate.
func preallocate(f *os.File, size int64) error {
	if size == 0 {
		return nil
	}
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_ZERO_RANGE, 0, size)
	switch err {
	case unix.EOPNOTSUPP, unix.ENOSYS, unix.EINVAL:
		err = unix.Fallocate(int(f.Fd()), 0, 0, size)
	}
	switch err {
	case unix.EOPNOTSUPP, unix.ENOSYS, unix.EINVAL:
		err = f.Truncate(size)
	}
	return err
}
