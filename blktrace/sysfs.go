// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package blktrace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// sysBlockPath is where the kernel indexes block devices by number.
const sysBlockPath = "/sys/dev/block"

// devID packs device numbers the way blk_io_trace.device carries them.
func devID(major, minor uint32) uint32 {
	return major<<20 | minor
}

// deviceNumbers stats path and returns its block device numbers.
func deviceNumbers(path string) (major, minor uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, errors.Wrapf(err, "stat %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return 0, 0, errors.Errorf("%s is not a block device", path)
	}
	rdev := uint64(st.Rdev)
	return unix.Major(rdev), unix.Minor(rdev), nil
}

// region says where the tracer attaches and which sector window of that
// device corresponds to the node being backed up. The blk tracer hangs
// off the whole disk, so tracing a partition means attaching to its
// parent and bounding by LBA.
type region struct {
	major, minor uint32
	startSector  uint64
	sectors      uint64
	partition    bool
}

// resolveRegion maps a device number to its trace attach point using
// the sysfs index rooted at sysBlock.
func resolveRegion(sysBlock string, major, minor uint32) (region, error) {
	dir := filepath.Join(sysBlock, fmt.Sprintf("%d:%d", major, minor))
	sectors, err := readSysfsUint(filepath.Join(dir, "size"))
	if err != nil {
		return region{}, err
	}

	if _, err := os.Stat(filepath.Join(dir, "partition")); err != nil {
		// Whole disk.
		return region{major: major, minor: minor, sectors: sectors}, nil
	}

	start, err := readSysfsUint(filepath.Join(dir, "start"))
	if err != nil {
		return region{}, err
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return region{}, errors.Wrapf(err, "resolving %s", dir)
	}
	parentDev, err := readSysfsString(filepath.Join(filepath.Dir(resolved), "dev"))
	if err != nil {
		return region{}, errors.Wrap(err, "reading parent device number")
	}
	pmaj, pmin, err := parseDevNumbers(parentDev)
	if err != nil {
		return region{}, err
	}
	return region{major: pmaj, minor: pmin, startSector: start, sectors: sectors, partition: true}, nil
}

// ParentDisk maps any block device number to the disk a tracer would
// attach to for it: partitions resolve to their parent, whole disks to
// themselves.
func ParentDisk(major, minor uint32) (uint32, uint32, error) {
	reg, err := resolveRegion(sysBlockPath, major, minor)
	if err != nil {
		return 0, 0, err
	}
	return reg.major, reg.minor, nil
}

func parseDevNumbers(s string) (major, minor uint32, err error) {
	mstr, nstr, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, errors.Errorf("malformed device number %q", s)
	}
	m, err := strconv.ParseUint(mstr, 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed device number %q", s)
	}
	n, err := strconv.ParseUint(nstr, 10, 32)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "malformed device number %q", s)
	}
	return uint32(m), uint32(n), nil
}

func readSysfsString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading %s", path)
	}
	return strings.TrimSpace(string(b)), nil
}

func readSysfsUint(path string) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", path)
	}
	return v, nil
}
