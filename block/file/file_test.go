// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package file

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.img")
	data := bytes.Repeat([]byte{0x5a}, 4096)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	if f.Size() != int64(len(data)) {
		t.Errorf("Size = %d, want %d", f.Size(), len(data))
	}
	if f.BlockSize() != FallbackBlockSize {
		t.Errorf("BlockSize = %d, want %d", f.BlockSize(), FallbackBlockSize)
	}
	if f.IsDevice() {
		t.Error("IsDevice = true for a regular file")
	}
	p := make([]byte, 512)
	if n, err := f.ReadAt(p, 512); err != nil || n != len(p) {
		t.Fatalf("ReadAt = (%d, %v), want (%d, nil)", n, err, len(p))
	}
	if !bytes.Equal(p, data[512:1024]) {
		t.Error("ReadAt returned wrong bytes")
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("Open of a missing path succeeded")
	}
}

func TestOpenRejectsDirectory(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil || !strings.Contains(err.Error(), "not a block device") {
		t.Errorf("Open of a directory: err = %v, want kind complaint", err)
	}
}

func TestCreateTargetFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.img")
	f, err := CreateTarget(path, 8192, 512)
	if err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	if f.Size() != 8192 {
		t.Errorf("Size = %d, want 8192", f.Size())
	}
	payload := bytes.Repeat([]byte{0xcc}, 1024)
	if n, err := f.WriteAt(payload, 4096); err != nil || n != len(payload) {
		t.Fatalf("WriteAt = (%d, %v), want (%d, nil)", n, err, len(payload))
	}
	if err := f.Flush(); err != nil {
		t.Errorf("Flush: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 8192 {
		t.Errorf("on-disk size = %d, want 8192", info.Size())
	}
}

func TestCreateTargetReuse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.img")
	f, err := CreateTarget(path, 8192, 512)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	// Matching size is reused.
	f, err = CreateTarget(path, 8192, 512)
	if err != nil {
		t.Fatalf("reusing matching target: %v", err)
	}
	f.Close()

	// Mismatched size is refused rather than clobbered.
	if _, err := CreateTarget(path, 4096, 512); err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Errorf("reusing mismatched target: err = %v, want refusal", err)
	}
}

func TestCreateTargetBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.img")
	f, err := CreateTarget(path, 4096, 512)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	p := make([]byte, 512)
	if _, err := f.WriteAt(p, 4096); err == nil {
		t.Error("WriteAt past end succeeded")
	}
	if _, err := f.ReadAt(p, -1); err == nil {
		t.Error("ReadAt at negative offset succeeded")
	}
}
