// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package mirror copies a live block device into an identical image by
// converging on it: one full pass, then repeated passes over whatever
// was written in the meantime, until a pass finds nothing left.
package mirror

import (
	"context"

	"github.com/pkg/errors"

	"github.com/ashleynewson/trackup/block"
	"github.com/ashleynewson/trackup/rangeset"
	"github.com/ashleynewson/trackup/retry"
)

// DefaultChunkSize is the transfer unit when Copier.ChunkSize is unset.
const DefaultChunkSize = 1 << 20

// shortIORetries bounds how many times a transfer may stall with zero
// progress at one position before it is treated as a hard fault. Any
// forward progress resets the budget.
const shortIORetries = 16

// Copier moves byte ranges from Source to Target at identical offsets,
// one chunk at a time. Short reads and writes resume from wherever they
// stopped; only a device error, or a transfer that stops advancing
// entirely, aborts the range.
type Copier struct {
	Source block.Device
	Target block.Device

	// ChunkSize is the transfer unit in bytes. DefaultChunkSize when
	// zero.
	ChunkSize int

	// BeforeChunk, when set, runs before each chunk is read. Returning
	// an error abandons the range. The pass controller parks here while
	// paused, which also makes it the cancellation point.
	BeforeChunk func(ctx context.Context) error

	// OnChunk, when set, is told about each chunk as its write
	// completes.
	OnChunk func(r rangeset.Range)

	buf []byte
}

// CopyRange copies [r.Offset, r.End()) from Source to Target and
// returns how many bytes reached the target, which on error is less
// than the range asked for.
func (c *Copier) CopyRange(ctx context.Context, r rangeset.Range) (uint64, error) {
	chunk := c.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if len(c.buf) < chunk {
		c.buf = make([]byte, chunk)
	}
	var copied uint64
	for off := r.Offset; off < r.End(); {
		if c.BeforeChunk != nil {
			if err := c.BeforeChunk(ctx); err != nil {
				return copied, err
			}
		}
		n := uint64(chunk)
		if rest := r.End() - off; rest < n {
			n = rest
		}
		b := c.buf[:n]
		if err := c.readFull(ctx, b, int64(off)); err != nil {
			return copied, err
		}
		if err := c.writeFull(ctx, b, int64(off)); err != nil {
			return copied, err
		}
		if c.OnChunk != nil {
			c.OnChunk(rangeset.Range{Offset: off, Length: n})
		}
		off += n
		copied += n
	}
	return copied, nil
}

// CopySet copies every range of s, in offset order, and returns the
// total number of bytes that reached the target.
func (c *Copier) CopySet(ctx context.Context, s rangeset.Set) (uint64, error) {
	var copied uint64
	for _, r := range s {
		n, err := c.CopyRange(ctx, r)
		copied += n
		if err != nil {
			return copied, err
		}
	}
	return copied, nil
}

func (c *Copier) readFull(ctx context.Context, b []byte, off int64) error {
	budget := retry.WithMaxRetries(&retry.ZeroBackoff{}, shortIORetries)
	read := 0
	return retry.Retry(ctx, budget, func() error {
		for read < len(b) {
			n, err := c.Source.ReadAt(b[read:], off+int64(read))
			if err != nil {
				return retry.Fatal(errors.Wrapf(err, "reading %d bytes at offset %d from %s", len(b), off, c.Source.Path()))
			}
			if n == 0 {
				return errors.Errorf("read stalled at offset %d on %s", off+int64(read), c.Source.Path())
			}
			read += n
			budget.Reset()
		}
		return nil
	}, nil)
}

func (c *Copier) writeFull(ctx context.Context, b []byte, off int64) error {
	budget := retry.WithMaxRetries(&retry.ZeroBackoff{}, shortIORetries)
	written := 0
	return retry.Retry(ctx, budget, func() error {
		for written < len(b) {
			n, err := c.Target.WriteAt(b[written:], off+int64(written))
			if err != nil {
				return retry.Fatal(errors.Wrapf(err, "writing %d bytes at offset %d to %s", len(b), off, c.Target.Path()))
			}
			if n == 0 {
				return errors.Errorf("write stalled at offset %d on %s", off+int64(written), c.Target.Path())
			}
			written += n
			budget.Reset()
		}
		return nil
	}, nil)
}
