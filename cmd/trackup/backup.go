// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/ashleynewson/trackup/blktrace"
	"github.com/ashleynewson/trackup/logger"
	"github.com/ashleynewson/trackup/mirror"
)

// BackupCommand mirrors a block device into an image while the device
// stays in use.
type BackupCommand struct {
	// chunkSize is the copy transfer unit, in humanized notation.
	chunkSize string

	// bufferKB sizes the kernel's per-CPU trace ring buffers.
	bufferKB int

	// warnAfterPasses sets the pass count beyond which the run warns
	// that the device may never converge.
	warnAfterPasses int

	// controlSocket, if nonempty, is where the run serves
	// status/pause/resume/cancel.
	controlSocket string

	// lockMemory pins the process's pages for the duration of the run.
	lockMemory bool

	// tracefs overrides tracefs mount point autodetection.
	tracefs string
}

func (*BackupCommand) Name() string {
	return "backup"
}

func (*BackupCommand) Usage() string {
	return `
trackup backup [flags...] <device> <target>

Copies <device> into <target> while the device remains in use, looping
over freshly written regions until the image converges. <target> may be
a file path or an existing block device at least as large as <device>.

Exits 0 once the image converges, 3 when the kernel tracer is already
in use, 4 when the run is interrupted, and 1 on any other failure.

flags:
`
}

func (*BackupCommand) Synopsis() string {
	return "mirrors a live block device into a file or another device"
}

func (b *BackupCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.chunkSize, "chunk-size", "1MiB", "copy transfer unit, e.g. 512KiB or 4MiB")
	f.IntVar(&b.bufferKB, "buffer-kb", blktrace.DefaultBufferSizeKB, "per-cpu kernel trace buffer size in KiB")
	f.IntVar(&b.warnAfterPasses, "warn-after-passes", 10, "warn once the pass count exceeds this; 0 disables")
	f.StringVar(&b.controlSocket, "control-socket", "", "serve status/pause/resume/cancel on a unix socket at this path")
	f.BoolVar(&b.lockMemory, "lock-memory", true, "lock the process's pages so copying cannot page")
	f.StringVar(&b.tracefs, "tracefs", "", "tracefs mount point; autodetected if empty")
}

func (b *BackupCommand) execute(ctx context.Context, device, target string, chunk uint64) error {
	report, err := mirror.Run(ctx, mirror.Config{
		Device:          device,
		Target:          target,
		ChunkSize:       int(chunk),
		BufferSizeKB:    b.bufferKB,
		WarnAfterPasses: b.warnAfterPasses,
		ControlSocket:   b.controlSocket,
		LockMemory:      b.lockMemory,
		TracefsPath:     b.tracefs,
	})
	if err != nil {
		return err
	}
	logger.Infof(ctx, "%s imaged to %s: %s copied over %d passes in %s",
		device, target, humanize.IBytes(report.CopiedBytes), report.Passes,
		report.Duration.Round(time.Millisecond))
	return nil
}

// Exit statuses past the subcommands defaults, so scripts can tell a
// contended tracer or an interrupted run from an I/O failure.
const (
	exitTracerBusy  subcommands.ExitStatus = 3
	exitInterrupted subcommands.ExitStatus = 4
)

func exitStatus(class mirror.FailureClass) subcommands.ExitStatus {
	switch class {
	case mirror.FailureTracerBusy:
		return exitTracerBusy
	case mirror.FailureInterrupted:
		return exitInterrupted
	default:
		return subcommands.ExitFailure
	}
}

func (b *BackupCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		logger.Errorf(ctx, "backup takes exactly two arguments: <device> <target>")
		return subcommands.ExitUsageError
	}
	chunk, err := humanize.ParseBytes(b.chunkSize)
	if err != nil {
		logger.Errorf(ctx, "bad -chunk-size %q: %v", b.chunkSize, err)
		return subcommands.ExitUsageError
	}
	if err := b.execute(ctx, f.Arg(0), f.Arg(1), chunk); err != nil {
		class := mirror.ClassOf(err)
		if class != mirror.FailureNone {
			logger.Errorf(ctx, "backup failed (%s): %v", class, err)
		} else {
			logger.Errorf(ctx, "backup failed: %v", err)
		}
		return exitStatus(class)
	}
	return subcommands.ExitSuccess
}
