// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ashleynewson/trackup/blktrace"
	"github.com/ashleynewson/trackup/block/file"
	"github.com/ashleynewson/trackup/control"
	"github.com/ashleynewson/trackup/logger"
	"github.com/ashleynewson/trackup/rangeset"
)

// Config selects what to back up and how.
type Config struct {
	// Device is the block device to back up.
	Device string

	// Target receives the image: a path for a regular file, or an
	// existing block device at least as large as Device.
	Target string

	// ChunkSize is the copy transfer unit in bytes. DefaultChunkSize
	// when zero.
	ChunkSize int

	// BufferSizeKB sizes the tracer's per-CPU ring buffers.
	BufferSizeKB int

	// WarnAfterPasses logs a warning once the pass count exceeds it;
	// 0 disables.
	WarnAfterPasses int

	// ControlSocket, when set, serves status/pause/resume/cancel on a
	// unix socket at this path for the lifetime of the run.
	ControlSocket string

	// LockMemory pins the process's pages before copying starts.
	LockMemory bool

	// TracefsPath overrides tracefs autodetection.
	TracefsPath string
}

// Run backs up cfg.Device into cfg.Target and blocks until the image
// converges or the run fails. The returned error, if any, carries a
// FailureClass; ClassOf extracts it.
//
// Run owns the whole lifecycle: it claims the kernel block tracer,
// releases it on every way out, and leaves the tracing environment as
// it found it.
func Run(ctx context.Context, cfg Config) (report *Report, err error) {
	if cfg.Device == "" || cfg.Target == "" {
		return nil, errors.New("both a device and a target are required")
	}
	start := time.Now()
	if cfg.LockMemory {
		lockMemory(ctx)
	}

	src, err := file.Open(cfg.Device)
	if err != nil {
		return nil, classify(FailureDeviceUnavailable, err)
	}
	defer func() {
		err = multierr.Append(err, classify(FailureIO, src.Close()))
	}()

	// The tracer attaches before the first byte is read, so no write
	// can slip between the initial copy and the dirty tracking.
	var tracker rangeset.Tracker
	tr, err := blktrace.Attach(ctx, blktrace.Config{
		Device:       cfg.Device,
		TracefsPath:  cfg.TracefsPath,
		BufferSizeKB: cfg.BufferSizeKB,
	}, func(e blktrace.Event) {
		tracker.Mark(rangeset.Range{Offset: e.Offset, Length: e.Length})
	})
	if err != nil {
		if errors.Is(err, blktrace.ErrTracerBusy) {
			return nil, classify(FailureTracerBusy, err)
		}
		return nil, classify(FailureDeviceUnavailable, err)
	}
	defer func() {
		err = multierr.Append(err, classify(FailureIO, tr.Close()))
	}()

	if got, want := uint64(src.Size()), tr.Size(); got != want {
		return nil, classify(FailureDeviceUnavailable,
			errors.Errorf("%s is %d bytes but its traced window covers %d; partition table changed?", cfg.Device, got, want))
	}
	if err := checkTarget(ctx, cfg, tr); err != nil {
		return nil, classify(FailureDeviceUnavailable, err)
	}

	dst, err := file.CreateTarget(cfg.Target, src.Size(), src.BlockSize())
	if err != nil {
		return nil, classify(FailureDeviceUnavailable, err)
	}
	defer func() {
		err = multierr.Append(err, classify(FailureIO, dst.Close()))
	}()

	copier := &Copier{Source: src, Target: dst, ChunkSize: cfg.ChunkSize}
	ctrl := NewController(copier, &tracker, uint64(src.Size()), Options{
		Granularity:     uint64(src.BlockSize()),
		WarnAfterPasses: cfg.WarnAfterPasses,
		Flush:           tr.Flush,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		// Converged or not, the control server has nothing more to do.
		defer cancel()
		return classify(FailureIO, ctrl.Run(egCtx))
	})
	if cfg.ControlSocket != "" {
		eg.Go(func() error {
			return classify(FailureIO, control.Serve(egCtx, cfg.ControlSocket, &controlHandler{ctrl: ctrl, cancel: cancel}))
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// The image is complete; make it durable before declaring success.
	if err := dst.Flush(); err != nil {
		return nil, classify(FailureIO, err)
	}

	snap := ctrl.Status()
	return &Report{
		Passes:      snap.Pass,
		DeviceBytes: snap.DeviceBytes,
		CopiedBytes: snap.CopiedBytes,
		Converged:   snap.State == Converged,
		Duration:    time.Since(start),
	}, nil
}

// checkTarget refuses targets whose writes would feed back into the
// dirty set and loop the run forever.
func checkTarget(ctx context.Context, cfg Config, tr *blktrace.Session) error {
	var srcSt, dstSt unix.Stat_t
	if unix.Stat(cfg.Device, &srcSt) == nil && unix.Stat(cfg.Target, &dstSt) == nil &&
		dstSt.Mode&unix.S_IFMT == unix.S_IFBLK && srcSt.Rdev == dstSt.Rdev {
		return errors.Errorf("target %s is the source device", cfg.Target)
	}

	major, minor, ok := targetDisk(cfg.Target)
	if !ok {
		return nil
	}
	diskMajor, diskMinor := tr.DiskNumbers()
	if major != diskMajor || minor != diskMinor {
		return nil
	}
	if tr.TracesWholeDisk() {
		return errors.Errorf("target %s resides on the traced disk; its own writes would keep the device dirty forever", cfg.Target)
	}
	logger.Warningf(ctx, "target %s lives on the same disk as %s; expect the copy to fight it for bandwidth", cfg.Target, cfg.Device)
	return nil
}

// targetDisk finds the disk governing writes to path: the parent disk
// for a block device node, the filesystem's backing disk otherwise. ok
// is false when no disk can be determined, such as a file on tmpfs.
func targetDisk(path string) (major, minor uint32, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		// Not created yet; judge by the directory it will land in.
		if err := unix.Stat(filepath.Dir(path), &st); err != nil {
			return 0, 0, false
		}
	}
	dev := uint64(st.Rdev)
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		dev = uint64(st.Dev)
	}
	maj, mnr, err := blktrace.ParentDisk(unix.Major(dev), unix.Minor(dev))
	if err != nil {
		return 0, 0, false
	}
	return maj, mnr, true
}

// lockMemory pins the process's pages so the copy loop cannot be paged
// out mid-pass and generate traced writes of its own. Needs
// CAP_IPC_LOCK; failure is worth a warning, not an abort.
func lockMemory(ctx context.Context) {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		logger.Warningf(ctx, "couldn't lock memory (are you root?): %v", err)
	}
}

// controlHandler exposes a running backup over the control socket.
type controlHandler struct {
	ctrl   *Controller
	cancel context.CancelFunc
}

func (h *controlHandler) Status() control.Status {
	s := h.ctrl.Status()
	return control.Status{
		State:       s.State.String(),
		Pass:        s.Pass,
		Paused:      s.Paused,
		CopiedBytes: s.CopiedBytes,
		DirtyBytes:  s.DirtyBytes,
		DeviceBytes: s.DeviceBytes,
		Diagram:     s.Diagram,
	}
}

func (h *controlHandler) Pause() { h.ctrl.Pause() }

func (h *controlHandler) Resume() { h.ctrl.Resume() }

func (h *controlHandler) Cancel() { h.cancel() }
