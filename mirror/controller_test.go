// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/ashleynewson/trackup/block/fake"
	"github.com/ashleynewson/trackup/color"
	"github.com/ashleynewson/trackup/logger"
	"github.com/ashleynewson/trackup/rangeset"
)

// quiet is a controller Sync that settles nothing; the fakes have no
// cache to flush.
func quiet() {}

func TestRunQuiescent(t *testing.T) {
	const size = 128 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker
	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("target differs from source")
	}
	snap := ctrl.Status()
	if snap.State != Converged {
		t.Errorf("state = %v, want Converged", snap.State)
	}
	if snap.Pass != 1 {
		t.Errorf("converged at pass %d, want 1", snap.Pass)
	}
	if snap.CopiedBytes != size {
		t.Errorf("copied %d bytes, want %d", snap.CopiedBytes, size)
	}
}

// TestRunCopiesRacingWrites overwrites an already-copied region during
// the initial pass, marking it the way a traced write would, and checks
// the change still reaches the target.
func TestRunCopiesRacingWrites(t *testing.T) {
	const size = 128 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	chunks := 0
	copier := &Copier{
		Source:    src,
		Target:    dst,
		ChunkSize: 4096,
		BeforeChunk: func(context.Context) error {
			chunks++
			if chunks == 5 {
				for i := range src[:512] {
					src[i] = 0xEE
				}
				tracker.Mark(rangeset.Range{Offset: 0, Length: 512})
			}
			return nil
		},
	}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("a write during the initial pass never reached the target")
	}
	if snap := ctrl.Status(); snap.Pass < 2 {
		t.Errorf("converged at pass %d, want a second pass for the racing write", snap.Pass)
	}
}

// TestRunRecopiesUntilClean keeps dirtying the device at every settle
// for a while, then stops; the run must warn past the threshold, keep
// going, and converge once the writes stop.
func TestRunRecopiesUntilClean(t *testing.T) {
	const (
		size       = 64 << 10
		dirtPasses = 12
		warnAfter  = 3
	)
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	settles := 0
	ctrl := NewController(copier, &tracker, size, Options{
		Sync:            quiet,
		WarnAfterPasses: warnAfter,
		Flush: func(context.Context) error {
			if settles++; settles <= dirtPasses {
				off := (settles % 8) * 4096
				for i := off; i < off+512; i++ {
					src[i] = byte(settles)
				}
				tracker.Mark(rangeset.Range{Offset: uint64(off), Length: 512})
			}
			return nil
		},
	})

	var out bytes.Buffer
	l := logger.NewLogger(logger.WarningLevel, color.NewColor(color.ColorNever), &out, &out, "")
	ctx := logger.WithLogger(context.Background(), l)

	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("target differs from source")
	}
	if snap := ctrl.Status(); snap.Pass != dirtPasses+1 {
		t.Errorf("converged at pass %d, want %d", snap.Pass, dirtPasses+1)
	}
	if !strings.Contains(out.String(), "still dirty after 3 passes") {
		t.Errorf("missing non-convergence warning in output:\n%s", out.String())
	}
}

// TestRunSettleOrder checks storage settles before the tracer flush:
// flushing first could ack before sync's writes were even queued.
func TestRunSettleOrder(t *testing.T) {
	const size = 8 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	var calls []string
	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	ctrl := NewController(copier, &tracker, size, Options{
		Sync:  func() { calls = append(calls, "sync") },
		Flush: func(context.Context) error { calls = append(calls, "flush"); return nil },
	})
	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if diff := cmp.Diff([]string{"sync", "flush"}, calls); diff != "" {
		t.Errorf("settle sequence mismatch (-want +got):\n%s", diff)
	}
}

// TestRunPreMarked simulates writes observed between tracer attach and
// the first copied byte: pass 0 covers the whole device regardless, and
// the marks just cost one extra pass.
func TestRunPreMarked(t *testing.T) {
	const size = 32 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker
	tracker.Mark(rangeset.Range{Offset: 8192, Length: 512})

	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})
	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("target differs from source")
	}
	snap := ctrl.Status()
	if snap.Pass != 2 {
		t.Errorf("converged at pass %d, want 2", snap.Pass)
	}
	if want := uint64(size + 512); snap.CopiedBytes != want {
		t.Errorf("copied %d bytes, want %d", snap.CopiedBytes, want)
	}
}

func TestRunPauseResume(t *testing.T) {
	const size = 32 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	ctrl.Pause()
	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(context.Background())
	}()

	// The gate parks the run before its first chunk.
	time.Sleep(100 * time.Millisecond)
	snap := ctrl.Status()
	if !snap.Paused {
		t.Error("status not paused")
	}
	if snap.CopiedBytes != 0 {
		t.Errorf("%d bytes copied while paused, want 0", snap.CopiedBytes)
	}

	ctrl.Resume()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Error("target differs from source")
	}
}

func TestRunCancel(t *testing.T) {
	const size = 64 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	chunks := 0
	copier := &Copier{
		Source:    src,
		Target:    dst,
		ChunkSize: 4096,
		BeforeChunk: func(context.Context) error {
			if chunks++; chunks == 3 {
				cancel()
			}
			return nil
		},
	}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	err := ctrl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if snap := ctrl.Status(); snap.State != Aborted {
		t.Errorf("state = %v, want Aborted", snap.State)
	}
}

// TestRunCancelUnderLoad cancels a run that churn never lets converge,
// then checks the abort is clean: a Canceled error, an Aborted state,
// and no corruption outside the churned region.
func TestRunCancelUnderLoad(t *testing.T) {
	const size = 64 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	copier := &Copier{Source: src, Target: dst, ChunkSize: 4096}
	settles := 0
	ctrl := NewController(copier, &tracker, size, Options{
		Sync: quiet,
		Flush: func(context.Context) error {
			for i := range src[:512] {
				src[i] = byte(settles)
			}
			tracker.Mark(rangeset.Range{Offset: 0, Length: 512})
			if settles++; settles == 6 {
				cancel()
			}
			return nil
		},
	})

	err := ctrl.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if snap := ctrl.Status(); snap.State != Aborted {
		t.Errorf("state = %v, want Aborted", snap.State)
	}
	// The churn only ever touched the first 512 bytes; the rest was
	// copied once and must still match.
	if !bytes.Equal(src[512:], dst[512:]) {
		t.Error("regions outside the churned block were corrupted")
	}
}

func TestRunCopyFault(t *testing.T) {
	const size = 32 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker
	boom := errors.New("medium error")

	copier := &Copier{
		Source:    src,
		Target:    &fake.Flaky{Device: dst, WriteErrs: map[int64]error{8192: boom}},
		ChunkSize: 4096,
	}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	err := ctrl.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run = %v, want %v", err, boom)
	}
	if snap := ctrl.Status(); snap.State != Aborted {
		t.Errorf("state = %v, want Aborted", snap.State)
	}
}

// TestStatusDuringRun drives one pause cycle and reads status from
// another goroutine the whole time, mostly for the race detector.
func TestStatusDuringRun(t *testing.T) {
	const size = 64 << 10
	src := randomDevice(t, size)
	dst := make(fake.Device, size)
	var tracker rangeset.Tracker

	copier := &Copier{Source: src, Target: dst, ChunkSize: 512}
	ctrl := NewController(copier, &tracker, size, Options{Sync: quiet})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		// Finitely many marks, or the run would never converge.
		marks := 0
		for {
			select {
			case <-stop:
				return
			default:
				ctrl.Status()
				if marks < 50 {
					marks++
					tracker.Mark(rangeset.Range{Offset: 0, Length: 512})
				}
			}
		}
	}()

	if err := ctrl.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	close(stop)
	wg.Wait()
}
