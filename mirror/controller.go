// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ashleynewson/trackup/logger"
	"github.com/ashleynewson/trackup/rangeset"
)

// State identifies where a run is in its lifecycle.
type State int

const (
	// Initializing covers everything before the first copied byte.
	Initializing State = iota
	// InitialCopying is the full pass over the whole device.
	InitialCopying
	// AwaitingDrain is the settle step between passes: storage is
	// synced and the tracer flushed before the dirty set is taken.
	AwaitingDrain
	// DirtyCopying is a pass over the ranges the previous drain found.
	DirtyCopying
	// Converged means a drain came back empty: the target is a
	// byte-for-byte image of the source.
	Converged
	// Aborted means the run ended on an error before converging.
	Aborted
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case InitialCopying:
		return "initial-copy"
	case AwaitingDrain:
		return "awaiting-drain"
	case DirtyCopying:
		return "dirty-copy"
	case Converged:
		return "converged"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Options tune a Controller.
type Options struct {
	// Granularity widens dirty ranges to this alignment before they
	// are copied. Defaults to 512, the unit trace events arrive in.
	Granularity uint64

	// WarnAfterPasses logs a warning once the pass count exceeds it.
	// The run keeps going regardless; 0 disables the warning.
	WarnAfterPasses int

	// Sync settles storage so outstanding writes reach the device.
	// unix.Sync when nil.
	Sync func()

	// Flush waits for the tracer to deliver everything emitted so far.
	// No-op when nil.
	Flush func(ctx context.Context) error
}

// Controller drives copy passes over a device until it converges.
//
// Convergence rests on ordering: every pass drains the dirty set
// before copying it, so a write racing a copy lands back in the
// tracker and gets another pass. A drain that comes back empty after
// settle() therefore proves the target caught up with every write the
// tracer saw.
type Controller struct {
	copier          *Copier
	dirty           *rangeset.Tracker
	size            uint64
	granularity     uint64
	warnAfterPasses int
	sync            func()
	flush           func(ctx context.Context) error

	mu       sync.Mutex
	state    State
	pass     int
	copied   uint64
	paused   bool
	resume   chan struct{}
	progress *progressMap
}

// NewController wires copier and the dirty tracker into a pass
// controller for a device of size bytes. The copier's hooks are
// extended, not replaced: anything already set runs first.
func NewController(copier *Copier, dirty *rangeset.Tracker, size uint64, opts Options) *Controller {
	c := &Controller{
		copier:          copier,
		dirty:           dirty,
		size:            size,
		granularity:     opts.Granularity,
		warnAfterPasses: opts.WarnAfterPasses,
		sync:            opts.Sync,
		flush:           opts.Flush,
		state:           Initializing,
		progress:        newProgressMap(size),
	}
	if c.granularity == 0 {
		c.granularity = 512
	}
	if c.sync == nil {
		c.sync = unix.Sync
	}

	gate := copier.BeforeChunk
	copier.BeforeChunk = func(ctx context.Context) error {
		if gate != nil {
			if err := gate(ctx); err != nil {
				return err
			}
		}
		return c.gate(ctx)
	}
	account := copier.OnChunk
	copier.OnChunk = func(r rangeset.Range) {
		if account != nil {
			account(r)
		}
		c.mu.Lock()
		c.copied += r.Length
		c.progress.markCopied(r)
		c.mu.Unlock()
	}
	return c
}

// Run copies until a drain comes back empty. It returns nil only on
// convergence; there is no pass limit, so a device that never quiets
// down keeps Run looping until it is cancelled.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			c.mu.Lock()
			c.state = Aborted
			c.mu.Unlock()
		}
	}()

	logger.Debugf(ctx, "full copy of %s (%s)", c.copier.Source.Path(), humanize.IBytes(c.size))
	start := time.Now()
	c.transition(InitialCopying, 0)
	if _, err := c.copier.CopySet(ctx, rangeset.Set{{Offset: 0, Length: c.size}}); err != nil {
		return errors.Wrap(err, "initial copy")
	}
	logger.Debugf(ctx, "initial copy done in %s", time.Since(start).Round(time.Millisecond))

	for pass := 1; ; pass++ {
		c.transition(AwaitingDrain, pass)
		if err := c.settle(ctx); err != nil {
			return errors.Wrapf(err, "settling before pass %d", pass)
		}
		dirty := c.dirty.Drain()
		if dirty.Empty() {
			c.transition(Converged, pass)
			logger.Debugf(ctx, "converged after %d passes", pass)
			return nil
		}
		snap := c.prepare(dirty)
		logger.Debugf(ctx, "pass %d: %s dirty in %d ranges", pass, humanize.IBytes(snap.Total()), snap.Len())
		if c.warnAfterPasses > 0 && pass == c.warnAfterPasses+1 {
			logger.Warningf(ctx, "still dirty after %d passes; the device may be too busy to converge", c.warnAfterPasses)
		}
		start = time.Now()
		c.transition(DirtyCopying, pass)
		n, err := c.copier.CopySet(ctx, snap)
		if err != nil {
			return errors.Wrapf(err, "pass %d", pass)
		}
		logger.Debugf(ctx, "pass %d copied %s in %s", pass, humanize.IBytes(n), time.Since(start).Round(time.Millisecond))
	}
}

// settle makes every write issued before this point visible to the
// dirty tracker: flush the page cache down to the device, then wait for
// the tracer to deliver whatever those flushes queued. A drain taken
// after settle misses nothing that predates it.
func (c *Controller) settle(ctx context.Context) error {
	c.sync()
	if c.flush == nil {
		return nil
	}
	return c.flush(ctx)
}

// prepare widens a drained set to copy granularity and clips it to the
// device. Widening only ever adds bytes, so it cannot drop a write.
func (c *Controller) prepare(dirty rangeset.Set) rangeset.Set {
	var snap rangeset.Set
	for _, r := range dirty {
		snap.Add(rangeset.Align(r, c.granularity))
	}
	snap.Clamp(c.size)
	return snap
}

func (c *Controller) transition(state State, pass int) {
	c.mu.Lock()
	c.state = state
	c.pass = pass
	c.mu.Unlock()
}

// Pause parks the run before its next chunk. Tracing and dirty marking
// carry on; only copying stops. Pausing a paused run is a no-op.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume lets a paused run continue.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
		c.resume = nil
	}
}

// gate blocks while the controller is paused and reports whether the
// run was cancelled. The copier calls it before every chunk.
func (c *Controller) gate(ctx context.Context) error {
	for {
		c.mu.Lock()
		ch := c.resume
		c.mu.Unlock()
		if ch == nil {
			return ctx.Err()
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Status reports progress at this instant. DirtyBytes counts only what
// has accumulated since the last drain.
func (c *Controller) Status() Snapshot {
	live := c.dirty.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:       c.state,
		Pass:        c.pass,
		Paused:      c.paused,
		CopiedBytes: c.copied,
		DirtyBytes:  live.Total(),
		DeviceBytes: c.size,
		Diagram:     c.progress.diagram(live),
	}
}
