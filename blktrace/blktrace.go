// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package blktrace claims the kernel's blk tracer for one block device
// and turns the binary records it emits into write events.
//
// The tracer is a single, global tracefs facility. A Session takes it
// over exclusively: if any tracing events are enabled, another tracer
// is selected, or the device is already being traced, Attach fails
// with ErrTracerBusy and leaves everything untouched. Every knob a
// Session does set is restored on Close, whichever way the session
// ends.
package blktrace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/ashleynewson/trackup/environment"
	"github.com/ashleynewson/trackup/logger"
)

// ErrTracerBusy indicates the kernel block tracer is already in use.
var ErrTracerBusy = errors.New("kernel block tracer is in use")

// DefaultBufferSizeKB is the per-CPU kernel ring buffer size used when
// Config leaves it unset. Undersized rings drop records under load,
// and a dropped record is a write the mirror never hears about.
const DefaultBufferSizeKB = 8192

const (
	pollTimeoutMS = 100
	quietPolls    = 2
	readBufSize   = 64 << 10
)

// Config selects the device to trace and how to claim the tracer.
type Config struct {
	// Device is the path of the block device node whose writes to
	// observe. A partition is traced by attaching to its parent disk
	// with the partition's LBA window.
	Device string

	// TracefsPath is the tracefs mount root. Autodetected when empty.
	TracefsPath string

	// BufferSizeKB is the per-CPU kernel ring buffer size.
	// DefaultBufferSizeKB when zero.
	BufferSizeKB int
}

// Session is an exclusive claim on the blk tracer. Events are
// delivered to the handler passed to Attach from a single goroutine,
// in the order they are read from the kernel.
type Session struct {
	handler func(Event)

	tracefs   string
	deviceDir string // sysfs trace directory of the attach device
	id        uint32 // device number carried by matching records
	base      uint64 // first byte of the traced window on the attach device
	limit     uint64 // first byte past the traced window
	bounded   bool   // window narrower than the attach device
	major     uint32
	minor     uint32

	flushBudget uint64

	fd   int
	undo []undoStep

	stop   chan struct{}
	flushc chan chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	consErr error

	closeOnce sync.Once
	closeErr  error
}

type undoStep struct {
	path string
	data string
}

// Attach claims the blk tracer for the device in cfg and starts
// delivering its write events to handler. On any failure the tracer
// state is left as it was found.
func Attach(ctx context.Context, cfg Config, handler func(Event)) (*Session, error) {
	if handler == nil {
		return nil, errors.New("nil event handler")
	}
	tracefs := cfg.TracefsPath
	if tracefs == "" {
		var err error
		if tracefs, err = environment.TracefsPath(); err != nil {
			return nil, err
		}
	}
	bufKB := cfg.BufferSizeKB
	if bufKB <= 0 {
		bufKB = DefaultBufferSizeKB
	}

	major, minor, err := deviceNumbers(cfg.Device)
	if err != nil {
		return nil, err
	}
	reg, err := resolveRegion(sysBlockPath, major, minor)
	if err != nil {
		return nil, err
	}
	if reg.partition {
		logger.Debugf(ctx, "tracing %s via parent disk %d:%d, sectors [%d, %d)",
			cfg.Device, reg.major, reg.minor, reg.startSector, reg.startSector+reg.sectors)
	}

	s := &Session{
		handler:   handler,
		tracefs:   tracefs,
		deviceDir: filepath.Join(sysBlockPath, fmt.Sprintf("%d:%d", reg.major, reg.minor), "trace"),
		id:        devID(reg.major, reg.minor),
		base:      reg.startSector * sectorSize,
		limit:     (reg.startSector + reg.sectors) * sectorSize,
		bounded:   reg.partition,
		major:     reg.major,
		minor:     reg.minor,
		// trace_pipe backlog can never exceed the rings; reading this
		// much during a flush proves the pre-flush records are out.
		flushBudget: uint64(bufKB) << 10 * uint64(runtime.NumCPU()),
		stop:        make(chan struct{}),
		flushc:      make(chan chan struct{}),
		done:        make(chan struct{}),
	}

	if err := s.claim(ctx, reg, bufKB); err != nil {
		return nil, multierr.Append(err, s.release())
	}

	pipe := filepath.Join(tracefs, "trace_pipe")
	fd, err := unix.Open(pipe, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, multierr.Append(errors.Wrapf(err, "opening %s", pipe), s.release())
	}
	s.fd = fd

	go s.consume(ctx)
	logger.Debugf(ctx, "block tracer attached to %s (device %d:%d)", cfg.Device, reg.major, reg.minor)
	return s, nil
}

// claim probes for exclusivity and then flips the tracing knobs,
// recording prior contents for release.
func (s *Session) claim(ctx context.Context, reg region, bufKB int) error {
	if err := s.checkIdle(filepath.Join(s.tracefs, "events", "enable"), "0", "tracing events are enabled"); err != nil {
		return err
	}
	if err := s.checkIdle(filepath.Join(s.tracefs, "current_tracer"), "nop", "another tracer is selected"); err != nil {
		return err
	}
	if err := s.checkIdle(filepath.Join(s.deviceDir, "enable"), "0", "device is already being traced"); err != nil {
		return err
	}

	logger.Debugf(ctx, "claiming block tracer (tracefs %s, buffer %d KiB/cpu)", s.tracefs, bufKB)
	type knob struct{ path, value string }
	steps := []knob{
		{filepath.Join(s.tracefs, "buffer_size_kb"), strconv.Itoa(bufKB)},
		{filepath.Join(s.tracefs, "current_tracer"), "blk"},
		{filepath.Join(s.tracefs, "options", "bin"), "1"},
		{filepath.Join(s.tracefs, "options", "context-info"), "0"},
		{filepath.Join(s.deviceDir, "act_mask"), "queue"},
	}
	if reg.partition {
		steps = append(steps,
			knob{filepath.Join(s.deviceDir, "start_lba"), strconv.FormatUint(reg.startSector, 10)},
			knob{filepath.Join(s.deviceDir, "end_lba"), strconv.FormatUint(reg.startSector+reg.sectors, 10)},
		)
	}
	for _, step := range steps {
		if err := s.set(step.path, step.value); err != nil {
			return err
		}
	}

	// Discard whatever the previous owner left in the buffer, then
	// start the flow of events.
	if err := os.WriteFile(filepath.Join(s.tracefs, "trace"), nil, 0); err != nil {
		return errors.Wrap(err, "clearing trace buffer")
	}
	return s.set(filepath.Join(s.deviceDir, "enable"), "1")
}

func (s *Session) checkIdle(path, want, busy string) error {
	got, err := readSysfsString(path)
	if err != nil {
		return err
	}
	if got != want {
		return errors.Wrapf(ErrTracerBusy, "%s (%s is %q)", busy, path, got)
	}
	return nil
}

// set writes value to a tracing file, remembering the prior contents
// so release can put it back.
func (s *Session) set(path, value string) error {
	prior, err := readSysfsString(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(value), 0); err != nil {
		return errors.Wrapf(err, "writing %q to %s", value, path)
	}
	s.undo = append(s.undo, undoStep{path: path, data: prior})
	return nil
}

// release restores every file set during claim, most recent first, so
// the device stops tracing before the global tracer is switched back.
func (s *Session) release() error {
	var err error
	for i := len(s.undo) - 1; i >= 0; i-- {
		u := s.undo[i]
		if werr := os.WriteFile(u.path, []byte(u.data), 0); werr != nil {
			err = multierr.Append(err, errors.Wrapf(werr, "restoring %s", u.path))
		}
	}
	s.undo = nil
	return err
}

// Size returns the length in bytes of the traced window.
func (s *Session) Size() uint64 {
	return s.limit - s.base
}

// DiskNumbers returns the device numbers of the disk the tracer is
// attached to.
func (s *Session) DiskNumbers() (major, minor uint32) {
	return s.major, s.minor
}

// TracesWholeDisk reports whether the traced window covers the entire
// attach device rather than one partition of it.
func (s *Session) TracesWholeDisk() bool {
	return !s.bounded
}

// Flush blocks until every record the kernel emitted before the call
// has been read, decoded, and delivered to the handler. Call it after
// syncing storage: once Flush returns, an empty dirty set really means
// no write has gone unseen.
//
// Under sustained write load the pipe may never go quiet; Flush then
// returns after consuming a full ring's worth of backlog, which is
// just as strong a guarantee for records already emitted.
func (s *Session) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushc <- ack:
	case <-s.done:
		return s.runErr()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-s.done:
		return s.runErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the consumer and restores every tracing knob the session
// touched, in reverse order. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		unix.Close(s.fd)
		s.mu.Lock()
		consErr := s.consErr
		s.mu.Unlock()
		s.closeErr = multierr.Combine(consErr, s.release())
	})
	return s.closeErr
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.consErr == nil {
		s.consErr = err
	}
	s.mu.Unlock()
}

func (s *Session) runErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consErr != nil {
		return s.consErr
	}
	return errors.New("tracer session closed")
}

// consume is the session's reader goroutine: poll trace_pipe, peel
// records off the stream, and hand matching events to the handler.
func (s *Session) consume(ctx context.Context) {
	defer close(s.done)
	var (
		buf     = make([]byte, readBufSize)
		pending []byte
		flush   chan struct{}
		flushed uint64
		quiet   int
	)
	for {
		select {
		case <-s.stop:
			return
		case ack := <-s.flushc:
			flush = ack
			flushed = 0
			quiet = 0
		default:
		}

		n, err := s.read(buf)
		if err != nil {
			s.fail(err)
			return
		}
		if n == 0 {
			if flush != nil && len(pending) == 0 {
				if quiet++; quiet >= quietPolls {
					close(flush)
					flush = nil
				}
			}
			continue
		}
		quiet = 0

		pending = append(pending, buf[:n]...)
		for len(pending) >= headerSize {
			// Every record opens with the magic, so checking it here
			// doubles as a framing check on the stream.
			order, err := byteOrder(pending)
			if err != nil {
				s.fail(errors.Wrap(err, "trace stream desynchronized"))
				return
			}
			rec := decodeRecord(pending, order)
			total := headerSize + int(rec.pduLen)
			if len(pending) < total {
				break
			}
			s.emit(ctx, rec)
			pending = pending[total:]
		}

		if flush != nil {
			if flushed += uint64(n); flushed >= s.flushBudget {
				logger.Debugf(ctx, "flush budget consumed while pipe still busy; releasing waiter")
				close(flush)
				flush = nil
			}
		}
	}
}

// read waits briefly for pipe data and returns what arrived, or (0,
// nil) on an empty poll interval.
func (s *Session) read(buf []byte) (int, error) {
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, pollTimeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "polling trace_pipe")
	}
	if n == 0 {
		return 0, nil
	}
	if fds[0].Revents&unix.POLLIN == 0 {
		return 0, errors.Errorf("trace_pipe unreadable (revents %#x)", fds[0].Revents)
	}
	m, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "reading trace_pipe")
	}
	if m < 0 {
		m = 0
	}
	return m, nil
}

// emit filters one record down to an Event and delivers it.
func (s *Session) emit(ctx context.Context, rec record) {
	if rec.device != s.id || rec.act() != taQueue || rec.bytes == 0 {
		return
	}
	category := rec.category()
	if category&tcWrite == 0 {
		// Reads leave the device as it was.
		return
	}
	kind := Write
	if category&tcDiscard != 0 {
		kind = Discard
	}

	lo := rec.sector * sectorSize
	hi := lo + uint64(rec.bytes)
	if lo < s.base {
		lo = s.base
	}
	if hi > s.limit {
		logger.Tracef(ctx, "%s event [%d, %d) extends past traced window; clamping", kind, rec.sector*sectorSize, hi)
		hi = s.limit
	}
	if hi <= lo {
		return
	}
	s.handler(Event{Kind: kind, Offset: lo - s.base, Length: hi - lo})
}
