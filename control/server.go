// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/sys/unix"

	"github.com/ashleynewson/trackup/logger"
)

// Serve answers control requests on a unix socket at path until ctx is
// done, then removes the socket. A socket left behind by a dead process
// is replaced; one with a live listener is an error.
func Serve(ctx context.Context, path string, h Handler) error {
	l, err := listen(path)
	if err != nil {
		return err
	}
	defer func() {
		l.Close()
		os.Remove(path)
	}()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	logger.Debugf(ctx, "control socket listening at %s", path)
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accepting control connection")
		}
		go serveConn(ctx, conn, h)
	}
}

func listen(path string) (net.Listener, error) {
	l, err := net.Listen("unix", path)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		return nil, errors.Wrapf(err, "listening on %s", path)
	}
	// Either a backup is live on this socket or one died and left it
	// behind. Probing tells the two apart.
	if conn, derr := net.DialTimeout("unix", path, time.Second); derr == nil {
		conn.Close()
		return nil, errors.Errorf("control socket %s is already served", path)
	}
	if err := os.Remove(path); err != nil {
		return nil, errors.Wrap(err, "removing stale control socket")
	}
	l, err = net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", path)
	}
	return l, nil
}

func serveConn(ctx context.Context, conn net.Conn, h Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connTimeout))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if len(line) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Debugf(ctx, "control request read failed: %v", err)
		}
		return
	}
	if _, err := conn.Write(append([]byte(dispatch(h, line)), '\n')); err != nil {
		logger.Debugf(ctx, "control response write failed: %v", err)
	}
}

func dispatch(h Handler, req []byte) string {
	switch cmd := gjson.GetBytes(req, "command").String(); cmd {
	case CommandStatus:
		return statusResponse(h.Status())
	case CommandPause:
		h.Pause()
		return ack()
	case CommandResume:
		h.Resume()
		return ack()
	case CommandCancel:
		h.Cancel()
		return ack()
	default:
		return fail(fmt.Sprintf("unknown command %q", cmd))
	}
}

func ack() string {
	out, _ := sjson.Set("{}", "ok", true)
	return out
}

func fail(msg string) string {
	out, _ := sjson.Set("{}", "ok", false)
	out, _ = sjson.Set(out, "error", msg)
	return out
}

func statusResponse(s Status) string {
	out := ack()
	out, _ = sjson.Set(out, "state", s.State)
	out, _ = sjson.Set(out, "pass", s.Pass)
	out, _ = sjson.Set(out, "paused", s.Paused)
	out, _ = sjson.Set(out, "copied_bytes", s.CopiedBytes)
	out, _ = sjson.Set(out, "dirty_bytes", s.DirtyBytes)
	out, _ = sjson.Set(out, "device_bytes", s.DeviceBytes)
	out, _ = sjson.Set(out, "diagram", s.Diagram)
	return out
}
