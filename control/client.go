// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package control

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Client talks to a backup's control socket.
type Client struct {
	path string
}

// NewClient returns a client for the socket at path. No connection is
// made until a request is.
func NewClient(path string) *Client {
	return &Client{path: path}
}

// Status asks the running backup where it is.
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.do(ctx, CommandStatus)
	if err != nil {
		return Status{}, err
	}
	return Status{
		State:       gjson.Get(resp, "state").String(),
		Pass:        int(gjson.Get(resp, "pass").Int()),
		Paused:      gjson.Get(resp, "paused").Bool(),
		CopiedBytes: gjson.Get(resp, "copied_bytes").Uint(),
		DirtyBytes:  gjson.Get(resp, "dirty_bytes").Uint(),
		DeviceBytes: gjson.Get(resp, "device_bytes").Uint(),
		Diagram:     gjson.Get(resp, "diagram").String(),
	}, nil
}

// Pause parks the backup before its next chunk.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, CommandPause)
	return err
}

// Resume lets a paused backup continue.
func (c *Client) Resume(ctx context.Context) error {
	_, err := c.do(ctx, CommandResume)
	return err
}

// Cancel aborts the backup.
func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.do(ctx, CommandCancel)
	return err
}

// Raw performs command and returns the server's JSON response line.
func (c *Client) Raw(ctx context.Context, command string) (string, error) {
	resp, err := c.do(ctx, command)
	return strings.TrimSpace(resp), err
}

func (c *Client) do(ctx context.Context, command string) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.path)
	if err != nil {
		return "", errors.Wrapf(err, "dialing control socket %s", c.path)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(connTimeout))
	}

	req, err := sjson.Set("{}", "command", command)
	if err != nil {
		return "", err
	}
	if _, err := conn.Write([]byte(req + "\n")); err != nil {
		return "", errors.Wrap(err, "sending control request")
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if line == "" {
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.New("connection closed")
		}
		return "", errors.Wrap(err, "reading control response")
	}
	if !gjson.Get(line, "ok").Bool() {
		if msg := gjson.Get(line, "error").String(); msg != "" {
			return "", errors.Errorf("control request failed: %s", msg)
		}
		return "", errors.Errorf("malformed control response %q", strings.TrimSpace(line))
	}
	return line, nil
}
