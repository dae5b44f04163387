// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package control exposes a running backup over a unix socket.
//
// The protocol is one newline-terminated JSON request per connection,
//
//	{"command": "status"}
//
// answered by one JSON line,
//
//	{"ok": true, "state": "dirty-copy", "pass": 3, ...}
//
// Errors come back as {"ok": false, "error": "..."}.
package control

import "time"

// Commands a server understands.
const (
	CommandStatus = "status"
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandCancel = "cancel"
)

// connTimeout caps how long either end waits on a single exchange.
const connTimeout = 5 * time.Second

// Handler is the running backup as the server sees it.
type Handler interface {
	Status() Status
	Pause()
	Resume()
	Cancel()
}

// Status carries the fields of a status response. DirtyBytes counts
// writes accumulated since the last drain; Diagram is a multi-line
// character map of the device, one cell per character.
type Status struct {
	State       string
	Pass        int
	Paused      bool
	CopiedBytes uint64
	DirtyBytes  uint64
	DeviceBytes uint64
	Diagram     string
}
