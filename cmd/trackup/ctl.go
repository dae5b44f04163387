// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ashleynewson/trackup/control"
	"github.com/ashleynewson/trackup/logger"
)

// ctlCommand is the shared shape of the pause, resume and cancel
// subcommands: one request at a control socket.
type ctlCommand struct {
	socket string
}

func (c *ctlCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.socket, "socket", "", "control socket of the running backup (required)")
}

func (c *ctlCommand) run(ctx context.Context, command string) subcommands.ExitStatus {
	if c.socket == "" {
		logger.Errorf(ctx, "%s failed: -socket is required", command)
		return subcommands.ExitUsageError
	}
	if _, err := control.NewClient(c.socket).Raw(ctx, command); err != nil {
		logger.Errorf(ctx, "%s failed: %v", command, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func usage(command, effect string) string {
	return fmt.Sprintf(`
trackup %s -socket <path>

%s

flags:
`, command, effect)
}

// PauseCommand parks a running backup before its next chunk.
type PauseCommand struct {
	ctlCommand
}

func (*PauseCommand) Name() string {
	return "pause"
}

func (*PauseCommand) Usage() string {
	return usage("pause", "Parks the backup before its next chunk; tracing continues.")
}

func (*PauseCommand) Synopsis() string {
	return "pauses a running backup"
}

func (p *PauseCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return p.run(ctx, control.CommandPause)
}

// ResumeCommand lets a paused backup continue.
type ResumeCommand struct {
	ctlCommand
}

func (*ResumeCommand) Name() string {
	return "resume"
}

func (*ResumeCommand) Usage() string {
	return usage("resume", "Lets a paused backup continue where it stopped.")
}

func (*ResumeCommand) Synopsis() string {
	return "resumes a paused backup"
}

func (r *ResumeCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return r.run(ctx, control.CommandResume)
}

// CancelCommand aborts a running backup.
type CancelCommand struct {
	ctlCommand
}

func (*CancelCommand) Name() string {
	return "cancel"
}

func (*CancelCommand) Usage() string {
	return usage("cancel", "Aborts the backup; the tracer is released and the image left incomplete.")
}

func (*CancelCommand) Synopsis() string {
	return "cancels a running backup"
}

func (c *CancelCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return c.run(ctx, control.CommandCancel)
}
