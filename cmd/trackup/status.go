// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"

	"github.com/ashleynewson/trackup/control"
	"github.com/ashleynewson/trackup/logger"
)

// StatusCommand reports where a running backup is.
type StatusCommand struct {
	socket string
	json   bool
}

func (*StatusCommand) Name() string {
	return "status"
}

func (*StatusCommand) Usage() string {
	return `
trackup status -socket <path>

Prints the progress of the backup serving the given control socket.

flags:
`
}

func (*StatusCommand) Synopsis() string {
	return "prints the progress of a running backup"
}

func (s *StatusCommand) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.socket, "socket", "", "control socket of the running backup (required)")
	f.BoolVar(&s.json, "json", false, "print the raw JSON response instead")
}

func (s *StatusCommand) execute(ctx context.Context) error {
	if s.socket == "" {
		return fmt.Errorf("-socket is required")
	}
	c := control.NewClient(s.socket)
	if s.json {
		resp, err := c.Raw(ctx, control.CommandStatus)
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	}

	st, err := c.Status(ctx)
	if err != nil {
		return err
	}
	state := st.State
	if st.Paused {
		state += " (paused)"
	}
	fmt.Printf("state:  %s\n", state)
	fmt.Printf("pass:   %d\n", st.Pass)
	fmt.Printf("copied: %s of %s\n", humanize.IBytes(st.CopiedBytes), humanize.IBytes(st.DeviceBytes))
	fmt.Printf("dirty:  %s\n", humanize.IBytes(st.DirtyBytes))
	if st.Diagram != "" {
		fmt.Println(st.Diagram)
	}
	return nil
}

func (s *StatusCommand) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := s.execute(ctx); err != nil {
		logger.Errorf(ctx, "status failed: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
