// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"syscall"

	"github.com/google/subcommands"

	"github.com/ashleynewson/trackup/color"
	"github.com/ashleynewson/trackup/command"
	"github.com/ashleynewson/trackup/logger"
)

var (
	colors = color.ColorAuto
	level  = logger.InfoLevel
)

func init() {
	flag.Var(&colors, "color", "use color in output, can be never, auto, always")
	flag.Var(&level, "level", "output verbosity, can be fatal, error, warning, info, debug or trace")
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&BackupCommand{}, "")
	subcommands.Register(&StatusCommand{}, "")
	subcommands.Register(&PauseCommand{}, "")
	subcommands.Register(&ResumeCommand{}, "")
	subcommands.Register(&CancelCommand{}, "")

	flag.Parse()

	l := logger.NewLogger(level, color.NewColor(colors), os.Stdout, os.Stderr, "trackup ")
	l.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	ctx := logger.WithLogger(context.Background(), l)

	ctx = command.CancelOnSignals(ctx, syscall.SIGINT, syscall.SIGTERM)
	os.Exit(int(subcommands.Execute(ctx)))
}
