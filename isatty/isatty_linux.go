// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package isatty reports whether standard output is a terminal.
package isatty

import (
	"os"

	"golang.org/x/sys/unix"
)

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}
