// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package environment locates the kernel facilities the tracer needs.
package environment

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// tracefsCandidates are the usual tracefs mount points, preferred order.
var tracefsCandidates = []string{
	"/sys/kernel/tracing",
	"/sys/kernel/debug/tracing",
}

// TracefsPath returns the root of a usable tracefs mount.
func TracefsPath() (string, error) {
	return tracefsPath(tracefsCandidates)
}

func tracefsPath(candidates []string) (string, error) {
	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, "current_tracer")); err == nil {
			return dir, nil
		}
	}
	return "", errors.New("tracefs not found; mount it with: mount -t tracefs nodev /sys/kernel/tracing")
}
