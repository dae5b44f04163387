// Copyright 2019 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command provides process lifecycle helpers for the trackup
// binary.
package command

import (
	"context"
	"os"
	"os/signal"

	"github.com/ashleynewson/trackup/logger"
)

// CancelOnSignals returns a Context cancelled when any of sigs is
// received, assuming those signals can be handled by the current
// process.
//
// The first signal begins an orderly shutdown, which includes
// restoring the kernel tracer state. A second signal exits on the
// spot, for when the shutdown is itself stuck; the tracer is left
// claimed in that case.
func CancelOnSignals(ctx context.Context, sigs ...os.Signal) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	c := make(chan os.Signal, 2)
	signal.Notify(c, sigs...)
	go func() {
		defer signal.Stop(c)
		select {
		case <-ctx.Done():
			return
		case sig := <-c:
			logger.Infof(ctx, "received %s; shutting down (repeat to exit immediately)", sig)
			cancel()
		}
		sig := <-c
		logger.Errorf(ctx, "received second %s; exiting without cleanup", sig)
		os.Exit(1)
	}()
	return ctx
}
