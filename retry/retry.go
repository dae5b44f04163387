// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package retry

import (
	"context"
	"errors"
	"time"
)

type fatalError struct {
	err error
}

func (e fatalError) Error() string { return e.err.Error() }

func (e fatalError) Unwrap() error { return e.err }

// Fatal wraps an error to signal Retry that the operation should not be
// retried.
func Fatal(err error) error {
	return fatalError{err: err}
}

// Retry runs f repeatedly until it succeeds, returns an error wrapped
// with Fatal, the backoff policy says Stop, or the context is done.
// If c is non-nil, each intermediate error is sent to it before the
// next attempt. The last error from f is returned.
func Retry(ctx context.Context, backoff Backoff, f func() error, c chan<- error) error {
	backoff.Reset()
	var err error
	for {
		if err = f(); err == nil {
			return nil
		}
		var fatal fatalError
		if errors.As(err, &fatal) {
			return fatal.err
		}
		next := backoff.Next()
		if next == Stop {
			return err
		}
		if c != nil {
			c <- err
		}
		if next == 0 {
			if ctx.Err() != nil {
				return err
			}
			continue
		}
		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
