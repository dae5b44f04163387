// Copyright 2026 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package mirror

import (
	"context"

	"github.com/pkg/errors"
)

// FailureClass says which kind of fault ended a backup. Running out of
// passes is not on this list: a backup that keeps finding dirty data
// stays in its loop rather than failing.
type FailureClass int

const (
	// FailureNone is the class of a nil or unclassified error.
	FailureNone FailureClass = iota
	// FailureTracerBusy means the kernel block tracer was already
	// claimed by someone else.
	FailureTracerBusy
	// FailureDeviceUnavailable means the source or target could not be
	// opened, probed or created.
	FailureDeviceUnavailable
	// FailureIO means a read, write or flush failed hard mid-run.
	FailureIO
	// FailureInterrupted means the run was cancelled, by signal or by a
	// control request.
	FailureInterrupted
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureTracerBusy:
		return "tracer busy"
	case FailureDeviceUnavailable:
		return "device unavailable"
	case FailureIO:
		return "i/o fault"
	case FailureInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error carries a failure together with its class.
type Error struct {
	Class FailureClass
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// classify attaches class to err unless it already carries one.
// Cancellation always classifies as interrupted, whatever phase it
// surfaced in.
func classify(class FailureClass, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		class = FailureInterrupted
	}
	return &Error{Class: class, Err: err}
}

// ClassOf extracts the failure class from err, or FailureNone if err is
// nil or was never classified.
func ClassOf(err error) FailureClass {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	return FailureNone
}
