// Copyright 2018 The Fuchsia Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"bytes"
	"context"
	goLog "log"
	"os"
	"strings"
	"testing"

	"github.com/ashleynewson/trackup/color"
)

func TestWithContext(t *testing.T) {
	logger := NewLogger(DebugLevel, color.NewColor(color.ColorAuto), os.Stdout, os.Stderr, "")
	ctx := context.Background()
	if v, ok := ctx.Value(globalLoggerKeyType{}).(*Logger); ok || v != nil {
		t.Fatalf("Default context should not have globalLoggerKeyType. Expected: \nnil\n but got: \n%+v ", v)
	}
	ctx = WithLogger(ctx, logger)
	if v, ok := ctx.Value(globalLoggerKeyType{}).(*Logger); !ok || v == nil {
		t.Fatalf("Updated context should have globalLoggerKeyType, but got nil")
	}
}

func TestNewLogger(t *testing.T) {
	prefix := "testprefix "

	logger := NewLogger(InfoLevel, color.NewColor(color.ColorAuto), nil, nil, prefix)
	logFlags, errFlags := logger.goLogger.Flags(), logger.goErrorLogger.Flags()

	correctFlags := goLog.Ldate | goLog.Lmicroseconds

	if logFlags != correctFlags || errFlags != correctFlags {
		t.Fatalf("New loggers should have the proper flags set for both standard and error logging. Expected: \n%+v and %+v\n but got: \n%+v and %+v", correctFlags, correctFlags, logFlags, errFlags)
	}

	logPrefix := logger.prefix
	if logPrefix != prefix {
		t.Fatalf("New loggers should use the specified prefix on creation. Expected: \n%+v\n but got: \n%+v", prefix, logPrefix)
	}
}

func TestLevelFiltering(t *testing.T) {
	var out, errOut bytes.Buffer
	logger := NewLogger(WarningLevel, color.NewColor(color.ColorNever), &out, &errOut, "")

	logger.Debugf("quiet")
	logger.Infof("quiet")
	if out.Len() != 0 {
		t.Errorf("messages below WarningLevel were written: %q", out.String())
	}

	logger.Warningf("loud: %d", 7)
	if !strings.Contains(out.String(), "WARN: loud: 7") {
		t.Errorf("warning output = %q, want it to contain %q", out.String(), "WARN: loud: 7")
	}

	logger.Errorf("broken")
	if !strings.Contains(errOut.String(), "ERROR: broken") {
		t.Errorf("error output = %q, want it to contain %q", errOut.String(), "ERROR: broken")
	}
}

func TestContextHelpers(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(DebugLevel, color.NewColor(color.ColorNever), &out, &out, "trackup ")
	ctx := WithLogger(context.Background(), logger)

	Infof(ctx, "pass %d", 3)
	if !strings.Contains(out.String(), "trackup pass 3") {
		t.Errorf("context Infof output = %q, want prefix and message", out.String())
	}
}

func TestLogLevelFlagValue(t *testing.T) {
	var level LogLevel
	if err := level.Set("debug"); err != nil {
		t.Fatalf("Set(debug): %v", err)
	}
	if level != DebugLevel {
		t.Errorf("Set(debug) produced %v", level)
	}
	if got := level.String(); got != "debug" {
		t.Errorf("String() = %q, want %q", got, "debug")
	}
	if err := level.Set("shouty"); err == nil {
		t.Error("Set(shouty) should have failed")
	}
}
