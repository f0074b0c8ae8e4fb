// Package xlog provides the operator-facing transient logging used by the
// daemon's lifecycle messages, mirroring the direct log.Printf calls in
// the teacher daemon's main loop. It is not a substitute for the
// structured, persisted activity log in internal/activitylog.
package xlog

import (
	"io"
	"log"
	"os"
)

var std = log.New(os.Stderr, "sbh: ", log.LstdFlags)

// SetOutput redirects the package logger, used by tests to capture output.
func SetOutput(w io.Writer) { std.SetOutput(w) }

func Printf(format string, args ...any) { std.Printf(format, args...) }

func Println(args ...any) { std.Println(args...) }
