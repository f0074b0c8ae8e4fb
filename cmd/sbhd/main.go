// Command sbhd runs the storage-pressure ballast and artifact-reclamation
// daemon. CLI flag parsing, config-file loading, and TOML/env overrides
// are intentionally out of scope here — this entrypoint wires the
// in-process defaults and starts the tick loop, the way the teacher's
// main.go defers everything but exit-code translation to cmd.Run.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"sbh/internal/daemon"
	"sbh/internal/platform"
	"sbh/internal/sbhconfig"
)

type exitCodeError struct {
	Code int
	Err  error
}

func (e exitCodeError) Error() string { return e.Err.Error() }
func (e exitCodeError) Unwrap() error { return e.Err }

func run() error {
	plat := platform.NewLinuxPlatform()
	tunables := sbhconfig.Default()

	dataDir := plat.DefaultPaths().DataDir
	if dataDir == "" {
		dataDir = "/tmp/sbh"
	}

	return daemon.Run(daemon.Config{
		DataDir:  dataDir,
		Interval: time.Second,
		Tunables: tunables,
		Platform: plat,
	})
}

func main() {
	if err := run(); err != nil {
		var exitErr exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
