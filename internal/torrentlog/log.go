// Package torrentlog owns the process-wide logging sink. A single
// global handle is configured once at startup by the CLI entrypoint
// and torn down at process exit (SPEC_FULL.md section 2).
package torrentlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.Mutex
	logger = logrus.New()
	inited bool
)

func init() {
	logger.SetOutput(io.Discard)
}

// Init replaces the global sink exactly once. Calling it a second
// time panics, since the contract is init-before-coordinator-start,
// never mid-run.
func Init(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if inited {
		panic("torrentlog: Init called more than once")
	}
	inited = true
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

// Get returns the process-wide logger. Safe to call before Init; it
// simply discards output until Init runs.
func Get() *logrus.Logger {
	return logger
}

// Teardown flushes and detaches the sink. There's nothing buffered in
// a logrus text sink over os.Stderr, but the hook exists so the CLI's
// shutdown path has a single place to call, matching the documented
// init/teardown lifecycle.
func Teardown() {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(io.Discard)
}
