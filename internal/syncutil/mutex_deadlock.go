//go:build deadlock

// Package syncutil provides the mutex types used across the engine. Built
// with -tags=deadlock they report lock-order inversions and locks held for
// longer than the configured timeout.
package syncutil

import (
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// Mutex wraps deadlock.Mutex for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex for deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}

// SetLockTimeout sets how long a lock may be waited for before it is
// reported. Zero disables the check.
func SetLockTimeout(d time.Duration) {
	deadlock.Opts.DeadlockTimeout = d
}

// DetectionEnabled reports whether deadlock detection is compiled in.
func DetectionEnabled() bool {
	return true
}
