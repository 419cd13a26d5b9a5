//go:build !deadlock

// Package syncutil provides the mutex types used across the engine. Built
// with -tags=deadlock they report lock-order inversions and locks held for
// longer than the configured timeout.
package syncutil

import (
	"sync"
	"time"
)

// Mutex wraps sync.Mutex.
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
type RWMutex struct {
	sync.RWMutex
}

// SetLockTimeout is a no-op without deadlock detection.
func SetLockTimeout(time.Duration) {}

// DetectionEnabled reports whether deadlock detection is compiled in.
func DetectionEnabled() bool {
	return false
}
