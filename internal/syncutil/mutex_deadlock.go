//go:build deadlock

package syncutil

import (
	"os"
	"time"

	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockDetection reports whether lock-order checking is compiled in.
const DeadlockDetection = true

// An OTA sector ack can legitimately hold the updater lock for several
// seconds, so the default 30s detector window is stretched when asked.
func init() {
	if v := os.Getenv("DAISYCHAIN_DEADLOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			deadlock.Opts.DeadlockTimeout = d
		}
	}
}

type Mutex struct {
	deadlock.Mutex
}

type RWMutex struct {
	deadlock.RWMutex
}
