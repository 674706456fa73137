//go:build !deadlock

// Package syncutil provides the locks shared by the client, the response
// assembler and the OTA updater. Plain sync primitives are used unless the
// module is built with -tags=deadlock, which swaps in github.com/sasha-s/go-deadlock.
package syncutil

import "sync"

// DeadlockDetection reports whether lock-order checking is compiled in.
const DeadlockDetection = false

// Mutex guards single-owner state such as the in-flight request slot.
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex guards state read far more often than it changes (the LED mirror).
//
//nolint:gocritic // embedding exposes Lock/Unlock directly
type RWMutex struct {
	sync.RWMutex
}
