// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"time"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
)

// Recoverer restores a link that stopped answering.
type Recoverer interface {
	// AttemptRecovery returns nil once the device answers again. The
	// returned flag reports whether the link had to be rebuilt, in which
	// case the device may have rebooted and lost unsaved state.
	AttemptRecovery(ctx context.Context) (reconnected bool, err error)
}

// ProbeFunc checks whether the device still answers on the current link.
type ProbeFunc func(ctx context.Context) error

// ReconnectFunc tears down and re-opens the link.
type ReconnectFunc func(ctx context.Context) error

// TieredRecoverer implements a two-step recovery:
// 1. Probe the device on the existing link
// 2. Rebuild the link via the reconnect function
type TieredRecoverer struct {
	probe       ProbeFunc
	reconnect   ReconnectFunc
	backoff     time.Duration
	maxBackoff  time.Duration
	multiplier  float64
	maxAttempts int
	mu          syncutil.Mutex
}

// NewTieredRecoverer creates a recoverer paced by config. A nil config
// uses daisychain.ConnectionRetryConfig. If reconnect is nil, only the probe
// is attempted.
func NewTieredRecoverer(probe ProbeFunc, reconnect ReconnectFunc, config *daisychain.RetryConfig) *TieredRecoverer {
	if config == nil {
		config = daisychain.ConnectionRetryConfig()
	}
	r := &TieredRecoverer{
		probe:       probe,
		reconnect:   reconnect,
		backoff:     config.InitialBackoff,
		maxBackoff:  config.MaxBackoff,
		multiplier:  config.BackoffMultiplier,
		maxAttempts: config.MaxAttempts,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = daisychain.DefaultConnectionRetries
	}
	if r.backoff <= 0 {
		r.backoff = daisychain.ConnectionInitialBackoff
	}
	if r.maxBackoff < r.backoff {
		r.maxBackoff = r.backoff
	}
	if r.multiplier < 1 {
		r.multiplier = 1
	}
	return r
}

// AttemptRecovery implements Recoverer. Every attempt probes first and
// only reconnects when the probe fails.
func (r *TieredRecoverer) AttemptRecovery(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	reconnected := false
	backoff := r.backoff

	for attempt := range r.maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return reconnected, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(time.Duration(float64(backoff)*r.multiplier), r.maxBackoff)
		}

		// Tier 1: the link may only have stalled
		err := r.probe(ctx)
		if err == nil {
			return reconnected, nil
		}
		lastErr = err

		// Tier 2: rebuild the link
		if r.reconnect == nil {
			continue
		}
		if err := r.reconnect(ctx); err != nil {
			lastErr = err
			continue
		}
		reconnected = true
		if err := r.probe(ctx); err != nil {
			lastErr = err
			continue
		}
		return true, nil
	}
	return reconnected, lastErr
}
