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

package daisychain

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (0 or 1 = single attempt)
	MaxAttempts int
	// InitialBackoff is the initial backoff duration
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which the backoff increases
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0-1.0)
	Jitter float64
	// RetryTimeout is the overall timeout for all retry attempts
	RetryTimeout time.Duration
}

// DefaultRetryConfig returns the retry policy used for command round trips
// when retry is enabled. Each attempt already waits a full response timeout,
// so the backoff between attempts stays short.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       CommandRetries,
		InitialBackoff:    CommandInitialBackoff,
		MaxBackoff:        CommandMaxBackoff,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      0,
	}
}

// ConnectionRetryConfig returns the retry policy for (re)connecting a device.
func ConnectionRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       DefaultConnectionRetries,
		InitialBackoff:    ConnectionInitialBackoff,
		MaxBackoff:        ConnectionMaxBackoff,
		BackoffMultiplier: ConnectionBackoffMultiplier,
		Jitter:            ConnectionJitter,
		RetryTimeout:      ConnectionRetryTimeout,
	}
}

// RetryableFunc is a function that can be retried. attempt starts at 1.
type RetryableFunc func(attempt int) error

// RetryWithConfig runs fn until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts or the context ends. A nil config means a single attempt.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil || config.MaxAttempts <= 1 {
		return fn(1)
	}

	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	var lastErr error
	backoff := config.InitialBackoff
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("retry context cancelled: %w", ctx.Err())
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		sleep := jitteredSleep(backoff, config.Jitter)
		Logger().Debug().Err(err).
			Int("attempt", attempt).
			Dur("backoff", sleep).
			Msg("retrying after transient failure")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}
	return lastErr
}

// jitteredSleep adds up to jitterFactor*base of random delay
func jitteredSleep(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	var randBytes [8]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return base
	}
	randFloat := float64(binary.LittleEndian.Uint64(randBytes[:])) / float64(1<<64)
	return base + time.Duration(randFloat*float64(base)*jitterFactor)
}
