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

import "time"

// Connection retry constants control device (re)connection behavior.
const (
	// DefaultConnectionRetries is the number of attempts to connect to a device.
	DefaultConnectionRetries = 3
	// ConnectionInitialBackoff is the initial delay between connection attempts.
	// BLE stacks need time to tear down a stale GATT session.
	ConnectionInitialBackoff = 500 * time.Millisecond
	// ConnectionMaxBackoff is the maximum delay between connection attempts.
	ConnectionMaxBackoff = 3 * time.Second
	// ConnectionBackoffMultiplier is the exponential backoff multiplier.
	ConnectionBackoffMultiplier = 2.0
	// ConnectionJitter is the random jitter factor (0.0-1.0).
	ConnectionJitter = 0.1
	// ConnectionRetryTimeout is the overall timeout for all connection attempts.
	ConnectionRetryTimeout = 30 * time.Second
)

// Command round-trip constants.
const (
	// DefaultResponseTimeout bounds the wait for a complete JSON response.
	DefaultResponseTimeout = 3 * time.Second
	// CommandRetries is the attempt count used when command retry is enabled.
	// Retry is off unless a client is built with WithRetry.
	CommandRetries = 3
	// CommandInitialBackoff is the delay before the first re-issue.
	CommandInitialBackoff = 50 * time.Millisecond
	// CommandMaxBackoff is the maximum delay between re-issues.
	CommandMaxBackoff = 500 * time.Millisecond
)

// OTA constants. The device gives no retry bound of its own.
const (
	// DefaultMaxStartRetries bounds resends of the Start frame.
	DefaultMaxStartRetries = 10
	// DefaultMaxSectorRetries bounds consecutive sector outcomes without progress.
	DefaultMaxSectorRetries = 10
	// DefaultOTAAckTimeout bounds the wait for a control or firmware ack.
	// Flash erase of a sector on the device can take a while.
	DefaultOTAAckTimeout = 5 * time.Second
)
