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

package testing

import (
	"math/rand/v2"
	"time"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
)

// JitterConfig configures how notifications reach the host.
type JitterConfig struct {
	MaxLatencyMs     int
	FragmentMinBytes int
	Seed             uint64
	FragmentReplies  bool
}

// DefaultJitterConfig returns a configuration with small latency and
// random fragmentation of every notification.
func DefaultJitterConfig() JitterConfig {
	return JitterConfig{
		MaxLatencyMs:     5,
		FragmentReplies:  true,
		FragmentMinBytes: 1,
	}
}

// Jitter simulates a BLE link that splits notifications at arbitrary
// boundaries and delivers them late. Bytes are never lost or reordered.
type Jitter struct {
	rng    *rand.Rand
	config JitterConfig
	mu     syncutil.Mutex
}

// NewJitter creates a jitter source. A zero Seed picks a random one.
func NewJitter(config JitterConfig) *Jitter {
	var rng *rand.Rand
	if config.Seed != 0 {
		rng = rand.New(rand.NewPCG(config.Seed, config.Seed^0xDEADBEEF)) //nolint:gosec // Test code, not crypto
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Test code, not crypto
	}
	if config.FragmentMinBytes < 1 {
		config.FragmentMinBytes = 1
	}
	return &Jitter{config: config, rng: rng}
}

// Fragment splits one notification into pieces of random length.
func (j *Jitter) Fragment(data []byte) [][]byte {
	if !j.config.FragmentReplies || len(data) <= j.config.FragmentMinBytes {
		return [][]byte{data}
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var pieces [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > j.config.FragmentMinBytes {
			n = j.config.FragmentMinBytes + j.rng.IntN(n-j.config.FragmentMinBytes+1)
		}
		pieces = append(pieces, data[:n:n])
		data = data[n:]
	}
	return pieces
}

// Delay sleeps for a random latency up to MaxLatencyMs.
func (j *Jitter) Delay() {
	if j.config.MaxLatencyMs <= 0 {
		return
	}
	j.mu.Lock()
	delay := time.Duration(j.rng.IntN(j.config.MaxLatencyMs+1)) * time.Millisecond
	j.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}
