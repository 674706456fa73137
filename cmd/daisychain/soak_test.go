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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"os"
	"testing"
	"time"

	"github.com/ZaparooProject/go-daisychain"
	simtest "github.com/ZaparooProject/go-daisychain/internal/testing"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimClient(t *testing.T) (*daisychain.Client, *simtest.VirtualController) {
	t.Helper()
	sim := simtest.NewVirtualController()
	client, err := daisychain.NewClient(simtest.NewSimulatorTransport(sim),
		daisychain.WithResponseTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, sim
}

func TestPatternSourceMutate(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	src := newPatternSource(rng)
	require.NoError(t, chain.CheckDense(src.Leds()))

	before := src.Leds()
	changed := src.mutate(rng, 30)
	assert.LessOrEqual(t, changed, 30)

	diff := 0
	for i, led := range src.Leds() {
		assert.True(t, led.SameIdentity(before[i]))
		if led.Brightness != before[i].Brightness {
			diff++
		}
	}
	assert.LessOrEqual(t, diff, changed)
	assert.Positive(t, diff)
}

func TestRunSoakPasses(t *testing.T) {
	t.Parallel()

	client, sim := newSimClient(t)
	var out bytes.Buffer
	result, err := runSoak(context.Background(), &out, client, soakConfig{
		reportDir: t.TempDir(), rounds: 4, maxChanged: 50, seed: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.ReportFile)
	assert.Contains(t, out.String(), "seed 42")
	assert.Contains(t, out.String(), "Soak passed: 4 rounds")
	assert.Equal(t, 4*chain.LEDTotal/chain.ChunkSize, sim.CommandCount("get_brightness"))
}

func TestRunSoakWritesReport(t *testing.T) {
	t.Parallel()

	client, sim := newSimClient(t)
	sim.FailNext("set_brightness", 2, "chain fault")

	dir := t.TempDir()
	var out bytes.Buffer
	result, err := runSoak(context.Background(), &out, client, soakConfig{
		reportDir: dir, rounds: 3, maxChanged: 10, seed: 7,
	})
	require.ErrorIs(t, err, errSoakFailed)
	require.ErrorIs(t, err, daisychain.ErrCommandRejected)
	assert.Equal(t, 1, result.Failed)
	require.NotEmpty(t, result.ReportFile)

	data, err := os.ReadFile(result.ReportFile)
	require.NoError(t, err)
	var report soakReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 1, report.Round)
	assert.Equal(t, uint64(7), report.Seed)
	assert.Equal(t, "upload", report.Operation)
	require.Len(t, report.OperationLog, 1)
	assert.False(t, report.OperationLog[0].Success)
}

func TestRunSoakStopsOnCancel(t *testing.T) {
	t.Parallel()

	client, _ := newSimClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := runSoak(ctx, &bytes.Buffer{}, client, soakConfig{rounds: 3, maxChanged: 5, seed: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.Passed)
}
