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

package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, Duty(0))
	assert.Equal(t, 16384, Duty(50))
	assert.Equal(t, LinearRange, Duty(100))
	assert.Equal(t, LinearRange, Duty(150), "clamped")
	assert.Equal(t, 0, Duty(-3), "clamped")
}

func TestComputeStats_Uniform(t *testing.T) {
	t.Parallel()

	st, err := ComputeStats(Uniform(MaxBrightness))
	require.NoError(t, err)

	require.Len(t, st.Chains, ChainCount)
	assert.Equal(t, 10, st.MarginPercent)
	for _, cs := range st.Chains {
		assert.Equal(t, 120, cs.Leds)
		// (120 * 21 + 25 * 6) * 1.10
		assert.Equal(t, 2937, cs.CurrentMA)
		assert.Equal(t, 100, cs.AvgBrightness)
		assert.InDelta(t, 1.0, cs.VoltageDropFactor, 1e-9)
	}
	assert.Equal(t, 6*2937+ESP32CurrentMA, st.TotalCurrentMA)
	require.Len(t, st.PCBWeights, PCBsPerChain)
	assert.InDelta(t, 1.0, st.PCBWeights[0], 1e-9)
	assert.InDelta(t, 1.3, st.PCBWeights[1], 1e-9)
}

func TestComputeStats_Dark(t *testing.T) {
	t.Parallel()

	st, err := ComputeStats(Uniform(0))
	require.NoError(t, err)
	for _, cs := range st.Chains {
		assert.Equal(t, 165, cs.CurrentMA)
		assert.Zero(t, cs.VoltageDropFactor, "no factor against a dark chain")
	}
	assert.Equal(t, 6*165+ESP32CurrentMA, st.TotalCurrentMA)
}

func TestComputeStats_UnevenChains(t *testing.T) {
	t.Parallel()

	leds := Uniform(10)
	// light up the whole second chain
	for i := 120; i < 240; i++ {
		leds[i].Brightness = 20
	}
	st, err := ComputeStats(leds)
	require.NoError(t, err)
	assert.Equal(t, 20, st.Chains[1].AvgBrightness)
	assert.InDelta(t, 2.0, st.Chains[1].VoltageDropFactor, 0.05)
	assert.Greater(t, st.Chains[1].CurrentMA, st.Chains[0].CurrentMA)
}

func TestComputeStats_RejectsPartialChain(t *testing.T) {
	t.Parallel()
	_, err := ComputeStats(Uniform(10)[:100])
	require.ErrorIs(t, err, ErrInvalidConfig)
}
