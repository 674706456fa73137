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
	"fmt"
	"math"
)

// Power estimation constants for the controller board.
const (
	ChainCount   = 6 // Physical chains, PCBsPerChain PCBs each
	PCBsPerChain = PCBCount / ChainCount

	// WeightFactor weights brightness by PCB position along a chain; PCBs
	// further from the feed see more voltage drop.
	WeightFactor = 1.3

	CurrentSafetyMargin = 1.10
	MaxLedCurrentMA     = 21  // per LED at full duty (Rref 2400 ohm)
	BaseCurrentMA       = 25  // idle/dark PCB
	ESP32CurrentMA      = 180 // controller MCU

	LinearGamma = 2.0
	LinearSteps = MaxBrightness + 1
	LinearRange = 65535
)

// linearization maps a brightness percentage to a 16-bit PWM duty using the
// gamma curve the firmware drives the LEDs with.
var linearization = func() [LinearSteps]int {
	var t [LinearSteps]int
	for i := range t {
		v := int(math.Pow(float64(i)/float64(LinearSteps-1), LinearGamma)*LinearRange + 0.5)
		t[i] = min(v, LinearRange)
	}
	return t
}()

// Duty returns the 16-bit PWM duty for a brightness percentage.
func Duty(brightness int) int {
	return linearization[max(0, min(brightness, MaxBrightness))]
}

// ChainStats summarizes one physical chain.
type ChainStats struct {
	Chain              int // 1-based
	Leds               int
	CurrentMA          int // includes the safety margin
	AvgBrightness      int
	WeightedBrightness int
	VoltageDropFactor  float64 // relative to the least loaded chain, 0 when that chain is dark
}

// Stats is the power and load estimate for a full chain configuration.
type Stats struct {
	Chains         []ChainStats
	PCBWeights     []float64
	TotalCurrentMA int // all chains plus the ESP32
	MarginPercent  int
}

// ComputeStats estimates current draw and voltage-drop load per chain.
// leds must be the dense full chain.
func ComputeStats(leds []Led) (Stats, error) {
	if err := CheckDense(leds); err != nil {
		return Stats{}, err
	}

	weights := make([]float64, PCBsPerChain)
	for i := range weights {
		weights[i] = math.Pow(WeightFactor, float64(i))
	}

	st := Stats{
		Chains:        make([]ChainStats, ChainCount),
		PCBWeights:    weights,
		MarginPercent: int(math.Round((CurrentSafetyMargin - 1) * 100)),
	}

	perChain := LEDTotal / ChainCount
	minWeighted := math.MaxInt
	for c := range ChainCount {
		group := leds[c*perChain : (c+1)*perChain]

		var current, weighted float64
		var sum int
		for _, l := range group {
			current += float64(Duty(l.Brightness)) / LinearRange * MaxLedCurrentMA
			sum += l.Brightness
			weighted += float64(l.Brightness) * weights[(l.PCB-1)%PCBsPerChain]
		}

		cs := ChainStats{
			Chain:              c + 1,
			Leds:               len(group),
			CurrentMA:          int((current + BaseCurrentMA*ChainCount) * CurrentSafetyMargin),
			AvgBrightness:      sum / len(group),
			WeightedBrightness: int(weighted / float64(len(group))),
		}
		st.Chains[c] = cs
		st.TotalCurrentMA += cs.CurrentMA
		minWeighted = min(minWeighted, cs.WeightedBrightness)
	}
	st.TotalCurrentMA += ESP32CurrentMA

	if minWeighted > 0 {
		for i := range st.Chains {
			st.Chains[i].VoltageDropFactor = float64(st.Chains[i].WeightedBrightness) / float64(minWeighted)
		}
	}
	return st, nil
}

// Stats estimates power for the configured brightness values.
func (c *Config) Stats() (Stats, error) {
	return ComputeStats(c.leds)
}

func (cs ChainStats) String() string {
	return fmt.Sprintf("chain %d: %d LEDs, %d mA, avg brightness %d, voltage drop factor %.2f",
		cs.Chain, cs.Leds, cs.CurrentMA, cs.AvgBrightness, cs.VoltageDropFactor)
}
