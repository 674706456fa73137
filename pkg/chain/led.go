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

// Package chain models the LED daisy chain: 60 PCBs of 12 LEDs each, the
// calibration configuration that assigns every LED a brightness, and the
// light shows the controller can play.
package chain

import (
	"errors"
	"fmt"
)

// Chain geometry and limits.
const (
	PCBCount      = 60
	LEDCount      = 12 // LEDs per PCB
	LEDTotal      = PCBCount * LEDCount
	MaxBrightness = 100

	// ChunkSize is the number of LEDs carried by one brightness request.
	ChunkSize = LEDTotal / LEDCount
)

// Common errors.
var (
	ErrLedRange      = errors.New("chain: led value out of range")
	ErrInvalidConfig = errors.New("chain: invalid config")
	ErrInvalidShow   = errors.New("chain: invalid show")
)

// Led is one LED of the chain. PCB and Index are 1-based; together they form
// the LED's identity. Brightness is a percentage in [0, MaxBrightness].
type Led struct {
	PCB        int `json:"pcb"`
	Index      int `json:"led"`
	Brightness int `json:"brightness"`
}

// NewLed validates and builds an Led.
func NewLed(pcb, index, brightness int) (Led, error) {
	if pcb < 1 || pcb > PCBCount {
		return Led{}, fmt.Errorf("%w: pcb %d not in [1, %d]", ErrLedRange, pcb, PCBCount)
	}
	if index < 1 || index > LEDCount {
		return Led{}, fmt.Errorf("%w: led %d not in [1, %d]", ErrLedRange, index, LEDCount)
	}
	if brightness < 0 || brightness > MaxBrightness {
		return Led{}, fmt.Errorf("%w: brightness %d not in [0, %d]", ErrLedRange, brightness, MaxBrightness)
	}
	return Led{PCB: pcb, Index: index, Brightness: brightness}, nil
}

// SameIdentity reports whether two LEDs address the same physical position.
func (l Led) SameIdentity(o Led) bool {
	return l.PCB == o.PCB && l.Index == o.Index
}

func (l Led) String() string {
	return fmt.Sprintf("LED(%02d,%02d)=%03d", l.PCB, l.Index, l.Brightness)
}

// Position maps a dense chain index to its 1-based (pcb, led) identity.
func Position(i int) (pcb, led int) {
	return i/LEDCount + 1, i%LEDCount + 1
}

// Offset maps a (pcb, led) identity to its dense chain index.
func Offset(pcb, led int) int {
	return (pcb-1)*LEDCount + (led - 1)
}

// CheckDense verifies that leds is the full chain in (pcb, led) order.
func CheckDense(leds []Led) error {
	for i, l := range leds {
		pcb, led := Position(i)
		if l.PCB != pcb || l.Index != led {
			return fmt.Errorf("%w: duplicated, missing or unsorted LED (%d,%d), expected (%d,%d)",
				ErrInvalidConfig, l.PCB, l.Index, pcb, led)
		}
	}
	if len(leds) != LEDTotal {
		return fmt.Errorf("%w: %d LEDs, expected %d", ErrInvalidConfig, len(leds), LEDTotal)
	}
	return nil
}

// Clone returns an independent copy of leds.
func Clone(leds []Led) []Led {
	if leds == nil {
		return nil
	}
	out := make([]Led, len(leds))
	copy(out, leds)
	return out
}

// Uniform builds a full dense chain with every LED at the same brightness.
func Uniform(brightness int) []Led {
	leds := make([]Led, LEDTotal)
	for i := range leds {
		pcb, led := Position(i)
		leds[i] = Led{PCB: pcb, Index: led, Brightness: brightness}
	}
	return leds
}
