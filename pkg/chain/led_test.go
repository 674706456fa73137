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

func TestNewLed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		pcb        int
		index      int
		brightness int
		wantErr    bool
	}{
		{name: "first led", pcb: 1, index: 1, brightness: 0},
		{name: "last led full", pcb: PCBCount, index: LEDCount, brightness: MaxBrightness},
		{name: "pcb zero", pcb: 0, index: 1, wantErr: true},
		{name: "pcb too high", pcb: 61, index: 1, wantErr: true},
		{name: "led zero", pcb: 1, index: 0, wantErr: true},
		{name: "led too high", pcb: 1, index: 13, wantErr: true},
		{name: "negative brightness", pcb: 1, index: 1, brightness: -1, wantErr: true},
		{name: "brightness too high", pcb: 1, index: 1, brightness: 101, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			led, err := NewLed(tt.pcb, tt.index, tt.brightness)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrLedRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Led{PCB: tt.pcb, Index: tt.index, Brightness: tt.brightness}, led)
		})
	}
}

func TestPositionOffsetRoundTrip(t *testing.T) {
	t.Parallel()

	for i := range LEDTotal {
		pcb, led := Position(i)
		require.Equal(t, i, Offset(pcb, led))
	}

	pcb, led := Position(0)
	assert.Equal(t, [2]int{1, 1}, [2]int{pcb, led})
	pcb, led = Position(12)
	assert.Equal(t, [2]int{2, 1}, [2]int{pcb, led})
	pcb, led = Position(LEDTotal - 1)
	assert.Equal(t, [2]int{60, 12}, [2]int{pcb, led})
}

func TestCheckDense(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckDense(Uniform(50)))

	short := Uniform(50)[:LEDTotal-1]
	require.ErrorIs(t, CheckDense(short), ErrInvalidConfig)

	swapped := Uniform(50)
	swapped[3], swapped[4] = swapped[4], swapped[3]
	require.ErrorIs(t, CheckDense(swapped), ErrInvalidConfig)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := Uniform(10)
	cp := Clone(orig)
	cp[0].Brightness = 99
	assert.Equal(t, 10, orig[0].Brightness)
	assert.Nil(t, Clone(nil))
}

func TestLedString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "LED(03,07)=042", Led{PCB: 3, Index: 7, Brightness: 42}.String())
}
