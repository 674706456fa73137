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
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Device-side limits of a single play_show request.
const (
	MaxShowLeds  = 256
	MaxShowGroup = 16
	MaxShowSteps = 16
)

// Step is one entry of a show sequence: a group fades down, pauses, fades
// back up and pulses, repeated Reps times.
type Step struct {
	Group      int  `json:"group"`
	DownMs     int  `json:"down_ms"`
	PauseMs    int  `json:"pause_ms"`
	UpMs       int  `json:"up_ms"`
	PulseMs    int  `json:"pulse_ms"`
	Reps       int  `json:"reps"`
	IdleReturn bool `json:"idle_return"`
}

// Validate checks a step against a show with groupCount groups.
func (s Step) Validate(groupCount int) error {
	durations := []struct {
		name string
		ms   int
	}{
		{"down_ms", s.DownMs}, {"pause_ms", s.PauseMs}, {"up_ms", s.UpMs}, {"pulse_ms", s.PulseMs},
	}
	for _, d := range durations {
		if d.ms < 0 {
			return fmt.Errorf("%w: %s (%d) must be non-negative", ErrInvalidShow, d.name, d.ms)
		}
	}
	if s.Reps < 1 {
		return fmt.Errorf("%w: reps (%d) must be larger than zero", ErrInvalidShow, s.Reps)
	}
	if s.Group < 0 || s.Group >= groupCount {
		return fmt.Errorf("%w: group %d out of range [0, %d]", ErrInvalidShow, s.Group, groupCount-1)
	}
	return nil
}

// Show is a light show: LED groups and a sequence of steps over them.
type Show struct {
	Name     string
	Groups   [][]Led
	Sequence []Step
}

// NewShow creates an empty show.
func NewShow(name string) *Show {
	return &Show{Name: name}
}

// AddGroup appends a group of LEDs; brightness values are ignored.
func (s *Show) AddGroup(leds []Led) error {
	if len(leds) == 0 || len(leds) > LEDTotal {
		return fmt.Errorf("%w: group of %d LEDs not in [1, %d]", ErrInvalidShow, len(leds), LEDTotal)
	}
	s.Groups = append(s.Groups, Clone(leds))
	return nil
}

// AddStep appends a step. The step's group must already exist.
func (s *Show) AddStep(step Step) error {
	if err := step.Validate(len(s.Groups)); err != nil {
		return err
	}
	s.Sequence = append(s.Sequence, step)
	return nil
}

// Validate checks the whole show against the controller's request limits.
func (s *Show) Validate() error {
	if len(s.Groups) == 0 {
		return fmt.Errorf("%w: no groups", ErrInvalidShow)
	}
	if len(s.Groups) > MaxShowGroup {
		return fmt.Errorf("%w: %d groups, controller accepts %d", ErrInvalidShow, len(s.Groups), MaxShowGroup)
	}
	total := 0
	for _, g := range s.Groups {
		total += len(g)
	}
	if total > MaxShowLeds {
		return fmt.Errorf("%w: %d LEDs across groups, controller accepts %d", ErrInvalidShow, total, MaxShowLeds)
	}
	if len(s.Sequence) == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidShow)
	}
	if len(s.Sequence) > MaxShowSteps {
		return fmt.Errorf("%w: %d steps, controller accepts %d", ErrInvalidShow, len(s.Sequence), MaxShowSteps)
	}
	for i, step := range s.Sequence {
		if err := step.Validate(len(s.Groups)); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

type showFile struct {
	Name     string     `json:"name"`
	Groups   [][][2]int `json:"groups"`
	Sequence []Step     `json:"sequence"`
}

// LoadShow reads a show file.
func LoadShow(path string) (*Show, error) {
	f, err := os.Open(path) //nolint:gosec // path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("open show: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseShow(f)
}

// ParseShow decodes and validates a show document.
func ParseShow(r io.Reader) (*Show, error) {
	var doc showFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidShow, err)
	}

	show := NewShow(doc.Name)
	for gi, group := range doc.Groups {
		leds := make([]Led, 0, len(group))
		for _, pos := range group {
			led, err := NewLed(pos[0], pos[1], 0)
			if err != nil {
				return nil, fmt.Errorf("%w: group %d: %w", ErrInvalidShow, gi, err)
			}
			leds = append(leds, led)
		}
		if err := show.AddGroup(leds); err != nil {
			return nil, fmt.Errorf("group %d: %w", gi, err)
		}
	}
	for si, step := range doc.Sequence {
		if err := show.AddStep(step); err != nil {
			return nil, fmt.Errorf("step %d: %w", si, err)
		}
	}
	if err := show.Validate(); err != nil {
		return nil, err
	}
	return show, nil
}
