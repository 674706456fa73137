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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// Config is a calibration file: a named set of LED brightness values, each
// computed as its group's base brightness plus a per-LED correction.
type Config struct {
	groups map[string]int
	name   string
	path   string
	leds   []Led
}

type configFile struct {
	Name   *string          `json:"name"`
	Groups map[string]int   `json:"groups"`
	Leds   []map[string]any `json:"leds"`
}

var ledKeys = [...]string{"pcb_idx", "led_idx", "group", "correction"}

// LoadConfig reads and validates a config file.
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	if _, err := c.Load(path); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseConfig validates a config document without a backing file.
func ParseConfig(r io.Reader) (*Config, error) {
	leds, name, groups, err := parseConfig(r)
	if err != nil {
		return nil, err
	}
	return &Config{name: name, groups: groups, leds: leds}, nil
}

// Load (re)reads a config file into c. Loading the path c was loaded from
// keeps LED identities and reports how many brightness values changed; a new
// path replaces everything and reports every LED as changed. On error c is
// left untouched.
func (c *Config) Load(path string) (changed int, err error) {
	data, err := os.ReadFile(path) //nolint:gosec // path chosen by the operator
	if err != nil {
		return 0, fmt.Errorf("read config: %w", err)
	}

	leds, name, groups, err := parseConfig(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	if path != c.path || len(c.leds) == 0 {
		changed = len(leds)
	} else {
		if len(c.leds) != len(leds) {
			return 0, fmt.Errorf("%w: reload changed LED count from %d to %d",
				ErrInvalidConfig, len(c.leds), len(leds))
		}
		for i := range leds {
			if leds[i].Brightness != c.leds[i].Brightness {
				changed++
			}
		}
	}

	c.path = path
	c.name = name
	c.groups = groups
	c.leds = leds
	return changed, nil
}

func parseConfig(r io.Reader) ([]Led, string, map[string]int, error) {
	var doc configFile
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, "", nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if doc.Name == nil {
		return nil, "", nil, fmt.Errorf("%w: 'name' key missing or not a string", ErrInvalidConfig)
	}
	if doc.Groups == nil {
		return nil, "", nil, fmt.Errorf("%w: 'groups' key missing or not an object", ErrInvalidConfig)
	}
	if len(doc.Groups) == 0 {
		return nil, "", nil, fmt.Errorf("%w: 'groups' must contain at least one entry", ErrInvalidConfig)
	}
	if doc.Leds == nil {
		return nil, "", nil, fmt.Errorf("%w: 'leds' key missing or not a list", ErrInvalidConfig)
	}

	leds := make([]Led, 0, len(doc.Leds))
	for i, entry := range doc.Leds {
		led, err := parseLedEntry(entry, doc.Groups)
		if err != nil {
			return nil, "", nil, fmt.Errorf("led entry %d: %w", i, err)
		}
		leds = append(leds, led)
	}
	if err := CheckDense(leds); err != nil {
		return nil, "", nil, err
	}
	return leds, *doc.Name, doc.Groups, nil
}

func parseLedEntry(entry map[string]any, groups map[string]int) (Led, error) {
	for _, key := range ledKeys {
		if _, ok := entry[key]; !ok {
			return Led{}, fmt.Errorf("%w: missing key '%s'", ErrInvalidConfig, key)
		}
	}

	group, ok := entry["group"].(string)
	if !ok {
		return Led{}, fmt.Errorf("%w: 'group' is not a string", ErrInvalidConfig)
	}
	base, ok := groups[group]
	if !ok {
		return Led{}, fmt.Errorf("%w: group '%s' not defined in groups %v",
			ErrInvalidConfig, group, groupNames(groups))
	}

	var nums [3]int
	for i, key := range []string{"pcb_idx", "led_idx", "correction"} {
		n, err := intField(entry[key])
		if err != nil {
			return Led{}, fmt.Errorf("%w: '%s': %w", ErrInvalidConfig, key, err)
		}
		nums[i] = n
	}

	led, err := NewLed(nums[0], nums[1], base+nums[2])
	if err != nil {
		return Led{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return led, nil
}

func intField(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("not a number: %v", v)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, fmt.Errorf("not an integer: %s", n)
	}
	return int(i), nil
}

func groupNames(groups map[string]int) []string {
	names := make([]string, 0, len(groups))
	for k := range groups {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Name returns the calibration name.
func (c *Config) Name() string { return c.name }

// Path returns the file the config was loaded from, empty for parsed configs.
func (c *Config) Path() string { return c.path }

// Leds returns a copy of the target brightness of every LED.
func (c *Config) Leds() []Led { return Clone(c.leds) }

// Groups returns a copy of the group base brightness table.
func (c *Config) Groups() map[string]int {
	out := make(map[string]int, len(c.groups))
	for k, v := range c.groups {
		out[k] = v
	}
	return out
}
