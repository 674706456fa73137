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
	"fmt"

	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/ZaparooProject/go-daisychain/pkg/command"
)

// GetVersion returns the firmware version string.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	v, err := c.Execute(ctx, command.GetVersion(c.NextRequestID()),
		command.Has(command.KeyVersion, command.KindString))
	if err != nil {
		return "", fmt.Errorf("get version: %w", err)
	}
	s, _ := v.(string)
	return s, nil
}

// GetCalibrationName returns the name of the calibration stored on the device.
func (c *Client) GetCalibrationName(ctx context.Context) (string, error) {
	v, err := c.Execute(ctx, command.GetCalibrationName(c.NextRequestID()),
		command.Has(command.KeyName, command.KindString))
	if err != nil {
		return "", fmt.Errorf("get calibration name: %w", err)
	}
	s, _ := v.(string)
	return s, nil
}

// Info queries the firmware version and the stored calibration name.
func (c *Client) Info(ctx context.Context) (DeviceInfo, error) {
	version, err := c.GetVersion(ctx)
	if err != nil {
		return DeviceInfo{}, err
	}
	name, err := c.GetCalibrationName(ctx)
	if err != nil {
		return DeviceInfo{}, err
	}
	return DeviceInfo{Version: version, CalibrationName: name}, nil
}

// DeleteCalibration erases the stored calibration.
func (c *Client) DeleteCalibration(ctx context.Context) error {
	if _, err := c.Execute(ctx, command.DeleteCalibration(c.NextRequestID())); err != nil {
		return fmt.Errorf("delete calibration: %w", err)
	}
	return nil
}

// SaveCalibration persists the device's current brightness values under name.
func (c *Client) SaveCalibration(ctx context.Context, name string) error {
	if _, err := c.Execute(ctx, command.SaveCalibration(c.NextRequestID(), name)); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}

// SetBrightness writes the brightness of up to chain.LEDTotal LEDs.
func (c *Client) SetBrightness(ctx context.Context, leds []chain.Led) error {
	req, err := command.SetBrightness(c.NextRequestID(), leds)
	if err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}
	if _, err := c.Execute(ctx, req); err != nil {
		return fmt.Errorf("set brightness: %w", err)
	}
	return nil
}

// GetBrightness reads the brightness of the given LEDs. Only identities of
// leds are sent; the result is what the device reported, in its order.
func (c *Client) GetBrightness(ctx context.Context, leds []chain.Led) ([]chain.Led, error) {
	req, err := command.GetBrightness(c.NextRequestID(), leds)
	if err != nil {
		return nil, fmt.Errorf("get brightness: %w", err)
	}
	v, err := c.Execute(ctx, req, command.Has(command.KeyLeds, command.KindList))
	if err != nil {
		return nil, fmt.Errorf("get brightness: %w", err)
	}

	items, _ := v.([]any)
	out := make([]chain.Led, 0, len(items))
	for i, item := range items {
		led, err := decodeLedTriple(item)
		if err != nil {
			return nil, fmt.Errorf("get brightness: item %d: %w", i, err)
		}
		out = append(out, led)
	}
	return out, nil
}

func decodeLedTriple(item any) (chain.Led, error) {
	triple, ok := item.([]any)
	if !ok || len(triple) != 3 {
		return chain.Led{}, fmt.Errorf("%w: want [pcb,led,brightness], got %v", ErrMalformed, item)
	}
	var n [3]int
	for i, e := range triple {
		v, ok := e.(int)
		if !ok {
			return chain.Led{}, fmt.Errorf("%w: non-integer %v in %v", ErrMalformed, e, item)
		}
		n[i] = v
	}
	led, err := chain.NewLed(n[0], n[1], n[2])
	if err != nil {
		return chain.Led{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return led, nil
}

// PlayShow uploads and starts a show. force restarts a show that is
// already running.
func (c *Client) PlayShow(ctx context.Context, show *chain.Show, force bool) error {
	req, err := command.PlayShow(c.NextRequestID(), show, force)
	if err != nil {
		return fmt.Errorf("play show: %w", err)
	}
	if _, err := c.Execute(ctx, req); err != nil {
		return fmt.Errorf("play show: %w", err)
	}
	return nil
}

// StopShow stops the running show.
func (c *Client) StopShow(ctx context.Context) error {
	if _, err := c.Execute(ctx, command.StopShow(c.NextRequestID())); err != nil {
		return fmt.Errorf("stop show: %w", err)
	}
	return nil
}
