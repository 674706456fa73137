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

// Package ble implements the daisychain Transport over Bluetooth LE GATT.
//
// The controller exposes a Nordic UART style service for JSON commands and a
// separate OTA service with one characteristic for control frames and one for
// firmware chunks. Every characteristic used here both accepts writes and
// sends notifications.
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/rs/zerolog"
	"tinygo.org/x/bluetooth"
)

// DefaultDeviceName is the advertised name of the LED controller.
const DefaultDeviceName = "Sternenhimmel"

// DefaultScanTimeout bounds how long Connect looks for the device.
const DefaultScanTimeout = 10 * time.Second

const (
	uartServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	uartRXUUID      = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	uartTXUUID      = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	otaServiceID  = 0x8018
	otaCommandID  = 0x8022
	otaFirmwareID = 0x8020
)

var (
	uartService = mustParseUUID(uartServiceUUID)
	uartRX      = mustParseUUID(uartRXUUID)
	uartTX      = mustParseUUID(uartTXUUID)

	otaService  = bluetooth.New16BitUUID(otaServiceID)
	otaCommand  = bluetooth.New16BitUUID(otaCommandID)
	otaFirmware = bluetooth.New16BitUUID(otaFirmwareID)
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// characteristic is the subset of bluetooth.DeviceCharacteristic a pipe needs.
type characteristic interface {
	Write(p []byte) (int, error)
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

// channel pairs the characteristic a pipe writes to with the one it hears on.
type channel struct {
	write  characteristic
	notify characteristic
}

// Option configures a Transport.
type Option func(*Transport)

// WithAdapter selects a Bluetooth adapter other than the system default.
func WithAdapter(adapter *bluetooth.Adapter) Option {
	return func(t *Transport) {
		t.adapter = adapter
	}
}

// WithScanTimeout bounds how long Connect scans for the device.
func WithScanTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.scanTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for link events.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Transport implements daisychain.Transport over a GATT connection.
type Transport struct {
	adapter     *bluetooth.Adapter
	channels    map[daisychain.Pipe]channel
	handlers    map[daisychain.Pipe]daisychain.NotifyHandler
	device      bluetooth.Device
	logger      zerolog.Logger
	scanTimeout time.Duration
	mtu         int
	mu          syncutil.RWMutex
	hasDevice   bool
	enabled     bool
	connected   bool
}

// New creates a BLE transport. No radio activity happens until Connect.
func New(opts ...Option) *Transport {
	t := &Transport{
		adapter:     bluetooth.DefaultAdapter,
		handlers:    make(map[daisychain.Pipe]daisychain.NotifyHandler),
		logger:      daisychain.Logger().With().Str("component", "ble").Logger(),
		scanTimeout: DefaultScanTimeout,
		mtu:         daisychain.DefaultMTU,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect scans for a device advertising target as its name (or address),
// connects, and discovers the command and OTA services. An empty target
// means DefaultDeviceName.
func (t *Transport) Connect(ctx context.Context, target string) error {
	if t.IsConnected() {
		return nil
	}
	if target == "" {
		target = DefaultDeviceName
	}

	if !t.enabled {
		if err := t.adapter.Enable(); err != nil {
			return daisychain.NewTransportError("Connect", daisychain.PipeCommand,
				fmt.Errorf("enable adapter: %w", err), daisychain.ErrorTypePermanent)
		}
		t.enabled = true
	}

	result, err := t.scan(ctx, target)
	if err != nil {
		return err
	}
	t.logger.Info().Str("name", result.LocalName()).Str("address", result.Address.String()).
		Int16("rssi", result.RSSI).Msg("found device")

	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return daisychain.NewTransportError("Connect", daisychain.PipeCommand,
			fmt.Errorf("connect to %s: %w", result.Address.String(), err), daisychain.ErrorTypeTransient)
	}

	channels, mtu, err := t.discover(device)
	if err != nil {
		_ = device.Disconnect()
		return daisychain.NewTransportError("Connect", daisychain.PipeCommand, err, daisychain.ErrorTypePermanent)
	}

	t.mu.Lock()
	t.device = device
	t.hasDevice = true
	t.mu.Unlock()

	if err := t.attach(channels, mtu); err != nil {
		_ = t.Disconnect()
		return err
	}
	t.logger.Info().Int("mtu", mtu).Int("pipes", len(channels)).Msg("connected")
	return nil
}

func (t *Transport) scan(ctx context.Context, target string) (bluetooth.ScanResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.scanTimeout)
	defer cancel()

	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !matchesTarget(result.LocalName(), result.Address.String(), target) {
				return
			}
			select {
			case found <- result:
				_ = adapter.StopScan()
			default:
			}
		})
	}()

	var scanErr error
	select {
	case scanErr = <-done:
	case <-ctx.Done():
		_ = t.adapter.StopScan()
		scanErr = <-done
	}

	select {
	case result := <-found:
		return result, nil
	default:
	}
	if scanErr != nil {
		return bluetooth.ScanResult{}, daisychain.NewTransportError("Connect", daisychain.PipeCommand,
			fmt.Errorf("scan: %w", scanErr), daisychain.ErrorTypeTransient)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return bluetooth.ScanResult{}, ctx.Err()
	}
	return bluetooth.ScanResult{}, daisychain.NewTransportError("Connect", daisychain.PipeCommand,
		fmt.Errorf("%w: %q not seen within %v", daisychain.ErrDeviceNotFound, target, t.scanTimeout),
		daisychain.ErrorTypeTimeout)
}

// matchesTarget accepts either the advertised name or the device address.
func matchesTarget(name, address, target string) bool {
	if name != "" && name == target {
		return true
	}
	return address != "" && strings.EqualFold(address, target)
}

// discover resolves the characteristics behind each pipe. The OTA service is
// optional; without it the OTA pipes report ErrPipeNotSupported.
func (t *Transport) discover(device bluetooth.Device) (map[daisychain.Pipe]channel, int, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{uartService})
	if err != nil {
		return nil, 0, fmt.Errorf("discover command service: %w", err)
	}
	if len(services) == 0 {
		return nil, 0, fmt.Errorf("%w: command service missing", daisychain.ErrTransportNotReady)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{uartRX, uartTX})
	if err != nil {
		return nil, 0, fmt.Errorf("discover command characteristics: %w", err)
	}
	rx, tx := pick(chars, uartRX), pick(chars, uartTX)
	if rx == nil || tx == nil {
		return nil, 0, fmt.Errorf("%w: command characteristics missing", daisychain.ErrTransportNotReady)
	}

	channels := map[daisychain.Pipe]channel{
		daisychain.PipeCommand: {write: rx, notify: tx},
	}

	mtu := daisychain.DefaultMTU
	if negotiated, mtuErr := rx.GetMTU(); mtuErr == nil && negotiated > 0 {
		mtu = int(negotiated)
	} else {
		t.logger.Debug().Err(mtuErr).Msg("mtu unavailable, using default")
	}

	services, err = device.DiscoverServices([]bluetooth.UUID{otaService})
	if err != nil || len(services) == 0 {
		t.logger.Warn().Err(err).Msg("ota service not found")
		return channels, mtu, nil
	}
	chars, err = services[0].DiscoverCharacteristics([]bluetooth.UUID{otaCommand, otaFirmware})
	if err != nil {
		t.logger.Warn().Err(err).Msg("ota characteristics not found")
		return channels, mtu, nil
	}
	if c := pick(chars, otaCommand); c != nil {
		channels[daisychain.PipeOTACommand] = channel{write: c, notify: c}
	}
	if c := pick(chars, otaFirmware); c != nil {
		channels[daisychain.PipeOTAFirmware] = channel{write: c, notify: c}
	}
	return channels, mtu, nil
}

func pick(chars []bluetooth.DeviceCharacteristic, uuid bluetooth.UUID) *bluetooth.DeviceCharacteristic {
	for i := range chars {
		if chars[i].UUID() == uuid {
			return &chars[i]
		}
	}
	return nil
}

// attach turns on notifications for every pipe and marks the link up.
func (t *Transport) attach(channels map[daisychain.Pipe]channel, mtu int) error {
	for pipe, ch := range channels {
		if err := ch.notify.EnableNotifications(t.dispatch(pipe)); err != nil {
			return daisychain.NewTransportError("Connect", pipe,
				fmt.Errorf("enable notifications: %w", err), daisychain.ErrorTypePermanent)
		}
	}

	t.mu.Lock()
	t.channels = channels
	t.mtu = mtu
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) dispatch(pipe daisychain.Pipe) func([]byte) {
	return func(buf []byte) {
		t.mu.RLock()
		handler := t.handlers[pipe]
		t.mu.RUnlock()
		if handler != nil {
			handler(buf)
		}
	}
}

// Disconnect implements daisychain.Transport.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	device, hasDevice := t.device, t.hasDevice
	t.connected = false
	t.hasDevice = false
	t.channels = nil
	t.mtu = daisychain.DefaultMTU
	t.mu.Unlock()

	if !hasDevice {
		return nil
	}
	if err := device.Disconnect(); err != nil {
		return daisychain.NewTransportError("Disconnect", daisychain.PipeCommand, err, daisychain.ErrorTypePermanent)
	}
	t.logger.Info().Msg("disconnected")
	return nil
}

// Write implements daisychain.Transport. Acknowledged writes wait for the
// peer's write response; the rest use write-without-response.
func (t *Transport) Write(ctx context.Context, pipe daisychain.Pipe, payload []byte, requiresAck bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	ch, ok := t.channels[pipe]
	connected, mtu := t.connected, t.mtu
	t.mu.RUnlock()

	switch {
	case !connected:
		return daisychain.NewNotConnectedError("Write", pipe)
	case !ok:
		return daisychain.NewTransportError("Write", pipe, daisychain.ErrPipeNotSupported, daisychain.ErrorTypePermanent)
	case len(payload) > mtu-3:
		return daisychain.NewTransportError("Write", pipe,
			fmt.Errorf("%w: %d bytes exceeds mtu %d", daisychain.ErrFrameLength, len(payload), mtu),
			daisychain.ErrorTypePermanent)
	}

	var err error
	if requiresAck {
		_, err = ch.write.Write(payload)
	} else {
		_, err = ch.write.WriteWithoutResponse(payload)
	}
	if err != nil {
		return daisychain.NewWriteError("Write", pipe, err)
	}
	return nil
}

// Subscribe implements daisychain.Transport. Notifications are enabled once at
// connect time, so handlers can be swapped freely.
func (t *Transport) Subscribe(pipe daisychain.Pipe, handler daisychain.NotifyHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		delete(t.handlers, pipe)
		return nil
	}
	t.handlers[pipe] = handler
	return nil
}

// MTU implements daisychain.Transport.
func (t *Transport) MTU() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mtu
}

// IsConnected implements daisychain.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Type implements daisychain.Transport.
func (*Transport) Type() daisychain.TransportType {
	return daisychain.TransportBLE
}

var _ daisychain.Transport = (*Transport)(nil)
