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

// Package serial implements the daisychain Transport for controllers wired to
// the host over a USB serial bridge. The bridge forwards the JSON command
// stream byte for byte; firmware updates need the BLE link.
package serial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/rs/zerolog"
	goserial "go.bug.st/serial"
)

const (
	// DefaultBaudRate matches the controller's bridge firmware.
	DefaultBaudRate = 115200

	readTimeout = 50 * time.Millisecond
	readBuffer  = 512
)

var errNoPort = errors.New("no serial port given")

// Opener opens a serial port. It is goserial.Open unless a test swaps it.
type Opener func(name string, mode *goserial.Mode) (goserial.Port, error)

// Option configures a Transport.
type Option func(*Transport)

// WithBaudRate overrides DefaultBaudRate.
func WithBaudRate(baud int) Option {
	return func(t *Transport) {
		if baud > 0 {
			t.baudRate = baud
		}
	}
}

// WithOpener replaces the function used to open the port.
func WithOpener(open Opener) Option {
	return func(t *Transport) {
		t.open = open
	}
}

// WithLogger sets the logger used for link events.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// Transport implements daisychain.Transport over a serial port.
type Transport struct {
	port     goserial.Port
	open     Opener
	handler  daisychain.NotifyHandler
	done     chan struct{}
	logger   zerolog.Logger
	portName string
	wg       sync.WaitGroup
	baudRate int
	mu       syncutil.RWMutex
	writeMu  syncutil.Mutex
}

// New creates a serial transport for portName. The port is opened by Connect;
// a non-empty Connect target overrides portName.
func New(portName string, opts ...Option) *Transport {
	t := &Transport{
		open:     goserial.Open,
		logger:   daisychain.Logger().With().Str("component", "serial").Logger(),
		portName: portName,
		baudRate: DefaultBaudRate,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the port and starts delivering received bytes.
func (t *Transport) Connect(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.IsConnected() {
		return nil
	}
	if target != "" {
		t.portName = target
	}
	if t.portName == "" {
		return daisychain.NewTransportError("Connect", daisychain.PipeCommand, errNoPort, daisychain.ErrorTypePermanent)
	}

	port, err := t.open(t.portName, &goserial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return daisychain.NewTransportError("Connect", daisychain.PipeCommand,
			fmt.Errorf("open %s: %w", t.portName, err), daisychain.ErrorTypePermanent)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return daisychain.NewTransportError("Connect", daisychain.PipeCommand,
			fmt.Errorf("set read timeout: %w", err), daisychain.ErrorTypePermanent)
	}
	// Stale output from before the host attached would corrupt the first frame.
	_ = port.ResetInputBuffer()

	done := make(chan struct{})
	t.mu.Lock()
	t.port = port
	t.done = done
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(port, done)

	t.logger.Info().Str("port", t.portName).Int("baud", t.baudRate).Msg("connected")
	return nil
}

func (t *Transport) readLoop(port goserial.Port, done <-chan struct{}) {
	defer t.wg.Done()

	buf := make([]byte, readBuffer)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			t.mu.RLock()
			handler := t.handler
			t.mu.RUnlock()
			if handler != nil {
				handler(buf[:n])
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-done:
			return
		default:
		}
		if isInterruptedSystemCall(err) {
			continue
		}

		t.mu.Lock()
		lost := t.port == port
		if lost {
			t.port = nil
			t.done = nil
			_ = port.Close()
		}
		t.mu.Unlock()
		if lost {
			t.logger.Error().Err(err).Msg("read failed, link lost")
		}
		return
	}
}

// Disconnect implements daisychain.Transport.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	port, done := t.port, t.done
	t.port = nil
	t.done = nil
	t.mu.Unlock()

	if port == nil {
		t.wg.Wait()
		return nil
	}
	close(done)
	err := port.Close()
	t.wg.Wait()
	if err != nil {
		return daisychain.NewTransportError("Disconnect", daisychain.PipeCommand,
			fmt.Errorf("close %s: %w", t.portName, err), daisychain.ErrorTypePermanent)
	}
	t.logger.Info().Str("port", t.portName).Msg("disconnected")
	return nil
}

// Write implements daisychain.Transport. An acknowledged write returns once
// the bytes have left the host's output buffer.
func (t *Transport) Write(ctx context.Context, pipe daisychain.Pipe, payload []byte, requiresAck bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pipe != daisychain.PipeCommand {
		return daisychain.NewTransportError("Write", pipe, daisychain.ErrPipeNotSupported, daisychain.ErrorTypePermanent)
	}
	if len(payload) > daisychain.DefaultMTU-3 {
		return daisychain.NewTransportError("Write", pipe,
			fmt.Errorf("%w: %d bytes exceeds mtu %d", daisychain.ErrFrameLength, len(payload), daisychain.DefaultMTU),
			daisychain.ErrorTypePermanent)
	}

	t.mu.RLock()
	port := t.port
	t.mu.RUnlock()
	if port == nil {
		return daisychain.NewNotConnectedError("Write", pipe)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	for written := 0; written < len(payload); {
		n, err := port.Write(payload[written:])
		if err != nil {
			return writeError(pipe, err)
		}
		if n == 0 {
			return daisychain.NewWriteError("Write", pipe, errors.New("port accepted no bytes"))
		}
		written += n
	}
	if requiresAck {
		return drainWithRetry(port, pipe)
	}
	return nil
}

// writeError keeps a pulled cable from looking like a retryable glitch.
func writeError(pipe daisychain.Pipe, err error) error {
	if daisychain.IsFatal(err) {
		return daisychain.NewTransportError("Write", pipe,
			fmt.Errorf("%w: %w", daisychain.ErrTransportClosed, err), daisychain.ErrorTypePermanent)
	}
	return daisychain.NewWriteError("Write", pipe, err)
}

// isInterruptedSystemCall reports errors that only mean a signal arrived.
func isInterruptedSystemCall(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "interrupted system call") || strings.Contains(msg, "eintr")
}

// drainWithRetry waits for the output buffer to empty, retrying on EINTR.
func drainWithRetry(port goserial.Port, pipe daisychain.Pipe) error {
	const maxRetries = 3
	delay := 2 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err = port.Drain(); err == nil {
			return nil
		}
		if !isInterruptedSystemCall(err) {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	return daisychain.NewWriteError("Drain", pipe, err)
}

// Subscribe implements daisychain.Transport. Only the command pipe exists on a
// serial bridge.
func (t *Transport) Subscribe(pipe daisychain.Pipe, handler daisychain.NotifyHandler) error {
	if pipe != daisychain.PipeCommand {
		if handler == nil {
			return nil
		}
		return daisychain.NewTransportError("Subscribe", pipe, daisychain.ErrPipeNotSupported, daisychain.ErrorTypePermanent)
	}
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
	return nil
}

// MTU implements daisychain.Transport. A bridge has no ATT layer, so requests
// are split the same way they would be on an unnegotiated BLE link.
func (*Transport) MTU() int {
	return daisychain.DefaultMTU
}

// IsConnected implements daisychain.Transport.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.port != nil
}

// Type implements daisychain.Transport.
func (*Transport) Type() daisychain.TransportType {
	return daisychain.TransportSerial
}

// PortName returns the port the transport opens.
func (t *Transport) PortName() string {
	return t.portName
}

var _ daisychain.Transport = (*Transport)(nil)
