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
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"
)

// Transport is the narrow radio primitive the synchronization layer runs on.
// It can be implemented over BLE GATT, a serial bridge, or an in-process
// simulator. Incoming data is delivered through notification handlers on the
// transport's own goroutine; connection loss surfaces to callers as timeouts.
type Transport interface {
	// Connect opens the link to the named device
	Connect(ctx context.Context, target string) error

	// Disconnect closes the link; it is safe to call more than once
	Disconnect() error

	// Write sends one payload on a pipe. The payload must already fit the MTU.
	Write(ctx context.Context, pipe Pipe, payload []byte, requiresAck bool) error

	// Subscribe installs the notification handler for a pipe; nil unsubscribes
	Subscribe(pipe Pipe, handler NotifyHandler) error

	// MTU returns the ATT write ceiling negotiated for the link
	MTU() int

	// IsConnected returns true if the link is up
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// NotifyHandler receives one inbound notification fragment. The slice is only
// valid for the duration of the call.
type NotifyHandler func(data []byte)

// Pipe names a logical channel on the link.
type Pipe string

const (
	// PipeCommand carries NUL-terminated JSON requests and responses
	PipeCommand Pipe = "command"
	// PipeOTACommand carries 20-byte OTA control frames
	PipeOTACommand Pipe = "ota-command"
	// PipeOTAFirmware carries sector chunks out and firmware acks back
	PipeOTAFirmware Pipe = "ota-firmware"
)

// TransportType represents the type of transport
type TransportType string

const (
	// TransportBLE represents a Bluetooth LE GATT link.
	TransportBLE TransportType = "ble"
	// TransportSerial represents a USB serial bridge.
	TransportSerial TransportType = "serial"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// DefaultMTU is the ATT write ceiling assumed before negotiation.
const DefaultMTU = 256

// Responder produces the notifications a mock device sends back after a write.
// Each returned slice is delivered as a separate notification on the same pipe.
type Responder func(payload []byte) [][]byte

// MockTransport provides a scripted implementation of Transport for testing.
// Writes on PipeCommand are reassembled until a NUL byte before the responder
// sees them, matching how a device only answers complete frames.
type MockTransport struct {
	responders map[Pipe]Responder
	handlers   map[Pipe]NotifyHandler
	errorMap   map[Pipe]error
	writes     map[Pipe][][]byte
	pending    bytes.Buffer
	connectErr error
	delay      time.Duration
	mtu        int
	connects   int
	mu         sync.RWMutex
	connected  bool
}

// NewMockTransport creates a connected mock transport with the default MTU.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		responders: make(map[Pipe]Responder),
		handlers:   make(map[Pipe]NotifyHandler),
		errorMap:   make(map[Pipe]error),
		writes:     make(map[Pipe][][]byte),
		mtu:        DefaultMTU,
		connected:  true,
	}
}

// Connect implements Transport interface
func (m *MockTransport) Connect(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

// Disconnect implements Transport interface
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.pending.Reset()
	m.mu.Unlock()
	return nil
}

// Write implements Transport interface
func (m *MockTransport) Write(ctx context.Context, pipe Pipe, payload []byte, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return NewNotConnectedError("Write", pipe)
	}
	if len(payload) > m.mtu-3 {
		m.mu.Unlock()
		return NewTransportError("Write", pipe,
			fmt.Errorf("%w: %d bytes exceeds mtu %d", ErrFrameLength, len(payload), m.mtu), ErrorTypePermanent)
	}
	m.writes[pipe] = append(m.writes[pipe], append([]byte(nil), payload...))
	if err, ok := m.errorMap[pipe]; ok {
		m.mu.Unlock()
		return err
	}

	request := payload
	if pipe == PipeCommand {
		_, _ = m.pending.Write(payload)
		if !bytes.Contains(payload, []byte{0}) {
			m.mu.Unlock()
			return nil
		}
		request = append([]byte(nil), m.pending.Bytes()...)
		m.pending.Reset()
	}

	responder := m.responders[pipe]
	handler := m.handlers[pipe]
	delay := m.delay
	m.mu.Unlock()

	if responder == nil || handler == nil {
		return nil
	}
	replies := responder(request)
	if delay > 0 {
		time.AfterFunc(delay, func() { deliver(handler, replies) })
		return nil
	}
	deliver(handler, replies)
	return nil
}

func deliver(handler NotifyHandler, replies [][]byte) {
	for _, r := range replies {
		handler(r)
	}
}

// Subscribe implements Transport interface
func (m *MockTransport) Subscribe(pipe Pipe, handler NotifyHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if handler == nil {
		delete(m.handlers, pipe)
		return nil
	}
	m.handlers[pipe] = handler
	return nil
}

// MTU implements Transport interface
func (m *MockTransport) MTU() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mtu
}

// IsConnected implements Transport interface
func (m *MockTransport) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Type implements Transport interface
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Test helper methods

// SetResponder scripts the device reply for writes on a pipe
func (m *MockTransport) SetResponder(pipe Pipe, responder Responder) {
	m.mu.Lock()
	m.responders[pipe] = responder
	m.mu.Unlock()
}

// SetError makes every write on a pipe fail with err. The write is still recorded.
func (m *MockTransport) SetError(pipe Pipe, err error) {
	m.mu.Lock()
	m.errorMap[pipe] = err
	m.mu.Unlock()
}

// ClearError removes error injection for a pipe
func (m *MockTransport) ClearError(pipe Pipe) {
	m.mu.Lock()
	delete(m.errorMap, pipe)
	m.mu.Unlock()
}

// SetConnectError makes Connect fail with err; nil restores success
func (m *MockTransport) SetConnectError(err error) {
	m.mu.Lock()
	m.connectErr = err
	m.mu.Unlock()
}

// SetDelay delivers replies asynchronously after the given delay
func (m *MockTransport) SetDelay(delay time.Duration) {
	m.mu.Lock()
	m.delay = delay
	m.mu.Unlock()
}

// SetMTU overrides the reported ATT write ceiling
func (m *MockTransport) SetMTU(mtu int) {
	m.mu.Lock()
	m.mtu = mtu
	m.mu.Unlock()
}

// Notify pushes an unsolicited notification to the pipe's handler
func (m *MockTransport) Notify(pipe Pipe, data []byte) {
	m.mu.RLock()
	handler := m.handlers[pipe]
	m.mu.RUnlock()
	if handler != nil {
		handler(data)
	}
}

// Writes returns a copy of every payload written on a pipe
func (m *MockTransport) Writes(pipe Pipe) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, len(m.writes[pipe]))
	copy(out, m.writes[pipe])
	return out
}

// WriteCount returns how many payloads were written on a pipe
func (m *MockTransport) WriteCount(pipe Pipe) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.writes[pipe])
}

// TotalWrites returns the number of writes across all pipes
func (m *MockTransport) TotalWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, w := range m.writes {
		n += len(w)
	}
	return n
}

// ConnectCount returns how many times Connect was called
func (m *MockTransport) ConnectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connects
}

// Reset clears recorded writes and injected errors
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.writes = make(map[Pipe][][]byte)
	m.errorMap = make(map[Pipe]error)
	m.pending.Reset()
	m.mu.Unlock()
}

// HasSubscriber reports whether a handler is installed for the pipe
func (m *MockTransport) HasSubscriber(pipe Pipe) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[pipe]
	return ok
}
