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

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
)

// WriteLogEntry records one write the host made.
type WriteLogEntry struct {
	Timestamp time.Time
	Pipe      daisychain.Pipe
	Data      []byte
}

type delivery struct {
	handler daisychain.NotifyHandler
	data    []byte
}

// SimulatorTransport connects the host stack to a VirtualController. It
// implements daisychain.Transport. Without jitter, replies are delivered
// before Write returns; with jitter they are delivered in order from a
// separate goroutine, like notifications from a BLE stack. Only the JSON
// stream on the command pipe is fragmented; OTA frames arrive whole.
type SimulatorTransport struct {
	sim       *VirtualController
	jitter    *Jitter
	handlers  map[daisychain.Pipe]daisychain.NotifyHandler
	errs      map[daisychain.Pipe]error
	queue     chan delivery
	done      chan struct{}
	writeLog  []WriteLogEntry
	mtu       int
	mu        syncutil.Mutex
	wg        sync.WaitGroup
	connected bool
	closed    bool
}

// NewSimulatorTransport creates a connected transport backed by sim.
func NewSimulatorTransport(sim *VirtualController) *SimulatorTransport {
	return &SimulatorTransport{
		sim:       sim,
		handlers:  make(map[daisychain.Pipe]daisychain.NotifyHandler),
		errs:      make(map[daisychain.Pipe]error),
		mtu:       daisychain.DefaultMTU,
		connected: true,
	}
}

// NewJitteryTransport creates a transport that delivers replies with jitter.
// Call Close when done to stop the delivery goroutine.
func NewJitteryTransport(sim *VirtualController, config JitterConfig) *SimulatorTransport {
	t := NewSimulatorTransport(sim)
	t.jitter = NewJitter(config)
	t.queue = make(chan delivery, 256)
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.deliverLoop()
	return t
}

func (t *SimulatorTransport) deliverLoop() {
	defer t.wg.Done()
	for {
		select {
		case d := <-t.queue:
			t.jitter.Delay()
			d.handler(d.data)
		case <-t.done:
			return
		}
	}
}

// Connect implements daisychain.Transport.
func (t *SimulatorTransport) Connect(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context error passed through
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// Disconnect implements daisychain.Transport. The simulated controller
// loses any partial request, as it would on a real link drop.
func (t *SimulatorTransport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.sim.DropPartialInput()
	return nil
}

// Close stops the delivery goroutine of a jittery transport.
func (t *SimulatorTransport) Close() error {
	t.mu.Lock()
	if t.closed || t.done == nil {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// Write implements daisychain.Transport.
func (t *SimulatorTransport) Write(ctx context.Context, pipe daisychain.Pipe, payload []byte, _ bool) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck // context error passed through
	}

	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return daisychain.NewNotConnectedError("Write", pipe)
	}
	if len(payload) > t.mtu-3 {
		t.mu.Unlock()
		return daisychain.NewTransportError("Write", pipe,
			fmt.Errorf("%w: %d bytes exceeds mtu %d", daisychain.ErrFrameLength, len(payload), t.mtu),
			daisychain.ErrorTypePermanent)
	}
	data := append([]byte(nil), payload...)
	t.writeLog = append(t.writeLog, WriteLogEntry{Timestamp: time.Now(), Pipe: pipe, Data: data})
	if err := t.errs[pipe]; err != nil {
		t.mu.Unlock()
		return err
	}
	handler := t.handlers[pipe]
	t.mu.Unlock()

	replies := t.sim.Handle(pipe, data)
	if handler == nil {
		return nil
	}
	for _, reply := range replies {
		if t.jitter == nil {
			handler(reply)
			continue
		}
		pieces := [][]byte{reply}
		if pipe == daisychain.PipeCommand {
			pieces = t.jitter.Fragment(reply)
		}
		for _, piece := range pieces {
			select {
			case t.queue <- delivery{handler: handler, data: piece}:
			case <-t.done:
				return nil
			}
		}
	}
	return nil
}

// Subscribe implements daisychain.Transport.
func (t *SimulatorTransport) Subscribe(pipe daisychain.Pipe, handler daisychain.NotifyHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if handler == nil {
		delete(t.handlers, pipe)
		return nil
	}
	t.handlers[pipe] = handler
	return nil
}

// SetWriteError makes every write on pipe fail with err until cleared
// with nil. The payload is logged but never reaches the controller.
func (t *SimulatorTransport) SetWriteError(pipe daisychain.Pipe, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.errs, pipe)
		return
	}
	t.errs[pipe] = err
}

// MTU implements daisychain.Transport.
func (t *SimulatorTransport) MTU() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mtu
}

// SetMTU changes the negotiated ATT write ceiling.
func (t *SimulatorTransport) SetMTU(mtu int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mtu = mtu
}

// IsConnected implements daisychain.Transport.
func (t *SimulatorTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Type implements daisychain.Transport.
func (*SimulatorTransport) Type() daisychain.TransportType {
	return daisychain.TransportMock
}

// Simulator returns the simulated controller.
func (t *SimulatorTransport) Simulator() *VirtualController {
	return t.sim
}

// WriteLog returns every write made on pipe.
func (t *SimulatorTransport) WriteLog(pipe daisychain.Pipe) []WriteLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []WriteLogEntry
	for _, e := range t.writeLog {
		if e.Pipe == pipe {
			out = append(out, e)
		}
	}
	return out
}

// ClearWriteLog forgets recorded writes.
func (t *SimulatorTransport) ClearWriteLog() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeLog = nil
}
