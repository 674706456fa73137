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
	"time"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
)

// MaxResponseSize matches the controller's TX buffer; a response that grows
// past it without a terminator can never be valid.
const MaxResponseSize = 10 * 1024

// ResponseAssembler reassembles NUL-terminated responses from notification
// fragments. Feed runs on the transport's callback goroutine and Await on the
// requesting goroutine; the two hand off through a mutex-guarded buffer and a
// capacity-1 signal channel.
//
// Callers must Reset before sending each request so no bytes of an earlier
// frame leak into the next one.
type ResponseAssembler struct {
	signal   chan struct{}
	buf      []byte
	mu       syncutil.Mutex
	overflow bool
}

// NewResponseAssembler creates an empty assembler.
func NewResponseAssembler() *ResponseAssembler {
	return &ResponseAssembler{
		signal: make(chan struct{}, 1),
		buf:    make([]byte, 0, 512),
	}
}

// Feed appends one notification fragment. It never blocks.
func (a *ResponseAssembler) Feed(fragment []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.overflow {
		return
	}
	if len(a.buf)+len(fragment) > MaxResponseSize {
		a.buf = a.buf[:0]
		a.overflow = true
		a.notify()
		return
	}

	a.buf = append(a.buf, fragment...)
	if bytes.IndexByte(fragment, 0) >= 0 {
		a.notify()
	}
}

// notify must be called with mu held.
func (a *ResponseAssembler) notify() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// Reset discards buffered bytes and any pending signal.
func (a *ResponseAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *ResponseAssembler) resetLocked() {
	a.buf = a.buf[:0]
	a.overflow = false
	select {
	case <-a.signal:
	default:
	}
}

// Await blocks until a complete frame is buffered and returns it, terminator
// included. A timeout or cancellation discards the buffer so a late
// terminator cannot complete the next request's frame.
func (a *ResponseAssembler) Await(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if frame, err, done := a.take(); done {
			return frame, err
		}

		select {
		case <-a.signal:
		case <-timer.C:
			a.Reset()
			return nil, NewTimeoutError("Await", PipeCommand)
		case <-ctx.Done():
			a.Reset()
			return nil, fmt.Errorf("await response: %w", ctx.Err())
		}
	}
}

// take returns a completed frame if one is buffered.
//
//nolint:revive // error-before-bool keeps the call site readable
func (a *ResponseAssembler) take() ([]byte, error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.overflow {
		a.resetLocked()
		return nil, fmt.Errorf("%w: %w: no terminator within %d bytes",
			ErrMalformed, ErrFrameOverflow, MaxResponseSize), true
	}

	end := bytes.IndexByte(a.buf, 0)
	if end < 0 {
		return nil, nil, false
	}
	frame := append([]byte(nil), a.buf[:end+1]...)
	a.buf = append(a.buf[:0], a.buf[end+1:]...)
	return frame, nil, true
}

// Buffered returns the number of bytes waiting, for diagnostics.
func (a *ResponseAssembler) Buffered() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf)
}
