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
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/ZaparooProject/go-daisychain/pkg/command"
)

// Error categories for retry and recovery decisions
var (
	// Transport errors - potentially retryable
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportWrite    = errors.New("transport write failed")
	ErrTransportClosed   = errors.New("transport is closed")
	ErrNotConnected      = errors.New("transport not connected")
	ErrPipeNotSupported  = errors.New("pipe not supported by transport")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrTransportNotReady = errors.New("transport not ready")

	// Framing errors
	ErrMalformed     = command.ErrMalformed
	ErrFrameOverflow = errors.New("response exceeds receive buffer")
	ErrFrameLength   = errors.New("invalid frame length")

	// Command errors - the device answered but not as expected
	ErrCommandRejected = errors.New("command rejected by device")
	ErrLedCount        = command.ErrLedCount

	// OTA errors
	ErrStartRejected    = errors.New("ota start rejected by device")
	ErrRetriesExceeded  = errors.New("ota retry limit exceeded")
	ErrSectorOutOfRange = errors.New("device requested sector outside image")
	ErrUnknownAckStatus = errors.New("unknown firmware ack status")
	ErrEmptyImage       = errors.New("firmware image is empty")
	ErrImageTooLarge    = errors.New("firmware image too large")

	// Synchronization errors
	ErrVerifyMismatch = errors.New("device brightness does not match configuration")
	ErrNotAllowed     = errors.New("action not allowed in current state")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// TransportError wraps transport-level errors with additional context
type TransportError struct {
	Err       error     // Underlying error
	Op        string    // Operation that failed
	Pipe      Pipe      // Logical channel, empty when not pipe specific
	Type      ErrorType // Error category
	Retryable bool      // Whether the error is retryable
}

func (e *TransportError) Error() string {
	if e.Pipe != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Pipe, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommandError reports a response that arrived but did not match what the
// command expects. Status and Message carry the device's own diagnostics.
type CommandError struct {
	Command   string
	Message   string
	Status    any
	RequestID int
}

func (e *CommandError) Error() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s (rid %d) rejected", e.Command, e.RequestID)
	if e.Status != nil {
		_, _ = fmt.Fprintf(&sb, ", status %v", e.Status)
	}
	if e.Message != "" {
		_, _ = fmt.Fprintf(&sb, ": %s", e.Message)
	}
	return sb.String()
}

func (*CommandError) Unwrap() error {
	return ErrCommandRejected
}

// InvariantViolation is raised with panic when internal bookkeeping breaks,
// for example the device mirror and the target disagreeing on LED identity.
// It is never returned as an error.
type InvariantViolation struct {
	What   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", e.What, e.Detail)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	switch {
	case errors.Is(err, ErrTransportTimeout),
		errors.Is(err, ErrTransportWrite),
		errors.Is(err, ErrTransportNotReady):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error indicates the device or link is gone and
// the session must reconnect. IsRetryable answers a narrower question: whether
// a single operation can be repeated on the same link.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrDeviceNotFound),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for device disconnection detection.
// These are defined here because they're not available on non-Windows platforms.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when a USB bridge or
// BLE adapter disappears mid-operation.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // only device-gone errnos matter here
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // only device-gone errnos matter here
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}

// NewTransportError creates a transport error with retryability derived from its type
func NewTransportError(op string, pipe Pipe, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Pipe:      pipe,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a timeout error for a wait on the given pipe
func NewTimeoutError(op string, pipe Pipe) *TransportError {
	return NewTransportError(op, pipe, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewWriteError wraps a failed write; the cause is kept for errors.Is.
func NewWriteError(op string, pipe Pipe, cause error) *TransportError {
	return NewTransportError(op, pipe, fmt.Errorf("%w: %w", ErrTransportWrite, cause), ErrorTypeTransient)
}

// NewNotConnectedError creates a permanent error for use of a closed link
func NewNotConnectedError(op string, pipe Pipe) *TransportError {
	return NewTransportError(op, pipe, ErrNotConnected, ErrorTypePermanent)
}

// =============================================================================
// Wire Trace Logging
// =============================================================================
// TraceableError embeds the last frames exchanged on a pipe so a failed sync or
// OTA step can be diagnosed without enabling debug logging up front.

// TraceDirection indicates the direction of wire data
type TraceDirection string

const (
	// TraceTX indicates data written to the controller
	TraceTX TraceDirection = "TX"
	// TraceRX indicates notification data from the controller
	TraceRX TraceDirection = "RX"
)

// TraceEntry represents a single wire-level operation
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Pipe      Pipe
	Note      string
	Data      []byte
}

// String formats a trace entry for display
func (e TraceEntry) String() string {
	base := fmt.Sprintf("[%s] %s %s: %s",
		e.Timestamp.Format("15:04:05.000"), e.Direction, e.Pipe, formatTraceData(e.Data))
	if e.Note != "" {
		return base + " (" + e.Note + ")"
	}
	return base
}

// TraceableError wraps an error with wire-level trace data for debugging.
//
//	var te *daisychain.TraceableError
//	if errors.As(err, &te) {
//	    log.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err       error
	Transport TransportType
	Trace     []TraceEntry
}

// Error implements the error interface
func (e *TraceableError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *TraceableError) Unwrap() error {
	return e.Err
}

// FormatTrace returns a human-readable trace log
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s] (no trace data)", e.Transport)
	}

	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s] Wire trace (%d entries):\n", e.Transport, len(e.Trace))
	for _, entry := range e.Trace {
		direction := ">"
		if entry.Direction == TraceRX {
			direction = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %-12s %s", direction, entry.Pipe, formatTraceData(entry.Data))
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		_ = sb.WriteByte('\n')
	}
	return sb.String()
}

// formatTraceData prints JSON frames as text and binary frames as hex.
func formatTraceData(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	if isPrintableFrame(data) {
		text := strings.TrimRight(string(data), "\x00")
		if len(text) > 96 {
			return fmt.Sprintf("%s... (%d bytes total)", text[:96], len(data))
		}
		return text
	}
	if len(data) > 32 {
		return fmt.Sprintf("% X ... (%d bytes total)", data[:32], len(data))
	}
	return fmt.Sprintf("% X", data)
}

func isPrintableFrame(data []byte) bool {
	for i, b := range data {
		if b == 0 && i == len(data)-1 {
			continue
		}
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}

// TraceBuffer collects trace entries in a fixed-size ring.
// Notifications are recorded from the transport's callback goroutine.
type TraceBuffer struct {
	transport TransportType
	entries   []TraceEntry
	maxSize   int
	mu        syncutil.Mutex
}

// NewTraceBuffer creates a trace buffer with the given capacity
func NewTraceBuffer(transport TransportType, maxSize int) *TraceBuffer {
	if maxSize <= 0 {
		maxSize = 16
	}
	return &TraceBuffer{
		entries:   make([]TraceEntry, 0, maxSize),
		maxSize:   maxSize,
		transport: transport,
	}
}

// RecordTX records a write to the controller
func (tb *TraceBuffer) RecordTX(pipe Pipe, data []byte, note string) {
	tb.record(TraceTX, pipe, data, note)
}

// RecordRX records a notification from the controller
func (tb *TraceBuffer) RecordRX(pipe Pipe, data []byte, note string) {
	tb.record(TraceRX, pipe, data, note)
}

// RecordTimeout records a wait that expired
func (tb *TraceBuffer) RecordTimeout(pipe Pipe, note string) {
	tb.record(TraceRX, pipe, nil, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, pipe Pipe, data []byte, note string) {
	entry := TraceEntry{
		Direction: dir,
		Pipe:      pipe,
		Data:      append([]byte(nil), data...),
		Timestamp: time.Now(),
		Note:      note,
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()
	if len(tb.entries) >= tb.maxSize {
		copy(tb.entries, tb.entries[1:])
		tb.entries[len(tb.entries)-1] = entry
	} else {
		tb.entries = append(tb.entries, entry)
	}
}

// WrapError wraps an error with the collected trace data. Returns nil if err is nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return &TraceableError{
		Err:       err,
		Trace:     append([]TraceEntry(nil), tb.entries...),
		Transport: tb.transport,
	}
}

// Clear resets the trace buffer
func (tb *TraceBuffer) Clear() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.entries = tb.entries[:0]
}

// GetTrace extracts trace data from an error, returning nil if not present
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
