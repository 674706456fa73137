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
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()
	tests := getIsRetryableTestCases()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.err)
			if got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func getIsRetryableTestCases() []struct {
	err  error
	name string
	want bool
} {
	return []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport timeout retryable", err: ErrTransportTimeout, want: true},
		{name: "transport write retryable", err: ErrTransportWrite, want: true},
		{name: "transport not ready retryable", err: ErrTransportNotReady, want: true},
		{name: "malformed not retryable", err: ErrMalformed, want: false},
		{name: "overflow not retryable", err: ErrFrameOverflow, want: false},
		{name: "command rejected not retryable", err: &CommandError{Command: "get_version", RequestID: 3}, want: false},
		{name: "not connected not retryable", err: ErrNotConnected, want: false},
		{name: "wrapped timeout retryable", err: fmt.Errorf("get version: %w", ErrTransportTimeout), want: true},
		{name: "text only is not matched", err: errors.New("outer: " + ErrTransportTimeout.Error()), want: false},
		{name: "timeout transport error", err: NewTimeoutError("Await", PipeCommand), want: true},
		{name: "permanent transport error", err: NewNotConnectedError("Write", PipeCommand), want: false},
		{
			name: "transport error flag wins over cause",
			err:  &TransportError{Op: "Write", Err: ErrTransportTimeout, Retryable: false},
			want: false,
		},
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "transport closed is fatal", err: ErrTransportClosed, want: true},
		{name: "not connected is fatal", err: ErrNotConnected, want: true},
		{name: "device not found is fatal", err: ErrDeviceNotFound, want: true},
		{name: "EOF is fatal", err: io.EOF, want: true},
		{name: "permanent transport error is fatal", err: NewNotConnectedError("Write", PipeOTAFirmware), want: true},
		{name: "timeout is not fatal", err: NewTimeoutError("Await", PipeCommand), want: false},
		{name: "write failure is not fatal", err: NewWriteError("Write", PipeCommand, errors.New("busy")), want: false},
		{name: "command rejected is not fatal", err: &CommandError{Command: "stop_show"}, want: false},
		{name: "EIO is fatal", err: syscall.EIO, want: true},
		{name: "wrapped ENODEV is fatal", err: fmt.Errorf("read: %w", syscall.ENODEV), want: true},
		{name: "EAGAIN is not fatal", err: syscall.EAGAIN, want: false},
		{name: "random error is not fatal", err: errors.New("random error"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsFatal(tt.err)
			if got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransportError_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Await command: transport timeout", NewTimeoutError("Await", PipeCommand).Error())
	assert.Equal(t, "Connect: device not found",
		NewTransportError("Connect", "", ErrDeviceNotFound, ErrorTypePermanent).Error())
}

func TestNewWriteError_KeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("gatt: insufficient resources")
	err := NewWriteError("Write", PipeOTAFirmware, cause)

	assert.ErrorIs(t, err, ErrTransportWrite)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.Retryable)
	assert.Equal(t, ErrorTypeTransient, err.Type)
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *CommandError
		name string
		want string
	}{
		{
			name: "bare",
			err:  &CommandError{Command: "get_version", RequestID: 4},
			want: "get_version (rid 4) rejected",
		},
		{
			name: "status and message",
			err:  &CommandError{Command: "save_calibration", RequestID: 9, Status: 3, Message: "nvs full"},
			want: "save_calibration (rid 9) rejected, status 3: nvs full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, ErrCommandRejected)
		})
	}
}

func TestTraceBuffer_WrapAndFormat(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(TransportBLE, 10)
	tb.RecordTX(PipeCommand, []byte("{\"rid\":1,\"cmd\":\"get_version\"}\x00"), "")
	tb.RecordRX(PipeOTACommand, []byte{0x03, 0x00, 0x01, 0x00}, "ack")
	tb.RecordTimeout(PipeCommand, "no response")

	err := tb.WrapError(ErrTransportTimeout)
	require.ErrorIs(t, err, ErrTransportTimeout)

	te := GetTrace(err)
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	assert.Equal(t, TraceTX, te.Trace[0].Direction)
	assert.Equal(t, TransportBLE, te.Transport)

	formatted := te.FormatTrace()
	assert.Contains(t, formatted, "[ble] Wire trace (3 entries)")
	assert.Contains(t, formatted, `{"rid":1,"cmd":"get_version"}`)
	assert.Contains(t, formatted, "03 00 01 00")
	assert.Contains(t, formatted, "(TIMEOUT: no response)")
}

func TestTraceBuffer_Ring(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(TransportMock, 3)
	for i := range 5 {
		tb.RecordTX(PipeCommand, []byte{byte(i)}, "")
	}

	te := GetTrace(tb.WrapError(errors.New("x")))
	require.NotNil(t, te)
	require.Len(t, te.Trace, 3)
	assert.Equal(t, []byte{2}, te.Trace[0].Data)
	assert.Equal(t, []byte{4}, te.Trace[2].Data)

	tb.Clear()
	te = GetTrace(tb.WrapError(errors.New("x")))
	assert.Equal(t, "[mock] (no trace data)", te.FormatTrace())
}

func TestTraceBuffer_WrapNil(t *testing.T) {
	t.Parallel()

	tb := NewTraceBuffer(TransportMock, 3)
	assert.NoError(t, tb.WrapError(nil))
	assert.Nil(t, GetTrace(errors.New("plain")))
}

func TestTraceEntry_LongData(t *testing.T) {
	t.Parallel()

	entry := TraceEntry{Direction: TraceTX, Pipe: PipeOTAFirmware, Data: make([]byte, 40)}
	assert.True(t, strings.HasSuffix(entry.String(), "... (40 bytes total)"))
}
