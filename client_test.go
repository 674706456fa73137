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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-daisychain/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_SubscribesCommandPipe(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t)
	assert.True(t, mock.HasSubscriber(PipeCommand))
	assert.Equal(t, command.DefaultStatusKey, client.StatusKey())

	require.NoError(t, client.Close())
	assert.False(t, mock.HasSubscriber(PipeCommand))
}

func TestNewClient_OptionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		opt  Option
		name string
	}{
		{name: "empty status key", opt: WithStatusKey("")},
		{name: "zero timeout", opt: WithResponseTimeout(0)},
		{name: "negative timeout", opt: WithResponseTimeout(-time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewClient(NewMockTransport(), tt.opt)
			assert.Error(t, err)
		})
	}
}

func TestClient_NextRequestID(t *testing.T) {
	t.Parallel()

	client, _ := createMockClient(t)
	assert.Equal(t, 1, client.NextRequestID())
	assert.Equal(t, 2, client.NextRequestID())
	assert.Equal(t, 3, client.NextRequestID())
}

func TestClient_GetVersionWireBytes(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t)
	mock.SetResponder(PipeCommand, okResponder(t, map[string]any{"version": "1.4.2"}))

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", version)

	writes := mock.Writes(PipeCommand)
	require.Len(t, writes, 1)
	assert.Equal(t, "{\"rid\":1,\"cmd\":\"get_version\"}\x00", string(writes[0]))
}

func TestClient_SplitsToLinkMTU(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t)
	mock.SetMTU(13)
	mock.SetResponder(PipeCommand, okResponder(t, nil))

	require.NoError(t, client.SaveCalibration(context.Background(), "living-room"))

	writes := mock.Writes(PipeCommand)
	require.Greater(t, len(writes), 1)
	var joined []byte
	for _, w := range writes {
		assert.LessOrEqual(t, len(w), 10)
		joined = append(joined, w...)
	}
	assert.Equal(t, "{\"rid\":1,\"cmd\":\"save_calibration\",\"name\":\"living-room\"}\x00", string(joined))
}

func TestClient_ResponseMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reply      func(rid json.Number) map[string]any
		wantStatus any
		name       string
		wantMsg    string
	}{
		{
			name: "wrong rid",
			reply: func(_ json.Number) map[string]any {
				return map[string]any{"rid": 99, "status": 0}
			},
			wantStatus: 0,
		},
		{
			name: "error status with message",
			reply: func(rid json.Number) map[string]any {
				return map[string]any{"rid": rid, "status": 2, "msg": "flash busy"}
			},
			wantStatus: 2,
			wantMsg:    "flash busy",
		},
		{
			name: "missing status",
			reply: func(rid json.Number) map[string]any {
				return map[string]any{"rid": rid}
			},
		},
		{
			name: "wrong type for expected field",
			reply: func(rid json.Number) map[string]any {
				return map[string]any{"rid": rid, "status": 0, "version": 14}
			},
			wantStatus: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, mock := createMockClient(t)
			mock.SetResponder(PipeCommand, jsonResponder(t, func(_ map[string]any, rid json.Number) map[string]any {
				return tt.reply(rid)
			}))

			_, err := client.GetVersion(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCommandRejected)

			var ce *CommandError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, command.CmdGetVersion, ce.Command)
			assert.Equal(t, 1, ce.RequestID)
			assert.Equal(t, tt.wantStatus, ce.Status)
			assert.Equal(t, tt.wantMsg, ce.Message)
		})
	}
}

func TestClient_AlternateStatusKey(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t, WithStatusKey(command.AltStatusKey))
	mock.SetResponder(PipeCommand, jsonResponder(t, func(_ map[string]any, rid json.Number) map[string]any {
		return map[string]any{"rid": rid, "sts": 0}
	}))
	require.NoError(t, client.StopShow(context.Background()))

	mock.SetResponder(PipeCommand, okResponder(t, nil))
	assert.ErrorIs(t, client.StopShow(context.Background()), ErrCommandRejected)
}

func TestClient_TimeoutIsRetryableAndTraced(t *testing.T) {
	t.Parallel()

	client, _ := createMockClient(t, WithResponseTimeout(20*time.Millisecond))

	_, err := client.GetVersion(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportTimeout)
	assert.True(t, IsRetryable(err))

	trace := GetTrace(err)
	require.NotNil(t, trace)
	require.NotEmpty(t, trace.Trace)
	assert.Equal(t, TraceTX, trace.Trace[0].Direction)
	assert.Contains(t, trace.FormatTrace(), "TIMEOUT")
}

func TestClient_MalformedResponse(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t, WithRetry(&RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		BackoffMultiplier: 1,
	}))
	mock.SetResponder(PipeCommand, func([]byte) [][]byte {
		return [][]byte{[]byte("not json\x00")}
	})

	_, err := client.GetVersion(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, 1, mock.WriteCount(PipeCommand), "malformed responses are not retried")
}

func TestClient_RetryUsesFreshRequestID(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t,
		WithResponseTimeout(20*time.Millisecond),
		WithRetry(&RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			BackoffMultiplier: 1,
		}))

	calls := 0
	mock.SetResponder(PipeCommand, jsonResponder(t, func(_ map[string]any, rid json.Number) map[string]any {
		calls++
		if calls == 1 {
			return nil
		}
		return map[string]any{"rid": rid, "status": 0, "version": "2.0"}
	}))

	version, err := client.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2.0", version)

	writes := mock.Writes(PipeCommand)
	require.Len(t, writes, 2)
	assert.Equal(t, json.Number("1"), decodeRequest(t, writes[0])["rid"])
	assert.Equal(t, json.Number("2"), decodeRequest(t, writes[1])["rid"])
}

func TestClient_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t, WithResponseTimeout(10*time.Millisecond))
	_, err := client.GetVersion(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, mock.WriteCount(PipeCommand))
}

func TestClient_WriteError(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t)
	mock.SetError(PipeCommand, NewWriteError("Write", PipeCommand, errors.New("gatt busy")))

	err := client.StopShow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportWrite)
}

func TestClient_DelayedReply(t *testing.T) {
	t.Parallel()

	client, mock := createMockClient(t)
	mock.SetDelay(10 * time.Millisecond)
	mock.SetResponder(PipeCommand, okResponder(t, map[string]any{"name": "bench"}))

	name, err := client.GetCalibrationName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bench", name)
}
