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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTransport_ReassemblesCommandWrites(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	var seen [][]byte
	mock.SetResponder(PipeCommand, func(payload []byte) [][]byte {
		seen = append(seen, payload)
		return [][]byte{[]byte("ok"), {0}}
	})

	var got []byte
	require.NoError(t, mock.Subscribe(PipeCommand, func(data []byte) { got = append(got, data...) }))

	ctx := context.Background()
	require.NoError(t, mock.Write(ctx, PipeCommand, []byte(`{"rid"`), true))
	assert.Empty(t, seen)
	require.NoError(t, mock.Write(ctx, PipeCommand, []byte(":1}\x00"), true))

	require.Len(t, seen, 1)
	assert.Equal(t, "{\"rid\":1}\x00", string(seen[0]))
	assert.Equal(t, "ok\x00", string(got))
	assert.Equal(t, 2, mock.WriteCount(PipeCommand))
}

func TestMockTransport_RejectsOversizedWrite(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetMTU(23)

	err := mock.Write(context.Background(), PipeOTAFirmware, make([]byte, 21), false)
	require.ErrorIs(t, err, ErrFrameLength)
	assert.False(t, IsRetryable(err))
	require.NoError(t, mock.Write(context.Background(), PipeOTAFirmware, make([]byte, 20), false))
}

func TestMockTransport_ErrorInjection(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	injected := errors.New("injected")
	mock.SetError(PipeOTACommand, injected)

	err := mock.Write(context.Background(), PipeOTACommand, []byte{1}, true)
	require.ErrorIs(t, err, injected)
	assert.Equal(t, 1, mock.WriteCount(PipeOTACommand), "failed writes are still recorded")

	mock.ClearError(PipeOTACommand)
	require.NoError(t, mock.Write(context.Background(), PipeOTACommand, []byte{1}, true))
}

func TestMockTransport_ConnectLifecycle(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	require.NoError(t, mock.Disconnect())
	assert.False(t, mock.IsConnected())

	err := mock.Write(context.Background(), PipeCommand, []byte{0}, true)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsFatal(err))

	mock.SetConnectError(ErrDeviceNotFound)
	require.ErrorIs(t, mock.Connect(context.Background(), "DaisyChain"), ErrDeviceNotFound)
	mock.SetConnectError(nil)
	require.NoError(t, mock.Connect(context.Background(), "DaisyChain"))
	assert.True(t, mock.IsConnected())
	assert.Equal(t, 2, mock.ConnectCount())
}

func TestMockTransport_Reset(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetError(PipeCommand, errors.New("x"))
	_ = mock.Write(context.Background(), PipeCommand, []byte("a"), true)
	mock.Reset()

	assert.Zero(t, mock.TotalWrites())
	require.NoError(t, mock.Write(context.Background(), PipeCommand, []byte{0}, true))
	assert.Equal(t, TransportMock, mock.Type())
	assert.Equal(t, DefaultMTU, mock.MTU())
}
