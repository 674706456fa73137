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

package frame

import (
	"encoding/binary"
	"testing"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommand(t *testing.T) {
	t.Parallel()

	buf := StartCommand(0x00012345)
	require.Len(t, buf, Size)
	assert.Equal(t, CmdStart, binary.LittleEndian.Uint16(buf[0:2]))
	assert.Equal(t, uint32(0x00012345), binary.LittleEndian.Uint32(buf[2:6]))
	assert.Equal(t, make([]byte, 12), buf[6:18], "reserved bytes must be zero")
	assert.True(t, VerifyCRC(buf))
}

func TestStopCommand(t *testing.T) {
	t.Parallel()

	buf := StopCommand()
	require.Len(t, buf, Size)
	assert.Equal(t, CmdStop, binary.LittleEndian.Uint16(buf[0:2]))
	assert.True(t, VerifyCRC(buf))
}

func TestEncodeCommand_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	_, err := EncodeCommand(CmdStart, make([]byte, PayloadSize+1))
	require.ErrorIs(t, err, daisychain.ErrFrameLength)
}

func TestDecodeCommandAck(t *testing.T) {
	t.Parallel()

	corrupted := EncodeCommandAck(CmdStart, AckAccepted)
	corrupted[10] ^= 0x01

	badCode := EncodeCommandAck(CmdStart, AckAccepted)
	badCode[0] ^= 0x40

	notAck := StopCommand()

	tests := []struct {
		name    string
		wantErr error
		buf     []byte
		want    CommandAck
	}{
		{
			name: "accepted",
			buf:  EncodeCommandAck(CmdStart, AckAccepted),
			want: CommandAck{Command: CmdStart, Response: AckAccepted},
		},
		{
			name: "rejected",
			buf:  EncodeCommandAck(CmdStart, AckRejected),
			want: CommandAck{Command: CmdStart, Response: AckRejected},
		},
		{
			name: "device reported crc error",
			buf:  EncodeCommandAck(CmdStart, RspCRCError),
			want: CommandAck{Command: CmdStart, Response: RspCRCError},
		},
		{
			name: "local crc mismatch",
			buf:  corrupted,
			want: CommandAck{Command: CmdStart, Response: RspCRCError},
		},
		{
			name: "corrupted control code",
			buf:  badCode,
			want: CommandAck{Command: CmdStart, Response: RspCRCError},
		},
		{
			name:    "short frame",
			buf:     []byte{0x03, 0x00},
			wantErr: daisychain.ErrFrameLength,
		},
		{
			name:    "not an ack",
			buf:     notAck,
			wantErr: daisychain.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeCommandAck(tt.buf)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeFirmwareAck(t *testing.T) {
	t.Parallel()

	ack := FirmwareAck{SectorSent: 1, Status: FwAckSectorError, CurrentSector: 0}
	buf := EncodeFirmwareAck(ack)
	require.Len(t, buf, Size)

	got, err := DecodeFirmwareAck(buf)
	require.NoError(t, err)
	assert.Equal(t, ack, got)

	buf[6] = 0xAA
	got, err = DecodeFirmwareAck(buf)
	require.NoError(t, err)
	assert.Equal(t, RspCRCError, got.Status)
	assert.Equal(t, uint16(0), got.CurrentSector)

	_, err = DecodeFirmwareAck(buf[:19])
	require.ErrorIs(t, err, daisychain.ErrFrameLength)
}

func TestVerifyCRC_WrongLength(t *testing.T) {
	t.Parallel()
	assert.False(t, VerifyCRC(nil))
	assert.False(t, VerifyCRC(make([]byte, 21)))
}
