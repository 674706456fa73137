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
	"fmt"

	daisychain "github.com/ZaparooProject/go-daisychain"
)

// EncodeCommand builds a 20-byte OTA control frame. The payload is copied into
// the 16-byte region after the command code and zero padded.
func EncodeCommand(cmd uint16, payload []byte) ([]byte, error) {
	if len(payload) > PayloadSize {
		return nil, fmt.Errorf("%w: control payload is %d bytes, max %d",
			daisychain.ErrFrameLength, len(payload), PayloadSize)
	}

	buf := make([]byte, CRCOffset, Size)
	binary.LittleEndian.PutUint16(buf[0:2], cmd)
	copy(buf[2:], payload)
	return AppendCRC16(buf), nil
}

// StartCommand builds the Start control frame announcing the total image size.
func StartCommand(totalSize uint32) []byte {
	payload := binary.LittleEndian.AppendUint32(nil, totalSize)
	// Payload is 4 bytes, EncodeCommand cannot fail
	buf, _ := EncodeCommand(CmdStart, payload)
	return buf
}

// StopCommand builds the Stop control frame that aborts an in-progress update.
func StopCommand() []byte {
	buf, _ := EncodeCommand(CmdStop, nil)
	return buf
}

// CommandAck is the device's reply on the OTA command pipe.
type CommandAck struct {
	Command  uint16 // command being acknowledged
	Response uint16 // AckAccepted, AckRejected or RspCRCError
}

// DecodeCommandAck parses a control acknowledgment.
//
// A frame whose CRC does not verify is not an error: the response is replaced by
// RspCRCError so the caller resends, mirroring how a device reports corruption.
// The CRC is checked before the control code, since corrupted bytes may be
// anywhere in the frame.
func DecodeCommandAck(buf []byte) (CommandAck, error) {
	if len(buf) != Size {
		return CommandAck{}, fmt.Errorf("%w: command ack is %d bytes, want %d",
			daisychain.ErrFrameLength, len(buf), Size)
	}

	ack := CommandAck{
		Command:  binary.LittleEndian.Uint16(buf[2:4]),
		Response: binary.LittleEndian.Uint16(buf[4:6]),
	}
	if !VerifyCRC(buf) {
		ack.Response = RspCRCError
		return ack, nil
	}
	if code := binary.LittleEndian.Uint16(buf[0:2]); code != CmdAck {
		return CommandAck{}, fmt.Errorf("%w: unexpected control code 0x%04X",
			daisychain.ErrMalformed, code)
	}
	return ack, nil
}

// EncodeCommandAck builds a control acknowledgment. Used by device simulators.
func EncodeCommandAck(cmd, response uint16) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], cmd)
	binary.LittleEndian.PutUint16(payload[2:4], response)
	buf, _ := EncodeCommand(CmdAck, payload)
	return buf
}

// FirmwareAck is the device's reply on the OTA firmware pipe after a sector.
type FirmwareAck struct {
	SectorSent    uint16
	Status        uint16
	CurrentSector uint16
}

// DecodeFirmwareAck parses a firmware acknowledgment. A CRC mismatch turns the
// status into RspCRCError.
func DecodeFirmwareAck(buf []byte) (FirmwareAck, error) {
	if len(buf) != Size {
		return FirmwareAck{}, fmt.Errorf("%w: firmware ack is %d bytes, want %d",
			daisychain.ErrFrameLength, len(buf), Size)
	}

	ack := FirmwareAck{
		SectorSent:    binary.LittleEndian.Uint16(buf[0:2]),
		Status:        binary.LittleEndian.Uint16(buf[2:4]),
		CurrentSector: binary.LittleEndian.Uint16(buf[4:6]),
	}
	if !VerifyCRC(buf) {
		ack.Status = RspCRCError
	}
	return ack, nil
}

// EncodeFirmwareAck builds a firmware acknowledgment frame.
func EncodeFirmwareAck(ack FirmwareAck) []byte {
	buf := make([]byte, CRCOffset, Size)
	binary.LittleEndian.PutUint16(buf[0:2], ack.SectorSent)
	binary.LittleEndian.PutUint16(buf[2:4], ack.Status)
	binary.LittleEndian.PutUint16(buf[4:6], ack.CurrentSector)
	return AppendCRC16(buf)
}

// VerifyCRC reports whether the trailing CRC of a 20-byte frame matches its
// first 18 bytes. Frames of any other length never verify.
func VerifyCRC(buf []byte) bool {
	if len(buf) != Size {
		return false
	}
	return CRC16(buf[:CRCOffset]) == binary.LittleEndian.Uint16(buf[CRCOffset:Size])
}
