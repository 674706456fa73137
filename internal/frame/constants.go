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

// OTA frame geometry
const (
	Size        = 20 // Every OTA control and firmware frame is exactly 20 bytes
	PayloadSize = 16 // Command-specific payload of a control frame
	CRCOffset   = 18 // CRC16 covers bytes [0:18] and is stored at [18:20]
)

// Control commands sent on the OTA command characteristic
const (
	CmdStart uint16 = 0x0001
	CmdStop  uint16 = 0x0002
	CmdAck   uint16 = 0x0003
)

// Responses carried by a control acknowledgment
const (
	AckAccepted uint16 = 0x0000
	AckRejected uint16 = 0x0001
)

// Status values carried by a firmware acknowledgment
const (
	FwAckSuccess     uint16 = 0x0000
	FwAckCRCError    uint16 = 0x0001
	FwAckSectorError uint16 = 0x0002
	FwAckLengthError uint16 = 0x0003
)

// RspCRCError marks an acknowledgment whose own CRC did not verify locally,
// or a device report that the frame it received was corrupted.
const RspCRCError uint16 = 0xFFFF

// Sector transfer constants
const (
	SectorSize     = 4096 // Raw firmware bytes per sector
	SectorCRCSize  = 2    // Trailing CRC16 appended to every sector
	ChunkHeaderLen = 3    // [sector:u16][seq:u8]
	MaxChunkWrite  = 512  // Largest single characteristic write
	ATTOverhead    = 3    // ATT header bytes per write
)

const (
	TerminalSector uint16 = 0xFFFF // Wire index of the final sector of an image
	LastChunkSeq   byte   = 0xFF   // Sequence number of a sector's last chunk
)
