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

import "encoding/binary"

const (
	crc16Polynomial = 0x1021
	crc16HighBit    = 0x8000
)

// CRC16 computes the CRC-16/CCITT checksum used by the OTA service.
// Polynomial 0x1021, initial value 0, no reflection and no final XOR.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&crc16HighBit != 0 {
				crc = (crc << 1) ^ crc16Polynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// AppendCRC16 appends the little-endian CRC16 of data to data.
func AppendCRC16(data []byte) []byte {
	return binary.LittleEndian.AppendUint16(data, CRC16(data))
}
