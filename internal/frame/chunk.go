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

// ChunkPayload returns the number of sector bytes that fit in one firmware
// write for the given ATT MTU: min(512, mtu-3) minus the 3-byte chunk header.
// The result is at least 1.
func ChunkPayload(mtu int) int {
	n := min(MaxChunkWrite, mtu-ATTOverhead) - ChunkHeaderLen
	if n < 1 {
		return 1
	}
	return n
}

// SectorPackets splits one CRC-tagged sector into firmware writes. Each packet
// is [index:u16 LE][seq:u8][data...]; the last packet carries LastChunkSeq.
func SectorPackets(index uint16, sector []byte, mtu int) ([][]byte, error) {
	if len(sector) == 0 {
		return nil, fmt.Errorf("%w: empty sector", daisychain.ErrFrameLength)
	}

	size := ChunkPayload(mtu)
	count := (len(sector) + size - 1) / size
	if count > int(LastChunkSeq) {
		return nil, fmt.Errorf("%w: sector needs %d chunks at mtu %d",
			daisychain.ErrFrameLength, count, mtu)
	}

	packets := make([][]byte, 0, count)
	for seq := 0; seq < count; seq++ {
		start := seq * size
		end := min(start+size, len(sector))

		tag := byte(seq)
		if seq == count-1 {
			tag = LastChunkSeq
		}

		pkt := make([]byte, ChunkHeaderLen, ChunkHeaderLen+end-start)
		binary.LittleEndian.PutUint16(pkt[0:2], index)
		pkt[2] = tag
		packets = append(packets, append(pkt, sector[start:end]...))
	}
	return packets, nil
}

// ParsePacket splits a firmware write back into its header and data.
func ParsePacket(pkt []byte) (index uint16, seq byte, data []byte, err error) {
	if len(pkt) <= ChunkHeaderLen {
		return 0, 0, nil, fmt.Errorf("%w: packet is %d bytes",
			daisychain.ErrFrameLength, len(pkt))
	}
	return binary.LittleEndian.Uint16(pkt[0:2]), pkt[2], pkt[ChunkHeaderLen:], nil
}
