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

// Package ota pushes firmware images to the controller over the BLE OTA
// service: a Start control frame announcing the image size, then 4 KiB
// sectors, each followed by a CRC16 and acknowledged by the device.
package ota

import (
	"fmt"
	"io"
	"math"
	"os"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/frame"
)

// MaxSectors is the largest sector count whose indices fit the wire format.
// 0xFFFF itself is reserved for the terminal sector tag.
const MaxSectors = int(frame.TerminalSector)

// Image is a firmware image split into CRC-tagged sectors.
type Image struct {
	sectors [][]byte
	size    uint32
}

// NewImage splits data into sectors of frame.SectorSize bytes and appends
// each sector's CRC16. The final sector may be shorter.
func NewImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, daisychain.ErrEmptyImage
	}
	if uint64(len(data)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", daisychain.ErrImageTooLarge, len(data))
	}
	count := (len(data) + frame.SectorSize - 1) / frame.SectorSize
	if count > MaxSectors {
		return nil, fmt.Errorf("%w: %d sectors, max %d", daisychain.ErrImageTooLarge, count, MaxSectors)
	}

	img := &Image{size: uint32(len(data)), sectors: make([][]byte, 0, count)}
	for start := 0; start < len(data); start += frame.SectorSize {
		end := min(start+frame.SectorSize, len(data))
		raw := make([]byte, end-start, end-start+frame.SectorCRCSize)
		copy(raw, data[start:end])
		img.sectors = append(img.sectors, frame.AppendCRC16(raw))
	}
	return img, nil
}

// LoadImage reads a whole image from r.
func LoadImage(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, math.MaxUint32+1))
	if err != nil {
		return nil, fmt.Errorf("read firmware image: %w", err)
	}
	return NewImage(data)
}

// ReadImageFile loads an image from a file.
func ReadImageFile(path string) (*Image, error) {
	f, err := os.Open(path) //nolint:gosec // path is user supplied on purpose
	if err != nil {
		return nil, fmt.Errorf("open firmware image: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat firmware image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("firmware image %s is a directory", path)
	}
	return LoadImage(f)
}

// Size returns the raw image size in bytes, as announced in the Start frame.
func (i *Image) Size() uint32 { return i.size }

// SectorCount returns the number of sectors.
func (i *Image) SectorCount() int { return len(i.sectors) }

// Sector returns sector n with its trailing CRC. The slice must not be modified.
func (i *Image) Sector(n int) []byte { return i.sectors[n] }

// WireIndex returns the index sector n carries on the wire. The last sector
// is always tagged frame.TerminalSector so the device knows to finalize,
// even when the image is an exact multiple of the sector size.
func (i *Image) WireIndex(n int) uint16 {
	if n == len(i.sectors)-1 {
		return frame.TerminalSector
	}
	return uint16(n) //nolint:gosec // n < MaxSectors
}

// AckedBytes returns how many raw image bytes are confirmed once sectors
// [0, n] are acknowledged.
func (i *Image) AckedBytes(n int) uint32 {
	end := uint64(n+1) * frame.SectorSize
	if end > uint64(i.size) {
		return i.size
	}
	return uint32(end)
}
