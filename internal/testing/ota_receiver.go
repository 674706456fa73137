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

package testing

import (
	"encoding/binary"

	"github.com/ZaparooProject/go-daisychain/internal/frame"
)

// otaFaults are one-shot or counted faults for the OTA receiver.
type otaFaults struct {
	sectorStatus       map[int]uint16
	sectorJumps        map[int]int
	startCRCErrors     int
	dropControlAcks    int
	corruptControlAcks int
	dropSectorAcks     int
	corruptSectorAcks  int
	rejectStart        bool
}

// otaReceiver is the device side of the sector-transfer protocol.
type otaReceiver struct {
	faults    otaFaults
	image     []byte
	pending   []byte
	wireLog   []uint16
	size      uint32
	expected  int
	nextSeq   int
	starts    int
	stops     int
	active    bool
	complete  bool
	aborted   bool
	seqBroken bool
}

func (o *otaReceiver) totalSectors() int {
	return int((o.size + frame.SectorSize - 1) / frame.SectorSize)
}

func (o *otaReceiver) handleControl(payload []byte) [][]byte {
	if len(payload) != frame.Size || !frame.VerifyCRC(payload) {
		var cmd uint16
		if len(payload) >= 2 {
			cmd = binary.LittleEndian.Uint16(payload[0:2])
		}
		return o.controlAck(cmd, frame.RspCRCError)
	}

	cmd := binary.LittleEndian.Uint16(payload[0:2])
	switch cmd {
	case frame.CmdStart:
		o.starts++
		if o.faults.startCRCErrors > 0 {
			o.faults.startCRCErrors--
			return o.controlAck(cmd, frame.RspCRCError)
		}
		size := binary.LittleEndian.Uint32(payload[2:6])
		if o.faults.rejectStart || size == 0 {
			return o.controlAck(cmd, frame.AckRejected)
		}
		o.size = size
		o.image = o.image[:0]
		o.pending = o.pending[:0]
		o.wireLog = nil
		o.expected = 0
		o.nextSeq = 0
		o.seqBroken = false
		o.active = true
		o.complete = false
		o.aborted = false
		return o.controlAck(cmd, frame.AckAccepted)
	case frame.CmdStop:
		o.stops++
		if o.active {
			o.active = false
			o.aborted = true
		}
		return o.controlAck(cmd, frame.AckAccepted)
	default:
		return o.controlAck(cmd, frame.AckRejected)
	}
}

func (o *otaReceiver) controlAck(cmd, response uint16) [][]byte {
	if o.faults.dropControlAcks > 0 {
		o.faults.dropControlAcks--
		return nil
	}
	ack := frame.EncodeCommandAck(cmd, response)
	if o.faults.corruptControlAcks > 0 {
		o.faults.corruptControlAcks--
		ack[0] ^= 0x40
	}
	return [][]byte{ack}
}

func (o *otaReceiver) handleChunk(pkt []byte) [][]byte {
	if !o.active {
		return nil
	}
	index, seq, data, err := frame.ParsePacket(pkt)
	if err != nil {
		return nil
	}

	if seq != frame.LastChunkSeq && int(seq) != o.nextSeq {
		o.seqBroken = true
	}
	o.nextSeq++
	o.pending = append(o.pending, data...)
	if seq != frame.LastChunkSeq {
		return nil
	}

	sector := o.pending
	broken := o.seqBroken
	o.pending = nil
	o.nextSeq = 0
	o.seqBroken = false

	status := o.checkSector(index, sector, broken)
	return o.firmwareAck(frame.FirmwareAck{
		SectorSent:    index,
		Status:        status,
		CurrentSector: uint16(o.expected), //nolint:gosec // sector counts fit u16
	})
}

// checkSector validates a reassembled sector and commits it on success.
func (o *otaReceiver) checkSector(index uint16, sector []byte, broken bool) uint16 {
	total := o.totalSectors()
	last := total - 1

	pos := int(index)
	if index == frame.TerminalSector {
		pos = last
	}

	if to, ok := o.faults.sectorJumps[pos]; ok {
		delete(o.faults.sectorJumps, pos)
		o.expected = to
		return frame.FwAckSectorError
	}
	if status, ok := o.faults.sectorStatus[pos]; ok {
		delete(o.faults.sectorStatus, pos)
		return status
	}

	// The final sector must carry the terminal tag, and only it may.
	if pos != o.expected || pos*frame.SectorSize > len(o.image) ||
		(pos == last) != (index == frame.TerminalSector) {
		return frame.FwAckSectorError
	}

	want := frame.SectorSize
	if pos == last {
		want = int(o.size) - last*frame.SectorSize
	}
	if broken || len(sector) != want+frame.SectorCRCSize {
		return frame.FwAckLengthError
	}

	raw := sector[:want]
	if frame.CRC16(raw) != binary.LittleEndian.Uint16(sector[want:]) {
		return frame.FwAckCRCError
	}

	o.image = append(o.image[:pos*frame.SectorSize], raw...)
	o.wireLog = append(o.wireLog, index)
	o.expected = pos + 1
	if pos == last {
		o.active = false
		o.complete = true
	}
	return frame.FwAckSuccess
}

func (o *otaReceiver) firmwareAck(ack frame.FirmwareAck) [][]byte {
	if o.faults.dropSectorAcks > 0 {
		o.faults.dropSectorAcks--
		return nil
	}
	buf := frame.EncodeFirmwareAck(ack)
	if o.faults.corruptSectorAcks > 0 {
		o.faults.corruptSectorAcks--
		buf[frame.CRCOffset+1] ^= 0xFF
	}
	return [][]byte{buf}
}

// OTAImage returns the firmware bytes committed so far.
func (v *VirtualController) OTAImage() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]byte(nil), v.ota.image...)
}

// OTAComplete reports whether the final sector was committed.
func (v *VirtualController) OTAComplete() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ota.complete
}

// OTAAborted reports whether a Stop frame ended an active update.
func (v *VirtualController) OTAAborted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ota.aborted
}

// OTAWireLog returns the wire index of every committed sector, in order.
func (v *VirtualController) OTAWireLog() []uint16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint16(nil), v.ota.wireLog...)
}

// OTAStartCount returns how many Start frames were received.
func (v *VirtualController) OTAStartCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ota.starts
}

// OTAStopCount returns how many Stop frames were received.
func (v *VirtualController) OTAStopCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ota.stops
}

// RejectOTAStart makes every Start frame be rejected.
func (v *VirtualController) RejectOTAStart() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.rejectStart = true
}

// InjectStartCRCErrors answers the next n Start frames with a CRC error.
func (v *VirtualController) InjectStartCRCErrors(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.startCRCErrors = n
}

// DropControlAcks swallows the next n control acks.
func (v *VirtualController) DropControlAcks(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.dropControlAcks = n
}

// CorruptControlAcks flips a bit in the control code of the next n control
// acks, which also breaks their CRC.
func (v *VirtualController) CorruptControlAcks(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.corruptControlAcks = n
}

// InjectSectorStatus answers the next complete transfer of sector pos with
// status instead of validating it.
func (v *VirtualController) InjectSectorStatus(pos int, status uint16) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ota.faults.sectorStatus == nil {
		v.ota.faults.sectorStatus = make(map[int]uint16)
	}
	v.ota.faults.sectorStatus[pos] = status
}

// InjectSectorJump answers the next transfer of sector pos with a sector
// error that asks the host to continue from sector to.
func (v *VirtualController) InjectSectorJump(pos, to int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ota.faults.sectorJumps == nil {
		v.ota.faults.sectorJumps = make(map[int]int)
	}
	v.ota.faults.sectorJumps[pos] = to
}

// DropSectorAcks swallows the next n firmware acks.
func (v *VirtualController) DropSectorAcks(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.dropSectorAcks = n
}

// CorruptSectorAcks breaks the CRC of the next n firmware acks.
func (v *VirtualController) CorruptSectorAcks(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ota.faults.corruptSectorAcks = n
}
