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

// Package command encodes controller requests and evaluates responses. The
// controller speaks NUL-terminated compact JSON: every request carries a
// request id ("rid") and a command name ("cmd"); every response echoes the
// rid and reports a status. This package does no I/O.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-daisychain/pkg/chain"
)

// Protocol keys and framing.
const (
	Terminator byte = 0x00

	KeyRID      = "rid"
	KeyCmd      = "cmd"
	KeyMsg      = "msg"
	KeyName     = "name"
	KeyVersion  = "version"
	KeyLeds     = "leds"
	KeyForce    = "force"
	KeyGroups   = "groups"
	KeySequence = "sequence"

	// DefaultStatusKey is the status field of current firmware. Older
	// revisions answer with AltStatusKey instead.
	DefaultStatusKey = "status"
	AltStatusKey     = "sts"

	// StatusOK is the status of a successful command.
	StatusOK = 0
)

// Command names.
const (
	CmdGetVersion         = "get_version"
	CmdGetCalibrationName = "get_calibration_name"
	CmdDeleteCalibration  = "delete_calibration"
	CmdSaveCalibration    = "save_calibration"
	CmdSetBrightness      = "set_brightness"
	CmdGetBrightness      = "get_brightness"
	CmdPlayShow           = "play_show"
	CmdStopShow           = "stop_show"
)

// Common errors.
var (
	ErrMalformed = errors.New("command: malformed frame")
	ErrLedCount  = errors.New("command: led list length out of range")
)

type param struct {
	value any
	key   string
}

// Request is one command with its parameters in wire order.
type Request struct {
	Name   string
	params []param
	RID    int
}

func newRequest(rid int, name string, params ...param) Request {
	return Request{RID: rid, Name: name, params: params}
}

// Param returns the value of a named parameter.
func (r Request) Param(key string) (any, bool) {
	for _, p := range r.params {
		if p.key == key {
			return p.value, true
		}
	}
	return nil, false
}

// GetVersion asks for the firmware version string.
func GetVersion(rid int) Request { return newRequest(rid, CmdGetVersion) }

// GetCalibrationName asks for the name of the stored calibration.
func GetCalibrationName(rid int) Request { return newRequest(rid, CmdGetCalibrationName) }

// DeleteCalibration erases the stored calibration and restores defaults.
func DeleteCalibration(rid int) Request { return newRequest(rid, CmdDeleteCalibration) }

// SaveCalibration persists the current brightness values under name.
func SaveCalibration(rid int, name string) Request {
	return newRequest(rid, CmdSaveCalibration, param{key: KeyName, value: name})
}

// StopShow aborts a running show.
func StopShow(rid int) Request { return newRequest(rid, CmdStopShow) }

// SetBrightness writes brightness values as [[pcb,led,brightness],...].
func SetBrightness(rid int, leds []chain.Led) (Request, error) {
	list, err := unpackLeds(leds, false)
	if err != nil {
		return Request{}, err
	}
	return newRequest(rid, CmdSetBrightness, param{key: KeyLeds, value: list}), nil
}

// GetBrightness reads brightness values for [[pcb,led],...].
func GetBrightness(rid int, leds []chain.Led) (Request, error) {
	list, err := unpackLeds(leds, true)
	if err != nil {
		return Request{}, err
	}
	return newRequest(rid, CmdGetBrightness, param{key: KeyLeds, value: list}), nil
}

// PlayShow starts a show. With force set a running show is replaced.
// Steps go on the wire as [group,down,pause,up,pulse,reps,idle_return].
func PlayShow(rid int, show *chain.Show, force bool) (Request, error) {
	if show == nil {
		return Request{}, fmt.Errorf("%w: nil show", chain.ErrInvalidShow)
	}
	if err := show.Validate(); err != nil {
		return Request{}, err
	}

	groups := make([][][]int, 0, len(show.Groups))
	for _, g := range show.Groups {
		list, err := unpackLeds(g, true)
		if err != nil {
			return Request{}, err
		}
		groups = append(groups, list)
	}

	sequence := make([][]int, 0, len(show.Sequence))
	for _, s := range show.Sequence {
		sequence = append(sequence, []int{
			s.Group, s.DownMs, s.PauseMs, s.UpMs, s.PulseMs, s.Reps, boolInt(s.IdleReturn),
		})
	}

	return newRequest(rid, CmdPlayShow,
		param{key: KeyForce, value: boolInt(force)},
		param{key: KeyGroups, value: groups},
		param{key: KeySequence, value: sequence},
	), nil
}

func unpackLeds(leds []chain.Led, indexOnly bool) ([][]int, error) {
	if len(leds) == 0 || len(leds) > chain.LEDTotal {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrLedCount, len(leds), chain.LEDTotal)
	}
	out := make([][]int, len(leds))
	for i, l := range leds {
		if indexOnly {
			out[i] = []int{l.PCB, l.Index}
		} else {
			out[i] = []int{l.PCB, l.Index, l.Brightness}
		}
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Encode serializes a request as compact JSON (rid, cmd, then parameters in
// order, no HTML escaping) followed by a single NUL.
func Encode(req Request) ([]byte, error) {
	var buf bytes.Buffer
	_ = buf.WriteByte('{')
	if err := writeMember(&buf, KeyRID, req.RID, true); err != nil {
		return nil, err
	}
	if err := writeMember(&buf, KeyCmd, req.Name, false); err != nil {
		return nil, err
	}
	for _, p := range req.params {
		if err := writeMember(&buf, p.key, p.value, false); err != nil {
			return nil, err
		}
	}
	_ = buf.WriteByte('}')
	_ = buf.WriteByte(Terminator)
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any, first bool) error {
	if !first {
		_ = buf.WriteByte(',')
	}
	k, err := marshalCompact(key)
	if err != nil {
		return err
	}
	v, err := marshalCompact(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, _ = buf.Write(k)
	_ = buf.WriteByte(':')
	_, _ = buf.Write(v)
	return nil
}

func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// LinkMTU is the usable payload of one write for an ATT write ceiling.
func LinkMTU(attMTU int) int {
	return max(attMTU-3, 1)
}

// Split cuts an encoded frame into writes of at most mtu bytes, in order.
// Pieces alias frame.
func Split(frame []byte, mtu int) [][]byte {
	if mtu < 1 {
		mtu = 1
	}
	pieces := make([][]byte, 0, (len(frame)+mtu-1)/mtu)
	for start := 0; start < len(frame); start += mtu {
		end := min(start+mtu, len(frame))
		pieces = append(pieces, frame[start:end:end])
	}
	return pieces
}
