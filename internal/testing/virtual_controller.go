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

// Package testing provides a wire-level simulator of the LED chain
// controller for tests.
//
// VirtualController answers the same bytes a real controller answers: it
// reassembles NUL-terminated JSON requests written on the command pipe,
// keeps a brightness store for all 720 LEDs, and runs the receiving side of
// the OTA sector-transfer protocol. Faults can be injected on every path.
package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
)

// Controller defaults, matching a freshly flashed device.
const (
	DefaultVersion           = "v1.0.0"
	DefaultCalibrationName   = "default"
	DefaultBrightness        = 50
	CalibrationNameMaxLength = 31
	StatusError              = -1
)

// VirtualController simulates the controller firmware at the wire level.
type VirtualController struct {
	commandCounts map[string]int
	failNext      map[string]commandFault
	ota           otaReceiver
	version       string
	calibration   string
	statusKey     string
	rx            bytes.Buffer
	requests      []string
	brightness    [chain.LEDTotal]int
	saved         [chain.LEDTotal]int
	dropResponses int
	corruptRID    int
	floodBytes    int
	mu            syncutil.Mutex
	showRunning   bool
}

type commandFault struct {
	msg    string
	status int
}

// NewVirtualController creates a controller with default brightness and
// calibration.
func NewVirtualController() *VirtualController {
	v := &VirtualController{
		commandCounts: make(map[string]int),
		failNext:      make(map[string]commandFault),
		version:       DefaultVersion,
		calibration:   DefaultCalibrationName,
		statusKey:     "status",
	}
	for i := range v.brightness {
		v.brightness[i] = DefaultBrightness
		v.saved[i] = DefaultBrightness
	}
	return v
}

// Handle processes one write on a pipe and returns the notifications the
// controller sends back on the same pipe.
func (v *VirtualController) Handle(pipe daisychain.Pipe, payload []byte) [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch pipe {
	case daisychain.PipeCommand:
		return v.handleCommandBytes(payload)
	case daisychain.PipeOTACommand:
		return v.ota.handleControl(payload)
	case daisychain.PipeOTAFirmware:
		return v.ota.handleChunk(payload)
	default:
		return nil
	}
}

func (v *VirtualController) handleCommandBytes(payload []byte) [][]byte {
	_, _ = v.rx.Write(payload)

	var out [][]byte
	for {
		end := bytes.IndexByte(v.rx.Bytes(), 0)
		if end < 0 {
			return out
		}
		request := append([]byte(nil), v.rx.Next(end+1)[:end]...)
		v.requests = append(v.requests, string(request))

		response := v.process(request)
		if v.dropResponses > 0 {
			v.dropResponses--
			continue
		}
		if v.floodBytes > 0 {
			response = bytes.Repeat([]byte{'x'}, v.floodBytes)
			v.floodBytes = 0
		}
		out = append(out, response)
	}
}

func (v *VirtualController) process(request []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(request))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return v.respond(-1, StatusError, fmt.Sprintf("Deserialize JSON string failed: %v", err), nil)
	}

	ridValue, ok := doc["rid"]
	if !ok {
		return v.respond(-1, StatusError, "JSON key ('rid') not found!", nil)
	}
	rid, _ := intOf(ridValue)
	if v.corruptRID > 0 {
		v.corruptRID--
		rid += 1000
	}

	cmd, ok := doc["cmd"].(string)
	if !ok {
		return v.respond(rid, StatusError, "JSON key ('cmd') not found!", nil)
	}
	v.commandCounts[cmd]++

	if fault, ok := v.failNext[cmd]; ok {
		delete(v.failNext, cmd)
		return v.respond(rid, fault.status, fault.msg, nil)
	}

	switch cmd {
	case "get_version":
		return v.respond(rid, 0, "OK", map[string]any{"version": v.version})
	case "get_calibration_name":
		return v.respond(rid, 0, "OK", map[string]any{"name": v.calibration})
	case "delete_calibration":
		v.calibration = DefaultCalibrationName
		for i := range v.brightness {
			v.brightness[i] = DefaultBrightness
			v.saved[i] = DefaultBrightness
		}
		return v.respond(rid, 0, "OK", nil)
	case "save_calibration":
		return v.handleSave(rid, doc)
	case "set_brightness":
		return v.handleSetBrightness(rid, doc)
	case "get_brightness":
		return v.handleGetBrightness(rid, doc)
	case "play_show":
		return v.handlePlayShow(rid, doc)
	case "stop_show":
		v.showRunning = false
		return v.respond(rid, 0, "OK", nil)
	default:
		return v.respond(rid, StatusError, fmt.Sprintf("Unknown 'cmd': '%s'", cmd), nil)
	}
}

func (v *VirtualController) handleSave(rid int, doc map[string]any) []byte {
	name, ok := doc["name"].(string)
	if !ok {
		return v.respond(rid, StatusError, "JSON key ('name') not found!", nil)
	}
	if len(name) > CalibrationNameMaxLength {
		return v.respond(rid, StatusError, "Calibration name too long", nil)
	}
	v.calibration = name
	v.saved = v.brightness
	return v.respond(rid, 0, "OK", nil)
}

func (v *VirtualController) handleSetBrightness(rid int, doc map[string]any) []byte {
	items, msg := ledItems(doc, 3)
	if msg != "" {
		return v.respond(rid, StatusError, msg, nil)
	}
	for _, item := range items {
		if item[2] < 0 || item[2] > chain.MaxBrightness {
			return v.respond(rid, StatusError, fmt.Sprintf("Invalid brightness %d", item[2]), nil)
		}
	}
	for _, item := range items {
		v.brightness[chain.Offset(item[0], item[1])] = item[2]
	}
	return v.respond(rid, 0, "OK", nil)
}

func (v *VirtualController) handleGetBrightness(rid int, doc map[string]any) []byte {
	items, msg := ledItems(doc, 2)
	if msg != "" {
		return v.respond(rid, StatusError, msg, nil)
	}
	leds := make([][]int, len(items))
	for i, item := range items {
		leds[i] = []int{item[0], item[1], v.brightness[chain.Offset(item[0], item[1])]}
	}
	return v.respond(rid, 0, "OK", map[string]any{"leds": leds})
}

func (v *VirtualController) handlePlayShow(rid int, doc map[string]any) []byte {
	for _, key := range []string{"force", "groups", "sequence"} {
		if _, ok := doc[key]; !ok {
			return v.respond(rid, StatusError, fmt.Sprintf("JSON key ('%s') not found!", key), nil)
		}
	}
	force, _ := intOf(doc["force"])
	if v.showRunning && force == 0 {
		return v.respond(rid, StatusError, "Show already running", nil)
	}
	groups, _ := doc["groups"].([]any)
	sequence, _ := doc["sequence"].([]any)
	if len(groups) == 0 || len(groups) > chain.MaxShowGroup || len(sequence) == 0 || len(sequence) > chain.MaxShowSteps {
		return v.respond(rid, StatusError, "Invalid show", nil)
	}
	v.showRunning = true
	return v.respond(rid, 0, "OK", nil)
}

// ledItems validates a "leds" list of n-int items with valid identities.
func ledItems(doc map[string]any, n int) ([][]int, string) {
	raw, ok := doc["leds"].([]any)
	if !ok {
		return nil, "JSON key ('leds') not found!"
	}
	if len(raw) == 0 || len(raw) > chain.LEDTotal {
		return nil, fmt.Sprintf("Invalid LED count %d", len(raw))
	}
	items := make([][]int, 0, len(raw))
	for _, r := range raw {
		list, ok := r.([]any)
		if !ok || len(list) != n {
			return nil, "Invalid LED object"
		}
		item := make([]int, n)
		for i, e := range list {
			x, ok := intOf(e)
			if !ok {
				return nil, "Invalid LED object"
			}
			item[i] = x
		}
		if item[0] < 1 || item[0] > chain.PCBCount || item[1] < 1 || item[1] > chain.LEDCount {
			return nil, fmt.Sprintf("Invalid LED (%d,%d)", item[0], item[1])
		}
		items = append(items, item)
	}
	return items, ""
}

func intOf(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return int(i), true
}

// respond builds a NUL-terminated response. Keys go out as rid, msg, status,
// then extra fields in sorted order.
func (v *VirtualController) respond(rid, status int, msg string, extra map[string]any) []byte {
	var buf bytes.Buffer
	_ = buf.WriteByte('{')
	writeJSONMember(&buf, "rid", rid)
	_ = buf.WriteByte(',')
	writeJSONMember(&buf, "msg", msg)
	_ = buf.WriteByte(',')
	writeJSONMember(&buf, v.statusKey, status)
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		_ = buf.WriteByte(',')
		writeJSONMember(&buf, key, extra[key])
	}
	_ = buf.WriteByte('}')
	_ = buf.WriteByte(0)
	return buf.Bytes()
}

func writeJSONMember(buf *bytes.Buffer, key string, value any) {
	k, err := json.Marshal(key)
	if err != nil {
		panic(err)
	}
	v, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	_, _ = buf.Write(k)
	_ = buf.WriteByte(':')
	_, _ = buf.Write(v)
}

// SetStatusKey changes the key the status is reported under.
func (v *VirtualController) SetStatusKey(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusKey = key
}

// SetVersion sets the firmware version reported by get_version.
func (v *VirtualController) SetVersion(version string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version = version
}

// SetBrightness overwrites the stored brightness of one LED.
func (v *VirtualController) SetBrightness(pcb, led, brightness int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.brightness[chain.Offset(pcb, led)] = brightness
}

// Brightness returns the stored brightness of every LED in chain order.
func (v *VirtualController) Brightness() []chain.Led {
	v.mu.Lock()
	defer v.mu.Unlock()
	leds := chain.Uniform(0)
	for i := range leds {
		leds[i].Brightness = v.brightness[i]
	}
	return leds
}

// CalibrationName returns the stored calibration name.
func (v *VirtualController) CalibrationName() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calibration
}

// ShowRunning reports whether a show was started and not stopped.
func (v *VirtualController) ShowRunning() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.showRunning
}

// CommandCount returns how often a command was received.
func (v *VirtualController) CommandCount(cmd string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.commandCounts[cmd]
}

// Requests returns every complete request received, without terminators.
func (v *VirtualController) Requests() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.requests...)
}

// DropResponses makes the controller silently swallow the next n responses.
func (v *VirtualController) DropResponses(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropResponses = n
}

// CorruptRID makes the next n responses echo a wrong request id.
func (v *VirtualController) CorruptRID(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.corruptRID = n
}

// FloodNext replaces the next response with n bytes that carry no
// terminator.
func (v *VirtualController) FloodNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.floodBytes = n
}

// FailNext makes the next request for cmd answer with status and msg.
func (v *VirtualController) FailNext(cmd string, status int, msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext[cmd] = commandFault{status: status, msg: msg}
}

// Reset discards partial input and restores defaults, as after a reboot.
// Saved calibration survives.
func (v *VirtualController) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rx.Reset()
	v.brightness = v.saved
	v.showRunning = false
	v.dropResponses = 0
	v.corruptRID = 0
	v.floodBytes = 0
	clear(v.failNext)
	v.ota = otaReceiver{faults: v.ota.faults}
}

// DropPartialInput discards bytes of an unterminated request, as when the
// link drops mid-write.
func (v *VirtualController) DropPartialInput() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rx.Reset()
}
