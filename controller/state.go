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

package controller

import (
	"fmt"
	"strings"
)

// Flags records what the session has achieved so far. They gate which
// actions a front-end offers.
type Flags uint8

const (
	FlagConnected Flags = 1 << iota
	FlagLoaded
	FlagUploaded
	FlagVerified
	FlagSaved
	FlagShowLoaded
	FlagBusy
)

var flagNames = [...]string{"connected", "loaded", "uploaded", "verified", "saved", "show-loaded", "busy"}

// Has reports whether every flag in want is set.
func (f Flags) Has(want Flags) bool {
	return f&want == want
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for i, name := range flagNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Action is a user-facing operation on the session.
type Action int

const (
	ActionConnect Action = iota
	ActionDisconnect
	ActionInfo
	ActionLoadConfig
	ActionUpload
	ActionVerify
	ActionSave
	ActionDeleteCalibration
	ActionLoadShow
	ActionPlayShow
	ActionStopShow
	ActionUpdateFirmware
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionDisconnect:
		return "disconnect"
	case ActionInfo:
		return "info"
	case ActionLoadConfig:
		return "load-config"
	case ActionUpload:
		return "upload"
	case ActionVerify:
		return "verify"
	case ActionSave:
		return "save"
	case ActionDeleteCalibration:
		return "delete-calibration"
	case ActionLoadShow:
		return "load-show"
	case ActionPlayShow:
		return "play-show"
	case ActionStopShow:
		return "stop-show"
	case ActionUpdateFirmware:
		return "update-firmware"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Allowed reports whether action may run in state f. Nothing runs while
// another action is in progress. Loading files never needs a device.
func Allowed(f Flags, action Action) bool {
	if f.Has(FlagBusy) {
		return false
	}

	switch action {
	case ActionLoadConfig, ActionLoadShow:
		return true
	case ActionConnect:
		return !f.Has(FlagConnected)
	case ActionDisconnect, ActionInfo, ActionStopShow, ActionDeleteCalibration, ActionUpdateFirmware:
		return f.Has(FlagConnected)
	case ActionUpload, ActionVerify:
		return f.Has(FlagConnected | FlagLoaded)
	case ActionSave:
		return f.Has(FlagConnected | FlagLoaded | FlagVerified)
	case ActionPlayShow:
		return f.Has(FlagConnected | FlagShowLoaded)
	default:
		return false
	}
}
