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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowed(t *testing.T) {
	t.Parallel()

	connected := FlagConnected
	loaded := FlagConnected | FlagLoaded
	verified := loaded | FlagUploaded | FlagVerified

	tests := []struct {
		name   string
		flags  Flags
		action Action
		want   bool
	}{
		{name: "load config offline", flags: 0, action: ActionLoadConfig, want: true},
		{name: "load show offline", flags: 0, action: ActionLoadShow, want: true},
		{name: "connect offline", flags: 0, action: ActionConnect, want: true},
		{name: "connect twice", flags: connected, action: ActionConnect, want: false},
		{name: "info offline", flags: FlagLoaded, action: ActionInfo, want: false},
		{name: "info connected", flags: connected, action: ActionInfo, want: true},
		{name: "upload without config", flags: connected, action: ActionUpload, want: false},
		{name: "upload offline", flags: FlagLoaded, action: ActionUpload, want: false},
		{name: "upload", flags: loaded, action: ActionUpload, want: true},
		{name: "verify", flags: loaded, action: ActionVerify, want: true},
		{name: "save unverified", flags: loaded | FlagUploaded, action: ActionSave, want: false},
		{name: "save verified", flags: verified, action: ActionSave, want: true},
		{name: "play without show", flags: connected, action: ActionPlayShow, want: false},
		{name: "play", flags: connected | FlagShowLoaded, action: ActionPlayShow, want: true},
		{name: "stop show", flags: connected, action: ActionStopShow, want: true},
		{name: "firmware", flags: connected, action: ActionUpdateFirmware, want: true},
		{name: "delete offline", flags: 0, action: ActionDeleteCalibration, want: false},
		{name: "busy blocks everything", flags: verified | FlagBusy, action: ActionLoadConfig, want: false},
		{name: "unknown action", flags: verified, action: Action(99), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Allowed(tt.flags, tt.action))
		})
	}
}

func TestFlags_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", Flags(0).String())
	assert.Equal(t, "connected|verified", (FlagConnected | FlagVerified).String())
	assert.Equal(t, "show-loaded|busy", (FlagShowLoaded | FlagBusy).String())
	assert.True(t, (FlagConnected | FlagLoaded).Has(FlagLoaded))
	assert.False(t, FlagConnected.Has(FlagConnected|FlagLoaded))
}

func TestAction_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "update-firmware", ActionUpdateFirmware.String())
	assert.Equal(t, "Action(42)", Action(42).String())
}
