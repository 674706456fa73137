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

package daisychain

import "fmt"

// DeviceInfo is what the controller reports about itself.
type DeviceInfo struct {
	Version         string
	CalibrationName string
}

func (i DeviceInfo) String() string {
	name := i.CalibrationName
	if name == "" {
		name = "(none)"
	}
	return fmt.Sprintf("firmware %s, calibration %s", i.Version, name)
}
