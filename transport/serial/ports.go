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

package serial

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	goserial "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port the host can open.
type PortInfo struct {
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
	USB          bool
}

// ListOptions filters the result of ListPorts.
type ListOptions struct {
	// Blocklist holds VID:PID pairs (hex, any case) that are never listed
	Blocklist []string
	// IgnorePaths holds port paths that are never listed
	IgnorePaths []string
	// USBOnly drops built-in UARTs, which never carry a bridge
	USBOnly bool
}

// ListPorts enumerates serial ports sorted by name. When detailed USB
// enumeration is unavailable it falls back to bare port names.
func ListPorts(opts *ListOptions) ([]PortInfo, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	ports, err := detailedPorts()
	if err != nil {
		names, listErr := goserial.GetPortsList()
		if listErr != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", listErr)
		}
		ports = make([]PortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, PortInfo{Name: name})
		}
	}

	return filterPorts(ports, opts), nil
}

func detailedPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("detailed port list: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			USB:          d.IsUSB,
		}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		ports = append(ports, info)
	}
	return ports, nil
}

func filterPorts(ports []PortInfo, opts *ListOptions) []PortInfo {
	filtered := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		if opts.USBOnly && !p.USB {
			continue
		}
		if p.VIDPID != "" && isBlocked(p.VIDPID, opts.Blocklist) {
			continue
		}
		if isPathIgnored(p.Name, opts.IgnorePaths) {
			continue
		}
		filtered = append(filtered, p)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Name < filtered[j].Name })
	return filtered
}

func isBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, blocked := range blocklist {
		if strings.ToUpper(strings.TrimSpace(blocked)) == vidpid {
			return true
		}
	}
	return false
}

// isPathIgnored compares cleaned paths case-insensitively so Windows COM
// names match however they were typed.
func isPathIgnored(path string, ignore []string) bool {
	if path == "" {
		return false
	}
	want := strings.ToLower(filepath.Clean(path))
	for _, p := range ignore {
		if p != "" && strings.ToLower(filepath.Clean(p)) == want {
			return true
		}
	}
	return false
}
