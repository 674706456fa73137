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

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/rs/zerolog"
)

// BrightnessClient is the part of Client the synchronizer needs.
type BrightnessClient interface {
	SetBrightness(ctx context.Context, leds []chain.Led) error
	GetBrightness(ctx context.Context, leds []chain.Led) ([]chain.Led, error)
}

// LedSource provides the brightness the device should hold. *chain.Config
// satisfies it.
type LedSource interface {
	Leds() []chain.Led
	Name() string
}

// Mismatch is one LED whose device brightness differs from the target, or
// that the device did not report at all (Device is then the zero Led).
type Mismatch struct {
	Target chain.Led
	Device chain.Led
}

func (m Mismatch) String() string {
	if m.Device == (chain.Led{}) {
		return fmt.Sprintf("%v: not reported by device", m.Target)
	}
	return fmt.Sprintf("%v: device has %d", m.Target, m.Device.Brightness)
}

// VerifyReport is the outcome of comparing device state to the target.
type VerifyReport struct {
	Mismatches []Mismatch
	Checked    int
}

// OK reports whether every checked LED matched.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

// Synchronizer keeps a mirror of what the device holds and moves the
// difference to the target in chunks of chain.ChunkSize LEDs. The mirror is
// only changed by a fully successful pass; any failed chunk clears it so the
// next upload sends everything.
type Synchronizer struct {
	client BrightnessClient
	source LedSource
	logger zerolog.Logger
	mirror []chain.Led
	mu     syncutil.RWMutex
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithSyncLogger sets the synchronizer's logger.
func WithSyncLogger(logger zerolog.Logger) SyncOption {
	return func(s *Synchronizer) {
		s.logger = logger.With().Str("component", "sync").Logger()
	}
}

// NewSynchronizer creates a synchronizer with an empty mirror.
func NewSynchronizer(client BrightnessClient, source LedSource, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		client: client,
		source: source,
		logger: Logger().With().Str("component", "sync").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSource replaces the target. The mirror is kept.
func (s *Synchronizer) SetSource(source LedSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
}

// Source returns the current target provider.
func (s *Synchronizer) Source() LedSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Mirror returns a copy of what the device is believed to hold.
func (s *Synchronizer) Mirror() []chain.Led {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return chain.Clone(s.mirror)
}

// Reset forgets the device state so the next upload sends every LED.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = nil
}

// Changes returns the target LEDs whose brightness differs from the mirror,
// or the whole target when the mirror is empty. It panics with
// *InvariantViolation if mirror and target disagree on identity.
func (s *Synchronizer) Changes() []chain.Led {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return changes(s.mirror, s.source.Leds())
}

func changes(mirror, target []chain.Led) []chain.Led {
	if len(mirror) == 0 {
		return target
	}
	if len(mirror) != len(target) {
		panic(&InvariantViolation{
			What:   "mirror and target length",
			Detail: fmt.Sprintf("mirror has %d LEDs, target has %d", len(mirror), len(target)),
		})
	}

	var out []chain.Led
	for i, want := range target {
		have := mirror[i]
		if !have.SameIdentity(want) {
			panic(&InvariantViolation{
				What:   "mirror and target identity",
				Detail: fmt.Sprintf("position %d: mirror %v, target %v", i, have, want),
			})
		}
		if have.Brightness != want.Brightness {
			out = append(out, want)
		}
	}
	return out
}

// Upload sends every changed LED with one set_brightness per chunk. Chunks
// go strictly in order and the first failure aborts the pass.
func (s *Synchronizer) Upload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.source.Leds()
	pending := changes(s.mirror, target)
	if len(pending) == 0 {
		s.logger.Debug().Str("config", s.source.Name()).Msg("device already in sync")
		return nil
	}

	s.logger.Info().Int("leds", len(pending)).Str("config", s.source.Name()).Msg("uploading brightness")
	for start := 0; start < len(pending); start += chain.ChunkSize {
		part := pending[start:min(start+chain.ChunkSize, len(pending))]
		if err := s.client.SetBrightness(ctx, part); err != nil {
			s.mirror = nil
			s.logger.Warn().Err(err).Int("offset", start).Msg("upload aborted, device state unknown")
			return fmt.Errorf("upload chunk at %d: %w", start, err)
		}
	}

	s.mirror = chain.Clone(target)
	return nil
}

// Download reads the device's brightness for every target LED and makes
// the mirror exactly what the device reported.
func (s *Synchronizer) Download(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.download(ctx)
}

func (s *Synchronizer) download(ctx context.Context) error {
	target := s.source.Leds()
	reported := make([]chain.Led, 0, len(target))
	for start := 0; start < len(target); start += chain.ChunkSize {
		part := target[start:min(start+chain.ChunkSize, len(target))]
		leds, err := s.client.GetBrightness(ctx, part)
		if err != nil {
			s.mirror = nil
			s.logger.Warn().Err(err).Int("offset", start).Msg("download aborted, device state unknown")
			return fmt.Errorf("download chunk at %d: %w", start, err)
		}
		if err := matchReply(part, leds); err != nil {
			s.mirror = nil
			s.logger.Warn().Err(err).Int("offset", start).Msg("download reply does not match request")
			return fmt.Errorf("download chunk at %d: %w", start, err)
		}
		reported = append(reported, leds...)
	}
	s.mirror = reported
	return nil
}

// matchReply checks that the device answered for exactly the requested
// LEDs, in request order.
func matchReply(requested, reported []chain.Led) error {
	if len(reported) != len(requested) {
		return fmt.Errorf("%w: asked for %d LEDs, device reported %d",
			ErrMalformed, len(requested), len(reported))
	}
	for i, want := range requested {
		if !reported[i].SameIdentity(want) {
			return fmt.Errorf("%w: position %d is PCB %d LED %d, want PCB %d LED %d",
				ErrMalformed, i, reported[i].PCB, reported[i].Index, want.PCB, want.Index)
		}
	}
	return nil
}

// Verify downloads the device state and compares every target LED by
// identity and brightness. All mismatches are collected and logged; the
// error wraps ErrVerifyMismatch when there is at least one.
func (s *Synchronizer) Verify(ctx context.Context) (*VerifyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.download(ctx); err != nil {
		return nil, err
	}

	byIdentity := make(map[[2]int]chain.Led, len(s.mirror))
	for _, led := range s.mirror {
		byIdentity[[2]int{led.PCB, led.Index}] = led
	}

	target := s.source.Leds()
	report := &VerifyReport{Checked: len(target)}
	for _, want := range target {
		have, ok := byIdentity[[2]int{want.PCB, want.Index}]
		if ok && have.Brightness == want.Brightness {
			continue
		}
		m := Mismatch{Target: want}
		if ok {
			m.Device = have
		}
		report.Mismatches = append(report.Mismatches, m)
		s.logger.Warn().Stringer("led", want).Stringer("mismatch", m).Msg("verify mismatch")
	}

	if !report.OK() {
		return report, fmt.Errorf("%w: %d of %d LEDs", ErrVerifyMismatch, len(report.Mismatches), report.Checked)
	}
	s.logger.Info().Int("leds", report.Checked).Msg("device verified")
	return report, nil
}
