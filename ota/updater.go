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

package ota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/frame"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/rs/zerolog"
)

// State is the phase of a firmware transfer.
type State int32

const (
	StateIdle State = iota
	StateAwaitStartAck
	StateTransferring
	StateAwaitSectorAck
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitStartAck:
		return "await-start-ack"
	case StateTransferring:
		return "transferring"
	case StateAwaitSectorAck:
		return "await-sector-ack"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Progress is reported on every state change and after each acknowledged
// sector.
type Progress struct {
	State      State
	Sector     int
	Total      int
	BytesSent  uint32
	BytesTotal uint32
}

// ProgressCallback receives transfer progress. It runs on the updating
// goroutine and must not block.
type ProgressCallback func(Progress)

// ackQueueSize bounds buffered acks per pipe. The device sends one ack per
// request, so anything beyond a few is stale.
const ackQueueSize = 8

// Updater runs the OTA sector-transfer protocol over a transport. One
// transfer runs at a time.
type Updater struct {
	transport        daisychain.Transport
	progress         ProgressCallback
	cmdAcks          chan frame.CommandAck
	fwAcks           chan frame.FirmwareAck
	logger           zerolog.Logger
	maxStartRetries  int
	maxSectorRetries int
	ackTimeout       time.Duration
	state            atomic.Int32
	mu               syncutil.Mutex
}

// Option configures an Updater.
type Option func(*Updater) error

// WithProgress installs a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(u *Updater) error {
		u.progress = cb
		return nil
	}
}

// WithLogger sets the updater's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(u *Updater) error {
		u.logger = logger.With().Str("component", "ota").Logger()
		return nil
	}
}

// WithMaxStartRetries bounds how often the Start frame is resent.
func WithMaxStartRetries(n int) Option {
	return func(u *Updater) error {
		if n < 0 {
			return fmt.Errorf("max start retries must be non-negative, got %d", n)
		}
		u.maxStartRetries = n
		return nil
	}
}

// WithMaxSectorRetries bounds consecutive sector outcomes without progress.
func WithMaxSectorRetries(n int) Option {
	return func(u *Updater) error {
		if n < 0 {
			return fmt.Errorf("max sector retries must be non-negative, got %d", n)
		}
		u.maxSectorRetries = n
		return nil
	}
}

// WithAckTimeout sets how long to wait for each control or firmware ack.
func WithAckTimeout(timeout time.Duration) Option {
	return func(u *Updater) error {
		if timeout <= 0 {
			return fmt.Errorf("ack timeout must be positive, got %v", timeout)
		}
		u.ackTimeout = timeout
		return nil
	}
}

// New creates an updater.
func New(transport daisychain.Transport, opts ...Option) (*Updater, error) {
	u := &Updater{
		transport:        transport,
		logger:           daisychain.Logger().With().Str("component", "ota").Logger(),
		maxStartRetries:  daisychain.DefaultMaxStartRetries,
		maxSectorRetries: daisychain.DefaultMaxSectorRetries,
		ackTimeout:       daisychain.DefaultOTAAckTimeout,
		cmdAcks:          make(chan frame.CommandAck, ackQueueSize),
		fwAcks:           make(chan frame.FirmwareAck, ackQueueSize),
	}
	for _, opt := range opts {
		if err := opt(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// State returns the current transfer phase.
func (u *Updater) State() State {
	return State(u.state.Load())
}

func (u *Updater) report(p Progress) {
	u.state.Store(int32(p.State))
	if u.progress != nil {
		u.progress(p)
	}
}

func (u *Updater) onCommand(data []byte) {
	ack, err := frame.DecodeCommandAck(data)
	if err != nil {
		u.logger.Debug().Err(err).Hex("frame", data).Msg("ignoring control notification")
		return
	}
	select {
	case u.cmdAcks <- ack:
	default:
		u.logger.Warn().Msg("control ack queue full, dropping ack")
	}
}

func (u *Updater) onFirmware(data []byte) {
	ack, err := frame.DecodeFirmwareAck(data)
	if err != nil {
		u.logger.Debug().Err(err).Hex("frame", data).Msg("ignoring firmware notification")
		return
	}
	select {
	case u.fwAcks <- ack:
	default:
		u.logger.Warn().Msg("firmware ack queue full, dropping ack")
	}
}

// Update transfers img. On failure after the device accepted Start, a Stop
// frame is sent so the device abandons the partial partition write.
func (u *Updater) Update(ctx context.Context, img *Image) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.transport.Subscribe(daisychain.PipeOTACommand, u.onCommand); err != nil {
		return fmt.Errorf("subscribe ota command pipe: %w", err)
	}
	defer func() { _ = u.transport.Subscribe(daisychain.PipeOTACommand, nil) }()
	if err := u.transport.Subscribe(daisychain.PipeOTAFirmware, u.onFirmware); err != nil {
		return fmt.Errorf("subscribe ota firmware pipe: %w", err)
	}
	defer func() { _ = u.transport.Subscribe(daisychain.PipeOTAFirmware, nil) }()

	base := Progress{Total: img.SectorCount(), BytesTotal: img.Size()}
	u.logger.Info().
		Uint32("size", img.Size()).
		Int("sectors", img.SectorCount()).
		Int("chunk", frame.ChunkPayload(u.transport.MTU())).
		Msg("starting firmware update")

	base.State = StateAwaitStartAck
	u.report(base)
	if err := u.start(ctx, img.Size()); err != nil {
		base.State = StateFailed
		u.report(base)
		return err
	}

	if err := u.transfer(ctx, img, base); err != nil {
		u.abort(ctx)
		base.State = StateFailed
		u.report(base)
		return err
	}
	return nil
}

func (u *Updater) start(ctx context.Context, size uint32) error {
	cmd := frame.StartCommand(size)
	for attempt := 0; ; attempt++ {
		if attempt > u.maxStartRetries {
			return fmt.Errorf("%w: start not acknowledged after %d attempts",
				daisychain.ErrRetriesExceeded, attempt)
		}

		drain(u.cmdAcks)
		if err := u.transport.Write(ctx, daisychain.PipeOTACommand, cmd, true); err != nil {
			if !daisychain.IsRetryable(err) {
				return fmt.Errorf("send start: %w", err)
			}
			u.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("start write failed, resending")
			continue
		}

		ack, err := u.awaitCommandAck(ctx, frame.CmdStart)
		switch {
		case errors.Is(err, daisychain.ErrTransportTimeout):
			u.logger.Warn().Int("attempt", attempt+1).Msg("no start ack, resending start")
		case err != nil:
			return err
		case ack.Response == frame.RspCRCError:
			u.logger.Warn().Int("attempt", attempt+1).Msg("start ack crc error, resending start")
		case ack.Response == frame.AckAccepted:
			u.logger.Debug().Msg("start accepted")
			return nil
		case ack.Response == frame.AckRejected:
			return daisychain.ErrStartRejected
		default:
			return fmt.Errorf("%w: start response 0x%04X", daisychain.ErrUnknownAckStatus, ack.Response)
		}
	}
}

func (u *Updater) transfer(ctx context.Context, img *Image, p Progress) error {
	total := img.SectorCount()
	failures := 0
	for idx := 0; ; {
		if failures > u.maxSectorRetries {
			return fmt.Errorf("%w: sector %d failed %d times in a row",
				daisychain.ErrRetriesExceeded, idx, failures)
		}

		p.State = StateTransferring
		p.Sector = idx
		u.report(p)

		sent, err := u.sendSector(ctx, img, idx)
		if err != nil {
			return err
		}
		if !sent {
			failures++
			continue
		}

		p.State = StateAwaitSectorAck
		u.report(p)

		ack, err := u.awaitFirmwareAck(ctx)
		if errors.Is(err, daisychain.ErrTransportTimeout) {
			u.logger.Warn().Int("sector", idx).Msg("no sector ack, resending sector")
			failures++
			continue
		}
		if err != nil {
			return err
		}

		switch ack.Status {
		case frame.FwAckSuccess:
			failures = 0
			p.BytesSent = img.AckedBytes(idx)
			if idx == total-1 {
				p.State = StateComplete
				p.Sector = total
				u.report(p)
				u.logger.Info().Int("sectors", total).Msg("firmware update complete")
				return nil
			}
			idx++
		case frame.FwAckCRCError, frame.RspCRCError:
			u.logger.Warn().Int("sector", idx).Msg("sector crc error, resending sector")
			failures++
		case frame.FwAckLengthError:
			u.logger.Warn().Int("sector", idx).Msg("sector length error, resending sector")
			failures++
		case frame.FwAckSectorError:
			next := int(ack.CurrentSector)
			if next >= total {
				return fmt.Errorf("%w: device asked for sector %d of %d",
					daisychain.ErrSectorOutOfRange, next, total)
			}
			u.logger.Warn().
				Int("sector", idx).
				Int("requested", next).
				Msg("sector error, jumping to requested sector")
			failures++
			idx = next
			p.BytesSent = 0
			if next > 0 {
				p.BytesSent = img.AckedBytes(next - 1)
			}
		default:
			return fmt.Errorf("%w: 0x%04X for sector %d", daisychain.ErrUnknownAckStatus, ack.Status, idx)
		}
	}
}

// sendSector writes every chunk of sector idx. It reports false when a
// retryable write error means the sector must be resent.
func (u *Updater) sendSector(ctx context.Context, img *Image, idx int) (bool, error) {
	packets, err := frame.SectorPackets(img.WireIndex(idx), img.Sector(idx), u.transport.MTU())
	if err != nil {
		return false, fmt.Errorf("sector %d: %w", idx, err)
	}

	drain(u.fwAcks)
	for _, pkt := range packets {
		if err := u.transport.Write(ctx, daisychain.PipeOTAFirmware, pkt, false); err != nil {
			if daisychain.IsRetryable(err) {
				u.logger.Warn().Err(err).Int("sector", idx).Msg("chunk write failed, resending sector")
				return false, nil
			}
			return false, fmt.Errorf("sector %d: %w", idx, err)
		}
	}
	return true, nil
}

func (u *Updater) awaitCommandAck(ctx context.Context, cmd uint16) (frame.CommandAck, error) {
	timer := time.NewTimer(u.ackTimeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-u.cmdAcks:
			if ack.Response != frame.RspCRCError && ack.Command != cmd {
				u.logger.Debug().Uint16("command", ack.Command).Msg("ignoring ack for other command")
				continue
			}
			return ack, nil
		case <-timer.C:
			return frame.CommandAck{}, daisychain.NewTimeoutError("AwaitAck", daisychain.PipeOTACommand)
		case <-ctx.Done():
			return frame.CommandAck{}, fmt.Errorf("await control ack: %w", ctx.Err())
		}
	}
}

func (u *Updater) awaitFirmwareAck(ctx context.Context) (frame.FirmwareAck, error) {
	timer := time.NewTimer(u.ackTimeout)
	defer timer.Stop()
	select {
	case ack := <-u.fwAcks:
		return ack, nil
	case <-timer.C:
		return frame.FirmwareAck{}, daisychain.NewTimeoutError("AwaitAck", daisychain.PipeOTAFirmware)
	case <-ctx.Done():
		return frame.FirmwareAck{}, fmt.Errorf("await firmware ack: %w", ctx.Err())
	}
}

// abort asks the device to drop the partial update. Best effort: the link
// may already be gone.
func (u *Updater) abort(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.ackTimeout)
	defer cancel()

	drain(u.cmdAcks)
	if err := u.transport.Write(stopCtx, daisychain.PipeOTACommand, frame.StopCommand(), true); err != nil {
		u.logger.Warn().Err(err).Msg("could not send stop command")
		return
	}
	if _, err := u.awaitCommandAck(stopCtx, frame.CmdStop); err != nil {
		u.logger.Debug().Err(err).Msg("no stop ack")
		return
	}
	u.logger.Info().Msg("device aborted firmware update")
}

func drain[T any](ch chan T) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
