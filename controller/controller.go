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

// Package controller is the session object a front-end drives: it owns the
// transport, the command client, the brightness synchronizer and the
// firmware updater, and tracks which actions the current state allows.
//
// A Controller is safe for concurrent use but runs one action at a time;
// a second action submitted while one is running fails with
// daisychain.ErrNotAllowed. Use an Actor to run actions off a UI goroutine.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/ZaparooProject/go-daisychain/ota"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/rs/zerolog"
)

// Controller is one session with one device.
type Controller struct {
	transport daisychain.Transport
	client    *daisychain.Client
	sync      *daisychain.Synchronizer
	config    *chain.Config
	show      *chain.Show
	recoverer Recoverer
	reconnect *daisychain.RetryConfig
	base      zerolog.Logger
	logger    zerolog.Logger
	target    string
	otaOpts   []ota.Option
	flags     atomic.Uint32
	mu        syncutil.Mutex
}

// Option configures a Controller.
type Option func(*Controller) error

// WithLogger sets the controller's logger. The client, synchronizer and
// updater log through it with their own component names.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) error {
		c.logger = logger
		return nil
	}
}

// WithReconnectConfig sets how Reconnect paces its attempts.
func WithReconnectConfig(config *daisychain.RetryConfig) Option {
	return func(c *Controller) error {
		if config == nil {
			return errors.New("reconnect config must not be nil")
		}
		c.reconnect = config
		return nil
	}
}

// WithRecoverer replaces the default probe-then-reconnect recovery.
func WithRecoverer(r Recoverer) Option {
	return func(c *Controller) error {
		c.recoverer = r
		return nil
	}
}

// WithOTAOptions passes options to every firmware updater the controller
// creates.
func WithOTAOptions(opts ...ota.Option) Option {
	return func(c *Controller) error {
		c.otaOpts = append(c.otaOpts, opts...)
		return nil
	}
}

// New creates a controller over transport. clientOpts configure the command
// client; opts configure the controller itself.
func New(transport daisychain.Transport, clientOpts []daisychain.Option, opts ...Option) (*Controller, error) {
	c := &Controller{
		transport: transport,
		config:    &chain.Config{},
		reconnect: daisychain.ConnectionRetryConfig(),
		logger:    daisychain.Logger(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.base = c.logger
	clientOpts = append([]daisychain.Option{daisychain.WithLogger(c.base)}, clientOpts...)
	client, err := daisychain.NewClient(transport, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	c.client = client
	c.sync = daisychain.NewSynchronizer(client, c.config, daisychain.WithSyncLogger(c.base))
	c.logger = c.logger.With().Str("component", "controller").Logger()

	if c.recoverer == nil {
		c.recoverer = NewTieredRecoverer(c.probe, c.relink, c.reconnect)
	}
	if transport.IsConnected() {
		c.set(FlagConnected)
	}
	return c, nil
}

// Close releases the client subscription and disconnects.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.client.Close()
	c.clear(FlagConnected)
	if err := c.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Flags returns the current session state.
func (c *Controller) Flags() Flags {
	return Flags(c.flags.Load())
}

// Allowed reports whether action may run now.
func (c *Controller) Allowed(action Action) bool {
	return Allowed(c.Flags(), action)
}

// Client returns the command client.
func (c *Controller) Client() *daisychain.Client { return c.client }

// Synchronizer returns the brightness synchronizer.
func (c *Controller) Synchronizer() *daisychain.Synchronizer { return c.sync }

// Config returns the loaded configuration, nil before LoadConfig succeeds.
func (c *Controller) Config() *chain.Config {
	if !c.Flags().Has(FlagLoaded) {
		return nil
	}
	return c.config
}

// Show returns the loaded show, nil before LoadShow succeeds.
func (c *Controller) Show() *chain.Show {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.show
}

func (c *Controller) set(f Flags) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (c *Controller) clear(f Flags) {
	for {
		old := c.flags.Load()
		if c.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

func (c *Controller) setTo(f Flags, on bool) {
	if on {
		c.set(f)
		return
	}
	c.clear(f)
}

// begin marks the session busy if action is allowed. The caller must call
// the returned function when done.
func (c *Controller) begin(action Action) (func(), error) {
	for {
		old := c.flags.Load()
		if !Allowed(Flags(old), action) {
			return nil, fmt.Errorf("%w: %s in state %s", daisychain.ErrNotAllowed, action, Flags(old))
		}
		if c.flags.CompareAndSwap(old, old|uint32(FlagBusy)) {
			break
		}
	}
	c.mu.Lock()
	c.logger.Debug().Stringer("action", action).Msg("action started")
	return func() {
		c.mu.Unlock()
		c.clear(FlagBusy)
	}, nil
}

// forgetDevice drops everything known about device-side state.
func (c *Controller) forgetDevice() {
	c.sync.Reset()
	c.clear(FlagUploaded | FlagVerified | FlagSaved)
}

// Connect opens the link to the named device.
func (c *Controller) Connect(ctx context.Context, target string) error {
	done, err := c.begin(ActionConnect)
	if err != nil {
		return err
	}
	defer done()

	if err := c.transport.Connect(ctx, target); err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	c.target = target
	c.forgetDevice()
	c.set(FlagConnected)
	c.logger.Info().Str("target", target).Str("transport", string(c.transport.Type())).Msg("connected")
	return nil
}

// Disconnect closes the link. Loaded files are kept.
func (c *Controller) Disconnect() error {
	done, err := c.begin(ActionDisconnect)
	if err != nil {
		return err
	}
	defer done()

	c.clear(FlagConnected)
	if err := c.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	c.logger.Info().Msg("disconnected")
	return nil
}

// Info reads the firmware version and calibration name.
func (c *Controller) Info(ctx context.Context) (daisychain.DeviceInfo, error) {
	done, err := c.begin(ActionInfo)
	if err != nil {
		return daisychain.DeviceInfo{}, err
	}
	defer done()

	info, err := c.client.Info(ctx)
	if err != nil {
		return daisychain.DeviceInfo{}, c.fail(err)
	}
	c.logger.Info().Stringer("info", info).Msg("device info")
	return info, nil
}

// LoadConfig reads a calibration file and returns how many LED values
// differ from the previously loaded one. The device mirror survives a
// reload as long as the LED identities stay the same. Upload and verify
// state is reset either way.
func (c *Controller) LoadConfig(path string) (int, error) {
	done, err := c.begin(ActionLoadConfig)
	if err != nil {
		return 0, err
	}
	defer done()

	c.clear(FlagUploaded | FlagVerified)
	before := c.config.Leds()
	changed, err := c.config.Load(path)
	if err != nil {
		c.clear(FlagLoaded)
		return 0, fmt.Errorf("load config: %w", err)
	}
	if !sameIdentities(before, c.config.Leds()) {
		c.sync.Reset()
	}
	c.set(FlagLoaded)

	stats, err := c.config.Stats()
	if err == nil {
		c.logger.Info().
			Str("name", c.config.Name()).
			Int("changed", changed).
			Int("current_ma", stats.TotalCurrentMA).
			Msg("config loaded")
	}
	return changed, nil
}

func sameIdentities(a, b []chain.Led) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].SameIdentity(b[i]) {
			return false
		}
	}
	return true
}

// Upload sends the LEDs whose brightness differs from the device mirror.
func (c *Controller) Upload(ctx context.Context) error {
	done, err := c.begin(ActionUpload)
	if err != nil {
		return err
	}
	defer done()

	c.clear(FlagVerified | FlagSaved)
	err = c.sync.Upload(ctx)
	c.setTo(FlagUploaded, err == nil)
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// Verify reads back every LED and compares it with the configuration.
func (c *Controller) Verify(ctx context.Context) (*daisychain.VerifyReport, error) {
	done, err := c.begin(ActionVerify)
	if err != nil {
		return nil, err
	}
	defer done()

	report, err := c.sync.Verify(ctx)
	c.setTo(FlagVerified, err == nil)
	if err != nil {
		return report, c.fail(err)
	}
	return report, nil
}

// Save stores the verified brightness values on the device under the
// configuration's name.
func (c *Controller) Save(ctx context.Context) error {
	done, err := c.begin(ActionSave)
	if err != nil {
		return err
	}
	defer done()

	err = c.client.SaveCalibration(ctx, c.config.Name())
	c.setTo(FlagSaved, err == nil)
	if err != nil {
		return c.fail(err)
	}
	c.logger.Info().Str("name", c.config.Name()).Msg("calibration saved")
	return nil
}

// DeleteCalibration restores the device defaults.
func (c *Controller) DeleteCalibration(ctx context.Context) error {
	done, err := c.begin(ActionDeleteCalibration)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.DeleteCalibration(ctx); err != nil {
		return c.fail(err)
	}
	c.forgetDevice()
	return nil
}

// LoadShow reads and validates a show file.
func (c *Controller) LoadShow(path string) error {
	done, err := c.begin(ActionLoadShow)
	if err != nil {
		return err
	}
	defer done()

	show, err := chain.LoadShow(path)
	if err != nil {
		c.clear(FlagShowLoaded)
		c.show = nil
		return fmt.Errorf("load show: %w", err)
	}
	c.show = show
	c.set(FlagShowLoaded)
	c.logger.Info().Str("name", show.Name).Int("groups", len(show.Groups)).Msg("show loaded")
	return nil
}

// PlayShow starts the loaded show. force replaces a show already running.
func (c *Controller) PlayShow(ctx context.Context, force bool) error {
	done, err := c.begin(ActionPlayShow)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.PlayShow(ctx, c.show, force); err != nil {
		return c.fail(err)
	}
	return nil
}

// StopShow stops any running show.
func (c *Controller) StopShow(ctx context.Context) error {
	done, err := c.begin(ActionStopShow)
	if err != nil {
		return err
	}
	defer done()

	if err := c.client.StopShow(ctx); err != nil {
		return c.fail(err)
	}
	return nil
}

// UpdateFirmware pushes the image at path to the device. The device
// reboots into the new firmware, so all device-side state is forgotten.
func (c *Controller) UpdateFirmware(ctx context.Context, path string, progress ota.ProgressCallback) error {
	done, err := c.begin(ActionUpdateFirmware)
	if err != nil {
		return err
	}
	defer done()

	img, err := ota.ReadImageFile(path)
	if err != nil {
		return err //nolint:wrapcheck // already describes the file
	}

	opts := append([]ota.Option{ota.WithLogger(c.base)}, c.otaOpts...)
	if progress != nil {
		opts = append(opts, ota.WithProgress(progress))
	}
	updater, err := ota.New(c.transport, opts...)
	if err != nil {
		return fmt.Errorf("create updater: %w", err)
	}

	err = updater.Update(ctx, img)
	c.forgetDevice()
	if err != nil {
		return fmt.Errorf("firmware update: %w", err)
	}
	return nil
}

// Reconnect restores a link that stopped answering. When the link had to
// be rebuilt the device mirror is cleared, since the device may have
// rebooted.
func (c *Controller) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recover(ctx)
}

func (c *Controller) recover(ctx context.Context) error {
	reconnected, err := c.recoverer.AttemptRecovery(ctx)
	if reconnected {
		c.forgetDevice()
	}
	if err != nil {
		c.clear(FlagConnected)
		c.logger.Error().Err(err).Msg("device recovery failed")
		return fmt.Errorf("recover device: %w", err)
	}
	c.set(FlagConnected)
	c.logger.Info().Bool("reconnected", reconnected).Msg("device recovered")
	return nil
}

// fail marks the link as lost when err says the device is gone. Callers hold
// c.mu.
func (c *Controller) fail(err error) error {
	if daisychain.IsFatal(err) {
		c.clear(FlagConnected)
		c.forgetDevice()
		c.logger.Warn().Err(err).Msg("link lost")
	}
	return err
}

func (c *Controller) probe(ctx context.Context) error {
	_, err := c.client.GetVersion(ctx)
	return err //nolint:wrapcheck // reported by the recoverer
}

func (c *Controller) relink(ctx context.Context) error {
	_ = c.transport.Disconnect()
	if err := c.transport.Connect(ctx, c.target); err != nil {
		return fmt.Errorf("reconnect %s: %w", c.target, err)
	}
	return nil
}
