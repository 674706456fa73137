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

package controller_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	daisychain "github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/controller"
	simtest "github.com/ZaparooProject/go-daisychain/internal/testing"
	"github.com/ZaparooProject/go-daisychain/ota"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const showFile = "../pkg/chain/testdata/show.json"

// writeConfig writes a calibration file whose LED i has brightness(i).
func writeConfig(t *testing.T, path, name string, brightness func(i int) int) {
	t.Helper()
	leds := make([]map[string]any, chain.LEDTotal)
	for i := range leds {
		pcb, led := chain.Position(i)
		leds[i] = map[string]any{"pcb_idx": pcb, "led_idx": led, "group": "base", "correction": brightness(i)}
	}
	data, err := json.Marshal(map[string]any{"name": name, "groups": map[string]int{"base": 0}, "leds": leds})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func newController(t *testing.T, opts ...controller.Option) (*controller.Controller, *simtest.VirtualController, *simtest.SimulatorTransport) {
	t.Helper()
	sim := simtest.NewVirtualController()
	transport := simtest.NewSimulatorTransport(sim)
	opts = append([]controller.Option{
		controller.WithReconnectConfig(&daisychain.RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        2 * time.Millisecond,
			BackoffMultiplier: 2,
		}),
		controller.WithOTAOptions(ota.WithAckTimeout(50 * time.Millisecond)),
	}, opts...)
	c, err := controller.New(transport,
		[]daisychain.Option{daisychain.WithResponseTimeout(50 * time.Millisecond)}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, sim, transport
}

func TestController_CalibrationWorkflow(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "stage", func(i int) int { return i % 90 })

	assert.True(t, c.Flags().Has(controller.FlagConnected))
	require.ErrorIs(t, c.Upload(ctx), daisychain.ErrNotAllowed)

	changed, err := c.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, chain.LEDTotal, changed)
	require.ErrorIs(t, c.Save(ctx), daisychain.ErrNotAllowed)

	require.NoError(t, c.Upload(ctx))
	assert.True(t, c.Flags().Has(controller.FlagUploaded))
	assert.Equal(t, c.Config().Leds(), sim.Brightness())

	report, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())

	require.NoError(t, c.Save(ctx))
	assert.Equal(t, "stage", sim.CalibrationName())
	assert.True(t, c.Flags().Has(controller.FlagUploaded|controller.FlagVerified|controller.FlagSaved))
	assert.False(t, c.Flags().Has(controller.FlagBusy))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stage", info.CalibrationName)
}

func TestController_ReloadKeepsMirror(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "stage", func(int) int { return 40 })

	_, err := c.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx))
	_, err = c.Verify(ctx)
	require.NoError(t, err)
	uploads := sim.CommandCount("set_brightness")

	// Only the first PCB changes.
	writeConfig(t, path, "stage", func(i int) int {
		if i < chain.LEDCount {
			return 70
		}
		return 40
	})
	changed, err := c.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, chain.LEDCount, changed)
	assert.False(t, c.Flags().Has(controller.FlagUploaded))
	assert.False(t, c.Flags().Has(controller.FlagVerified))
	assert.Len(t, c.Synchronizer().Mirror(), chain.LEDTotal)

	require.NoError(t, c.Upload(ctx))
	assert.Equal(t, uploads+1, sim.CommandCount("set_brightness"))
	assert.Equal(t, 70, sim.Brightness()[0].Brightness)
}

func TestController_LoadConfigFailure(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"name":"x"}`), 0o600))

	_, err := c.LoadConfig(bad)
	require.ErrorIs(t, err, chain.ErrInvalidConfig)
	assert.False(t, c.Flags().Has(controller.FlagLoaded))
	assert.Nil(t, c.Config())
}

func TestController_DeleteCalibrationForgetsDevice(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "stage", func(int) int { return 10 })

	_, err := c.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx))
	require.NoError(t, c.DeleteCalibration(ctx))

	assert.Empty(t, c.Synchronizer().Mirror())
	assert.False(t, c.Flags().Has(controller.FlagUploaded))
	assert.Equal(t, simtest.DefaultCalibrationName, sim.CalibrationName())
	assert.Equal(t, simtest.DefaultBrightness, sim.Brightness()[0].Brightness)
}

func TestController_Shows(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()

	require.ErrorIs(t, c.PlayShow(ctx, false), daisychain.ErrNotAllowed)
	require.Error(t, c.LoadShow(filepath.Join(t.TempDir(), "missing.json")))
	assert.Nil(t, c.Show())

	require.NoError(t, c.LoadShow(showFile))
	require.NotNil(t, c.Show())
	require.NoError(t, c.PlayShow(ctx, false))
	assert.True(t, sim.ShowRunning())
	require.NoError(t, c.StopShow(ctx))
	assert.False(t, sim.ShowRunning())
}

func TestController_DisconnectAndConnect(t *testing.T) {
	t.Parallel()

	c, _, transport := newController(t)
	ctx := context.Background()

	require.ErrorIs(t, c.Connect(ctx, "again"), daisychain.ErrNotAllowed)
	require.NoError(t, c.Disconnect())
	assert.False(t, transport.IsConnected())

	_, err := c.Info(ctx)
	require.ErrorIs(t, err, daisychain.ErrNotAllowed)

	require.NoError(t, c.Connect(ctx, "Sternenhimmel"))
	assert.True(t, c.Flags().Has(controller.FlagConnected))
	_, err = c.Info(ctx)
	require.NoError(t, err)
}

func TestController_FatalErrorDropsConnection(t *testing.T) {
	t.Parallel()

	c, _, transport := newController(t)
	transport.SetWriteError(daisychain.PipeCommand, daisychain.NewNotConnectedError("Write", daisychain.PipeCommand))

	_, err := c.Info(context.Background())
	require.ErrorIs(t, err, daisychain.ErrNotConnected)
	assert.False(t, c.Flags().Has(controller.FlagConnected))
}

func TestController_OversizedReplyKeepsConnection(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()

	sim.FloodNext(daisychain.MaxResponseSize + 1)
	_, err := c.Info(ctx)
	require.ErrorIs(t, err, daisychain.ErrMalformed)
	assert.ErrorIs(t, err, daisychain.ErrFrameOverflow)
	assert.True(t, c.Flags().Has(controller.FlagConnected))

	_, err = c.Info(ctx)
	require.NoError(t, err)
}

func TestController_UpdateFirmware(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()

	data := make([]byte, 9000)
	for i := range data {
		data[i] = byte(i * 31)
	}
	path := filepath.Join(t.TempDir(), "firmware.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	var last ota.Progress
	require.NoError(t, c.UpdateFirmware(ctx, path, func(p ota.Progress) { last = p }))
	assert.True(t, sim.OTAComplete())
	assert.Equal(t, data, sim.OTAImage())
	assert.Equal(t, ota.StateComplete, last.State)

	require.Error(t, c.UpdateFirmware(ctx, filepath.Join(t.TempDir(), "missing.bin"), nil))
}

func TestController_ReconnectAfterStall(t *testing.T) {
	t.Parallel()

	c, sim, _ := newController(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "stage", func(int) int { return 20 })
	_, err := c.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx))

	// The first probe goes unanswered, so the link is rebuilt.
	sim.DropResponses(1)
	require.NoError(t, c.Reconnect(ctx))
	assert.True(t, c.Flags().Has(controller.FlagConnected))
	assert.Empty(t, c.Synchronizer().Mirror())
	assert.False(t, c.Flags().Has(controller.FlagUploaded))
}

func TestController_ReconnectHealthyLinkKeepsMirror(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config.json")
	writeConfig(t, path, "stage", func(int) int { return 20 })
	_, err := c.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, c.Upload(ctx))

	require.NoError(t, c.Reconnect(ctx))
	assert.Len(t, c.Synchronizer().Mirror(), chain.LEDTotal)
	assert.True(t, c.Flags().Has(controller.FlagUploaded))
}

func TestController_ActorRunsActions(t *testing.T) {
	t.Parallel()

	c, _, _ := newController(t)
	actor := controller.NewActor(4)
	require.NoError(t, actor.Start(context.Background()))
	defer func() { _ = actor.Stop(context.Background()) }()

	require.NoError(t, actor.Submit(controller.ActionInfo.String(), func(ctx context.Context) error {
		_, err := c.Info(ctx)
		return err
	}))
	require.NoError(t, actor.Submit(controller.ActionUpload.String(), c.Upload))

	select {
	case r := <-actor.Results():
		assert.Equal(t, "info", r.Name)
		require.NoError(t, r.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
	select {
	case r := <-actor.Results():
		assert.Equal(t, "upload", r.Name)
		require.ErrorIs(t, r.Err, daisychain.ErrNotAllowed)
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
}
