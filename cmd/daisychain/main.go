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

// Command daisychain calibrates, inspects and updates an LED chain
// controller over BLE or a USB serial bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/controller"
	"github.com/ZaparooProject/go-daisychain/ota"
	"github.com/ZaparooProject/go-daisychain/transport/ble"
	"github.com/ZaparooProject/go-daisychain/transport/serial"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var errUnknownTransport = errors.New("unknown transport")

// options holds the flags shared by every device command.
type options struct {
	transport       string
	device          string
	port            string
	logDir          string
	statusKey       string
	baud            int
	responseTimeout time.Duration
	scanTimeout     time.Duration
	ackTimeout      time.Duration
	retries         int
	debug           bool
}

// app carries what the commands share. transport is swapped in tests.
type app struct {
	transport func(*options) (daisychain.Transport, error)
	opts      options
}

func newApp() *app {
	return &app{transport: newTransport}
}

func newTransport(opts *options) (daisychain.Transport, error) {
	switch opts.transport {
	case "ble":
		return ble.New(ble.WithScanTimeout(opts.scanTimeout)), nil
	case "serial":
		return serial.New(opts.port, serial.WithBaudRate(opts.baud)), nil
	default:
		return nil, fmt.Errorf("%w: %q (want ble or serial)", errUnknownTransport, opts.transport)
	}
}

// connect builds a controller and brings the link up.
func (a *app) connect(ctx context.Context) (*controller.Controller, error) {
	transport, err := a.transport(&a.opts)
	if err != nil {
		return nil, err
	}

	clientOpts := []daisychain.Option{daisychain.WithResponseTimeout(a.opts.responseTimeout)}
	if a.opts.statusKey != "" {
		clientOpts = append(clientOpts, daisychain.WithStatusKey(a.opts.statusKey))
	}
	if a.opts.retries > 1 {
		retry := daisychain.DefaultRetryConfig()
		retry.MaxAttempts = a.opts.retries
		clientOpts = append(clientOpts, daisychain.WithRetry(retry))
	}

	var otaOpts []ota.Option
	if a.opts.ackTimeout > 0 {
		otaOpts = append(otaOpts, ota.WithAckTimeout(a.opts.ackTimeout))
	}

	ctrl, err := controller.New(transport, clientOpts, controller.WithOTAOptions(otaOpts...))
	if err != nil {
		return nil, fmt.Errorf("create controller: %w", err)
	}
	if !ctrl.Flags().Has(controller.FlagConnected) {
		target := a.opts.device
		if transport.Type() == daisychain.TransportSerial {
			target = a.opts.port
		}
		if err := ctrl.Connect(ctx, target); err != nil {
			_ = ctrl.Close()
			return nil, err //nolint:wrapcheck // controller names the target
		}
	}
	return ctrl, nil
}

// withDevice connects, runs fn and always tears the link down.
func (a *app) withDevice(cmd *cobra.Command, fn func(context.Context, *controller.Controller) error) error {
	ctx := cmd.Context()
	ctrl, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Close(); err != nil {
			daisychain.Logger().Debug().Err(err).Msg("close")
		}
	}()
	return fn(ctx, ctrl)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "daisychain",
		Short: "Calibrate and update a daisy-chained LED controller",
		Long: `daisychain talks to the LED chain controller over Bluetooth LE (default)
or a USB serial bridge. It uploads calibration files, checks the device
against them, stores them on the device, runs light shows and updates
the firmware.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if a.opts.debug {
				daisychain.SetDebugEnabled(true)
			}
			if a.opts.logDir != "" {
				path, err := daisychain.InitSessionLog(a.opts.logDir)
				if err != nil {
					return fmt.Errorf("session log: %w", err)
				}
				daisychain.Logger().Info().Str("path", path).Msg("session log opened")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.transport, "transport", "t", "ble", "Link to the controller: ble or serial")
	flags.StringVarP(&a.opts.device, "device", "d", ble.DefaultDeviceName, "BLE device name or address")
	flags.StringVarP(&a.opts.port, "port", "p", "", "Serial port for --transport serial (see 'ports')")
	flags.IntVarP(&a.opts.baud, "baud", "b", serial.DefaultBaudRate, "Serial baud rate")
	flags.DurationVar(&a.opts.responseTimeout, "timeout", daisychain.DefaultResponseTimeout, "Command response timeout")
	flags.DurationVar(&a.opts.scanTimeout, "scan-timeout", ble.DefaultScanTimeout, "How long to look for the BLE device")
	flags.DurationVar(&a.opts.ackTimeout, "ack-timeout", daisychain.DefaultOTAAckTimeout, "Firmware update ack timeout")
	flags.IntVar(&a.opts.retries, "retries", 1, "Attempts per command (rejected commands are never retried)")
	flags.StringVar(&a.opts.statusKey, "status-key", "", "Response status member name used by the firmware")
	flags.StringVar(&a.opts.logDir, "log-dir", "", "Write a debug session log into this directory")
	flags.BoolVar(&a.opts.debug, "debug", false, "Show debug output")

	root.AddCommand(
		newInfoCmd(a),
		newUploadCmd(a),
		newVerifyCmd(a),
		newSyncCmd(a),
		newSaveCmd(a),
		newDeleteCalibrationCmd(a),
		newPlayCmd(a),
		newStopCmd(a),
		newOTACmd(a),
		newSoakCmd(a),
		newPortsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "daisychain %s\n", version)
			_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
			_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:], os.Stdout, os.Stderr))
}

func mainWithExitCode(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			_, _ = fmt.Fprint(stderr, "\nShutting down gracefully...\n")
			cancel()
		case <-ctx.Done():
		}
	}()

	defer func() {
		if err := daisychain.CloseSessionLog(); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
	}()

	root := newRootCmd(newApp())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
