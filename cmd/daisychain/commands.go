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

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/go-daisychain/controller"
	"github.com/ZaparooProject/go-daisychain/ota"
	"github.com/ZaparooProject/go-daisychain/transport/serial"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// maxListedMismatches bounds how many differing LEDs verify prints.
const maxListedMismatches = 20

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show firmware version and stored calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				info, err := ctrl.Info(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Firmware:    %s\n", info.Version)
				_, _ = fmt.Fprintf(out, "Calibration: %s\n", info.CalibrationName)
				return nil
			})
		},
	}
}

// loadConfig reads a calibration file into ctrl and prints its load estimate.
func loadConfig(out io.Writer, ctrl *controller.Controller, path string) error {
	if _, err := ctrl.LoadConfig(path); err != nil {
		return err
	}
	cfg := ctrl.Config()
	_, _ = fmt.Fprintf(out, "Config %q: %d LEDs\n", cfg.Name(), len(cfg.Leds()))
	stats, err := cfg.Stats()
	if err != nil {
		return nil //nolint:nilerr // stats are informational
	}
	for _, c := range stats.Chains {
		_, _ = fmt.Fprintf(out, "  %s\n", c)
	}
	_, _ = fmt.Fprintf(out, "  total %d mA (incl. %d%% margin)\n", stats.TotalCurrentMA, stats.MarginPercent)
	return nil
}

func upload(ctx context.Context, out io.Writer, ctrl *controller.Controller) error {
	pending := len(ctrl.Synchronizer().Changes())
	start := time.Now()
	if err := ctrl.Upload(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Uploaded %d LEDs in %v\n", pending, time.Since(start).Round(time.Millisecond))
	return nil
}

func verify(ctx context.Context, out io.Writer, ctrl *controller.Controller) error {
	report, err := ctrl.Verify(ctx)
	if report == nil {
		return err
	}
	if report.OK() {
		_, _ = fmt.Fprintf(out, "Verified %d LEDs\n", report.Checked)
		return err
	}
	_, _ = fmt.Fprintf(out, "%d of %d LEDs differ:\n", len(report.Mismatches), report.Checked)
	for i, m := range report.Mismatches {
		if i == maxListedMismatches {
			_, _ = fmt.Fprintf(out, "  ... and %d more\n", len(report.Mismatches)-i)
			break
		}
		_, _ = fmt.Fprintf(out, "  %s\n", m)
	}
	return err
}

func newUploadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <config.json>",
		Short: "Send a calibration file's brightness values to the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				out := cmd.OutOrStdout()
				if err := loadConfig(out, ctrl, args[0]); err != nil {
					return err
				}
				return upload(ctx, out, ctrl)
			})
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <config.json>",
		Short: "Compare the device's brightness values with a calibration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				out := cmd.OutOrStdout()
				if err := loadConfig(out, ctrl, args[0]); err != nil {
					return err
				}
				return verify(ctx, out, ctrl)
			})
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "sync <config.json>",
		Short: "Upload a calibration file, verify it and optionally store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				out := cmd.OutOrStdout()
				if err := loadConfig(out, ctrl, args[0]); err != nil {
					return err
				}
				if err := upload(ctx, out, ctrl); err != nil {
					return err
				}
				if err := verify(ctx, out, ctrl); err != nil {
					return err
				}
				if !save {
					return nil
				}
				return saveCalibration(ctx, out, ctrl)
			})
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "Store the calibration on the device after it verifies")
	return cmd
}

func saveCalibration(ctx context.Context, out io.Writer, ctrl *controller.Controller) error {
	if err := ctrl.Save(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Saved calibration %q\n", ctrl.Config().Name())
	return nil
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <config.json>",
		Short: "Store the device's current values as the named calibration",
		Long: `save checks that the device holds exactly the values of the calibration
file and then stores them on the device under the file's name. Nothing is
stored when the device differs; run 'sync --save' to upload first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				out := cmd.OutOrStdout()
				if err := loadConfig(out, ctrl, args[0]); err != nil {
					return err
				}
				if err := verify(ctx, out, ctrl); err != nil {
					return err
				}
				return saveCalibration(ctx, out, ctrl)
			})
		},
	}
}

func newDeleteCalibrationCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-calibration",
		Short: "Erase the calibration stored on the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				if err := ctrl.DeleteCalibration(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Calibration deleted")
				return nil
			})
		},
	}
}

func newPlayCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "play <show.json>",
		Short: "Start a light show",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				if err := ctrl.LoadShow(args[0]); err != nil {
					return err
				}
				if err := ctrl.PlayShow(ctx, force); err != nil {
					return err
				}
				show := ctrl.Show()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Playing %q (%d steps)\n", show.Name, len(show.Sequence))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace a show that is already running")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running light show",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				if err := ctrl.StopShow(ctx); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Show stopped")
				return nil
			})
		},
	}
}

func newOTACmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ota <firmware.bin>",
		Short: "Update the controller firmware over the air",
		Long: `ota streams a firmware image to the controller in 4 KiB sectors. The
device checks every sector and can ask for any of them again; the tool
follows those requests until the device confirms the whole image. The
controller reboots into the new firmware afterwards. Needs the BLE link.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				var bar *progressbar.ProgressBar
				err := ctrl.UpdateFirmware(ctx, args[0], func(p ota.Progress) {
					if bar == nil {
						bar = newProgressBar(cmd.ErrOrStderr(), int64(p.BytesTotal))
					}
					_ = bar.Set64(int64(p.BytesSent))
				})
				if bar != nil {
					_ = bar.Finish()
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Firmware updated, device is rebooting")
				return nil
			})
		},
	}
}

func newProgressBar(w io.Writer, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Updating"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func newPortsCmd() *cobra.Command {
	var opts serial.ListOptions
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a USB bridge could be on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := serial.ListPorts(&opts)
			if err != nil {
				return err //nolint:wrapcheck // already descriptive
			}
			out := cmd.OutOrStdout()
			if len(ports) == 0 {
				_, _ = fmt.Fprintln(out, "No serial ports found")
				return nil
			}
			for _, p := range ports {
				if p.USB {
					_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", p.Name, p.VIDPID, p.Product)
					continue
				}
				_, _ = fmt.Fprintln(out, p.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.USBOnly, "usb-only", false, "Only list USB serial adapters")
	cmd.Flags().StringSliceVar(&opts.Blocklist, "block", nil, "VID:PID pairs to hide")
	cmd.Flags().StringSliceVar(&opts.IgnorePaths, "ignore", nil, "Port paths to hide")
	return cmd
}
