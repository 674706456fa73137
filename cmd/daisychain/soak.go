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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-daisychain"
	"github.com/ZaparooProject/go-daisychain/controller"
	"github.com/ZaparooProject/go-daisychain/pkg/chain"
	"github.com/spf13/cobra"
)

// patternSource is a synthetic calibration the soak test walks the device
// through.
type patternSource struct {
	leds []chain.Led
	name string
}

func newPatternSource(rng *rand.Rand) *patternSource {
	leds := chain.Uniform(0)
	for i := range leds {
		leds[i].Brightness = rng.IntN(chain.MaxBrightness + 1)
	}
	return &patternSource{leds: leds, name: "soak"}
}

func (p *patternSource) Leds() []chain.Led { return chain.Clone(p.leds) }

func (p *patternSource) Name() string { return p.name }

// mutate gives up to n random LEDs a new brightness and returns how many
// actually changed.
func (p *patternSource) mutate(rng *rand.Rand, n int) int {
	changed := 0
	for range n {
		i := rng.IntN(len(p.leds))
		b := rng.IntN(chain.MaxBrightness + 1)
		if p.leds[i].Brightness != b {
			p.leds[i].Brightness = b
			changed++
		}
	}
	return changed
}

type soakConfig struct {
	reportDir  string
	rounds     int
	maxChanged int
	seed       uint64
}

// soakLogEntry is one operation in the soak history.
type soakLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Error     string    `json:"error,omitempty"`
	Changed   int       `json:"changed,omitempty"`
	Success   bool      `json:"success"`
}

// soakReport holds what is needed to reproduce a failed round.
type soakReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Operation    string         `json:"operation"`
	Error        string         `json:"error"`
	Mismatches   []string       `json:"mismatches,omitempty"`
	OperationLog []soakLogEntry `json:"operation_log"`
	Round        int            `json:"round"`
	Seed         uint64         `json:"seed"`
}

type soakResult struct {
	ReportFile string
	Passed     int
	Failed     int
	Duration   time.Duration
}

var errSoakFailed = errors.New("soak round failed")

// runSoak uploads a random pattern, then repeatedly changes part of it,
// uploads the difference and reads the whole chain back. It stops at the
// first failure and writes a JSON report of the run.
func runSoak(ctx context.Context, out io.Writer, client daisychain.BrightnessClient, cfg soakConfig) (*soakResult, error) {
	seed := cfg.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // test patterns
	source := newPatternSource(rng)
	sync := daisychain.NewSynchronizer(client, source)

	result := &soakResult{}
	var history []soakLogEntry
	started := time.Now()
	_, _ = fmt.Fprintf(out, "Soak: %d rounds, seed %d\n", cfg.rounds, seed)

	for round := 1; round <= cfg.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		changed := chain.LEDTotal
		if round > 1 {
			changed = source.mutate(rng, 1+rng.IntN(cfg.maxChanged))
		}

		fail := func(op string, err error, mismatches []string) (*soakResult, error) {
			history = append(history, soakLogEntry{Timestamp: time.Now(), Operation: op, Error: err.Error()})
			result.Failed++
			result.Duration = time.Since(started)
			report := &soakReport{
				Timestamp:    time.Now(),
				Operation:    op,
				Error:        err.Error(),
				Mismatches:   mismatches,
				OperationLog: history,
				Round:        round,
				Seed:         seed,
			}
			path, writeErr := writeSoakReport(cfg.reportDir, report)
			if writeErr != nil {
				_, _ = fmt.Fprintf(out, "Failed to write report: %v\n", writeErr)
			} else {
				result.ReportFile = path
				_, _ = fmt.Fprintf(out, "Report written to %s\n", path)
			}
			_, _ = fmt.Fprintf(out, "round %d: %s failed: %v\n", round, op, err)
			return result, fmt.Errorf("%w: round %d %s: %w", errSoakFailed, round, op, err)
		}

		start := time.Now()
		if err := sync.Upload(ctx); err != nil {
			return fail("upload", err, nil)
		}
		history = append(history, soakLogEntry{
			Timestamp: time.Now(), Operation: "upload", Changed: changed, Success: true,
		})

		report, err := sync.Verify(ctx)
		if err != nil {
			var mismatches []string
			if report != nil {
				for _, m := range report.Mismatches {
					mismatches = append(mismatches, m.String())
				}
			}
			return fail("verify", err, mismatches)
		}
		history = append(history, soakLogEntry{Timestamp: time.Now(), Operation: "verify", Success: true})

		result.Passed++
		_, _ = fmt.Fprintf(out, "round %d: %d LEDs changed, ok in %v\n",
			round, changed, time.Since(start).Round(time.Millisecond))
	}

	result.Duration = time.Since(started)
	_, _ = fmt.Fprintf(out, "Soak passed: %d rounds in %v\n", result.Passed, result.Duration.Round(time.Millisecond))
	return result, nil
}

func writeSoakReport(dir string, report *soakReport) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	name := fmt.Sprintf("soak-%s-round%d.json", report.Timestamp.Format("20060102-150405"), report.Round)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func newSoakCmd(a *app) *cobra.Command {
	cfg := soakConfig{}
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Stress the link with random brightness patterns",
		Long: `soak overwrites the device's brightness values with random patterns,
uploading only the changed LEDs each round and reading the whole chain back.
The stored calibration is not touched, but the live values are lost; upload
a calibration afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.rounds < 1 || cfg.maxChanged < 1 {
				return errors.New("rounds and max-changed must be positive")
			}
			return a.withDevice(cmd, func(ctx context.Context, ctrl *controller.Controller) error {
				_, err := runSoak(ctx, cmd.OutOrStdout(), ctrl.Client(), cfg)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&cfg.rounds, "rounds", 20, "Rounds to run")
	cmd.Flags().IntVar(&cfg.maxChanged, "max-changed", 2*chain.ChunkSize, "Most LEDs changed per round")
	cmd.Flags().Uint64Var(&cfg.seed, "seed", 0, "Pattern seed (0 picks one)")
	cmd.Flags().StringVar(&cfg.reportDir, "report-dir", ".", "Where failure reports are written")
	return cmd
}
