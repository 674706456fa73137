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
	"io"
	"os"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/rs/zerolog"
)

// Logging is a package-level zerolog logger shared by every component. Debug
// events always reach the session log file when one is open; the console only
// shows them when debug mode is on (DAISYCHAIN_DEBUG or DEBUG set, or
// SetDebugEnabled(true)).
var (
	logMu        syncutil.RWMutex
	logger       zerolog.Logger
	override     *zerolog.Logger
	consoleOut   io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	debugEnabled bool
)

func init() {
	if os.Getenv("DAISYCHAIN_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// levelFilter drops events below a minimum level for one writer of a
// multi-writer, so the console and the session file can disagree on verbosity.
type levelFilter struct {
	w   io.Writer
	min zerolog.Level
}

func (f levelFilter) Write(p []byte) (int, error) {
	return f.w.Write(p) //nolint:wrapcheck // pass-through
}

func (f levelFilter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < f.min {
		return len(p), nil
	}
	return f.w.Write(p) //nolint:wrapcheck // pass-through
}

// rebuildLogger must be called with logMu held for writing, or from init.
func rebuildLogger() {
	consoleLevel := zerolog.InfoLevel
	if debugEnabled {
		consoleLevel = zerolog.DebugLevel
	}

	writers := []io.Writer{levelFilter{w: consoleOut, min: consoleLevel}}
	if sessionLogWriter != nil {
		writers = append(writers, levelFilter{w: sessionLogWriter, min: zerolog.DebugLevel})
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

// Logger returns the package logger. Components derive their own with
// Logger().With().Str("component", ...).
func Logger() *zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	if override != nil {
		l := *override
		return &l
	}
	l := logger
	return &l
}

// SetLogger replaces the package logger, for applications that already carry
// a configured zerolog instance. Passing nil restores the default.
func SetLogger(l *zerolog.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l == nil {
		override = nil
		return
	}
	cp := *l
	override = &cp
}

// SetConsoleOutput redirects console logging, mainly for tests.
func SetConsoleOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	consoleOut = w
	rebuildLogger()
}

// SetDebugEnabled allows programmatic control of console debug logging
func SetDebugEnabled(enabled bool) {
	logMu.Lock()
	defer logMu.Unlock()
	debugEnabled = enabled
	rebuildLogger()
}

// DebugEnabled reports whether debug events reach the console.
func DebugEnabled() bool {
	logMu.RLock()
	defer logMu.RUnlock()
	return debugEnabled
}
