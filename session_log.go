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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ZaparooProject/go-daisychain/internal/syncutil"
	"github.com/rs/zerolog"
)

// Session log state, guarded by logMu
var (
	sessionLogFile   *os.File
	sessionLogPath   string
	sessionLogWriter io.Writer
)

// InitSessionLog creates a session log file in dir (the current directory when
// dir is empty) and tees every log event into it as JSON lines, debug level
// included. Returns the file path for display to the user.
func InitSessionLog(dir string) (string, error) {
	filename := fmt.Sprintf("daisychain_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	logFile, err := os.Create(path) //nolint:gosec // filename is constructed internally
	if err != nil {
		return "", fmt.Errorf("failed to create session log: %w", err)
	}

	logMu.Lock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = logFile
	sessionLogPath = path
	sessionLogWriter = logFile
	writeSessionHeader(logFile)
	rebuildLogger()
	logMu.Unlock()

	return path, nil
}

// CloseSessionLog writes a footer and closes the session log file.
func CloseSessionLog() error {
	logMu.Lock()
	defer logMu.Unlock()

	if sessionLogFile == nil {
		return nil
	}

	footer := zerolog.New(sessionLogWriter).With().Timestamp().Logger()
	footer.Info().Str("session", "end").Msg("session ended")

	err := sessionLogFile.Close()
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	rebuildLogger()
	if err != nil {
		return fmt.Errorf("failed to close session log: %w", err)
	}
	return nil
}

// GetSessionLogPath returns the current session log file path.
func GetSessionLogPath() string {
	logMu.RLock()
	defer logMu.RUnlock()
	return sessionLogPath
}

// writeSessionHeader records process metadata as the first event of the log.
func writeSessionHeader(w io.Writer) {
	hdr := zerolog.New(w).With().Timestamp().Logger()
	ev := hdr.Info().
		Str("session", "start").
		Int("pid", os.Getpid()).
		Str("os", runtime.GOOS+"/"+runtime.GOARCH).
		Str("go", runtime.Version()).
		Bool("deadlock_detection", syncutil.DeadlockDetection).
		Strs("args", os.Args)
	if exe, err := os.Executable(); err == nil {
		ev = ev.Str("executable", exe)
	}
	ev.Msg("daisychain session log")
}
