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

package nfc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

// InitSessionLog starts writing every debug message, console mode or not,
// to nfc_<date>_<time>.log in dir. An empty dir means the working
// directory. A log that is already open is closed first.
func InitSessionLog(dir string) (string, error) {
	path := filepath.Join(dir, "nfc_"+time.Now().Format("20060102_150405")+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // name built here
	if err != nil {
		return "", fmt.Errorf("create session log: %w", err)
	}
	writeSessionHeader(f)

	debugLog.mu.Lock()
	prev := debugLog.file
	debugLog.setSink(f, f, path)
	debugLog.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return path, nil
}

// CloseSessionLog writes the trailer and closes the session log. It is a
// no-op without an open log.
func CloseSessionLog() error {
	debugLog.mu.Lock()
	f := debugLog.file
	if f != nil {
		_, _ = fmt.Fprintf(f, "\n%s === session ended ===\n", time.Now().Format(logTimeFormat))
	}
	debugLog.setSink(nil, nil, "")
	debugLog.mu.Unlock()

	if f == nil {
		return nil
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close session log: %w", err)
	}
	return nil
}

// SessionLogPath returns the path of the open session log, or "".
func SessionLogPath() string {
	debugLog.mu.Lock()
	defer debugLog.mu.Unlock()
	return debugLog.path
}

func writeSessionHeader(w io.Writer) {
	_, _ = fmt.Fprint(w, "=== go-nfc session log ===\n")
	_, _ = fmt.Fprintf(w, "started:  %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "pid:      %d\n", os.Getpid())
	_, _ = fmt.Fprintf(w, "platform: %s/%s %s\n", runtime.GOOS, runtime.GOARCH, runtime.Version())
	if info, ok := debug.ReadBuildInfo(); ok {
		_, _ = fmt.Fprintf(w, "module:   %s %s\n", info.Main.Path, info.Main.Version)
	}
	_, _ = fmt.Fprintf(w, "args:     %s\n", strings.Join(os.Args, " "))
	_, _ = fmt.Fprint(w, "===========================\n\n")
}
