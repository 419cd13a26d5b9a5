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
	"strings"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

const logTimeFormat = "15:04:05.000"

// logger fans debug lines out to the console and the session log. Worker
// goroutines, HAL reader goroutines and the caller all write to it.
type logger struct {
	console io.Writer
	sink    io.Writer
	file    *os.File
	path    string
	mu      syncutil.Mutex
	enabled atomic.Bool
	hasSink atomic.Bool
}

var debugLog = newLogger()

func newLogger() *logger {
	l := &logger{console: os.Stderr}
	l.enabled.Store(os.Getenv("NFC_DEBUG") != "" || os.Getenv("DEBUG") != "")
	return l
}

// idle reports whether a message would be dropped anyway.
func (l *logger) idle() bool {
	return !l.enabled.Load() && !l.hasSink.Load()
}

func (l *logger) write(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		_, _ = fmt.Fprintf(l.sink, "%s DEBUG: %s\n", time.Now().Format(logTimeFormat), msg)
	}
	if l.enabled.Load() && l.console != nil {
		_, _ = fmt.Fprintf(l.console, "DEBUG: %s\n", msg)
	}
}

func (l *logger) setSink(w io.Writer, f *os.File, path string) {
	l.sink, l.file, l.path = w, f, path
	l.hasSink.Store(w != nil)
}

// Debugf logs a formatted debug message. The session log, when open,
// always receives it; the console only in debug mode.
func Debugf(format string, args ...any) {
	if debugLog.idle() {
		return
	}
	debugLog.write(fmt.Sprintf(format, args...))
}

// Debugln logs its operands separated by spaces.
func Debugln(args ...any) {
	if debugLog.idle() {
		return
	}
	debugLog.write(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugLog.enabled.Store(enabled)
}

// DebugEnabled reports whether console debug output is on.
func DebugEnabled() bool {
	return debugLog.enabled.Load()
}

// SetDebugOutput redirects console debug output, stderr by default. A nil
// writer silences the console without touching the session log.
func SetDebugOutput(w io.Writer) {
	debugLog.mu.Lock()
	defer debugLog.mu.Unlock()
	debugLog.console = w
}
