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

package bridge

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate is the serial speed of the bridge firmware.
const DefaultBaudRate = 115200

const serialReadTimeout = 50 * time.Millisecond

// SerialLink is a Link over a serial port.
type SerialLink struct {
	port serial.Port
	name string
}

var _ Link = (*SerialLink)(nil)

// OpenSerial opens name at baud (DefaultBaudRate if zero) and discards any
// bytes left in the input buffer.
func OpenSerial(name string, baud int) (*SerialLink, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset input buffer on %s: %w", name, err)
	}

	return &SerialLink{port: port, name: name}, nil
}

func (l *SerialLink) Read(p []byte) (int, error) {
	n, err := l.port.Read(p)
	if err != nil {
		return n, fmt.Errorf("serial read: %w", err)
	}
	return n, nil
}

func (l *SerialLink) Write(p []byte) (int, error) {
	n, err := l.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("serial write: %w", err)
	}
	return n, nil
}

func (l *SerialLink) Close() error {
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("serial close: %w", err)
	}
	return nil
}

func (l *SerialLink) Name() string {
	return l.name
}
