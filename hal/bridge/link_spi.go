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
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// SPI link opcodes. The first byte of every transaction selects the
// operation; the firmware clocks out a filler byte while it is decoded.
const (
	spiDataWrite = 0x01
	spiStatRead  = 0x02
	spiDataRead  = 0x03
)

const (
	defaultSPIFreq    = 1 * physic.MegaHertz
	spiPollInterval   = 2 * time.Millisecond
	spiReadTimeout    = 50 * time.Millisecond
	spiMaxTransaction = 256
)

// SPIConfig selects the SPI port and the optional IRQ line the firmware
// pulls low while it has bytes to send.
type SPIConfig struct {
	// Port is a periph SPI port name such as "/dev/spidev0.0" or "SPI0.0".
	Port string
	// IRQ is a GPIO name such as "GPIO25". Empty means status polling.
	IRQ string
	// Freq defaults to 1MHz.
	Freq physic.Frequency
}

// SPILink is a Link over SPI.
type SPILink struct {
	port spi.PortCloser
	conn spi.Conn
	irq  gpio.PinIn
	name string
}

var _ Link = (*SPILink)(nil)

// OpenSPI initialises the periph host drivers and connects to cfg.Port.
func OpenSPI(cfg SPIConfig) (*SPILink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %s: %w", cfg.Port, err)
	}

	freq := cfg.Freq
	if freq == 0 {
		freq = defaultSPIFreq
	}
	conn, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI: %w", err)
	}

	l := &SPILink{port: port, conn: conn, name: cfg.Port}
	if cfg.IRQ != "" {
		pin := gpioreg.ByName(cfg.IRQ)
		if pin == nil {
			_ = port.Close()
			return nil, fmt.Errorf("unknown IRQ pin %s", cfg.IRQ)
		}
		if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to configure IRQ pin %s: %w", cfg.IRQ, err)
		}
		l.irq = pin
	}
	return l, nil
}

// pending asks the firmware how many bytes it has queued.
func (l *SPILink) pending() (int, error) {
	w := []byte{spiStatRead, 0, 0}
	r := make([]byte, len(w))
	if err := l.conn.Tx(w, r); err != nil {
		return 0, fmt.Errorf("SPI status read failed: %w", err)
	}
	return int(binary.BigEndian.Uint16(r[1:])), nil
}

// ready waits until the IRQ line is low or the deadline passes. Without
// an IRQ line it sleeps one poll interval.
func (l *SPILink) ready(deadline time.Time) {
	if l.irq == nil {
		time.Sleep(spiPollInterval)
		return
	}
	if l.irq.Read() == gpio.Low {
		return
	}
	l.irq.WaitForEdge(time.Until(deadline))
}

// Read returns bytes queued by the firmware, or 0 bytes once the read
// timeout passes with nothing queued.
func (l *SPILink) Read(p []byte) (int, error) {
	deadline := time.Now().Add(spiReadTimeout)
	for {
		count, err := l.pending()
		if err != nil {
			return 0, err
		}
		if count > 0 {
			n := min(count, len(p), spiMaxTransaction-1)
			w := make([]byte, n+1)
			w[0] = spiDataRead
			r := make([]byte, n+1)
			if err := l.conn.Tx(w, r); err != nil {
				return 0, fmt.Errorf("SPI data read failed: %w", err)
			}
			return copy(p, r[1:]), nil
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		l.ready(deadline)
	}
}

func (l *SPILink) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n := min(len(p)-written, spiMaxTransaction-1)
		w := make([]byte, 0, n+1)
		w = append(w, spiDataWrite)
		w = append(w, p[written:written+n]...)
		if err := l.conn.Tx(w, nil); err != nil {
			return written, fmt.Errorf("SPI write failed: %w", err)
		}
		written += n
	}
	return written, nil
}

func (l *SPILink) Close() error {
	if err := l.port.Close(); err != nil {
		return fmt.Errorf("SPI close: %w", err)
	}
	return nil
}

func (l *SPILink) Name() string {
	return l.name
}
