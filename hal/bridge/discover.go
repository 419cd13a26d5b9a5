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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/go-nfc"
	"github.com/samber/lo"
	"go.bug.st/serial/enumerator"
)

// ErrNoDevicesFound is returned when no port answers as bridge firmware.
var ErrNoDevicesFound = errors.New("no bridge devices found")

// PortInfo describes one candidate serial port.
type PortInfo struct {
	Path    string
	Product string
	VIDPID  string
	Serial  string
	IsUSB   bool
}

// DiscoverOptions filters the ports considered by Ports and Discover.
type DiscoverOptions struct {
	// Blocklist holds VID:PID pairs that are never opened.
	Blocklist []string
	// IgnorePaths holds device paths that are never opened.
	IgnorePaths []string
	// IncludeNonUSB also considers built-in serial ports.
	IncludeNonUSB bool
	// Baud defaults to DefaultBaudRate.
	Baud int
}

// DefaultBlocklist returns USB devices known to misbehave when probed.
func DefaultBlocklist() []string {
	return []string{}
}

// IsBlocked checks if a USB device is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	return lo.ContainsBy(blocklist, func(blocked string) bool {
		return strings.ToUpper(strings.TrimSpace(blocked)) == vidpid
	})
}

// IsPathIgnored checks if a device path should be ignored. Paths are
// compared cleaned and case-insensitively.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	return lo.ContainsBy(ignorePaths, func(p string) bool {
		return p != "" && normalizedPath(p) == device
	})
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Ports lists serial ports that pass the filters in opts.
func Ports(opts DiscoverOptions) ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	ports := lo.Map(details, func(d *enumerator.PortDetails, _ int) PortInfo {
		info := PortInfo{Path: d.Name, Product: d.Product, Serial: d.SerialNumber, IsUSB: d.IsUSB}
		if d.IsUSB {
			info.VIDPID = strings.ToUpper(d.VID + ":" + d.PID)
		}
		return info
	})
	return filterPorts(ports, opts), nil
}

func filterPorts(ports []PortInfo, opts DiscoverOptions) []PortInfo {
	return lo.Filter(ports, func(p PortInfo, _ int) bool {
		if !p.IsUSB && !opts.IncludeNonUSB {
			return false
		}
		if p.VIDPID != "" && IsBlocked(p.VIDPID, opts.Blocklist) {
			return false
		}
		return !IsPathIgnored(p.Path, opts.IgnorePaths)
	})
}

// Device is a port that answered with a firmware version.
type Device struct {
	Port    PortInfo
	Version Version
}

// Discover probes every candidate port and returns those running bridge
// firmware.
func Discover(ctx context.Context, opts DiscoverOptions) ([]Device, error) {
	ports, err := Ports(opts)
	if err != nil {
		return nil, err
	}

	var devices []Device
	for _, p := range ports {
		if err := ctx.Err(); err != nil {
			return devices, fmt.Errorf("discovery cancelled: %w", err)
		}
		v, err := probe(p.Path, opts.Baud)
		if err != nil {
			nfc.Debugf("bridge discovery: %s: %v", p.Path, err)
			continue
		}
		devices = append(devices, Device{Port: p, Version: v})
	}
	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}

func probe(path string, baud int) (Version, error) {
	link, err := OpenSerial(path, baud)
	if err != nil {
		return Version{}, err
	}
	b := New(link, WithRetryConfig(&nfc.RetryConfig{}))
	defer func() { _ = b.Close() }()
	return b.getVersion()
}

// OpenSerialBridge opens a serial bridge and initialises the firmware,
// retrying transient link failures.
func OpenSerialBridge(ctx context.Context, path string, baud int, opts ...Option) (*Bridge, error) {
	return open(ctx, path, func() (Link, error) { return OpenSerial(path, baud) }, opts)
}

// OpenSPIBridge is OpenSerialBridge for an SPI link.
func OpenSPIBridge(ctx context.Context, cfg SPIConfig, opts ...Option) (*Bridge, error) {
	return open(ctx, cfg.Port, func() (Link, error) { return OpenSPI(cfg) }, opts)
}

func open(ctx context.Context, name string, dial func() (Link, error), opts []Option) (*Bridge, error) {
	retry := nfc.LinkRetryConfig()
	retry.Op = "open " + name
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, nfc.ErrInvalidArgument)
	}
	b, err := nfc.RetryValue(ctx, retry, func() (*Bridge, error) {
		link, err := dial()
		if err != nil {
			return nil, err
		}
		b := New(link, opts...)
		if err := b.Init(); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open bridge: %w", err)
	}
	return b, nil
}
