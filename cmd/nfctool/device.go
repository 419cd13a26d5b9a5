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
	"os"
	"text/tabwriter"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/hal/bridge"
	"github.com/ZaparooProject/go-nfc/internal/config"
)

func discoverOptions(cfg *config.Config) bridge.DiscoverOptions {
	return bridge.DiscoverOptions{
		Blocklist:     append(bridge.DefaultBlocklist(), cfg.Discovery.Blocklist...),
		IgnorePaths:   cfg.Discovery.IgnorePaths,
		IncludeNonUSB: cfg.Discovery.IncludeNonUSB,
		Baud:          cfg.Device.Baud,
	}
}

// openBridge connects to the configured front-end. An empty serial port
// means the first port answering as bridge firmware.
func openBridge(ctx context.Context, cfg *config.Config) (*bridge.Bridge, error) {
	var opts []bridge.Option
	if cfg.Device.ResponseTimeout > 0 {
		opts = append(opts, bridge.WithResponseTimeout(cfg.Device.ResponseTimeout))
	}

	if cfg.Device.Link == config.LinkSPI {
		return bridge.OpenSPIBridge(ctx, bridge.SPIConfig{Port: cfg.Device.Port, IRQ: cfg.Device.IRQ}, opts...)
	}

	port := cfg.Device.Port
	if port == "" {
		devices, err := bridge.Discover(ctx, discoverOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("auto-detect: %w", err)
		}
		port = devices[0].Port.Path
		nfc.Debugf("using %s (firmware %s)", port, devices[0].Version)
	}
	return bridge.OpenSerialBridge(ctx, port, cfg.Device.Baud, opts...)
}

// withSession opens the front-end, claims it for one session and runs fn.
func withSession(ctx context.Context, cfg *config.Config, fn func(*nfc.Nfc) error) error {
	b, err := openBridge(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close device: %v\n", err)
		}
	}()

	n, err := nfc.New(b, nfc.WithPort(cfg.Device.Port))
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := n.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close session: %v\n", err)
		}
	}()
	return fn(n)
}

func runPorts(ctx context.Context, cfg *config.Config, probe bool, out io.Writer) error {
	opts := discoverOptions(cfg)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	if probe {
		devices, err := bridge.Discover(ctx, opts)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "PORT\tVID:PID\tFIRMWARE")
		for _, d := range devices {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", d.Port.Path, d.Port.VIDPID, d.Version)
		}
		return w.Flush()
	}

	ports, err := bridge.Ports(opts)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "PORT\tVID:PID\tPRODUCT")
	for _, p := range ports {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Path, p.VIDPID, p.Product)
	}
	return w.Flush()
}
