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

// Package config loads the nfctool YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/scanner"
	"gopkg.in/yaml.v3"
)

// Link types for Device.Link.
const (
	LinkSerial = "serial"
	LinkSPI    = "spi"
)

type Config struct {
	Device       DeviceConfig     `yaml:"device"`
	Discovery    DiscoveryConfig  `yaml:"discovery"`
	Scanner      ScannerConfig    `yaml:"scanner"`
	Dictionaries DictionaryConfig `yaml:"dictionaries"`
	Log          LogConfig        `yaml:"log"`
}

type DeviceConfig struct {
	Link            string        `yaml:"link"`
	Port            string        `yaml:"port"`
	IRQ             string        `yaml:"irq"`
	Baud            int           `yaml:"baud"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
}

type DiscoveryConfig struct {
	Blocklist     []string `yaml:"blocklist"`
	IgnorePaths   []string `yaml:"ignore_paths"`
	IncludeNonUSB bool     `yaml:"include_non_usb"`
}

type ScannerConfig struct {
	Protocols      []string      `yaml:"protocols"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RemovalTimeout time.Duration `yaml:"removal_timeout"`
}

// DictionaryConfig names key files. An empty System uses the built-in
// list.
type DictionaryConfig struct {
	User   string `yaml:"user"`
	System string `yaml:"system"`
}

type LogConfig struct {
	// Dir holds session logs; empty means the working directory.
	Dir        string `yaml:"dir"`
	Debug      bool   `yaml:"debug"`
	SessionLog bool   `yaml:"session_log"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	sc := scanner.DefaultConfig()
	names := make([]string, 0, len(sc.Protocols))
	for _, p := range sc.Protocols {
		names = append(names, p.String())
	}
	return &Config{
		Device: DeviceConfig{Link: LinkSerial, Baud: 115200},
		Scanner: ScannerConfig{
			Protocols:      names,
			PollInterval:   sc.PollInterval,
			RemovalTimeout: sc.CardRemovalTimeout,
		},
	}
}

// Load reads path over the defaults. Unknown keys are rejected and
// relative dictionary paths resolve against the file's directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Device.Link {
	case LinkSerial:
	case LinkSPI:
		if strings.TrimSpace(c.Device.Port) == "" {
			return errors.New("config.device.port is required for spi links")
		}
	default:
		return fmt.Errorf("config.device.link must be %q or %q", LinkSerial, LinkSPI)
	}
	if c.Device.Baud < 0 {
		return errors.New("config.device.baud must be >= 0")
	}
	if c.Device.ResponseTimeout < 0 {
		return errors.New("config.device.response_timeout must be >= 0")
	}
	if c.Scanner.PollInterval <= 0 {
		return errors.New("config.scanner.poll_interval must be > 0")
	}
	if c.Scanner.RemovalTimeout <= 0 {
		return errors.New("config.scanner.removal_timeout must be > 0")
	}
	if _, err := c.ScannerProtocols(); err != nil {
		return err
	}
	for field, path := range map[string]string{
		"config.dictionaries.user":   c.Dictionaries.User,
		"config.dictionaries.system": c.Dictionaries.System,
	} {
		if path == "" {
			continue
		}
		if err := validateReadableFile(path, field); err != nil {
			return err
		}
	}
	if c.Log.Dir != "" {
		info, err := os.Stat(c.Log.Dir)
		if err != nil {
			return fmt.Errorf("config.log.dir: %w", err)
		}
		if !info.IsDir() {
			return errors.New("config.log.dir must be a directory")
		}
	}
	return nil
}

// ScannerProtocols resolves the configured protocol names.
func (c *Config) ScannerProtocols() ([]protocol.Protocol, error) {
	out := make([]protocol.Protocol, 0, len(c.Scanner.Protocols))
	for _, name := range c.Scanner.Protocols {
		p, err := protocol.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("config.scanner.protocols: %w", err)
		}
		if !protocol.HasParent(p, protocol.Iso14443_3a) {
			return nil, fmt.Errorf("config.scanner.protocols: %s is not an ISO14443-3A protocol", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// ScannerConfig builds the scanner configuration. Call after Validate.
func (c *Config) ScannerConfig() *scanner.Config {
	protocols, _ := c.ScannerProtocols()
	return &scanner.Config{
		Protocols:          protocols,
		PollInterval:       c.Scanner.PollInterval,
		CardRemovalTimeout: c.Scanner.RemovalTimeout,
	}
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Dictionaries.User = resolvePath(configDir, c.Dictionaries.User)
	c.Dictionaries.System = resolvePath(configDir, c.Dictionaries.System)
	c.Log.Dir = resolvePath(configDir, c.Log.Dir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
