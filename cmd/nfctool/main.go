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

// Command nfctool scans, reads, dumps and emulates ISO14443-A cards through
// a bridge front-end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/config"
)

const usageText = `usage: nfctool [flags] <command> [args]

commands:
  ports             list serial ports (-probe asks each for a firmware version)
  scan              report cards as they arrive and leave
  read              read the next card and save a snapshot (-o)
  emulate <file>    emulate the card in a snapshot until interrupted
  dump <file>       print a snapshot
  make <uri|text>   save an NTAG215 snapshot holding one NDEF record (-o, -text)

flags:
`

type options struct {
	configPath string
	port       string
	link       string
	irq        string
	output     string
	userDict   string
	baud       int
	debug      bool
	probe      bool
	text       bool
}

// parseArgs splits the command line into options, a command and its
// arguments.
func parseArgs(args []string, stderr io.Writer) (*options, string, []string, error) {
	opts := &options{}
	fs := flag.NewFlagSet("nfctool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&opts.port, "device", "", "Serial port or SPI port (auto-detect if empty)")
	fs.StringVar(&opts.link, "link", "", "Link type: serial or spi")
	fs.StringVar(&opts.irq, "irq", "", "GPIO name of the SPI IRQ line")
	fs.IntVar(&opts.baud, "baud", 0, "Serial baud rate")
	fs.StringVar(&opts.output, "o", "", "Snapshot file written by read")
	fs.StringVar(&opts.userDict, "dict", "", "User key dictionary for read")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug output")
	fs.BoolVar(&opts.probe, "probe", false, "Probe ports for bridge firmware")
	fs.BoolVar(&opts.text, "text", false, "Store a text record instead of a URI with make")

	if err := fs.Parse(args); err != nil {
		return nil, "", nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return nil, "", nil, errors.New("missing command")
	}
	return opts, fs.Arg(0), fs.Args()[1:], nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	if opts.port != "" {
		cfg.Device.Port = opts.port
	}
	if opts.link != "" {
		cfg.Device.Link = opts.link
	}
	if opts.irq != "" {
		cfg.Device.IRQ = opts.irq
	}
	if opts.baud > 0 {
		cfg.Device.Baud = opts.baud
	}
	if opts.userDict != "" {
		cfg.Dictionaries.User = opts.userDict
	}
	if opts.debug {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, cmd, rest, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if cfg.Log.Debug {
		nfc.SetDebugEnabled(true)
	}
	if cfg.Log.SessionLog {
		path, logErr := nfc.InitSessionLog(cfg.Log.Dir)
		if logErr != nil {
			return fmt.Errorf("session log: %w", logErr)
		}
		_, _ = fmt.Fprintf(stderr, "Session log: %s\n", path)
		defer func() { _ = nfc.CloseSessionLog() }()
	}

	switch cmd {
	case "ports":
		return runPorts(ctx, cfg, opts.probe, stdout)
	case "scan":
		return withSession(ctx, cfg, func(n *nfc.Nfc) error {
			return runScan(ctx, n, cfg, stdout)
		})
	case "read":
		if opts.output == "" {
			return errors.New("read needs -o <file>")
		}
		return withSession(ctx, cfg, func(n *nfc.Nfc) error {
			return runRead(ctx, n, cfg, opts.output, stdout, stderr)
		})
	case "emulate":
		if len(rest) != 1 {
			return errors.New("emulate needs a snapshot file")
		}
		return withSession(ctx, cfg, func(n *nfc.Nfc) error {
			return runEmulate(ctx, n, rest[0], stdout)
		})
	case "make":
		if len(rest) != 1 || opts.output == "" {
			return errors.New("make needs content and -o <file>")
		}
		return runMake(rest[0], opts.text, opts.output, stdout)
	case "dump":
		if len(rest) != 1 {
			return errors.New("dump needs a snapshot file")
		}
		return runDump(rest[0], stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func main() {
	os.Exit(mainWithExitCode(os.Args[1:]))
}

func mainWithExitCode(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, args, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, flag.ErrHelp) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
