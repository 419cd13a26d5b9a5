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
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/dict"
	"github.com/ZaparooProject/go-nfc/dictattack"
	"github.com/ZaparooProject/go-nfc/internal/config"
	"github.com/ZaparooProject/go-nfc/ndef"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/ZaparooProject/go-nfc/protocols/mfultralight"
	"github.com/ZaparooProject/go-nfc/scanner"
	"github.com/ZaparooProject/go-nfc/snapshot"
)

func runScan(ctx context.Context, n *nfc.Nfc, cfg *config.Config, out io.Writer) error {
	s := scanner.New(n, cfg.ScannerConfig())
	defer func() { _ = s.Close() }()

	s.SetOnCardDetected(func(c *scanner.Card) error {
		_, _ = fmt.Fprintf(out, "Card detected: %s\n", c)
		return nil
	})
	s.SetOnCardChanged(func(c *scanner.Card) error {
		_, _ = fmt.Fprintf(out, "Card changed: %s\n", c)
		return nil
	})
	s.SetOnCardRemoved(func(c *scanner.Card) {
		_, _ = fmt.Fprintf(out, "Card removed: %s\n", c.UIDHex())
	})

	_, _ = fmt.Fprintln(out, "Scanning. Press Ctrl+C to stop...")
	return s.Start(ctx)
}

// waitForCard scans until a card answers or ctx is done.
func waitForCard(ctx context.Context, s *scanner.Scanner, interval time.Duration) (*scanner.Card, error) {
	for {
		card, err := s.Scan()
		if err == nil {
			return card, nil
		}
		if !errors.Is(err, scanner.ErrNoCard) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func runRead(ctx context.Context, n *nfc.Nfc, cfg *config.Config, path string, out, status io.Writer) error {
	s := scanner.New(n, cfg.ScannerConfig())
	_, _ = fmt.Fprintln(out, "Place a card on the reader...")
	card, err := waitForCard(ctx, s, cfg.Scanner.PollInterval)
	_ = s.Close()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Card: %s\n", card)

	var image []byte
	switch {
	case card.Supports(protocol.MfClassic):
		image, err = readClassic(ctx, n, cfg, out, status)
	case card.Supports(protocol.MfUltralight):
		image, err = readUltralight(ctx, n, out)
	default:
		image, err = snapshot.EncodeIso3a(card.Iso3a)
	}
	if image != nil {
		if werr := os.WriteFile(path, image, 0o644); werr != nil {
			return fmt.Errorf("write snapshot: %w", werr)
		}
		_, _ = fmt.Fprintf(out, "Saved %s\n", path)
	}
	return err
}

func readClassic(ctx context.Context, n *nfc.Nfc, cfg *config.Config, out, status io.Writer) ([]byte, error) {
	opts := []dictattack.Option{}
	if f, ok := status.(*os.File); ok {
		line := newProgressLine(f)
		defer line.finish()
		opts = append(opts, dictattack.WithProgress(line.update))
	}
	if cfg.Dictionaries.User != "" {
		d, err := dict.Open(cfg.Dictionaries.User)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dictattack.WithUserDictionary(d))
	}
	if cfg.Dictionaries.System != "" {
		d, err := dict.Open(cfg.Dictionaries.System)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dictattack.WithSystemDictionary(d))
	}

	res, runErr := dictattack.New(n, opts...).Run(ctx)
	if res == nil || res.Data == nil {
		return nil, runErr
	}
	_, _ = fmt.Fprintf(out, "Read %s: %d/%d sectors, %d keys (%s)\n",
		res.Data.Name(), res.SectorsRead, res.SectorsTotal, res.KeysFound, res.Outcome)

	image, err := snapshot.EncodeMfClassic(res.Data)
	if err != nil {
		return nil, err
	}
	return image, runErr
}

func readUltralight(ctx context.Context, n *nfc.Nfc, out io.Writer) ([]byte, error) {
	poller, err := protocol.NewPoller(n, protocol.MfUltralight)
	if err != nil {
		return nil, err
	}
	defer poller.Free()

	var final mfultralight.PollerEvent
	var data *mfultralight.Data
	err = poller.Start(func(ev protocol.Event) nfc.Command {
		if pev, ok := ev.Data.(mfultralight.PollerEvent); ok {
			final = pev
		}
		if p, ok := ev.Instance.(*mfultralight.Poller); ok {
			data = p.Card().Clone()
		}
		return nfc.CommandStop
	})
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		poller.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		poller.Stop()
		<-done
		return nil, ctx.Err()
	}

	if data == nil {
		return nil, errors.New("ultralight poller stopped without data")
	}
	_, _ = fmt.Fprintf(out, "Read %s: %d/%d pages\n", data.Name(), data.PagesRead, len(data.Pages))
	image, err := snapshot.EncodeMfUltralight(data)
	if err != nil {
		return nil, err
	}
	if final.Type == mfultralight.PollerEventReadFailed {
		return image, fmt.Errorf("partial read: %w", final.Err)
	}
	return image, nil
}

// loadSnapshot decodes any snapshot kind into listener data.
func loadSnapshot(path string) (protocol.Protocol, protocol.Data, snapshot.Info, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return protocol.Invalid, nil, snapshot.Info{}, fmt.Errorf("read snapshot: %w", err)
	}
	info, err := snapshot.Inspect(b)
	if err != nil {
		return protocol.Invalid, nil, info, err
	}

	switch info.Kind {
	case snapshot.KindIso3a:
		d, info, err := snapshot.DecodeIso3a(b)
		return protocol.Iso14443_3a, d, info, err
	case snapshot.KindMfClassic:
		d, info, err := snapshot.DecodeMfClassic(b)
		return protocol.MfClassic, d, info, err
	case snapshot.KindMfUltralight:
		d, info, err := snapshot.DecodeMfUltralight(b)
		return protocol.MfUltralight, d, info, err
	default:
		return protocol.Invalid, nil, info, fmt.Errorf("%w: %s", snapshot.ErrKind, info.Kind)
	}
}

func runEmulate(ctx context.Context, n *nfc.Nfc, path string, out io.Writer) error {
	proto, data, _, err := loadSnapshot(path)
	if err != nil {
		return err
	}

	listener, err := protocol.NewListener(n, proto, data)
	if err != nil {
		return err
	}
	defer listener.Free()

	if err := listener.Start(func(ev protocol.Event) nfc.Command {
		if lev, ok := ev.Data.(mfultralight.ListenerEvent); ok {
			_, _ = fmt.Fprintf(out, "Page %d written\n", lev.Page)
		}
		return nfc.CommandContinue
	}); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Emulating %s. Press Ctrl+C to stop...\n", proto)
	<-ctx.Done()
	listener.Stop()
	return ctx.Err()
}

func runDump(path string, out io.Writer) error {
	_, data, info, err := loadSnapshot(path)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Snapshot %s v%d, %s, created %s\n",
		info.ID, info.Version, info.Kind, info.Created.UTC().Format(time.RFC3339))

	switch d := data.(type) {
	case *iso3a.Data:
		dumpIso3a(out, d)
	case *mfclassic.Data:
		dumpIso3a(out, d.Iso3a)
		dumpClassic(out, d)
	case *mfultralight.Data:
		dumpIso3a(out, d.Iso3a)
		dumpUltralight(out, d)
	}
	return nil
}

func dumpIso3a(out io.Writer, d *iso3a.Data) {
	_, _ = fmt.Fprintf(out, "UID: % X\nATQA: %02X %02X\nSAK: %02X\n", d.UIDBytes, d.ATQA[0], d.ATQA[1], d.SAK)
}

func dumpClassic(out io.Writer, d *mfclassic.Data) {
	sectorsRead, keysFound := d.SectorsReadAndKeysFound()
	_, _ = fmt.Fprintf(out, "Type: %s, %d/%d sectors read, %d keys found\n",
		d.Type, sectorsRead, d.Type.Sectors(), keysFound)

	for s := range d.Type.Sectors() {
		_, _ = fmt.Fprintf(out, "Sector %d  A: %s  B: %s\n", s, keyString(d, s, mfclassic.KeyTypeA), keyString(d, s, mfclassic.KeyTypeB))
		first := mfclassic.FirstBlockOfSector(s)
		for b := first; b < first+mfclassic.BlocksInSector(s); b++ {
			if d.IsBlockRead(b) {
				_, _ = fmt.Fprintf(out, "  %3d: % X\n", b, d.Blocks[b][:])
			} else {
				_, _ = fmt.Fprintf(out, "  %3d: %s\n", b, "?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ?? ??")
			}
		}
	}
}

func keyString(d *mfclassic.Data, sector int, kt mfclassic.KeyType) string {
	if k, ok := d.Key(sector, kt).Get(); ok {
		return k.String()
	}
	return "------------"
}

func dumpUltralight(out io.Writer, d *mfultralight.Data) {
	_, _ = fmt.Fprintf(out, "Type: %s, %d/%d pages read\n", d.Type, d.PagesRead, len(d.Pages))
	_, _ = fmt.Fprintf(out, "Signature: % X\n", d.Signature[:])
	for i, page := range d.Pages[:d.PagesRead] {
		_, _ = fmt.Fprintf(out, "  %3d: % X\n", i, page[:])
	}
	dumpNDEF(out, d)
}

// dumpNDEF prints the records of the NDEF message stored after the
// capability container, if any.
func dumpNDEF(out io.Writer, d *mfultralight.Data) {
	const firstDataPage = 4
	if d.PagesRead <= firstDataPage {
		return
	}
	area := make([]byte, 0, (d.PagesRead-firstDataPage)*len(d.Pages[0]))
	for _, page := range d.Pages[firstDataPage:d.PagesRead] {
		area = append(area, page[:]...)
	}
	msg, err := ndef.FindMessage(area)
	if errors.Is(err, ndef.ErrNoMessage) {
		return
	}
	if err == nil {
		var records []ndef.Record
		if records, err = ndef.Parse(msg); err == nil {
			_, _ = fmt.Fprintf(out, "NDEF: %d record(s)\n", len(records))
			for _, rec := range records {
				_, _ = fmt.Fprintf(out, "  %s\n", rec)
			}
			return
		}
	}
	_, _ = fmt.Fprintf(out, "NDEF: %v\n", err)
}
