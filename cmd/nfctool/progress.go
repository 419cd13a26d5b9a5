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
	"fmt"
	"io"
	"os"

	"github.com/ZaparooProject/go-nfc/dictattack"
	"golang.org/x/term"
)

const defaultWidth = 80

// progressLine renders attack progress. On a terminal it redraws one
// status line; otherwise it prints one line per milestone and skips the
// key counters.
type progressLine struct {
	out   io.Writer
	width int
	tty   bool
	drawn bool
}

func newProgressLine(f *os.File) *progressLine {
	p := &progressLine{out: f, width: defaultWidth}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		p.tty = true
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

func (p *progressLine) update(pr dictattack.Progress) {
	text := formatProgress(pr)
	if !p.tty {
		if pr.Type != dictattack.EventKeysTried {
			_, _ = fmt.Fprintln(p.out, text)
		}
		return
	}

	if len(text) >= p.width {
		text = text[:p.width-1]
	}
	_, _ = fmt.Fprintf(p.out, "\r%-*s", p.width-1, text)
	p.drawn = true
	if pr.Type == dictattack.EventKeyFound || pr.Type == dictattack.EventReadComplete ||
		pr.Type == dictattack.EventReadFailed {
		p.finish()
	}
}

// finish ends the status line so the next output starts on a new line.
func (p *progressLine) finish() {
	if p.tty && p.drawn {
		_, _ = fmt.Fprintln(p.out)
		p.drawn = false
	}
}

func formatProgress(pr dictattack.Progress) string {
	counts := fmt.Sprintf("sectors %d/%d, keys %d/%d", pr.SectorsRead, pr.SectorsTotal, pr.KeysFound, 2*pr.SectorsTotal)

	switch pr.Type {
	case dictattack.EventKeysTried:
		return fmt.Sprintf("[%s] sector %d: %d/%d keys tried, %s",
			pr.Dictionary, pr.Sector, pr.KeysTried, pr.KeysTotal, counts)
	case dictattack.EventKeyFound:
		return fmt.Sprintf("sector %d key %s: %s", pr.Sector, pr.KeyType, pr.Key)
	case dictattack.EventSectorAdvanced:
		return fmt.Sprintf("[%s] sector %d, %s", pr.Dictionary, pr.Sector, counts)
	case dictattack.EventDictionarySwitched:
		return fmt.Sprintf("switching to %s dictionary, %s", pr.Dictionary, counts)
	case dictattack.EventReadComplete:
		return "read complete, " + counts
	case dictattack.EventReadFailed:
		return fmt.Sprintf("read failed: %v", pr.Err)
	default:
		return fmt.Sprintf("%s, %s", pr.Type, counts)
	}
}
