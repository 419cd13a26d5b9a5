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

// Package mfultralight implements MIFARE Ultralight and NTAG2xx on top of
// ISO14443-3A: variant detection from GET_VERSION, page reading for the
// poller and page-level emulation for the listener.
package mfultralight

import (
	"bytes"
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

// Data is an Ultralight image. Pages holds every page of the variant;
// only the first PagesRead came from the tag.
type Data struct {
	Iso3a     *iso3a.Data
	Pages     []Page
	Version   Version
	Signature Signature
	Type      Type
	PagesRead int
}

var _ protocol.Data = (*Data)(nil)

// NewData returns an empty image for a tag of type t.
func NewData(card *iso3a.Data, t Type) *Data {
	d := &Data{Type: t, Pages: make([]Page, t.Pages())}
	if card != nil {
		d.Iso3a = card.Clone()
	} else {
		d.Iso3a = &iso3a.Data{}
	}
	if v, ok := VersionOf(t); ok {
		d.Version = v
	}
	return d
}

// NewImage returns a blank NDEF-formatted tag of type t. The serial pages
// are derived from a 7-byte UID.
func NewImage(card *iso3a.Data, t Type) *Data {
	d := NewData(card, t)
	d.PagesRead = len(d.Pages)
	if uid := d.UID(); len(uid) == 7 {
		d.Pages[pageSerial0] = Page{uid[0], uid[1], uid[2], 0x88 ^ uid[0] ^ uid[1] ^ uid[2]}
		d.Pages[pageSerial1] = Page{uid[3], uid[4], uid[5], uid[6]}
		d.Pages[pageSerial2] = Page{uid[3] ^ uid[4] ^ uid[5] ^ uid[6], 0x48, 0x00, 0x00}
	}
	if size := ccSize(t); size != 0 {
		d.Pages[pageCC] = Page{0xE1, 0x10, size, 0x00}
	}
	return d
}

// Validate checks the identity and the page count.
func (d *Data) Validate() error {
	if d.Iso3a == nil {
		return fmt.Errorf("%w: no ISO14443-3A data", ErrInvalidData)
	}
	if err := d.Iso3a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if len(d.Pages) != d.Type.Pages() {
		return fmt.Errorf("%w: %d pages for %v", ErrInvalidData, len(d.Pages), d.Type)
	}
	if d.PagesRead < 0 || d.PagesRead > len(d.Pages) {
		return fmt.Errorf("%w: %d pages read", ErrInvalidData, d.PagesRead)
	}
	return nil
}

func (*Data) Protocol() protocol.Protocol { return protocol.MfUltralight }

func (d *Data) BaseData() protocol.Data { return d.Iso3a }

func (d *Data) UID() []byte {
	if d.Iso3a == nil {
		return nil
	}
	return d.Iso3a.UIDBytes
}

func (d *Data) Name() string { return d.Type.String() }

// Reset forgets the pages but keeps the identity and the variant.
func (d *Data) Reset() {
	clear(d.Pages)
	d.Signature = Signature{}
	d.PagesRead = 0
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	c := *d
	if d.Iso3a != nil {
		c.Iso3a = d.Iso3a.Clone()
	}
	c.Pages = append([]Page(nil), d.Pages...)
	return &c
}

// IsComplete reports whether every page was read.
func (d *Data) IsComplete() bool {
	return len(d.Pages) > 0 && d.PagesRead == len(d.Pages)
}

// Bytes returns the pages read as one slice.
func (d *Data) Bytes() []byte {
	out := make([]byte, 0, d.PagesRead*PageSize)
	for _, p := range d.Pages[:d.PagesRead] {
		out = append(out, p[:]...)
	}
	return out
}

// Equal compares identity, variant and the pages read.
func (d *Data) Equal(other *Data) bool {
	if other == nil || d.Type != other.Type || d.PagesRead != other.PagesRead ||
		d.Version != other.Version || d.Signature != other.Signature {
		return false
	}
	if (d.Iso3a == nil) != (other.Iso3a == nil) || (d.Iso3a != nil && !d.Iso3a.Equal(other.Iso3a)) {
		return false
	}
	return bytes.Equal(d.Bytes(), other.Bytes())
}
