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

// Package iso4a implements the ISO14443-4A poller: RATS/ATS and the
// I-block exchange on top of an activated ISO14443-3A card.
package iso4a

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

const (
	cmdRATS = 0xE0
	// FSDI256 announces a 256 byte reader frame size in RATS.
	FSDI256 = 8
	// AtsFwtFc is the frame waiting time for the ATS.
	AtsFwtFc = 12000

	t0HasTA = 0x10
	t0HasTB = 0x20
	t0HasTC = 0x40
)

var (
	// ErrNotPresent means the card stopped answering.
	ErrNotPresent = errors.New("card not present")
	// ErrProtocol means the card answered outside ISO14443-4.
	ErrProtocol = errors.New("ISO14443-4 protocol error")
	// ErrTimeout means no answer within the frame waiting time.
	ErrTimeout = errors.New("timeout")
)

// mapError converts an ISO14443-3A error to this layer's taxonomy.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, iso3a.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, iso3a.ErrWrongCrc), errors.Is(err, iso3a.ErrCommunication):
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		return fmt.Errorf("%w: %w", ErrNotPresent, err)
	}
}

// ATS is the answer to select.
type ATS struct {
	Historical []byte
	TL         byte
	T0         byte
	TA1        byte
	TB1        byte
	TC1        byte
}

// ParseATS decodes an ATS without its CRC.
func ParseATS(raw []byte) (ATS, error) {
	var ats ATS
	if len(raw) == 0 || int(raw[0]) != len(raw) {
		return ats, fmt.Errorf("%w: ATS length %d", ErrProtocol, len(raw))
	}
	ats.TL = raw[0]
	if len(raw) == 1 {
		return ats, nil
	}
	ats.T0 = raw[1]
	pos := 2
	for _, f := range []struct {
		dst *byte
		bit byte
	}{{&ats.TA1, t0HasTA}, {&ats.TB1, t0HasTB}, {&ats.TC1, t0HasTC}} {
		if ats.T0&f.bit == 0 {
			continue
		}
		if pos >= len(raw) {
			return ats, fmt.Errorf("%w: truncated interface bytes", ErrProtocol)
		}
		*f.dst = raw[pos]
		pos++
	}
	ats.Historical = append([]byte(nil), raw[pos:]...)
	return ats, nil
}

// FSC returns the card's maximum frame size.
func (a ATS) FSC() int {
	if a.TL < 2 {
		return 32
	}
	sizes := [...]int{16, 24, 32, 40, 48, 64, 96, 128, 256}
	fsci := int(a.T0 & 0x0F)
	if fsci >= len(sizes) {
		return 256
	}
	return sizes[fsci]
}

// FWT returns the frame waiting time announced in TB1, in carrier cycles.
func (a ATS) FWT() uint32 {
	fwi := uint32(4)
	if a.T0&t0HasTB != 0 {
		fwi = uint32(a.TB1 >> 4)
	}
	if fwi > 14 {
		fwi = 4
	}
	return (256 * 16) << fwi
}

// Data is an ISO14443-4A card.
type Data struct {
	Iso3a *iso3a.Data
	ATS   ATS
}

var _ protocol.Data = (*Data)(nil)

func (*Data) Protocol() protocol.Protocol { return protocol.Iso14443_4a }

func (d *Data) BaseData() protocol.Data {
	if d.Iso3a == nil {
		return nil
	}
	return d.Iso3a
}

func (d *Data) UID() []byte {
	if d.Iso3a == nil {
		return nil
	}
	return d.Iso3a.UIDBytes
}

func (*Data) Name() string { return "ISO14443-4A (Unknown)" }

func (d *Data) Reset() {
	if d.Iso3a != nil {
		d.Iso3a.Reset()
	}
	d.ATS = ATS{}
}

// Equal reports whether both cards have the same identity and ATS.
func (d *Data) Equal(other *Data) bool {
	if other == nil || d.Iso3a == nil || !d.Iso3a.Equal(other.Iso3a) {
		return false
	}
	a, b := d.ATS, other.ATS
	return a.TL == b.TL && a.T0 == b.T0 && a.TA1 == b.TA1 && a.TB1 == b.TB1 &&
		a.TC1 == b.TC1 && bytes.Equal(a.Historical, b.Historical)
}
