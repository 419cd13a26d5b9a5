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

// Package iso3a implements the ISO14443-3A layer: the anticollision
// poller that activates a card and the passive-target listener that
// emulates one. Both register themselves as the root of every protocol
// chain built on ISO14443-3A.
package iso3a

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
)

// MaxUIDLength is the length of a triple-size UID.
const MaxUIDLength = 10

// Timing of the ISO14443-3A poller, in microseconds (us) or carrier
// cycles (fc).
const (
	GuardTimeUs   = 5000
	FdtPollFc     = 1620
	FdtListenFc   = 1172
	PollPollMinUs = 1100
)

// ErrInvalidData is returned for card data that violates the layer's
// invariants.
var ErrInvalidData = errors.New("invalid ISO14443-3A data")

// Data is the card identity established by anticollision.
type Data struct {
	UIDBytes []byte
	ATQA     [2]byte
	SAK      byte
}

var _ protocol.Data = (*Data)(nil)

// NewData returns validated card data. uid is copied.
func NewData(uid []byte, atqa [2]byte, sak byte) (*Data, error) {
	d := &Data{UIDBytes: append([]byte(nil), uid...), ATQA: atqa, SAK: sak}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the UID length.
func (d *Data) Validate() error {
	switch len(d.UIDBytes) {
	case 4, 7, 10:
		return nil
	default:
		return fmt.Errorf("%w: uid length %d", ErrInvalidData, len(d.UIDBytes))
	}
}

func (*Data) Protocol() protocol.Protocol { return protocol.Iso14443_3a }

// BaseData is nil: ISO14443-3A is a root protocol.
func (*Data) BaseData() protocol.Data { return nil }

func (d *Data) UID() []byte { return d.UIDBytes }

func (*Data) Name() string { return "Unknown ISO14443-3A Tag" }

func (d *Data) Reset() {
	d.UIDBytes = d.UIDBytes[:0]
	d.ATQA = [2]byte{}
	d.SAK = 0
}

// Clone returns a deep copy of d.
func (d *Data) Clone() *Data {
	c := *d
	c.UIDBytes = append([]byte(nil), d.UIDBytes...)
	return &c
}

// Equal reports whether d and other describe the same card.
func (d *Data) Equal(other *Data) bool {
	return other != nil && bytes.Equal(d.UIDBytes, other.UIDBytes) &&
		d.ATQA == other.ATQA && d.SAK == other.SAK
}

func (d *Data) String() string {
	return fmt.Sprintf("UID % X ATQA % X SAK %02X", d.UIDBytes, d.ATQA[:], d.SAK)
}

// CUID returns the 32-bit card id used by MIFARE Classic authentication:
// the last four UID bytes, big endian.
func (d *Data) CUID() uint32 {
	if len(d.UIDBytes) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(d.UIDBytes[len(d.UIDBytes)-4:])
}

// AppendCRC appends the ISO14443-A CRC to b.
func AppendCRC(b *bitbuf.Buffer) { bitbuf.AppendCRC(bitbuf.CRCA, b) }

// CheckCRC reports whether b ends with a valid ISO14443-A CRC.
func CheckCRC(b *bitbuf.Buffer) bool { return bitbuf.CheckCRC(bitbuf.CRCA, b) }

// TrimCRC drops the trailing CRC of b.
func TrimCRC(b *bitbuf.Buffer) { bitbuf.TrimCRC(bitbuf.CRCA, b) }
