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

package snapshot

import (
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/ZaparooProject/go-nfc/protocols/mfultralight"
)

type iso3aRecord struct {
	UID  []byte `cbor:"1,keyasint"`
	ATQA []byte `cbor:"2,keyasint"`
	SAK  uint8  `cbor:"3,keyasint"`
}

func fromIso3a(d *iso3a.Data) iso3aRecord {
	return iso3aRecord{UID: d.UIDBytes, ATQA: d.ATQA[:], SAK: d.SAK}
}

func (r iso3aRecord) data() (*iso3a.Data, error) {
	if len(r.ATQA) != 2 {
		return nil, fmt.Errorf("%w: ATQA of %d bytes", ErrFormat, len(r.ATQA))
	}
	d, err := iso3a.NewData(r.UID, [2]byte(r.ATQA), r.SAK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return d, nil
}

// EncodeIso3a stores the identity of an ISO14443-3A card.
func EncodeIso3a(d *iso3a.Data) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return encode(KindIso3a, fromIso3a(d))
}

// DecodeIso3a reads a snapshot written by EncodeIso3a.
func DecodeIso3a(b []byte) (*iso3a.Data, Info, error) {
	var rec iso3aRecord
	info, err := decode(b, KindIso3a, &rec)
	if err != nil {
		return nil, info, err
	}
	d, err := rec.data()
	return d, info, err
}

type mfClassicRecord struct {
	Card   iso3aRecord       `cbor:"1,keyasint"`
	Type   uint8             `cbor:"2,keyasint"`
	KeysA  map[uint8][]byte  `cbor:"3,keyasint,omitempty"`
	KeysB  map[uint8][]byte  `cbor:"4,keyasint,omitempty"`
	Blocks map[uint16][]byte `cbor:"5,keyasint,omitempty"`
}

// EncodeMfClassic stores the known keys and the blocks read of a MIFARE
// Classic image.
func EncodeMfClassic(d *mfclassic.Data) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	rec := mfClassicRecord{
		Card:   fromIso3a(d.Iso3a),
		Type:   uint8(d.Type),
		KeysA:  make(map[uint8][]byte),
		KeysB:  make(map[uint8][]byte),
		Blocks: make(map[uint16][]byte),
	}
	for s := range d.Type.Sectors() {
		if key, ok := d.KeysA[s].Get(); ok {
			rec.KeysA[uint8(s)] = key[:]
		}
		if key, ok := d.KeysB[s].Get(); ok {
			rec.KeysB[uint8(s)] = key[:]
		}
	}
	for b := range d.Type.Blocks() {
		if d.IsBlockRead(b) {
			block := d.Blocks[b]
			rec.Blocks[uint16(b)] = block[:]
		}
	}
	return encode(KindMfClassic, rec)
}

// DecodeMfClassic reads a snapshot written by EncodeMfClassic.
func DecodeMfClassic(b []byte) (*mfclassic.Data, Info, error) {
	var rec mfClassicRecord
	info, err := decode(b, KindMfClassic, &rec)
	if err != nil {
		return nil, info, err
	}
	card, err := rec.Card.data()
	if err != nil {
		return nil, info, err
	}
	d := mfclassic.NewData(card, mfclassic.Type(rec.Type))
	if err := d.Validate(); err != nil {
		return nil, info, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	for _, keys := range []struct {
		m  map[uint8][]byte
		kt mfclassic.KeyType
	}{{rec.KeysA, mfclassic.KeyTypeA}, {rec.KeysB, mfclassic.KeyTypeB}} {
		for s, raw := range keys.m {
			if int(s) >= d.Type.Sectors() || len(raw) != mfclassic.KeySize {
				return nil, info, fmt.Errorf("%w: key %v of sector %d", ErrFormat, keys.kt, s)
			}
			d.SetKey(int(s), keys.kt, mfclassic.Key(raw))
		}
	}
	for n, raw := range rec.Blocks {
		if int(n) >= d.Type.Blocks() || len(raw) != mfclassic.BlockSize {
			return nil, info, fmt.Errorf("%w: block %d", ErrFormat, n)
		}
		d.SetBlockRead(int(n), mfclassic.Block(raw))
	}
	return d, info, nil
}

type mfUltralightRecord struct {
	Card      iso3aRecord `cbor:"1,keyasint"`
	Type      uint8       `cbor:"2,keyasint"`
	Version   []byte      `cbor:"3,keyasint,omitempty"`
	Signature []byte      `cbor:"4,keyasint,omitempty"`
	Pages     []byte      `cbor:"5,keyasint"`
}

// EncodeMfUltralight stores the pages read of a MIFARE Ultralight or
// NTAG image.
func EncodeMfUltralight(d *mfultralight.Data) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	rec := mfUltralightRecord{
		Card:  fromIso3a(d.Iso3a),
		Type:  uint8(d.Type),
		Pages: d.Bytes(),
	}
	if d.Type.Features().Has(mfultralight.FeatureReadVersion) {
		rec.Version = d.Version.Bytes()
	}
	if d.Signature != (mfultralight.Signature{}) {
		rec.Signature = d.Signature[:]
	}
	return encode(KindMfUltralight, rec)
}

// DecodeMfUltralight reads a snapshot written by EncodeMfUltralight.
func DecodeMfUltralight(b []byte) (*mfultralight.Data, Info, error) {
	var rec mfUltralightRecord
	info, err := decode(b, KindMfUltralight, &rec)
	if err != nil {
		return nil, info, err
	}
	card, err := rec.Card.data()
	if err != nil {
		return nil, info, err
	}
	if rec.Type > uint8(mfultralight.TypeNTAG216) {
		return nil, info, fmt.Errorf("%w: ultralight type %d", ErrFormat, rec.Type)
	}
	d := mfultralight.NewData(card, mfultralight.Type(rec.Type))
	if len(rec.Pages)%mfultralight.PageSize != 0 || len(rec.Pages)/mfultralight.PageSize > len(d.Pages) {
		return nil, info, fmt.Errorf("%w: %d page bytes", ErrFormat, len(rec.Pages))
	}
	for i := range len(rec.Pages) / mfultralight.PageSize {
		d.Pages[i] = mfultralight.Page(rec.Pages[i*mfultralight.PageSize:])
	}
	d.PagesRead = len(rec.Pages) / mfultralight.PageSize
	if rec.Version != nil {
		if d.Version, err = mfultralight.ParseVersion(rec.Version); err != nil {
			return nil, info, fmt.Errorf("%w: %w", ErrFormat, err)
		}
	}
	if rec.Signature != nil {
		if len(rec.Signature) != mfultralight.SignatureSize {
			return nil, info, fmt.Errorf("%w: signature of %d bytes", ErrFormat, len(rec.Signature))
		}
		d.Signature = mfultralight.Signature(rec.Signature)
	}
	if err := d.Validate(); err != nil {
		return nil, info, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	return d, info, nil
}
