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

// Package mfclassic implements MIFARE Classic on top of ISO14443-3A: the
// card image, access bits, the Crypto1 authenticated channel for the
// poller and the listener, and the dictionary attack state machine.
package mfclassic

import (
	"bytes"
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Data is a MIFARE Classic card image together with what is known about
// its keys. Unknown keys are None; blocks count as read only once their
// bit in the read bitmap is set.
type Data struct {
	Iso3a  *iso3a.Data
	KeysA  [MaxSectors]mo.Option[Key]
	KeysB  [MaxSectors]mo.Option[Key]
	Blocks [MaxBlocks]Block
	Type   Type

	blockRead [MaxBlocks / 8]byte
}

var _ protocol.Data = (*Data)(nil)

// NewData returns an empty image for a card of type t.
func NewData(card *iso3a.Data, t Type) *Data {
	d := &Data{Type: t}
	if card != nil {
		d.Iso3a = card.Clone()
	} else {
		d.Iso3a = &iso3a.Data{}
	}
	return d
}

// Validate checks the identity and the type.
func (d *Data) Validate() error {
	if d.Iso3a == nil {
		return fmt.Errorf("%w: no ISO14443-3A data", ErrInvalidData)
	}
	if err := d.Iso3a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	if d.Type.Sectors() == 0 {
		return fmt.Errorf("%w: type %v", ErrInvalidData, d.Type)
	}
	return nil
}

func (*Data) Protocol() protocol.Protocol { return protocol.MfClassic }

func (d *Data) BaseData() protocol.Data { return d.Iso3a }

func (d *Data) UID() []byte {
	if d.Iso3a == nil {
		return nil
	}
	return d.Iso3a.UIDBytes
}

func (d *Data) Name() string {
	return "Mifare Classic " + d.Type.String()
}

// Reset forgets everything but the identity and the type.
func (d *Data) Reset() {
	d.KeysA = [MaxSectors]mo.Option[Key]{}
	d.KeysB = [MaxSectors]mo.Option[Key]{}
	d.Blocks = [MaxBlocks]Block{}
	d.blockRead = [MaxBlocks / 8]byte{}
}

// Clone returns a deep copy.
func (d *Data) Clone() *Data {
	c := *d
	if d.Iso3a != nil {
		c.Iso3a = d.Iso3a.Clone()
	}
	return &c
}

// Key returns the known key of the given type for sector.
func (d *Data) Key(sector int, kt KeyType) mo.Option[Key] {
	if sector < 0 || sector >= MaxSectors {
		return mo.None[Key]()
	}
	if kt == KeyTypeB {
		return d.KeysB[sector]
	}
	return d.KeysA[sector]
}

// IsKeyFound reports whether the key of the given type is known.
func (d *Data) IsKeyFound(sector int, kt KeyType) bool {
	return d.Key(sector, kt).IsPresent()
}

// SetKey records key and writes it into the trailer image.
func (d *Data) SetKey(sector int, kt KeyType, key Key) {
	if sector < 0 || sector >= MaxSectors {
		return
	}
	trailer := &d.Blocks[TrailerOfSector(sector)]
	if kt == KeyTypeB {
		d.KeysB[sector] = mo.Some(key)
		copy(trailer[trailerKeyBOffset:], key[:])
		return
	}
	d.KeysA[sector] = mo.Some(key)
	copy(trailer[trailerKeyAOffset:], key[:])
}

// ClearKey forgets a key.
func (d *Data) ClearKey(sector int, kt KeyType) {
	if sector < 0 || sector >= MaxSectors {
		return
	}
	if kt == KeyTypeB {
		d.KeysB[sector] = mo.None[Key]()
		return
	}
	d.KeysA[sector] = mo.None[Key]()
}

// IsBlockRead reports whether block holds data read from the card.
func (d *Data) IsBlockRead(block int) bool {
	if block < 0 || block >= MaxBlocks {
		return false
	}
	return d.blockRead[block/8]&(1<<(block%8)) != 0
}

// SetBlockRead stores a block read from the card. Card readers never
// see key A and rarely key B, so known keys are kept in a trailer.
func (d *Data) SetBlockRead(block int, data Block) {
	if block < 0 || block >= MaxBlocks {
		return
	}
	if IsSectorTrailer(block) {
		sector := SectorOfBlock(block)
		if key, ok := d.KeysA[sector].Get(); ok {
			copy(data[trailerKeyAOffset:], key[:])
		}
		if key, ok := d.KeysB[sector].Get(); ok {
			copy(data[trailerKeyBOffset:], key[:])
		}
	}
	d.Blocks[block] = data
	d.blockRead[block/8] |= 1 << (block % 8)
}

// ClearBlockRead marks block as not read.
func (d *Data) ClearBlockRead(block int) {
	if block < 0 || block >= MaxBlocks {
		return
	}
	d.blockRead[block/8] &^= 1 << (block % 8)
}

// IsSectorRead reports whether every block of sector was read.
func (d *Data) IsSectorRead(sector int) bool {
	first := FirstBlockOfSector(sector)
	return lo.EveryBy(lo.Range(BlocksInSector(sector)), func(i int) bool {
		return d.IsBlockRead(first + i)
	})
}

// SectorsReadAndKeysFound returns how many sectors are fully read and how
// many keys are known.
func (d *Data) SectorsReadAndKeysFound() (sectorsRead, keysFound int) {
	sectors := lo.Range(d.Type.Sectors())
	sectorsRead = lo.CountBy(sectors, d.IsSectorRead)
	keysFound = lo.CountBy(sectors, func(s int) bool { return d.KeysA[s].IsPresent() }) +
		lo.CountBy(sectors, func(s int) bool { return d.KeysB[s].IsPresent() })
	return sectorsRead, keysFound
}

// IsCardRead reports whether every sector is read and every key known.
func (d *Data) IsCardRead() bool {
	sectorsRead, keysFound := d.SectorsReadAndKeysFound()
	total := d.Type.Sectors()
	return sectorsRead == total && keysFound == 2*total
}

// AccessBits returns the access bits of sector as stored in the image.
func (d *Data) AccessBits(sector int) AccessBits {
	trailer := d.Blocks[TrailerOfSector(sector)]
	return AccessBits(trailer[trailerAccessBytes : trailerAccessBytes+3])
}

// IsAllowed evaluates the access bits of the sector holding block.
func (d *Data) IsAllowed(block int, kt KeyType, action Action) bool {
	return d.AccessBits(SectorOfBlock(block)).Allowed(accessGroup(block), kt, action)
}

// Merge takes the keys and blocks of seed when it describes the same
// card. It reports whether anything was taken.
func (d *Data) Merge(seed *Data) bool {
	if seed == nil || seed.Type != d.Type || !bytes.Equal(seed.UID(), d.UID()) {
		return false
	}
	for b := range d.Type.Blocks() {
		if seed.IsBlockRead(b) {
			d.Blocks[b] = seed.Blocks[b]
			d.blockRead[b/8] |= 1 << (b % 8)
		}
	}
	for s := range d.Type.Sectors() {
		seed.KeysA[s].ForEach(func(key Key) { d.SetKey(s, KeyTypeA, key) })
		seed.KeysB[s].ForEach(func(key Key) { d.SetKey(s, KeyTypeB, key) })
	}
	return true
}

// Equal compares identity, keys and blocks read.
func (d *Data) Equal(other *Data) bool {
	if other == nil || d.Type != other.Type || d.blockRead != other.blockRead {
		return false
	}
	if (d.Iso3a == nil) != (other.Iso3a == nil) || (d.Iso3a != nil && !d.Iso3a.Equal(other.Iso3a)) {
		return false
	}
	for s := range MaxSectors {
		if d.KeysA[s] != other.KeysA[s] || d.KeysB[s] != other.KeysB[s] {
			return false
		}
	}
	for b := range MaxBlocks {
		if d.IsBlockRead(b) && d.Blocks[b] != other.Blocks[b] {
			return false
		}
	}
	return true
}

// NewTransportImage returns an image of a blank card: every key FFFFFFFFFFFF,
// transport access bits, and all blocks marked read.
func NewTransportImage(card *iso3a.Data, t Type) *Data {
	d := NewData(card, t)
	key := KeyFromUint64(0xFFFFFFFFFFFF)
	for s := range t.Sectors() {
		trailer := Block{}
		copy(trailer[trailerAccessBytes:], DefaultAccessBits[:])
		trailer[trailerGPBOffset] = 0x69
		d.SetBlockRead(TrailerOfSector(s), trailer)
		d.SetKey(s, KeyTypeA, key)
		d.SetKey(s, KeyTypeB, key)
		first := FirstBlockOfSector(s)
		for i := range BlocksInSector(s) - 1 {
			d.SetBlockRead(first+i, Block{})
		}
	}
	if card != nil && len(card.UIDBytes) == 4 {
		var block0 Block
		copy(block0[:], card.UIDBytes)
		block0[4] = card.UIDBytes[0] ^ card.UIDBytes[1] ^ card.UIDBytes[2] ^ card.UIDBytes[3]
		block0[5] = card.SAK
		block0[6] = card.ATQA[0]
		block0[7] = card.ATQA[1]
		d.SetBlockRead(0, block0)
	}
	return d
}
