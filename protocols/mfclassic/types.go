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

package mfclassic

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Memory geometry
const (
	BlockSize  = 16
	KeySize    = 6
	MaxSectors = 40
	MaxBlocks  = 256

	smallSectorBlocks = 4
	largeSectorBlocks = 16
	smallSectors      = 32
)

// Sector trailer layout
const (
	trailerKeyAOffset  = 0
	trailerAccessBytes = 6
	trailerGPBOffset   = 9
	trailerKeyBOffset  = 10
)

// Type is the card variant, which fixes the memory layout.
type Type int

const (
	TypeMini Type = iota
	Type1K
	Type2K
	Type4K
)

func (t Type) String() string {
	switch t {
	case TypeMini:
		return "Mini"
	case Type1K:
		return "1K"
	case Type2K:
		return "2K"
	case Type4K:
		return "4K"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Sectors returns the number of sectors of the variant.
func (t Type) Sectors() int {
	switch t {
	case TypeMini:
		return 5
	case Type1K:
		return 16
	case Type2K:
		return 32
	case Type4K:
		return 40
	default:
		return 0
	}
}

// Blocks returns the number of blocks of the variant.
func (t Type) Blocks() int {
	switch t {
	case TypeMini:
		return 20
	case Type1K:
		return 64
	case Type2K:
		return 128
	case Type4K:
		return 256
	default:
		return 0
	}
}

// TypeFromSAK maps the select acknowledge of a card to its variant.
func TypeFromSAK(sak byte) (Type, bool) {
	switch sak {
	case 0x09:
		return TypeMini, true
	case 0x08, 0x88, 0x28:
		return Type1K, true
	case 0x19:
		return Type2K, true
	case 0x18, 0x38, 0x98:
		return Type4K, true
	default:
		return 0, false
	}
}

// SAK returns the select acknowledge a card of this variant answers with.
func (t Type) SAK() byte {
	switch t {
	case TypeMini:
		return 0x09
	case Type2K:
		return 0x19
	case Type4K:
		return 0x18
	default:
		return 0x08
	}
}

// KeyType selects key A or key B of a sector.
type KeyType int

const (
	KeyTypeA KeyType = iota
	KeyTypeB
)

func (k KeyType) String() string {
	if k == KeyTypeB {
		return "B"
	}
	return "A"
}

func (k KeyType) authCmd() byte {
	if k == KeyTypeB {
		return cmdAuthKeyB
	}
	return cmdAuthKeyA
}

// Key is a 48-bit sector key.
type Key [KeySize]byte

// KeyFromUint64 returns the key whose big-endian value is v.
func KeyFromUint64(v uint64) Key {
	var k Key
	for i := KeySize - 1; i >= 0; i-- {
		k[i] = byte(v)
		v >>= 8
	}
	return k
}

// ParseKey parses a key written as 12 hex digits.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return k, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

// Uint64 returns the big-endian value of the key.
func (k Key) Uint64() uint64 {
	var v uint64
	for _, b := range k {
		v = v<<8 | uint64(b)
	}
	return v
}

func (k Key) String() string {
	return strings.ToUpper(hex.EncodeToString(k[:]))
}

// Block is one 16-byte memory block.
type Block [BlockSize]byte

// FirstBlockOfSector returns the first block number of sector.
func FirstBlockOfSector(sector int) int {
	if sector < smallSectors {
		return sector * smallSectorBlocks
	}
	return smallSectors*smallSectorBlocks + (sector-smallSectors)*largeSectorBlocks
}

// BlocksInSector returns the number of blocks of sector.
func BlocksInSector(sector int) int {
	if sector < smallSectors {
		return smallSectorBlocks
	}
	return largeSectorBlocks
}

// SectorOfBlock returns the sector holding block.
func SectorOfBlock(block int) int {
	if block < smallSectors*smallSectorBlocks {
		return block / smallSectorBlocks
	}
	return smallSectors + (block-smallSectors*smallSectorBlocks)/largeSectorBlocks
}

// TrailerOfSector returns the block number of the sector trailer.
func TrailerOfSector(sector int) int {
	return FirstBlockOfSector(sector) + BlocksInSector(sector) - 1
}

// IsSectorTrailer reports whether block is the last block of its sector.
func IsSectorTrailer(block int) bool {
	return block == TrailerOfSector(SectorOfBlock(block))
}

// accessGroup returns which of the four access conditions of the sector
// trailer governs block. Large sectors share one condition between five
// data blocks.
func accessGroup(block int) int {
	sector := SectorOfBlock(block)
	offset := block - FirstBlockOfSector(sector)
	if BlocksInSector(sector) == smallSectorBlocks {
		return offset
	}
	if offset == largeSectorBlocks-1 {
		return 3
	}
	return offset / 5
}
