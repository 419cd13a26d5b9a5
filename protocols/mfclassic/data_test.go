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
	"testing"

	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCard(t *testing.T) *iso3a.Data {
	t.Helper()
	card, err := iso3a.NewData([]byte{0xDE, 0xAD, 0xBE, 0xEF}, [2]byte{0x04, 0x00}, 0x08)
	require.NoError(t, err)
	return card
}

func TestSetKeyWritesTrailer(t *testing.T) {
	t.Parallel()

	d := NewData(testCard(t), Type1K)
	keyA := KeyFromUint64(0xA0A1A2A3A4A5)
	keyB := KeyFromUint64(0xB0B1B2B3B4B5)
	d.SetKey(2, KeyTypeA, keyA)
	d.SetKey(2, KeyTypeB, keyB)

	trailer := d.Blocks[TrailerOfSector(2)]
	assert.Equal(t, keyA[:], trailer[0:6])
	assert.Equal(t, keyB[:], trailer[10:16])
	assert.True(t, d.IsKeyFound(2, KeyTypeA))
	assert.False(t, d.IsKeyFound(3, KeyTypeA))

	d.ClearKey(2, KeyTypeA)
	assert.False(t, d.IsKeyFound(2, KeyTypeA))
	assert.True(t, d.Key(MaxSectors, KeyTypeA).IsAbsent())
}

func TestSetBlockReadKeepsKeys(t *testing.T) {
	t.Parallel()

	d := NewData(testCard(t), Type1K)
	key := KeyFromUint64(0x112233445566)
	d.SetKey(1, KeyTypeA, key)

	// cards never return key A
	var read Block
	copy(read[6:], DefaultAccessBits[:])
	d.SetBlockRead(7, read)

	assert.True(t, d.IsBlockRead(7))
	assert.Equal(t, key[:], d.Blocks[7][0:6])
	assert.Equal(t, DefaultAccessBits, d.AccessBits(1))
	assert.False(t, d.IsSectorRead(1))

	for b := 4; b < 7; b++ {
		d.SetBlockRead(b, Block{})
	}
	assert.True(t, d.IsSectorRead(1))

	d.ClearBlockRead(5)
	assert.False(t, d.IsSectorRead(1))
}

func TestSectorsReadAndKeysFound(t *testing.T) {
	t.Parallel()

	d := NewTransportImage(testCard(t), TypeMini)
	sectors, keys := d.SectorsReadAndKeysFound()
	assert.Equal(t, 5, sectors)
	assert.Equal(t, 10, keys)
	assert.True(t, d.IsCardRead())

	d.ClearKey(4, KeyTypeB)
	d.ClearBlockRead(0)
	sectors, keys = d.SectorsReadAndKeysFound()
	assert.Equal(t, 4, sectors)
	assert.Equal(t, 9, keys)
	assert.False(t, d.IsCardRead())
}

func TestTransportImage(t *testing.T) {
	t.Parallel()

	d := NewTransportImage(testCard(t), Type1K)
	require.NoError(t, d.Validate())

	block0 := d.Blocks[0]
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xDE ^ 0xAD ^ 0xBE ^ 0xEF, 0x08, 0x04, 0x00}, block0[:8])
	trailer := d.Blocks[TrailerOfSector(15)]
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x07, 0x80, 0x69}, trailer[:10])
	assert.True(t, d.IsAllowed(4, KeyTypeB, ActionDataWrite))
	assert.Equal(t, "Mifare Classic 1K", d.Name())
}

func TestMerge(t *testing.T) {
	t.Parallel()

	card := testCard(t)
	seed := NewData(card, Type1K)
	key := KeyFromUint64(0xD3F7D3F7D3F7)
	seed.SetKey(3, KeyTypeB, key)
	seed.SetBlockRead(12, Block{1, 2, 3})

	d := NewData(card, Type1K)
	require.True(t, d.Merge(seed))
	assert.True(t, d.IsBlockRead(12))
	assert.Equal(t, Block{1, 2, 3}, d.Blocks[12])
	got, ok := d.Key(3, KeyTypeB).Get()
	require.True(t, ok)
	assert.Equal(t, key, got)
	assert.True(t, d.Equal(seed))

	other, err := iso3a.NewData([]byte{1, 2, 3, 4}, [2]byte{0x04, 0x00}, 0x08)
	require.NoError(t, err)
	stranger := NewData(other, Type1K)
	assert.False(t, stranger.Merge(seed))
	assert.False(t, NewData(card, Type4K).Merge(seed))
	assert.False(t, d.Merge(nil))
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	d := NewTransportImage(testCard(t), TypeMini)
	c := d.Clone()
	c.Iso3a.UIDBytes[0] = 0x00
	c.SetKey(0, KeyTypeA, KeyFromUint64(1))

	assert.Equal(t, byte(0xDE), d.Iso3a.UIDBytes[0])
	assert.False(t, d.Equal(c))

	d.Reset()
	sectors, keys := d.SectorsReadAndKeysFound()
	assert.Zero(t, sectors)
	assert.Zero(t, keys)
	assert.Equal(t, TypeMini, d.Type)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, (&Data{}).Validate(), ErrInvalidData)
	require.ErrorIs(t, NewData(testCard(t), Type(9)).Validate(), ErrInvalidData)
	require.NoError(t, NewData(testCard(t), Type2K).Validate())
}
