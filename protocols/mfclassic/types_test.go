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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeFromSAK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sak  byte
		want Type
		ok   bool
	}{
		{name: "mini", sak: 0x09, want: TypeMini, ok: true},
		{name: "1k", sak: 0x08, want: Type1K, ok: true},
		{name: "1k infineon", sak: 0x88, want: Type1K, ok: true},
		{name: "2k", sak: 0x19, want: Type2K, ok: true},
		{name: "4k", sak: 0x18, want: Type4K, ok: true},
		{name: "4k emulated", sak: 0x38, want: Type4K, ok: true},
		{name: "ultralight", sak: 0x00},
		{name: "desfire", sak: 0x20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := TypeFromSAK(tt.sak)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestTypeLayout(t *testing.T) {
	t.Parallel()

	for _, typ := range []Type{TypeMini, Type1K, Type2K, Type4K} {
		last := typ.Sectors() - 1
		assert.Equal(t, typ.Blocks()-1, TrailerOfSector(last), typ.String())
		got, ok := TypeFromSAK(typ.SAK())
		require.True(t, ok)
		assert.Equal(t, typ, got)
	}
}

func TestGeometry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		block   int
		sector  int
		trailer bool
		group   int
	}{
		{block: 0, sector: 0, group: 0},
		{block: 3, sector: 0, trailer: true, group: 3},
		{block: 4, sector: 1, group: 0},
		{block: 127, sector: 31, trailer: true, group: 3},
		{block: 128, sector: 32, group: 0},
		{block: 134, sector: 32, group: 1},
		{block: 142, sector: 32, group: 2},
		{block: 143, sector: 32, trailer: true, group: 3},
		{block: 255, sector: 39, trailer: true, group: 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.sector, SectorOfBlock(tt.block), "sector of %d", tt.block)
		assert.Equal(t, tt.trailer, IsSectorTrailer(tt.block), "trailer %d", tt.block)
		assert.Equal(t, tt.group, accessGroup(tt.block), "group of %d", tt.block)
	}
	assert.Equal(t, 128, FirstBlockOfSector(32))
	assert.Equal(t, 16, BlocksInSector(32))
	assert.Equal(t, 4, BlocksInSector(31))
}

func TestKeyConversions(t *testing.T) {
	t.Parallel()

	key := KeyFromUint64(0xA0A1A2A3A4A5)
	assert.Equal(t, Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, key)
	assert.Equal(t, uint64(0xA0A1A2A3A4A5), key.Uint64())
	assert.Equal(t, "A0A1A2A3A4A5", key.String())

	parsed, err := ParseKey(" a0a1a2a3a4a5 ")
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	_, err = ParseKey("A0A1A2")
	require.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseKey("not hex at all")
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestDefaultAccessBits(t *testing.T) {
	t.Parallel()

	require.True(t, DefaultAccessBits.Valid())
	assert.Equal(t, DefaultAccessBits, NewAccessBits([4]byte{0, 0, 0, 1}))
	for group := range 3 {
		assert.Equal(t, byte(0), DefaultAccessBits.Condition(group))
	}
	assert.Equal(t, byte(1), DefaultAccessBits.Condition(3))
}

func TestAccessBitsAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bits   AccessBits
		group  int
		kt     KeyType
		action Action
		want   bool
	}{
		{name: "transport data read A", bits: DefaultAccessBits, group: 0, kt: KeyTypeA, action: ActionDataRead, want: true},
		{name: "transport data write B", bits: DefaultAccessBits, group: 2, kt: KeyTypeB, action: ActionDataWrite, want: true},
		{name: "transport key A never readable", bits: DefaultAccessBits, group: 3, kt: KeyTypeA, action: ActionKeyARead},
		{name: "transport key B readable with A", bits: DefaultAccessBits, group: 3, kt: KeyTypeA, action: ActionKeyBRead, want: true},
		{name: "transport access bits not writable with B", bits: DefaultAccessBits, group: 3, kt: KeyTypeB, action: ActionACWrite},
		{name: "data action on trailer", bits: DefaultAccessBits, group: 3, kt: KeyTypeA, action: ActionDataRead},
		{name: "trailer action on data", bits: DefaultAccessBits, group: 0, kt: KeyTypeA, action: ActionKeyBRead},
		{name: "key B only read denies A", bits: NewAccessBits([4]byte{3, 0, 0, 1}), group: 0, kt: KeyTypeA, action: ActionDataRead},
		{name: "key B only read allows B", bits: NewAccessBits([4]byte{3, 0, 0, 1}), group: 0, kt: KeyTypeB, action: ActionDataRead, want: true},
		{name: "value block increment B", bits: NewAccessBits([4]byte{0, 6, 0, 3}), group: 1, kt: KeyTypeB, action: ActionDataInc, want: true},
		{name: "value block increment A", bits: NewAccessBits([4]byte{0, 6, 0, 3}), group: 1, kt: KeyTypeA, action: ActionDataInc},
		{name: "locked trailer", bits: NewAccessBits([4]byte{0, 0, 0, 7}), group: 3, kt: KeyTypeB, action: ActionKeyBWrite},
		{name: "corrupt bits deny", bits: AccessBits{0x00, 0x00, 0x00}, group: 0, kt: KeyTypeA, action: ActionDataRead},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.bits.Allowed(tt.group, tt.kt, tt.action))
		})
	}
}

func TestNewAccessBitsRoundTrip(t *testing.T) {
	t.Parallel()

	conds := [4]byte{1, 4, 6, 3}
	bits := NewAccessBits(conds)
	require.True(t, bits.Valid())
	for group, want := range conds {
		assert.Equal(t, want, bits.Condition(group))
	}
}
