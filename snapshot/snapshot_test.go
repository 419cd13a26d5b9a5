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
	"testing"

	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/ZaparooProject/go-nfc/protocols/mfultralight"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCard(t *testing.T, uid []byte, sak byte) *iso3a.Data {
	t.Helper()
	card, err := iso3a.NewData(uid, [2]byte{0x04, 0x00}, sak)
	require.NoError(t, err)
	return card
}

func TestIso3aSnapshot(t *testing.T) {
	t.Parallel()

	card := testCard(t, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, 0x00)
	b, err := EncodeIso3a(card)
	require.NoError(t, err)

	got, info, err := DecodeIso3a(b)
	require.NoError(t, err)
	assert.True(t, card.Equal(got))
	assert.Equal(t, KindIso3a, info.Kind)
	assert.NotEqual(t, uuid.Nil, info.ID)
	assert.Equal(t, uint(Version), info.Version)
}

func TestMfClassicSnapshotKeepsOnlyWhatWasRead(t *testing.T) {
	t.Parallel()

	card := testCard(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, 0x08)
	d := mfclassic.NewData(card, mfclassic.Type1K)
	d.SetKey(1, mfclassic.KeyTypeA, mfclassic.KeyFromUint64(0xA0A1A2A3A4A5))
	d.SetKey(15, mfclassic.KeyTypeB, mfclassic.KeyFromUint64(0xD3F7D3F7D3F7))
	d.SetBlockRead(4, mfclassic.Block{0x01, 0x02})
	d.SetBlockRead(63, mfclassic.Block{15: 0xFF})

	b, err := EncodeMfClassic(d)
	require.NoError(t, err)
	got, info, err := DecodeMfClassic(b)
	require.NoError(t, err)

	assert.Equal(t, KindMfClassic, info.Kind)
	assert.True(t, d.Equal(got))
	assert.False(t, got.IsBlockRead(5))
	assert.False(t, got.IsKeyFound(1, mfclassic.KeyTypeB))
	_, keys := got.SectorsReadAndKeysFound()
	assert.Equal(t, 2, keys)
}

func TestMfClassicTransportImage(t *testing.T) {
	t.Parallel()

	d := mfclassic.NewTransportImage(testCard(t, []byte{1, 2, 3, 4}, 0x18), mfclassic.Type4K)
	b, err := EncodeMfClassic(d)
	require.NoError(t, err)
	got, _, err := DecodeMfClassic(b)
	require.NoError(t, err)
	assert.True(t, got.IsCardRead())
	assert.True(t, d.Equal(got))
}

func TestMfUltralightSnapshot(t *testing.T) {
	t.Parallel()

	card := testCard(t, []byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, 0x00)
	d := mfultralight.NewImage(card, mfultralight.TypeNTAG215)
	d.Pages[4] = mfultralight.Page{0x03, 0x00, 0xFE, 0x00}
	d.Signature[0] = 0x42

	b, err := EncodeMfUltralight(d)
	require.NoError(t, err)
	got, _, err := DecodeMfUltralight(b)
	require.NoError(t, err)
	assert.True(t, d.Equal(got))

	partial := mfultralight.NewData(card, mfultralight.TypeUnknown)
	partial.PagesRead = 8
	b, err = EncodeMfUltralight(partial)
	require.NoError(t, err)
	got, _, err = DecodeMfUltralight(b)
	require.NoError(t, err)
	assert.Equal(t, 8, got.PagesRead)
	assert.False(t, got.IsComplete())
}

func TestWrongKind(t *testing.T) {
	t.Parallel()

	b, err := EncodeIso3a(testCard(t, []byte{1, 2, 3, 4}, 0x08))
	require.NoError(t, err)
	_, _, err = DecodeMfClassic(b)
	require.ErrorIs(t, err, ErrKind)

	info, err := Inspect(b)
	require.NoError(t, err)
	assert.Equal(t, KindIso3a, info.Kind)
}

func TestInvalidSnapshots(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	badVersion, err := cbor.Marshal(envelope{Version: 99, Kind: KindIso3a, ID: id[:]})
	require.NoError(t, err)
	body, err := cbor.Marshal(iso3aRecord{UID: []byte{1, 2, 3}, ATQA: []byte{4, 0}})
	require.NoError(t, err)
	badUID, err := cbor.Marshal(envelope{Version: Version, Kind: KindIso3a, ID: id[:], Body: body})
	require.NoError(t, err)
	badID, err := cbor.Marshal(envelope{Version: Version, Kind: KindIso3a, ID: []byte{1}})
	require.NoError(t, err)

	tests := []struct {
		name string
		b    []byte
	}{
		{name: "garbage", b: []byte{0xFF, 0x00, 0x13}},
		{name: "empty", b: nil},
		{name: "version", b: badVersion},
		{name: "uid length", b: badUID},
		{name: "id", b: badID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := DecodeIso3a(tt.b)
			require.ErrorIs(t, err, ErrFormat)
		})
	}
}

func FuzzDecodeMfClassic(f *testing.F) {
	card, err := iso3a.NewData([]byte{1, 2, 3, 4}, [2]byte{0x04, 0x00}, 0x08)
	if err != nil {
		f.Fatal(err)
	}
	seed, err := EncodeMfClassic(mfclassic.NewTransportImage(card, mfclassic.TypeMini))
	if err != nil {
		f.Fatal(err)
	}
	f.Add(seed)
	f.Fuzz(func(t *testing.T, b []byte) {
		d, _, err := DecodeMfClassic(b)
		if err == nil {
			require.NoError(t, d.Validate())
		}
	})
}
