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

package mfultralight

import (
	"testing"

	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCard(t *testing.T) *iso3a.Data {
	t.Helper()
	card, err := iso3a.NewData([]byte{0x04, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, [2]byte{0x00, 0x44}, 0x00)
	require.NoError(t, err)
	return card
}

func TestNewImageSerialPages(t *testing.T) {
	t.Parallel()

	d := NewImage(testCard(t), TypeNTAG213)
	require.NoError(t, d.Validate())

	assert.Equal(t, Page{0x04, 0x11, 0x22, 0x88 ^ 0x04 ^ 0x11 ^ 0x22}, d.Pages[0])
	assert.Equal(t, Page{0x33, 0x44, 0x55, 0x66}, d.Pages[1])
	assert.Equal(t, byte(0x33^0x44^0x55^0x66), d.Pages[2][0])
	assert.Equal(t, Page{0xE1, 0x10, 0x12, 0x00}, d.Pages[3])
	assert.True(t, d.IsComplete())
	assert.Len(t, d.Bytes(), 45*PageSize)
	assert.Equal(t, "NTAG213", d.Name())
}

func TestDataCloneAndReset(t *testing.T) {
	t.Parallel()

	d := NewImage(testCard(t), TypeUL11)
	c := d.Clone()
	assert.True(t, d.Equal(c))

	c.Pages[4] = Page{1, 2, 3, 4}
	assert.Equal(t, Page{}, d.Pages[4])
	assert.False(t, d.Equal(c))

	d.Reset()
	assert.Zero(t, d.PagesRead)
	assert.Empty(t, d.Bytes())
	assert.Equal(t, TypeUL11, d.Type)
}

func TestDataValidate(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, (&Data{}).Validate(), ErrInvalidData)

	d := NewData(testCard(t), TypeNTAG215)
	d.Pages = d.Pages[:10]
	require.ErrorIs(t, d.Validate(), ErrInvalidData)

	d = NewData(testCard(t), TypeNTAG215)
	d.PagesRead = 500
	require.ErrorIs(t, d.Validate(), ErrInvalidData)
}
