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

package bitbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendCRCKnownFrames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "HLTA", in: []byte{0x50, 0x00}, want: []byte{0x50, 0x00, 0x57, 0xCD}},
		{name: "READ block 0", in: []byte{0x30, 0x00}, want: []byte{0x30, 0x00, 0x02, 0xA8}},
		{name: "RATS", in: []byte{0xE0, 0x80}, want: []byte{0xE0, 0x80, 0x31, 0x73}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := FromBytes(tt.in)
			AppendCRC(CRCA, buf)
			assert.Equal(t, tt.want, buf.Bytes())
			assert.True(t, CheckCRC(CRCA, buf))
		})
	}
}

func TestCRCRoundTrip(t *testing.T) {
	t.Parallel()

	inputs := [][]byte{
		{0x00},
		{0xFF},
		{0x93, 0x70, 0x01, 0x02, 0x03, 0x04, 0x04},
		make([]byte, 64),
	}

	for _, kind := range []CRCKind{CRCA, CRCB} {
		for _, in := range inputs {
			buf := FromBytes(in)
			AppendCRC(kind, buf)
			require.True(t, CheckCRC(kind, buf))
			TrimCRC(kind, buf)
			assert.Equal(t, in, buf.Bytes())
			assert.Equal(t, len(in)*8, buf.SizeBits())
		}
	}
}

func TestCheckCRCRejects(t *testing.T) {
	t.Parallel()

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		assert.False(t, CheckCRC(CRCA, FromBytes([]byte{0x63, 0x63})))
	})

	t.Run("corrupted", func(t *testing.T) {
		t.Parallel()
		buf := FromBytes([]byte{0x50, 0x00, 0x57, 0xCE})
		assert.False(t, CheckCRC(CRCA, buf))
	})

	t.Run("not byte aligned", func(t *testing.T) {
		t.Parallel()
		buf := FromBits([]byte{0x50, 0x00, 0x57, 0x0D}, 28)
		assert.False(t, CheckCRC(CRCA, buf))
	})

	t.Run("kinds differ", func(t *testing.T) {
		t.Parallel()
		buf := FromBytes([]byte{0x01, 0x02})
		AppendCRC(CRCB, buf)
		assert.False(t, CheckCRC(CRCA, buf))
	})
}

func FuzzCRCRoundTrip(f *testing.F) {
	f.Add([]byte{0x50, 0x00})
	f.Add([]byte{0x26})
	f.Add([]byte{0x60, 0x04, 0xD1, 0x3D})

	f.Fuzz(func(t *testing.T, in []byte) {
		if len(in) == 0 {
			return
		}
		buf := FromBytes(in)
		AppendCRC(CRCA, buf)
		if !CheckCRC(CRCA, buf) {
			t.Fatalf("CRC check failed for % X", in)
		}
		TrimCRC(CRCA, buf)
		if !FromBytes(in).Equal(buf) {
			t.Fatalf("trim changed payload: % X != % X", buf.Bytes(), in)
		}
	})
}
