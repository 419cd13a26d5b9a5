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

package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ZaparooProject/go-nfc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{name: "empty", data: []byte{}, want: 0x00},
		{name: "single byte", data: []byte{0x42}, want: 0xBE},
		{name: "wraps", data: []byte{0xFF, 0x01}, want: 0x00},
		{name: "several bytes", data: []byte{0x01, 0x02, 0x03, 0x04}, want: 0xF6},
		{name: "tfi and command", data: []byte{HostToDevice, 0x02}, want: 0x2A},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Checksum(tt.data...))
			assert.True(t, Verify(tt.data, tt.want))
			assert.False(t, Verify(tt.data, tt.want+1))
		})
	}
}

func TestEncodeNormalFrame(t *testing.T) {
	t.Parallel()

	got, err := Encode(HostToDevice, []byte{0x16})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD4, 0x16, 0x16, 0x00}, got)
}

func TestEncodeExtendedFrame(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0xA5}, 300)
	got, err := Encode(DeviceToHost, payload)
	require.NoError(t, err)

	assert.Equal(t, []byte{0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x01, 0x2D}, got[:7])
	assert.Equal(t, byte(0), got[5]+got[6]+got[7])
	assert.Len(t, got, 3+5+1+300+2)

	f, n, err := Decode(got)
	require.NoError(t, err)
	assert.Equal(t, len(got)-1, n)
	assert.Equal(t, byte(DeviceToHost), f.TFI)
	assert.Equal(t, payload, f.Payload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	_, err := Encode(HostToDevice, make([]byte, MaxDataLength))
	require.Error(t, err)
	assert.ErrorIs(t, err, nfc.ErrBufferOverflow)
	assert.False(t, nfc.IsRetryable(err))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	valid, err := Encode(DeviceToHost, []byte{0x22, 0x00, 0x10, 0x00, 0x04, 0x00})
	require.NoError(t, err)

	tests := []struct {
		wantErr  error
		name     string
		input    []byte
		wantKind Kind
		consumed int
	}{
		{
			name:     "ack",
			input:    AckFrame,
			wantKind: KindAck,
			consumed: 5,
		},
		{
			name:     "nack",
			input:    NackFrame,
			wantKind: KindNack,
			consumed: 5,
		},
		{
			name:     "data frame",
			input:    valid,
			wantKind: KindData,
			consumed: len(valid) - 1,
		},
		{
			name:     "noise before frame",
			input:    append([]byte{0x55, 0x13, 0x37}, valid...),
			wantKind: KindData,
			consumed: len(valid) + 2,
		},
		{
			name:     "header only",
			input:    []byte{0x00, 0x00, 0xFF},
			wantErr:  ErrIncomplete,
			consumed: 1,
		},
		{
			name:     "truncated body",
			input:    valid[:len(valid)-3],
			wantErr:  ErrIncomplete,
			consumed: 1,
		},
		{
			name:     "pure noise",
			input:    []byte{0x12, 0x34, 0x56},
			wantErr:  ErrIncomplete,
			consumed: 3,
		},
		{
			name:     "bad length checksum",
			input:    []byte{0x00, 0x00, 0xFF, 0x03, 0x00, 0xD5, 0x01, 0x2A, 0x00},
			wantErr:  nfc.ErrFormat,
			consumed: 3,
		},
		{
			name:     "bad data checksum",
			input:    []byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x01, 0x00, 0x00},
			wantErr:  nfc.ErrFormat,
			consumed: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, n, err := Decode(tt.input)
			assert.Equal(t, tt.consumed, n)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, f.Kind)
		})
	}
}

func TestDecodeCorruptFrameIsRetryable(t *testing.T) {
	t.Parallel()

	_, _, err := Decode([]byte{0x00, 0x00, 0xFF, 0x02, 0xFE, 0xD5, 0x01, 0x00, 0x00})
	require.Error(t, err)
	assert.True(t, nfc.IsRetryable(err))
	assert.False(t, errors.Is(err, ErrIncomplete))
}

func TestDecodeStream(t *testing.T) {
	t.Parallel()

	first, err := Encode(DeviceEvent, []byte{0x00, 0x01, 0x00, 0x00})
	require.NoError(t, err)
	second, err := Encode(DeviceToHost, []byte{0x14, 0x00})
	require.NoError(t, err)

	var stream []byte
	stream = append(stream, AckFrame...)
	stream = append(stream, first...)
	stream = append(stream, second...)

	var got []Frame
	for {
		f, n, err := Decode(stream)
		stream = stream[n:]
		if errors.Is(err, ErrIncomplete) {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}

	require.Len(t, got, 3)
	assert.Equal(t, KindAck, got[0].Kind)
	assert.Equal(t, byte(DeviceEvent), got[1].TFI)
	assert.Equal(t, []byte{0x14, 0x00}, got[2].Payload)
	assert.Equal(t, []byte{0x00}, stream)
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	buf := GetBuffer()
	require.Len(t, buf, BufferSize)
	for i := range buf {
		buf[i] = 0xEE
	}
	PutBuffer(buf[:10])
	PutBuffer(make([]byte, 4))

	for range 4 {
		got := GetBuffer()
		assert.Len(t, got, BufferSize)
		assert.NotContains(t, got, byte(0xEE))
		PutBuffer(got)
	}
}
