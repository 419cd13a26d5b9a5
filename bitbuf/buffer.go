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

// Package bitbuf provides the bit-exact frame buffer used on the radio
// link, together with parity interleaving and the ISO14443 CRC helpers.
//
// Anticollision frames end mid-byte and MIFARE Classic frames carry
// parity bits that are not the standard odd parity, so a Buffer tracks
// its size in bits and keeps one parity bit per byte next to the data.
package bitbuf

import (
	"bytes"
	"fmt"
)

// Buffer holds a frame with an exact bit count and per-byte parity bits.
// The zero value is an empty buffer ready to use.
type Buffer struct {
	data     []byte
	parity   []byte
	sizeBits int
}

// New returns an empty buffer with room for capacity bytes.
func New(capacity int) *Buffer {
	return &Buffer{
		data:   make([]byte, 0, capacity),
		parity: make([]byte, 0, (capacity+7)/8),
	}
}

// FromBytes returns a buffer holding a copy of data.
func FromBytes(data []byte) *Buffer {
	b := New(len(data))
	b.CopyBytes(data)
	return b
}

// FromBits returns a buffer holding the first bits bits of data.
func FromBits(data []byte, bits int) *Buffer {
	b := New((bits + 7) / 8)
	b.CopyBits(data, bits)
	return b
}

func (b *Buffer) resize(nBytes int) {
	if cap(b.data) < nBytes {
		grown := make([]byte, nBytes, nBytes*2)
		copy(grown, b.data)
		b.data = grown
	} else {
		old := len(b.data)
		b.data = b.data[:nBytes]
		for i := old; i < nBytes; i++ {
			b.data[i] = 0
		}
	}

	pBytes := (nBytes + 7) / 8
	if cap(b.parity) < pBytes {
		grown := make([]byte, pBytes, pBytes*2)
		copy(grown, b.parity)
		b.parity = grown
	} else {
		old := len(b.parity)
		b.parity = b.parity[:pBytes]
		for i := old; i < pBytes; i++ {
			b.parity[i] = 0
		}
	}
}

// Reset empties the buffer and clears all parity bits.
func (b *Buffer) Reset() {
	clear(b.data)
	clear(b.parity)
	b.data = b.data[:0]
	b.parity = b.parity[:0]
	b.sizeBits = 0
}

// Copy replaces the contents of b with the contents of src.
func (b *Buffer) Copy(src *Buffer) {
	b.Reset()
	b.resize(len(src.data))
	copy(b.data, src.data)
	copy(b.parity, src.parity)
	b.sizeBits = src.sizeBits
}

// CopyBytes replaces the contents of b with data.
func (b *Buffer) CopyBytes(data []byte) {
	b.CopyBits(data, len(data)*8)
}

// CopyBits replaces the contents of b with the first bits bits of data.
// bits is clamped to the length of data.
func (b *Buffer) CopyBits(data []byte, bits int) {
	b.Reset()
	bits = min(max(bits, 0), len(data)*8)
	n := (bits + 7) / 8
	b.resize(n)
	copy(b.data, data[:n])
	if rem := bits % 8; rem != 0 {
		b.data[n-1] &= byte(1<<rem) - 1
	}
	b.sizeBits = bits
}

// CopyLeft replaces the contents of b with the first end bytes of src.
func (b *Buffer) CopyLeft(src *Buffer, end int) {
	b.Reset()
	b.resize(end)
	copy(b.data, src.data[:end])
	for i := range end {
		b.setParityBit(i, src.Parity(i))
	}
	b.sizeBits = end * 8
}

// CopyRight replaces the contents of b with the bytes of src from start
// to its end.
func (b *Buffer) CopyRight(src *Buffer, start int) {
	n := src.SizeBytes() - start
	b.Reset()
	if n <= 0 {
		return
	}
	b.resize(n)
	copy(b.data, src.data[start:start+n])
	for i := range n {
		b.setParityBit(i, src.Parity(start+i))
	}
	b.sizeBits = src.sizeBits - start*8
}

// Append adds the bytes of src to the end of b. The size of b must be a
// whole number of bytes.
func (b *Buffer) Append(src *Buffer) {
	start := b.SizeBytes()
	b.resize(start + src.SizeBytes())
	copy(b.data[start:], src.data)
	for i := range src.SizeBytes() {
		b.setParityBit(start+i, src.Parity(i))
	}
	b.sizeBits = start*8 + src.sizeBits
}

// AppendByte adds one byte to the end of b.
func (b *Buffer) AppendByte(v byte) {
	n := b.SizeBytes()
	b.resize(n + 1)
	b.data[n] = v
	b.sizeBits = (n + 1) * 8
}

// AppendBytes adds data to the end of b.
func (b *Buffer) AppendBytes(data []byte) {
	for _, v := range data {
		b.AppendByte(v)
	}
}

// AppendBit adds a single bit to the end of b.
func (b *Buffer) AppendBit(bit bool) {
	idx := b.sizeBits / 8
	if b.sizeBits%8 == 0 {
		b.resize(idx + 1)
	}
	if bit {
		b.data[idx] |= 1 << (b.sizeBits % 8)
	}
	b.sizeBits++
}

// Byte returns the byte at index i.
func (b *Buffer) Byte(i int) byte {
	return b.data[i]
}

// SetByte overwrites the byte at index i.
func (b *Buffer) SetByte(i int, v byte) {
	b.data[i] = v
}

// SetByteWithParity overwrites the byte at index i along with its parity bit.
func (b *Buffer) SetByteWithParity(i int, v byte, parity bool) {
	b.data[i] = v
	b.setParityBit(i, parity)
}

// Parity returns the parity bit stored for byte i.
func (b *Buffer) Parity(i int) bool {
	if i/8 >= len(b.parity) {
		return false
	}
	return b.parity[i/8]&(1<<(i%8)) != 0
}

func (b *Buffer) setParityBit(i int, parity bool) {
	if parity {
		b.parity[i/8] |= 1 << (i % 8)
	} else {
		b.parity[i/8] &^= 1 << (i % 8)
	}
}

// SizeBits returns the number of valid bits.
func (b *Buffer) SizeBits() int {
	return b.sizeBits
}

// SizeBytes returns the number of bytes touched by the valid bits.
func (b *Buffer) SizeBytes() int {
	return (b.sizeBits + 7) / 8
}

// IsSizeBytes reports whether b holds exactly n whole bytes.
func (b *Buffer) IsSizeBytes(n int) bool {
	return b.sizeBits%8 == 0 && b.sizeBits/8 == n
}

// SetSize sets the number of valid bits, growing with zeros if needed.
func (b *Buffer) SetSize(bits int) {
	n := (bits + 7) / 8
	b.resize(n)
	if rem := bits % 8; rem != 0 {
		b.data[n-1] &= byte(1<<rem) - 1
	}
	b.sizeBits = bits
}

// SetSizeBytes sets the number of valid bytes.
func (b *Buffer) SetSizeBytes(n int) {
	b.SetSize(n * 8)
}

// Bytes returns the valid bytes of b. The slice aliases the buffer and is
// only valid until the next modification.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.SizeBytes()]
}

// StartsWithByte reports whether the first byte of b equals v.
func (b *Buffer) StartsWithByte(v byte) bool {
	return b.sizeBits >= 8 && b.data[0] == v
}

// Equal reports whether b and other hold the same bits.
func (b *Buffer) Equal(other *Buffer) bool {
	return b.sizeBits == other.sizeBits && bytes.Equal(b.Bytes(), other.Bytes())
}

// String renders the buffer as hex followed by its bit count.
func (b *Buffer) String() string {
	return fmt.Sprintf("% X (%d bits)", b.Bytes(), b.sizeBits)
}
