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

import "math/bits"

// OddParity8 returns the bit that makes the total number of ones in v
// plus the parity bit odd.
func OddParity8(v byte) byte {
	return byte(bits.OnesCount8(v)&1) ^ 1
}

// EvenParity32 returns the XOR of all bits of v.
func EvenParity32(v uint32) byte {
	return byte(bits.OnesCount32(v) & 1)
}

// SetOddParity fills the parity bit of every whole byte with standard
// ISO14443-A odd parity.
func (b *Buffer) SetOddParity() {
	for i := range b.sizeBits / 8 {
		b.setParityBit(i, OddParity8(b.data[i]) == 1)
	}
}

// CopyBytesWithParity replaces the contents of b with a wire frame in which
// every data byte is followed by its parity bit, least significant bit
// first. Frames shorter than one byte carry no parity and are copied as is.
func (b *Buffer) CopyBytesWithParity(raw []byte, rawBits int) {
	if rawBits < 9 {
		b.CopyBits(raw, rawBits)
		return
	}

	n := rawBits / 9
	b.Reset()
	b.resize(n)
	for i := range n {
		pos := i * 9
		var v byte
		for bit := range 8 {
			if readBit(raw, pos+bit) {
				v |= 1 << bit
			}
		}
		b.data[i] = v
		b.setParityBit(i, readBit(raw, pos+8))
	}
	b.sizeBits = n * 8
}

// WriteBytesWithParity serialises b into wire format with each byte
// followed by its stored parity bit. It returns the encoded bytes and the
// number of valid bits in them.
func (b *Buffer) WriteBytesWithParity() ([]byte, int) {
	if b.sizeBits < 8 {
		out := make([]byte, b.SizeBytes())
		copy(out, b.data)
		return out, b.sizeBits
	}

	n := b.sizeBits / 8
	total := n * 9
	out := make([]byte, (total+7)/8)
	for i := range n {
		pos := i * 9
		for bit := range 8 {
			if b.data[i]&(1<<bit) != 0 {
				writeBit(out, pos+bit)
			}
		}
		if b.Parity(i) {
			writeBit(out, pos+8)
		}
	}
	return out, total
}

func readBit(data []byte, pos int) bool {
	if pos/8 >= len(data) {
		return false
	}
	return data[pos/8]&(1<<(pos%8)) != 0
}

func writeBit(data []byte, pos int) {
	data[pos/8] |= 1 << (pos % 8)
}
