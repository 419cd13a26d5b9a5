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

// Package crypto1 implements the MIFARE Classic Crypto1 stream cipher.
//
// The 48-bit LFSR is stored split into its odd and even bits, which lets
// the nonlinear filter read its 20 input taps from a single word.
package crypto1

import (
	"encoding/binary"

	"github.com/ZaparooProject/go-nfc/bitbuf"
)

const (
	lfPolyOdd  = 0x29CE5C
	lfPolyEven = 0x870804
)

// Crypto1 is the cipher state. The zero value is a cleared register.
type Crypto1 struct {
	odd  uint32
	even uint32
}

// New returns a cipher loaded with key.
func New(key uint64) *Crypto1 {
	c := &Crypto1{}
	c.Init(key)
	return c
}

func bit32(x uint32, n uint) uint32 {
	return (x >> n) & 1
}

func bit64(x uint64, n uint) uint32 {
	return uint32((x >> n) & 1)
}

// Reset clears the register.
func (c *Crypto1) Reset() {
	c.odd = 0
	c.even = 0
}

// Init loads the register from a 48-bit key.
func (c *Crypto1) Init(key uint64) {
	c.Reset()
	for i := 47; i > 0; i -= 2 {
		c.odd = c.odd<<1 | bit64(key, uint(i-1)^7)
		c.even = c.even<<1 | bit64(key, uint(i)^7)
	}
}

func filter(in uint32) uint32 {
	var out uint32
	out = 0xf22c0 >> (in & 0xf) & 16
	out |= 0x6c9c0 >> (in >> 4 & 0xf) & 8
	out |= 0x3c8b0 >> (in >> 8 & 0xf) & 4
	out |= 0x1e458 >> (in >> 12 & 0xf) & 2
	out |= 0x0d938 >> (in >> 16 & 0xf) & 1
	return bit32(0xEC57E80A, uint(out))
}

// Filter returns the keystream bit the next clock will produce.
func (c *Crypto1) Filter() byte {
	return byte(filter(c.odd))
}

// Bit clocks the register once feeding in, and returns the keystream bit.
// When encrypted is set, in is treated as ciphertext and the keystream bit
// is folded back into the feedback.
func (c *Crypto1) Bit(in byte, encrypted bool) byte {
	out := filter(c.odd)
	var feed uint32
	if encrypted {
		feed = out
	}
	if in != 0 {
		feed ^= 1
	}
	feed ^= lfPolyOdd & c.odd
	feed ^= lfPolyEven & c.even
	c.even = c.even<<1 | uint32(bitbuf.EvenParity32(feed))
	c.odd, c.even = c.even, c.odd
	return byte(out)
}

// Byte clocks eight bits of in, least significant first, and returns
// the keystream byte.
func (c *Crypto1) Byte(in byte, encrypted bool) byte {
	var out byte
	for i := range 8 {
		out |= c.Bit((in>>i)&1, encrypted) << i
	}
	return out
}

// Word clocks 32 bits of in, byte by byte in big-endian order and least
// significant bit first within each byte, and returns the keystream word
// laid out the same way.
func (c *Crypto1) Word(in uint32, encrypted bool) uint32 {
	var out uint32
	for i := range 32 {
		n := uint(i) ^ 24
		out |= uint32(c.Bit(byte(bit32(in, n)), encrypted)) << n
	}
	return out
}

// PrngSuccessor advances the tag's 16-bit nonce generator n steps from x.
func PrngSuccessor(x uint32, n uint32) uint32 {
	x = swapEndian(x)
	for ; n > 0; n-- {
		x = x>>1 | (x>>16^x>>18^x>>19^x>>21)<<31
	}
	return swapEndian(x)
}

func swapEndian(x uint32) uint32 {
	x = (x>>8)&0x00ff00ff | (x&0x00ff00ff)<<8
	return x>>16 | x<<16
}

// Decrypt writes the plaintext of in to out. Frames shorter than a byte are
// decrypted bit by bit.
func (c *Crypto1) Decrypt(in, out *bitbuf.Buffer) {
	size := in.SizeBits()
	out.Reset()
	out.SetSize(size)
	if size < 8 {
		enc := in.Byte(0)
		var dec byte
		for i := range size {
			dec |= (c.Bit(0, false) ^ (enc>>i)&1) << i
		}
		out.SetByte(0, dec)
		return
	}
	for i := range size / 8 {
		out.SetByte(i, c.Byte(0, false)^in.Byte(i))
	}
}

// Encrypt writes the ciphertext of in to out, including encrypted parity
// bits. When keystream is non-nil its bytes are fed into the register
// while encrypting.
func (c *Crypto1) Encrypt(keystream []byte, in, out *bitbuf.Buffer) {
	size := in.SizeBits()
	out.Reset()
	out.SetSize(size)
	if size < 8 {
		plain := in.Byte(0)
		var enc byte
		for i := range size {
			enc |= (c.Bit(0, false) ^ (plain>>i)&1) << i
		}
		out.SetByte(0, enc)
		return
	}
	for i := range size / 8 {
		var feed byte
		if keystream != nil {
			feed = keystream[i]
		}
		plain := in.Byte(i)
		enc := c.Byte(feed, false) ^ plain
		parity := (c.Filter() ^ bitbuf.OddParity8(plain)) & 1
		out.SetByteWithParity(i, enc, parity == 1)
	}
}

// EncryptReaderNonce prepares the reader's half of the authentication:
// it loads key, mixes in the tag nonce and card id, and writes the
// encrypted nr||ar pair with encrypted parity into out. For nested
// authentication nt arrives encrypted and is decrypted in place.
func (c *Crypto1) EncryptReaderNonce(key uint64, cuid uint32, nt []byte, nr []byte, out *bitbuf.Buffer, nested bool) {
	ntNum := binary.BigEndian.Uint32(nt)
	c.Init(key)
	if nested {
		ntNum = c.Word(ntNum^cuid, true) ^ ntNum
		binary.BigEndian.PutUint32(nt, ntNum)
	} else {
		c.Word(ntNum^cuid, false)
	}

	out.Reset()
	out.SetSizeBytes(8)
	for i := range 4 {
		enc := c.Byte(nr[i], false) ^ nr[i]
		parity := (c.Filter() ^ bitbuf.OddParity8(nr[i])) & 1
		out.SetByteWithParity(i, enc, parity == 1)
	}

	ntNum = PrngSuccessor(ntNum, 32)
	for i := 4; i < 8; i++ {
		ntNum = PrngSuccessor(ntNum, 8)
		plain := byte(ntNum)
		enc := c.Byte(0, false) ^ plain
		parity := (c.Filter() ^ bitbuf.OddParity8(plain)) & 1
		out.SetByteWithParity(i, enc, parity == 1)
	}
}
