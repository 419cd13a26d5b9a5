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

// CRCKind selects between the ISO14443 type A and type B checksums.
type CRCKind int

const (
	// CRCA is the ISO14443-A CRC: initial value 0x6363, not inverted.
	CRCA CRCKind = iota
	// CRCB is the ISO14443-B CRC: initial value 0xFFFF, inverted.
	CRCB
)

// CRCSize is the number of bytes a CRC adds to a frame.
const CRCSize = 2

const (
	crcAInit = 0x6363
	crcBInit = 0xFFFF
)

// CRC16 computes the ISO14443 CRC of data. The result is transmitted
// least significant byte first.
func CRC16(kind CRCKind, data []byte) uint16 {
	crc := uint16(crcAInit)
	if kind == CRCB {
		crc = crcBInit
	}
	for _, v := range data {
		v ^= byte(crc)
		v ^= v << 4
		crc = (crc >> 8) ^ (uint16(v) << 8) ^ (uint16(v) << 3) ^ (uint16(v) >> 4)
	}
	if kind == CRCB {
		crc = ^crc
	}
	return crc
}

// AppendCRC appends the CRC of the current contents of b.
func AppendCRC(kind CRCKind, b *Buffer) {
	crc := CRC16(kind, b.Bytes())
	b.AppendByte(byte(crc))
	b.AppendByte(byte(crc >> 8))
}

// CheckCRC reports whether b ends with a valid CRC over the preceding
// bytes. At least one payload byte is required.
func CheckCRC(kind CRCKind, b *Buffer) bool {
	if b.SizeBits()%8 != 0 || b.SizeBytes() <= CRCSize {
		return false
	}
	n := b.SizeBytes() - CRCSize
	crc := CRC16(kind, b.Bytes()[:n])
	return b.Byte(n) == byte(crc) && b.Byte(n+1) == byte(crc>>8)
}

// TrimCRC removes the trailing CRC bytes from b.
func TrimCRC(_ CRCKind, b *Buffer) {
	n := b.SizeBytes() - CRCSize
	if n < 0 {
		n = 0
	}
	b.SetSizeBytes(n)
}
