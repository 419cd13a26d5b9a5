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

package ndef

import "fmt"

// TLV block types found in Type 2 tag data areas.
const (
	TLVNull       byte = 0x00
	TLVLockCtrl   byte = 0x01
	TLVMemoryCtrl byte = 0x02
	TLVMessage    byte = 0x03
	TLVProprietary byte = 0xFD
	TLVTerminator byte = 0xFE
)

// FindMessage scans a tag's data area for the first NDEF message TLV and
// returns its value. Other TLVs are skipped; a terminator ends the scan.
func FindMessage(area []byte) ([]byte, error) {
	for off := 0; off < len(area); {
		t := area[off]
		off++
		switch t {
		case TLVNull:
			continue
		case TLVTerminator:
			return nil, ErrNoMessage
		}
		n, hdr, err := tlvLength(area[off:])
		if err != nil {
			return nil, fmt.Errorf("TLV 0x%02X at offset %d: %w", t, off-1, err)
		}
		off += hdr
		if len(area)-off < n {
			return nil, fmt.Errorf("TLV 0x%02X at offset %d: %w", t, off-hdr-1, ErrTruncated)
		}
		if t == TLVMessage {
			return area[off : off+n], nil
		}
		off += n
	}
	return nil, ErrNoMessage
}

// tlvLength reads a one or three byte TLV length field.
func tlvLength(b []byte) (n, hdr int, err error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	if b[0] != 0xFF {
		return int(b[0]), 1, nil
	}
	if len(b) < 3 {
		return 0, 0, ErrTruncated
	}
	return int(b[1])<<8 | int(b[2]), 3, nil
}

// WrapMessage frames msg as an NDEF TLV followed by a terminator.
func WrapMessage(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+5)
	out = append(out, TLVMessage)
	if len(msg) < 0xFF {
		out = append(out, byte(len(msg)))
	} else {
		out = append(out, 0xFF, byte(len(msg)>>8), byte(len(msg)))
	}
	out = append(out, msg...)
	return append(out, TLVTerminator)
}
