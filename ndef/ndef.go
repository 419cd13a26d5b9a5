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

// Package ndef decodes and builds NFC Forum Data Exchange Format messages
// and the TLV area they live in on Type 2 tags.
package ndef

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TNF values.
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
	TNFUnchanged   byte = 0x06
)

const (
	flagMB  byte = 0x80
	flagME  byte = 0x40
	flagCF  byte = 0x20
	flagSR  byte = 0x10
	flagIL  byte = 0x08
	tnfMask byte = 0x07
)

var (
	ErrEmptyMessage = errors.New("ndef: empty message")
	ErrTruncated    = errors.New("ndef: truncated record")
	ErrInvalidTNF   = errors.New("ndef: invalid TNF")
	ErrChunked      = errors.New("ndef: chunked records not supported")
	ErrNoMessage    = errors.New("ndef: no NDEF TLV found")
)

// Record is a single NDEF record. The MB and ME flags are derived from the
// record's position when a message is encoded.
type Record struct {
	Type    string
	ID      string
	Payload []byte
	TNF     byte
}

// String summarises the record for display.
func (r Record) String() string {
	if text, _, err := r.Text(); err == nil {
		return fmt.Sprintf("Text %q", text)
	}
	if uri, err := r.URI(); err == nil {
		return fmt.Sprintf("URI %s", uri)
	}
	switch r.TNF {
	case TNFMedia:
		return fmt.Sprintf("Media %s, %d bytes", r.Type, len(r.Payload))
	case TNFExternal:
		return fmt.Sprintf("External %s, %d bytes", r.Type, len(r.Payload))
	case TNFEmpty:
		return "Empty"
	default:
		return fmt.Sprintf("TNF %d type %q, %d bytes", r.TNF, r.Type, len(r.Payload))
	}
}

// Parse decodes a message. Decoding stops at the first record carrying ME.
func Parse(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var records []Record
	for off := 0; off < len(data); {
		rec, n, last, err := parseRecord(data[off:])
		if err != nil {
			return nil, fmt.Errorf("record %d at offset %d: %w", len(records), off, err)
		}
		records = append(records, rec)
		off += n
		if last {
			break
		}
	}
	return records, nil
}

func parseRecord(data []byte) (rec Record, n int, last bool, err error) {
	if len(data) < 3 {
		return rec, 0, false, ErrTruncated
	}
	hdr := data[0]
	if hdr&flagCF != 0 {
		return rec, 0, false, ErrChunked
	}
	rec.TNF = hdr & tnfMask
	if rec.TNF > TNFUnchanged {
		return rec, 0, false, ErrInvalidTNF
	}
	typeLen := int(data[1])
	off := 2

	var payloadLen int
	if hdr&flagSR != 0 {
		payloadLen = int(data[off])
		off++
	} else {
		if len(data) < off+4 {
			return rec, 0, false, ErrTruncated
		}
		payloadLen = int(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}

	var idLen int
	if hdr&flagIL != 0 {
		if len(data) <= off {
			return rec, 0, false, ErrTruncated
		}
		idLen = int(data[off])
		off++
	}

	if payloadLen < 0 || len(data)-off < typeLen+idLen+payloadLen {
		return rec, 0, false, ErrTruncated
	}
	rec.Type = string(data[off : off+typeLen])
	off += typeLen
	rec.ID = string(data[off : off+idLen])
	off += idLen
	rec.Payload = append([]byte(nil), data[off:off+payloadLen]...)
	off += payloadLen
	return rec, off, hdr&flagME != 0, nil
}

// Marshal encodes records as one message. Payloads up to 255 bytes use
// the short record form.
func Marshal(records ...Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrEmptyMessage
	}
	var out []byte
	for i, rec := range records {
		if rec.TNF > TNFUnchanged {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidTNF)
		}
		if len(rec.Type) > 0xFF || len(rec.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}
		hdr := rec.TNF
		if i == 0 {
			hdr |= flagMB
		}
		if i == len(records)-1 {
			hdr |= flagME
		}
		short := len(rec.Payload) <= 0xFF
		if short {
			hdr |= flagSR
		}
		if rec.ID != "" {
			hdr |= flagIL
		}
		out = append(out, hdr, byte(len(rec.Type)))
		if short {
			out = append(out, byte(len(rec.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(rec.Payload))) //nolint:gosec // bounded by memory
		}
		if rec.ID != "" {
			out = append(out, byte(len(rec.ID)))
		}
		out = append(out, rec.Type...)
		out = append(out, rec.ID...)
		out = append(out, rec.Payload...)
	}
	return out, nil
}
