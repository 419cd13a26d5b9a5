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

import (
	"errors"
	"strings"
	"unicode/utf16"
)

const (
	TypeText = "T"
	TypeURI  = "U"
)

var (
	ErrNotText = errors.New("ndef: not a text record")
	ErrNotURI  = errors.New("ndef: not a URI record")
)

// URI identifier codes, indexed by the first payload byte.
var uriPrefixes = [...]string{
	"", "http://www.", "https://www.", "http://", "https://", "tel:", "mailto:",
	"ftp://anonymous:anonymous@", "ftp://ftp.", "ftps://", "sftp://", "smb://",
	"nfs://", "ftp://", "dav://", "news:", "telnet://", "imap:", "rtsp://", "urn:",
	"pop:", "sip:", "sips:", "tftp:", "btspp://", "btl2cap://", "btgoep://",
	"tcpobex://", "irdaobex://", "file://", "urn:epc:id:", "urn:epc:tag:",
	"urn:epc:pat:", "urn:epc:raw:", "urn:epc:", "urn:nfc:",
}

// NewText returns a UTF-8 well-known text record.
func NewText(text, lang string) Record {
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)&0x3F))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return Record{TNF: TNFWellKnown, Type: TypeText, Payload: payload}
}

// Text decodes a well-known text record.
func (r Record) Text() (text, lang string, err error) {
	if r.TNF != TNFWellKnown || r.Type != TypeText || len(r.Payload) == 0 {
		return "", "", ErrNotText
	}
	status := r.Payload[0]
	langLen := int(status & 0x3F)
	if len(r.Payload) < 1+langLen {
		return "", "", ErrTruncated
	}
	lang = string(r.Payload[1 : 1+langLen])
	body := r.Payload[1+langLen:]
	if status&0x80 == 0 {
		return string(body), lang, nil
	}
	return decodeUTF16(body), lang, nil
}

func decodeUTF16(b []byte) string {
	bigEndian := true
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		case b[0] == 0xFF && b[1] == 0xFE:
			bigEndian = false
			b = b[2:]
		}
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		hi, low := b[2*i], b[2*i+1]
		if !bigEndian {
			hi, low = low, hi
		}
		units[i] = uint16(hi)<<8 | uint16(low)
	}
	return string(utf16.Decode(units))
}

// NewURI returns a well-known URI record using the longest matching
// identifier code.
func NewURI(uri string) Record {
	code := 0
	for i, p := range uriPrefixes {
		if strings.HasPrefix(uri, p) && len(p) > len(uriPrefixes[code]) {
			code = i
		}
	}
	payload := append([]byte{byte(code)}, uri[len(uriPrefixes[code]):]...)
	return Record{TNF: TNFWellKnown, Type: TypeURI, Payload: payload}
}

// URI decodes a well-known URI record or returns the type of an absolute
// URI record.
func (r Record) URI() (string, error) {
	if r.TNF == TNFAbsoluteURI {
		return r.Type, nil
	}
	if r.TNF != TNFWellKnown || r.Type != TypeURI || len(r.Payload) == 0 {
		return "", ErrNotURI
	}
	code := int(r.Payload[0])
	if code >= len(uriPrefixes) {
		return "", ErrNotURI
	}
	return uriPrefixes[code] + string(r.Payload[1:]), nil
}
