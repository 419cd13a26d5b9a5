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

// Package frame encodes and decodes the frames exchanged with front-end
// firmware over a bridge link.
//
// A normal frame is
//
//	00 00 FF LEN LCS TFI PD0 ... PDn DCS 00
//
// where LEN counts TFI plus payload, LCS makes LEN+LCS zero and DCS makes
// TFI+payload+DCS zero. Payloads longer than a normal frame can carry use
// the extended form 00 00 FF FF FF LENM LENL LCS TFI ... DCS 00.
package frame

// Frame identifiers
const (
	HostToDevice = 0xD4 // Requests from host to firmware
	DeviceToHost = 0xD5 // Responses from firmware to host
	DeviceEvent  = 0xD6 // Unsolicited event notifications
	DeviceError  = 0x7F // Application-level error frame
)

// Frame markers and control bytes
const (
	Preamble   = 0x00
	StartCode1 = 0x00
	StartCode2 = 0xFF
	Postamble  = 0x00
)

// Frame size limits
const (
	// MaxNormalLength is the largest LEN a normal frame can carry.
	MaxNormalLength = 0xFE
	// MaxDataLength is the largest LEN accepted in either form. It fits a
	// 256 byte frame sent with explicit parity plus command overhead.
	MaxDataLength = 512
	// MinFrameLength is preamble, start code, LEN, LCS, TFI and DCS.
	MinFrameLength = 7
	// Overhead is the largest number of non-payload bytes in a frame.
	Overhead = 11
)

// ACK and NACK frames are used for flow control
var (
	AckFrame  = []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0x00}
	NackFrame = []byte{0x00, 0x00, 0xFF, 0xFF, 0x00, 0x00}
)
