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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
)

// ErrIncomplete means more bytes are needed before a frame can be decoded.
var ErrIncomplete = errors.New("incomplete frame")

// Kind distinguishes flow-control frames from information frames.
type Kind int

const (
	KindData Kind = iota
	KindAck
	KindNack
)

// Frame is one decoded frame. Payload is empty for ACK and NACK.
type Frame struct {
	Payload []byte
	Kind    Kind
	TFI     byte
}

// Encode builds a frame carrying tfi and payload. The normal form is used
// whenever it fits.
func Encode(tfi byte, payload []byte) ([]byte, error) {
	n := len(payload) + 1
	if n > MaxDataLength {
		return nil, nfc.NewHALError("encode", "",
			fmt.Errorf("%w: payload of %d bytes", nfc.ErrBufferOverflow, len(payload)),
			nfc.ErrorTypePermanent)
	}

	out := make([]byte, 0, n+Overhead)
	out = append(out, Preamble, StartCode1, StartCode2)
	if n <= MaxNormalLength {
		out = append(out, byte(n), Checksum(byte(n)))
	} else {
		hi, lo := byte(n>>8), byte(n)
		out = append(out, 0xFF, 0xFF, hi, lo, Checksum(hi, lo))
	}
	out = append(out, tfi)
	out = append(out, payload...)
	out = append(out, -(tfi + sum(payload)), Postamble)
	return out, nil
}

// Decode looks for the first frame in buf. It returns the frame and the
// number of bytes consumed, including any noise skipped before the start
// code. On ErrIncomplete, consumed counts only the skipped noise and the
// caller should read more. A corrupt header or checksum returns a
// retryable error and consumes past the bad start code so the caller can
// resynchronize.
func Decode(buf []byte) (f Frame, consumed int, err error) {
	start := findStart(buf)
	if start < 0 {
		// Keep a trailing start byte, it may begin the next frame
		if n := len(buf); n > 0 && buf[n-1] == StartCode1 {
			return Frame{}, n - 1, ErrIncomplete
		}
		return Frame{}, len(buf), ErrIncomplete
	}

	hdr := start + 2
	if len(buf) < hdr+2 {
		return Frame{}, start, ErrIncomplete
	}
	length, lcs := buf[hdr], buf[hdr+1]

	switch {
	case length == 0x00 && lcs == 0xFF:
		return Frame{Kind: KindAck}, hdr + 2, nil
	case length == 0xFF && lcs == 0x00:
		return Frame{Kind: KindNack}, hdr + 2, nil
	}

	n := int(length)
	body := hdr + 2
	if length == 0xFF && lcs == 0xFF {
		if len(buf) < hdr+5 {
			return Frame{}, start, ErrIncomplete
		}
		hi, lo, xcs := buf[hdr+2], buf[hdr+3], buf[hdr+4]
		if hi+lo+xcs != 0 {
			return Frame{}, hdr, corrupt("extended length checksum")
		}
		n = int(hi)<<8 | int(lo)
		body = hdr + 5
	} else if length+lcs != 0 {
		return Frame{}, hdr, corrupt("length checksum")
	}

	if n == 0 || n > MaxDataLength {
		return Frame{}, hdr, corrupt(fmt.Sprintf("length %d", n))
	}
	if len(buf) < body+n+1 {
		return Frame{}, start, ErrIncomplete
	}

	data := buf[body : body+n]
	if !Verify(data, buf[body+n]) {
		return Frame{}, hdr, corrupt("data checksum")
	}

	payload := make([]byte, n-1)
	copy(payload, data[1:])
	return Frame{Kind: KindData, TFI: data[0], Payload: payload}, body + n + 1, nil
}

// findStart returns the index of the first 00 FF start code, or -1.
func findStart(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == StartCode1 && buf[i+1] == StartCode2 {
			return i
		}
	}
	return -1
}

func corrupt(detail string) error {
	return nfc.NewHALError("decode", "", fmt.Errorf("%w: %s", nfc.ErrFormat, detail), nfc.ErrorTypeTransient)
}
