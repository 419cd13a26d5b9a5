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

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ZaparooProject/go-nfc/ndef"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfultralight"
	"github.com/ZaparooProject/go-nfc/snapshot"
	"github.com/google/uuid"
)

var errTooLarge = errors.New("NDEF message does not fit the tag")

// runMake writes a snapshot of a blank NTAG215 carrying a single NDEF
// record, ready for emulate.
func runMake(content string, text bool, path string, out io.Writer) error {
	rec := ndef.NewURI(content)
	if text {
		rec = ndef.NewText(content, "en")
	}
	img, err := buildTagImage(rec, randomUID())
	if err != nil {
		return err
	}
	b, err := snapshot.EncodeMfUltralight(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Saved %s (%s, UID % X)\n", path, rec, img.UID())
	return nil
}

// randomUID returns an NXP-style 7-byte UID.
func randomUID() []byte {
	id := uuid.New()
	return append([]byte{0x04}, id[:6]...)
}

func buildTagImage(rec ndef.Record, uid []byte) (*mfultralight.Data, error) {
	card, err := iso3a.NewData(uid, [2]byte{0x44, 0x00}, 0x00)
	if err != nil {
		return nil, err
	}
	img := mfultralight.NewImage(card, mfultralight.TypeNTAG215)

	msg, err := ndef.Marshal(rec)
	if err != nil {
		return nil, err
	}
	area := ndef.WrapMessage(msg)
	// CC byte 2 is the data area size in units of 8 bytes.
	if capacity := int(img.Pages[3][2]) * 8; len(area) > capacity {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", errTooLarge, len(area), capacity)
	}
	for i := 0; i < len(area); i += mfultralight.PageSize {
		copy(img.Pages[4+i/mfultralight.PageSize][:], area[i:])
	}
	return img, nil
}
