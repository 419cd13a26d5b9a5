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

// Package sim provides in-process radio front-ends for tests and demos.
//
// Poller is a reader-side HAL with a virtual clock: timers expire as soon
// as nothing else is pending, so sessions run at full speed while keeping
// the event order of real hardware. Its field reaches a Target, which is
// either a scripted Tag or a Listener, the tag-side HAL driven by a second
// nfc session. A Poller wired to a Listener runs a complete poller stack
// against a complete listener stack.
package sim

import (
	"github.com/ZaparooProject/go-nfc/bitbuf"
)

// Target is whatever sits in the poller's field. Frames carry per-byte
// parity bits.
type Target interface {
	CarrierOn()
	CarrierOff()
	// Exchange delivers one poller frame and returns the response, if any.
	Exchange(req *bitbuf.Buffer) (*bitbuf.Buffer, bool)
}

// TargetFunc adapts a function to a Target that ignores the field.
type TargetFunc func(req *bitbuf.Buffer) (*bitbuf.Buffer, bool)

func (f TargetFunc) CarrierOn()  {}
func (f TargetFunc) CarrierOff() {}

func (f TargetFunc) Exchange(req *bitbuf.Buffer) (*bitbuf.Buffer, bool) {
	return f(req)
}

// Carrier frequency of ISO14443 in Hz.
const carrierHz = 13_560_000

// etuFc is the duration of one bit at 106 kbit/s in carrier cycles.
const etuFc = 128

func withOddParity(data []byte, bits int) *bitbuf.Buffer {
	b := bitbuf.FromBits(data, bits)
	b.SetOddParity()
	return b
}

func cloneFrame(b *bitbuf.Buffer) *bitbuf.Buffer {
	c := bitbuf.New(b.SizeBytes())
	c.Copy(b)
	return c
}
