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

package sim

import (
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Handler answers frames a selected Tag receives. Returning false sends
// nothing back.
type Handler func(req *bitbuf.Buffer) (*bitbuf.Buffer, bool)

// Tag is a scripted ISO14443-3A card: anticollision is built in and every
// frame after selection goes to its Handler.
type Tag struct {
	handler  Handler
	received []*bitbuf.Buffer
	ac       anticollision
	mu       syncutil.Mutex
	present  bool
}

// NewTag returns a card with the given identity. handler may be nil.
func NewTag(uid []byte, atqa [2]byte, sak byte, handler Handler) *Tag {
	t := &Tag{handler: handler, present: true}
	t.ac.set(uid, atqa, sak)
	return t
}

// SetPresent moves the card into or out of the field.
func (t *Tag) SetPresent(present bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.present = present
	if !present {
		t.ac.state = tagIdle
	}
}

// Received returns copies of the frames the card saw after selection.
func (t *Tag) Received() []*bitbuf.Buffer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*bitbuf.Buffer, len(t.received))
	for i, f := range t.received {
		out[i] = cloneFrame(f)
	}
	return out
}

func (t *Tag) CarrierOn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ac.state = tagIdle
}

func (t *Tag) CarrierOff() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ac.state = tagIdle
}

func (t *Tag) Exchange(req *bitbuf.Buffer) (*bitbuf.Buffer, bool) {
	t.mu.Lock()
	if !t.present {
		t.mu.Unlock()
		return nil, false
	}
	if t.ac.state != tagActive || req.SizeBits() == 7 {
		resp, ok, _ := t.ac.handle(req)
		t.mu.Unlock()
		return resp, ok
	}
	if isHalt(req) {
		t.ac.state = tagHalted
		t.mu.Unlock()
		return nil, false
	}
	t.received = append(t.received, cloneFrame(req))
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		return nil, false
	}
	return handler(req)
}
