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

// Package protocol composes protocol pollers and listeners into chains.
//
// Every protocol except the root ISO14443-3A, ISO14443-3B, ISO15693-3 and
// FeliCa layers has exactly one parent. A chain for a protocol is built
// root first: the root is driven by core events from an nfc.Nfc session
// and every other layer is driven by the generic events of its parent.
// Protocol packages register their poller and listener bases from init.
package protocol

import (
	"fmt"
	"strings"
)

// Protocol identifies one layer of the contactless protocol stack.
type Protocol int

const (
	Iso14443_3a Protocol = iota
	Iso14443_3b
	Iso14443_4a
	Iso15693_3
	Felica
	MfUltralight
	MfClassic
	MfDesfire
	Slix
	Invalid
)

// Count is the number of valid protocols.
const Count = int(Invalid)

var protocolNames = [...]string{
	"ISO14443-3A", "ISO14443-3B", "ISO14443-4A", "ISO15693-3", "FeliCa",
	"MIFARE Ultralight", "MIFARE Classic", "MIFARE DESFire", "SLIX", "Invalid",
}

func (p Protocol) String() string {
	if p < 0 || p > Invalid {
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
	return protocolNames[p]
}

// Parse looks a protocol up by its full or short name. Case, spaces,
// dashes and underscores are ignored, so "MIFARE Classic", "mifare_classic"
// and "mf-classic" all name MfClassic.
func Parse(name string) (Protocol, error) {
	key := normalizeName(name)
	for p := Protocol(0); p < Invalid; p++ {
		if normalizeName(protocolNames[p]) == key || normalizeName(shortNames[p]) == key {
			return p, nil
		}
	}
	return Invalid, fmt.Errorf("unknown protocol %q", name)
}

var shortNames = [Count]string{
	"iso3a", "iso3b", "iso4a", "iso15693", "felica",
	"mfultralight", "mfclassic", "mfdesfire", "slix",
}

func normalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))
}

// Valid reports whether p names a real protocol.
func (p Protocol) Valid() bool {
	return p >= 0 && p < Invalid
}

var parents = [Count]Protocol{
	Iso14443_3a:  Invalid,
	Iso14443_3b:  Invalid,
	Iso14443_4a:  Iso14443_3a,
	Iso15693_3:   Invalid,
	Felica:       Invalid,
	MfUltralight: Iso14443_3a,
	MfClassic:    Iso14443_3a,
	MfDesfire:    Iso14443_4a,
	Slix:         Iso15693_3,
}

// Parent returns the protocol p is layered on. ok is false for root
// protocols and invalid ids.
func Parent(p Protocol) (parent Protocol, ok bool) {
	if !p.Valid() {
		return Invalid, false
	}
	parent = parents[p]
	return parent, parent != Invalid
}

// Chain returns the protocols from the root down to p.
func Chain(p Protocol) []Protocol {
	if !p.Valid() {
		return nil
	}
	var chain []Protocol
	for cur, ok := p, true; ok; cur, ok = Parent(cur) {
		chain = append([]Protocol{cur}, chain...)
	}
	return chain
}

// HasParent reports whether parent appears anywhere above child.
func HasParent(child, parent Protocol) bool {
	for cur, ok := Parent(child); ok; cur, ok = Parent(cur) {
		if cur == parent {
			return true
		}
	}
	return false
}
