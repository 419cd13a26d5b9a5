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

package protocol

import (
	"fmt"

	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

var registry struct {
	pollers   [Count]PollerBase
	listeners [Count]ListenerBase
	mu        syncutil.RWMutex
}

// RegisterPoller installs the poller base for p, replacing any earlier
// registration. It panics on an invalid protocol.
func RegisterPoller(p Protocol, base PollerBase) {
	if !p.Valid() {
		panic(fmt.Sprintf("protocol: register poller for %v", p))
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.pollers[p] = base
}

// RegisterListener installs the listener base for p.
func RegisterListener(p Protocol, base ListenerBase) {
	if !p.Valid() {
		panic(fmt.Sprintf("protocol: register listener for %v", p))
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.listeners[p] = base
}

// PollerFor returns the registered poller base for p.
func PollerFor(p Protocol) (PollerBase, bool) {
	if !p.Valid() {
		return nil, false
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	base := registry.pollers[p]
	return base, base != nil
}

// ListenerFor returns the registered listener base for p.
func ListenerFor(p Protocol) (ListenerBase, bool) {
	if !p.Valid() {
		return nil, false
	}
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	base := registry.listeners[p]
	return base, base != nil
}

// Pollers returns every protocol with a complete poller chain.
func Pollers() []Protocol {
	var out []Protocol
	for p := Protocol(0); p < Invalid; p++ {
		if pollerChainSupported(p) {
			out = append(out, p)
		}
	}
	return out
}

func pollerChainSupported(p Protocol) bool {
	for _, link := range Chain(p) {
		if _, ok := PollerFor(link); !ok {
			return false
		}
	}
	return true
}
