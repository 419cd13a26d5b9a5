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
	"errors"

	"github.com/ZaparooProject/go-nfc"
)

var (
	// ErrUnsupportedProtocol is returned when a chain needs a layer that
	// has no registered implementation.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrChildActive is returned when a layer is freed while the layer
	// built on top of it is still allocated.
	ErrChildActive = errors.New("child protocol still active")
	// ErrRunning is returned when a chain is freed or restarted while its
	// session worker is running.
	ErrRunning = errors.New("protocol chain is running")
	// ErrParentType is returned by Alloc when the parent is not the
	// instance type the layer is built on.
	ErrParentType = errors.New("unexpected parent instance")
)

// Event is the generic event one layer passes to the layer above it.
// The root layer receives events with Protocol set to Invalid, Instance
// set to the *nfc.Nfc session and Data holding an nfc.Event.
type Event struct {
	Instance any
	Data     any
	Protocol Protocol
}

// CoreEvent returns the nfc.Event carried by a root-level event.
func (e Event) CoreEvent() (nfc.Event, bool) {
	ev, ok := e.Data.(nfc.Event)
	return ev, ok
}

// Callback receives the events of a layer and steers the session worker.
type Callback func(Event) nfc.Command

// Data is the card data a protocol layer collects or emulates.
type Data interface {
	// Protocol returns the layer the data belongs to.
	Protocol() Protocol
	// BaseData returns the data of the parent layer, nil for roots.
	BaseData() Data
	// UID returns the card identifier.
	UID() []byte
	// Name returns a human-readable card name.
	Name() string
	// Reset clears everything the layer has collected.
	Reset()
}

// PollerInstance is one allocated layer of a poller chain.
type PollerInstance interface {
	// SetCallback sets where the layer sends its events.
	SetCallback(cb Callback)
	// Run handles one event from the parent layer (or the session).
	Run(ev Event) nfc.Command
	// Detect handles one event from the parent layer and reports whether
	// the card speaks this protocol.
	Detect(ev Event) bool
	// Data returns what the layer has collected so far.
	Data() Data
	// Free releases the layer.
	Free()
}

// PollerBase allocates poller layers for one protocol. parent is the
// *nfc.Nfc session for root layers and the parent PollerInstance
// otherwise.
type PollerBase interface {
	Alloc(parent any) (PollerInstance, error)
}

// ListenerInstance is one allocated layer of a listener chain.
type ListenerInstance interface {
	SetCallback(cb Callback)
	Run(ev Event) nfc.Command
	Data() Data
	Free()
}

// ListenerBase allocates listener layers for one protocol. data is the
// layer's share of the emulated card.
type ListenerBase interface {
	Alloc(parent any, data Data) (ListenerInstance, error)
}

// PollerBaseFunc adapts a function to PollerBase.
type PollerBaseFunc func(parent any) (PollerInstance, error)

func (f PollerBaseFunc) Alloc(parent any) (PollerInstance, error) { return f(parent) }

// ListenerBaseFunc adapts a function to ListenerBase.
type ListenerBaseFunc func(parent any, data Data) (ListenerInstance, error)

func (f ListenerBaseFunc) Alloc(parent any, data Data) (ListenerInstance, error) {
	return f(parent, data)
}
