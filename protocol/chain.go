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

	"github.com/ZaparooProject/go-nfc"
)

type layer struct {
	free     func()
	protocol Protocol
	live     bool
}

// chain tracks allocation of the layers of a poller or listener chain.
type chain struct {
	session *nfc.Nfc
	layers  []*layer
}

func (c *chain) add(p Protocol, free func()) {
	c.layers = append(c.layers, &layer{protocol: p, free: free, live: true})
}

// freeLayer releases the layer for p. Layers above it must be freed first.
func (c *chain) freeLayer(p Protocol) error {
	idx := -1
	for i, l := range c.layers {
		if l.protocol == p {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %v is not in the chain", ErrUnsupportedProtocol, p)
	}
	for _, child := range c.layers[idx+1:] {
		if child.live {
			return fmt.Errorf("%w: %v above %v", ErrChildActive, child.protocol, p)
		}
	}
	l := c.layers[idx]
	if l.live {
		l.free()
		l.live = false
	}
	return nil
}

func (c *chain) freeAll() {
	for i := len(c.layers) - 1; i >= 0; i-- {
		if l := c.layers[i]; l.live {
			l.free()
			l.live = false
		}
	}
}

func (c *chain) released() bool {
	return len(c.layers) == 0 || !c.layers[0].live
}

func (c *chain) rootEvent(ev nfc.Event) Event {
	return Event{Protocol: Invalid, Instance: c.session, Data: ev}
}

// Poller drives a card through a chain of protocol pollers.
type Poller struct {
	chain
	instances []PollerInstance
	protocol  Protocol
}

// NewPoller allocates the chain for p on session n, root first, with each
// layer wired as the callback of its parent.
func NewPoller(n *nfc.Nfc, p Protocol) (*Poller, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil session", nfc.ErrInvalidArgument)
	}
	protocols := Chain(p)
	if len(protocols) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProtocol, p)
	}
	bases := make([]PollerBase, len(protocols))
	for i, link := range protocols {
		base, ok := PollerFor(link)
		if !ok {
			return nil, fmt.Errorf("%w: no poller for %v", ErrUnsupportedProtocol, link)
		}
		bases[i] = base
	}

	poller := &Poller{chain: chain{session: n}, protocol: p}
	var parent any = n
	for i, base := range bases {
		inst, err := base.Alloc(parent)
		if err != nil {
			poller.freeAll()
			return nil, fmt.Errorf("alloc %v poller: %w", protocols[i], err)
		}
		poller.instances = append(poller.instances, inst)
		poller.add(protocols[i], inst.Free)
		parent = inst
	}
	for i := 0; i < len(poller.instances)-1; i++ {
		poller.instances[i].SetCallback(poller.instances[i+1].Run)
	}
	nfc.Debugf("protocol: %v poller chain %v", p, protocols)
	return poller, nil
}

// Protocol returns the leaf protocol of the chain.
func (p *Poller) Protocol() Protocol {
	return p.protocol
}

// Start runs the session poller worker with cb receiving the leaf
// layer's events.
func (p *Poller) Start(cb Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", nfc.ErrInvalidArgument)
	}
	if p.released() {
		return nfc.ErrClosed
	}
	p.leaf().SetCallback(cb)
	root := p.instances[0]
	return p.session.StartPoller(func(ev nfc.Event) nfc.Command {
		return root.Run(p.rootEvent(ev))
	})
}

// Stop aborts the worker and waits for it to return to idle.
func (p *Poller) Stop() {
	p.session.Stop()
}

// Wait blocks until the worker exits.
func (p *Poller) Wait() {
	p.session.Wait()
}

// Data returns the leaf layer's data.
func (p *Poller) Data() Data {
	return p.leaf().Data()
}

// Instance returns the allocated layer for proto.
func (p *Poller) Instance(proto Protocol) (PollerInstance, bool) {
	for i, l := range p.layers {
		if l.protocol == proto && l.live {
			return p.instances[i], true
		}
	}
	return nil, false
}

// FreeLayer releases a single layer. Layers above it must already be
// free.
func (p *Poller) FreeLayer(proto Protocol) error {
	if p.session.Running() {
		return ErrRunning
	}
	return p.freeLayer(proto)
}

// Free stops the worker and releases every layer, leaf first.
func (p *Poller) Free() {
	p.session.Stop()
	p.freeAll()
}

func (p *Poller) leaf() PollerInstance {
	return p.instances[len(p.instances)-1]
}

// Detect runs the chain for p once and reports whether the card in the
// field speaks p. The leaf layer only sees its parent's first event.
func Detect(n *nfc.Nfc, p Protocol) (bool, error) {
	poller, err := NewPoller(n, p)
	if err != nil {
		return false, err
	}
	defer poller.Free()

	var detected bool
	leaf := poller.leaf()
	root := poller.instances[0]
	handler := func(ev nfc.Event) nfc.Command {
		return root.Run(poller.rootEvent(ev))
	}
	if len(poller.instances) == 1 {
		handler = func(ev nfc.Event) nfc.Command {
			gev := poller.rootEvent(ev)
			if ev.Type == nfc.EventPollerReady {
				detected = leaf.Detect(gev)
				return nfc.CommandStop
			}
			return leaf.Run(gev)
		}
	} else {
		poller.instances[len(poller.instances)-2].SetCallback(func(ev Event) nfc.Command {
			detected = leaf.Detect(ev)
			return nfc.CommandStop
		})
	}

	if err := n.StartPoller(handler); err != nil {
		return false, err
	}
	n.Wait()
	nfc.Debugf("protocol: detect %v: %t", p, detected)
	return detected, nil
}

// Listener emulates a card through a chain of protocol listeners.
type Listener struct {
	chain
	instances []ListenerInstance
	protocol  Protocol
}

// NewListener allocates the listener chain for p. data is the leaf
// layer's card data; each parent layer gets the matching BaseData.
func NewListener(n *nfc.Nfc, p Protocol, data Data) (*Listener, error) {
	if n == nil || data == nil {
		return nil, fmt.Errorf("%w: nil session or data", nfc.ErrInvalidArgument)
	}
	protocols := Chain(p)
	if len(protocols) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProtocol, p)
	}

	datas := make([]Data, len(protocols))
	d := data
	for i := len(protocols) - 1; i >= 0; i-- {
		if d == nil || d.Protocol() != protocols[i] {
			return nil, fmt.Errorf("%w: data does not match %v at layer %v", nfc.ErrInvalidArgument, p, protocols[i])
		}
		datas[i] = d
		d = d.BaseData()
	}

	bases := make([]ListenerBase, len(protocols))
	for i, link := range protocols {
		base, ok := ListenerFor(link)
		if !ok {
			return nil, fmt.Errorf("%w: no listener for %v", ErrUnsupportedProtocol, link)
		}
		bases[i] = base
	}

	listener := &Listener{chain: chain{session: n}, protocol: p}
	var parent any = n
	for i, base := range bases {
		inst, err := base.Alloc(parent, datas[i])
		if err != nil {
			listener.freeAll()
			return nil, fmt.Errorf("alloc %v listener: %w", protocols[i], err)
		}
		listener.instances = append(listener.instances, inst)
		listener.add(protocols[i], inst.Free)
		parent = inst
	}
	for i := 0; i < len(listener.instances)-1; i++ {
		listener.instances[i].SetCallback(listener.instances[i+1].Run)
	}
	nfc.Debugf("protocol: %v listener chain %v", p, protocols)
	return listener, nil
}

// Protocol returns the leaf protocol of the chain.
func (l *Listener) Protocol() Protocol {
	return l.protocol
}

// Start runs the session listener worker. cb may be nil when the caller
// does not need the leaf layer's events.
func (l *Listener) Start(cb Callback) error {
	if l.released() {
		return nfc.ErrClosed
	}
	if cb == nil {
		cb = func(Event) nfc.Command { return nfc.CommandContinue }
	}
	l.instances[len(l.instances)-1].SetCallback(cb)
	root := l.instances[0]
	return l.session.StartListener(func(ev nfc.Event) nfc.Command {
		return root.Run(l.rootEvent(ev))
	})
}

// Stop aborts the worker and waits for it to exit.
func (l *Listener) Stop() {
	l.session.Stop()
}

// Data returns the emulated leaf data, including changes the reader
// wrote.
func (l *Listener) Data() Data {
	return l.instances[len(l.instances)-1].Data()
}

// FreeLayer releases a single layer. Layers above it must already be
// free.
func (l *Listener) FreeLayer(proto Protocol) error {
	if l.session.Running() {
		return ErrRunning
	}
	return l.freeLayer(proto)
}

// Free stops the worker and releases every layer, leaf first.
func (l *Listener) Free() {
	l.session.Stop()
	l.freeAll()
}
