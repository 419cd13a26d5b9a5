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

package mfultralight

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

const (
	// FwtFc is the frame waiting time used for every exchange.
	FwtFc = 60000

	bufferSize = 64
	ackBits    = 4
	// sakUltralight is the select acknowledge of the whole family.
	sakUltralight = 0x00
)

// PollerState is the state of the read state machine.
type PollerState int

const (
	PollerStateIdle PollerState = iota
	PollerStateReadVersion
	PollerStateDetectNtag203
	PollerStateGetFeatureSet
	PollerStateReadSignature
	PollerStateReadPages
	PollerStateReadFailed
	PollerStateReadSuccess
)

// PollerEventType is what the poller reports to its callback.
type PollerEventType int

const (
	PollerEventReadSuccess PollerEventType = iota
	PollerEventReadFailed
)

func (t PollerEventType) String() string {
	if t == PollerEventReadSuccess {
		return "ReadSuccess"
	}
	return "ReadFailed"
}

// PollerEvent is the Data of the generic events the poller emits.
type PollerEvent struct {
	Err  error
	Type PollerEventType
}

// Poller reads an Ultralight or NTAG tag through an ISO14443-3A poller.
type Poller struct {
	iso3a    *iso3a.Poller
	data     *Data
	callback protocol.Callback
	tx       *bitbuf.Buffer
	rx       *bitbuf.Buffer
	err      error
	state    PollerState
	features Feature
}

var _ protocol.PollerInstance = (*Poller)(nil)

// NewPoller returns a poller running on top of parent.
func NewPoller(parent *iso3a.Poller) *Poller {
	return &Poller{
		iso3a: parent,
		data:  NewData(nil, TypeUnknown),
		tx:    bitbuf.New(bufferSize),
		rx:    bitbuf.New(bufferSize),
	}
}

func allocPoller(parent any) (protocol.PollerInstance, error) {
	p, ok := parent.(*iso3a.Poller)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	return NewPoller(p), nil
}

func (p *Poller) SetCallback(cb protocol.Callback) { p.callback = cb }

func (p *Poller) Data() protocol.Data { return p.data }

// Card returns the tag image with its concrete type.
func (p *Poller) Card() *Data { return p.data }

// State returns the state of the read state machine.
func (p *Poller) State() PollerState { return p.state }

func (p *Poller) Free() {
	p.callback = nil
}

// Detect reports whether the activated card belongs to the Ultralight
// family.
func (p *Poller) Detect(ev protocol.Event) bool {
	iev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok || iev.Type != iso3a.PollerEventReady {
		return false
	}
	return p.iso3a.Card().SAK == sakUltralight
}

func (p *Poller) emit(ev PollerEvent) nfc.Command {
	if p.callback == nil {
		return nfc.CommandContinue
	}
	return p.callback(protocol.Event{Protocol: protocol.MfUltralight, Instance: p, Data: ev})
}

func (p *Poller) halt() {
	if err := p.iso3a.Halt(); err != nil {
		nfc.Debugf("mfultralight: halt: %v", err)
	}
}

// exchange sends cmd as a standard frame and leaves the answer in p.rx.
// A 4-bit answer is an ACK or a NACK; after a NACK or a timeout the tag
// is idle and the next exchange activates it again.
func (p *Poller) exchange(cmd []byte) error {
	p.tx.CopyBytes(cmd)
	err := p.iso3a.SendStandardFrame(p.tx, p.rx, FwtFc)
	if p.rx.SizeBits() == ackBits && errors.Is(err, iso3a.ErrWrongCrc) {
		if p.rx.Byte(0)&0x0F == ack {
			return nil
		}
		p.iso3a.Deselect()
		return fmt.Errorf("%w: %X", ErrNack, p.rx.Byte(0)&0x0F)
	}
	if err != nil {
		err = mapError(err)
		if !errors.Is(err, ErrNotPresent) {
			p.iso3a.Deselect()
		}
		return err
	}
	return nil
}

func (p *Poller) expectBytes(n int, what string) error {
	if !p.rx.IsSizeBytes(n) {
		return fmt.Errorf("%w: %s of %d bits", ErrProtocol, what, p.rx.SizeBits())
	}
	return nil
}

// ReadVersion sends GET_VERSION.
func (p *Poller) ReadVersion() (Version, error) {
	if err := p.exchange([]byte{cmdGetVersion}); err != nil {
		return Version{}, err
	}
	return ParseVersion(p.rx.Bytes())
}

// ReadPages reads the four pages starting at start. Reads past the end
// wrap around to page 0.
func (p *Poller) ReadPages(start int) ([PagesPerRead]Page, error) {
	var out [PagesPerRead]Page
	if start < 0 || start >= MaxPages {
		return out, fmt.Errorf("%w: %d", ErrInvalidPage, start)
	}
	if err := p.exchange([]byte{cmdRead, byte(start)}); err != nil {
		return out, err
	}
	if err := p.expectBytes(PagesPerRead*PageSize, "read"); err != nil {
		return out, err
	}
	for i := range out {
		copy(out[i][:], p.rx.Bytes()[i*PageSize:])
	}
	return out, nil
}

// FastRead reads the pages from start to end inclusive in one exchange.
func (p *Poller) FastRead(start, end int) ([]Page, error) {
	if start < 0 || end < start || end >= MaxPages {
		return nil, fmt.Errorf("%w: %d to %d", ErrInvalidPage, start, end)
	}
	if err := p.exchange([]byte{cmdFastRead, byte(start), byte(end)}); err != nil {
		return nil, err
	}
	count := end - start + 1
	if err := p.expectBytes(count*PageSize, "fast read"); err != nil {
		return nil, err
	}
	out := make([]Page, count)
	for i := range out {
		copy(out[i][:], p.rx.Bytes()[i*PageSize:])
	}
	return out, nil
}

// ReadSignature sends READ_SIG.
func (p *Poller) ReadSignature() (Signature, error) {
	var sig Signature
	if err := p.exchange([]byte{cmdReadSig, 0x00}); err != nil {
		return sig, err
	}
	if err := p.expectBytes(SignatureSize, "signature"); err != nil {
		return sig, err
	}
	copy(sig[:], p.rx.Bytes())
	return sig, nil
}

// WritePage writes one page. The tag acknowledges with a 4-bit ACK.
func (p *Poller) WritePage(page int, data Page) error {
	if page < 0 || page >= MaxPages {
		return fmt.Errorf("%w: %d", ErrInvalidPage, page)
	}
	if err := p.exchange([]byte{cmdWrite, byte(page), data[0], data[1], data[2], data[3]}); err != nil {
		return err
	}
	if p.rx.SizeBits() != ackBits {
		return fmt.Errorf("%w: write answer of %d bits", ErrProtocol, p.rx.SizeBits())
	}
	return nil
}

// Run drives the read state machine one step per activated-card event.
func (p *Poller) Run(ev protocol.Event) nfc.Command {
	iev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok {
		return nfc.CommandContinue
	}
	if iev.Type == iso3a.PollerEventError {
		if p.state == PollerStateIdle {
			return nfc.CommandReset
		}
		p.err = iev.Err
		p.state = PollerStateReadFailed
	}

	switch p.state {
	case PollerStateIdle:
		p.data = NewData(p.iso3a.Card(), TypeUnknown)
		p.err = nil
		p.state = PollerStateReadVersion
	case PollerStateReadVersion:
		p.handleReadVersion()
	case PollerStateDetectNtag203:
		p.handleDetectNtag203()
	case PollerStateGetFeatureSet:
		p.handleGetFeatureSet()
	case PollerStateReadSignature:
		p.handleReadSignature()
	case PollerStateReadPages:
		p.handleReadPages()
	case PollerStateReadFailed:
		return p.handleReadFailed()
	case PollerStateReadSuccess:
		return p.handleReadSuccess()
	}
	return nfc.CommandContinue
}

func (p *Poller) handleReadVersion() {
	v, err := p.ReadVersion()
	if err != nil {
		nfc.Debugf("mfultralight: no version, checking for NTAG203: %v", err)
		p.state = PollerStateDetectNtag203
		return
	}
	p.data.Version = v
	p.data.Type = v.Type()
	if p.data.Type == TypeUnknown {
		// an NTAG the table does not know may still carry a capability container
		if pages, err := p.ReadPages(pageCC); err == nil {
			p.data.Type = TypeFromCC(pages[0])
		}
	}
	p.state = PollerStateGetFeatureSet
}

func (p *Poller) handleDetectNtag203() {
	if _, err := p.ReadPages(ntag203ProbePage); err == nil {
		nfc.Debugf("mfultralight: NTAG203 detected")
		p.data.Type = TypeNTAG203
	} else {
		nfc.Debugf("mfultralight: original Ultralight detected")
		p.data.Type = TypeUnknown
	}
	p.state = PollerStateGetFeatureSet
}

func (p *Poller) handleGetFeatureSet() {
	version := p.data.Version
	p.data = NewData(p.iso3a.Card(), p.data.Type)
	if p.data.Type.Features().Has(FeatureReadVersion) {
		p.data.Version = version
	}
	p.features = p.data.Type.Features()
	nfc.Debugf("mfultralight: %v detected, %d pages", p.data.Type, len(p.data.Pages))
	p.state = PollerStateReadSignature
}

func (p *Poller) handleReadSignature() {
	p.state = PollerStateReadPages
	if !p.features.Has(FeatureReadSignature) {
		return
	}
	sig, err := p.ReadSignature()
	if err != nil {
		p.err = err
		p.state = PollerStateReadFailed
		return
	}
	p.data.Signature = sig
}

func (p *Poller) handleReadPages() {
	start := p.data.PagesRead
	pages, err := p.ReadPages(start)
	if err != nil {
		nfc.Debugf("mfultralight: read page %d: %v", start, err)
		if start > 0 {
			p.state = PollerStateReadSuccess
		} else {
			p.err = err
			p.state = PollerStateReadFailed
		}
		return
	}
	total := len(p.data.Pages)
	for i, page := range pages {
		if start+i < total {
			p.data.Pages[start+i] = page
			p.data.PagesRead++
		}
	}
	if p.data.PagesRead == total {
		p.state = PollerStateReadSuccess
	}
}

func (p *Poller) handleReadFailed() nfc.Command {
	p.halt()
	cmd := p.emit(PollerEvent{Type: PollerEventReadFailed, Err: p.err})
	p.state = PollerStateIdle
	if cmd == nfc.CommandStop {
		return cmd
	}
	return nfc.CommandReset
}

func (p *Poller) handleReadSuccess() nfc.Command {
	p.halt()
	cmd := p.emit(PollerEvent{Type: PollerEventReadSuccess})
	if cmd == nfc.CommandReset {
		p.state = PollerStateIdle
		return cmd
	}
	return nfc.CommandStop
}

func init() {
	protocol.RegisterPoller(protocol.MfUltralight, protocol.PollerBaseFunc(allocPoller))
}
