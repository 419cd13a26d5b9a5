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

package iso4a

import (
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

const (
	pcbIBlock  = 0x02
	bufferSize = 256
)

// PollerState is the ISO14443-4A session state.
type PollerState int

const (
	PollerStateIdle PollerState = iota
	PollerStateReadAts
	PollerStateError
	PollerStateReady
)

// PollerEventType is what the poller reports upwards.
type PollerEventType int

const (
	PollerEventReady PollerEventType = iota
	PollerEventError
)

// PollerEvent is the Data of the generic events the poller emits.
type PollerEvent struct {
	Err  error
	Type PollerEventType
}

// Poller opens an ISO14443-4 session and exchanges I-blocks.
type Poller struct {
	iso3a       *iso3a.Poller
	data        *Data
	callback    protocol.Callback
	tx          *bitbuf.Buffer
	rx          *bitbuf.Buffer
	state       PollerState
	blockNumber byte
}

var _ protocol.PollerInstance = (*Poller)(nil)

// NewPoller returns a poller layered on parent.
func NewPoller(parent *iso3a.Poller) *Poller {
	return &Poller{
		iso3a: parent,
		data:  &Data{Iso3a: parent.Card()},
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

// Card returns the collected data with its concrete type.
func (p *Poller) Card() *Data { return p.data }

// State returns the session state.
func (p *Poller) State() PollerState { return p.state }

func (p *Poller) Free() { p.callback = nil }

func (p *Poller) emit(ev PollerEvent) nfc.Command {
	if p.callback == nil {
		return nfc.CommandContinue
	}
	return p.callback(protocol.Event{Protocol: protocol.Iso14443_4a, Instance: p, Data: ev})
}

// Run handles ISO14443-3A events: a fresh card gets RATS, then the layer
// above is told the session is ready.
func (p *Poller) Run(ev protocol.Event) nfc.Command {
	pev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok {
		return nfc.CommandContinue
	}
	if pev.Type == iso3a.PollerEventError {
		p.state = PollerStateIdle
		return p.emit(PollerEvent{Type: PollerEventError, Err: mapError(pev.Err)})
	}

	if p.state != PollerStateReady {
		if err := p.ReadATS(); err != nil {
			p.state = PollerStateError
			cmd := p.emit(PollerEvent{Type: PollerEventError, Err: err})
			p.state = PollerStateIdle
			return cmd
		}
	}
	return p.emit(PollerEvent{Type: PollerEventReady})
}

// Detect reports whether the card answers RATS.
func (p *Poller) Detect(ev protocol.Event) bool {
	pev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok || pev.Type != iso3a.PollerEventReady {
		return false
	}
	return p.ReadATS() == nil
}

// ReadATS sends RATS and parses the answer. It resets the block number.
func (p *Poller) ReadATS() error {
	p.state = PollerStateReadAts
	p.tx.CopyBytes([]byte{cmdRATS, FSDI256 << 4})
	if err := p.iso3a.SendStandardFrame(p.tx, p.rx, AtsFwtFc); err != nil {
		nfc.Debugf("iso4a: RATS: %v", err)
		return mapError(err)
	}
	ats, err := ParseATS(p.rx.Bytes())
	if err != nil {
		return err
	}
	p.data.Iso3a = p.iso3a.Card()
	p.data.ATS = ats
	p.blockNumber = 0
	p.state = PollerStateReady
	return nil
}

// SendBlock wraps tx in an I-block, exchanges it and returns the
// payload of the answer in rx. fwt of zero uses the ATS frame waiting
// time.
func (p *Poller) SendBlock(tx, rx *bitbuf.Buffer, fwt uint32) error {
	if p.state != PollerStateReady {
		return fmt.Errorf("%w: no ISO14443-4 session", ErrProtocol)
	}
	if fwt == 0 {
		fwt = p.data.ATS.FWT()
	}
	pcb := pcbIBlock | p.blockNumber
	p.blockNumber ^= 1

	p.tx.Reset()
	p.tx.AppendByte(pcb)
	p.tx.Append(tx)
	if err := p.iso3a.SendStandardFrame(p.tx, p.rx, fwt); err != nil {
		return mapError(err)
	}
	if !p.rx.StartsWithByte(pcb) {
		return fmt.Errorf("%w: answer PCB %s", ErrProtocol, p.rx)
	}
	rx.CopyRight(p.rx, 1)
	return nil
}

// Halt ends the session and halts the card.
func (p *Poller) Halt() error {
	p.state = PollerStateIdle
	return mapError(p.iso3a.Halt())
}

func init() {
	protocol.RegisterPoller(protocol.Iso14443_4a, protocol.PollerBaseFunc(allocPoller))
}
