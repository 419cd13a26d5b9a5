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

package iso3a

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
)

const (
	cmdHalt       = 0x50
	cascadeTag    = 0x88
	sakCascadeBit = 0x04
	nvbSdd        = 0x20
	nvbSel        = 0x70

	maxCascadeLevels = 3
	// activateAttempts bounds how often a malformed answer restarts
	// activation.
	activateAttempts = 3
	bufferSize       = 256
)

func selCmd(level int) byte {
	return 0x93 + byte(level)*2
}

// PollerState tracks the card's activation.
type PollerState int

const (
	PollerStateIdle PollerState = iota
	PollerStateColResInProgress
	PollerStateColResFailed
	PollerStateActivated
)

// PollerEventType is what the poller reports to the layer above.
type PollerEventType int

const (
	// PollerEventReady means a card is activated and Data is valid.
	PollerEventReady PollerEventType = iota
	// PollerEventError means activation failed; Err says why.
	PollerEventError
)

// PollerEvent is the Data of the generic events the poller emits.
type PollerEvent struct {
	Err  error
	Type PollerEventType
}

// Poller activates ISO14443-3A cards and exchanges frames with them.
type Poller struct {
	nfc      *nfc.Nfc
	data     *Data
	callback protocol.Callback
	tx       *bitbuf.Buffer
	rx       *bitbuf.Buffer
	crcTx    *bitbuf.Buffer
	crcRx    *bitbuf.Buffer
	state    PollerState
	level    int
}

var _ protocol.PollerInstance = (*Poller)(nil)

// NewPoller returns a poller for session n.
func NewPoller(n *nfc.Nfc) *Poller {
	return &Poller{
		nfc:   n,
		data:  &Data{},
		tx:    bitbuf.New(bufferSize),
		rx:    bitbuf.New(bufferSize),
		crcTx: bitbuf.New(bufferSize),
		crcRx: bitbuf.New(bufferSize),
	}
}

func allocPoller(parent any) (protocol.PollerInstance, error) {
	n, ok := parent.(*nfc.Nfc)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	return NewPoller(n), nil
}

// Session returns the transceiver session the poller runs on.
func (p *Poller) Session() *nfc.Nfc { return p.nfc }

// State returns the activation state.
func (p *Poller) State() PollerState { return p.state }

func (p *Poller) SetCallback(cb protocol.Callback) { p.callback = cb }

// Data returns the last activated card.
func (p *Poller) Data() protocol.Data { return p.data }

// Card returns the last activated card with its concrete type.
func (p *Poller) Card() *Data { return p.data }

func (p *Poller) Free() {
	p.callback = nil
	p.state = PollerStateIdle
}

func (p *Poller) configure() error {
	if err := p.nfc.Config(nfc.ModeIso3aPoller); err != nil {
		return err
	}
	p.nfc.SetGuardTimeUs(GuardTimeUs)
	p.nfc.SetFdtPollFc(FdtPollFc)
	p.nfc.SetFdtPollPollUs(PollPollMinUs)
	return nil
}

func (p *Poller) emit(ev PollerEvent) nfc.Command {
	if p.callback == nil {
		return nfc.CommandContinue
	}
	return p.callback(protocol.Event{Protocol: protocol.Iso14443_3a, Instance: p, Data: ev})
}

// Run handles core events: it configures the front-end, activates the
// card once the field is up and reports the result upwards.
func (p *Poller) Run(ev protocol.Event) nfc.Command {
	core, ok := ev.CoreEvent()
	if !ok {
		return nfc.CommandContinue
	}
	switch core.Type {
	case nfc.EventConfigureRequest:
		if err := p.configure(); err != nil {
			nfc.Debugf("iso3a: configure: %v", err)
			return nfc.CommandStop
		}
	case nfc.EventPollerReady:
		if p.state != PollerStateActivated {
			if _, err := p.Activate(); err != nil {
				return p.emit(PollerEvent{Type: PollerEventError, Err: err})
			}
		}
		return p.emit(PollerEvent{Type: PollerEventReady})
	case nfc.EventReset:
		p.state = PollerStateIdle
	default:
	}
	return nfc.CommandContinue
}

// Detect activates the card and reports whether that worked.
func (p *Poller) Detect(ev protocol.Event) bool {
	core, ok := ev.CoreEvent()
	if !ok || core.Type != nfc.EventPollerReady {
		return false
	}
	_, err := p.Activate()
	return err == nil
}

// Activate runs REQA and the cascade levels and returns a copy of the
// card identity. A malformed answer restarts from the first level.
func (p *Poller) Activate() (*Data, error) {
	var err error
	for attempt := range activateAttempts {
		var data *Data
		data, err = p.activateOnce()
		if err == nil {
			return data, nil
		}
		if !restartable(err) || errors.Is(err, nfc.ErrAborted) {
			break
		}
		nfc.Debugf("iso3a: activation attempt %d: %v", attempt+1, err)
	}
	return nil, err
}

func (p *Poller) activateOnce() (*Data, error) {
	p.data.Reset()
	p.tx.Reset()
	p.rx.Reset()

	if err := p.nfc.ShortFrame(nfc.ShortFrameSensReq, p.rx, FdtListenFc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPresent, err)
	}
	if !p.rx.IsSizeBytes(2) {
		return nil, fmt.Errorf("%w: atqa of %d bits", ErrCommunication, p.rx.SizeBits())
	}
	p.data.ATQA = [2]byte{p.rx.Byte(0), p.rx.Byte(1)}

	p.state = PollerStateColResInProgress
	for p.level = 0; p.level < maxCascadeLevels; p.level++ {
		part, sak, err := p.cascade(p.level)
		if err != nil {
			p.state = PollerStateColResFailed
			return nil, err
		}
		if sak&sakCascadeBit != 0 {
			if part[0] != cascadeTag {
				p.state = PollerStateColResFailed
				return nil, fmt.Errorf("%w: missing cascade tag at level %d", ErrCommunication, p.level)
			}
			p.data.UIDBytes = append(p.data.UIDBytes, part[1:]...)
			continue
		}

		p.data.UIDBytes = append(p.data.UIDBytes, part...)
		p.data.SAK = sak
		p.state = PollerStateActivated
		nfc.Debugf("iso3a: activated %v", p.data)
		return p.data.Clone(), nil
	}

	p.state = PollerStateColResFailed
	return nil, fmt.Errorf("%w: more than %d cascade levels", ErrColResFailed, maxCascadeLevels)
}

// cascade resolves one level: SDD for the UID part, then SEL for the SAK.
func (p *Poller) cascade(level int) ([]byte, byte, error) {
	p.tx.CopyBytes([]byte{selCmd(level), nvbSdd})
	if err := p.nfc.SddFrame(p.tx, p.rx, FdtListenFc); err != nil {
		return nil, 0, fmt.Errorf("%w: sdd level %d: %w", ErrColResFailed, level, mapError(err))
	}
	if !p.rx.IsSizeBytes(5) {
		return nil, 0, fmt.Errorf("%w: sdd answer of %d bits", ErrCommunication, p.rx.SizeBits())
	}
	part := append([]byte(nil), p.rx.Bytes()[:4]...)
	bcc := p.rx.Byte(4)
	if part[0]^part[1]^part[2]^part[3] != bcc {
		return nil, 0, fmt.Errorf("%w: bad BCC at level %d", ErrCommunication, level)
	}

	p.tx.CopyBytes([]byte{selCmd(level), nvbSel, part[0], part[1], part[2], part[3], bcc})
	if err := p.standardFrame(p.tx, p.rx, FdtListenFc); err != nil {
		if restartable(err) {
			return nil, 0, err
		}
		return nil, 0, fmt.Errorf("%w: sel level %d: %w", ErrColResFailed, level, err)
	}
	if !p.rx.IsSizeBytes(1) {
		return nil, 0, fmt.Errorf("%w: sak of %d bits", ErrCommunication, p.rx.SizeBits())
	}
	return part, p.rx.Byte(0), nil
}

// Halt sends HLTA. The card does not answer, so only an abort is
// reported as an error.
func (p *Poller) Halt() error {
	p.crcTx.CopyBytes([]byte{cmdHalt, 0x00})
	err := p.standardFrame(p.crcTx, p.crcRx, FdtListenFc)
	p.state = PollerStateIdle
	if errors.Is(err, nfc.ErrAborted) {
		return err
	}
	return nil
}

// Deselect forgets the activation without sending HLTA, for cards that
// dropped back to idle on their own after a NACK or a failed auth. The
// next exchange activates the card again.
func (p *Poller) Deselect() {
	p.state = PollerStateIdle
}

// CheckPresence sends REQA and reports whether a card answered. A halted
// card stays silent. The card leaves its active state, so the next
// exchange reactivates it.
func (p *Poller) CheckPresence() error {
	err := p.nfc.ShortFrame(nfc.ShortFrameSensReq, p.rx, FdtListenFc)
	p.state = PollerStateIdle
	if err != nil {
		return mapError(err)
	}
	if !p.rx.IsSizeBytes(2) {
		return fmt.Errorf("%w: atqa of %d bits", ErrCommunication, p.rx.SizeBits())
	}
	return nil
}

func (p *Poller) prepare() error {
	if p.state == PollerStateIdle {
		_, err := p.Activate()
		return err
	}
	return nil
}

// Txrx exchanges a raw frame with standard parity.
func (p *Poller) Txrx(tx, rx *bitbuf.Buffer, fwt uint32) error {
	if err := p.prepare(); err != nil {
		return err
	}
	return mapError(p.nfc.Trx(tx, rx, fwt))
}

// TxrxCustomParity exchanges a frame whose parity bits the caller
// provides, as the MIFARE Classic encrypted channel needs.
func (p *Poller) TxrxCustomParity(tx, rx *bitbuf.Buffer, fwt uint32) error {
	if err := p.prepare(); err != nil {
		return err
	}
	return mapError(p.nfc.TrxCustomParity(tx, rx, fwt))
}

// SendStandardFrame appends the CRC to tx, exchanges it and checks and
// strips the CRC of the answer.
func (p *Poller) SendStandardFrame(tx, rx *bitbuf.Buffer, fwt uint32) error {
	if err := p.prepare(); err != nil {
		return err
	}
	return p.standardFrame(tx, rx, fwt)
}

func (p *Poller) standardFrame(tx, rx *bitbuf.Buffer, fwt uint32) error {
	if tx.SizeBytes() > bufferSize-bitbuf.CRCSize {
		return fmt.Errorf("%w: frame of %d bytes", nfc.ErrBufferOverflow, tx.SizeBytes())
	}
	if tx != p.crcTx {
		p.crcTx.Copy(tx)
	}
	AppendCRC(p.crcTx)
	if err := p.nfc.Trx(p.crcTx, p.crcRx, fwt); err != nil {
		return mapError(err)
	}
	rx.Copy(p.crcRx)
	if !CheckCRC(p.crcRx) {
		return ErrWrongCrc
	}
	TrimCRC(rx)
	return nil
}

func init() {
	protocol.RegisterPoller(protocol.Iso14443_3a, protocol.PollerBaseFunc(allocPoller))
}
