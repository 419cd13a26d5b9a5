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
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
)

// ListenerState is the passive target state seen by software.
type ListenerState int

const (
	ListenerStateIdle ListenerState = iota
	ListenerStateActive
	ListenerStateHalted
)

// ListenerEventType is what the listener reports to the layer above.
type ListenerEventType int

const (
	// ListenerEventActivated means the reader selected the card.
	ListenerEventActivated ListenerEventType = iota
	// ListenerEventReceivedStandardFrame carries a frame whose CRC
	// checked out, with the CRC stripped.
	ListenerEventReceivedStandardFrame
	// ListenerEventReceivedData carries any other frame as received.
	ListenerEventReceivedData
	// ListenerEventFieldOff means the reader field dropped.
	ListenerEventFieldOff
	// ListenerEventHalted means the reader sent HLTA.
	ListenerEventHalted
)

// ListenerEvent is the Data of the generic events the listener emits.
// Raw is the frame as received, with any CRC. Both buffers are only
// valid during the callback.
type ListenerEvent struct {
	Buffer *bitbuf.Buffer
	Raw    *bitbuf.Buffer
	Type   ListenerEventType
}

// Listener emulates the ISO14443-3A layer of a card. Anticollision runs
// in the front-end from the configured identity.
type Listener struct {
	nfc      *nfc.Nfc
	data     *Data
	callback protocol.Callback
	rx       *bitbuf.Buffer
	tx       *bitbuf.Buffer
	state    ListenerState
}

var _ protocol.ListenerInstance = (*Listener)(nil)

// NewListener returns a listener emulating a copy of data.
func NewListener(n *nfc.Nfc, data *Data) (*Listener, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &Listener{
		nfc:  n,
		data: data.Clone(),
		rx:   bitbuf.New(bufferSize),
		tx:   bitbuf.New(bufferSize),
	}, nil
}

func allocListener(parent any, data protocol.Data) (protocol.ListenerInstance, error) {
	n, ok := parent.(*nfc.Nfc)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	d, ok := data.(*Data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidData, data)
	}
	return NewListener(n, d)
}

// State returns the passive target state.
func (l *Listener) State() ListenerState { return l.state }

func (l *Listener) SetCallback(cb protocol.Callback) { l.callback = cb }

func (l *Listener) Data() protocol.Data { return l.data }

// Card returns the emulated identity.
func (l *Listener) Card() *Data { return l.data }

func (l *Listener) Free() {
	l.callback = nil
}

func (l *Listener) emit(ev ListenerEvent) nfc.Command {
	if l.callback == nil {
		return nfc.CommandContinue
	}
	return l.callback(protocol.Event{Protocol: protocol.Iso14443_3a, Instance: l, Data: ev})
}

// Run handles core listener events.
func (l *Listener) Run(ev protocol.Event) nfc.Command {
	core, ok := ev.CoreEvent()
	if !ok {
		return nfc.CommandContinue
	}
	switch core.Type {
	case nfc.EventConfigureRequest:
		if err := l.nfc.Config(nfc.ModeIso3aListener); err != nil {
			nfc.Debugf("iso3a listener: configure: %v", err)
			return nfc.CommandStop
		}
		if err := l.nfc.SetColResData(l.data.UIDBytes, l.data.ATQA, l.data.SAK); err != nil {
			nfc.Debugf("iso3a listener: col res data: %v", err)
			return nfc.CommandStop
		}
	case nfc.EventListenerActivated:
		l.state = ListenerStateActive
		return l.emit(ListenerEvent{Type: ListenerEventActivated})
	case nfc.EventFieldOff:
		l.state = ListenerStateIdle
		return l.emit(ListenerEvent{Type: ListenerEventFieldOff})
	case nfc.EventRxEnd:
		return l.received(core.Buffer)
	case nfc.EventUserAbort, nfc.EventReset:
		l.state = ListenerStateIdle
	default:
	}
	return nfc.CommandContinue
}

func (l *Listener) received(buf *bitbuf.Buffer) nfc.Command {
	if buf == nil {
		return nfc.CommandContinue
	}
	if isHalt(buf) {
		if err := l.Sleep(); err != nil {
			nfc.Debugf("iso3a listener: sleep: %v", err)
		}
		return l.emit(ListenerEvent{Type: ListenerEventHalted})
	}
	if CheckCRC(buf) {
		l.rx.Copy(buf)
		TrimCRC(l.rx)
		return l.emit(ListenerEvent{Type: ListenerEventReceivedStandardFrame, Buffer: l.rx, Raw: buf})
	}
	return l.emit(ListenerEvent{Type: ListenerEventReceivedData, Buffer: buf, Raw: buf})
}

func isHalt(b *bitbuf.Buffer) bool {
	return b.IsSizeBytes(4) && b.Byte(0) == cmdHalt && b.Byte(1) == 0x00 && CheckCRC(b)
}

// Tx sends a frame with standard parity.
func (l *Listener) Tx(tx *bitbuf.Buffer) error {
	return l.nfc.ListenerTx(tx)
}

// TxWithCustomParity sends a frame with the parity bits stored in tx.
func (l *Listener) TxWithCustomParity(tx *bitbuf.Buffer) error {
	return l.nfc.ListenerTxCustomParity(tx)
}

// SendStandardFrame appends the CRC to tx and sends it.
func (l *Listener) SendStandardFrame(tx *bitbuf.Buffer) error {
	l.tx.Copy(tx)
	AppendCRC(l.tx)
	return l.nfc.ListenerTx(l.tx)
}

// Sleep puts the emulated card into the halted state; only WUPA wakes
// it.
func (l *Listener) Sleep() error {
	l.state = ListenerStateHalted
	return l.nfc.ListenerSleep()
}

func init() {
	protocol.RegisterListener(protocol.Iso14443_3a, protocol.ListenerBaseFunc(allocListener))
}
