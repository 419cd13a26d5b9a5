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
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

// ListenerEventType is what the listener reports to its callback.
type ListenerEventType int

const (
	// ListenerEventPageWritten means the reader changed Page.
	ListenerEventPageWritten ListenerEventType = iota
)

// ListenerEvent is the Data of the generic events the listener emits.
type ListenerEvent struct {
	Type ListenerEventType
	Page int
}

// Listener emulates an Ultralight or NTAG tag from an image.
type Listener struct {
	iso3a    *iso3a.Listener
	data     *Data
	callback protocol.Callback
	tx       *bitbuf.Buffer
	features Feature
}

var _ protocol.ListenerInstance = (*Listener)(nil)

// NewListener returns a listener emulating a copy of data on top of
// parent.
func NewListener(parent *iso3a.Listener, data *Data) (*Listener, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil data", ErrInvalidData)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return &Listener{
		iso3a:    parent,
		data:     data.Clone(),
		tx:       bitbuf.New(MaxPages),
		features: data.Type.Features(),
	}, nil
}

func allocListener(parent any, data protocol.Data) (protocol.ListenerInstance, error) {
	p, ok := parent.(*iso3a.Listener)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	d, ok := data.(*Data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidData, data)
	}
	return NewListener(p, d)
}

func (l *Listener) SetCallback(cb protocol.Callback) { l.callback = cb }

// Data returns the emulated image, including pages the reader wrote.
func (l *Listener) Data() protocol.Data { return l.data }

// Card returns the emulated image with its concrete type.
func (l *Listener) Card() *Data { return l.data }

func (l *Listener) Free() {
	l.callback = nil
}

func (l *Listener) emit(ev ListenerEvent) nfc.Command {
	if l.callback == nil {
		return nfc.CommandContinue
	}
	return l.callback(protocol.Event{Protocol: protocol.MfUltralight, Instance: l, Data: ev})
}

// Run answers the standard frames of the ISO14443-3A listener.
func (l *Listener) Run(ev protocol.Event) nfc.Command {
	iev, ok := ev.Data.(iso3a.ListenerEvent)
	if !ok || iev.Type != iso3a.ListenerEventReceivedStandardFrame {
		return nfc.CommandContinue
	}
	cmd := iev.Buffer
	size := cmd.SizeBytes()
	if size == 0 || cmd.SizeBits()%8 != 0 {
		return nfc.CommandContinue
	}

	switch {
	case cmd.Byte(0) == cmdRead && size == 2:
		l.read(int(cmd.Byte(1)))
	case cmd.Byte(0) == cmdFastRead && size == 3:
		l.fastRead(int(cmd.Byte(1)), int(cmd.Byte(2)))
	case cmd.Byte(0) == cmdGetVersion && size == 1:
		l.optional(FeatureReadVersion, l.data.Version.Bytes())
	case cmd.Byte(0) == cmdReadSig && size == 2:
		l.optional(FeatureReadSignature, l.data.Signature[:])
	case cmd.Byte(0) == cmdWrite && size == 2+PageSize:
		var page Page
		copy(page[:], cmd.Bytes()[2:])
		return l.write(int(cmd.Byte(1)), page)
	default:
		l.sendShort(nack)
	}
	return nfc.CommandContinue
}

func (l *Listener) send(payload []byte) {
	l.tx.CopyBytes(payload)
	if err := l.iso3a.SendStandardFrame(l.tx); err != nil {
		nfc.Debugf("mfultralight listener: send: %v", err)
	}
}

func (l *Listener) sendShort(v byte) {
	l.tx.Reset()
	l.tx.SetSize(ackBits)
	l.tx.SetByte(0, v)
	if err := l.iso3a.Tx(l.tx); err != nil {
		nfc.Debugf("mfultralight listener: send ack: %v", err)
	}
}

func (l *Listener) read(start int) {
	total := len(l.data.Pages)
	if start >= total {
		l.sendShort(nack)
		return
	}
	out := make([]byte, 0, PagesPerRead*PageSize)
	for i := range PagesPerRead {
		page := l.data.Pages[(start+i)%total]
		out = append(out, page[:]...)
	}
	l.send(out)
}

func (l *Listener) fastRead(start, end int) {
	if !l.features.Has(FeatureFastRead) || start > end || end >= len(l.data.Pages) {
		l.sendShort(nack)
		return
	}
	out := make([]byte, 0, (end-start+1)*PageSize)
	for _, page := range l.data.Pages[start : end+1] {
		out = append(out, page[:]...)
	}
	l.send(out)
}

// optional answers a command only some variants know. Others stay
// silent and drop to the halted state.
func (l *Listener) optional(f Feature, payload []byte) {
	if l.features.Has(f) {
		l.send(payload)
		return
	}
	if err := l.iso3a.Sleep(); err != nil {
		nfc.Debugf("mfultralight listener: sleep: %v", err)
	}
}

// isLocked evaluates the static lock bytes of page 2, which cover pages
// 3 to 15.
func (l *Listener) isLocked(page int) bool {
	if page < pageCC || page > 15 {
		return false
	}
	lock := uint16(l.data.Pages[pageSerial2][2]) | uint16(l.data.Pages[pageSerial2][3])<<8
	return lock&(1<<page) != 0
}

func (l *Listener) write(page int, data Page) nfc.Command {
	if page <= pageSerial1 || page >= len(l.data.Pages) || l.isLocked(page) {
		l.sendShort(nack)
		return nfc.CommandContinue
	}
	current := &l.data.Pages[page]
	switch page {
	case pageSerial2:
		// lock bits are one-time programmable
		current[2] |= data[2]
		current[3] |= data[3]
	case pageCC:
		for i := range current {
			current[i] |= data[i]
		}
	default:
		*current = data
	}
	l.sendShort(ack)
	return l.emit(ListenerEvent{Type: ListenerEventPageWritten, Page: page})
}

func init() {
	protocol.RegisterListener(protocol.MfUltralight, protocol.ListenerBaseFunc(allocListener))
}
