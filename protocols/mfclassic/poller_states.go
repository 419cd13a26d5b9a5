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

package mfclassic

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

// PollerState is the state of the read state machine.
type PollerState int

const (
	PollerStateIdle PollerState = iota
	PollerStateStart
	PollerStateNewSector
	PollerStateRequestKey
	PollerStateAuthKeyA
	PollerStateAuthKeyB
	PollerStateReadSector
	PollerStateKeyReuseStart
	PollerStateKeyReuseAuthKeyA
	PollerStateKeyReuseAuthKeyB
	PollerStateKeyReuseReadSector
	PollerStateNextSector
	PollerStateSuccess
	PollerStateFail
)

var pollerStateNames = [...]string{
	"Idle", "Start", "NewSector", "RequestKey", "AuthKeyA", "AuthKeyB",
	"ReadSector", "KeyReuseStart", "KeyReuseAuthKeyA", "KeyReuseAuthKeyB",
	"KeyReuseReadSector", "NextSector", "Success", "Fail",
}

func (s PollerState) String() string {
	if s >= 0 && int(s) < len(pollerStateNames) {
		return pollerStateNames[s]
	}
	return fmt.Sprintf("PollerState(%d)", int(s))
}

// PollerEventType is what the poller reports to its callback.
type PollerEventType int

const (
	// PollerEventRequestMode asks for the mode; fill in ModeRequest.
	PollerEventRequestMode PollerEventType = iota
	PollerEventCardDetected
	PollerEventCardLost
	// PollerEventRequestKey asks for the next dictionary key; fill in
	// KeyRequest or leave Provided false when the dictionary is empty.
	PollerEventRequestKey
	// PollerEventNextSector means the dictionary loop moved on to Sector;
	// the dictionary should start over.
	PollerEventNextSector
	PollerEventDataUpdate
	PollerEventFoundKeyA
	PollerEventFoundKeyB
	PollerEventKeyAttackStart
	PollerEventKeyAttackStop
	PollerEventKeyAttackNextSector
	PollerEventSuccess
	PollerEventFail
)

var pollerEventNames = [...]string{
	"RequestMode", "CardDetected", "CardLost", "RequestKey", "NextSector",
	"DataUpdate", "FoundKeyA", "FoundKeyB", "KeyAttackStart", "KeyAttackStop",
	"KeyAttackNextSector", "Success", "Fail",
}

func (t PollerEventType) String() string {
	if t >= 0 && int(t) < len(pollerEventNames) {
		return pollerEventNames[t]
	}
	return fmt.Sprintf("PollerEventType(%d)", int(t))
}

// Mode selects what the poller does with the card.
type Mode int

const (
	// ModeDictAttack recovers keys from a dictionary and reads what they
	// open.
	ModeDictAttack Mode = iota
	// ModeRead reads what the keys of the seed data open.
	ModeRead
)

// ModeRequest is filled in by the callback on PollerEventRequestMode.
// Data, when it describes the same card, seeds the attack.
type ModeRequest struct {
	Data *Data
	Mode Mode
}

// KeyRequest is filled in by the callback on PollerEventRequestKey.
type KeyRequest struct {
	Sector   int
	Key      Key
	Provided bool
}

// PollerEvent is the Data of the generic events the poller emits.
type PollerEvent struct {
	Err         error
	ModeRequest *ModeRequest
	KeyRequest  *KeyRequest
	Type        PollerEventType
	Sector      int
	KeyType     KeyType
	Key         Key
	SectorsRead int
	KeysFound   int
}

// dictAttackContext is the bookkeeping of one run of the state machine.
type dictAttackContext struct {
	mode         Mode
	sector       int
	sectorsTotal int
	currentKey   Key
	// sector whose hit started key reuse and the key type that hit
	reuseOrigin  int
	reuseHit     KeyType
	reuseSector  int
	err          error
	readKeyType  KeyType
	afterRead    PollerState
	readAttempts [MaxSectors]byte
}

func (p *Poller) emit(ev PollerEvent) nfc.Command {
	if p.callback == nil {
		return nfc.CommandContinue
	}
	return p.callback(protocol.Event{Protocol: protocol.MfClassic, Instance: p, Data: ev})
}

// Run drives the state machine one step per activated-card event. A lost
// card is reported once and the field is cycled until it returns.
func (p *Poller) Run(ev protocol.Event) nfc.Command {
	iev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok {
		return nfc.CommandContinue
	}
	if iev.Type == iso3a.PollerEventError {
		return p.cardLost()
	}

	if !p.detected {
		p.detected = true
		if p.state != PollerStateStart && !bytes.Equal(p.iso3a.Card().UIDBytes, p.data.UID()) {
			nfc.Debugf("mfclassic: different card, starting over")
			p.state = PollerStateStart
		}
		if cmd := p.emit(PollerEvent{Type: PollerEventCardDetected}); cmd != nfc.CommandContinue {
			return cmd
		}
	}

	return p.step()
}

func (p *Poller) cardLost() nfc.Command {
	p.resetAuth()
	if !p.detected {
		return nfc.CommandReset
	}
	p.detected = false
	cmd := p.emit(PollerEvent{Type: PollerEventCardLost})
	if cmd == nfc.CommandStop {
		return cmd
	}
	return nfc.CommandReset
}

func (p *Poller) step() nfc.Command {
	switch p.state {
	case PollerStateIdle, PollerStateStart:
		return p.handleStart()
	case PollerStateNewSector:
		return p.handleNewSector()
	case PollerStateRequestKey:
		return p.handleRequestKey()
	case PollerStateAuthKeyA:
		return p.handleAuth(KeyTypeA)
	case PollerStateAuthKeyB:
		return p.handleAuth(KeyTypeB)
	case PollerStateReadSector, PollerStateKeyReuseReadSector:
		return p.handleReadSector()
	case PollerStateKeyReuseStart:
		return p.handleKeyReuseStart()
	case PollerStateKeyReuseAuthKeyA:
		return p.handleKeyReuseAuth(KeyTypeA)
	case PollerStateKeyReuseAuthKeyB:
		return p.handleKeyReuseAuth(KeyTypeB)
	case PollerStateNextSector:
		return p.handleNextSector()
	case PollerStateSuccess:
		return p.handleDone(PollerEventSuccess)
	default:
		return p.handleDone(PollerEventFail)
	}
}

func (p *Poller) handleStart() nfc.Command {
	card := p.iso3a.Card()
	t, ok := TypeFromSAK(card.SAK)
	if !ok {
		p.dict.err = fmt.Errorf("%w: SAK %02X", ErrUnsupportedCard, card.SAK)
		p.state = PollerStateFail
		return nfc.CommandContinue
	}

	req := &ModeRequest{Mode: ModeDictAttack}
	cmd := p.emit(PollerEvent{Type: PollerEventRequestMode, ModeRequest: req})
	p.data = NewData(card, t)
	if p.data.Merge(req.Data) {
		nfc.Debugf("mfclassic: resuming from seed data")
	}
	p.dict = dictAttackContext{
		mode:         req.Mode,
		sectorsTotal: t.Sectors(),
	}
	p.state = PollerStateNewSector
	if cmd != nfc.CommandContinue {
		return cmd
	}
	return p.dataUpdate(0)
}

func (p *Poller) dataUpdate(sector int) nfc.Command {
	sectorsRead, keysFound := p.data.SectorsReadAndKeysFound()
	return p.emit(PollerEvent{
		Type:        PollerEventDataUpdate,
		Sector:      sector,
		SectorsRead: sectorsRead,
		KeysFound:   keysFound,
	})
}

// knownReadKey returns a known key of sector not yet used to read it.
func (p *Poller) knownReadKey(sector int) (Key, KeyType, bool) {
	for _, kt := range []KeyType{KeyTypeA, KeyTypeB} {
		key, ok := p.data.Key(sector, kt).Get()
		if ok && p.dict.readAttempts[sector]&(1<<kt) == 0 {
			return key, kt, true
		}
	}
	return Key{}, 0, false
}

func (p *Poller) handleNewSector() nfc.Command {
	d := &p.dict
	if d.sector >= d.sectorsTotal {
		p.state = PollerStateSuccess
		return nfc.CommandContinue
	}
	if !p.data.IsSectorRead(d.sector) {
		if key, kt, ok := p.knownReadKey(d.sector); ok {
			d.currentKey = key
			p.scheduleRead(kt, PollerStateNewSector)
			return nfc.CommandContinue
		}
	}
	// with both keys known the dictionary has nothing left to offer
	if p.data.IsKeyFound(d.sector, KeyTypeA) && p.data.IsKeyFound(d.sector, KeyTypeB) {
		return p.advance()
	}
	p.state = PollerStateRequestKey
	return nfc.CommandContinue
}

// advance moves the dictionary loop to the next sector.
func (p *Poller) advance() nfc.Command {
	d := &p.dict
	d.sector++
	if d.sector >= d.sectorsTotal {
		p.state = PollerStateSuccess
		return nfc.CommandContinue
	}
	p.state = PollerStateNewSector
	return p.emit(PollerEvent{Type: PollerEventNextSector, Sector: d.sector})
}

func (p *Poller) handleRequestKey() nfc.Command {
	d := &p.dict
	if d.mode != ModeDictAttack {
		return p.advance()
	}
	req := &KeyRequest{Sector: d.sector}
	cmd := p.emit(PollerEvent{Type: PollerEventRequestKey, Sector: d.sector, KeyRequest: req})
	if !req.Provided {
		if cmd != nfc.CommandContinue {
			return cmd
		}
		return p.advance()
	}
	d.currentKey = req.Key
	p.state = PollerStateAuthKeyA
	return cmd
}

// tryKey authenticates to sector with the current key. A rejected key is
// false with a nil error.
func (p *Poller) tryKey(sector int, kt KeyType) (bool, error) {
	key := p.dict.currentKey
	_, err := p.Auth(FirstBlockOfSector(sector), key, kt)
	switch {
	case err == nil:
		p.data.SetKey(sector, kt, key)
		p.dict.readAttempts[sector] &^= 1 << kt
		return true, nil
	case errors.Is(err, ErrAuthFailed):
		return false, nil
	default:
		return false, err
	}
}

func (p *Poller) foundEvent(sector int, kt KeyType) PollerEvent {
	ev := PollerEvent{Type: PollerEventFoundKeyA, Sector: sector, KeyType: kt, Key: p.dict.currentKey}
	if kt == KeyTypeB {
		ev.Type = PollerEventFoundKeyB
	}
	return ev
}

func (p *Poller) handleAuth(kt KeyType) nfc.Command {
	d := &p.dict
	if p.data.IsKeyFound(d.sector, kt) {
		if kt == KeyTypeA {
			p.state = PollerStateAuthKeyB
		} else {
			p.state = PollerStateNewSector
		}
		return nfc.CommandContinue
	}

	ok, err := p.tryKey(d.sector, kt)
	if err != nil {
		return p.exchangeFailed(err)
	}
	if !ok {
		if kt == KeyTypeA {
			p.state = PollerStateAuthKeyB
		} else {
			p.state = PollerStateNewSector
		}
		return nfc.CommandContinue
	}

	nfc.Debugf("mfclassic: sector %d key %v found", d.sector, kt)
	next := PollerStateNewSector
	if kt == KeyTypeA {
		next = PollerStateAuthKeyB
	}
	if d.sector < d.sectorsTotal-1 {
		d.reuseOrigin = d.sector
		d.reuseHit = kt
		next = PollerStateKeyReuseStart
	}
	p.scheduleRead(kt, next)
	return p.emit(p.foundEvent(d.sector, kt))
}

// scheduleRead moves to the read state of the current loop. The read
// authenticates first unless the session already holds kt for the sector.
func (p *Poller) scheduleRead(kt KeyType, after PollerState) {
	p.dict.readKeyType = kt
	p.dict.afterRead = after
	if p.state == PollerStateKeyReuseAuthKeyA || p.state == PollerStateKeyReuseAuthKeyB {
		p.state = PollerStateKeyReuseReadSector
	} else {
		p.state = PollerStateReadSector
	}
}

func (p *Poller) readSector() int {
	if p.state == PollerStateKeyReuseReadSector {
		return p.dict.reuseSector
	}
	return p.dict.sector
}

func (p *Poller) handleReadSector() nfc.Command {
	d := &p.dict
	sector := p.readSector()
	kt := d.readKeyType
	d.readAttempts[sector] |= 1 << kt

	first := FirstBlockOfSector(sector)
	if p.authed != authStateAuthenticated || p.auth.Block != first || p.auth.KeyType != kt {
		key, ok := p.data.Key(sector, kt).Get()
		if !ok {
			p.state = d.afterRead
			return nfc.CommandContinue
		}
		if _, err := p.Auth(first, key, kt); err != nil {
			if errors.Is(err, ErrAuthFailed) {
				p.state = d.afterRead
				return nfc.CommandContinue
			}
			return p.exchangeFailed(err)
		}
	}

	for block := first; block < first+BlocksInSector(sector); block++ {
		if p.data.IsBlockRead(block) {
			continue
		}
		data, err := p.ReadBlock(block)
		if err != nil {
			if errors.Is(err, ErrNack) {
				// the card dropped the session; other blocks may still be readable
				key, _ := p.data.Key(sector, kt).Get()
				if _, err := p.Auth(first, key, kt); err != nil {
					if errors.Is(err, ErrAuthFailed) {
						break
					}
					return p.exchangeFailed(err)
				}
				continue
			}
			if errors.Is(err, ErrNotPresent) || errors.Is(err, nfc.ErrAborted) {
				return p.exchangeFailed(err)
			}
			nfc.Debugf("mfclassic: read block %d: %v", block, err)
			break
		}
		p.data.SetBlockRead(block, data)
	}

	p.state = d.afterRead
	return p.dataUpdate(sector)
}

func (p *Poller) handleKeyReuseStart() nfc.Command {
	d := &p.dict
	d.reuseSector = d.reuseOrigin + 1
	p.state = PollerStateKeyReuseAuthKeyA
	if cmd := p.emit(PollerEvent{Type: PollerEventKeyAttackStart, Sector: d.reuseOrigin, Key: d.currentKey}); cmd != nfc.CommandContinue {
		return cmd
	}
	return p.emit(PollerEvent{Type: PollerEventKeyAttackNextSector, Sector: d.reuseSector})
}

func (p *Poller) handleKeyReuseAuth(kt KeyType) nfc.Command {
	d := &p.dict
	next := PollerStateNextSector
	if kt == KeyTypeA {
		next = PollerStateKeyReuseAuthKeyB
	}
	if p.data.IsKeyFound(d.reuseSector, kt) {
		p.state = next
		return nfc.CommandContinue
	}

	ok, err := p.tryKey(d.reuseSector, kt)
	if err != nil {
		return p.exchangeFailed(err)
	}
	if !ok {
		p.state = next
		return nfc.CommandContinue
	}
	nfc.Debugf("mfclassic: key reuse hit sector %d key %v", d.reuseSector, kt)
	p.scheduleRead(kt, next)
	return p.emit(p.foundEvent(d.reuseSector, kt))
}

func (p *Poller) handleNextSector() nfc.Command {
	d := &p.dict
	d.reuseSector++
	if d.reuseSector < d.sectorsTotal {
		p.state = PollerStateKeyReuseAuthKeyA
		return p.emit(PollerEvent{Type: PollerEventKeyAttackNextSector, Sector: d.reuseSector})
	}

	if d.reuseHit == KeyTypeA {
		p.state = PollerStateAuthKeyB
	} else {
		p.state = PollerStateNewSector
	}
	return p.emit(PollerEvent{Type: PollerEventKeyAttackStop, Sector: d.reuseOrigin})
}

func (p *Poller) handleDone(t PollerEventType) nfc.Command {
	if err := p.Halt(); err != nil {
		nfc.Debugf("mfclassic: halt: %v", err)
	}
	sectorsRead, keysFound := p.data.SectorsReadAndKeysFound()
	cmd := p.emit(PollerEvent{Type: t, SectorsRead: sectorsRead, KeysFound: keysFound, Err: p.dict.err})
	if cmd == nfc.CommandReset {
		p.state = PollerStateStart
		return cmd
	}
	return nfc.CommandStop
}

// exchangeFailed handles an error other than a rejected key. A lost card
// keeps the current state so the step repeats once it is back.
func (p *Poller) exchangeFailed(err error) nfc.Command {
	nfc.Debugf("mfclassic: %v in state %v", err, p.state)
	if errors.Is(err, nfc.ErrAborted) {
		return nfc.CommandStop
	}
	return p.cardLost()
}
