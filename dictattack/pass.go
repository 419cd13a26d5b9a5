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

package dictattack

import (
	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/dict"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
)

// pass is one run of the poller with one dictionary. Its fields are
// only touched by the session worker while the pass runs.
type pass struct {
	err          error
	dict         *dict.Dictionary
	seed         *mfclassic.Data
	data         *mfclassic.Data
	state        State
	sector       int
	keysTried    int
	sectorsRead  int
	keysFound    int
	sectorsTotal int
}

func (a *Attack) report(ps *pass, p Progress) {
	if a.progress == nil {
		return
	}
	if ps != nil {
		if p.Dictionary == "" {
			p.Dictionary = ps.dict.Name()
		}
		p.State = ps.state
		p.KeysTried = ps.keysTried
		p.KeysTotal = ps.dict.Total()
		p.SectorsRead = ps.sectorsRead
		p.KeysFound = ps.keysFound
		p.SectorsTotal = ps.sectorsTotal
		if p.Type != EventSectorAdvanced && p.Type != EventKeyFound && p.Type != EventKeyAttackStart {
			p.Sector = ps.sector
		}
	}
	a.progress(p)
}

// handle answers the MIFARE Classic poller's events for one pass.
func (a *Attack) handle(ps *pass, ev protocol.Event) nfc.Command {
	mev, ok := ev.Data.(mfclassic.PollerEvent)
	if !ok {
		return nfc.CommandContinue
	}
	poller, _ := ev.Instance.(*mfclassic.Poller)

	switch mev.Type {
	case mfclassic.PollerEventRequestMode:
		mev.ModeRequest.Mode = mfclassic.ModeDictAttack
		mev.ModeRequest.Data = ps.seed
	case mfclassic.PollerEventCardDetected:
		a.report(ps, Progress{Type: EventCardDetected})
	case mfclassic.PollerEventCardLost:
		a.report(ps, Progress{Type: EventCardLost})
	case mfclassic.PollerEventRequestKey:
		key, ok := ps.dict.Next()
		if !ok {
			break
		}
		mev.KeyRequest.Key = key
		mev.KeyRequest.Provided = true
		ps.keysTried++
		if ps.keysTried%keysTriedStep == 0 {
			a.report(ps, Progress{Type: EventKeysTried})
		}
	case mfclassic.PollerEventNextSector:
		a.report(ps, Progress{Type: EventKeysTried})
		ps.dict.Rewind()
		ps.keysTried = 0
		ps.sector = mev.Sector
		a.report(ps, Progress{Type: EventSectorAdvanced, Sector: mev.Sector})
	case mfclassic.PollerEventDataUpdate:
		ps.sector = mev.Sector
		ps.sectorsRead = mev.SectorsRead
		ps.keysFound = mev.KeysFound
		if poller != nil && poller.Card() != nil {
			ps.sectorsTotal = poller.Card().Type.Sectors()
		}
	case mfclassic.PollerEventFoundKeyA, mfclassic.PollerEventFoundKeyB:
		a.report(ps, Progress{Type: EventKeyFound, Sector: mev.Sector, KeyType: mev.KeyType, Key: mev.Key})
	case mfclassic.PollerEventKeyAttackStart:
		a.report(ps, Progress{Type: EventKeyAttackStart, Sector: mev.Sector, Key: mev.Key})
	case mfclassic.PollerEventKeyAttackStop:
		a.report(ps, Progress{Type: EventKeyAttackStop})
	case mfclassic.PollerEventKeyAttackNextSector:
		nfc.Debugf("dictattack: key reuse on sector %d", mev.Sector)
	case mfclassic.PollerEventSuccess, mfclassic.PollerEventFail:
		if poller != nil && poller.Card() != nil {
			ps.data = poller.Card().Clone()
		}
		ps.sectorsRead, ps.keysFound = mev.SectorsRead, mev.KeysFound
		if mev.Type == mfclassic.PollerEventFail {
			ps.err = mev.Err
			if ps.err == nil {
				ps.err = mfclassic.ErrUnsupportedCard
			}
		}
		return nfc.CommandStop
	}
	return nfc.CommandContinue
}
