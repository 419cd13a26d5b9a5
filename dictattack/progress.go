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
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
)

// EventType is the kind of progress report.
type EventType int

const (
	EventCardDetected EventType = iota
	EventCardLost
	// EventKeysTried is sent every keysTriedStep keys and when the attack
	// leaves a sector.
	EventKeysTried
	EventKeyFound
	EventSectorAdvanced
	EventKeyAttackStart
	EventKeyAttackStop
	// EventDictionarySwitched means the user dictionary is done and the
	// system dictionary takes over.
	EventDictionarySwitched
	EventReadComplete
	EventReadFailed
)

var eventNames = [...]string{
	"CardDetected", "CardLost", "KeysTried", "KeyFound", "SectorAdvanced",
	"KeyAttackStart", "KeyAttackStop", "DictionarySwitched", "ReadComplete",
	"ReadFailed",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

const keysTriedStep = 10

// Progress is one report to a ProgressFunc. Counters are snapshots taken
// when the report was made.
type Progress struct {
	Err          error
	Dictionary   string
	Type         EventType
	State        State
	Sector       int
	KeyType      mfclassic.KeyType
	Key          mfclassic.Key
	KeysTried    int
	KeysTotal    int
	SectorsRead  int
	KeysFound    int
	SectorsTotal int
}

// ProgressFunc receives progress reports. It runs on the session worker
// and must not block.
type ProgressFunc func(Progress)
