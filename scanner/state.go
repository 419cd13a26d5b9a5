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

package scanner

import (
	"time"
)

// DetectionState is where the scanner is with the card in the field.
type DetectionState int

const (
	StateIdle DetectionState = iota
	StateCardPresent
	// StateProbing means a new card is being probed and callbacks run;
	// the removal timer is off meanwhile.
	StateProbing
)

// CardState tracks the card last seen.
type CardState struct {
	LastSeen       time.Time
	RemovalTimer   *time.Timer
	Card           *Card
	DetectionState DetectionState
}

// Present reports whether a card is being tracked.
func (cs *CardState) Present() bool {
	return cs.Card != nil
}

func stopTimer(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (cs *CardState) toProbing() {
	cs.DetectionState = StateProbing
	stopTimer(cs.RemovalTimer)
	cs.RemovalTimer = nil
}

// toPresent rearms the removal timer; onRemoved fires unless the card is
// seen again within timeout.
func (cs *CardState) toPresent(timeout time.Duration, onRemoved func()) {
	cs.DetectionState = StateCardPresent
	cs.LastSeen = time.Now()
	stopTimer(cs.RemovalTimer)
	cs.RemovalTimer = time.AfterFunc(timeout, onRemoved)
}

func (cs *CardState) toIdle() {
	cs.DetectionState = StateIdle
	cs.Card = nil
	cs.LastSeen = time.Time{}
	stopTimer(cs.RemovalTimer)
	cs.RemovalTimer = nil
}
