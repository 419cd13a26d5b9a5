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

package nfc

import "github.com/ZaparooProject/go-nfc/bitbuf"

// EventType identifies what the transceiver core reports to the protocol
// stack.
type EventType int

const (
	EventUserAbort EventType = iota
	EventFieldOn
	EventFieldOff
	EventTxStart
	EventTxEnd
	EventRxStart
	EventRxEnd
	EventListenerActivated
	EventPollerReady
	EventConfigureRequest
	EventReset
)

var eventTypeNames = [...]string{
	"UserAbort", "FieldOn", "FieldOff", "TxStart", "TxEnd", "RxStart", "RxEnd",
	"ListenerActivated", "PollerReady", "ConfigureRequest", "Reset",
}

func (t EventType) String() string {
	if t < 0 || int(t) >= len(eventTypeNames) {
		return "Unknown"
	}
	return eventTypeNames[t]
}

// Event is delivered to the session callback. Buffer is only set for
// EventRxEnd and is reused between events.
type Event struct {
	Buffer *bitbuf.Buffer
	Type   EventType
}

// Command is returned by the session callback to steer the worker.
type Command int

const (
	CommandContinue Command = iota
	CommandReset
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandContinue:
		return "Continue"
	case CommandReset:
		return "Reset"
	case CommandStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// Callback receives core events on the session worker. It runs
// synchronously and may call the Trx family of methods.
type Callback func(Event) Command

// Mode is the configuration requested through Nfc.Config.
type Mode int

const (
	ModeIdle Mode = iota
	ModeIso3aPoller
	ModeIso3aListener
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeIso3aPoller:
		return "Iso14443-3aPoller"
	case ModeIso3aListener:
		return "Iso14443-3aListener"
	default:
		return "Unknown"
	}
}

// CommState is the state of one poller transmit/receive cycle.
type CommState int

const (
	CommStateIdle CommState = iota
	CommStateWaitBlockTxTimer
	CommStateReadyTx
	CommStateWaitTxEnd
	CommStateWaitRxStart
	CommStateWaitRxEnd
	CommStateFailed
)

var commStateNames = [...]string{
	"Idle", "WaitBlockTxTimer", "ReadyTx", "WaitTxEnd", "WaitRxStart", "WaitRxEnd", "Failed",
}

func (s CommState) String() string {
	if s < 0 || int(s) >= len(commStateNames) {
		return "Unknown"
	}
	return commStateNames[s]
}

// State is the session worker state.
type State int

const (
	StateIdle State = iota
	StateChipSleep
	StateChipActive
	StateConfigured
	StateFieldOn
	StateFieldOff
	StateListenStarted
	StatePollerReady
	StatePollerReset
)

var stateNames = [...]string{
	"Idle", "ChipSleep", "ChipActive", "Configured", "FieldOn", "FieldOff",
	"ListenStarted", "PollerReady", "PollerReset",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}
