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

import (
	"strings"
	"time"
)

// HALEvent is a bitmask of hardware events reported by WaitEvent.
type HALEvent uint32

const (
	HALEventOscOn HALEvent = 1 << iota
	HALEventFieldOn
	HALEventFieldOff
	HALEventListenerActive
	HALEventListenerActiveA
	HALEventTxStart
	HALEventTxEnd
	HALEventRxStart
	HALEventRxEnd
	HALEventCollision
	HALEventTimerFwtExpired
	HALEventTimerBlockTxExpired
	HALEventTimeout
	HALEventAbortRequest
)

var halEventNames = []string{
	"OscOn", "FieldOn", "FieldOff", "ListenerActive", "ListenerActiveA",
	"TxStart", "TxEnd", "RxStart", "RxEnd", "Collision",
	"FwtExpired", "BlockTxExpired", "Timeout", "AbortRequest",
}

// Has reports whether all bits of mask are set in e.
func (e HALEvent) Has(mask HALEvent) bool {
	return e&mask == mask
}

func (e HALEvent) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for i, name := range halEventNames {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// WaitForever makes HAL.WaitEvent block until an event arrives.
const WaitForever time.Duration = -1

// HALMode is the electrical configuration of the front-end.
type HALMode int

const (
	HALModeIso14443aPoller HALMode = iota
	HALModeIso14443aListener
	HALModeIso14443bPoller
	HALModeIso14443bListener
	HALModeFelicaPoller
	HALModeFelicaListener
	HALModeIso15693Poller
	HALModeIso15693Listener
)

// Bitrate is the air interface bit rate.
type Bitrate int

const (
	Bitrate26p48 Bitrate = iota
	Bitrate106
)

// ShortFrame is a 7-bit ISO14443-A request frame.
type ShortFrame int

const (
	// ShortFrameSensReq is REQA (0x26).
	ShortFrameSensReq ShortFrame = iota
	// ShortFrameAllReq is WUPA (0x52).
	ShortFrameAllReq
)

// Byte returns the 7-bit command code of the frame.
func (f ShortFrame) Byte() byte {
	if f == ShortFrameAllReq {
		return 0x52
	}
	return 0x26
}

// HAL is the radio front-end as seen by the transceiver core. It hides
// register programming and interrupt plumbing; the core only configures
// modes, moves bits and waits for events.
//
// Frames passed to the custom parity methods and returned by PollerRx after
// a custom parity transmission use the wire layout of
// bitbuf.Buffer.WriteBytesWithParity.
//
// WaitEvent and Abort must be safe to call concurrently with each other;
// every other method is only called from the session worker.
type HAL interface {
	Init() error
	Deinit() error

	LowPowerStart() error
	LowPowerStop() error

	SetMode(mode HALMode, bitrate Bitrate) error
	ResetMode() error

	FieldOn() error

	PollerTx(data []byte, bits int) error
	PollerTxCustomParity(data []byte, bits int) error
	PollerRx(buf []byte) (int, error)

	ShortFrame(frame ShortFrame) error
	SddFrame(data []byte, bits int) error

	ListenStart() error
	ListenerTx(data []byte, bits int) error
	ListenerTxCustomParity(data []byte, bits int) error
	ListenerSleep() error
	ListenerDisableAutoColRes() error
	SetColResData(uid []byte, atqa [2]byte, sak byte) error

	TrxReset() error

	WaitEvent(timeout time.Duration) HALEvent
	Abort() error

	FwtTimerStart(fc uint32)
	FwtTimerStop()
	BlockTxTimerStart(fc uint32)
	BlockTxTimerStartUs(us uint32)
	BlockTxTimerStop()
	BlockTxTimerIsRunning() bool
	SetMaskReceiveTimer(fc uint32)
}
