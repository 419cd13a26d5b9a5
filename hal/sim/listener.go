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

package sim

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// DefaultReplyTimeout bounds how long a poller frame waits for the
// listener session to answer.
const DefaultReplyTimeout = 2 * time.Second

type rxFrame struct {
	frame *bitbuf.Buffer
	seq   uint64
}

// Listener is a tag-side HAL and at the same time the Target of a Poller.
// Anticollision runs in the simulated hardware from the SetColResData
// identity; once selected, frames are handed to the listener session as
// RxEnd events and its ListenerTx becomes the response.
type Listener struct {
	wake     chan struct{}
	abort    chan struct{}
	waiters  map[uint64]chan *bitbuf.Buffer
	rx       *bitbuf.Buffer
	events   []nfc.HALEvent
	rxQueue  []rxFrame
	ac       anticollision
	mu       syncutil.Mutex
	timeout  time.Duration
	seq      uint64
	pending  uint64
	inFlight bool

	listening  bool
	autoColRes bool
	fieldOn    bool
	modeSet    bool
}

var (
	_ nfc.HAL = (*Listener)(nil)
	_ Target  = (*Listener)(nil)
)

// NewListener returns a tag-side front-end.
func NewListener() *Listener {
	return &Listener{
		wake:    make(chan struct{}, 1),
		abort:   make(chan struct{}, 1),
		waiters: make(map[uint64]chan *bitbuf.Buffer),
		timeout: DefaultReplyTimeout,
		rx:      bitbuf.New(64),
	}
}

// SetReplyTimeout changes how long Exchange waits for the session.
func (l *Listener) SetReplyTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = d
}

func (l *Listener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Listener) push(ev nfc.HALEvent) {
	l.events = append(l.events, ev)
}

// CarrierOn is called by the poller when its field comes up.
func (l *Listener) CarrierOn() {
	l.mu.Lock()
	l.fieldOn = true
	l.ac.state = tagIdle
	if l.listening {
		l.push(nfc.HALEventFieldOn)
	}
	l.mu.Unlock()
	l.signal()
}

// CarrierOff is called by the poller when its field drops.
func (l *Listener) CarrierOff() {
	l.mu.Lock()
	l.fieldOn = false
	l.ac.state = tagIdle
	if l.listening {
		l.push(nfc.HALEventFieldOff)
	}
	l.mu.Unlock()
	l.signal()
}

// Exchange is called by the poller for every frame it transmits.
func (l *Listener) Exchange(req *bitbuf.Buffer) (*bitbuf.Buffer, bool) {
	l.mu.Lock()
	if !l.fieldOn || !l.listening || len(l.ac.uid) == 0 {
		l.mu.Unlock()
		return nil, false
	}
	if l.ac.state != tagActive || req.SizeBits() == 7 {
		resp, ok, activated := l.ac.handle(req)
		if activated {
			l.push(nfc.HALEventListenerActive)
		}
		l.mu.Unlock()
		if activated {
			l.signal()
		}
		return resp, ok
	}

	l.seq++
	seq := l.seq
	ch := make(chan *bitbuf.Buffer, 1)
	l.waiters[seq] = ch
	l.rxQueue = append(l.rxQueue, rxFrame{frame: cloneFrame(req), seq: seq})
	l.push(nfc.HALEventRxEnd)
	timeout := l.timeout
	l.mu.Unlock()
	l.signal()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-ch:
		return frame, frame != nil
	case <-timer.C:
		l.mu.Lock()
		delete(l.waiters, seq)
		l.mu.Unlock()
		return nil, false
	}
}

// finishExchange answers the frame the session is processing. Callers
// hold l.mu.
func (l *Listener) finishExchange(frame *bitbuf.Buffer) {
	if !l.inFlight {
		return
	}
	l.inFlight = false
	if ch, ok := l.waiters[l.pending]; ok {
		ch <- frame
		delete(l.waiters, l.pending)
	}
}

func (l *Listener) Init() error   { return nil }
func (l *Listener) Deinit() error { return nil }

func (*Listener) LowPowerStart() error { return nil }
func (*Listener) LowPowerStop() error  { return nil }

func (l *Listener) SetMode(mode nfc.HALMode, _ nfc.Bitrate) error {
	if mode != nfc.HALModeIso14443aListener {
		return fmt.Errorf("%w: listener front-end cannot run %d", nfc.ErrInvalidMode, mode)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modeSet = true
	return nil
}

func (l *Listener) ResetMode() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modeSet = false
	l.listening = false
	l.ac.state = tagIdle
	l.events = nil
	l.rxQueue = nil
	l.inFlight = false
	for seq, ch := range l.waiters {
		ch <- nil
		delete(l.waiters, seq)
	}
	return nil
}

func (*Listener) FieldOn() error {
	return nfc.ErrInvalidMode
}

func (*Listener) PollerTx([]byte, int) error             { return nfc.ErrInvalidMode }
func (*Listener) PollerTxCustomParity([]byte, int) error { return nfc.ErrInvalidMode }
func (*Listener) ShortFrame(nfc.ShortFrame) error        { return nfc.ErrInvalidMode }
func (*Listener) SddFrame([]byte, int) error             { return nfc.ErrInvalidMode }

// PollerRx returns the frame of the last RxEnd without parity bits.
func (l *Listener) PollerRx(buf []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data := l.rx.Bytes()
	if len(data) > len(buf) {
		return 0, nfc.ErrBufferOverflow
	}
	copy(buf, data)
	return l.rx.SizeBits(), nil
}

func (l *Listener) ListenStart() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.modeSet {
		return fmt.Errorf("%w: listen before mode set", nfc.ErrInvalidMode)
	}
	l.listening = true
	l.autoColRes = true
	l.ac.state = tagIdle
	if l.fieldOn {
		l.push(nfc.HALEventFieldOn)
	}
	return nil
}

func (l *Listener) ListenerTx(data []byte, bits int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishExchange(withOddParity(data, bits))
	return nil
}

func (l *Listener) ListenerTxCustomParity(data []byte, bits int) error {
	frame := bitbuf.New(len(data))
	frame.CopyBytesWithParity(data, bits)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishExchange(frame)
	return nil
}

// ListenerSleep returns the simulated card to the halted state, or to
// idle while the field is off.
func (l *Listener) ListenerSleep() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autoColRes = true
	if l.fieldOn {
		l.ac.state = tagHalted
	} else {
		l.ac.state = tagIdle
	}
	return nil
}

func (l *Listener) ListenerDisableAutoColRes() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.autoColRes = false
	return nil
}

func (l *Listener) SetColResData(uid []byte, atqa [2]byte, sak byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ac.set(uid, atqa, sak)
	return nil
}

func (l *Listener) TrxReset() error { return nil }

// WaitEvent answers a frame left without a response, then returns queued
// events in order.
func (l *Listener) WaitEvent(timeout time.Duration) nfc.HALEvent {
	l.mu.Lock()
	l.finishExchange(nil)
	l.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-l.abort:
			return nfc.HALEventAbortRequest
		default:
		}

		l.mu.Lock()
		if len(l.events) > 0 {
			ev := l.events[0]
			l.events = l.events[1:]
			if ev == nfc.HALEventRxEnd && len(l.rxQueue) > 0 {
				f := l.rxQueue[0]
				l.rxQueue = l.rxQueue[1:]
				l.rx = f.frame
				l.pending = f.seq
				l.inFlight = true
			}
			l.mu.Unlock()
			return ev
		}
		l.mu.Unlock()

		if timeout == 0 {
			return 0
		}
		select {
		case <-l.abort:
			return nfc.HALEventAbortRequest
		case <-l.wake:
		case <-deadline:
			return nfc.HALEventTimeout
		}
	}
}

func (l *Listener) Abort() error {
	select {
	case l.abort <- struct{}{}:
	default:
	}
	return nil
}

// Timers are not needed by a listener; the hardware times its responses.

func (*Listener) FwtTimerStart(uint32)       {}
func (*Listener) FwtTimerStop()              {}
func (*Listener) BlockTxTimerStart(uint32)   {}
func (*Listener) BlockTxTimerStartUs(uint32) {}
func (*Listener) BlockTxTimerStop()          {}
func (*Listener) BlockTxTimerIsRunning() bool {
	return false
}
func (*Listener) SetMaskReceiveTimer(uint32) {}
