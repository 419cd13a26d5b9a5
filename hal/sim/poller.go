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

// Stats counts what a simulated front-end did.
type Stats struct {
	FramesSent    int
	FieldOnCount  int
	FwtExpired    int
	Elapsed       time.Duration
	LowPowerStart int
}

// Poller is a reader-side HAL. Only the poller methods are supported.
type Poller struct {
	target   Target
	response *bitbuf.Buffer
	abort    chan struct{}
	sent     []*bitbuf.Buffer
	events   []nfc.HALEvent
	failTx   []error
	stats    Stats
	mu       syncutil.Mutex

	fwtFc        uint32
	blockTxFc    uint32
	maskRxFc     uint32
	mode         nfc.HALMode
	customParity bool
	fieldOn      bool
	fwtArmed     bool
	blockTxArmed bool
	modeSet      bool
}

var _ nfc.HAL = (*Poller)(nil)

// NewPoller returns a reader front-end with target in its field. target
// may be nil for an empty field.
func NewPoller(target Target) *Poller {
	return &Poller{
		target: target,
		abort:  make(chan struct{}, 1),
	}
}

// SetTarget swaps the card in the field. Passing nil removes it.
func (p *Poller) SetTarget(target Target) {
	p.mu.Lock()
	old, on := p.target, p.fieldOn
	p.target = target
	p.mu.Unlock()

	if on {
		if old != nil {
			old.CarrierOff()
		}
		if target != nil {
			target.CarrierOn()
		}
	}
}

// FailNextTx makes the next transmissions fail with errs, in order.
func (p *Poller) FailNextTx(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failTx = append(p.failTx, errs...)
}

// Sent returns copies of all frames transmitted so far.
func (p *Poller) Sent() []*bitbuf.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*bitbuf.Buffer, len(p.sent))
	for i, f := range p.sent {
		out[i] = cloneFrame(f)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// FieldIsOn reports whether the carrier is on.
func (p *Poller) FieldIsOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fieldOn
}

func (p *Poller) Init() error   { return nil }
func (p *Poller) Deinit() error { return p.LowPowerStart() }

func (p *Poller) LowPowerStart() error {
	p.mu.Lock()
	p.stats.LowPowerStart++
	p.mu.Unlock()
	p.fieldOff()
	return nil
}

func (*Poller) LowPowerStop() error { return nil }

func (p *Poller) SetMode(mode nfc.HALMode, _ nfc.Bitrate) error {
	if mode != nfc.HALModeIso14443aPoller {
		return fmt.Errorf("%w: poller front-end cannot run %d", nfc.ErrInvalidMode, mode)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	p.modeSet = true
	return nil
}

func (p *Poller) ResetMode() error {
	p.mu.Lock()
	p.modeSet = false
	p.mu.Unlock()
	p.fieldOff()
	return nil
}

func (p *Poller) FieldOn() error {
	p.mu.Lock()
	if p.fieldOn {
		p.mu.Unlock()
		return nil
	}
	p.fieldOn = true
	p.stats.FieldOnCount++
	target := p.target
	p.mu.Unlock()

	if target != nil {
		target.CarrierOn()
	}
	return nil
}

func (p *Poller) fieldOff() {
	p.mu.Lock()
	if !p.fieldOn {
		p.mu.Unlock()
		return
	}
	p.fieldOn = false
	p.fwtArmed = false
	p.blockTxArmed = false
	target := p.target
	p.mu.Unlock()

	if target != nil {
		target.CarrierOff()
	}
}

func (p *Poller) PollerTx(data []byte, bits int) error {
	return p.transmit(withOddParity(data, bits), false)
}

func (p *Poller) PollerTxCustomParity(data []byte, bits int) error {
	frame := bitbuf.New(len(data))
	frame.CopyBytesWithParity(data, bits)
	return p.transmit(frame, true)
}

func (p *Poller) ShortFrame(frame nfc.ShortFrame) error {
	return p.transmit(bitbuf.FromBits([]byte{frame.Byte()}, 7), false)
}

func (p *Poller) SddFrame(data []byte, bits int) error {
	return p.transmit(withOddParity(data, bits), false)
}

func (p *Poller) transmit(frame *bitbuf.Buffer, customParity bool) error {
	p.mu.Lock()
	if len(p.failTx) > 0 {
		err := p.failTx[0]
		p.failTx = p.failTx[1:]
		p.mu.Unlock()
		return err
	}
	if !p.fieldOn {
		p.mu.Unlock()
		return nfc.ErrFieldOff
	}
	if !p.modeSet {
		p.mu.Unlock()
		return fmt.Errorf("%w: transmit before mode set", nfc.ErrInvalidMode)
	}
	p.sent = append(p.sent, cloneFrame(frame))
	p.stats.FramesSent++
	p.stats.Elapsed += fcToDuration(uint32(frame.SizeBits()) * etuFc)
	p.customParity = customParity
	p.response = nil
	target := p.target
	p.mu.Unlock()

	var resp *bitbuf.Buffer
	ok := false
	if target != nil {
		resp, ok = target.Exchange(cloneFrame(frame))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, nfc.HALEventTxEnd)
	if ok && resp != nil {
		p.response = resp
		p.events = append(p.events, nfc.HALEventRxStart, nfc.HALEventRxEnd)
	}
	return nil
}

func (p *Poller) PollerRx(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.response == nil {
		return 0, nil
	}

	var data []byte
	bits := p.response.SizeBits()
	if p.customParity {
		data, bits = p.response.WriteBytesWithParity()
	} else {
		data = p.response.Bytes()
	}
	if len(data) > len(buf) {
		return 0, nfc.ErrBufferOverflow
	}
	copy(buf, data)
	p.stats.Elapsed += fcToDuration(uint32(bits) * etuFc)
	return bits, nil
}

func (*Poller) ListenStart() error                         { return nfc.ErrInvalidMode }
func (*Poller) ListenerTx([]byte, int) error               { return nfc.ErrInvalidMode }
func (*Poller) ListenerTxCustomParity([]byte, int) error   { return nfc.ErrInvalidMode }
func (*Poller) ListenerSleep() error                       { return nfc.ErrInvalidMode }
func (*Poller) ListenerDisableAutoColRes() error           { return nfc.ErrInvalidMode }
func (*Poller) SetColResData([]byte, [2]byte, byte) error { return nfc.ErrInvalidMode }

func (p *Poller) TrxReset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.response = nil
	return nil
}

// WaitEvent returns pending events first, then lets the earliest armed
// timer expire. With nothing pending it blocks until Abort or timeout.
func (p *Poller) WaitEvent(timeout time.Duration) nfc.HALEvent {
	select {
	case <-p.abort:
		return nfc.HALEventAbortRequest
	default:
	}

	p.mu.Lock()
	switch {
	case len(p.events) > 0:
		ev := p.events[0]
		p.events = p.events[1:]
		p.mu.Unlock()
		return ev
	case p.fwtArmed:
		p.fwtArmed = false
		p.stats.FwtExpired++
		p.stats.Elapsed += fcToDuration(p.fwtFc)
		p.mu.Unlock()
		return nfc.HALEventTimerFwtExpired
	case p.blockTxArmed:
		p.blockTxArmed = false
		p.stats.Elapsed += fcToDuration(p.blockTxFc)
		p.mu.Unlock()
		return nfc.HALEventTimerBlockTxExpired
	}
	p.mu.Unlock()

	return waitAbort(p.abort, timeout)
}

func (p *Poller) Abort() error {
	select {
	case p.abort <- struct{}{}:
	default:
	}
	return nil
}

func (p *Poller) FwtTimerStart(fc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fwtFc = fc
	p.fwtArmed = true
}

func (p *Poller) FwtTimerStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fwtArmed = false
}

func (p *Poller) BlockTxTimerStart(fc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockTxFc = fc
	p.blockTxArmed = true
}

func (p *Poller) BlockTxTimerStartUs(us uint32) {
	p.BlockTxTimerStart(uint32(uint64(us) * carrierHz / 1_000_000))
}

func (p *Poller) BlockTxTimerStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blockTxArmed = false
}

func (p *Poller) BlockTxTimerIsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockTxArmed
}

func (p *Poller) SetMaskReceiveTimer(fc uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maskRxFc = fc
}

func fcToDuration(fc uint32) time.Duration {
	return time.Duration(uint64(fc) * uint64(time.Second) / carrierHz)
}

// waitAbort blocks for an abort request or the timeout. A zero timeout
// polls.
func waitAbort(abort <-chan struct{}, timeout time.Duration) nfc.HALEvent {
	if timeout == 0 {
		return 0
	}
	if timeout < 0 {
		<-abort
		return nfc.HALEventAbortRequest
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-abort:
		return nfc.HALEventAbortRequest
	case <-timer.C:
		return nfc.HALEventTimeout
	}
}
