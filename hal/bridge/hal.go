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

package bridge

import (
	"fmt"
	"time"

	"github.com/ZaparooProject/go-nfc"
)

// Init reads the firmware version and initialises the front-end.
func (b *Bridge) Init() error {
	v, err := b.getVersion()
	if err != nil {
		return err
	}
	nfc.Debugf("bridge %s: firmware %s", b.link.Name(), v)
	return b.call("init", cmdInit)
}

func (b *Bridge) getVersion() (Version, error) {
	data, err := b.request("get version", cmdGetVersion, nil)
	if err != nil {
		return Version{}, err
	}
	v, err := parseVersion(data)
	if err != nil {
		return Version{}, nfc.NewHALError("get version", b.link.Name(), err, nfc.ErrorTypePermanent)
	}
	b.mu.Lock()
	b.version = v
	b.mu.Unlock()
	return v, nil
}

func (b *Bridge) Deinit() error {
	return b.call("deinit", cmdDeinit)
}

func (b *Bridge) LowPowerStart() error {
	return b.call("low power start", cmdLowPowerStart)
}

func (b *Bridge) LowPowerStop() error {
	return b.call("low power stop", cmdLowPowerStop)
}

func (b *Bridge) SetMode(mode nfc.HALMode, bitrate nfc.Bitrate) error {
	return b.call("set mode", cmdSetMode, byte(mode), byte(bitrate))
}

func (b *Bridge) ResetMode() error {
	return b.call("reset mode", cmdResetMode)
}

func (b *Bridge) FieldOn() error {
	return b.call("field on", cmdFieldOn)
}

func (b *Bridge) PollerTx(data []byte, bits int) error {
	_, err := b.request("poller tx", cmdPollerTx, bitFrame(data, bits))
	return err
}

func (b *Bridge) PollerTxCustomParity(data []byte, bits int) error {
	_, err := b.request("poller tx parity", cmdPollerTxParity, bitFrame(data, bits))
	return err
}

// PollerRx copies the last received frame into buf and returns its length
// in bits. It serves both modes; the firmware keeps one receive buffer.
func (b *Bridge) PollerRx(buf []byte) (int, error) {
	data, err := b.request("rx", cmdPollerRx, nil)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: rx response of %d bytes", nfc.ErrFormat, len(data))
	}
	bits := int(data[0]) | int(data[1])<<8
	payload := data[2:]
	if len(payload) > len(buf) || (bits+7)/8 > len(payload) {
		return 0, fmt.Errorf("%w: %d bits into %d bytes", nfc.ErrBufferOverflow, bits, len(buf))
	}
	copy(buf, payload)
	return bits, nil
}

func (b *Bridge) ShortFrame(f nfc.ShortFrame) error {
	return b.call("short frame", cmdShortFrame, f.Byte())
}

func (b *Bridge) SddFrame(data []byte, bits int) error {
	_, err := b.request("sdd frame", cmdSddFrame, bitFrame(data, bits))
	return err
}

func (b *Bridge) ListenStart() error {
	return b.call("listen start", cmdListenStart)
}

func (b *Bridge) ListenerTx(data []byte, bits int) error {
	_, err := b.request("listener tx", cmdListenerTx, bitFrame(data, bits))
	return err
}

func (b *Bridge) ListenerTxCustomParity(data []byte, bits int) error {
	_, err := b.request("listener tx parity", cmdListenerTxParity, bitFrame(data, bits))
	return err
}

func (b *Bridge) ListenerSleep() error {
	return b.call("listener sleep", cmdListenerSleep)
}

func (b *Bridge) ListenerDisableAutoColRes() error {
	return b.call("disable auto col res", cmdListenerNoAutoColl)
}

func (b *Bridge) SetColResData(uid []byte, atqa [2]byte, sak byte) error {
	switch len(uid) {
	case 4, 7, 10:
	default:
		return fmt.Errorf("%w: UID of %d bytes", nfc.ErrInvalidArgument, len(uid))
	}
	args := make([]byte, 0, 4+len(uid))
	args = append(args, byte(len(uid)))
	args = append(args, uid...)
	args = append(args, atqa[0], atqa[1], sak)
	_, err := b.request("set col res data", cmdSetColResData, args)
	return err
}

// TrxReset clears the firmware FIFO and drops stale radio events. Pending
// abort and field events are kept.
func (b *Bridge) TrxReset() error {
	b.mu.Lock()
	b.events &= nfc.HALEventAbortRequest | nfc.HALEventFieldOff | nfc.HALEventFieldOn
	b.mu.Unlock()
	return b.call("trx reset", cmdTrxReset)
}

// WaitEvent returns the events posted since the last call. A zero timeout
// polls; nfc.WaitForever blocks until an event or Abort. A lost link is
// reported as FieldOff.
func (b *Bridge) WaitEvent(timeout time.Duration) nfc.HALEvent {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		if ev := b.takeEvents(); ev != 0 {
			return ev
		}
		select {
		case <-b.done:
			return nfc.HALEventFieldOff
		default:
		}
		if timeout == 0 {
			return 0
		}
		select {
		case <-b.notify:
		case <-expired:
			return nfc.HALEventTimeout
		}
	}
}

// Abort wakes WaitEvent with AbortRequest and tells the firmware to stop
// the running operation. Safe to call from any goroutine.
func (b *Bridge) Abort() error {
	b.post(nfc.HALEventAbortRequest)
	if b.closed.Load() {
		return nil
	}
	return b.call("abort", cmdAbort)
}

func (b *Bridge) FwtTimerStart(fc uint32) {
	b.timer("fwt timer start", cmdFwtTimerStart, u32(fc))
}

func (b *Bridge) FwtTimerStop() {
	b.timer("fwt timer stop", cmdFwtTimerStop, nil)
}

func (b *Bridge) BlockTxTimerStart(fc uint32) {
	b.blockTx.Store(true)
	b.timer("block tx timer start", cmdBlockTxTimerStart, u32(fc))
}

func (b *Bridge) BlockTxTimerStartUs(us uint32) {
	b.blockTx.Store(true)
	b.timer("block tx timer start", cmdBlockTxTimerStartUs, u32(us))
}

func (b *Bridge) BlockTxTimerStop() {
	b.blockTx.Store(false)
	b.timer("block tx timer stop", cmdBlockTxTimerStop, nil)
}

// BlockTxTimerIsRunning is answered locally: the timer runs from its start
// command until the firmware posts its expiry or it is stopped.
func (b *Bridge) BlockTxTimerIsRunning() bool {
	return b.blockTx.Load()
}

func (b *Bridge) SetMaskReceiveTimer(fc uint32) {
	b.timer("set mask receive timer", cmdSetMaskReceiveTimer, u32(fc))
}
