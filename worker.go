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

import "time"

func (n *Nfc) pollerWorker() {
	n.state = StateIdle
	n.debugf("poller started")
	defer n.debugf("poller stopped")

	for {
		switch n.state {
		case StateIdle, StateChipSleep:
			if err := n.withRegisters("low power stop", n.hal.LowPowerStop); err != nil {
				n.debugf("low power stop: %v", err)
			}
			n.state = StateChipActive

		case StateChipActive:
			switch n.dispatch(Event{Type: EventConfigureRequest}) {
			case CommandReset:
				n.state = StatePollerReset
			case CommandStop:
				n.shutdownPoller()
				return
			default:
				n.state = StateConfigured
			}

		case StateConfigured:
			if err := n.fieldOn(); err != nil {
				n.debugf("field on: %v", err)
				if n.stopRequested() {
					n.shutdownPoller()
					return
				}
				n.state = StatePollerReset
				continue
			}
			n.state = StatePollerReady

		case StatePollerReady:
			switch n.dispatch(Event{Type: EventPollerReady}) {
			case CommandReset:
				n.state = StatePollerReset
			case CommandStop:
				n.shutdownPoller()
				return
			default:
			}

		case StatePollerReset:
			_ = n.Config(ModeIdle)
			cmd := n.dispatch(Event{Type: EventReset})
			_ = n.withRegisters("low power start", n.hal.LowPowerStart)
			if cmd == CommandStop || !n.sleep(PollerResetDelay) {
				n.state = StateChipSleep
				return
			}
			n.state = StateChipSleep

		default:
			n.state = StateIdle
		}
	}
}

// shutdownPoller turns the field off and reports the reset before the
// worker exits.
func (n *Nfc) shutdownPoller() {
	_ = n.Config(ModeIdle)
	n.callback(Event{Type: EventReset})
	_ = n.withRegisters("low power start", n.hal.LowPowerStart)
	n.state = StateChipSleep
	n.comm = CommStateIdle
}

// drainAbort consumes an abort request the worker did not wait for, so it
// cannot end the next session early. Called with n.mu held.
func (n *Nfc) drainAbort() {
	if !n.stopRequested() {
		return
	}
	for range 16 {
		ev := n.hal.WaitEvent(0)
		if ev == 0 || ev&HALEventAbortRequest != 0 {
			return
		}
	}
}

// sleep waits for d and reports false if a stop was requested meanwhile.
func (n *Nfc) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-n.stop:
		return false
	case <-timer.C:
		return true
	}
}

// fieldOn switches the field on and waits out the guard time.
func (n *Nfc) fieldOn() error {
	if err := n.withRegisters("field on", n.hal.FieldOn); err != nil {
		return err
	}
	n.state = StateFieldOn

	if n.timing.GuardTimeUs > 0 {
		n.locked(func() {
			n.hal.BlockTxTimerStartUs(n.timing.GuardTimeUs)
		})
		n.comm = CommStateWaitBlockTxTimer
		if err := n.waitBlockTx(); err != nil {
			n.comm = CommStateFailed
			return err
		}
		n.locked(func() {
			n.hal.SetMaskReceiveTimer(n.timing.MaskReceiveFc)
		})
	}
	n.comm = CommStateReadyTx
	return nil
}

// waitBlockTx blocks until the block-tx timer expires.
func (n *Nfc) waitBlockTx() error {
	for {
		n.regMu.Lock()
		running := n.hal.BlockTxTimerIsRunning()
		n.regMu.Unlock()
		if !running {
			return nil
		}

		ev := n.hal.WaitEvent(WaitForever)
		if ev&HALEventAbortRequest != 0 {
			return ErrAborted
		}
		if ev&HALEventTimerBlockTxExpired != 0 {
			return nil
		}
		n.debugf("unexpected event while waiting for block-tx timer: %s", ev)
	}
}

func (n *Nfc) listenerWorker() {
	n.debugf("listener started")
	defer n.debugf("listener stopped")

	if err := n.withRegisters("low power stop", n.hal.LowPowerStop); err != nil {
		n.debugf("low power stop: %v", err)
	}

	n.callback(Event{Type: EventConfigureRequest})

	if err := n.withRegisters("listen start", n.hal.ListenStart); err != nil {
		n.debugf("listen start: %v", err)
	}
	n.state = StateListenStarted

	aborted := false
	for !aborted && !n.stopRequested() {
		ev := n.hal.WaitEvent(WaitForever)
		if ev&HALEventAbortRequest != 0 {
			n.debugf("abort request received")
			n.callback(Event{Type: EventUserAbort})
			aborted = true
			continue
		}
		if ev&HALEventFieldOn != 0 {
			n.callback(Event{Type: EventFieldOn})
		}
		if ev&HALEventFieldOff != 0 {
			n.callback(Event{Type: EventFieldOff})
			_ = n.withRegisters("listener sleep", n.hal.ListenerSleep)
		}
		if ev&HALEventListenerActive != 0 {
			_ = n.withRegisters("disable auto col res", n.hal.ListenerDisableAutoColRes)
			n.callback(Event{Type: EventListenerActivated})
		}
		if ev&HALEventRxEnd != 0 {
			if err := n.receive(); err != nil {
				n.debugf("listener rx: %v", err)
				continue
			}
			n.rxBuffer.CopyBits(n.rxBuf[:], n.rxBits)
			n.recordRX(n.rxBuffer, "listener rx")
			n.callback(Event{Type: EventRxEnd, Buffer: n.rxBuffer})
		}
	}

	n.callback(Event{Type: EventReset})
	_ = n.Config(ModeIdle)
	_ = n.withRegisters("low power start", n.hal.LowPowerStart)
	n.state = StateChipSleep
}
