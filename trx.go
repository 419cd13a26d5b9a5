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
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc/bitbuf"
)

// Trx sends tx with standard parity and waits up to fwt carrier cycles for
// the response, which is stored in rx without parity. It must be called
// from the poller callback while the session is PollerReady.
func (n *Nfc) Trx(tx, rx *bitbuf.Buffer, fwt uint32) error {
	n.recordTX(tx, "")
	err := n.pollerExchange("poller tx", fwt, func() error {
		return n.hal.PollerTx(tx.Bytes(), tx.SizeBits())
	})
	if err != nil {
		return n.traceError(err)
	}
	rx.CopyBits(n.rxBuf[:], n.rxBits)
	n.recordRX(rx, "")
	return nil
}

// TrxCustomParity is Trx with the parity bits taken from tx and returned
// in rx, as the encrypted MIFARE Classic channel requires.
func (n *Nfc) TrxCustomParity(tx, rx *bitbuf.Buffer, fwt uint32) error {
	n.recordTX(tx, "custom parity")
	wire, bits := tx.WriteBytesWithParity()
	err := n.pollerExchange("poller tx custom parity", fwt, func() error {
		return n.hal.PollerTxCustomParity(wire, bits)
	})
	if err != nil {
		return n.traceError(err)
	}
	rx.CopyBytesWithParity(n.rxBuf[:], n.rxBits)
	n.recordRX(rx, "custom parity")
	return nil
}

// ShortFrame sends a 7-bit REQA or WUPA and receives the ATQA.
func (n *Nfc) ShortFrame(frame ShortFrame, rx *bitbuf.Buffer, fwt uint32) error {
	if n.trace != nil {
		n.trace.RecordTX([]byte{frame.Byte()}, 7, "short frame")
	}
	err := n.pollerExchange("short frame", fwt, func() error {
		return n.hal.ShortFrame(frame)
	})
	if err != nil {
		return n.traceError(err)
	}
	rx.CopyBits(n.rxBuf[:], n.rxBits)
	n.recordRX(rx, "")
	return nil
}

// SddFrame sends a bit-oriented anticollision frame.
func (n *Nfc) SddFrame(tx, rx *bitbuf.Buffer, fwt uint32) error {
	n.recordTX(tx, "sdd")
	err := n.pollerExchange("sdd frame", fwt, func() error {
		return n.hal.SddFrame(tx.Bytes(), tx.SizeBits())
	})
	if err != nil {
		return n.traceError(err)
	}
	rx.CopyBits(n.rxBuf[:], n.rxBits)
	n.recordRX(rx, "")
	return nil
}

func (n *Nfc) pollerExchange(op string, fwt uint32, send func() error) error {
	if err := n.prepareTrx(); err != nil {
		return err
	}
	if err := n.withRegisters(op, send); err != nil {
		n.comm = CommStateFailed
		return err
	}
	n.comm = CommStateWaitTxEnd
	if err := n.trxStateMachine(fwt); err != nil {
		return err
	}
	return n.receive()
}

// prepareTrx waits out a running block-tx timer and resets the FIFO.
func (n *Nfc) prepareTrx() error {
	if n.stopRequested() {
		return ErrAborted
	}
	if n.state != StatePollerReady {
		return fmt.Errorf("%w: exchange in state %s", ErrWrongState, n.state)
	}
	if n.comm == CommStateWaitBlockTxTimer {
		if err := n.waitBlockTx(); err != nil {
			n.comm = CommStateFailed
			return err
		}
	}
	n.comm = CommStateReadyTx
	return n.withRegisters("trx reset", n.hal.TrxReset)
}

// trxStateMachine follows one transmit/receive cycle until the response
// ends or the frame waiting time runs out.
func (n *Nfc) trxStateMachine(fwt uint32) error {
	for {
		ev := n.hal.WaitEvent(WaitForever)
		if ev&HALEventAbortRequest != 0 {
			n.locked(func() {
				n.hal.FwtTimerStop()
			})
			n.comm = CommStateFailed
			return ErrAborted
		}
		if ev&HALEventTimerBlockTxExpired != 0 && n.comm == CommStateWaitBlockTxTimer {
			n.comm = CommStateReadyTx
		}
		if ev&HALEventTxEnd != 0 && n.comm == CommStateWaitTxEnd {
			n.locked(func() {
				if fwt > 0 {
					n.hal.FwtTimerStart(fwt)
				}
				n.hal.BlockTxTimerStartUs(n.timing.FdtPollPollUs)
			})
			n.comm = CommStateWaitRxStart
		}
		if ev&HALEventRxStart != 0 && n.comm == CommStateWaitRxStart {
			n.locked(func() {
				n.hal.BlockTxTimerStop()
				n.hal.FwtTimerStop()
			})
			n.comm = CommStateWaitRxEnd
		}
		if ev&HALEventRxEnd != 0 {
			n.locked(func() {
				n.hal.BlockTxTimerStart(n.timing.FdtPollFc)
				n.hal.FwtTimerStop()
			})
			n.comm = CommStateWaitBlockTxTimer
			return nil
		}
		if ev&HALEventTimerFwtExpired != 0 && n.comm == CommStateWaitRxStart {
			n.regMu.Lock()
			running := n.hal.BlockTxTimerIsRunning()
			n.regMu.Unlock()
			if running {
				n.comm = CommStateWaitBlockTxTimer
			} else {
				n.comm = CommStateReadyTx
			}
			return ErrTimeout
		}
	}
}

func (n *Nfc) receive() error {
	var bits int
	err := n.withRegisters("rx", func() error {
		var rxErr error
		bits, rxErr = n.hal.PollerRx(n.rxBuf[:])
		return rxErr
	})
	if err != nil {
		return err
	}
	if bits < 0 || bits > len(n.rxBuf)*8 {
		return fmt.Errorf("%w: %d bits", ErrBufferOverflow, bits)
	}
	n.rxBits = bits
	return nil
}

// ListenerTx sends a response with standard parity.
func (n *Nfc) ListenerTx(tx *bitbuf.Buffer) error {
	if n.state != StateListenStarted {
		return fmt.Errorf("%w: listener tx in state %s", ErrWrongState, n.state)
	}
	n.recordTX(tx, "listener")
	return n.withRegisters("listener tx", func() error {
		return n.hal.ListenerTx(tx.Bytes(), tx.SizeBits())
	})
}

// ListenerTxCustomParity sends a response with the parity bits of tx.
func (n *Nfc) ListenerTxCustomParity(tx *bitbuf.Buffer) error {
	if n.state != StateListenStarted {
		return fmt.Errorf("%w: listener tx in state %s", ErrWrongState, n.state)
	}
	n.recordTX(tx, "listener custom parity")
	wire, bits := tx.WriteBytesWithParity()
	return n.withRegisters("listener tx custom parity", func() error {
		return n.hal.ListenerTxCustomParity(wire, bits)
	})
}

// ListenerSleep puts the listener back into its halted state, where only
// WUPA wakes it.
func (n *Nfc) ListenerSleep() error {
	if n.state != StateListenStarted {
		return fmt.Errorf("%w: listener sleep in state %s", ErrWrongState, n.state)
	}
	return n.withRegisters("listener sleep", n.hal.ListenerSleep)
}

// SetColResData loads the identity the front-end answers anticollision
// with.
func (n *Nfc) SetColResData(uid []byte, atqa [2]byte, sak byte) error {
	switch len(uid) {
	case 4, 7, 10:
	default:
		return fmt.Errorf("%w: uid length %d", ErrInvalidArgument, len(uid))
	}
	err := n.withRegisters("set col res data", func() error {
		return n.hal.SetColResData(uid, atqa, sak)
	})
	n.comm = CommStateIdle
	return err
}

func (n *Nfc) recordTX(b *bitbuf.Buffer, note string) {
	if n.trace != nil {
		n.trace.RecordTX(b.Bytes(), b.SizeBits(), note)
	}
}

func (n *Nfc) recordRX(b *bitbuf.Buffer, note string) {
	if n.trace != nil {
		n.trace.RecordRX(b.Bytes(), b.SizeBits(), note)
	}
}

func (n *Nfc) traceError(err error) error {
	if n.trace == nil {
		return err
	}
	if errors.Is(err, ErrTimeout) {
		n.trace.RecordTimeout("no response")
	}
	return n.trace.WrapError(err)
}
