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

// Package nfc is the transceiver core of the NFC protocol engine.
//
// A session (Nfc) owns one radio front-end, reached through the HAL
// interface, and runs a single worker goroutine per poller or listener
// session. Protocol code is driven from that worker through a Callback and
// talks to the card with the blocking Trx family of methods.
package nfc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/google/uuid"
)

// Nfc is one radio session. It owns its front-end from New until Close.
type Nfc struct {
	hal      HAL
	guard    *hardwareGuard
	callback Callback
	trace    *TraceBuffer
	done     chan struct{}
	stop     chan struct{}
	stopOnce *sync.Once
	rxBuffer *bitbuf.Buffer

	id             string
	port           string
	timing         Timing
	acquireTimeout time.Duration
	traceEntries   int

	// regMu serialises register access. WaitEvent and Abort bypass it.
	regMu syncutil.Mutex
	// mu guards the run bookkeeping below.
	mu      syncutil.Mutex
	running bool
	closed  bool

	// owned by the worker while running
	mode    Mode
	modeSet bool
	state   State
	comm    CommState
	rxBits  int
	rxBuf   [maxBufferSize * 2]byte
}

// New claims hal and returns a session for it. The front-end must already
// be initialised. New fails with ErrBusy if another session holds hal.
func New(hal HAL, opts ...Option) (*Nfc, error) {
	if hal == nil {
		return nil, fmt.Errorf("%w: nil HAL", ErrInvalidArgument)
	}

	n := &Nfc{
		hal:            hal,
		id:             uuid.NewString(),
		timing:         DefaultTiming(),
		acquireTimeout: HardwareAcquireTimeout,
		traceEntries:   DefaultTraceEntries,
		rxBuffer:       bitbuf.New(maxBufferSize),
		state:          StateIdle,
		comm:           CommStateIdle,
	}
	for _, opt := range opts {
		opt(n)
	}

	guard, err := acquireHardware(hal, n.acquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire front-end: %w", err)
	}
	n.guard = guard

	if n.traceEntries > 0 {
		n.trace = NewTraceBuffer("nfc", n.port, n.traceEntries)
	}

	n.debugf("session opened")
	return n, nil
}

// ID returns the session identifier used in log messages.
func (n *Nfc) ID() string {
	return n.id
}

func (n *Nfc) debugf(format string, args ...any) {
	Debugf("[nfc %.8s] "+format, append([]any{n.id}, args...)...)
}

// Close stops any running worker, puts the front-end into low power mode
// and releases it. Close is idempotent.
func (n *Nfc) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	n.Stop()
	err := n.withRegisters("low power start", n.hal.LowPowerStart)
	n.guard.Release()
	n.debugf("session closed")
	return err
}

// Config switches the front-end configuration. Requesting the current mode
// again does nothing.
func (n *Nfc) Config(mode Mode) error {
	if n.modeSet && n.mode == mode {
		return nil
	}

	var err error
	switch mode {
	case ModeIdle:
		err = n.withRegisters("reset mode", n.hal.ResetMode)
	case ModeIso3aPoller:
		err = n.withRegisters("set mode", func() error {
			return n.hal.SetMode(HALModeIso14443aPoller, Bitrate106)
		})
	case ModeIso3aListener:
		err = n.withRegisters("set mode", func() error {
			return n.hal.SetMode(HALModeIso14443aListener, Bitrate106)
		})
	default:
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	if err != nil {
		n.modeSet = false
		return err
	}

	n.mode = mode
	n.modeSet = true
	return nil
}

// Timing returns the session timings.
func (n *Nfc) Timing() Timing {
	return n.timing
}

// The timing setters are meant for the ConfigureRequest callback.

// SetFdtPollFc sets the block-tx delay after a received frame.
func (n *Nfc) SetFdtPollFc(fc uint32) { n.timing.FdtPollFc = fc }

// SetFdtListenFc sets the listener frame delay.
func (n *Nfc) SetFdtListenFc(fc uint32) { n.timing.FdtListenFc = fc }

// SetFdtPollPollUs sets the minimum gap between two poller frames.
func (n *Nfc) SetFdtPollPollUs(us uint32) { n.timing.FdtPollPollUs = us }

// SetGuardTimeUs sets the wait between field on and the first frame.
func (n *Nfc) SetGuardTimeUs(us uint32) { n.timing.GuardTimeUs = us }

// SetMaskReceiveTimeFc sets the receiver mask time.
func (n *Nfc) SetMaskReceiveTimeFc(fc uint32) { n.timing.MaskReceiveFc = fc }

// State returns the worker state. It is only stable from the worker or
// after Wait returned.
func (n *Nfc) State() State {
	return n.state
}

// CommState returns the state of the last transmit/receive cycle.
func (n *Nfc) CommState() CommState {
	return n.comm
}

// StartPoller runs the poller worker with cb.
func (n *Nfc) StartPoller(cb Callback) error {
	return n.start(cb, n.pollerWorker)
}

// StartListener runs the listener worker with cb.
func (n *Nfc) StartListener(cb Callback) error {
	return n.start(cb, n.listenerWorker)
}

func (n *Nfc) start(cb Callback, worker func()) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrInvalidArgument)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	if n.running {
		return ErrWrongState
	}

	n.callback = cb
	n.comm = CommStateIdle
	n.stop = make(chan struct{})
	n.stopOnce = &sync.Once{}
	n.done = make(chan struct{})
	n.running = true
	if n.trace != nil {
		n.trace.Reset()
	}

	done := n.done
	go func() {
		defer close(done)
		defer func() {
			n.mu.Lock()
			n.drainAbort()
			n.running = false
			n.mu.Unlock()
		}()
		worker()
	}()
	return nil
}

// Abort asks the worker to stop. The worker finishes the current callback,
// walks back to idle and exits; Abort does not wait for that.
func (n *Nfc) Abort() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopOnce == nil || !n.running {
		return
	}

	stop := n.stop
	n.stopOnce.Do(func() {
		close(stop)
	})
	if err := n.hal.Abort(); err != nil {
		n.debugf("abort: %v", err)
	}
}

// Stop aborts the worker and waits for it to exit.
func (n *Nfc) Stop() {
	n.Abort()
	n.Wait()
}

// Wait blocks until the worker exits on its own.
func (n *Nfc) Wait() {
	n.mu.Lock()
	done := n.done
	n.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether a worker is active.
func (n *Nfc) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

func (n *Nfc) stopRequested() bool {
	if n.stop == nil {
		return false
	}
	select {
	case <-n.stop:
		return true
	default:
		return false
	}
}

// dispatch hands ev to the callback. A pending stop request overrides the
// returned command.
func (n *Nfc) dispatch(ev Event) Command {
	cmd := n.callback(ev)
	if n.stopRequested() {
		return CommandStop
	}
	return cmd
}

// withRegisters runs fn under the register lock and maps its error.
func (n *Nfc) withRegisters(op string, fn func() error) error {
	n.regMu.Lock()
	err := fn()
	n.regMu.Unlock()
	return n.halError(op, err)
}

func (n *Nfc) locked(fn func()) {
	n.regMu.Lock()
	fn()
	n.regMu.Unlock()
}

// halError turns a front-end failure into a communication error. Errors
// that already carry a core category pass through.
func (n *Nfc) halError(op string, err error) error {
	if err == nil {
		return nil
	}
	var he *HALError
	switch {
	case errors.As(err, &he),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrAborted),
		errors.Is(err, ErrFieldOff),
		errors.Is(err, ErrCollision),
		errors.Is(err, ErrCommunication):
		return err
	}
	return NewHALError(op, n.port, fmt.Errorf("%w: %w", ErrCommunication, err), ErrorTypeTransient)
}
