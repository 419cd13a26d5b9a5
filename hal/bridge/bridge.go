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

// Package bridge implements nfc.HAL on top of front-end firmware reached
// over a byte link. The host sends one request frame per HAL call and the
// firmware answers with an ACK followed by a response frame. Radio events
// and timer expiries arrive as unsolicited event frames.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/frame"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
)

// Link is a byte stream to front-end firmware. Read may return 0 bytes
// and a nil error when its read timeout passes.
type Link interface {
	io.ReadWriteCloser
	Name() string
}

// ErrLinkClosed is returned once the link has been closed or lost.
var ErrLinkClosed = errors.New("bridge link closed")

type response struct {
	data   []byte
	status byte
}

// Bridge is a HAL whose radio lives in firmware at the other end of a Link.
type Bridge struct {
	link  Link
	retry *nfc.RetryConfig

	pending map[byte]chan response
	ack     chan frame.Kind
	notify  chan struct{}
	done    chan struct{}
	readErr error

	version Version

	writeMu syncutil.Mutex
	mu      syncutil.Mutex

	events          nfc.HALEvent
	responseTimeout time.Duration
	blockTx         atomic.Bool
	closed          atomic.Bool
}

var _ nfc.HAL = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithResponseTimeout caps the wait for the ACK and for the response of
// one request.
func WithResponseTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.responseTimeout = d
		}
	}
}

// WithRetryConfig sets how link-level failures of one request are retried.
// Only retryable HAL errors are retried; radio errors are returned as is.
func WithRetryConfig(cfg *nfc.RetryConfig) Option {
	return func(b *Bridge) {
		if cfg != nil {
			c := *cfg
			b.retry = &c
		}
	}
}

func defaultRetry() *nfc.RetryConfig {
	return &nfc.RetryConfig{
		MaxAttempts:       nfc.LinkFrameRetries,
		InitialBackoff:    2 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
	}
}

// New starts talking to firmware over link. The firmware is not touched
// until Init.
func New(link Link, opts ...Option) *Bridge {
	b := &Bridge{
		link:            link,
		retry:           defaultRetry(),
		pending:         make(map[byte]chan response),
		ack:             make(chan frame.Kind, 1),
		notify:          make(chan struct{}, 1),
		done:            make(chan struct{}),
		responseTimeout: nfc.LinkResponseTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.retry.Retryable == nil {
		b.retry.Retryable = isLinkRetryable
	}
	go b.readLoop()
	return b
}

// Close shuts the link down and waits for the reader to exit.
func (b *Bridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.link.Close()
	<-b.done
	if err != nil {
		return fmt.Errorf("close %s: %w", b.link.Name(), err)
	}
	return nil
}

// Version returns the firmware version read by Init.
func (b *Bridge) Version() Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Err returns the error that ended the reader, if any.
func (b *Bridge) Err() error {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.readErr
	default:
		return nil
	}
}

func isLinkRetryable(err error) bool {
	var he *nfc.HALError
	return errors.As(err, &he) && he.Retryable
}

func (b *Bridge) readLoop() {
	defer close(b.done)

	buf := frame.GetBuffer()
	defer frame.PutBuffer(buf)
	var pending []byte

	for {
		n, err := b.link.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			pending = b.dispatch(pending)
		}
		if err != nil {
			if b.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				err = ErrLinkClosed
			}
			b.mu.Lock()
			b.readErr = err
			b.mu.Unlock()
			nfc.Debugf("bridge %s: reader stopped: %v", b.link.Name(), err)
			b.signal()
			return
		}
	}
}

// dispatch decodes every complete frame in data and returns the rest.
func (b *Bridge) dispatch(data []byte) []byte {
	for len(data) > 0 {
		f, n, err := frame.Decode(data)
		data = data[n:]
		if errors.Is(err, frame.ErrIncomplete) {
			break
		}
		if err != nil {
			nfc.Debugf("bridge %s: dropping frame: %v", b.link.Name(), err)
			continue
		}
		b.route(f)
	}
	if len(data) > frame.BufferSize {
		data = data[len(data)-frame.BufferSize:]
	}
	return data
}

func (b *Bridge) route(f frame.Frame) {
	switch {
	case f.Kind != frame.KindData:
		select {
		case b.ack <- f.Kind:
		default:
			nfc.Debugf("bridge %s: unexpected flow control frame", b.link.Name())
		}
	case f.TFI == frame.DeviceEvent:
		ev, err := eventMask(f.Payload)
		if err != nil {
			nfc.Debugf("bridge %s: %v", b.link.Name(), err)
			return
		}
		b.post(ev)
	case f.TFI == frame.DeviceToHost && len(f.Payload) >= 2:
		b.deliver(f.Payload[0], response{status: f.Payload[1], data: f.Payload[2:]})
	case f.TFI == frame.DeviceError && len(f.Payload) >= 1:
		// Error frames carry no command code; fail every waiting request
		b.mu.Lock()
		cmds := make([]byte, 0, len(b.pending))
		for cmd := range b.pending {
			cmds = append(cmds, cmd)
		}
		b.mu.Unlock()
		for _, cmd := range cmds {
			b.deliver(cmd, response{status: f.Payload[0]})
		}
	default:
		nfc.Debugf("bridge %s: unexpected frame TFI 0x%02X", b.link.Name(), f.TFI)
	}
}

func (b *Bridge) deliver(cmd byte, resp response) {
	b.mu.Lock()
	ch, ok := b.pending[cmd]
	if ok {
		delete(b.pending, cmd)
	}
	b.mu.Unlock()
	if !ok {
		nfc.Debugf("bridge %s: response to 0x%02X nobody waits for", b.link.Name(), cmd)
		return
	}
	ch <- resp
}

// post records events for WaitEvent.
func (b *Bridge) post(ev nfc.HALEvent) {
	if ev&nfc.HALEventTimerBlockTxExpired != 0 {
		b.blockTx.Store(false)
	}
	b.mu.Lock()
	b.events |= ev
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Bridge) takeEvents() nfc.HALEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := b.events
	b.events = 0
	return ev
}

// request sends cmd with args and returns the response data. Link
// failures are retried per the retry config.
func (b *Bridge) request(op string, cmd byte, args []byte) ([]byte, error) {
	if b.closed.Load() {
		return nil, nfc.NewHALError(op, b.link.Name(), ErrLinkClosed, nfc.ErrorTypePermanent)
	}
	retry := *b.retry
	retry.Op = b.link.Name() + " " + op
	data, err := nfc.RetryValue(context.Background(), &retry, func() ([]byte, error) {
		return b.exchange(op, cmd, args)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (b *Bridge) exchange(op string, cmd byte, args []byte) ([]byte, error) {
	trace := nfc.NewTraceBuffer("bridge", b.link.Name(), 8)

	payload := make([]byte, 0, 1+len(args))
	payload = append(payload, cmd)
	payload = append(payload, args...)
	out, err := frame.Encode(frame.HostToDevice, payload)
	if err != nil {
		return nil, err
	}

	ch := make(chan response, 1)
	b.mu.Lock()
	b.pending[cmd] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.pending[cmd] == ch {
			delete(b.pending, cmd)
		}
		b.mu.Unlock()
	}()

	if err := b.send(op, out, trace); err != nil {
		return nil, trace.WrapError(err)
	}

	timer := time.NewTimer(b.responseTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		trace.RecordRX(append([]byte{cmd, resp.status}, resp.data...), 0, op)
		if err := statusError(resp.status); err != nil {
			return nil, err
		}
		return resp.data, nil
	case <-timer.C:
		trace.RecordTimeout(op)
		return nil, trace.WrapError(nfc.NewHALTimeoutError(op, b.link.Name()))
	case <-b.done:
		return nil, nfc.NewHALError(op, b.link.Name(), ErrLinkClosed, nfc.ErrorTypePermanent)
	}
}

// send writes one request frame and waits for the firmware to ACK it.
// Requests from the worker and from Abort are serialized here so every ACK
// belongs to the frame just written.
func (b *Bridge) send(op string, out []byte, trace *nfc.TraceBuffer) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	select {
	case <-b.ack:
	default:
	}

	trace.RecordTX(out, 0, op)
	if _, err := b.link.Write(out); err != nil {
		errType := nfc.ErrorTypeTransient
		if nfc.IsFatal(err) {
			errType = nfc.ErrorTypePermanent
		}
		return nfc.NewHALError(op, b.link.Name(), fmt.Errorf("%w: %w", nfc.ErrCommunication, err), errType)
	}

	timer := time.NewTimer(b.responseTimeout)
	defer timer.Stop()
	select {
	case kind := <-b.ack:
		if kind == frame.KindNack {
			trace.RecordRX(frame.NackFrame, 0, op)
			return nfc.NewHALError(op, b.link.Name(),
				fmt.Errorf("%w: frame rejected", nfc.ErrCommunication), nfc.ErrorTypeTransient)
		}
		return nil
	case <-timer.C:
		trace.RecordTimeout("ACK " + op)
		return nfc.NewHALTimeoutError(op, b.link.Name())
	case <-b.done:
		return nfc.NewHALError(op, b.link.Name(), ErrLinkClosed, nfc.ErrorTypePermanent)
	}
}

// call is request for commands without result data.
func (b *Bridge) call(op string, cmd byte, args ...byte) error {
	_, err := b.request(op, cmd, args)
	return err
}

// timer sends a timer command. Timer methods have no error return, so
// failures are only logged; the next exchange will surface a dead link.
func (b *Bridge) timer(op string, cmd byte, args []byte) {
	if _, err := b.request(op, cmd, args); err != nil {
		nfc.Debugf("bridge %s: %s: %v", b.link.Name(), op, err)
	}
}
