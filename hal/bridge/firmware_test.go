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
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/frame"
	"github.com/samber/lo"
)

type pipeLink struct {
	net.Conn
}

func (pipeLink) Name() string { return "pipe" }

// reply is what the fake firmware sends back for one request.
type reply struct {
	data   []byte
	events nfc.HALEvent
	status byte
	silent bool
}

type handler func(args []byte) reply

type request struct {
	args []byte
	cmd  byte
}

// firmware answers bridge requests on the far end of a pipe.
type firmware struct {
	conn     net.Conn
	handlers map[byte]handler
	received []request
	noise    []byte
	nacks    int
	mu       sync.Mutex
}

var statusCodes = lo.Invert(statusErrors)

func statusOf(err error) byte {
	if err == nil {
		return statusOK
	}
	for target, code := range statusCodes {
		if errors.Is(err, target) {
			return code
		}
	}
	return 0xEE
}

// newTestBridge connects a Bridge to a fake firmware that answers every
// command with OK unless a handler says otherwise.
func newTestBridge(t *testing.T, opts ...Option) (*Bridge, *firmware) {
	t.Helper()
	return newWrappedBridge(t, func(l Link) Link { return l }, opts...)
}

// newWrappedBridge is newTestBridge with the host end of the pipe passed
// through wrap.
func newWrappedBridge(t *testing.T, wrap func(Link) Link, opts ...Option) (*Bridge, *firmware) {
	t.Helper()
	host, dev := net.Pipe()
	fw := &firmware{conn: dev, handlers: make(map[byte]handler)}
	fw.handle(cmdGetVersion, func([]byte) reply {
		return reply{data: []byte{1, 2, FeaturePoller | FeatureListener}}
	})
	go fw.serve()

	b := New(wrap(pipeLink{host}), opts...)
	t.Cleanup(func() {
		_ = b.Close()
		_ = dev.Close()
	})
	return b, fw
}

func (f *firmware) handle(cmd byte, h handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[cmd] = h
}

// nackNext makes the firmware reject the next n frames.
func (f *firmware) nackNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacks = n
}

// sendNoise makes the firmware write b ahead of every ACK.
func (f *firmware) sendNoise(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noise = b
}

func (f *firmware) requests() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.received...)
}

func (f *firmware) commands() []byte {
	return lo.Map(f.requests(), func(r request, _ int) byte { return r.cmd })
}

// event pushes an unsolicited event frame to the host.
func (f *firmware) event(ev nfc.HALEvent) error {
	out, err := frame.Encode(frame.DeviceEvent, binary.LittleEndian.AppendUint32(nil, uint32(ev)))
	if err != nil {
		return err
	}
	_, err = f.conn.Write(out)
	return err
}

func (f *firmware) serve() {
	buf := make([]byte, 1024)
	var pending []byte
	for {
		n, err := f.conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			fr, used, err := frame.Decode(pending)
			pending = pending[used:]
			if errors.Is(err, frame.ErrIncomplete) {
				break
			}
			if err != nil || fr.Kind != frame.KindData || len(fr.Payload) == 0 {
				continue
			}
			if !f.answer(fr.Payload[0], fr.Payload[1:]) {
				return
			}
		}
	}
}

func (f *firmware) answer(cmd byte, args []byte) bool {
	f.mu.Lock()
	f.received = append(f.received, request{cmd: cmd, args: args})
	nack := f.nacks > 0
	if nack {
		f.nacks--
	}
	h := f.handlers[cmd]
	noise := f.noise
	f.mu.Unlock()

	if len(noise) > 0 {
		if _, err := f.conn.Write(noise); err != nil {
			return false
		}
	}
	if nack {
		_, err := f.conn.Write(frame.NackFrame)
		return err == nil
	}
	if _, err := f.conn.Write(frame.AckFrame); err != nil {
		return false
	}

	r := reply{}
	if h != nil {
		r = h(args)
	}
	if r.silent {
		return true
	}
	out, err := frame.Encode(frame.DeviceToHost, append([]byte{cmd, r.status}, r.data...))
	if err != nil {
		return false
	}
	if _, err := f.conn.Write(out); err != nil {
		return false
	}
	if r.events != 0 {
		return f.event(r.events) == nil
	}
	return true
}
