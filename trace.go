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
	"strings"
	"time"
)

// TraceDirection tells whether a frame went to the card or came back.
type TraceDirection string

const (
	TraceTX TraceDirection = "TX"
	TraceRX TraceDirection = "RX"
)

// maxTraceDump caps how many bytes of a frame are printed.
const maxTraceDump = 32

// TraceEntry is one frame, or one missing frame, of an exchange.
type TraceEntry struct {
	Timestamp time.Time
	Direction TraceDirection
	Note      string
	Data      []byte
	// Bits is the frame length when it does not end on a byte boundary.
	Bits int
}

func (e TraceEntry) String() string {
	s := fmt.Sprintf("[%s] %s: %s", e.Timestamp.Format(logTimeFormat), e.Direction, e.dump())
	if e.Note != "" {
		s += " (" + e.Note + ")"
	}
	return s
}

func (e TraceEntry) dump() string {
	if len(e.Data) == 0 {
		return "(empty)"
	}
	s := fmt.Sprintf("% X", e.Data[:min(len(e.Data), maxTraceDump)])
	if len(e.Data) > maxTraceDump {
		s += fmt.Sprintf(" ... (%d bytes total)", len(e.Data))
	}
	if e.Bits > 0 && e.Bits != len(e.Data)*8 {
		s += fmt.Sprintf(" [%d bits]", e.Bits)
	}
	return s
}

// TraceableError carries the frames exchanged before a failure.
//
//	if te := nfc.GetTrace(err); te != nil {
//	    log.Print(te.FormatTrace())
//	}
type TraceableError struct {
	Err   error
	Link  string
	Port  string
	Trace []TraceEntry
}

func (e *TraceableError) Error() string { return e.Err.Error() }

func (e *TraceableError) Unwrap() error { return e.Err }

// FormatTrace renders the trace one frame per line, > for sent and < for
// received.
func (e *TraceableError) FormatTrace() string {
	if len(e.Trace) == 0 {
		return fmt.Sprintf("[%s:%s] (no trace data)", e.Link, e.Port)
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "[%s:%s] frame trace (%d entries):\n", e.Link, e.Port, len(e.Trace))
	for _, entry := range e.Trace {
		arrow := ">"
		if entry.Direction == TraceRX {
			arrow = "<"
		}
		_, _ = fmt.Fprintf(&sb, "  %s %s", arrow, entry.dump())
		if entry.Note != "" {
			_, _ = fmt.Fprintf(&sb, " (%s)", entry.Note)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// TraceBuffer is a ring of the most recent frames of a session or of one
// bridge request. It is not safe for concurrent use.
type TraceBuffer struct {
	link    string
	port    string
	entries []TraceEntry
	next    int
	full    bool
}

// NewTraceBuffer keeps the last size frames; size <= 0 means 16.
func NewTraceBuffer(link, port string, size int) *TraceBuffer {
	if size <= 0 {
		size = 16
	}
	return &TraceBuffer{link: link, port: port, entries: make([]TraceEntry, size)}
}

// RecordTX records a sent frame. bits may be 0 for whole bytes.
func (tb *TraceBuffer) RecordTX(data []byte, bits int, note string) {
	tb.record(TraceTX, data, bits, note)
}

// RecordRX records a received frame. bits may be 0 for whole bytes.
func (tb *TraceBuffer) RecordRX(data []byte, bits int, note string) {
	tb.record(TraceRX, data, bits, note)
}

// RecordTimeout records a response that never came.
func (tb *TraceBuffer) RecordTimeout(note string) {
	tb.record(TraceRX, nil, 0, "TIMEOUT: "+note)
}

func (tb *TraceBuffer) record(dir TraceDirection, data []byte, bits int, note string) {
	tb.entries[tb.next] = TraceEntry{
		Timestamp: time.Now(),
		Direction: dir,
		Note:      note,
		Data:      append([]byte(nil), data...),
		Bits:      bits,
	}
	tb.next = (tb.next + 1) % len(tb.entries)
	if tb.next == 0 {
		tb.full = true
	}
}

// Entries returns the recorded frames, oldest first.
func (tb *TraceBuffer) Entries() []TraceEntry {
	if !tb.full {
		return append([]TraceEntry(nil), tb.entries[:tb.next]...)
	}
	out := make([]TraceEntry, 0, len(tb.entries))
	out = append(out, tb.entries[tb.next:]...)
	return append(out, tb.entries[:tb.next]...)
}

// WrapError attaches the current trace to err. A nil err stays nil.
func (tb *TraceBuffer) WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &TraceableError{Err: err, Link: tb.link, Port: tb.port, Trace: tb.Entries()}
}

// Reset forgets all frames.
func (tb *TraceBuffer) Reset() {
	clear(tb.entries)
	tb.next, tb.full = 0, false
}

// GetTrace returns the trace attached anywhere in err's chain, or nil.
func GetTrace(err error) *TraceableError {
	var te *TraceableError
	if errors.As(err, &te) {
		return te
	}
	return nil
}
