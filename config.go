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

// Frame delay defaults in carrier cycles (fc, 1/13.56 MHz) and
// microseconds.
const (
	DefaultFdtPollFc     = 1620
	DefaultFdtListenFc   = 1172
	DefaultFdtPollPollUs = 1100
	DefaultGuardTimeUs   = 5000
	DefaultTraceEntries  = 32
	maxBufferSize        = 256
	defaultMaskReceiveFc = DefaultFdtListenFc / 2
)

// Timing holds the inter-frame delays of a session.
type Timing struct {
	// FdtPollFc is the block-tx delay after a received frame.
	FdtPollFc uint32
	// FdtListenFc is the listener frame delay.
	FdtListenFc uint32
	// MaskReceiveFc masks the receiver after a transmission.
	MaskReceiveFc uint32
	// FdtPollPollUs is the minimum gap between two poller frames.
	FdtPollPollUs uint32
	// GuardTimeUs is the wait between field on and the first frame.
	GuardTimeUs uint32
}

// DefaultTiming returns the ISO14443-3A timings.
func DefaultTiming() Timing {
	return Timing{
		FdtPollFc:     DefaultFdtPollFc,
		FdtListenFc:   DefaultFdtListenFc,
		MaskReceiveFc: defaultMaskReceiveFc,
		FdtPollPollUs: DefaultFdtPollPollUs,
		GuardTimeUs:   DefaultGuardTimeUs,
	}
}

// Option configures a session created by New.
type Option func(*Nfc)

// WithTiming replaces the session timings.
func WithTiming(t Timing) Option {
	return func(n *Nfc) {
		n.timing = t
	}
}

// WithGuardTime sets the guard time in microseconds. Zero disables it.
func WithGuardTime(us uint32) Option {
	return func(n *Nfc) {
		n.timing.GuardTimeUs = us
	}
}

// WithTrace keeps the last entries frames of the session and attaches them
// to exchange errors. Zero disables tracing.
func WithTrace(entries int) Option {
	return func(n *Nfc) {
		n.traceEntries = entries
	}
}

// WithAcquireTimeout bounds the wait for the front-end in New.
func WithAcquireTimeout(d time.Duration) Option {
	return func(n *Nfc) {
		n.acquireTimeout = d
	}
}

// WithPort names the front-end in errors and traces.
func WithPort(name string) Option {
	return func(n *Nfc) {
		n.port = name
	}
}
