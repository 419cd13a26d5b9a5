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

// Bridge link retry constants control how a HAL link to front-end firmware
// is opened and recovered.
const (
	// DefaultLinkRetries is the number of attempts to open a link.
	DefaultLinkRetries = 3
	// LinkInitialBackoff is the initial delay between link attempts.
	LinkInitialBackoff = 100 * time.Millisecond
	// LinkMaxBackoff is the maximum delay between link attempts.
	LinkMaxBackoff = 500 * time.Millisecond
	// LinkBackoffMultiplier is the exponential backoff multiplier.
	LinkBackoffMultiplier = 2.0
	// LinkJitter is the random jitter factor (0.0-1.0).
	LinkJitter = 0.1
	// LinkRetryTimeout is the overall timeout for all link attempts.
	LinkRetryTimeout = 10 * time.Second
)

// Link frame constants for the bridge protocol.
const (
	// LinkFrameRetries is the number of attempts for one request/response
	// exchange with the firmware.
	LinkFrameRetries = 3
	// LinkResponseTimeout caps the wait for one firmware response.
	LinkResponseTimeout = 250 * time.Millisecond
)

// Session constants for the transceiver core.
const (
	// HardwareAcquireTimeout bounds the wait for the radio front-end.
	HardwareAcquireTimeout = 100 * time.Millisecond
	// PollerResetDelay is the pause before a poller restarts after Reset.
	PollerResetDelay = 100 * time.Millisecond
)
