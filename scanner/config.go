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

package scanner

import (
	"time"

	"github.com/ZaparooProject/go-nfc/protocol"
)

// Config holds the scanner timing and the protocols it probes for.
type Config struct {
	// Protocols are probed on every new card, in order. Each must sit on
	// top of ISO14443-3A.
	Protocols          []protocol.Protocol
	PollInterval       time.Duration
	CardRemovalTimeout time.Duration
}

// DefaultConfig probes ISO14443-4A, MIFARE Classic and MIFARE Ultralight.
func DefaultConfig() *Config {
	return &Config{
		Protocols: []protocol.Protocol{
			protocol.Iso14443_4a,
			protocol.MfClassic,
			protocol.MfUltralight,
		},
		PollInterval:       250 * time.Millisecond,
		CardRemovalTimeout: 600 * time.Millisecond,
	}
}
