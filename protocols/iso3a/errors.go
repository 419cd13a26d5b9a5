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

package iso3a

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
)

var (
	// ErrNotPresent means no card answered.
	ErrNotPresent = errors.New("card not present")
	// ErrColResFailed means anticollision did not complete.
	ErrColResFailed = errors.New("collision resolution failed")
	// ErrCommunication means the card answered with a frame of the wrong
	// shape.
	ErrCommunication = errors.New("communication error")
	// ErrWrongCrc means a standard frame failed its CRC check.
	ErrWrongCrc = errors.New("wrong CRC")
	// ErrTimeout means the card did not answer within the frame waiting
	// time after activation.
	ErrTimeout = errors.New("timeout")
)

// mapError converts a core error to this layer's taxonomy. The core error
// stays in the chain so callers can still test for nfc.ErrAborted.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nfc.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrNotPresent, err)
	}
}

// restartable reports whether err came from a malformed answer, after
// which activation starts over from the first cascade level.
func restartable(err error) bool {
	return errors.Is(err, ErrWrongCrc) || errors.Is(err, ErrCommunication)
}
