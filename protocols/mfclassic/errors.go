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

package mfclassic

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

var (
	// ErrNotPresent means the card left the field.
	ErrNotPresent = errors.New("card not present")
	// ErrAuthFailed means the card rejected the key. It wraps
	// nfc.ErrAuthFailed.
	ErrAuthFailed = fmt.Errorf("mifare classic: %w", nfc.ErrAuthFailed)
	// ErrNotAuthenticated means a block command was issued before a
	// successful authentication.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNack means the card refused a command.
	ErrNack = errors.New("card answered NACK")
	// ErrProtocol means the card answered with a malformed frame.
	ErrProtocol = errors.New("protocol error")
	// ErrTimeout means the card did not answer.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidBlock means the block does not exist on this card type.
	ErrInvalidBlock = errors.New("invalid block number")
	// ErrInvalidKey means a key could not be parsed.
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidData means the card image is not usable.
	ErrInvalidData = errors.New("invalid card data")
	// ErrUnsupportedCard means the SAK names no MIFARE Classic variant.
	ErrUnsupportedCard = errors.New("unsupported card type")
)

// mapError converts an ISO14443-3A error. Losing the card during
// reactivation is reported as ErrNotPresent.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, iso3a.ErrNotPresent), errors.Is(err, iso3a.ErrColResFailed):
		return fmt.Errorf("%w: %w", ErrNotPresent, err)
	case errors.Is(err, iso3a.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	}
}
