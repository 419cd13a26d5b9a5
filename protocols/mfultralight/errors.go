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

package mfultralight

import (
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

var (
	// ErrNotPresent means the tag left the field.
	ErrNotPresent = errors.New("tag not present")
	// ErrNack means the tag refused a command.
	ErrNack = errors.New("tag answered NACK")
	// ErrProtocol means the tag answered with a malformed frame.
	ErrProtocol = errors.New("protocol error")
	// ErrTimeout means the tag did not answer.
	ErrTimeout = errors.New("timeout")
	// ErrInvalidPage means the page does not exist on this tag.
	ErrInvalidPage = errors.New("invalid page number")
	// ErrInvalidData means the tag image is not usable.
	ErrInvalidData = errors.New("invalid tag data")
	// ErrNotSupported means the variant lacks the command.
	ErrNotSupported = errors.New("command not supported by tag")
)

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
