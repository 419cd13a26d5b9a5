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
	"io"
	"runtime"
	"syscall"
)

// Error categories reported by the transceiver core
var (
	// Radio errors - recoverable, reported to the protocol layer
	ErrTimeout       = errors.New("frame waiting time expired")
	ErrFieldOff      = errors.New("field lost")
	ErrCollision     = errors.New("collision detected")
	ErrFormat        = errors.New("malformed frame")
	ErrCommunication = errors.New("communication failure")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrAborted       = errors.New("aborted by request")

	// Hardware errors - may end the session
	ErrBusy              = errors.New("hardware busy")
	ErrChipCommunication = errors.New("chip communication failed")
	ErrOscillator        = errors.New("oscillator did not start")
	ErrIsrTimeout        = errors.New("interrupt wait timed out")
	ErrBufferOverflow    = errors.New("receive buffer overflow")

	// Usage errors - not retryable
	ErrWrongState      = errors.New("operation not allowed in current state")
	ErrInvalidMode     = errors.New("invalid mode")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("session closed")
)

// ErrorType represents the category of error for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a potentially retryable error
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a non-retryable error
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error (special handling)
	ErrorTypeTimeout
)

// HALError wraps a front-end failure with the operation that caused it
type HALError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

func (e *HALError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HALError) Unwrap() error {
	return e.Err
}

// NewHALError creates a HAL error with consistent formatting
func NewHALError(op, port string, err error, errType ErrorType) *HALError {
	return &HALError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewHALTimeoutError creates a timeout error for a HAL operation
func NewHALTimeoutError(op, port string) *HALError {
	return NewHALError(op, port, ErrIsrTimeout, ErrorTypeTimeout)
}

// IsRetryable returns true if the error is potentially retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var he *HALError
	if errors.As(err, &he) {
		return he.Retryable
	}

	switch {
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrCollision),
		errors.Is(err, ErrFormat),
		errors.Is(err, ErrCommunication),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrIsrTimeout):
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error means the front-end is gone and the
// session cannot continue. A lost field or a failed authentication is never
// fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var he *HALError
	if errors.As(err, &he) {
		return he.Type == ErrorTypePermanent
	}

	if isDeviceGoneError(err) {
		return true
	}

	switch {
	case errors.Is(err, ErrChipCommunication),
		errors.Is(err, ErrOscillator),
		errors.Is(err, ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe):
		return true
	default:
		return false
	}
}

// Windows error codes for link disconnection detection.
const (
	errAccessDenied syscall.Errno = 5   // ERROR_ACCESS_DENIED
	errGenFailure   syscall.Errno = 31  // ERROR_GEN_FAILURE
	errNoSuchDevice syscall.Errno = 433 // ERROR_NO_SUCH_DEVICE
)

// isDeviceGoneError checks for OS-level errors raised when the link to the
// front-end is unplugged during I/O.
func isDeviceGoneError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}

	//nolint:exhaustive // Only checking specific device-gone errors
	switch errno {
	case syscall.EIO, syscall.ENXIO, syscall.ENODEV:
		return true
	}

	if runtime.GOOS == "windows" {
		//nolint:exhaustive // Only checking specific device-gone errors
		switch errno {
		case errAccessDenied, errGenFailure, errNoSuchDevice:
			return true
		}
	}
	return false
}
