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
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// RetryConfig describes how often and how patiently an operation is
// retried.
type RetryConfig struct {
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool
	// Op names the operation in debug output.
	Op string
	// MaxAttempts counts the first try; 0 or 1 means no retry.
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter adds up to this fraction of each backoff at random.
	Jitter float64
	// RetryTimeout bounds all attempts together.
	RetryTimeout time.Duration
}

// DefaultRetryConfig is used when a nil config is passed.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryTimeout:      5 * time.Second,
	}
}

// LinkRetryConfig returns the retry configuration for opening a front-end
// over a bridge link.
func LinkRetryConfig() *RetryConfig {
	return &RetryConfig{
		Op:                "open link",
		MaxAttempts:       DefaultLinkRetries,
		InitialBackoff:    LinkInitialBackoff,
		MaxBackoff:        LinkMaxBackoff,
		BackoffMultiplier: LinkBackoffMultiplier,
		Jitter:            LinkJitter,
		RetryTimeout:      LinkRetryTimeout,
	}
}

// RetryableFunc is one attempt of a retried operation.
type RetryableFunc func() error

// RetryWithConfig runs fn until it succeeds, fails with an error the
// config does not retry, runs out of attempts or ctx ends. The last
// attempt's error is returned.
func RetryWithConfig(ctx context.Context, config *RetryConfig, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts <= 1 {
		return fn()
	}
	if config.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.RetryTimeout)
		defer cancel()
	}

	retryable := config.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	op := config.Op
	if op == "" {
		op = "operation"
	}
	bo := newBackoff(config)

	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}

		err := fn()
		if err == nil || !retryable(err) {
			return err
		}
		lastErr = err
		if attempt == config.MaxAttempts {
			return lastErr
		}

		wait := bo.wait()
		Debugf("%s: attempt %d/%d failed, retrying in %v: %v", op, attempt, config.MaxAttempts, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
}

// RetryValue is RetryWithConfig for functions that produce a value.
func RetryValue[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := RetryWithConfig(ctx, config, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// backoff yields exponentially growing, capped, jittered waits.
type backoff struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter float64
}

func newBackoff(c *RetryConfig) *backoff {
	return &backoff{next: c.InitialBackoff, max: c.MaxBackoff, mult: c.BackoffMultiplier, jitter: c.Jitter}
}

func (b *backoff) wait() time.Duration {
	d := b.next
	if b.jitter > 0 {
		d += time.Duration(randFraction() * b.jitter * float64(b.next))
	}
	if grown := time.Duration(float64(b.next) * b.mult); grown > b.max {
		b.next = b.max
	} else {
		b.next = grown
	}
	return d
}

// randFraction returns a uniform value in [0, 1) from crypto/rand, or 0
// when the system source fails.
func randFraction() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53)
}
