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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryConfigs(t *testing.T) {
	t.Parallel()

	for _, cfg := range []*RetryConfig{DefaultRetryConfig(), LinkRetryConfig()} {
		assert.Positive(t, cfg.MaxAttempts)
		assert.Greater(t, cfg.MaxBackoff, cfg.InitialBackoff)
		assert.Greater(t, cfg.BackoffMultiplier, 1.0)
		assert.GreaterOrEqual(t, cfg.Jitter, 0.0)
		assert.LessOrEqual(t, cfg.Jitter, 1.0)
		assert.Positive(t, cfg.RetryTimeout)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  RetryConfig
		want []time.Duration
	}{
		{
			name: "doubles then caps",
			cfg:  RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond, BackoffMultiplier: 2},
			want: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond},
		},
		{
			name: "fractional",
			cfg:  RetryConfig{InitialBackoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second, BackoffMultiplier: 1.5},
			want: []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 450 * time.Millisecond},
		},
		{
			name: "constant",
			cfg:  RetryConfig{InitialBackoff: 5 * time.Millisecond, MaxBackoff: 5 * time.Millisecond, BackoffMultiplier: 1},
			want: []time.Duration{5 * time.Millisecond, 5 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			bo := newBackoff(&tt.cfg)
			for i, want := range tt.want {
				assert.Equal(t, want, bo.wait(), "wait %d", i)
			}
		})
	}
}

func TestBackoffJitter(t *testing.T) {
	t.Parallel()

	base := 100 * time.Millisecond
	for range 50 {
		bo := newBackoff(&RetryConfig{InitialBackoff: base, MaxBackoff: base, BackoffMultiplier: 1, Jitter: 0.5})
		d := bo.wait()
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+base/2+time.Millisecond)
	}
}

func TestRandFraction(t *testing.T) {
	t.Parallel()

	var sum float64
	for range 1000 {
		f := randFraction()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)
		sum += f
	}
	assert.InDelta(t, 0.5, sum/1000, 0.1)
}

func TestRetryWithConfig(t *testing.T) {
	t.Parallel()

	fast := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	permanent := errors.New("permanent")

	tests := []struct {
		name      string
		config    *RetryConfig
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{name: "first try", config: fast, errs: []error{nil}, wantCalls: 1},
		{name: "transient then ok", config: fast, errs: []error{ErrTimeout, ErrCommunication, nil}, wantCalls: 3},
		{name: "exhausted", config: fast, errs: []error{ErrTimeout, ErrTimeout, ErrTimeout}, wantErr: ErrTimeout, wantCalls: 3},
		{name: "not retryable", config: fast, errs: []error{permanent}, wantErr: permanent, wantCalls: 1},
		{name: "no retry config", config: &RetryConfig{}, errs: []error{ErrTimeout}, wantErr: ErrTimeout, wantCalls: 1},
		{name: "single attempt", config: &RetryConfig{MaxAttempts: 1}, errs: []error{ErrTimeout}, wantErr: ErrTimeout, wantCalls: 1},
		{
			name: "custom predicate",
			config: &RetryConfig{
				MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1,
				Retryable: func(err error) bool { return errors.Is(err, permanent) },
			},
			errs:      []error{permanent, nil},
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithConfig(context.Background(), tt.config, func() error {
				e := tt.errs[calls]
				calls++
				return e
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestRetryValue(t *testing.T) {
	t.Parallel()

	calls := 0
	v, err := RetryValue(context.Background(), &RetryConfig{
		MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1,
	}, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, ErrBusy
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, calls)
}

func TestRetryWithConfigContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryWithConfig(ctx, &RetryConfig{
		Op: "probe", MaxAttempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second, BackoffMultiplier: 1,
	}, func() error {
		calls++
		return ErrTimeout
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "probe")
	assert.Zero(t, calls)
}

func TestRetryWithConfigTimeoutReturnsLastError(t *testing.T) {
	t.Parallel()

	err := RetryWithConfig(context.Background(), &RetryConfig{
		MaxAttempts: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 50 * time.Millisecond,
		BackoffMultiplier: 1, RetryTimeout: 20 * time.Millisecond,
	}, func() error { return ErrCommunication })
	require.ErrorIs(t, err, ErrCommunication)
}
