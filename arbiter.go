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
	"fmt"
	"sync"
	"time"
)

// hardware maps each HAL to a one-slot semaphore. Only one session may own
// a front-end at a time.
var hardware sync.Map

// hardwareGuard is held by the session that owns a front-end. Release is
// safe to call more than once.
type hardwareGuard struct {
	slot chan struct{}
	once sync.Once
}

func (g *hardwareGuard) Release() {
	g.once.Do(func() {
		<-g.slot
	})
}

// acquireHardware claims h, waiting at most timeout. It fails with ErrBusy
// while another session holds it.
func acquireHardware(h HAL, timeout time.Duration) (*hardwareGuard, error) {
	v, _ := hardware.LoadOrStore(h, make(chan struct{}, 1))
	slot, ok := v.(chan struct{})
	if !ok {
		return nil, fmt.Errorf("hardware slot has unexpected type %T", v)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return &hardwareGuard{slot: slot}, nil
	case <-timer.C:
		return nil, ErrBusy
	}
}
