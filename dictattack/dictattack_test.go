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

package dictattack_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/dict"
	"github.com/ZaparooProject/go-nfc/dictattack"
	"github.com/ZaparooProject/go-nfc/hal/sim"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	transportKey = mfclassic.KeyFromUint64(0xFFFFFFFFFFFF)
	secretKey    = mfclassic.KeyFromUint64(0x4D3A99C351DD)
	wrongKeys    = []mfclassic.Key{
		mfclassic.KeyFromUint64(0x000000000000),
		mfclassic.KeyFromUint64(0xA0A1A2A3A4A5),
	}
)

func newSession(t *testing.T, hal nfc.HAL) *nfc.Nfc {
	t.Helper()
	n, err := nfc.New(hal)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Close()
	})
	return n
}

// emulate puts a MIFARE Mini whose sectors all use key in the field of
// a new poller session.
func emulate(t *testing.T, key mfclassic.Key) *nfc.Nfc {
	t.Helper()
	card, err := iso3a.NewData([]byte{0x5A, 0x11, 0x22, 0x33}, [2]byte{0x04, 0x00}, mfclassic.TypeMini.SAK())
	require.NoError(t, err)
	img := mfclassic.NewTransportImage(card, mfclassic.TypeMini)
	for s := range mfclassic.TypeMini.Sectors() {
		img.SetKey(s, mfclassic.KeyTypeA, key)
		img.SetKey(s, mfclassic.KeyTypeB, key)
	}

	link := sim.NewListener()
	listener, err := protocol.NewListener(newSession(t, link), protocol.MfClassic, img)
	require.NoError(t, err)
	t.Cleanup(listener.Free)
	require.NoError(t, listener.Start(nil))
	return newSession(t, sim.NewPoller(link))
}

type recorder struct {
	events []dictattack.Progress
}

func (r *recorder) record(p dictattack.Progress) {
	r.events = append(r.events, p)
}

func (r *recorder) count(t dictattack.EventType) int {
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestUserDictionaryReadsCard(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	a := dictattack.New(emulate(t, secretKey),
		dictattack.WithUserDictionary(dict.FromKeys("user", append(wrongKeys, secretKey)...)),
		dictattack.WithSystemDictionary(dict.FromKeys("system", transportKey)),
		dictattack.WithProgress(r.record),
	)
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dictattack.OutcomeComplete, res.Outcome)
	assert.Equal(t, 5, res.SectorsTotal)
	assert.Equal(t, 5, res.SectorsRead)
	assert.Equal(t, 10, res.KeysFound)
	assert.True(t, res.Data.IsCardRead())
	assert.Equal(t, dictattack.StateComplete, a.State())
	assert.Zero(t, r.count(dictattack.EventDictionarySwitched))
	assert.Equal(t, 1, r.count(dictattack.EventReadComplete))
	assert.Positive(t, r.count(dictattack.EventKeyFound))
	// one key reuse sweep per key type found in sector 0
	assert.Equal(t, 2, r.count(dictattack.EventKeyAttackStart))
}

func TestKeyAtPositionCostsPositionPlusOne(t *testing.T) {
	t.Parallel()

	for _, pos := range []int{0, 1, 2, 5} {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			t.Parallel()

			keys := make([]mfclassic.Key, 0, pos+1)
			for i := range pos {
				keys = append(keys, mfclassic.KeyFromUint64(uint64(0x100+i)))
			}
			keys = append(keys, secretKey)

			r := &recorder{}
			a := dictattack.New(emulate(t, secretKey),
				dictattack.WithUserDictionary(dict.FromKeys("user", keys...)),
				dictattack.WithProgress(r.record),
			)
			res, err := a.Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, dictattack.OutcomeComplete, res.Outcome)

			var found *dictattack.Progress
			for i := range r.events {
				if r.events[i].Type == dictattack.EventKeyFound {
					found = &r.events[i]
					break
				}
			}
			require.NotNil(t, found)
			assert.Equal(t, 0, found.Sector)
			assert.Equal(t, mfclassic.KeyTypeA, found.KeyType)
			assert.Equal(t, secretKey, found.Key)
			assert.Equal(t, pos+1, found.KeysTried)
		})
	}
}

func TestSwitchesToSystemDictionary(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	a := dictattack.New(emulate(t, secretKey),
		dictattack.WithUserDictionary(dict.FromKeys("user", wrongKeys...)),
		dictattack.WithSystemDictionary(dict.FromKeys("system", transportKey, secretKey)),
		dictattack.WithProgress(r.record),
	)
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dictattack.OutcomeComplete, res.Outcome)
	require.Equal(t, 1, r.count(dictattack.EventDictionarySwitched))

	var states []dictattack.State
	for _, ev := range r.events {
		if ev.Type == dictattack.EventKeyFound {
			states = append(states, ev.State)
			assert.Equal(t, "system", ev.Dictionary)
		}
	}
	require.NotEmpty(t, states)
	assert.Equal(t, dictattack.StateSystemDictionaryInProgress, states[0])
}

func TestNoKeyMatches(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	a := dictattack.New(emulate(t, secretKey),
		dictattack.WithSystemDictionary(dict.FromKeys("system", wrongKeys...)),
		dictattack.WithProgress(r.record),
	)
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dictattack.OutcomePartial, res.Outcome)
	assert.Zero(t, res.SectorsRead)
	assert.Zero(t, res.KeysFound)
	assert.Equal(t, 4, r.count(dictattack.EventSectorAdvanced))
	for _, ev := range r.events {
		assert.LessOrEqual(t, ev.KeysTried, len(wrongKeys))
	}
}

func TestSeedSkipsKnownKeys(t *testing.T) {
	t.Parallel()

	card, err := iso3a.NewData([]byte{0x5A, 0x11, 0x22, 0x33}, [2]byte{0x04, 0x00}, mfclassic.TypeMini.SAK())
	require.NoError(t, err)
	seed := mfclassic.NewData(card, mfclassic.TypeMini)
	for s := range mfclassic.TypeMini.Sectors() {
		seed.SetKey(s, mfclassic.KeyTypeA, secretKey)
		seed.SetKey(s, mfclassic.KeyTypeB, secretKey)
	}

	r := &recorder{}
	a := dictattack.New(emulate(t, secretKey),
		dictattack.WithSystemDictionary(dict.FromKeys("system", wrongKeys...)),
		dictattack.WithSeed(seed),
		dictattack.WithProgress(r.record),
	)
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dictattack.OutcomeComplete, res.Outcome)
	for _, ev := range r.events {
		assert.Zero(t, ev.KeysTried, ev.Type.String())
	}
}

func TestSkipMovesToSystemDictionary(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	var a *dictattack.Attack
	a = dictattack.New(emulate(t, transportKey),
		dictattack.WithUserDictionary(dict.FromKeys("user", wrongKeys...)),
		dictattack.WithSystemDictionary(dict.FromKeys("system", transportKey)),
		dictattack.WithProgress(func(p dictattack.Progress) {
			r.record(p)
			if p.Type == dictattack.EventCardDetected && p.State == dictattack.StateUserDictionaryInProgress {
				a.Skip()
			}
		}),
	)
	res, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dictattack.OutcomeComplete, res.Outcome)
	assert.Equal(t, 1, r.count(dictattack.EventDictionarySwitched))
}

func TestCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := dictattack.New(emulate(t, secretKey),
		dictattack.WithSystemDictionary(dict.FromKeys("system", wrongKeys...)),
		dictattack.WithProgress(func(p dictattack.Progress) {
			if p.Type == dictattack.EventCardDetected {
				cancel()
			}
		}),
	)
	res, err := a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, dictattack.OutcomeCanceled, res.Outcome)
}

func TestNoDictionary(t *testing.T) {
	t.Parallel()

	a := dictattack.New(emulate(t, transportKey), dictattack.WithSystemDictionary(dict.FromKeys("empty")))
	_, err := a.Run(context.Background())
	require.ErrorIs(t, err, dictattack.ErrNoDictionary)
}
