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

// Package dictattack recovers MIFARE Classic sector keys by trying the
// keys of a user dictionary, then of the system dictionary, and reads
// every sector the recovered keys open.
package dictattack

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/dict"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
)

// ErrNoDictionary is returned when neither dictionary has keys.
var ErrNoDictionary = errors.New("no dictionary to attack with")

// State is where the attack is.
type State int

const (
	StateIdle State = iota
	StateUserDictionaryInProgress
	StateSystemDictionaryInProgress
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateUserDictionaryInProgress:
		return "UserDictionaryInProgress"
	case StateSystemDictionaryInProgress:
		return "SystemDictionaryInProgress"
	case StateComplete:
		return "Complete"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome summarises how the attack ended.
type Outcome int

const (
	// OutcomeComplete means every key was found and every sector read.
	OutcomeComplete Outcome = iota
	// OutcomePartial means the dictionaries ran out or were skipped with
	// part of the card unknown.
	OutcomePartial
	// OutcomeFailed means the card could not be attacked at all.
	OutcomeFailed
	// OutcomeCanceled means the context ended the attack.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is what the attack learned about the card.
type Result struct {
	Data         *mfclassic.Data
	SectorsRead  int
	KeysFound    int
	SectorsTotal int
	Outcome      Outcome
}

// Option configures an Attack.
type Option func(*Attack)

// WithProgress sets the progress sink.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Attack) {
		a.progress = fn
	}
}

// WithUserDictionary sets the dictionary tried first. An empty one is
// skipped.
func WithUserDictionary(d *dict.Dictionary) Option {
	return func(a *Attack) {
		a.user = d
	}
}

// WithSystemDictionary replaces the built-in system dictionary.
func WithSystemDictionary(d *dict.Dictionary) Option {
	return func(a *Attack) {
		a.system = d
	}
}

// WithSeed resumes from a previous read of the same card: its keys are
// never tried again and its sectors are not read again.
func WithSeed(d *mfclassic.Data) Option {
	return func(a *Attack) {
		a.seed = d
	}
}

// Attack runs the dictionary attack on one session.
type Attack struct {
	session  *nfc.Nfc
	user     *dict.Dictionary
	system   *dict.Dictionary
	seed     *mfclassic.Data
	progress ProgressFunc
	skip     chan struct{}
	mu       syncutil.Mutex
	state    State
}

// New returns an attack on session n. Without WithSystemDictionary the
// built-in dictionary is used.
func New(n *nfc.Nfc, opts ...Option) *Attack {
	a := &Attack{
		session: n,
		skip:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.system == nil {
		a.system = dict.System()
	}
	return a
}

// State returns the current state. Safe to call from any goroutine.
func (a *Attack) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attack) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Skip ends the current dictionary. During the user dictionary the
// attack moves on to the system dictionary; during the system
// dictionary Run returns with what was found so far.
func (a *Attack) Skip() {
	select {
	case a.skip <- struct{}{}:
	default:
	}
}

// Run attacks the card in the field until both dictionaries are done,
// the card is fully read, Skip ends the last dictionary, or ctx is done.
// A canceled attack still returns the partial result with ctx's error.
func (a *Attack) Run(ctx context.Context) (*Result, error) {
	dictionaries := make([]*dict.Dictionary, 0, 2)
	states := make([]State, 0, 2)
	if a.user != nil && a.user.Total() > 0 {
		dictionaries = append(dictionaries, a.user)
		states = append(states, StateUserDictionaryInProgress)
	}
	if a.system != nil && a.system.Total() > 0 {
		dictionaries = append(dictionaries, a.system)
		states = append(states, StateSystemDictionaryInProgress)
	}
	if len(dictionaries) == 0 {
		return nil, ErrNoDictionary
	}
	defer a.setState(StateComplete)

	seed := a.seed
	var last *pass
	for i, d := range dictionaries {
		if i > 0 {
			a.report(last, Progress{Type: EventDictionarySwitched, Dictionary: d.Name()})
		}
		a.setState(states[i])
		d.Rewind()
		ps := &pass{dict: d, state: states[i], seed: seed}
		if ps.seed != nil {
			ps.sectorsTotal = ps.seed.Type.Sectors()
		}
		err := a.runPass(ctx, ps)
		if ps.data != nil {
			seed = ps.data
		} else if last != nil {
			ps.data = last.data
		}
		last = ps
		switch {
		case err != nil:
			outcome := OutcomeFailed
			if ctx.Err() != nil {
				outcome = OutcomeCanceled
			}
			return a.result(ps, outcome), err
		case ps.err != nil:
			a.report(ps, Progress{Type: EventReadFailed, Err: ps.err})
			return a.result(ps, OutcomeFailed), ps.err
		}
		if ps.data != nil && ps.data.IsCardRead() {
			break
		}
	}

	res := a.result(last, OutcomePartial)
	if res.Data != nil && res.Data.IsCardRead() {
		res.Outcome = OutcomeComplete
	}
	a.report(last, Progress{Type: EventReadComplete})
	return res, nil
}

func (a *Attack) result(ps *pass, outcome Outcome) *Result {
	res := &Result{Outcome: outcome, Data: ps.data}
	if ps.data != nil {
		res.SectorsRead, res.KeysFound = ps.data.SectorsReadAndKeysFound()
		res.SectorsTotal = ps.data.Type.Sectors()
	}
	return res
}

// runPass runs one dictionary until the poller finishes, the user skips
// or ctx is done.
func (a *Attack) runPass(ctx context.Context, ps *pass) error {
	poller, err := protocol.NewPoller(a.session, protocol.MfClassic)
	if err != nil {
		return fmt.Errorf("dictionary attack: %w", err)
	}
	defer poller.Free()

	// a skip left over from the previous dictionary
	select {
	case <-a.skip:
	default:
	}
	if err := poller.Start(func(ev protocol.Event) nfc.Command {
		return a.handle(ps, ev)
	}); err != nil {
		return fmt.Errorf("dictionary attack: %w", err)
	}

	done := make(chan struct{})
	go func() {
		poller.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-a.skip:
		nfc.Debugf("dictattack: %s skipped", ps.dict.Name())
		poller.Stop()
		<-done
	case <-ctx.Done():
		poller.Stop()
		<-done
	}
	ctxErr := ctx.Err()

	if ps.data == nil {
		if inst, ok := poller.Instance(protocol.MfClassic); ok {
			if card := inst.(*mfclassic.Poller).Card(); card != nil {
				ps.data = card.Clone()
			}
		}
	}
	return ctxErr
}
