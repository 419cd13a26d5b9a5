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

// Package scanner watches the field for ISO14443-3A cards, probes which
// protocols a new card speaks and reports arrival, change and removal.
package scanner

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/internal/syncutil"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	// ErrNoCard is returned by Scan when the field is empty.
	ErrNoCard = errors.New("no card in field")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("scanner closed")
)

// Card is a card seen by the scanner.
type Card struct {
	DetectedAt time.Time
	Iso3a      *iso3a.Data
	Protocols  []protocol.Protocol
	// ID is fresh for every arrival, so the same card presented twice
	// gets two ids.
	ID uuid.UUID
}

// UID returns the card UID.
func (c *Card) UID() []byte { return c.Iso3a.UIDBytes }

// UIDHex returns the card UID as upper-case hex.
func (c *Card) UIDHex() string {
	return fmt.Sprintf("%X", c.Iso3a.UIDBytes)
}

// Supports reports whether the card answered the probe for p.
func (c *Card) Supports(p protocol.Protocol) bool {
	return lo.Contains(c.Protocols, p)
}

func (c *Card) String() string {
	names := lo.Map(c.Protocols, func(p protocol.Protocol, _ int) string { return p.String() })
	return fmt.Sprintf("%s %v", hex.EncodeToString(c.Iso3a.UIDBytes), names)
}

// Scanner polls a session for cards.
type Scanner struct {
	session        *nfc.Nfc
	config         *Config
	onCardDetected func(*Card) error
	onCardChanged  func(*Card) error
	onCardRemoved  func(*Card)
	state          CardState
	mu             syncutil.RWMutex
	closed         atomic.Bool
}

// New returns a scanner for session n. A nil config means DefaultConfig.
func New(n *nfc.Nfc, config *Config) *Scanner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scanner{session: n, config: config}
}

// SetOnCardDetected sets the callback for a card arriving in an empty
// field.
func (s *Scanner) SetOnCardDetected(cb func(*Card) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCardDetected = cb
}

// SetOnCardChanged sets the callback for a different card replacing the
// current one between two polls.
func (s *Scanner) SetOnCardChanged(cb func(*Card) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCardChanged = cb
}

// SetOnCardRemoved sets the callback for the card leaving the field.
func (s *Scanner) SetOnCardRemoved(cb func(*Card)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCardRemoved = cb
}

// State returns a copy of the tracking state.
func (s *Scanner) State() CardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Scan activates the card in the field once and probes its protocols.
func (s *Scanner) Scan() (*Card, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	data, err := s.activate()
	if err != nil {
		return nil, err
	}
	return s.probe(data), nil
}

// activate runs an ISO14443-3A poller until its first event.
func (s *Scanner) activate() (*iso3a.Data, error) {
	poller, err := protocol.NewPoller(s.session, protocol.Iso14443_3a)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	defer poller.Free()

	var data *iso3a.Data
	var activateErr error
	err = poller.Start(func(ev protocol.Event) nfc.Command {
		iev, ok := ev.Data.(iso3a.PollerEvent)
		if !ok {
			return nfc.CommandContinue
		}
		inst := ev.Instance.(*iso3a.Poller)
		if iev.Type == iso3a.PollerEventReady {
			data = inst.Card().Clone()
			if err := inst.Halt(); err != nil {
				nfc.Debugf("scanner: halt: %v", err)
			}
		} else {
			activateErr = iev.Err
		}
		return nfc.CommandStop
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	poller.Wait()

	if data == nil {
		if activateErr == nil || errors.Is(activateErr, iso3a.ErrNotPresent) || errors.Is(activateErr, iso3a.ErrTimeout) {
			return nil, ErrNoCard
		}
		return nil, fmt.Errorf("scan: %w", activateErr)
	}
	return data, nil
}

func (s *Scanner) probe(data *iso3a.Data) *Card {
	supported := lo.Filter(s.config.Protocols, func(p protocol.Protocol, _ int) bool {
		ok, err := protocol.Detect(s.session, p)
		if err != nil {
			nfc.Debugf("scanner: detect %v: %v", p, err)
		}
		return ok
	})
	return &Card{
		ID:         uuid.New(),
		Iso3a:      data,
		Protocols:  append([]protocol.Protocol{protocol.Iso14443_3a}, supported...),
		DetectedAt: time.Now(),
	}
}

// Start polls every PollInterval until ctx is done or a callback fails.
func (s *Scanner) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		if s.closed.Load() {
			return ErrClosed
		}
		if err := s.cycle(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle is one poll. An empty field is left to the removal timer.
func (s *Scanner) cycle() error {
	data, err := s.activate()
	if err != nil {
		if !errors.Is(err, ErrNoCard) {
			nfc.Debugf("scanner: %v", err)
		}
		return nil
	}

	s.mu.Lock()
	current := s.state.Card
	same := current != nil && bytes.Equal(current.Iso3a.UIDBytes, data.UIDBytes)
	if same {
		s.state.toPresent(s.config.CardRemovalTimeout, s.handleRemoval)
		s.mu.Unlock()
		return nil
	}
	s.state.toProbing()
	s.mu.Unlock()

	card := s.probe(data)
	nfc.Debugf("scanner: card %v", card)

	s.mu.Lock()
	s.state.Card = card
	cb := s.onCardDetected
	if current != nil {
		cb = s.onCardChanged
	}
	s.mu.Unlock()

	var cbErr error
	if cb != nil {
		cbErr = safeCall(cb, card)
	}

	s.mu.Lock()
	s.state.toPresent(s.config.CardRemovalTimeout, s.handleRemoval)
	s.mu.Unlock()
	if cbErr != nil {
		return fmt.Errorf("card callback: %w", cbErr)
	}
	return nil
}

func safeCall(cb func(*Card) error, card *Card) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(card)
}

func (s *Scanner) handleRemoval() {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	// a stale timer racing a poll that is probing the next card
	if s.state.DetectionState == StateProbing {
		s.mu.Unlock()
		return
	}
	card := s.state.Card
	s.state.toIdle()
	onRemoved := s.onCardRemoved
	s.mu.Unlock()

	if card != nil && onRemoved != nil {
		onRemoved(card)
	}
}

// Close stops the removal timer; Start returns at its next poll.
func (s *Scanner) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stopTimer(s.state.RemovalTimer)
	s.state.RemovalTimer = nil
	return nil
}
