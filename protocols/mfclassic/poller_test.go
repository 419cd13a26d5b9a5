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

package mfclassic_test

import (
	"testing"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/hal/sim"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var transportKey = mfclassic.KeyFromUint64(0xFFFFFFFFFFFF)

func newSession(t *testing.T, hal nfc.HAL) *nfc.Nfc {
	t.Helper()
	n, err := nfc.New(hal)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Close()
	})
	return n
}

func newImage(t *testing.T, typ mfclassic.Type) *mfclassic.Data {
	t.Helper()
	card, err := iso3a.NewData([]byte{0xC0, 0xFF, 0xEE, 0x11}, [2]byte{0x04, 0x00}, typ.SAK())
	require.NoError(t, err)
	return mfclassic.NewTransportImage(card, typ)
}

// emulate starts a listener chain for img and returns the tag side of the
// simulated link.
func emulate(t *testing.T, img *mfclassic.Data, cb protocol.Callback) (*sim.Listener, *protocol.Listener) {
	t.Helper()
	link := sim.NewListener()
	listener, err := protocol.NewListener(newSession(t, link), protocol.MfClassic, img)
	require.NoError(t, err)
	t.Cleanup(listener.Free)
	require.NoError(t, listener.Start(cb))
	return link, listener
}

// runPoller runs a MIFARE Classic poller chain until fn returns Stop.
func runPoller(t *testing.T, hal nfc.HAL, fn func(*mfclassic.Poller, mfclassic.PollerEvent) nfc.Command) {
	t.Helper()
	poller, err := protocol.NewPoller(newSession(t, hal), protocol.MfClassic)
	require.NoError(t, err)
	t.Cleanup(poller.Free)

	require.NoError(t, poller.Start(func(ev protocol.Event) nfc.Command {
		return fn(ev.Instance.(*mfclassic.Poller), ev.Data.(mfclassic.PollerEvent))
	}))
	done := make(chan struct{})
	go func() {
		poller.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// onDetected runs fn once the card is detected and stops the poller.
func onDetected(t *testing.T, link *sim.Listener, fn func(*mfclassic.Poller)) {
	t.Helper()
	runPoller(t, sim.NewPoller(link), func(p *mfclassic.Poller, ev mfclassic.PollerEvent) nfc.Command {
		if ev.Type != mfclassic.PollerEventCardDetected {
			return nfc.CommandContinue
		}
		fn(p)
		return nfc.CommandStop
	})
}

func TestAuthReadWrite(t *testing.T) {
	t.Parallel()

	var written []mfclassic.ListenerEvent
	link, listener := emulate(t, newImage(t, mfclassic.Type1K), func(ev protocol.Event) nfc.Command {
		if lev, ok := ev.Data.(mfclassic.ListenerEvent); ok && lev.Type == mfclassic.ListenerEventBlockWritten {
			written = append(written, lev)
		}
		return nfc.CommandContinue
	})

	payload := mfclassic.Block{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}
	var authErr, writeErr, readErr, haltErr error
	var before, after mfclassic.Block
	onDetected(t, link, func(p *mfclassic.Poller) {
		if _, authErr = p.Auth(4, transportKey, mfclassic.KeyTypeA); authErr != nil {
			return
		}
		before, readErr = p.ReadBlock(5)
		if readErr != nil {
			return
		}
		writeErr = p.WriteBlock(5, payload)
		after, readErr = p.ReadBlock(5)
		haltErr = p.Halt()
	})
	listener.Stop()

	require.NoError(t, authErr)
	require.NoError(t, readErr)
	require.NoError(t, writeErr)
	require.NoError(t, haltErr)
	assert.Equal(t, mfclassic.Block{}, before)
	assert.Equal(t, payload, after)

	img := listener.Data().(*mfclassic.Data)
	assert.Equal(t, payload, img.Blocks[5])
	require.Len(t, written, 1)
	assert.Equal(t, 5, written[0].Block)
}

func TestAuthContextVerifies(t *testing.T) {
	t.Parallel()

	link, listener := emulate(t, newImage(t, mfclassic.TypeMini), nil)

	var ctx mfclassic.AuthContext
	var err error
	onDetected(t, link, func(p *mfclassic.Poller) {
		ctx, err = p.Auth(8, transportKey, mfclassic.KeyTypeB)
		_ = p.Halt()
	})
	listener.Stop()

	require.NoError(t, err)
	assert.Equal(t, 8, ctx.Block)
	assert.Equal(t, mfclassic.KeyTypeB, ctx.KeyType)
	assert.NotEqual(t, [4]byte{}, ctx.AT)
}

func TestWrongKeyIsRejected(t *testing.T) {
	t.Parallel()

	link, listener := emulate(t, newImage(t, mfclassic.Type1K), nil)

	var wrongErr, rightErr, readErr error
	onDetected(t, link, func(p *mfclassic.Poller) {
		_, wrongErr = p.Auth(0, mfclassic.KeyFromUint64(0xA0A1A2A3A4A5), mfclassic.KeyTypeA)
		// no HLTA after the failure, so REQA reaches the card again
		_, rightErr = p.Auth(0, transportKey, mfclassic.KeyTypeA)
		_, readErr = p.ReadBlock(0)
		_ = p.Halt()
	})
	listener.Stop()

	require.ErrorIs(t, wrongErr, mfclassic.ErrAuthFailed)
	require.ErrorIs(t, wrongErr, nfc.ErrAuthFailed)
	require.NoError(t, rightErr)
	require.NoError(t, readErr)
}

func TestNestedAuth(t *testing.T) {
	t.Parallel()

	img := newImage(t, mfclassic.Type1K)
	keyB := mfclassic.KeyFromUint64(0xB0B1B2B3B4B5)
	img.SetKey(2, mfclassic.KeyTypeB, keyB)
	img.Blocks[8] = mfclassic.Block{0xCA, 0xFE}
	link, listener := emulate(t, img, nil)

	var firstErr, nestedErr, readErr, crossErr error
	var block mfclassic.Block
	onDetected(t, link, func(p *mfclassic.Poller) {
		_, firstErr = p.Auth(4, transportKey, mfclassic.KeyTypeA)
		_, nestedErr = p.Auth(8, keyB, mfclassic.KeyTypeB)
		block, readErr = p.ReadBlock(8)
		// block 4 belongs to the sector of the previous session
		_, crossErr = p.ReadBlock(4)
		_ = p.Halt()
	})
	listener.Stop()

	require.NoError(t, firstErr)
	require.NoError(t, nestedErr)
	require.NoError(t, readErr)
	assert.Equal(t, mfclassic.Block{0xCA, 0xFE}, block)
	require.ErrorIs(t, crossErr, mfclassic.ErrNack)
}

func TestTrailerReadHidesKeys(t *testing.T) {
	t.Parallel()

	link, listener := emulate(t, newImage(t, mfclassic.Type1K), nil)

	var trailer mfclassic.Block
	var err error
	onDetected(t, link, func(p *mfclassic.Poller) {
		if _, err = p.Auth(7, transportKey, mfclassic.KeyTypeA); err != nil {
			return
		}
		trailer, err = p.ReadBlock(7)
		_ = p.Halt()
	})
	listener.Stop()

	require.NoError(t, err)
	want := mfclassic.Block{
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0xFF, 0x07, 0x80, 0x69,
		0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	}
	assert.Equal(t, want, trailer)
}

func TestReadDeniedByAccessBits(t *testing.T) {
	t.Parallel()

	img := newImage(t, mfclassic.Type1K)
	bits := mfclassic.NewAccessBits([4]byte{3, 0, 0, 1})
	copy(img.Blocks[7][6:9], bits[:])
	link, listener := emulate(t, img, nil)

	var denied, allowed error
	onDetected(t, link, func(p *mfclassic.Poller) {
		if _, err := p.Auth(4, transportKey, mfclassic.KeyTypeA); err != nil {
			denied = err
			return
		}
		_, denied = p.ReadBlock(4)
		if _, err := p.Auth(4, transportKey, mfclassic.KeyTypeB); err != nil {
			allowed = err
			return
		}
		_, allowed = p.ReadBlock(4)
		_ = p.Halt()
	})
	listener.Stop()

	require.ErrorIs(t, denied, mfclassic.ErrNack)
	require.NoError(t, allowed)
}

func TestReadSector(t *testing.T) {
	t.Parallel()

	img := newImage(t, mfclassic.Type1K)
	img.Blocks[12] = mfclassic.Block{0x42}
	link, listener := emulate(t, img, nil)

	var read int
	var err error
	var card *mfclassic.Data
	onDetected(t, link, func(p *mfclassic.Poller) {
		read, err = p.ReadSector(3, transportKey, mfclassic.KeyTypeA)
		_ = p.Halt()
		card = p.Card()
	})
	listener.Stop()

	require.NoError(t, err)
	assert.Equal(t, 4, read)
	assert.True(t, card.IsSectorRead(3))
	assert.Equal(t, mfclassic.Block{0x42}, card.Blocks[12])
}

func TestInvalidBlock(t *testing.T) {
	t.Parallel()

	link, listener := emulate(t, newImage(t, mfclassic.TypeMini), nil)

	var authErr, readErr error
	onDetected(t, link, func(p *mfclassic.Poller) {
		_, authErr = p.Auth(20, transportKey, mfclassic.KeyTypeA)
		_, readErr = p.ReadBlock(0)
		_ = p.Halt()
	})
	listener.Stop()

	require.ErrorIs(t, authErr, mfclassic.ErrInvalidBlock)
	require.ErrorIs(t, readErr, mfclassic.ErrNotAuthenticated)
}
