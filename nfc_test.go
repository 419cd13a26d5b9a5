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

package nfc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/hal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFwt = 10000

var testUID = []byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}

func newSession(t *testing.T, hal nfc.HAL, opts ...nfc.Option) *nfc.Nfc {
	t.Helper()
	n, err := nfc.New(hal, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = n.Close()
	})
	return n
}

func waitOrFail(t *testing.T, n *nfc.Nfc) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit")
	}
}

func TestPollerLifecycle(t *testing.T) {
	t.Parallel()

	tag := sim.NewTag(testUID, [2]byte{0x44, 0x00}, 0x08, nil)
	hal := sim.NewPoller(tag)
	n := newSession(t, hal)

	var events []nfc.EventType
	var atqa *bitbuf.Buffer
	var trxErr error
	err := n.StartPoller(func(ev nfc.Event) nfc.Command {
		events = append(events, ev.Type)
		switch ev.Type {
		case nfc.EventConfigureRequest:
			if err := n.Config(nfc.ModeIso3aPoller); err != nil {
				return nfc.CommandStop
			}
		case nfc.EventPollerReady:
			atqa = bitbuf.New(2)
			trxErr = n.ShortFrame(nfc.ShortFrameAllReq, atqa, testFwt)
			return nfc.CommandStop
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)
	waitOrFail(t, n)

	require.NoError(t, trxErr)
	assert.Equal(t, []byte{0x44, 0x00}, atqa.Bytes())
	assert.Equal(t, []nfc.EventType{
		nfc.EventConfigureRequest, nfc.EventPollerReady, nfc.EventReset,
	}, events)
	assert.Equal(t, nfc.StateChipSleep, n.State())

	stats := hal.Stats()
	assert.Equal(t, 1, stats.FieldOnCount)
	assert.GreaterOrEqual(t, stats.Elapsed, 5*time.Millisecond, "guard time elapsed")
	assert.False(t, hal.FieldIsOn())
}

func TestPollerTimeoutAndBlockTx(t *testing.T) {
	t.Parallel()

	hal := sim.NewPoller(nil)
	n := newSession(t, hal)

	var errs []error
	var comm []nfc.CommState
	err := n.StartPoller(func(ev nfc.Event) nfc.Command {
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = n.Config(nfc.ModeIso3aPoller)
		case nfc.EventPollerReady:
			rx := bitbuf.New(2)
			for range 2 {
				errs = append(errs, n.ShortFrame(nfc.ShortFrameSensReq, rx, testFwt))
				comm = append(comm, n.CommState())
			}
			return nfc.CommandStop
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)
	waitOrFail(t, n)

	require.Len(t, errs, 2)
	for _, e := range errs {
		require.ErrorIs(t, e, nfc.ErrTimeout)
		require.NotNil(t, nfc.GetTrace(e))
	}
	assert.Equal(t, []nfc.CommState{nfc.CommStateWaitBlockTxTimer, nfc.CommStateWaitBlockTxTimer}, comm)
	assert.Equal(t, 2, hal.Stats().FwtExpired)
	assert.Len(t, hal.Sent(), 2)
}

func TestPollerResetCycle(t *testing.T) {
	t.Parallel()

	hal := sim.NewPoller(nil)
	n := newSession(t, hal)

	readies := 0
	resets := 0
	err := n.StartPoller(func(ev nfc.Event) nfc.Command {
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = n.Config(nfc.ModeIso3aPoller)
		case nfc.EventPollerReady:
			readies++
			if readies < 2 {
				return nfc.CommandReset
			}
			return nfc.CommandStop
		case nfc.EventReset:
			resets++
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)
	waitOrFail(t, n)

	assert.Equal(t, 2, readies)
	assert.Equal(t, 2, resets)
	assert.Equal(t, 2, hal.Stats().FieldOnCount, "field cycled by reset")
}

func TestStopInterruptsPoller(t *testing.T) {
	t.Parallel()

	hal := sim.NewPoller(nil)
	n := newSession(t, hal)

	started := make(chan struct{}, 1)
	var lastErr error
	err := n.StartPoller(func(ev nfc.Event) nfc.Command {
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = n.Config(nfc.ModeIso3aPoller)
		case nfc.EventPollerReady:
			select {
			case started <- struct{}{}:
			default:
			}
			lastErr = n.ShortFrame(nfc.ShortFrameSensReq, bitbuf.New(2), testFwt)
			time.Sleep(time.Millisecond)
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)

	<-started
	n.Stop()

	assert.Error(t, lastErr)
	assert.Equal(t, nfc.StateChipSleep, n.State())
	assert.False(t, hal.FieldIsOn())

	// the session is reusable after a stop
	err = n.StartPoller(func(ev nfc.Event) nfc.Command {
		if ev.Type == nfc.EventConfigureRequest {
			_ = n.Config(nfc.ModeIso3aPoller)
			return nfc.CommandContinue
		}
		return nfc.CommandStop
	})
	require.NoError(t, err)
	waitOrFail(t, n)
	assert.Equal(t, 2, hal.Stats().FieldOnCount)
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	n := newSession(t, sim.NewPoller(nil))
	release := make(chan struct{})
	err := n.StartPoller(func(nfc.Event) nfc.Command {
		<-release
		return nfc.CommandStop
	})
	require.NoError(t, err)

	err = n.StartPoller(func(nfc.Event) nfc.Command { return nfc.CommandStop })
	require.ErrorIs(t, err, nfc.ErrWrongState)

	close(release)
	waitOrFail(t, n)

	require.ErrorIs(t, n.StartListener(nil), nfc.ErrInvalidArgument)
}

func TestHardwareIsExclusive(t *testing.T) {
	t.Parallel()

	hal := sim.NewPoller(nil)
	first, err := nfc.New(hal)
	require.NoError(t, err)

	_, err = nfc.New(hal, nfc.WithAcquireTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, nfc.ErrBusy)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close(), "close is idempotent")
	require.ErrorIs(t, first.StartPoller(func(nfc.Event) nfc.Command { return nfc.CommandStop }), nfc.ErrClosed)

	second, err := nfc.New(hal)
	require.NoError(t, err)
	require.NoError(t, second.Close())

	_, err = nfc.New(nil)
	require.ErrorIs(t, err, nfc.ErrInvalidArgument)
}

func TestTrxOutsidePollerReady(t *testing.T) {
	t.Parallel()

	n := newSession(t, sim.NewPoller(nil))
	err := n.Trx(bitbuf.FromBytes([]byte{0x30, 0x00}), bitbuf.New(4), testFwt)
	require.ErrorIs(t, err, nfc.ErrWrongState)
	require.ErrorIs(t, n.ListenerTx(bitbuf.FromBytes([]byte{0x0A})), nfc.ErrWrongState)
	require.ErrorIs(t, n.SetColResData([]byte{1, 2, 3}, [2]byte{}, 0), nfc.ErrInvalidArgument)
	require.ErrorIs(t, n.Config(nfc.Mode(42)), nfc.ErrInvalidMode)
}

func TestTxFailureIsCommunicationError(t *testing.T) {
	t.Parallel()

	hal := sim.NewPoller(sim.NewTag(testUID[:4], [2]byte{0x04, 0x00}, 0x08, nil))
	hal.FailNextTx(errors.New("spi: bus fault"))
	n := newSession(t, hal)

	var trxErr error
	err := n.StartPoller(func(ev nfc.Event) nfc.Command {
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = n.Config(nfc.ModeIso3aPoller)
		case nfc.EventPollerReady:
			trxErr = n.ShortFrame(nfc.ShortFrameAllReq, bitbuf.New(2), testFwt)
			return nfc.CommandStop
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)
	waitOrFail(t, n)

	require.ErrorIs(t, trxErr, nfc.ErrCommunication)
	var he *nfc.HALError
	require.ErrorAs(t, trxErr, &he)
	assert.Equal(t, "short frame", he.Op)
	assert.True(t, nfc.IsRetryable(trxErr))
	assert.Equal(t, nfc.CommStateFailed, n.CommState())
}

// selectFrame builds a SEL command for one cascade level.
func selectFrame(sel byte, part []byte) *bitbuf.Buffer {
	bcc := part[0] ^ part[1] ^ part[2] ^ part[3]
	b := bitbuf.FromBytes(append([]byte{sel, 0x70}, append(part, bcc)...))
	bitbuf.AppendCRC(bitbuf.CRCA, b)
	return b
}

func TestPollerAgainstListenerSession(t *testing.T) {
	t.Parallel()

	uid := testUID[:4]
	link := sim.NewListener()
	listener := newSession(t, link)
	poller := newSession(t, sim.NewPoller(link))

	ready := make(chan struct{}, 1)
	var listenerEvents []nfc.EventType
	err := listener.StartListener(func(ev nfc.Event) nfc.Command {
		listenerEvents = append(listenerEvents, ev.Type)
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = listener.Config(nfc.ModeIso3aListener)
			_ = listener.SetColResData(uid, [2]byte{0x04, 0x00}, 0x08)
		case nfc.EventFieldOn:
			select {
			case ready <- struct{}{}:
			default:
			}
		case nfc.EventRxEnd:
			echo := bitbuf.New(ev.Buffer.SizeBytes())
			echo.Copy(ev.Buffer)
			_ = listener.ListenerTx(echo)
		default:
		}
		return nfc.CommandContinue
	})
	require.NoError(t, err)

	var steps []string
	var echoed *bitbuf.Buffer
	err = poller.StartPoller(func(ev nfc.Event) nfc.Command {
		switch ev.Type {
		case nfc.EventConfigureRequest:
			_ = poller.Config(nfc.ModeIso3aPoller)
			return nfc.CommandContinue
		case nfc.EventPollerReady:
		default:
			return nfc.CommandContinue
		}

		select {
		case <-ready:
		case <-time.After(2 * time.Second):
			steps = append(steps, "listener never saw the field")
			return nfc.CommandStop
		}

		rx := bitbuf.New(16)
		if err := poller.ShortFrame(nfc.ShortFrameAllReq, rx, testFwt); err != nil {
			steps = append(steps, "wupa: "+err.Error())
			return nfc.CommandStop
		}
		steps = append(steps, "atqa "+rx.String())

		if err := poller.SddFrame(bitbuf.FromBytes([]byte{0x93, 0x20}), rx, testFwt); err != nil {
			steps = append(steps, "sdd: "+err.Error())
			return nfc.CommandStop
		}
		steps = append(steps, "sdd "+rx.String())

		if err := poller.Trx(selectFrame(0x93, uid), rx, testFwt); err != nil {
			steps = append(steps, "sel: "+err.Error())
			return nfc.CommandStop
		}
		steps = append(steps, "sak "+rx.String())

		read := bitbuf.FromBytes([]byte{0x30, 0x04})
		bitbuf.AppendCRC(bitbuf.CRCA, read)
		echoed = bitbuf.New(4)
		if err := poller.Trx(read, echoed, testFwt); err != nil {
			steps = append(steps, "read: "+err.Error())
		}
		return nfc.CommandStop
	})
	require.NoError(t, err)
	waitOrFail(t, poller)
	listener.Stop()

	require.Len(t, steps, 3, "steps: %v", steps)
	assert.Equal(t, "atqa 04 00 (16 bits)", steps[0])
	assert.Equal(t, "sdd 04 A1 B2 C3 D4 (40 bits)", steps[1])
	require.NotNil(t, echoed)
	assert.Equal(t, []byte{0x30, 0x04, 0x26, 0xEE}, echoed.Bytes())

	assert.Equal(t, nfc.EventConfigureRequest, listenerEvents[0])
	assert.Contains(t, listenerEvents, nfc.EventListenerActivated)
	assert.Contains(t, listenerEvents, nfc.EventRxEnd)
	assert.Equal(t, nfc.EventReset, listenerEvents[len(listenerEvents)-1])
}
