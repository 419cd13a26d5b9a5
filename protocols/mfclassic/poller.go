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

package mfclassic

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/crypto1"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

// MIFARE Classic commands
const (
	cmdAuthKeyA = 0x60
	cmdAuthKeyB = 0x61
	cmdRead     = 0x30
	cmdWrite    = 0xA0
	cmdHalt     = 0x50

	ack  = 0x0A
	nack = 0x00
)

const (
	// FwtFc is the frame waiting time used for every exchange.
	FwtFc = 60000

	bufferSize = 64
	ackBits    = 4
)

// AuthContext records one authentication exchange. AR is sent encrypted,
// the nonces are stored in the clear.
type AuthContext struct {
	Block   int
	KeyType KeyType
	NT      [4]byte
	NR      [4]byte
	AR      [4]byte
	AT      [4]byte
}

// NonceSource fills nr with a reader nonce.
type NonceSource func(nr []byte) error

// RandomNonce reads the reader nonce from crypto/rand.
func RandomNonce(nr []byte) error {
	_, err := rand.Read(nr)
	return err
}

type authState int

const (
	authStateIdle authState = iota
	authStateAuthenticated
)

// Poller talks to a MIFARE Classic card through an ISO14443-3A poller.
type Poller struct {
	iso3a    *iso3a.Poller
	data     *Data
	callback protocol.Callback
	crypto   *crypto1.Crypto1
	nonce    NonceSource
	txPlain  *bitbuf.Buffer
	txEnc    *bitbuf.Buffer
	rxPlain  *bitbuf.Buffer
	rxEnc    *bitbuf.Buffer
	dict     dictAttackContext
	auth     AuthContext
	state    PollerState
	authed   authState
	detected bool
}

var _ protocol.PollerInstance = (*Poller)(nil)

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithNonceSource replaces the crypto/rand reader nonce.
func WithNonceSource(src NonceSource) PollerOption {
	return func(p *Poller) {
		p.nonce = src
	}
}

// NewPoller returns a poller running on top of parent.
func NewPoller(parent *iso3a.Poller, opts ...PollerOption) *Poller {
	p := &Poller{
		iso3a:   parent,
		data:    NewData(nil, Type1K),
		crypto:  crypto1.New(0),
		nonce:   RandomNonce,
		txPlain: bitbuf.New(bufferSize),
		txEnc:   bitbuf.New(bufferSize),
		rxPlain: bitbuf.New(bufferSize),
		rxEnc:   bitbuf.New(bufferSize),
		state:   PollerStateStart,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func allocPoller(parent any) (protocol.PollerInstance, error) {
	p, ok := parent.(*iso3a.Poller)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	return NewPoller(p), nil
}

// SetNonceSource replaces the reader nonce source.
func (p *Poller) SetNonceSource(src NonceSource) {
	if src != nil {
		p.nonce = src
	}
}

func (p *Poller) SetCallback(cb protocol.Callback) { p.callback = cb }

// Data returns the card image collected so far.
func (p *Poller) Data() protocol.Data { return p.data }

// Card returns the card image with its concrete type.
func (p *Poller) Card() *Data { return p.data }

// State returns the state of the read state machine.
func (p *Poller) State() PollerState { return p.state }

// LastAuth returns the context of the last authentication attempt.
func (p *Poller) LastAuth() AuthContext { return p.auth }

func (p *Poller) Free() {
	p.callback = nil
	p.resetAuth()
}

// Detect reports whether the activated card is a MIFARE Classic.
func (p *Poller) Detect(ev protocol.Event) bool {
	iev, ok := ev.Data.(iso3a.PollerEvent)
	if !ok || iev.Type != iso3a.PollerEventReady {
		return false
	}
	_, ok = TypeFromSAK(p.iso3a.Card().SAK)
	return ok
}

func (p *Poller) resetAuth() {
	p.crypto.Reset()
	p.authed = authStateIdle
}

// fail drops the authenticated channel. The card went idle on its own,
// so the next exchange activates it again with REQA.
func (p *Poller) fail() {
	p.resetAuth()
	p.iso3a.Deselect()
}

func (p *Poller) blockCount() int {
	if t, ok := TypeFromSAK(p.iso3a.Card().SAK); ok {
		return t.Blocks()
	}
	return MaxBlocks
}

// Auth authenticates to block with key. Inside an authenticated session
// the exchange runs nested, encrypted under the current key.
func (p *Poller) Auth(block int, key Key, kt KeyType) (AuthContext, error) {
	ctx := AuthContext{Block: block, KeyType: kt}
	if block < 0 || block >= p.blockCount() {
		return ctx, fmt.Errorf("%w: %d", ErrInvalidBlock, block)
	}

	nested := p.authed == authStateAuthenticated
	p.txPlain.CopyBytes([]byte{kt.authCmd(), byte(block)})
	iso3a.AppendCRC(p.txPlain)

	var err error
	if nested {
		p.crypto.Encrypt(nil, p.txPlain, p.txEnc)
		err = p.iso3a.TxrxCustomParity(p.txEnc, p.rxEnc, FwtFc)
	} else {
		err = p.iso3a.Txrx(p.txPlain, p.rxEnc, FwtFc)
	}
	if err != nil {
		p.auth = ctx
		return ctx, p.authError(err)
	}
	if !p.rxEnc.IsSizeBytes(len(ctx.NT)) {
		p.fail()
		p.auth = ctx
		return ctx, fmt.Errorf("%w: nonce of %d bits", ErrProtocol, p.rxEnc.SizeBits())
	}
	copy(ctx.NT[:], p.rxEnc.Bytes())

	if err := p.nonce(ctx.NR[:]); err != nil {
		p.fail()
		return ctx, fmt.Errorf("reader nonce: %w", err)
	}
	cuid := p.iso3a.Card().CUID()
	p.crypto.EncryptReaderNonce(key.Uint64(), cuid, ctx.NT[:], ctx.NR[:], p.txEnc, nested)
	copy(ctx.AR[:], p.txEnc.Bytes()[4:8])

	err = p.iso3a.TxrxCustomParity(p.txEnc, p.rxEnc, FwtFc)
	if err != nil {
		p.auth = ctx
		return ctx, p.authError(err)
	}
	if !p.rxEnc.IsSizeBytes(len(ctx.AT)) {
		p.fail()
		p.auth = ctx
		return ctx, fmt.Errorf("%w: answer of %d bits", ErrAuthFailed, p.rxEnc.SizeBits())
	}
	p.crypto.Decrypt(p.rxEnc, p.rxPlain)
	copy(ctx.AT[:], p.rxPlain.Bytes())
	p.auth = ctx

	nt := binary.BigEndian.Uint32(ctx.NT[:])
	if binary.BigEndian.Uint32(ctx.AT[:]) != crypto1.PrngSuccessor(nt, 96) {
		p.fail()
		return ctx, fmt.Errorf("%w: tag answer mismatch", ErrAuthFailed)
	}

	p.authed = authStateAuthenticated
	nfc.Debugf("mfclassic: authenticated block %d with key %v", block, kt)
	return ctx, nil
}

// authError sorts a failed auth exchange into a lost card or a rejected
// key. Cards go silent on a wrong key, so a timeout is a rejection.
func (p *Poller) authError(err error) error {
	mapped := mapError(err)
	p.fail()
	if errors.Is(mapped, ErrNotPresent) || errors.Is(err, nfc.ErrAborted) {
		return mapped
	}
	return fmt.Errorf("%w: %w", ErrAuthFailed, mapped)
}

// encryptedTrx sends tx under the session cipher and decrypts the answer
// into rx.
func (p *Poller) encryptedTrx(tx, rx *bitbuf.Buffer) error {
	if p.authed != authStateAuthenticated {
		return ErrNotAuthenticated
	}
	p.crypto.Encrypt(nil, tx, p.txEnc)
	if err := p.iso3a.TxrxCustomParity(p.txEnc, p.rxEnc, FwtFc); err != nil {
		p.fail()
		return mapError(err)
	}
	p.crypto.Decrypt(p.rxEnc, rx)
	return nil
}

func (p *Poller) expectAck() error {
	if p.rxPlain.SizeBits() != ackBits {
		p.fail()
		return fmt.Errorf("%w: ack of %d bits", ErrProtocol, p.rxPlain.SizeBits())
	}
	if p.rxPlain.Byte(0)&0x0F != ack {
		p.fail()
		return ErrNack
	}
	return nil
}

// ReadBlock reads block from the authenticated sector.
func (p *Poller) ReadBlock(block int) (Block, error) {
	var out Block
	if block < 0 || block >= p.blockCount() {
		return out, fmt.Errorf("%w: %d", ErrInvalidBlock, block)
	}
	p.txPlain.CopyBytes([]byte{cmdRead, byte(block)})
	iso3a.AppendCRC(p.txPlain)
	if err := p.encryptedTrx(p.txPlain, p.rxPlain); err != nil {
		return out, err
	}
	if p.rxPlain.SizeBits() == ackBits {
		p.fail()
		return out, ErrNack
	}
	if !p.rxPlain.IsSizeBytes(BlockSize + bitbuf.CRCSize) {
		p.fail()
		return out, fmt.Errorf("%w: block of %d bits", ErrProtocol, p.rxPlain.SizeBits())
	}
	if !iso3a.CheckCRC(p.rxPlain) {
		p.fail()
		return out, fmt.Errorf("%w: %w", ErrProtocol, iso3a.ErrWrongCrc)
	}
	copy(out[:], p.rxPlain.Bytes())
	return out, nil
}

// WriteBlock writes data to block of the authenticated sector.
func (p *Poller) WriteBlock(block int, data Block) error {
	if block < 0 || block >= p.blockCount() {
		return fmt.Errorf("%w: %d", ErrInvalidBlock, block)
	}
	p.txPlain.CopyBytes([]byte{cmdWrite, byte(block)})
	iso3a.AppendCRC(p.txPlain)
	if err := p.encryptedTrx(p.txPlain, p.rxPlain); err != nil {
		return err
	}
	if err := p.expectAck(); err != nil {
		return err
	}

	p.txPlain.CopyBytes(data[:])
	iso3a.AppendCRC(p.txPlain)
	if err := p.encryptedTrx(p.txPlain, p.rxPlain); err != nil {
		return err
	}
	return p.expectAck()
}

// Halt ends the session. Inside an authenticated session HLTA is sent
// encrypted.
func (p *Poller) Halt() error {
	if p.authed != authStateAuthenticated {
		p.resetAuth()
		return p.iso3a.Halt()
	}
	p.txPlain.CopyBytes([]byte{cmdHalt, 0x00})
	iso3a.AppendCRC(p.txPlain)
	p.crypto.Encrypt(nil, p.txPlain, p.txEnc)
	err := p.iso3a.TxrxCustomParity(p.txEnc, p.rxEnc, FwtFc)
	p.resetAuth()
	// the card is silent now; a plain HLTA brings the parent back to idle
	haltErr := p.iso3a.Halt()
	if errors.Is(err, nfc.ErrAborted) {
		return err
	}
	return haltErr
}

// ReadSector authenticates with key and reads every block of sector that
// is not read yet into the card image. It returns the number of blocks
// read.
func (p *Poller) ReadSector(sector int, key Key, kt KeyType) (int, error) {
	first := FirstBlockOfSector(sector)
	if _, err := p.Auth(first, key, kt); err != nil {
		return 0, err
	}
	read := 0
	for block := first; block < first+BlocksInSector(sector); block++ {
		if p.data.IsBlockRead(block) {
			continue
		}
		data, err := p.ReadBlock(block)
		if err != nil {
			nfc.Debugf("mfclassic: read block %d: %v", block, err)
			if errors.Is(err, ErrNotPresent) || errors.Is(err, nfc.ErrAborted) {
				return read, err
			}
			// NACK drops the session; go on with the next block
			if _, err := p.Auth(first, key, kt); err != nil {
				return read, err
			}
			continue
		}
		p.data.SetBlockRead(block, data)
		read++
	}
	return read, nil
}

func init() {
	protocol.RegisterPoller(protocol.MfClassic, protocol.PollerBaseFunc(allocPoller))
}
