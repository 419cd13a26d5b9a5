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
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/ZaparooProject/go-nfc/crypto1"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
)

// ListenerEventType is what the listener reports to its callback.
type ListenerEventType int

const (
	// ListenerEventAuthComplete means a reader proved it holds a key.
	ListenerEventAuthComplete ListenerEventType = iota
	// ListenerEventAuthFailed means the reader answer did not match. The
	// context holds the nonces for offline key recovery.
	ListenerEventAuthFailed
	// ListenerEventBlockWritten means the reader changed Block.
	ListenerEventBlockWritten
)

// ListenerEvent is the Data of the generic events the listener emits.
type ListenerEvent struct {
	Auth  AuthContext
	Type  ListenerEventType
	Block int
}

type commState int

const (
	commPlain commState = iota
	commEncrypted
)

type stage int

const (
	stageCommand stage = iota
	stageAuth
	stageWrite
)

type response int

const (
	respSilent response = iota
	respAck
	respNack
)

// Listener emulates a MIFARE Classic card from a card image.
type Listener struct {
	iso3a    *iso3a.Listener
	data     *Data
	callback protocol.Callback
	crypto   *crypto1.Crypto1
	nonce    NonceSource
	cmd      *bitbuf.Buffer
	rxPlain  *bitbuf.Buffer
	txPlain  *bitbuf.Buffer
	txEnc    *bitbuf.Buffer
	auth     AuthContext
	comm     commState
	stage    stage
	writeTo  int
}

var _ protocol.ListenerInstance = (*Listener)(nil)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithTagNonceSource replaces the crypto/rand tag nonce.
func WithTagNonceSource(src NonceSource) ListenerOption {
	return func(l *Listener) {
		l.nonce = src
	}
}

// NewListener returns a listener emulating a copy of data on top of
// parent.
func NewListener(parent *iso3a.Listener, data *Data, opts ...ListenerOption) (*Listener, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil data", ErrInvalidData)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	l := &Listener{
		iso3a:   parent,
		data:    data.Clone(),
		crypto:  crypto1.New(0),
		nonce:   RandomNonce,
		cmd:     bitbuf.New(bufferSize),
		rxPlain: bitbuf.New(bufferSize),
		txPlain: bitbuf.New(bufferSize),
		txEnc:   bitbuf.New(bufferSize),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func allocListener(parent any, data protocol.Data) (protocol.ListenerInstance, error) {
	p, ok := parent.(*iso3a.Listener)
	if !ok {
		return nil, fmt.Errorf("%w: %T", protocol.ErrParentType, parent)
	}
	d, ok := data.(*Data)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidData, data)
	}
	return NewListener(p, d)
}

func (l *Listener) SetCallback(cb protocol.Callback) { l.callback = cb }

// Data returns the emulated image, including blocks the reader wrote.
func (l *Listener) Data() protocol.Data { return l.data }

// Card returns the emulated image with its concrete type.
func (l *Listener) Card() *Data { return l.data }

// SetNonceSource replaces the tag nonce source.
func (l *Listener) SetNonceSource(src NonceSource) {
	if src != nil {
		l.nonce = src
	}
}

func (l *Listener) Free() {
	l.callback = nil
	l.reset()
}

func (l *Listener) reset() {
	l.crypto.Reset()
	l.auth = AuthContext{}
	l.comm = commPlain
	l.stage = stageCommand
}

func (l *Listener) emit(ev ListenerEvent) nfc.Command {
	if l.callback == nil {
		return nfc.CommandContinue
	}
	return l.callback(protocol.Event{Protocol: protocol.MfClassic, Instance: l, Data: ev})
}

// Run handles the events of the ISO14443-3A listener.
func (l *Listener) Run(ev protocol.Event) nfc.Command {
	iev, ok := ev.Data.(iso3a.ListenerEvent)
	if !ok {
		return nfc.CommandContinue
	}
	switch iev.Type {
	case iso3a.ListenerEventActivated, iso3a.ListenerEventFieldOff, iso3a.ListenerEventHalted:
		l.reset()
	case iso3a.ListenerEventReceivedStandardFrame, iso3a.ListenerEventReceivedData:
		return l.received(iev.Raw)
	}
	return nfc.CommandContinue
}

func (l *Listener) received(raw *bitbuf.Buffer) nfc.Command {
	frame := raw
	if l.comm == commEncrypted {
		l.crypto.Decrypt(raw, l.rxPlain)
		frame = l.rxPlain
	}

	resp, cmd := respSilent, nfc.CommandContinue
	switch l.stage {
	case stageAuth:
		resp, cmd = l.authSecondPart(frame)
	case stageWrite:
		resp, cmd = l.writeSecondPart(frame)
	default:
		resp = l.command(frame)
	}

	switch resp {
	case respAck:
		l.sendShort(ack)
	case respNack:
		l.sendShort(nack)
	case respSilent:
	}
	return cmd
}

func (l *Listener) command(frame *bitbuf.Buffer) response {
	if frame.SizeBits() != 4*8 || !iso3a.CheckCRC(frame) {
		return respNack
	}
	l.cmd.Copy(frame)
	iso3a.TrimCRC(l.cmd)
	op, arg := l.cmd.Byte(0), int(l.cmd.Byte(1))

	switch op {
	case cmdHalt:
		if arg != 0 {
			return respNack
		}
		l.reset()
		if err := l.iso3a.Sleep(); err != nil {
			nfc.Debugf("mfclassic listener: sleep: %v", err)
		}
		return respSilent
	case cmdAuthKeyA:
		return l.authFirstPart(KeyTypeA, arg)
	case cmdAuthKeyB:
		return l.authFirstPart(KeyTypeB, arg)
	case cmdRead:
		return l.read(arg)
	case cmdWrite:
		return l.writeFirstPart(arg)
	default:
		return respNack
	}
}

func (l *Listener) authFirstPart(kt KeyType, block int) response {
	if block >= l.data.Type.Blocks() {
		l.reset()
		return respNack
	}
	key, ok := l.data.Key(SectorOfBlock(block), kt).Get()
	if !ok {
		return respSilent
	}

	ctx := AuthContext{Block: block, KeyType: kt}
	if err := l.nonce(ctx.NT[:]); err != nil {
		nfc.Debugf("mfclassic listener: tag nonce: %v", err)
		return respSilent
	}
	nt := binary.BigEndian.Uint32(ctx.NT[:])
	cuid := l.data.Iso3a.CUID()

	nested := l.comm == commEncrypted
	l.crypto.Init(key.Uint64())
	l.txPlain.CopyBytes(ctx.NT[:])
	var err error
	if nested {
		var ks [4]byte
		binary.BigEndian.PutUint32(ks[:], nt^cuid)
		l.crypto.Encrypt(ks[:], l.txPlain, l.txEnc)
		err = l.iso3a.TxWithCustomParity(l.txEnc)
	} else {
		l.crypto.Word(nt^cuid, false)
		err = l.iso3a.Tx(l.txPlain)
	}
	if err != nil {
		nfc.Debugf("mfclassic listener: send nonce: %v", err)
		l.reset()
		return respSilent
	}

	l.auth = ctx
	// nr and ar are fed into the cipher directly, not decrypted
	l.comm = commPlain
	l.stage = stageAuth
	return respSilent
}

func (l *Listener) authSecondPart(frame *bitbuf.Buffer) (response, nfc.Command) {
	if !frame.IsSizeBytes(8) {
		l.reset()
		return respSilent, nfc.CommandContinue
	}
	ctx := l.auth
	copy(ctx.NR[:], frame.Bytes()[:4])
	copy(ctx.AR[:], frame.Bytes()[4:8])
	nt := binary.BigEndian.Uint32(ctx.NT[:])

	l.crypto.Word(binary.BigEndian.Uint32(ctx.NR[:]), true)
	ar := binary.BigEndian.Uint32(ctx.AR[:]) ^ l.crypto.Word(0, false)
	if ar != crypto1.PrngSuccessor(nt, 64) {
		nfc.Debugf("mfclassic listener: wrong reader answer %08X", ar)
		l.reset()
		return respSilent, l.emit(ListenerEvent{Type: ListenerEventAuthFailed, Auth: ctx})
	}

	binary.BigEndian.PutUint32(ctx.AT[:], crypto1.PrngSuccessor(nt, 96))
	l.txPlain.CopyBytes(ctx.AT[:])
	l.crypto.Encrypt(nil, l.txPlain, l.txEnc)
	if err := l.iso3a.TxWithCustomParity(l.txEnc); err != nil {
		nfc.Debugf("mfclassic listener: send answer: %v", err)
		l.reset()
		return respSilent, nfc.CommandContinue
	}

	l.auth = ctx
	l.comm = commEncrypted
	l.stage = stageCommand
	return respSilent, l.emit(ListenerEvent{Type: ListenerEventAuthComplete, Auth: ctx})
}

// inSession reports whether block belongs to the authenticated sector.
func (l *Listener) inSession(block int) bool {
	return l.comm == commEncrypted && block < l.data.Type.Blocks() &&
		SectorOfBlock(block) == SectorOfBlock(l.auth.Block)
}

func (l *Listener) read(block int) response {
	if !l.inSession(block) {
		return respNack
	}
	kt := l.auth.KeyType
	data := l.data.Blocks[block]
	if IsSectorTrailer(block) {
		if !l.data.IsAllowed(block, kt, ActionKeyARead) {
			clear(data[trailerKeyAOffset : trailerKeyAOffset+KeySize])
		}
		if !l.data.IsAllowed(block, kt, ActionACRead) {
			clear(data[trailerAccessBytes:trailerKeyBOffset])
		}
		if !l.data.IsAllowed(block, kt, ActionKeyBRead) {
			clear(data[trailerKeyBOffset:])
		}
	} else if !l.data.IsAllowed(block, kt, ActionDataRead) {
		return respNack
	}

	l.txPlain.CopyBytes(data[:])
	iso3a.AppendCRC(l.txPlain)
	l.crypto.Encrypt(nil, l.txPlain, l.txEnc)
	if err := l.iso3a.TxWithCustomParity(l.txEnc); err != nil {
		nfc.Debugf("mfclassic listener: send block: %v", err)
	}
	return respSilent
}

func (l *Listener) writeAllowed(block int) bool {
	kt := l.auth.KeyType
	if !IsSectorTrailer(block) {
		return l.data.IsAllowed(block, kt, ActionDataWrite)
	}
	return l.data.IsAllowed(block, kt, ActionKeyAWrite) ||
		l.data.IsAllowed(block, kt, ActionACWrite) ||
		l.data.IsAllowed(block, kt, ActionKeyBWrite)
}

func (l *Listener) writeFirstPart(block int) response {
	if !l.inSession(block) || block == 0 || !l.writeAllowed(block) {
		return respNack
	}
	l.writeTo = block
	l.stage = stageWrite
	return respAck
}

func (l *Listener) writeSecondPart(frame *bitbuf.Buffer) (response, nfc.Command) {
	l.stage = stageCommand
	if !frame.IsSizeBytes(BlockSize+bitbuf.CRCSize) || !iso3a.CheckCRC(frame) {
		return respNack, nfc.CommandContinue
	}
	var data Block
	copy(data[:], frame.Bytes())

	block := l.writeTo
	if IsSectorTrailer(block) {
		l.writeTrailer(block, data)
	} else {
		l.data.Blocks[block] = data
	}
	return respAck, l.emit(ListenerEvent{Type: ListenerEventBlockWritten, Block: block, Auth: l.auth})
}

// writeTrailer applies the parts of a trailer write the access bits
// allow. Permissions are checked against the trailer before the write.
func (l *Listener) writeTrailer(block int, data Block) {
	kt := l.auth.KeyType
	sector := SectorOfBlock(block)
	current := &l.data.Blocks[block]
	keyA := l.data.IsAllowed(block, kt, ActionKeyAWrite)
	acc := l.data.IsAllowed(block, kt, ActionACWrite)
	keyB := l.data.IsAllowed(block, kt, ActionKeyBWrite)

	if acc {
		copy(current[trailerAccessBytes:trailerKeyBOffset], data[trailerAccessBytes:trailerKeyBOffset])
	}
	if keyA {
		l.data.SetKey(sector, KeyTypeA, Key(data[trailerKeyAOffset:trailerKeyAOffset+KeySize]))
	}
	if keyB {
		l.data.SetKey(sector, KeyTypeB, Key(data[trailerKeyBOffset:]))
	}
}

func (l *Listener) sendShort(v byte) {
	l.txPlain.Reset()
	l.txPlain.SetSize(ackBits)
	l.txPlain.SetByte(0, v)
	tx := l.txPlain
	if l.comm == commEncrypted {
		l.crypto.Encrypt(nil, l.txPlain, l.txEnc)
		tx = l.txEnc
	}
	if err := l.iso3a.Tx(tx); err != nil {
		nfc.Debugf("mfclassic listener: send ack: %v", err)
	}
}

func init() {
	protocol.RegisterListener(protocol.MfClassic, protocol.ListenerBaseFunc(allocListener))
}
