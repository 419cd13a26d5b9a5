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

package crypto1

import (
	"encoding/binary"
	"testing"

	"github.com/ZaparooProject/go-nfc/bitbuf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Trace of a successful authentication with the factory key, as used in
// the mfkey64 key recovery examples.
var knownTrace = struct {
	key   uint64
	uid   uint32
	nt    uint32
	encNr uint32
	encAr uint32
	encAt uint32
}{
	key:   0xFFFFFFFFFFFF,
	uid:   0x9C599B32,
	nt:    0x82A4166C,
	encNr: 0xA1E458CE,
	encAr: 0x6EEA41E0,
	encAt: 0x5CADF439,
}

func TestKnownTraceTagSide(t *testing.T) {
	t.Parallel()

	tr := knownTrace
	c := New(tr.key)
	c.Word(tr.uid^tr.nt, false)
	c.Word(tr.encNr, true)

	ar := tr.encAr ^ c.Word(0, false)
	assert.Equal(t, PrngSuccessor(tr.nt, 64), ar)

	at := tr.encAt ^ c.Word(0, false)
	assert.Equal(t, PrngSuccessor(tr.nt, 96), at)
}

func TestKnownTraceReaderSide(t *testing.T) {
	t.Parallel()

	tr := knownTrace

	// recover the plaintext reader nonce from the recorded ciphertext
	probe := New(tr.key)
	probe.Word(tr.uid^tr.nt, false)
	nrPlain := tr.encNr ^ probe.Word(tr.encNr, true)

	nt := make([]byte, 4)
	binary.BigEndian.PutUint32(nt, tr.nt)
	nr := make([]byte, 4)
	binary.BigEndian.PutUint32(nr, nrPlain)

	c := &Crypto1{}
	out := bitbuf.New(8)
	c.EncryptReaderNonce(tr.key, tr.uid, nt, nr, out, false)

	require.True(t, out.IsSizeBytes(8))
	assert.Equal(t, tr.encNr, binary.BigEndian.Uint32(out.Bytes()[0:4]))
	assert.Equal(t, tr.encAr, binary.BigEndian.Uint32(out.Bytes()[4:8]))

	at := tr.encAt ^ c.Word(0, false)
	assert.Equal(t, PrngSuccessor(tr.nt, 96), at)
}

func TestPrngSuccessorPeriod(t *testing.T) {
	t.Parallel()

	for _, seed := range []uint32{0x01200145, 0x82A4166C, 0xDEADBEEF, 1} {
		x := PrngSuccessor(seed, 32)
		assert.Equal(t, x, PrngSuccessor(x, 65535), "seed %08X", seed)
		assert.NotEqual(t, x, PrngSuccessor(x, 1))
	}
	assert.Equal(t, uint32(0x82A4166C), PrngSuccessor(0x82A4166C, 0))
}

func TestPrngSuccessorComposes(t *testing.T) {
	t.Parallel()

	nt := uint32(0x82A4166C)
	assert.Equal(t, PrngSuccessor(nt, 96), PrngSuccessor(PrngSuccessor(nt, 64), 32))

	// byte-wise successors form the big-endian bytes of the word successor
	ar := PrngSuccessor(nt, 64)
	x := PrngSuccessor(nt, 32)
	for i := range 4 {
		x = PrngSuccessor(x, 8)
		assert.Equal(t, byte(ar>>(24-8*i)), byte(x), "byte %d", i)
	}
}

func TestAuthenticationBothRoles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  uint64
		cuid uint32
		nt   uint32
		nr   uint32
	}{
		{name: "factory key", key: 0xFFFFFFFFFFFF, cuid: 0x04A1B2C3, nt: 0x01200145, nr: 0x12345678},
		{name: "mad key", key: 0xA0A1A2A3A4A5, cuid: 0xDEADBEEF, nt: PrngSuccessor(0x01200145, 100), nr: 0},
		{name: "zero key", key: 0, cuid: 0, nt: PrngSuccessor(0xCAFEBABE, 32), nr: 0xFFFFFFFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			nt := make([]byte, 4)
			binary.BigEndian.PutUint32(nt, tt.nt)
			nr := make([]byte, 4)
			binary.BigEndian.PutUint32(nr, tt.nr)

			reader := &Crypto1{}
			frame := bitbuf.New(8)
			reader.EncryptReaderNonce(tt.key, tt.cuid, nt, nr, frame, false)

			tag := New(tt.key)
			tag.Word(tt.nt^tt.cuid, false)
			tag.Word(binary.BigEndian.Uint32(frame.Bytes()[0:4]), true)
			ar := binary.BigEndian.Uint32(frame.Bytes()[4:8]) ^ tag.Word(0, false)
			require.Equal(t, PrngSuccessor(tt.nt, 64), ar)

			atPlain := bitbuf.New(4)
			atPlain.AppendBytes(binary.BigEndian.AppendUint32(nil, PrngSuccessor(tt.nt, 96)))
			atEnc := bitbuf.New(4)
			tag.Encrypt(nil, atPlain, atEnc)

			at := binary.BigEndian.Uint32(atEnc.Bytes()) ^ reader.Word(0, false)
			assert.Equal(t, PrngSuccessor(tt.nt, 96), at)

			// both sides now share the session keystream
			msg := bitbuf.FromBytes([]byte{0x30, 0x04, 0x26, 0xEE})
			enc := bitbuf.New(4)
			reader.Encrypt(nil, msg, enc)
			dec := bitbuf.New(4)
			tag.Decrypt(enc, dec)
			assert.Equal(t, msg.Bytes(), dec.Bytes())
		})
	}
}

func TestWrongKeyFailsVerification(t *testing.T) {
	t.Parallel()

	nt := []byte{0x01, 0x20, 0x01, 0x45}
	nr := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	reader := &Crypto1{}
	frame := bitbuf.New(8)
	reader.EncryptReaderNonce(0xFFFFFFFFFFFF, 0x11223344, nt, nr, frame, false)

	tag := New(0xA0A1A2A3A4A5)
	ntNum := binary.BigEndian.Uint32(nt)
	tag.Word(ntNum^0x11223344, false)
	tag.Word(binary.BigEndian.Uint32(frame.Bytes()[0:4]), true)
	ar := binary.BigEndian.Uint32(frame.Bytes()[4:8]) ^ tag.Word(0, false)
	assert.NotEqual(t, PrngSuccessor(ntNum, 64), ar)
}

func TestEncryptedParity(t *testing.T) {
	t.Parallel()

	a := New(0x0123456789AB)
	b := New(0x0123456789AB)

	plain := bitbuf.FromBytes([]byte{0x60, 0x00, 0xF5, 0x7B})
	enc := bitbuf.New(4)
	a.Encrypt(nil, plain, enc)

	// parity of each encrypted byte is the plain odd parity XOR the next
	// keystream bit
	for i := range 4 {
		b.Byte(0, false)
		want := (b.Filter() ^ bitbuf.OddParity8(plain.Byte(i))) == 1
		assert.Equal(t, want, enc.Parity(i), "byte %d", i)
	}
}

func TestShortFrameRoundTrip(t *testing.T) {
	t.Parallel()

	a := New(0x4D3A99C351DD)
	b := New(0x4D3A99C351DD)

	ack := bitbuf.FromBits([]byte{0x0A}, 4)
	enc := bitbuf.New(1)
	a.Encrypt(nil, ack, enc)
	require.Equal(t, 4, enc.SizeBits())

	dec := bitbuf.New(1)
	b.Decrypt(enc, dec)
	assert.Equal(t, 4, dec.SizeBits())
	assert.Equal(t, byte(0x0A), dec.Byte(0))
}
