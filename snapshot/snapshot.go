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

// Package snapshot stores card images as CBOR.
//
// Every snapshot is an envelope with a format version, the kind of
// image, a random id and the creation time; the body is the image
// itself. Only what was read from the card is stored: unknown keys and
// unread blocks stay absent.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Version is the envelope format version written by this package.
const Version = 1

var (
	// ErrFormat means the bytes are not a snapshot this package can read.
	ErrFormat = errors.New("invalid snapshot")
	// ErrKind means the snapshot holds a different kind of image.
	ErrKind = errors.New("wrong snapshot kind")
)

// Kind is the kind of image in a snapshot.
type Kind uint8

const (
	KindIso3a Kind = iota + 1
	KindMfClassic
	KindMfUltralight
)

func (k Kind) String() string {
	switch k {
	case KindIso3a:
		return "iso14443-3a"
	case KindMfClassic:
		return "mifare-classic"
	case KindMfUltralight:
		return "mifare-ultralight"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Info describes a snapshot without decoding its body.
type Info struct {
	Created time.Time
	ID      uuid.UUID
	Kind    Kind
	Version uint
}

type envelope struct {
	Version uint            `cbor:"1,keyasint"`
	Kind    Kind            `cbor:"2,keyasint"`
	ID      []byte          `cbor:"3,keyasint"`
	Created int64           `cbor:"4,keyasint"`
	Body    cbor.RawMessage `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 1024,
		MaxMapPairs:      1024,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

func encode(kind Kind, body any) ([]byte, error) {
	raw, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", kind, err)
	}
	id := uuid.New()
	out, err := encMode.Marshal(envelope{
		Version: Version,
		Kind:    kind,
		ID:      id[:],
		Created: time.Now().Unix(),
		Body:    raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %v: %w", kind, err)
	}
	return out, nil
}

func open(b []byte) (envelope, Info, error) {
	var env envelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return env, Info{}, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	if env.Version != Version {
		return env, Info{}, fmt.Errorf("%w: version %d", ErrFormat, env.Version)
	}
	id, err := uuid.FromBytes(env.ID)
	if err != nil {
		return env, Info{}, fmt.Errorf("%w: id: %w", ErrFormat, err)
	}
	return env, Info{
		Version: env.Version,
		Kind:    env.Kind,
		ID:      id,
		Created: time.Unix(env.Created, 0),
	}, nil
}

func decode(b []byte, kind Kind, body any) (Info, error) {
	env, info, err := open(b)
	if err != nil {
		return info, err
	}
	if env.Kind != kind {
		return info, fmt.Errorf("%w: %v, want %v", ErrKind, env.Kind, kind)
	}
	if err := decMode.Unmarshal(env.Body, body); err != nil {
		return info, fmt.Errorf("%w: %v body: %w", ErrFormat, kind, err)
	}
	return info, nil
}

// Inspect reads the envelope of a snapshot.
func Inspect(b []byte) (Info, error) {
	_, info, err := open(b)
	return info, err
}
