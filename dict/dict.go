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

// Package dict holds ordered lists of MIFARE Classic keys for the
// dictionary attack.
//
// A Dictionary is a cursor over its keys: Next hands them out in order
// and Rewind starts over, which the attack does at every new sector.
// Duplicates are dropped on load so no key is tried twice per sector.
package dict

import (
	"bufio"
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/samber/lo"
)

// ErrEmpty is returned when a source holds no keys.
var ErrEmpty = errors.New("dictionary has no keys")

//go:embed system.dict
var systemDict []byte

// Dictionary is an ordered, restartable list of keys. It is not safe for
// concurrent use.
type Dictionary struct {
	name  string
	keys  []mfclassic.Key
	index int
}

// FromKeys returns a dictionary of keys in order, without duplicates.
func FromKeys(name string, keys ...mfclassic.Key) *Dictionary {
	return &Dictionary{name: name, keys: lo.Uniq(keys)}
}

// System returns the built-in dictionary of well-known keys.
func System() *Dictionary {
	d, err := Parse("system", bytes.NewReader(systemDict))
	if err != nil {
		panic(fmt.Sprintf("dict: built-in dictionary: %v", err))
	}
	return d
}

// Open loads a dictionary file: one 12-digit hex key per line, blank
// lines and lines starting with '#' ignored.
func Open(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(path, f)
}

// Parse reads a dictionary in the format Open accepts.
func Parse(name string, r io.Reader) (*Dictionary, error) {
	var keys []mfclassic.Key
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, err := mfclassic.ParseKey(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, line, err)
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrEmpty)
	}
	return FromKeys(name, keys...), nil
}

// Name identifies the dictionary in progress reports.
func (d *Dictionary) Name() string { return d.name }

// Next returns the next key, or false once every key was handed out.
func (d *Dictionary) Next() (mfclassic.Key, bool) {
	if d.index >= len(d.keys) {
		return mfclassic.Key{}, false
	}
	key := d.keys[d.index]
	d.index++
	return key, true
}

// Rewind starts the dictionary over.
func (d *Dictionary) Rewind() { d.index = 0 }

// Total is the number of distinct keys.
func (d *Dictionary) Total() int { return len(d.keys) }

// Index is how many keys Next handed out since the last Rewind.
func (d *Dictionary) Index() int { return d.index }

// Keys returns a copy of the keys in order.
func (d *Dictionary) Keys() []mfclassic.Key {
	return append([]mfclassic.Key(nil), d.keys...)
}
