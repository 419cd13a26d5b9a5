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

// Action is an operation gated by the access bits.
type Action int

const (
	ActionDataRead Action = iota
	ActionDataWrite
	ActionDataInc
	ActionDataDec
	ActionKeyARead
	ActionKeyAWrite
	ActionACRead
	ActionACWrite
	ActionKeyBRead
	ActionKeyBWrite
)

func (a Action) isTrailer() bool {
	return a >= ActionKeyARead
}

// AccessBits are bytes 6 to 8 of a sector trailer. Each of the four
// conditions is stored once plain and once inverted.
type AccessBits [3]byte

// DefaultAccessBits is the transport configuration: data blocks open to
// both keys, trailer writable with key A.
var DefaultAccessBits = AccessBits{0xFF, 0x07, 0x80}

// NewAccessBits encodes the conditions C1C2C3 for the three data groups
// and the trailer (index 3).
func NewAccessBits(conds [4]byte) AccessBits {
	var c1, c2, c3 byte
	for i, c := range conds {
		c1 |= (c >> 2 & 1) << i
		c2 |= (c >> 1 & 1) << i
		c3 |= (c & 1) << i
	}
	return AccessBits{
		(^c2&0x0F)<<4 | ^c1&0x0F,
		c1<<4 | ^c3&0x0F,
		c3<<4 | c2,
	}
}

// Valid reports whether the inverted copies match.
func (a AccessBits) Valid() bool {
	c1 := a[1] >> 4
	c2 := a[2] & 0x0F
	c3 := a[2] >> 4
	return a[0]&0x0F == ^c1&0x0F && a[0]>>4 == ^c2&0x0F && a[1]&0x0F == ^c3&0x0F
}

// Condition returns the 3-bit condition C1C2C3 of group, where groups
// 0 to 2 are data blocks and 3 is the trailer.
func (a AccessBits) Condition(group int) byte {
	c1 := a[1] >> (4 + group) & 1
	c2 := a[2] >> group & 1
	c3 := a[2] >> (4 + group) & 1
	return c1<<2 | c2<<1 | c3
}

type keyMask byte

const (
	never keyMask = 0
	keyA  keyMask = 1 << KeyTypeA
	keyB  keyMask = 1 << KeyTypeB
	keyAB         = keyA | keyB
)

// read, write, increment, decrement/transfer/restore
var dataPermissions = [8][4]keyMask{
	{keyAB, keyAB, keyAB, keyAB},
	{keyAB, never, never, keyAB},
	{keyAB, never, never, never},
	{keyB, keyB, never, never},
	{keyAB, keyB, never, never},
	{keyB, never, never, never},
	{keyAB, keyB, keyB, keyAB},
	{never, never, never, never},
}

// key A read/write, access bits read/write, key B read/write
var trailerPermissions = [8][6]keyMask{
	{never, keyA, keyA, never, keyA, keyA},
	{never, keyA, keyA, keyA, keyA, keyA},
	{never, never, keyA, never, keyA, never},
	{never, keyB, keyAB, keyB, never, keyB},
	{never, keyB, keyAB, never, never, keyB},
	{never, never, keyAB, keyB, never, never},
	{never, never, keyAB, never, never, never},
	{never, never, keyAB, never, never, never},
}

// Allowed reports whether a holder of key kt may perform action on a
// block of group. Invalid access bits deny everything.
func (a AccessBits) Allowed(group int, kt KeyType, action Action) bool {
	if !a.Valid() || group < 0 || group > 3 {
		return false
	}
	cond := a.Condition(group)
	var mask keyMask
	if action.isTrailer() {
		if group != 3 {
			return false
		}
		mask = trailerPermissions[cond][action-ActionKeyARead]
	} else {
		if group == 3 {
			return false
		}
		mask = dataPermissions[cond][action]
	}
	return mask&(1<<kt) != 0
}
