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

package sim

import (
	"github.com/ZaparooProject/go-nfc/bitbuf"
)

const (
	cmdReqA       = 0x26
	cmdWupA       = 0x52
	cmdHalt       = 0x50
	cmdSelCL1     = 0x93
	cmdSelCL2     = 0x95
	cmdSelCL3     = 0x97
	nvbSdd        = 0x20
	nvbSel        = 0x70
	cascadeTag    = 0x88
	sakCascadeBit = 0x04
)

type tagState int

const (
	tagIdle tagState = iota
	tagReady
	tagActive
	tagHalted
)

// anticollision answers REQA, WUPA, SDD, SEL and HLTA for one card
// identity the way ISO14443-3A hardware does without software help.
type anticollision struct {
	uid   []byte
	atqa  [2]byte
	sak   byte
	state tagState
	level int
}

func (a *anticollision) set(uid []byte, atqa [2]byte, sak byte) {
	a.uid = append([]byte(nil), uid...)
	a.atqa = atqa
	a.sak = sak
}

func (a *anticollision) levels() int {
	switch len(a.uid) {
	case 7:
		return 2
	case 10:
		return 3
	default:
		return 1
	}
}

// part returns the four UID bytes sent at cascade level.
func (a *anticollision) part(level int) []byte {
	if level == a.levels()-1 {
		return a.uid[len(a.uid)-4:]
	}
	return []byte{cascadeTag, a.uid[level*3], a.uid[level*3+1], a.uid[level*3+2]}
}

func selLevel(cmd byte) int {
	switch cmd {
	case cmdSelCL1:
		return 0
	case cmdSelCL2:
		return 1
	case cmdSelCL3:
		return 2
	default:
		return -1
	}
}

func isHalt(req *bitbuf.Buffer) bool {
	return req.IsSizeBytes(4) && req.Byte(0) == cmdHalt && req.Byte(1) == 0x00 &&
		bitbuf.CheckCRC(bitbuf.CRCA, req)
}

// handle processes req and reports the response. activated is set when
// the last SEL completed. A short frame always reaches handle and drops
// a ready or active card back to idle first. Only WUPA wakes a halted
// card.
func (a *anticollision) handle(req *bitbuf.Buffer) (resp *bitbuf.Buffer, ok, activated bool) {
	if req.SizeBits() == 7 {
		if a.state == tagActive || a.state == tagReady {
			a.state = tagIdle
		}
		cmd := req.Byte(0)
		if (cmd == cmdReqA && a.state == tagIdle) ||
			(cmd == cmdWupA && (a.state == tagIdle || a.state == tagHalted)) {
			a.state = tagReady
			a.level = 0
			return withOddParity(a.atqa[:], 16), true, false
		}
		return nil, false, false
	}

	if a.state != tagReady {
		return nil, false, false
	}
	if isHalt(req) {
		a.state = tagHalted
		return nil, false, false
	}
	if req.SizeBits() < 16 || selLevel(req.Byte(0)) != a.level {
		return nil, false, false
	}

	part := a.part(a.level)
	switch {
	case req.IsSizeBytes(2) && req.Byte(1) == nvbSdd:
		bcc := part[0] ^ part[1] ^ part[2] ^ part[3]
		out := append(append([]byte(nil), part...), bcc)
		return withOddParity(out, 40), true, false

	case req.IsSizeBytes(9) && req.Byte(1) == nvbSel && bitbuf.CheckCRC(bitbuf.CRCA, req):
		for i := range 4 {
			if req.Byte(2+i) != part[i] {
				return nil, false, false
			}
		}
		sak := a.sak
		if a.level < a.levels()-1 {
			sak = sakCascadeBit
			a.level++
		} else {
			a.state = tagActive
			activated = true
		}
		out := bitbuf.FromBytes([]byte{sak})
		bitbuf.AppendCRC(bitbuf.CRCA, out)
		out.SetOddParity()
		return out, true, activated
	}
	return nil, false, false
}
