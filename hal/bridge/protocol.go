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

package bridge

import (
	"encoding/binary"
	"fmt"

	"github.com/ZaparooProject/go-nfc"
)

// Command codes understood by the front-end firmware. A response echoes
// the command code followed by a status byte and any result data.
const (
	cmdGetVersion          = 0x02
	cmdInit                = 0x10
	cmdDeinit              = 0x11
	cmdLowPowerStart       = 0x12
	cmdLowPowerStop        = 0x13
	cmdSetMode             = 0x14
	cmdResetMode           = 0x15
	cmdFieldOn             = 0x16
	cmdPollerTx            = 0x20
	cmdPollerTxParity      = 0x21
	cmdPollerRx            = 0x22
	cmdShortFrame          = 0x24
	cmdSddFrame            = 0x26
	cmdListenStart         = 0x30
	cmdListenerTx          = 0x32
	cmdListenerTxParity    = 0x33
	cmdListenerSleep       = 0x34
	cmdListenerNoAutoColl  = 0x36
	cmdSetColResData       = 0x38
	cmdTrxReset            = 0x40
	cmdAbort               = 0x42
	cmdFwtTimerStart       = 0x50
	cmdFwtTimerStop        = 0x51
	cmdBlockTxTimerStart   = 0x52
	cmdBlockTxTimerStartUs = 0x53
	cmdBlockTxTimerStop    = 0x54
	cmdSetMaskReceiveTimer = 0x56
)

// Status codes in firmware responses.
const (
	statusOK             = 0x00
	statusTimeout        = 0x01
	statusCollision      = 0x02
	statusFormat         = 0x03
	statusCommunication  = 0x04
	statusFieldOff       = 0x05
	statusBusy           = 0x06
	statusInvalidMode    = 0x07
	statusInvalidArg     = 0x08
	statusBufferOverflow = 0x09
	statusOscillator     = 0x0A
	statusWrongState     = 0x0B
	statusAborted        = 0x0C
)

var statusErrors = map[byte]error{
	statusTimeout:        nfc.ErrTimeout,
	statusCollision:      nfc.ErrCollision,
	statusFormat:         nfc.ErrFormat,
	statusCommunication:  nfc.ErrCommunication,
	statusFieldOff:       nfc.ErrFieldOff,
	statusBusy:           nfc.ErrBusy,
	statusInvalidMode:    nfc.ErrInvalidMode,
	statusInvalidArg:     nfc.ErrInvalidArgument,
	statusBufferOverflow: nfc.ErrBufferOverflow,
	statusOscillator:     nfc.ErrOscillator,
	statusWrongState:     nfc.ErrWrongState,
	statusAborted:        nfc.ErrAborted,
}

// statusError maps a firmware status byte to a core error.
func statusError(status byte) error {
	if status == statusOK {
		return nil
	}
	if err, ok := statusErrors[status]; ok {
		return err
	}
	return fmt.Errorf("%w: firmware status 0x%02X", nfc.ErrChipCommunication, status)
}

// Version is the firmware identification returned by GetVersion.
type Version struct {
	Major    byte
	Minor    byte
	Features byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d (features 0x%02X)", v.Major, v.Minor, v.Features)
}

// Feature bits reported in Version.Features.
const (
	FeaturePoller   = 1 << 0
	FeatureListener = 1 << 1
)

func parseVersion(data []byte) (Version, error) {
	if len(data) < 3 {
		return Version{}, fmt.Errorf("%w: version response of %d bytes", nfc.ErrFormat, len(data))
	}
	return Version{Major: data[0], Minor: data[1], Features: data[2]}, nil
}

// bitFrame encodes a frame with its bit count as a little-endian prefix.
func bitFrame(data []byte, bits int) []byte {
	out := make([]byte, 2, 2+len(data))
	binary.LittleEndian.PutUint16(out, uint16(bits))
	return append(out, data...)
}

func u32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// eventMask decodes the payload of an event frame.
func eventMask(payload []byte) (nfc.HALEvent, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("%w: event payload of %d bytes", nfc.ErrFormat, len(payload))
	}
	return nfc.HALEvent(binary.LittleEndian.Uint32(payload)), nil
}
