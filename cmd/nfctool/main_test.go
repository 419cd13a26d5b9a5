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

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZaparooProject/go-nfc/dictattack"
	"github.com/ZaparooProject/go-nfc/ndef"
	"github.com/ZaparooProject/go-nfc/protocol"
	"github.com/ZaparooProject/go-nfc/protocols/iso3a"
	"github.com/ZaparooProject/go-nfc/protocols/mfclassic"
	"github.com/ZaparooProject/go-nfc/protocols/mfultralight"
	"github.com/ZaparooProject/go-nfc/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	opts, cmd, rest, err := parseArgs([]string{"-device", "/dev/ttyUSB1", "-debug", "emulate", "card.snap"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "emulate", cmd)
	assert.Equal(t, []string{"card.snap"}, rest)
	assert.Equal(t, "/dev/ttyUSB1", opts.port)
	assert.True(t, opts.debug)

	_, _, _, err = parseArgs(nil, &stderr)
	require.Error(t, err)
	assert.Contains(t, stderr.String(), "usage: nfctool")
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()
	dictPath := filepath.Join(tmp, "keys.dict")
	require.NoError(t, os.WriteFile(dictPath, []byte("A0A1A2A3A4A5\n"), 0o600))
	cfgPath := filepath.Join(tmp, "nfctool.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("device:\n  port: /dev/ttyACM0\n  baud: 9600\n"), 0o600))

	cfg, err := loadConfig(&options{configPath: cfgPath, baud: 230400, userDict: dictPath, debug: true})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", cfg.Device.Port)
	assert.Equal(t, 230400, cfg.Device.Baud)
	assert.Equal(t, dictPath, cfg.Dictionaries.User)
	assert.True(t, cfg.Log.Debug)

	_, err = loadConfig(&options{link: "usb"})
	assert.Error(t, err)
}

func TestRunRejectsBadCommands(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"frobnicate"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	err = run(context.Background(), []string{"dump"}, &stdout, &stderr)
	require.Error(t, err)

	err = run(context.Background(), []string{"read"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-o")
}

func writeSnapshot(t *testing.T, b []byte, err error) string {
	t.Helper()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "card.snap")
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func TestDumpMfClassic(t *testing.T) {
	t.Parallel()

	card, err := iso3a.NewData([]byte{0xDE, 0xAD, 0xBE, 0xEF}, [2]byte{0x04, 0x00}, mfclassic.TypeMini.SAK())
	require.NoError(t, err)
	img := mfclassic.NewData(card, mfclassic.TypeMini)
	img.SetKey(0, mfclassic.KeyTypeA, mfclassic.Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5})
	img.SetBlockRead(1, mfclassic.Block{0x11, 0x22})

	b, err := snapshot.EncodeMfClassic(img)
	path := writeSnapshot(t, b, err)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"dump", path}, &out, &out))
	text := out.String()
	assert.Contains(t, text, "mifare-classic")
	assert.Contains(t, text, "Type: Mini, 0/5 sectors read, 1 keys found")
	assert.Contains(t, text, "UID: DE AD BE EF")
	assert.Contains(t, text, "Sector 0  A: A0A1A2A3A4A5  B: ------------")
	assert.Contains(t, text, "    1: 11 22 00")
	assert.Contains(t, text, "    2: ?? ??")
}

func TestDumpUltralight(t *testing.T) {
	t.Parallel()

	card, err := iso3a.NewData([]byte{0x04, 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6}, [2]byte{0x44, 0x00}, 0x00)
	require.NoError(t, err)
	img := mfultralight.NewImage(card, mfultralight.TypeNTAG213)

	b, err := snapshot.EncodeMfUltralight(img)
	path := writeSnapshot(t, b, err)

	proto, data, _, err := loadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, protocol.MfUltralight, proto)
	assert.True(t, img.Equal(data.(*mfultralight.Data)))

	var out bytes.Buffer
	require.NoError(t, runDump(path, &out))
	assert.Contains(t, out.String(), "UID: 04 A1 B2 C3 D4 E5 F6")
	assert.Contains(t, out.String(), "pages read")
}

func TestMakeThenDump(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tag.snap")
	var out bytes.Buffer
	require.NoError(t, runMake("https://zaparoo.org/launch", false, path, &out))
	assert.Contains(t, out.String(), "URI https://zaparoo.org/launch")

	out.Reset()
	require.NoError(t, runDump(path, &out))
	text := out.String()
	assert.Contains(t, text, "NTAG215")
	assert.Contains(t, text, "NDEF: 1 record(s)")
	assert.Contains(t, text, "  URI https://zaparoo.org/launch")
}

func TestMakeTextRecord(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tag.snap")
	var out bytes.Buffer
	require.NoError(t, runMake("**launch.random:snes", true, path, &out))

	out.Reset()
	require.NoError(t, runDump(path, &out))
	assert.Contains(t, out.String(), `Text "**launch.random:snes"`)
}

func TestBuildTagImage(t *testing.T) {
	t.Parallel()

	uid := randomUID()
	require.Len(t, uid, 7)
	assert.Equal(t, byte(0x04), uid[0])

	img, err := buildTagImage(ndef.NewURI("tel:1"), uid)
	require.NoError(t, err)
	assert.Equal(t, mfultralight.Page{0x03, 0x06, 0xD1, 0x01}, img.Pages[4])

	_, err = buildTagImage(ndef.NewText(strings.Repeat("x", 600), "en"), uid)
	require.ErrorIs(t, err, errTooLarge)
}

func TestLoadSnapshotRejectsGarbage(t *testing.T) {
	t.Parallel()

	path := writeSnapshot(t, []byte("not a snapshot"), nil)
	_, _, _, err := loadSnapshot(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, snapshot.ErrFormat))
}

func TestFormatProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want string
		pr   dictattack.Progress
	}{
		{
			pr: dictattack.Progress{
				Type: dictattack.EventKeysTried, Dictionary: "user", Sector: 3,
				KeysTried: 20, KeysTotal: 40, SectorsRead: 2, KeysFound: 5, SectorsTotal: 16,
			},
			want: "[user] sector 3: 20/40 keys tried, sectors 2/16, keys 5/32",
		},
		{
			pr: dictattack.Progress{
				Type: dictattack.EventKeyFound, Sector: 1, KeyType: mfclassic.KeyTypeB,
				Key: mfclassic.Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			},
			want: "sector 1 key B: FFFFFFFFFFFF",
		},
		{
			pr:   dictattack.Progress{Type: dictattack.EventReadComplete, SectorsRead: 5, KeysFound: 10, SectorsTotal: 5},
			want: "read complete, sectors 5/5, keys 10/10",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatProgress(tt.pr))
	}
}

func TestProgressLineWithoutTerminal(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	line := &progressLine{out: &out, width: defaultWidth}
	line.update(dictattack.Progress{Type: dictattack.EventKeysTried})
	line.update(dictattack.Progress{Type: dictattack.EventSectorAdvanced, Dictionary: "system", Sector: 2})
	line.finish()

	assert.Equal(t, "[system] sector 2, sectors 0/0, keys 0/0\n", out.String())
}

func TestProgressLineRedraws(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	line := &progressLine{out: &out, width: 20, tty: true}
	line.update(dictattack.Progress{Type: dictattack.EventSectorAdvanced, Dictionary: "system", Sector: 2})
	line.update(dictattack.Progress{Type: dictattack.EventReadComplete})

	lines := bytes.Split(out.Bytes(), []byte("\r"))
	require.Len(t, lines, 3)
	assert.Len(t, lines[1], 19)
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
}
