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

package mfultralight

import "fmt"

// Commands
const (
	cmdGetVersion = 0x60
	cmdRead       = 0x30
	cmdFastRead   = 0x3A
	cmdWrite      = 0xA2
	cmdReadSig    = 0x3C

	ack  = 0x0A
	nack = 0x00
)

// Memory layout
const (
	PageSize      = 4
	SignatureSize = 32
	// PagesPerRead is how many pages one READ returns.
	PagesPerRead = 4
	// MaxPages bounds the largest supported tag.
	MaxPages = 256

	pageSerial0 = 0
	pageSerial1 = 1
	pageSerial2 = 2
	pageCC      = 3

	// ntag203ProbePage is the last page of an NTAG203, missing on an
	// original Ultralight.
	ntag203ProbePage = 41
)

// Page is one 4-byte memory page.
type Page [PageSize]byte

// Signature is the ECC originality signature.
type Signature [SignatureSize]byte

// Type is the tag variant, which fixes the page count and the command
// set.
type Type int

const (
	// TypeUnknown is an original Ultralight or anything answering READ only.
	TypeUnknown Type = iota
	TypeNTAG203
	TypeUL11
	TypeUL21
	TypeNTAG213
	TypeNTAG215
	TypeNTAG216
)

func (t Type) String() string {
	switch t {
	case TypeUnknown:
		return "Mifare Ultralight"
	case TypeNTAG203:
		return "NTAG203"
	case TypeUL11:
		return "Mifare Ultralight 11"
	case TypeUL21:
		return "Mifare Ultralight 21"
	case TypeNTAG213:
		return "NTAG213"
	case TypeNTAG215:
		return "NTAG215"
	case TypeNTAG216:
		return "NTAG216"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Pages returns the number of pages of the variant.
func (t Type) Pages() int {
	switch t {
	case TypeNTAG203:
		return 42
	case TypeUL11:
		return 20
	case TypeUL21:
		return 41
	case TypeNTAG213:
		return 45
	case TypeNTAG215:
		return 135
	case TypeNTAG216:
		return 231
	default:
		return 16
	}
}

// Feature is a bit set of the optional commands a variant supports.
type Feature uint8

const (
	FeatureReadVersion Feature = 1 << iota
	FeatureReadSignature
	FeatureFastRead
)

// Features returns the optional commands of the variant.
func (t Type) Features() Feature {
	switch t {
	case TypeUL11, TypeUL21, TypeNTAG213, TypeNTAG215, TypeNTAG216:
		return FeatureReadVersion | FeatureReadSignature | FeatureFastRead
	default:
		return 0
	}
}

// Has reports whether every feature of want is in f.
func (f Feature) Has(want Feature) bool {
	return f&want == want
}

// Version is the answer to GET_VERSION.
type Version struct {
	FixedHeader    uint8
	VendorID       uint8
	ProductType    uint8
	ProductSubtype uint8
	MajorVersion   uint8
	MinorVersion   uint8
	StorageSize    uint8
	ProtocolType   uint8
}

const (
	vendorNXP      = 0x04
	productUL      = 0x03
	productNTAG    = 0x04
	protocolIso3   = 0x03
	storageUL11    = 0x0B
	storageUL21    = 0x0E
	storageNTAG213 = 0x0F
	storageNTAG215 = 0x11
	storageNTAG216 = 0x13
	versionSize    = 8
)

// ParseVersion decodes the 8-byte GET_VERSION answer.
func ParseVersion(b []byte) (Version, error) {
	if len(b) != versionSize {
		return Version{}, fmt.Errorf("%w: version of %d bytes", ErrProtocol, len(b))
	}
	return Version{
		FixedHeader:    b[0],
		VendorID:       b[1],
		ProductType:    b[2],
		ProductSubtype: b[3],
		MajorVersion:   b[4],
		MinorVersion:   b[5],
		StorageSize:    b[6],
		ProtocolType:   b[7],
	}, nil
}

// Bytes returns the wire form of v.
func (v Version) Bytes() []byte {
	return []byte{
		v.FixedHeader, v.VendorID, v.ProductType, v.ProductSubtype,
		v.MajorVersion, v.MinorVersion, v.StorageSize, v.ProtocolType,
	}
}

// Type maps the version to a variant. Unknown products are TypeUnknown.
func (v Version) Type() Type {
	if v.VendorID != vendorNXP {
		return TypeUnknown
	}
	switch {
	case v.ProductType == productUL && v.StorageSize == storageUL11:
		return TypeUL11
	case v.ProductType == productUL && v.StorageSize == storageUL21:
		return TypeUL21
	case v.ProductType == productNTAG && v.StorageSize == storageNTAG213:
		return TypeNTAG213
	case v.ProductType == productNTAG && v.StorageSize == storageNTAG215:
		return TypeNTAG215
	case v.ProductType == productNTAG && v.StorageSize == storageNTAG216:
		return TypeNTAG216
	default:
		return TypeUnknown
	}
}

// StorageBytes decodes the storage size field: 2^n bytes, or between 2^n
// and 2^(n+1) when the low bit is set.
func (v Version) StorageBytes() int {
	switch v.StorageSize {
	case storageNTAG213:
		return 144
	case storageNTAG215:
		return 504
	case storageNTAG216:
		return 888
	}
	return 1 << (v.StorageSize >> 1)
}

// VersionOf returns the GET_VERSION answer of a genuine tag of type t.
func VersionOf(t Type) (Version, bool) {
	v := Version{VendorID: vendorNXP, MajorVersion: 0x01, ProtocolType: protocolIso3}
	switch t {
	case TypeUL11:
		v.ProductType, v.ProductSubtype, v.StorageSize = productUL, 0x01, storageUL11
	case TypeUL21:
		v.ProductType, v.ProductSubtype, v.StorageSize = productUL, 0x01, storageUL21
	case TypeNTAG213:
		v.ProductType, v.ProductSubtype, v.StorageSize = productNTAG, 0x02, storageNTAG213
	case TypeNTAG215:
		v.ProductType, v.ProductSubtype, v.StorageSize = productNTAG, 0x02, storageNTAG215
	case TypeNTAG216:
		v.ProductType, v.ProductSubtype, v.StorageSize = productNTAG, 0x02, storageNTAG216
	default:
		return Version{}, false
	}
	return v, true
}

// TypeFromCC guesses an NTAG variant from the size byte of the capability
// container, for tags that do not answer GET_VERSION.
func TypeFromCC(cc Page) Type {
	if cc[0] != 0xE1 {
		return TypeUnknown
	}
	switch cc[2] {
	case 0x12:
		return TypeNTAG213
	case 0x3E:
		return TypeNTAG215
	case 0x6D:
		return TypeNTAG216
	default:
		return TypeUnknown
	}
}

// ccSize returns the capability container size byte of an NDEF-formatted
// tag of type t.
func ccSize(t Type) byte {
	switch t {
	case TypeNTAG203, TypeNTAG213:
		return 0x12
	case TypeNTAG215:
		return 0x3E
	case TypeNTAG216:
		return 0x6D
	default:
		return 0
	}
}
