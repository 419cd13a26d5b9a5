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

package frame

// Checksum returns the byte that brings the sum of data to zero. It is
// both the length checksum (LCS) and the data checksum (DCS).
func Checksum(data ...byte) byte {
	return -sum(data)
}

// Verify reports whether cs is the checksum of data.
func Verify(data []byte, cs byte) bool {
	return sum(data)+cs == 0
}

func sum(data []byte) byte {
	var s byte
	for _, b := range data {
		s += b
	}
	return s
}
