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

import "sync"

// BufferSize fits the largest extended frame plus its envelope.
const BufferSize = MaxDataLength + Overhead

var buffers = sync.Pool{
	New: func() any {
		buf := make([]byte, BufferSize)
		return &buf
	},
}

// GetBuffer hands out a zeroed BufferSize read buffer. Return it with
// PutBuffer.
func GetBuffer() []byte {
	if p, ok := buffers.Get().(*[]byte); ok {
		return *p
	}
	return make([]byte, BufferSize)
}

// PutBuffer recycles buf. Buffers of any other capacity are dropped.
func PutBuffer(buf []byte) {
	if cap(buf) != BufferSize {
		return
	}
	buf = buf[:BufferSize]
	clear(buf)
	buffers.Put(&buf)
}
