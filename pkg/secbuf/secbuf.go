// Copyright 2016 The Sandpass Authors
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

// Package secbuf holds secret material — composite keys, derived keys,
// inner-stream keys, and protected field plaintext — in memory that is
// guaranteed to be wiped when the holder is done with it. It wraps
// memguard's locked buffers rather than hand-rolling zeroization, so
// the guarantee survives compiler reordering and GC copies.
package secbuf // import "github.com/gokeepass/kdbx/pkg/secbuf"

import (
	"github.com/awnumar/memguard"
)

// Buffer is a fixed-size block of secret bytes that zeroes itself on
// Destroy. The zero Buffer is not usable; construct with New or
// NewFromBytes.
type Buffer struct {
	b *memguard.LockedBuffer
}

// New allocates a zeroed secret buffer of size n.
func New(n int) *Buffer {
	return &Buffer{b: memguard.NewBuffer(n)}
}

// NewFromBytes copies src into a new secret buffer and wipes src.
func NewFromBytes(src []byte) *Buffer {
	b := memguard.NewBufferFromBytes(src)
	return &Buffer{b: b}
}

// Bytes returns the buffer's contents. The returned slice aliases the
// secret memory and must not outlive the Buffer; callers that need to
// retain a copy are responsible for scrubbing it themselves.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.b == nil {
		return nil
	}
	return b.b.Bytes()
}

// Len reports the buffer's size in bytes.
func (b *Buffer) Len() int {
	if b == nil || b.b == nil {
		return 0
	}
	return b.b.Size()
}

// Destroy wipes the buffer's memory. It is idempotent and safe to call
// on a nil Buffer.
func (b *Buffer) Destroy() {
	if b == nil || b.b == nil {
		return
	}
	b.b.Destroy()
}

// Copy returns a fresh Buffer holding a copy of b's contents.
func (b *Buffer) Copy() *Buffer {
	if b == nil || b.b == nil {
		return nil
	}
	n := New(b.Len())
	copy(n.Bytes(), b.Bytes())
	return n
}
