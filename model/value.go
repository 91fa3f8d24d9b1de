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

package model

import "github.com/gokeepass/kdbx/pkg/secbuf"

// Value is an entry field's value: plaintext, inner-stream protected,
// or a reference into the database's binary pool.
type Value interface {
	// IsProtected reports whether the field must never be serialized
	// in cleartext.
	IsProtected() bool
}

// PlainValue is an ordinary unprotected string field.
type PlainValue string

// IsProtected implements Value.
func (PlainValue) IsProtected() bool { return false }

// ProtectedValue is a field whose plaintext lives in a zeroizing
// buffer and whose on-disk bytes are masked with the inner keystream.
type ProtectedValue struct {
	buf *secbuf.Buffer
}

// NewProtectedValue copies s into a zeroizing buffer.
func NewProtectedValue(s string) ProtectedValue {
	return ProtectedValue{buf: secbuf.NewFromBytes([]byte(s))}
}

// IsProtected implements Value.
func (ProtectedValue) IsProtected() bool { return true }

// String returns a copy of the plaintext. The caller is responsible
// for scrubbing any copy it retains; the ProtectedValue's own buffer
// is unaffected and remains zeroized on Destroy.
func (p ProtectedValue) String() string {
	if p.buf == nil {
		return ""
	}
	return string(p.buf.Bytes())
}

// Destroy wipes the protected buffer. Safe to call on a zero ProtectedValue.
func (p ProtectedValue) Destroy() {
	p.buf.Destroy()
}

// BinaryRef is an entry field that references an attachment in the
// database's BinaryPool by id. Name is the filename KeePass shows the
// user (the <Binary Key="..."> element), independent of the pool id.
type BinaryRef struct {
	Name string
	ID   int
}

// IsProtected implements Value. Whether the underlying attachment
// bytes are protected is a property of the BinaryPool entry, not of
// the reference itself.
func (BinaryRef) IsProtected() bool { return false }

// StringField is one <String> child of an Entry: a named value that is
// either plaintext or inner-stream protected.
type StringField struct {
	Key   string
	Value Value
}
