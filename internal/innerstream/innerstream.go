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

// Package innerstream implements the inner-stream keystream that
// masks protected field values inside the KDBX XML: a Salsa20 or
// ChaCha20 cipher seeded from the header's InnerRandomStreamKey. The
// same keystream is consumed by both directions (encode and decode)
// in the strict document order the protected fields appear in the
// XML; Codec exposes exactly one stateful cursor over that keystream
// so the xml binding layer can't accidentally reorder consumption.
package innerstream

import (
	"crypto/cipher"
	"errors"

	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/model"
)

// ErrUnknownStream is returned for an InnerStream id this package
// doesn't implement.
var ErrUnknownStream = errors.New("innerstream: unknown inner stream cipher")

// salsa20Nonce is the fixed nonce mainline KeePass uses for the
// Salsa20 inner stream; it is safe only because the key itself is
// freshly random per file.
var salsa20Nonce = [8]byte{0xE8, 0x30, 0x09, 0x4B, 0x97, 0x20, 0x5D, 0x2A}

// Codec is a single-direction cursor over an inner-stream keystream.
// XOR is its own inverse, so the same Codec masks on encode and
// unmasks on decode; callers must feed it protected values in the
// exact document order they appear in the XML, and never rewind.
type Codec struct {
	stream cipher.Stream
}

// New builds a Codec for the given inner-stream cipher id and raw
// header key bytes.
func New(id model.InnerStream, key []byte) (*Codec, error) {
	switch id {
	case model.InnerStreamSalsa20:
		sum := crypto.SHA256(key)
		return &Codec{stream: crypto.Salsa20Stream(sum, salsa20Nonce)}, nil
	case model.InnerStreamChaCha20:
		sum := crypto.SHA512(key)
		s, err := crypto.ChaCha20Stream(sum[:32], sum[32:44], 0)
		if err != nil {
			return nil, err
		}
		return &Codec{stream: s}, nil
	default:
		return nil, ErrUnknownStream
	}
}

// XOR consumes len(data) bytes of keystream and returns data XORed
// against them: ciphertext in, plaintext out, or the reverse.
func (c *Codec) XOR(data []byte) []byte {
	out := make([]byte, len(data))
	c.stream.XORKeyStream(out, data)
	return out
}
