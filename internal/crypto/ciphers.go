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

// Package crypto collects the deterministic, side-effect-free
// cryptographic primitives the KDBX and KDB pipelines build on: block
// and stream ciphers, hashes, AES-KDF, and Argon2. Higher layers
// (compositekey, header, blockstream, innerstream) depend on this
// package; it depends on nothing above it.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/salsa20/salsa"
	"golang.org/x/crypto/twofish"

	"github.com/gokeepass/kdbx/pkg/cipherio"
	"github.com/gokeepass/kdbx/pkg/padding"
)

// ErrUnknownCipher is returned for an unrecognized outer-cipher UUID.
var ErrUnknownCipher = errors.New("crypto: unknown cipher")

// NewCBCReader wraps r in a PKCS#7-padded CBC decrypting reader using
// the given block cipher constructor (aes.NewCipher or
// twofish.NewCipher), key, and IV.
func NewCBCReader(r io.Reader, newBlock func([]byte) (cipher.Block, error), key, iv []byte) (io.Reader, error) {
	b, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	mode := cipher.NewCBCDecrypter(b, iv)
	return cipherio.NewReader(r, mode, padding.PKCS7), nil
}

// NewCBCWriter is the encrypting counterpart of NewCBCReader.
func NewCBCWriter(w io.Writer, newBlock func([]byte) (cipher.Block, error), key, iv []byte) (io.WriteCloser, error) {
	b, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	mode := cipher.NewCBCEncrypter(b, iv)
	return cipherio.NewWriter(w, mode, padding.PKCS7), nil
}

// AESCBCReader and AESCBCWriter bind NewCBCReader/Writer to AES.
func AESCBCReader(r io.Reader, key, iv []byte) (io.Reader, error) {
	return NewCBCReader(r, aes.NewCipher, key, iv)
}

func AESCBCWriter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	return NewCBCWriter(w, aes.NewCipher, key, iv)
}

// TwofishCBCReader and TwofishCBCWriter bind NewCBCReader/Writer to Twofish.
func TwofishCBCReader(r io.Reader, key, iv []byte) (io.Reader, error) {
	return NewCBCReader(r, newTwofishCipher, key, iv)
}

func TwofishCBCWriter(w io.Writer, key, iv []byte) (io.WriteCloser, error) {
	return NewCBCWriter(w, newTwofishCipher, key, iv)
}

// newTwofishCipher adapts twofish.NewCipher to the func([]byte)
// (cipher.Block, error) shape NewCBCReader/Writer expect.
func newTwofishCipher(key []byte) (cipher.Block, error) {
	return twofish.NewCipher(key)
}

// ChaCha20Stream returns a cipher.Stream over key and a 12-byte nonce
// with the given initial block counter, as used for both the outer
// ChaCha20 cipher and the KDBX4 inner-stream keystream.
func ChaCha20Stream(key, nonce []byte, counter uint32) (cipher.Stream, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	if counter != 0 {
		c.SetCounter(counter)
	}
	return chachaStream{c}, nil
}

type chachaStream struct {
	c *chacha20.Cipher
}

func (s chachaStream) XORKeyStream(dst, src []byte) {
	s.c.XORKeyStream(dst, src)
}

// Salsa20Stream returns a keystream reader producing the Salsa20
// stream for key (32 bytes) and an 8-byte nonce, counter starting at 0.
// x/crypto/salsa20 only exposes whole-message XOR, not an incremental
// cipher.Stream, so this generates keystream one 64-byte block at a
// time by calling the salsa subpackage's XORKeyStream with an explicit
// block counter.
func Salsa20Stream(key [32]byte, nonce [8]byte) cipher.Stream {
	return &salsa20Stream{key: key, nonce: nonce}
}

type salsa20Stream struct {
	key     [32]byte
	nonce   [8]byte
	counter uint64
	block   [64]byte
	off     int
}

func (s *salsa20Stream) XORKeyStream(dst, src []byte) {
	for i := 0; i < len(src); i++ {
		if s.off == 0 {
			var in [16]byte
			copy(in[:8], s.nonce[:])
			putUint64LE(in[8:], s.counter)
			var zero [64]byte
			salsa.XORKeyStream(s.block[:], zero[:], &in, &s.key)
			s.counter++
		}
		dst[i] = src[i] ^ s.block[s.off]
		s.off = (s.off + 1) % 64
	}
}

// sigma32 is Salsa20's reference "expand 32-byte k" constant for the
// 256-bit key case. Salsa20Stream does not reference it:
// salsa.XORKeyStream applies this constant itself.
var sigma32 = [16]byte{'e', 'x', 'p', 'a', 'n', 'd', ' ', '3', '2', '-', 'b', 'y', 't', 'e', ' ', 'k'}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
