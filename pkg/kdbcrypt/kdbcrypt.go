// Copyright 2016 Ross Light
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

// Package kdbcrypt encrypts and decrypts data using the legacy KeePass1
// (KDB) encryption scheme: a composite key (see the compositekey
// package) is put through TransformRounds of single-block AES-256
// encryption, hashed, and folded together with a master seed into the
// key of an AES-256 or Twofish-256 CBC cipher.
package kdbcrypt // import "github.com/gokeepass/kdbx/pkg/kdbcrypt"

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/twofish"

	"github.com/gokeepass/kdbx/pkg/cipherio"
	"github.com/gokeepass/kdbx/pkg/padding"
)

// Errors
var ErrUnknownCipher = errors.New("kdbcrypt: unknown cipher")

// BlockSize is the cipher block size in bytes.
const BlockSize = 16

// Params specifies the decryption values for a KDB file.
type Params struct {
	Key    Key
	Cipher Cipher
	IV     [16]byte
}

// A Key derives the final KDB cipher key from an already-computed
// 32-byte composite key: the master seed is hashed together with the
// composite key after TransformRounds of AES-256 encryption keyed by
// TransformSeed, applied independently to each 16-byte half.
type Key struct {
	Composite       [32]byte
	MasterSeed      [16]byte
	TransformSeed   [32]byte
	TransformRounds uint32
}

// Build derives the final 32-byte cipher key.
func (k *Key) Build() []byte {
	sum := sha256.New()
	sum.Write(k.MasterSeed[:])

	var wg sync.WaitGroup
	wg.Add(2)
	var tk [sha256.Size]byte
	go transformKeyBlock(&wg, tk[:aes.BlockSize], k.Composite[:aes.BlockSize], k.TransformSeed[:], k.TransformRounds)
	go transformKeyBlock(&wg, tk[aes.BlockSize:], k.Composite[aes.BlockSize:], k.TransformSeed[:], k.TransformRounds)
	wg.Wait()
	tk = sha256.Sum256(tk[:])
	sum.Write(tk[:])

	return sum.Sum(nil)
}

// transformKeyBlock applies rounds of AES-256 encryption keyed by seed to src,
// storing the result in dst.
func transformKeyBlock(wg *sync.WaitGroup, dst, src, seed []byte, rounds uint32) {
	dst = dst[:aes.BlockSize]
	copy(dst, src)
	c, err := aes.NewCipher(seed)
	if err != nil {
		panic(err)
	}
	for i := uint32(0); i < rounds; i++ {
		c.Encrypt(dst, dst)
	}
	wg.Done()
}

// Cipher is a cipher algorithm.
type Cipher int

// Available ciphers
const (
	RijndaelCipher Cipher = iota
	TwofishCipher
)

func (c Cipher) cipher(key []byte) (cipher.Block, error) {
	switch c {
	case RijndaelCipher:
		return aes.NewCipher(key)
	case TwofishCipher:
		return twofish.NewCipher(key)
	default:
		return nil, ErrUnknownCipher
	}
}

// NewEncrypter creates a new writer that encrypts to w.  Closing the
// new writer writes the final, padded block but does not close w.
// Exposed for tests; the public API never writes KDB files.
func NewEncrypter(w io.Writer, params *Params) (io.WriteCloser, error) {
	ciph, err := params.Cipher.cipher(params.Key.Build())
	if err != nil {
		return nil, err
	}
	e := cipher.NewCBCEncrypter(ciph, params.IV[:])
	return cipherio.NewWriter(w, e, padding.PKCS7), nil
}

// NewDecrypter creates a new reader that decrypts and strips padding from r.
func NewDecrypter(r io.Reader, params *Params) (io.Reader, error) {
	ciph, err := params.Cipher.cipher(params.Key.Build())
	if err != nil {
		return nil, err
	}
	d := cipher.NewCBCDecrypter(ciph, params.IV[:])
	return cipherio.NewReader(r, d, padding.PKCS7), nil
}
