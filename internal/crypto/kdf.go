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

package crypto

import (
	"crypto/aes"
	"sync"

	"golang.org/x/crypto/argon2"
)

// AESKDF transforms a 32-byte composite key by running rounds of
// single-block AES-ECB encryption, keyed by seed, over each 16-byte
// half independently, then hashing the two results together. This is
// the "transform" step shared by KDBX3's header-level KDF and KDBX4's
// AES-KDBX3/AES-KDBX4 KdfParameters selectors.
func AESKDF(composite [32]byte, seed []byte, rounds uint64) ([32]byte, error) {
	c, err := aes.NewCipher(seed)
	if err != nil {
		return [32]byte{}, err
	}
	var tk [32]byte
	var wg sync.WaitGroup
	wg.Add(2)
	go transformHalf(&wg, tk[:16], composite[:16], c, rounds)
	go transformHalf(&wg, tk[16:], composite[16:], c, rounds)
	wg.Wait()
	return SHA256(tk[:16], tk[16:]), nil
}

func transformHalf(wg *sync.WaitGroup, dst, src []byte, c cipherBlock, rounds uint64) {
	defer wg.Done()
	copy(dst, src)
	for i := uint64(0); i < rounds; i++ {
		c.Encrypt(dst, dst)
	}
}

// cipherBlock is the subset of cipher.Block AESKDF needs; declared
// locally so tests can substitute a counting fake.
type cipherBlock interface {
	Encrypt(dst, src []byte)
}

// Argon2Params mirrors the Argon2 fields KDBX4's KdfParameters
// variant dictionary carries for the Argon2d/Argon2id selectors.
type Argon2Params struct {
	Salt        []byte
	Iterations  uint64
	Memory      uint64 // KiB
	Parallelism uint64
	Version     uint64
	Secret      []byte
	AssocData   []byte
}

// Argon2id derives a 32-byte key from the composite key using the
// given parameters. x/crypto/argon2 always computes version 0x13 and
// takes no secret or associated data, so p.Version, p.Secret and
// p.AssocData have no effect on the result of this function.
func Argon2id(composite [32]byte, p Argon2Params) [32]byte {
	var out [32]byte
	copy(out[:], argon2.IDKey(composite[:], p.Salt, uint32(p.Iterations), uint32(p.Memory), uint8(p.Parallelism), 32))
	return out
}

// Argon2d derives a 32-byte key the same way, but using the
// data-dependent addressing variant. x/crypto/argon2 deliberately
// implements only Argon2i and Argon2id (Argon2d's addressing is
// considered more side-channel-prone), so this goes through the
// engine in argon2d.go instead.
func Argon2d(composite [32]byte, p Argon2Params) [32]byte {
	return argon2dKey(composite[:], p)
}
