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
	"bytes"
	"crypto/aes"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"golang.org/x/crypto/twofish"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex.DecodeString(%q): %v", s, err)
	}
	return b
}

func TestSHA256EmptyInput(t *testing.T) {
	got := SHA256()
	want := mustHex(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if !bytes.Equal(got[:], want) {
		t.Errorf("SHA256() = %x, want %x", got, want)
	}
}

func TestSHA256ConcatenatesParts(t *testing.T) {
	whole := SHA256([]byte("hello world"))
	split := SHA256([]byte("hello "), []byte("world"))
	if whole != split {
		t.Error("SHA256 of split parts should match SHA256 of the concatenation")
	}
}

func TestSHA512EmptyInput(t *testing.T) {
	got := SHA512()
	want := mustHex(t, "cf83e1357eefb8bdf1542850d66d8007d620e4050b5715dc83f4a921d36ce9ce47d0d13c5d85f2b0ff8318d2877eec2f63b931bd47417a81a538327af927da3e")
	if !bytes.Equal(got[:], want) {
		t.Errorf("SHA512() = %x, want %x", got, want)
	}
}

// RFC 4231 test case 1.
func TestHMACSHA256RFC4231Case1(t *testing.T) {
	key := bytes.Repeat([]byte{0x0b}, 20)
	got := HMACSHA256(key, []byte("Hi There"))
	want := mustHex(t, "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7")
	if !bytes.Equal(got[:], want) {
		t.Errorf("HMACSHA256 = %x, want %x", got, want)
	}
}

func TestHMACSHA256ConcatenatesParts(t *testing.T) {
	key := []byte("key")
	whole := HMACSHA256(key, []byte("abcdef"))
	split := HMACSHA256(key, []byte("abc"), []byte("def"))
	if whole != split {
		t.Error("HMACSHA256 of split parts should match HMACSHA256 of the concatenation")
	}
}

func TestAESKDFDeterministicAndSeedSensitive(t *testing.T) {
	var composite [32]byte
	copy(composite[:], []byte("0123456789abcdef0123456789abcde"))
	seed1 := bytes.Repeat([]byte{0x01}, 32)
	seed2 := bytes.Repeat([]byte{0x02}, 32)

	a, err := AESKDF(composite, seed1, 100)
	if err != nil {
		t.Fatalf("AESKDF: %v", err)
	}
	b, err := AESKDF(composite, seed1, 100)
	if err != nil {
		t.Fatalf("AESKDF: %v", err)
	}
	if a != b {
		t.Error("AESKDF should be deterministic for identical inputs")
	}

	c, err := AESKDF(composite, seed2, 100)
	if err != nil {
		t.Fatalf("AESKDF: %v", err)
	}
	if a == c {
		t.Error("AESKDF outputs should differ when the seed differs")
	}

	d, err := AESKDF(composite, seed1, 200)
	if err != nil {
		t.Fatalf("AESKDF: %v", err)
	}
	if a == d {
		t.Error("AESKDF outputs should differ when the round count differs")
	}
}

func TestAESKDFBadSeedLength(t *testing.T) {
	var composite [32]byte
	if _, err := AESKDF(composite, []byte("too short"), 1); err == nil {
		t.Error("AESKDF with a non-AES-key-length seed: got nil error")
	}
}

func argon2Params() Argon2Params {
	return Argon2Params{
		Salt:        bytes.Repeat([]byte{0x02}, 16),
		Iterations:  2,
		Memory:      1024, // KiB; kept tiny so the test runs quickly
		Parallelism: 1,
		Version:     0x13,
	}
}

func TestArgon2idDeterministicAndSaltSensitive(t *testing.T) {
	var composite [32]byte
	copy(composite[:], bytes.Repeat([]byte{0x01}, 32))
	p := argon2Params()

	a := Argon2id(composite, p)
	b := Argon2id(composite, p)
	if a != b {
		t.Error("Argon2id should be deterministic for identical inputs")
	}

	p2 := p
	p2.Salt = bytes.Repeat([]byte{0x03}, 16)
	c := Argon2id(composite, p2)
	if a == c {
		t.Error("Argon2id outputs should differ when the salt differs")
	}
}

func TestArgon2dDeterministicAndSaltSensitive(t *testing.T) {
	var composite [32]byte
	copy(composite[:], bytes.Repeat([]byte{0x01}, 32))
	p := argon2Params()

	a := Argon2d(composite, p)
	b := Argon2d(composite, p)
	if a != b {
		t.Error("Argon2d should be deterministic for identical inputs")
	}

	p2 := p
	p2.Salt = bytes.Repeat([]byte{0x03}, 16)
	c := Argon2d(composite, p2)
	if a == c {
		t.Error("Argon2d outputs should differ when the salt differs")
	}

	if id := Argon2id(composite, p); id == a {
		t.Error("Argon2d and Argon2id should not agree on the same inputs")
	}
}

func TestAESCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, aes.BlockSize)
	plain := []byte("the quick brown fox jumps over the lazy dog, twice")

	var ciphertext bytes.Buffer
	w, err := AESCBCWriter(&ciphertext, key, iv)
	if err != nil {
		t.Fatalf("AESCBCWriter: %v", err)
	}
	if _, err := io.Copy(w, strings.NewReader(string(plain))); err != nil {
		t.Fatalf("write plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := AESCBCReader(bytes.NewReader(ciphertext.Bytes()), key, iv)
	if err != nil {
		t.Fatalf("AESCBCReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read plaintext: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("AES-CBC round trip = %q, want %q", got, plain)
	}
}

func TestTwofishCBCRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	iv := bytes.Repeat([]byte{0x44}, twofish.BlockSize)
	plain := []byte("twofish framing must survive a round trip unmodified")

	var ciphertext bytes.Buffer
	w, err := TwofishCBCWriter(&ciphertext, key, iv)
	if err != nil {
		t.Fatalf("TwofishCBCWriter: %v", err)
	}
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write plaintext: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := TwofishCBCReader(bytes.NewReader(ciphertext.Bytes()), key, iv)
	if err != nil {
		t.Fatalf("TwofishCBCReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read plaintext: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Errorf("Twofish-CBC round trip = %q, want %q", got, plain)
	}
}

func TestChaCha20StreamRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x55}, 32)
	nonce := bytes.Repeat([]byte{0x66}, 12)
	plain := []byte("chacha20 keystream round trip")

	enc, err := ChaCha20Stream(key, nonce, 0)
	if err != nil {
		t.Fatalf("ChaCha20Stream: %v", err)
	}
	ciphertext := make([]byte, len(plain))
	enc.XORKeyStream(ciphertext, plain)

	dec, err := ChaCha20Stream(key, nonce, 0)
	if err != nil {
		t.Fatalf("ChaCha20Stream: %v", err)
	}
	got := make([]byte, len(ciphertext))
	dec.XORKeyStream(got, ciphertext)

	if !bytes.Equal(got, plain) {
		t.Errorf("ChaCha20 round trip = %q, want %q", got, plain)
	}
}

func TestSalsa20StreamRoundTrip(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x77}, 32))
	var nonce [8]byte
	copy(nonce[:], bytes.Repeat([]byte{0x88}, 8))
	plain := []byte("salsa20 keystream must XOR back to the original message")

	enc := Salsa20Stream(key, nonce)
	ciphertext := make([]byte, len(plain))
	enc.XORKeyStream(ciphertext, plain)

	dec := Salsa20Stream(key, nonce)
	got := make([]byte, len(ciphertext))
	dec.XORKeyStream(got, ciphertext)

	if !bytes.Equal(got, plain) {
		t.Errorf("Salsa20 round trip = %q, want %q", got, plain)
	}
}

func TestSalsa20StreamCrossesBlockBoundary(t *testing.T) {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x99}, 32))
	var nonce [8]byte
	plain := bytes.Repeat([]byte{0xaa}, 200) // > one 64-byte Salsa20 block

	enc := Salsa20Stream(key, nonce)
	ciphertext := make([]byte, len(plain))
	enc.XORKeyStream(ciphertext, plain)

	dec := Salsa20Stream(key, nonce)
	got := make([]byte, len(ciphertext))
	dec.XORKeyStream(got, ciphertext)

	if !bytes.Equal(got, plain) {
		t.Error("Salsa20 keystream did not round-trip across a block boundary")
	}
}
