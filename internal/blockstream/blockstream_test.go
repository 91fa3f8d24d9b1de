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

package blockstream

import (
	"bytes"
	"io"
	"testing"
)

func TestHashedStreamRoundTrip(t *testing.T) {
	plain := bytes.Repeat([]byte("the quick brown fox "), 100000) // spans several blocks

	var framed bytes.Buffer
	w := HashedWriter(&framed)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := io.ReadAll(HashedReader(&framed))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("hashed block stream round trip did not reproduce the input")
	}
}

func TestHashedReaderDetectsCorruption(t *testing.T) {
	plain := []byte("some plaintext")
	var framed bytes.Buffer
	w := HashedWriter(&framed)
	w.Write(plain)
	w.Close()

	corrupted := framed.Bytes()
	corrupted[40] ^= 0xff // a byte inside the block's data payload

	_, err := io.ReadAll(HashedReader(bytes.NewReader(corrupted)))
	if err != ErrHashMismatch {
		t.Errorf("HashedReader with tampered data: got %v, want ErrHashMismatch", err)
	}
}

func TestHashedReaderDetectsOutOfOrderIndex(t *testing.T) {
	plain := []byte("some plaintext")
	var framed bytes.Buffer
	w := HashedWriter(&framed)
	w.Write(plain)
	w.Close()

	corrupted := framed.Bytes()
	corrupted[0] = 5 // block index should start at 0

	_, err := io.ReadAll(HashedReader(bytes.NewReader(corrupted)))
	if err != ErrBadIndex {
		t.Errorf("HashedReader with bad first index: got %v, want ErrBadIndex", err)
	}
}

func testHMACKeyBase() [64]byte {
	var base [64]byte
	copy(base[:], bytes.Repeat([]byte{0x5a}, 64))
	return base
}

func TestHMACStreamRoundTrip(t *testing.T) {
	base := testHMACKeyBase()
	plain := bytes.Repeat([]byte("hmac-authenticated block stream "), 100000)

	var framed bytes.Buffer
	w := HMACWriter(&framed, base)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := io.ReadAll(HMACReader(&framed, base))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("HMAC block stream round trip did not reproduce the input")
	}
}

func TestHMACReaderDetectsWrongKey(t *testing.T) {
	base := testHMACKeyBase()
	plain := []byte("some plaintext")
	var framed bytes.Buffer
	w := HMACWriter(&framed, base)
	w.Write(plain)
	w.Close()

	wrongBase := testHMACKeyBase()
	wrongBase[0] ^= 0xff

	_, err := io.ReadAll(HMACReader(bytes.NewReader(framed.Bytes()), wrongBase))
	if err != ErrHMACMismatch {
		t.Errorf("HMACReader with wrong key: got %v, want ErrHMACMismatch", err)
	}
}

func TestHMACReaderDetectsTamperedData(t *testing.T) {
	base := testHMACKeyBase()
	plain := []byte("some plaintext")
	var framed bytes.Buffer
	w := HMACWriter(&framed, base)
	w.Write(plain)
	w.Close()

	corrupted := framed.Bytes()
	corrupted[40] ^= 0xff // a byte inside the block's data payload

	_, err := io.ReadAll(HMACReader(bytes.NewReader(corrupted), base))
	if err != ErrHMACMismatch {
		t.Errorf("HMACReader with tampered data: got %v, want ErrHMACMismatch", err)
	}
}

func TestHashedWriterExactlyOneBlock(t *testing.T) {
	plain := bytes.Repeat([]byte{0x01}, BlockSize)

	var framed bytes.Buffer
	w := HashedWriter(&framed)
	if _, err := w.Write(plain); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := io.ReadAll(HashedReader(&framed))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Error("a payload exactly BlockSize long should still round-trip")
	}
}
