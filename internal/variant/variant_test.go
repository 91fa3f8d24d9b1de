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

package variant

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	d := New()
	d.Set("S", []byte{1, 2, 3, 4, 5, 6, 7, 8})
	d.Set("I", uint64(2))
	d.Set("M", uint64(65536))
	d.Set("P", uint32(2))
	d.Set("V", uint32(0x13))
	d.Set("$UUID", []byte{0xef, 0x63, 0x6d, 0xdf})

	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, k := range d.Keys() {
		want, _ := d.Get(k)
		gv, ok := got.Get(k)
		if !ok {
			t.Errorf("key %q missing after round-trip", k)
			continue
		}
		if !equalValue(want, gv) {
			t.Errorf("key %q: got %#v, want %#v", k, gv, want)
		}
	}
}

func equalValue(a, b interface{}) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok && bok {
		return bytes.Equal(ab, bb)
	}
	return a == b
}

func TestDecodeWrongVersion(t *testing.T) {
	buf := []byte{0x00, 0x02, 0x00}
	if _, err := Decode(bytes.NewReader(buf)); err != ErrVersion {
		t.Errorf("Decode: got %v, want ErrVersion", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01})  // version
	buf.Write([]byte{0x99})        // unknown type
	buf.Write([]byte{1, 0, 0, 0})  // key len
	buf.Write([]byte{'x'})         // key
	buf.Write([]byte{0, 0, 0, 0})  // value len

	if _, err := Decode(&buf); err != ErrUnknownType {
		t.Errorf("Decode: got %v, want ErrUnknownType", err)
	}
}

func TestDecodeDuplicateKey(t *testing.T) {
	d := New()
	d.Set("K", uint32(1))
	var buf bytes.Buffer
	d.Encode(&buf)
	encoded := buf.Bytes()

	// Splice a second identical record before the terminator.
	record := encoded[2 : len(encoded)-1]
	var dup bytes.Buffer
	dup.Write(encoded[:2])
	dup.Write(record)
	dup.Write(record)
	dup.Write([]byte{0})

	if _, err := Decode(&dup); err != ErrDuplicateKey {
		t.Errorf("Decode: got %v, want ErrDuplicateKey", err)
	}
}
