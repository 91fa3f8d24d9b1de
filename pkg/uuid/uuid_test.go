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

package uuid

import (
	"bytes"
	"testing"
)

var hexTests = []struct {
	u UUID
	s string
}{
	{
		UUID{},
		"00000000-0000-0000-0000-000000000000",
	},
	{
		UUID{0xf8, 0x1d, 0x4f, 0xae, 0x7d, 0xec, 0x11, 0xd0, 0xa7, 0x65, 0x00, 0xa0, 0xc9, 0x1e, 0x6b, 0xf6},
		"f81d4fae-7dec-11d0-a765-00a0c91e6bf6",
	},
}

func TestParse(t *testing.T) {
	for _, test := range hexTests {
		u, err := Parse(test.s)
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", test.s, err)
		}
		if u != test.u {
			t.Errorf("Parse(%q) = %v; want %v", test.s, u, test.u)
		}
	}

	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") did not return an error")
	}
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Error("Parse(\"not-a-uuid\") did not return an error")
	}
}

func TestString(t *testing.T) {
	for _, test := range hexTests {
		s := test.u.String()
		if s != test.s {
			t.Errorf("%v.String() = %q; want %q", test.u, s, test.s)
		}
	}
}

func TestBase64RoundTrip(t *testing.T) {
	u := UUID{0xf8, 0x1d, 0x4f, 0xae, 0x7d, 0xec, 0x11, 0xd0, 0xa7, 0x65, 0x00, 0xa0, 0xc9, 0x1e, 0x6b, 0xf6}
	s := u.Base64()
	got, err := FromBase64(s)
	if err != nil {
		t.Fatalf("FromBase64(%q): %v", s, err)
	}
	if got != u {
		t.Errorf("FromBase64(Base64()) = %v; want %v", got, u)
	}
}

func TestFromBase64WrongSize(t *testing.T) {
	if _, err := FromBase64("AAAA"); err == nil {
		t.Error("FromBase64 of a short value did not return an error")
	}
}

func TestNewIsRandomAndVersioned(t *testing.T) {
	u1, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	u2, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if u1 == u2 {
		t.Error("New() produced the same UUID twice")
	}
	if bytes.Equal(u1[:], make([]byte, Size)) {
		t.Error("New() produced the nil UUID")
	}
	if u1[6]&0xf0 != 0x40 {
		t.Errorf("New() version nibble = %x; want 4", u1[6]&0xf0)
	}
}

func TestIsZero(t *testing.T) {
	if !(UUID{}).IsZero() {
		t.Error("zero value UUID is not IsZero")
	}
	u, _ := New(nil)
	if u.IsZero() {
		t.Error("random UUID reported IsZero")
	}
}
