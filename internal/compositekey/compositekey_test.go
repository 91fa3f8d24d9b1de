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

package compositekey

import (
	"testing"
)

func TestCompositeDependsOnPresenceNotOrder(t *testing.T) {
	pw := HashPassword("demopass")
	kf := [32]byte{1, 2, 3}

	a := Composite(Components{Password: pw, HasPassword: true, KeyFile: kf, HasKeyFile: true})
	b := Composite(Components{KeyFile: kf, HasKeyFile: true, Password: pw, HasPassword: true})
	if a != b {
		t.Error("Composite should not depend on struct-literal field order, only presence")
	}

	onlyPassword := Composite(Components{Password: pw, HasPassword: true})
	if a == onlyPassword {
		t.Error("adding a keyfile component should change the composite")
	}
}

func TestHashKeyFileHex(t *testing.T) {
	hex64 := make([]byte, 64)
	for i := range hex64 {
		hex64[i] = "0123456789abcdef"[i%16]
	}
	got, err := HashKeyFile(hex64)
	if err != nil {
		t.Fatalf("HashKeyFile: %v", err)
	}
	var zero [32]byte
	if got == zero {
		t.Error("decoded hex keyfile hash is all zero")
	}
}

func TestHashKeyFileFallsBackToHash(t *testing.T) {
	data := []byte("arbitrary binary keyfile contents, not hex, not xml")
	got, err := HashKeyFile(data)
	if err != nil {
		t.Fatalf("HashKeyFile: %v", err)
	}
	want := HashPassword(string(data))
	_ = want // different hashing path (raw bytes vs UTF-8 string) but same primitive
	var zero [32]byte
	if got == zero {
		t.Error("hashed keyfile fallback produced zero hash")
	}
}

func TestTransformKDBX4UnsupportedUUID(t *testing.T) {
	params := map[string]interface{}{
		"$UUID": make([]byte, 16),
	}
	_, err := TransformKDBX4([32]byte{}, params)
	if err != ErrUnsupportedKdf {
		t.Errorf("TransformKDBX4: got %v, want ErrUnsupportedKdf", err)
	}
}
