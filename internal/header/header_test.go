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

package header

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gokeepass/kdbx/internal/variant"
	"github.com/gokeepass/kdbx/model"
)

func kdbxPrefix(major uint16) []byte {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:4], sig1)
	binary.LittleEndian.PutUint32(b[4:8], sig2KDBXRelease)
	binary.LittleEndian.PutUint16(b[8:10], 0)
	binary.LittleEndian.PutUint16(b[10:12], major)
	return b[:]
}

func TestSniffFormats(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
		want model.Format
	}{
		{"KDB", append(kdbxPrefixSig(sig2KDB), 0, 0, 0, 0), model.FormatKDB},
		{"KDBX3", kdbxPrefix(3), model.FormatKDBX3},
		{"KDBX4", kdbxPrefix(4), model.FormatKDBX4},
	}
	for _, test := range tests {
		br := bufio.NewReader(bytes.NewReader(test.b))
		got, err := Sniff(br)
		if err != nil {
			t.Errorf("Sniff(%s): %v", test.name, err)
			continue
		}
		if got != test.want {
			t.Errorf("Sniff(%s) = %v, want %v", test.name, got, test.want)
		}
	}
}

func kdbxPrefixSig(sig2 uint32) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], sig1)
	binary.LittleEndian.PutUint32(b[4:8], sig2)
	return b[:]
}

func TestSniffBadMagic(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader(bytes.Repeat([]byte{0}, 12)))
	if _, err := Sniff(br); err != ErrBadMagic {
		t.Errorf("Sniff of garbage: got %v, want ErrBadMagic", err)
	}
}

func sampleOuter() *Outer {
	d := variant.New()
	d.Set("$UUID", bytes.Repeat([]byte{0x01}, 16))
	d.Set("S", bytes.Repeat([]byte{0x02}, 32))
	d.Set("R", uint64(2))

	return &Outer{
		MinorVersion: 0,
		CipherID:     model.CipherAES256,
		Compression:  model.CompressionGZip,
		MasterSeed:   [32]byte{1, 2, 3, 4},
		EncryptionIV: bytes.Repeat([]byte{0x09}, 16),
		KdfParams:    d,
	}
}

func TestWriteReadOuterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := sampleOuter()
	raw, err := WriteOuter(&buf, want)
	if err != nil {
		t.Fatalf("WriteOuter: %v", err)
	}

	got, err := ReadOuter(&buf)
	if err != nil {
		t.Fatalf("ReadOuter: %v", err)
	}
	if got.MajorVersion != 4 {
		t.Errorf("MajorVersion = %d, want 4", got.MajorVersion)
	}
	if got.CipherID != want.CipherID {
		t.Errorf("CipherID = %v, want %v", got.CipherID, want.CipherID)
	}
	if got.Compression != want.Compression {
		t.Errorf("Compression = %v, want %v", got.Compression, want.Compression)
	}
	if got.MasterSeed != want.MasterSeed {
		t.Errorf("MasterSeed = %v, want %v", got.MasterSeed, want.MasterSeed)
	}
	if !bytes.Equal(got.EncryptionIV, want.EncryptionIV) {
		t.Errorf("EncryptionIV = %x, want %x", got.EncryptionIV, want.EncryptionIV)
	}
	if !bytes.Equal(got.Raw, raw) {
		t.Error("ReadOuter's Raw did not match the bytes WriteOuter reported writing")
	}
	if s, ok := got.KdfParams.Get("S"); !ok || !bytes.Equal(s.([]byte), bytes.Repeat([]byte{0x02}, 32)) {
		t.Error("round-tripped KdfParams lost its S entry")
	}
}

func TestVerifyKDBX4TrailerRoundTrip(t *testing.T) {
	raw := []byte("pretend this is a serialized outer header")
	var key [64]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, 64))

	var buf bytes.Buffer
	if err := WriteKDBX4Trailer(&buf, raw, key); err != nil {
		t.Fatalf("WriteKDBX4Trailer: %v", err)
	}
	if err := VerifyKDBX4(&buf, raw, key); err != nil {
		t.Errorf("VerifyKDBX4 on an untampered trailer: %v", err)
	}
}

func TestVerifyKDBX4DetectsWrongKey(t *testing.T) {
	raw := []byte("pretend this is a serialized outer header")
	var key [64]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, 64))

	var buf bytes.Buffer
	if err := WriteKDBX4Trailer(&buf, raw, key); err != nil {
		t.Fatalf("WriteKDBX4Trailer: %v", err)
	}

	var wrongKey [64]byte
	copy(wrongKey[:], bytes.Repeat([]byte{0x43}, 64))
	if err := VerifyKDBX4(&buf, raw, wrongKey); err != ErrHMACMismatch {
		t.Errorf("VerifyKDBX4 with wrong key: got %v, want ErrHMACMismatch", err)
	}
}

func TestVerifyKDBX4DetectsTamperedRaw(t *testing.T) {
	raw := []byte("pretend this is a serialized outer header")
	var key [64]byte
	copy(key[:], bytes.Repeat([]byte{0x42}, 64))

	var buf bytes.Buffer
	if err := WriteKDBX4Trailer(&buf, raw, key); err != nil {
		t.Fatalf("WriteKDBX4Trailer: %v", err)
	}

	tampered := append([]byte(nil), raw...)
	tampered[0] ^= 0xff
	if err := VerifyKDBX4(&buf, tampered, key); err != ErrSHAMismatch {
		t.Errorf("VerifyKDBX4 with tampered raw: got %v, want ErrSHAMismatch", err)
	}
}

func TestWriteReadInnerRoundTrip(t *testing.T) {
	want := &InnerHeader{
		StreamID:  model.InnerStreamChaCha20,
		StreamKey: bytes.Repeat([]byte{0x07}, 64),
		Binaries: []InnerBinary{
			{Protected: true, Data: []byte("secret attachment")},
			{Protected: false, Data: []byte("public attachment")},
		},
	}

	var buf bytes.Buffer
	if err := WriteInner(&buf, want); err != nil {
		t.Fatalf("WriteInner: %v", err)
	}

	got, err := ReadInner(&buf)
	if err != nil {
		t.Fatalf("ReadInner: %v", err)
	}
	if got.StreamID != want.StreamID {
		t.Errorf("StreamID = %v, want %v", got.StreamID, want.StreamID)
	}
	if !bytes.Equal(got.StreamKey, want.StreamKey) {
		t.Errorf("StreamKey = %x, want %x", got.StreamKey, want.StreamKey)
	}
	if len(got.Binaries) != len(want.Binaries) {
		t.Fatalf("Binaries = %d entries, want %d", len(got.Binaries), len(want.Binaries))
	}
	for i, b := range want.Binaries {
		if got.Binaries[i].Protected != b.Protected || !bytes.Equal(got.Binaries[i].Data, b.Data) {
			t.Errorf("Binaries[%d] = %+v, want %+v", i, got.Binaries[i], b)
		}
	}
}

func TestSetFieldRejectsKDBX3OnlyFieldsInKDBX4(t *testing.T) {
	h := &Outer{MajorVersion: 4}
	err := h.setField(fieldTransformSeed, make([]byte, 32))
	if _, ok := err.(*FieldVersionError); !ok {
		t.Errorf("setField(TransformSeed) on a KDBX4 header: got %v, want *FieldVersionError", err)
	}
}

func TestSetFieldRejectsKDBX4OnlyFieldsInKDBX3(t *testing.T) {
	h := &Outer{MajorVersion: 3}
	d := variant.New()
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		t.Fatalf("encode empty dictionary: %v", err)
	}
	err := h.setField(fieldKdfParameters, buf.Bytes())
	if _, ok := err.(*FieldVersionError); !ok {
		t.Errorf("setField(KdfParameters) on a KDBX3 header: got %v, want *FieldVersionError", err)
	}
}
