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

// Package header parses and emits the outer KDBX header (the magic
// prefix, version fields, and TLV record stream that precede the
// ciphertext) and the KDBX4 inner header (the TLV stream that
// precedes the inner XML once the ciphertext has been decrypted and
// decompressed). It also verifies the KDBX4 outer header's trailing
// SHA-256 and HMAC-SHA256 checksums.
//
// Package header knows nothing about key derivation or ciphertext
// framing; it is the byte-level TLV layer that blockstream, innerstream,
// and the top-level facade build on.
package header

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/internal/variant"
	"github.com/gokeepass/kdbx/model"
)

// Magic numbers. KDB (KeePass 1.x) and KDBX (KeePass 2.x) share the
// first signature dword but differ on the second. A KDBX pre-release
// second signature is recognized but rejected by default: it predates
// the released header layout this package implements.
const (
	sig1 uint32 = 0x9AA2D903

	sig2KDB           uint32 = 0xB54BFB65
	sig2KDBXPrerelease uint32 = 0xB54BFB66
	sig2KDBXRelease    uint32 = 0xB54BFB67
)

// Outer header field ids, shared between KDBX3 and KDBX4 (not every id
// is valid in both).
const (
	fieldEndOfHeader        = 0
	fieldComment            = 1
	fieldCipherID           = 2
	fieldCompressionFlags   = 3
	fieldMasterSeed         = 4
	fieldTransformSeed      = 5
	fieldTransformRounds    = 6
	fieldEncryptionIV       = 7
	fieldInnerStreamKey     = 8
	fieldStreamStartBytes   = 9
	fieldInnerStreamID      = 10
	fieldKdfParameters      = 11
	fieldPublicCustomData   = 12
)

// Inner header field ids (KDBX4 only).
const (
	InnerFieldEnd             = 0
	InnerFieldStreamID        = 1
	InnerFieldStreamKey       = 2
	InnerFieldBinary          = 3
)

var (
	// ErrBadMagic is returned when the first 4 bytes don't match any
	// recognized signature.
	ErrBadMagic = errors.New("header: not a KeePass file")
	// ErrPrerelease is returned for a pre-release KDBX signature,
	// which this package doesn't parse.
	ErrPrerelease = errors.New("header: pre-release KDBX file format is not supported")
	// ErrUnsupportedVersion is returned when the major version isn't 3 or 4.
	ErrUnsupportedVersion = errors.New("header: unsupported KDBX major version")
	// ErrTruncated is returned when the stream ends inside a header record.
	ErrTruncated = errors.New("header: truncated header")
	// ErrUnknownField is returned for a field id not recognized for the
	// header's version.
	ErrUnknownField = errors.New("header: unrecognized field id")
	// ErrBadFieldLength is returned when a fixed-size field's length
	// doesn't match its expected size.
	ErrBadFieldLength = errors.New("header: wrong field length")
	// ErrSHAMismatch means the header's own integrity hash didn't
	// verify: the file is corrupt, independent of key correctness.
	ErrSHAMismatch = errors.New("header: SHA-256 checksum mismatch")
	// ErrHMACMismatch means the header's HMAC didn't verify: either
	// the key is wrong or the file has been tampered with. The two
	// are cryptographically indistinguishable.
	ErrHMACMismatch = errors.New("header: HMAC-SHA256 mismatch")
)

// FieldVersionError reports a header field used with the wrong major version.
type FieldVersionError struct {
	Field   string
	Version int
}

func (e *FieldVersionError) Error() string {
	return fmt.Sprintf("header: field %s is not valid in KDBX%d", e.Field, e.Version)
}

// Sniff peeks at the first 12 bytes of br without consuming them and
// reports which on-disk format they identify.
func Sniff(br *bufio.Reader) (model.Format, error) {
	b, err := br.Peek(12)
	if err != nil {
		return 0, err
	}
	s1 := binary.LittleEndian.Uint32(b[0:4])
	s2 := binary.LittleEndian.Uint32(b[4:8])
	if s1 != sig1 {
		return 0, ErrBadMagic
	}
	switch s2 {
	case sig2KDB:
		return model.FormatKDB, nil
	case sig2KDBXPrerelease:
		return 0, ErrPrerelease
	case sig2KDBXRelease:
		major := binary.LittleEndian.Uint16(b[10:12])
		switch major {
		case 3:
			return model.FormatKDBX3, nil
		case 4:
			return model.FormatKDBX4, nil
		default:
			return 0, ErrUnsupportedVersion
		}
	default:
		return 0, ErrBadMagic
	}
}

// Outer is a decoded outer KDBX header.
type Outer struct {
	MajorVersion uint16
	MinorVersion uint16

	CipherID    model.UUID
	Compression model.Compression
	MasterSeed  [32]byte
	EncryptionIV []byte

	// KDBX3-only fields.
	TransformSeed    [32]byte
	TransformRounds  uint64
	InnerStreamKey   []byte
	StreamStartBytes []byte
	InnerStreamID    model.InnerStream

	// KDBX4-only fields.
	KdfParams        *variant.Dictionary
	PublicCustomData *variant.Dictionary

	// Raw holds every byte consumed while reading the header
	// (signature, version, and TLV stream through the terminator),
	// exactly as they appeared on the wire. KDBX4 authenticates
	// these bytes with a trailing SHA-256 and HMAC-SHA256.
	Raw []byte
}

// ReadOuter consumes the magic prefix, version fields, and TLV record
// stream from r, dispatching on the major version already identified
// by Sniff. It does not consume or verify the KDBX4 trailing SHA/HMAC;
// call VerifyKDBX4 for that once the caller has a key.
func ReadOuter(r io.Reader) (*Outer, error) {
	var raw bytes.Buffer
	tr := io.TeeReader(r, &raw)

	var prefix [12]byte
	if _, err := io.ReadFull(tr, prefix[:]); err != nil {
		return nil, fmt.Errorf("header: read prefix: %w", err)
	}
	s1 := binary.LittleEndian.Uint32(prefix[0:4])
	s2 := binary.LittleEndian.Uint32(prefix[4:8])
	if s1 != sig1 || s2 != sig2KDBXRelease {
		return nil, ErrBadMagic
	}
	h := &Outer{
		MinorVersion: binary.LittleEndian.Uint16(prefix[8:10]),
		MajorVersion: binary.LittleEndian.Uint16(prefix[10:12]),
	}
	switch h.MajorVersion {
	case 3, 4:
	default:
		return nil, ErrUnsupportedVersion
	}

	lengthSize := 2
	if h.MajorVersion == 4 {
		lengthSize = 4
	}

	for {
		var idBuf [1]byte
		if _, err := io.ReadFull(tr, idBuf[:]); err != nil {
			return nil, fmt.Errorf("header: read field id: %w", err)
		}
		id := idBuf[0]

		var length int
		if lengthSize == 2 {
			var lb [2]byte
			if _, err := io.ReadFull(tr, lb[:]); err != nil {
				return nil, ErrTruncated
			}
			length = int(binary.LittleEndian.Uint16(lb[:]))
		} else {
			var lb [4]byte
			if _, err := io.ReadFull(tr, lb[:]); err != nil {
				return nil, ErrTruncated
			}
			length = int(binary.LittleEndian.Uint32(lb[:]))
		}

		val := make([]byte, length)
		if _, err := io.ReadFull(tr, val); err != nil {
			return nil, ErrTruncated
		}

		if id == fieldEndOfHeader {
			h.Raw = append([]byte(nil), raw.Bytes()...)
			return h, nil
		}
		if err := h.setField(id, val); err != nil {
			return nil, err
		}
	}
}

func (h *Outer) setField(id byte, val []byte) error {
	kdbx3only := func(name string) error {
		if h.MajorVersion != 3 {
			return &FieldVersionError{Field: name, Version: int(h.MajorVersion)}
		}
		return nil
	}
	kdbx4only := func(name string) error {
		if h.MajorVersion != 4 {
			return &FieldVersionError{Field: name, Version: int(h.MajorVersion)}
		}
		return nil
	}

	switch id {
	case fieldComment:
		// Free-form, ignored.
	case fieldCipherID:
		if len(val) != 16 {
			return ErrBadFieldLength
		}
		copy(h.CipherID[:], val)
	case fieldCompressionFlags:
		if len(val) != 4 {
			return ErrBadFieldLength
		}
		h.Compression = model.Compression(binary.LittleEndian.Uint32(val))
	case fieldMasterSeed:
		if len(val) != 32 {
			return ErrBadFieldLength
		}
		copy(h.MasterSeed[:], val)
	case fieldTransformSeed:
		if err := kdbx3only("TransformSeed"); err != nil {
			return err
		}
		if len(val) != 32 {
			return ErrBadFieldLength
		}
		copy(h.TransformSeed[:], val)
	case fieldTransformRounds:
		if err := kdbx3only("TransformRounds"); err != nil {
			return err
		}
		if len(val) != 8 {
			return ErrBadFieldLength
		}
		h.TransformRounds = binary.LittleEndian.Uint64(val)
	case fieldEncryptionIV:
		h.EncryptionIV = append([]byte(nil), val...)
	case fieldInnerStreamKey:
		if err := kdbx3only("InnerRandomStreamKey"); err != nil {
			return err
		}
		h.InnerStreamKey = append([]byte(nil), val...)
	case fieldStreamStartBytes:
		if err := kdbx3only("StreamStartBytes"); err != nil {
			return err
		}
		h.StreamStartBytes = append([]byte(nil), val...)
	case fieldInnerStreamID:
		if err := kdbx3only("InnerRandomStreamID"); err != nil {
			return err
		}
		if len(val) != 4 {
			return ErrBadFieldLength
		}
		h.InnerStreamID = model.InnerStream(binary.LittleEndian.Uint32(val))
	case fieldKdfParameters:
		if err := kdbx4only("KdfParameters"); err != nil {
			return err
		}
		d, err := variant.Decode(bytes.NewReader(val))
		if err != nil {
			return err
		}
		h.KdfParams = d
	case fieldPublicCustomData:
		if err := kdbx4only("PublicCustomData"); err != nil {
			return err
		}
		d, err := variant.Decode(bytes.NewReader(val))
		if err != nil {
			return err
		}
		h.PublicCustomData = d
	default:
		return ErrUnknownField
	}
	return nil
}

// WriteOuter emits a KDBX4 outer header (magic, version 4.0, and the
// TLV record stream in a fixed, deterministic field order) to w and
// returns the exact bytes written, for the caller to feed to SHA-256
// and HMAC-SHA256.
func WriteOuter(w io.Writer, h *Outer) ([]byte, error) {
	var buf bytes.Buffer

	var prefix [12]byte
	binary.LittleEndian.PutUint32(prefix[0:4], sig1)
	binary.LittleEndian.PutUint32(prefix[4:8], sig2KDBXRelease)
	binary.LittleEndian.PutUint16(prefix[8:10], h.MinorVersion)
	binary.LittleEndian.PutUint16(prefix[10:12], 4)
	buf.Write(prefix[:])

	writeField := func(id byte, val []byte) {
		buf.WriteByte(id)
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(val)))
		buf.Write(lb[:])
		buf.Write(val)
	}

	writeField(fieldCipherID, h.CipherID[:])
	var comp [4]byte
	binary.LittleEndian.PutUint32(comp[:], uint32(h.Compression))
	writeField(fieldCompressionFlags, comp[:])
	writeField(fieldMasterSeed, h.MasterSeed[:])
	writeField(fieldEncryptionIV, h.EncryptionIV)

	var kdfBuf bytes.Buffer
	if err := h.KdfParams.Encode(&kdfBuf); err != nil {
		return nil, err
	}
	writeField(fieldKdfParameters, kdfBuf.Bytes())

	if h.PublicCustomData != nil {
		var pcd bytes.Buffer
		if err := h.PublicCustomData.Encode(&pcd); err != nil {
			return nil, err
		}
		writeField(fieldPublicCustomData, pcd.Bytes())
	}

	writeField(fieldEndOfHeader, nil)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// VerifyKDBX4 reads the 32-byte plain SHA-256 and 32-byte
// HMAC-SHA256(hmacKeyBase-derived block key) that follow a KDBX4
// outer header, checking both against raw. The SHA mismatch and HMAC
// mismatch cases are distinguished so callers can tell corruption
// from "wrong key or tampered". headerHMACKey is the same per-block
// key derivation blockstream uses, with block index u64::MAX.
func VerifyKDBX4(r io.Reader, raw []byte, headerHMACKey [64]byte) error {
	var wantSHA [32]byte
	if _, err := io.ReadFull(r, wantSHA[:]); err != nil {
		return fmt.Errorf("header: read header SHA-256: %w", err)
	}
	gotSHA := crypto.SHA256(raw)
	if gotSHA != wantSHA {
		return ErrSHAMismatch
	}

	var wantHMAC [32]byte
	if _, err := io.ReadFull(r, wantHMAC[:]); err != nil {
		return fmt.Errorf("header: read header HMAC: %w", err)
	}
	gotHMAC := crypto.HMACSHA256(headerHMACKey[:], raw)
	if gotHMAC != wantHMAC {
		return ErrHMACMismatch
	}
	return nil
}

// WriteKDBX4Trailer writes the plain SHA-256 followed by the
// HMAC-SHA256 of raw, using headerHMACKey as the HMAC key.
func WriteKDBX4Trailer(w io.Writer, raw []byte, headerHMACKey [64]byte) error {
	sha := crypto.SHA256(raw)
	if _, err := w.Write(sha[:]); err != nil {
		return err
	}
	hmacSum := crypto.HMACSHA256(headerHMACKey[:], raw)
	_, err := w.Write(hmacSum[:])
	return err
}

// InnerHeader is the KDBX4 inner header, TLV-encoded after
// decryption and decompression, immediately preceding the inner XML.
type InnerHeader struct {
	StreamID  model.InnerStream
	StreamKey []byte
	Binaries  []InnerBinary
}

// InnerBinary is one Binary record from the inner header: attachment
// payloads live here, indexed by appearance order; XML <Binary Ref="N">
// elements reference that index.
type InnerBinary struct {
	Protected bool
	Data      []byte
}

// ReadInner parses the inner header TLV stream from r.
func ReadInner(r io.Reader) (*InnerHeader, error) {
	ih := &InnerHeader{}
	for {
		var idBuf [1]byte
		if _, err := io.ReadFull(r, idBuf[:]); err != nil {
			return nil, fmt.Errorf("header: read inner field id: %w", err)
		}
		var lb [4]byte
		if _, err := io.ReadFull(r, lb[:]); err != nil {
			return nil, ErrTruncated
		}
		length := binary.LittleEndian.Uint32(lb[:])
		val := make([]byte, length)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, ErrTruncated
		}

		switch idBuf[0] {
		case InnerFieldEnd:
			return ih, nil
		case InnerFieldStreamID:
			if len(val) != 4 {
				return nil, ErrBadFieldLength
			}
			ih.StreamID = model.InnerStream(binary.LittleEndian.Uint32(val))
		case InnerFieldStreamKey:
			ih.StreamKey = append([]byte(nil), val...)
		case InnerFieldBinary:
			if len(val) < 1 {
				return nil, ErrBadFieldLength
			}
			ih.Binaries = append(ih.Binaries, InnerBinary{
				Protected: val[0]&0x01 != 0,
				Data:      append([]byte(nil), val[1:]...),
			})
		default:
			return nil, ErrUnknownField
		}
	}
}

// WriteInner emits the inner header TLV stream to w.
func WriteInner(w io.Writer, ih *InnerHeader) error {
	writeField := func(id byte, val []byte) error {
		if _, err := w.Write([]byte{id}); err != nil {
			return err
		}
		var lb [4]byte
		binary.LittleEndian.PutUint32(lb[:], uint32(len(val)))
		if _, err := w.Write(lb[:]); err != nil {
			return err
		}
		_, err := w.Write(val)
		return err
	}

	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], uint32(ih.StreamID))
	if err := writeField(InnerFieldStreamID, idBuf[:]); err != nil {
		return err
	}
	if err := writeField(InnerFieldStreamKey, ih.StreamKey); err != nil {
		return err
	}
	for _, b := range ih.Binaries {
		flag := byte(0)
		if b.Protected {
			flag = 1
		}
		val := make([]byte, 1+len(b.Data))
		val[0] = flag
		copy(val[1:], b.Data)
		if err := writeField(InnerFieldBinary, val); err != nil {
			return err
		}
	}
	return writeField(InnerFieldEnd, nil)
}
