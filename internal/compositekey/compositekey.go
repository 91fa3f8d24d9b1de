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

// Package compositekey combines a KeePass key's components (password,
// keyfile, challenge-response) into the composite key, and carries it
// through the format-specific KDF to produce the master and HMAC keys
// a codec needs to decrypt a database.
package compositekey

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"strings"

	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/model"
	"github.com/gokeepass/kdbx/pkg/secbuf"
)

// ErrUnsupportedKdf is returned when a KDBX4 KdfParameters dictionary
// names a $UUID this package doesn't recognize.
var ErrUnsupportedKdf = errors.New("compositekey: unsupported KDF UUID")

// ErrBadKdfParams is returned when a recognized KDF's parameters are
// missing or the wrong type.
var ErrBadKdfParams = errors.New("compositekey: malformed KDF parameters")

// Components holds the SHA-256 hash of each present key component.
// Order of assembly into the composite key is fixed regardless of the
// order callers supplied them in: password, then keyfile, then
// challenge-response.
type Components struct {
	Password            [32]byte
	HasPassword         bool
	KeyFile             [32]byte
	HasKeyFile          bool
	ChallengeResponse   [32]byte
	HasChallengeResponse bool
}

// HashPassword returns the SHA-256 of a UTF-8 password string.
func HashPassword(password string) [32]byte {
	return crypto.SHA256([]byte(password))
}

// HashChallengeResponse returns the SHA-256 of a hardware token's
// response to a 32-byte challenge.
func HashChallengeResponse(response []byte) [32]byte {
	return crypto.SHA256(response)
}

// keyFileXML mirrors the <KeyFile><Key><Data>base64</Data></Key></KeyFile>
// structure mainline KeePass writes for generated key files.
type keyFileXML struct {
	XMLName xml.Name `xml:"KeyFile"`
	Key     struct {
		Data string `xml:"Data"`
	} `xml:"Key"`
}

// HashKeyFile derives the 32-byte component hash for a keyfile's raw
// bytes, following the same rules mainline KeePass applies: a
// generated XML keyfile's embedded key is used as-is, a 64-character
// hex string is decoded and used as-is, and anything else is hashed.
func HashKeyFile(data []byte) ([32]byte, error) {
	var kf keyFileXML
	if err := xml.Unmarshal(data, &kf); err == nil && kf.Key.Data != "" {
		if raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(kf.Key.Data)); err == nil && len(raw) == 32 {
			var out [32]byte
			copy(out[:], raw)
			return out, nil
		}
	}

	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 64 {
		if raw, err := hex.DecodeString(trimmed); err == nil {
			var out [32]byte
			copy(out[:], raw)
			return out, nil
		}
	}

	return crypto.SHA256(data), nil
}

// Composite concatenates the present component hashes in fixed order
// and returns their SHA-256, the seed every KDF in this package starts
// from. The caller owns zeroizing the returned buffer once the
// transformed key has been derived from it.
func Composite(c Components) [32]byte {
	var parts [][]byte
	if c.HasPassword {
		p := c.Password
		parts = append(parts, p[:])
	}
	if c.HasKeyFile {
		k := c.KeyFile
		parts = append(parts, k[:])
	}
	if c.HasChallengeResponse {
		r := c.ChallengeResponse
		parts = append(parts, r[:])
	}
	return crypto.SHA256(parts...)
}

// TransformKDBX3 runs AES-KDF over the composite key using the header
// TransformSeed/TransformRounds values KDBX3 (and KDB) carry directly.
func TransformKDBX3(composite [32]byte, seed [32]byte, rounds uint64) ([32]byte, error) {
	return crypto.AESKDF(composite, seed[:], rounds)
}

// TransformKDBX4 dispatches on the KdfParameters variant dictionary's
// "$UUID" entry (already decoded into plain Go values) to AES-KDF or
// Argon2d/Argon2id, and returns the 32-byte transformed key.
func TransformKDBX4(composite [32]byte, params map[string]interface{}) ([32]byte, error) {
	uuidBytes, ok := params["$UUID"].([]byte)
	if !ok || len(uuidBytes) != 16 {
		return [32]byte{}, ErrBadKdfParams
	}
	var id model.UUID
	copy(id[:], uuidBytes)

	switch id {
	case model.KdfAESKDBX3, model.KdfAESKDBX4:
		seed, ok := params["S"].([]byte)
		if !ok || len(seed) != 32 {
			return [32]byte{}, ErrBadKdfParams
		}
		rounds, ok := asUint64(params["R"])
		if !ok {
			return [32]byte{}, ErrBadKdfParams
		}
		var seedArr [32]byte
		copy(seedArr[:], seed)
		return crypto.AESKDF(composite, seedArr[:], rounds)

	case model.KdfArgon2d, model.KdfArgon2id:
		salt, ok := params["S"].([]byte)
		if !ok {
			return [32]byte{}, ErrBadKdfParams
		}
		iterations, ok1 := asUint64(params["I"])
		memory, ok2 := asUint64(params["M"])
		parallelism, ok3 := asUint64(params["P"])
		version, _ := asUint64(params["V"])
		if !ok1 || !ok2 || !ok3 {
			return [32]byte{}, ErrBadKdfParams
		}
		secret, _ := params["K"].([]byte)
		assocData, _ := params["A"].([]byte)
		ap := crypto.Argon2Params{
			Salt:        salt,
			Iterations:  iterations,
			Memory:      memory / 1024,
			Parallelism: parallelism,
			Version:     version,
			Secret:      secret,
			AssocData:   assocData,
		}
		if id == model.KdfArgon2d {
			return crypto.Argon2d(composite, ap), nil
		}
		return crypto.Argon2id(composite, ap), nil

	default:
		return [32]byte{}, ErrUnsupportedKdf
	}
}

func asUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case int64:
		return uint64(x), true
	case int32:
		return uint64(x), true
	}
	return 0, false
}

// MasterKey combines the header's 32-byte master seed with a
// transformed key: SHA-256(master_seed || transformed_key).
func MasterKey(masterSeed [32]byte, transformed [32]byte) [32]byte {
	return crypto.SHA256(masterSeed[:], transformed[:])
}

// HMACKeyBase returns the 64-byte base from which every per-block HMAC
// key (SHA-512(index || base)) is derived:
// SHA-512(master_seed || transformed_key || 0x01).
func HMACKeyBase(masterSeed [32]byte, transformed [32]byte) [64]byte {
	return crypto.SHA512(masterSeed[:], transformed[:], []byte{0x01})
}

// BlockHMACKey derives the per-block HMAC-SHA256 key for block index i
// from the HMAC key base: SHA-512(u64_le(i) || base).
func BlockHMACKey(base [64]byte, index uint64) [64]byte {
	var idx [8]byte
	for i := 0; i < 8; i++ {
		idx[i] = byte(index >> (8 * uint(i)))
	}
	return crypto.SHA512(idx[:], base[:])
}

// SecureComposite wraps a freshly computed composite key in a
// zeroizing buffer, for callers that hold onto it across a KDF call
// that might error out partway.
func SecureComposite(c Components) *secbuf.Buffer {
	composite := Composite(c)
	defer func() {
		for i := range composite {
			composite[i] = 0
		}
	}()
	return secbuf.NewFromBytes(composite[:])
}
