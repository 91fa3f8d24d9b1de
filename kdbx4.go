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

package kdbx

import (
	"bufio"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/blockstream"
	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/header"
	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/internal/kdbxml"
	"github.com/gokeepass/kdbx/internal/variant"
	"github.com/gokeepass/kdbx/model"
)

// openKDBX4 implements C9's KDBX4 dispatch target: variant-dictionary
// KDF selection, the outer SHA-256/HMAC-SHA256 trailer, and an
// HMAC-authenticated block stream in place of KDBX3's plain-hashed one.
func openKDBX4(br *bufio.Reader, key *DatabaseKey) (*Database, error) {
	outer, err := header.ReadOuter(br)
	if err != nil {
		return nil, classify(err)
	}
	if outer.KdfParams == nil {
		return nil, classify(compositekey.ErrBadKdfParams)
	}

	comps, err := key.components(outer.MasterSeed)
	if err != nil {
		return nil, err
	}
	composite := compositekey.Composite(comps)
	transformed, err := compositekey.TransformKDBX4(composite, outer.KdfParams.Map())
	if err != nil {
		return nil, classify(err)
	}
	masterKey := compositekey.MasterKey(outer.MasterSeed, transformed)
	hmacBase := compositekey.HMACKeyBase(outer.MasterSeed, transformed)

	headerHMACKey := compositekey.BlockHMACKey(hmacBase, ^uint64(0))
	if err := header.VerifyKDBX4(br, outer.Raw, headerHMACKey); err != nil {
		return nil, classify(err)
	}

	plain, err := outerDecryptReader(outer.CipherID, masterKey[:], outer.EncryptionIV, blockstream.HMACReader(br, hmacBase))
	if err != nil {
		return nil, classify(err)
	}

	decompressed, err := maybeDecompress(plain, outer.Compression)
	if err != nil {
		return nil, classify(err)
	}

	inner, err := header.ReadInner(decompressed)
	if err != nil {
		return nil, classify(err)
	}

	codec, err := innerstream.New(inner.StreamID, inner.StreamKey)
	if err != nil {
		return nil, classify(err)
	}

	pool := model.NewBinaryPool()
	for i, b := range inner.Binaries {
		pool.Set(i, b.Data, b.Protected)
	}

	doc, err := kdbxml.Decode(decompressed, codec, pool)
	if err != nil {
		return nil, classify(err)
	}

	cfg := model.Config{
		Format:      model.FormatKDBX4,
		CipherID:    outer.CipherID,
		Compression: outer.Compression,
		InnerStream: inner.StreamID,
		KdfParams:   outer.KdfParams.Map(),
	}
	db, err := model.Import(cfg, doc.Meta, doc.Root, pool, doc.DeletedObjects)
	if err != nil {
		return nil, classify(err)
	}
	return &Database{db: db}, nil
}

// saveKDBX4 implements C9's save operation. Per the spec's answer to
// its own open question, every save regenerates the master seed,
// encryption IV, and KDF salt: byte-identical re-saves are never
// guaranteed, even of an unmodified database.
func saveKDBX4(w io.Writer, db *model.Database, key *DatabaseKey) error {
	masterSeed, err := randomBytes(32)
	if err != nil {
		return classify(err)
	}
	var seedArr [32]byte
	copy(seedArr[:], masterSeed)

	cipherID := db.Config.CipherID
	if cipherID.IsZero() {
		cipherID = model.CipherAES256
	}
	ivLen := 16
	if cipherID == model.CipherChaCha20 {
		ivLen = 12
	}
	iv, err := randomBytes(ivLen)
	if err != nil {
		return classify(err)
	}

	kdfParams, err := regenerateKdfParams(db.Config.KdfParams)
	if err != nil {
		return classify(err)
	}

	comps, err := key.components(seedArr)
	if err != nil {
		return err
	}
	composite := compositekey.Composite(comps)
	transformed, err := compositekey.TransformKDBX4(composite, kdfParams)
	if err != nil {
		return classify(err)
	}
	masterKey := compositekey.MasterKey(seedArr, transformed)
	hmacBase := compositekey.HMACKeyBase(seedArr, transformed)

	kdfDict, err := kdfDictionary(kdfParams)
	if err != nil {
		return classify(err)
	}

	outer := &header.Outer{
		MajorVersion: 4,
		MinorVersion: 0,
		CipherID:     cipherID,
		Compression:  db.Config.Compression,
		MasterSeed:   seedArr,
		EncryptionIV: iv,
		KdfParams:    kdfDict,
	}
	raw, err := header.WriteOuter(w, outer)
	if err != nil {
		return classify(err)
	}

	headerHMACKey := compositekey.BlockHMACKey(hmacBase, ^uint64(0))
	if err := header.WriteKDBX4Trailer(w, raw, headerHMACKey); err != nil {
		return classify(err)
	}

	hmacWriter := blockstream.HMACWriter(w, hmacBase)
	cipherWriter, err := outerEncryptWriter(cipherID, masterKey[:], iv, hmacWriter)
	if err != nil {
		return classify(err)
	}
	compressWriter, err := maybeCompress(cipherWriter, db.Config.Compression)
	if err != nil {
		return classify(err)
	}

	innerStreamID := db.Config.InnerStream
	if innerStreamID == model.InnerStreamNone {
		innerStreamID = model.InnerStreamChaCha20
	}
	innerKey, err := randomBytes(64)
	if err != nil {
		return classify(err)
	}
	codec, err := innerstream.New(innerStreamID, innerKey)
	if err != nil {
		return classify(err)
	}

	ih := &header.InnerHeader{StreamID: innerStreamID, StreamKey: innerKey}
	for _, id := range db.Binaries.IDs() {
		b, _ := db.Binaries.Get(id)
		ih.Binaries = append(ih.Binaries, header.InnerBinary{Protected: b.Protected, Data: b.Data})
	}
	if err := header.WriteInner(compressWriter, ih); err != nil {
		return classify(err)
	}

	doc := &kdbxml.Document{Meta: db.Meta, Root: db.Root, DeletedObjects: db.DeletedObjects}
	if err := kdbxml.Encode(compressWriter, doc, codec, db.Meta.Generator); err != nil {
		return classify(err)
	}

	if err := compressWriter.Close(); err != nil {
		return classify(err)
	}
	if err := cipherWriter.Close(); err != nil {
		return classify(err)
	}
	return classify(hmacWriter.Close())
}

// randReader supplies every random seed, IV, and KDF salt saveKDBX4
// generates. It defaults to crypto/rand.Reader; tests swap it for a
// deterministic source so a save can be asserted against fixed bytes.
var randReader io.Reader = rand.Reader

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// regenerateKdfParams copies orig, replacing its salt with fresh random
// bytes of the same length. An empty/nil orig (a freshly constructed
// Database that never went through Open) gets mainline KeePass's
// current default: Argon2id, 64 MiB, 2 passes, 2 lanes.
func regenerateKdfParams(orig map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(orig))
	for k, v := range orig {
		out[k] = v
	}

	saltLen := 32
	if s, ok := out["S"].([]byte); ok && len(s) > 0 {
		saltLen = len(s)
	}
	if _, ok := out["$UUID"]; !ok {
		out["$UUID"] = append([]byte(nil), model.KdfArgon2id[:]...)
		out["I"] = uint64(2)
		out["M"] = uint64(64 * 1024 * 1024)
		out["P"] = uint64(2)
		out["V"] = uint64(0x13)
	}
	salt, err := randomBytes(saltLen)
	if err != nil {
		return nil, err
	}
	out["S"] = salt
	return out, nil
}

// kdfDictionary re-encodes a KdfParams map into a variant.Dictionary
// with a fixed, deterministic key order, since map iteration order
// isn't.
func kdfDictionary(params map[string]interface{}) (*variant.Dictionary, error) {
	uuidBytes, ok := params["$UUID"].([]byte)
	if !ok || len(uuidBytes) != 16 {
		return nil, compositekey.ErrBadKdfParams
	}
	var id model.UUID
	copy(id[:], uuidBytes)

	d := variant.New()
	d.Set("$UUID", append([]byte(nil), uuidBytes...))

	switch id {
	case model.KdfAESKDBX3, model.KdfAESKDBX4:
		d.Set("S", asBytes(params["S"]))
		d.Set("R", asUint64Val(params["R"]))
	case model.KdfArgon2d, model.KdfArgon2id:
		d.Set("S", asBytes(params["S"]))
		d.Set("P", asUint32Val(params["P"]))
		d.Set("M", asUint64Val(params["M"]))
		d.Set("I", asUint64Val(params["I"]))
		d.Set("V", asUint32Val(params["V"]))
		if k, ok := params["K"].([]byte); ok {
			d.Set("K", k)
		}
		if a, ok := params["A"].([]byte); ok {
			d.Set("A", a)
		}
	default:
		return nil, fmt.Errorf("%w: %s", compositekey.ErrUnsupportedKdf, id)
	}
	return d, nil
}

func asBytes(v interface{}) []byte {
	b, _ := v.([]byte)
	return b
}

func asUint64Val(v interface{}) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case uint32:
		return uint64(x)
	}
	return 0
}

func asUint32Val(v interface{}) uint32 {
	return uint32(asUint64Val(v))
}
