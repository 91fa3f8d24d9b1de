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
	"bytes"
	"io"

	"github.com/gokeepass/kdbx/internal/blockstream"
	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/header"
	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/internal/kdbxml"
	"github.com/gokeepass/kdbx/model"
)

// openKDBX3 implements the KDBX3 half of C9's format dispatch: AES-KDF
// key transform straight from the header, a hashed (not HMAC'd) block
// stream, and an inline StreamStartBytes check standing in for the
// authentication KDBX4 gets from its outer HMAC.
func openKDBX3(br *bufio.Reader, key *DatabaseKey) (*Database, error) {
	outer, err := header.ReadOuter(br)
	if err != nil {
		return nil, classify(err)
	}

	comps, err := key.components(outer.MasterSeed)
	if err != nil {
		return nil, err
	}
	composite := compositekey.Composite(comps)
	transformed, err := compositekey.TransformKDBX3(composite, outer.TransformSeed, outer.TransformRounds)
	if err != nil {
		return nil, classify(err)
	}
	masterKey := compositekey.MasterKey(outer.MasterSeed, transformed)

	plain, err := outerDecryptReader(outer.CipherID, masterKey[:], outer.EncryptionIV, br)
	if err != nil {
		return nil, classify(err)
	}

	var start [32]byte
	if _, err := io.ReadFull(plain, start[:]); err != nil {
		return nil, classify(err)
	}
	if !bytes.Equal(start[:], outer.StreamStartBytes) {
		return nil, classify(errWrongStreamStart)
	}

	payload, err := maybeDecompress(blockstream.HashedReader(plain), outer.Compression)
	if err != nil {
		return nil, classify(err)
	}

	codec, err := innerstream.New(outer.InnerStreamID, outer.InnerStreamKey)
	if err != nil {
		return nil, classify(err)
	}

	pool := model.NewBinaryPool()
	doc, err := kdbxml.Decode(payload, codec, pool)
	if err != nil {
		return nil, classify(err)
	}

	cfg := model.Config{
		Format:      model.FormatKDBX3,
		CipherID:    outer.CipherID,
		Compression: outer.Compression,
		InnerStream: outer.InnerStreamID,
		KdfParams: map[string]interface{}{
			"$UUID": append([]byte(nil), model.KdfAESKDBX3[:]...),
			"S":     append([]byte(nil), outer.TransformSeed[:]...),
			"R":     outer.TransformRounds,
		},
	}
	db, err := model.Import(cfg, doc.Meta, doc.Root, pool, doc.DeletedObjects)
	if err != nil {
		return nil, classify(err)
	}
	return &Database{db: db}, nil
}
