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
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/kdblegacy"
)

// ChallengeResponder is a hardware token's key-source contract: given a
// 32-byte seed, it returns the token's response bytes. Mainline
// YubiKey HMAC-SHA1 challenge-response slots return 20 bytes; this
// package only hashes whatever is returned, so the exact length isn't
// enforced here.
type ChallengeResponder interface {
	Challenge(seed [32]byte) ([]byte, error)
}

// DatabaseKey collects the components Open and Save combine into a
// database's composite key: a password, a keyfile, and a
// challenge-response provider. Any subset may be present; the order
// the With* methods are called in does not affect derivation. The zero
// value has no components and will fail key derivation.
type DatabaseKey struct {
	password    string
	hasPassword bool

	// keyFileData is the keyfile's raw bytes, needed only by the KDB
	// pipeline, which re-derives its own hash the way mainline
	// KeePass 1 does. keyFileHash is the KDBX-flavored SHA-256 derived
	// once at WithKeyFile time.
	keyFileData []byte
	keyFileHash [32]byte
	hasKeyFile  bool

	responder ChallengeResponder
}

// NewDatabaseKey returns an empty key builder.
func NewDatabaseKey() *DatabaseKey {
	return &DatabaseKey{}
}

// WithPassword sets the key's password component.
func (k *DatabaseKey) WithPassword(password string) *DatabaseKey {
	k.password = password
	k.hasPassword = password != ""
	return k
}

// WithKeyFile reads r fully and sets the key's keyfile component,
// hashing it per mainline KeePass's rules (see compositekey.HashKeyFile).
func (k *DatabaseKey) WithKeyFile(r io.Reader) (*DatabaseKey, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return k, newError(KindIO, fmt.Errorf("read keyfile: %w", err))
	}
	hash, err := compositekey.HashKeyFile(data)
	if err != nil {
		return k, newError(KindKeyDerivation, err)
	}
	k.keyFileData = data
	k.keyFileHash = hash
	k.hasKeyFile = true
	return k, nil
}

// WithChallengeResponse sets the key's hardware-token component. The
// responder is invoked once per Open or Save call, with the seed the
// on-disk format defines (the header's master seed).
func (k *DatabaseKey) WithChallengeResponse(responder ChallengeResponder) *DatabaseKey {
	k.responder = responder
	return k
}

// components assembles the compositekey.Components this key resolves
// to, invoking the challenge-response provider (if any) against seed.
func (k *DatabaseKey) components(seed [32]byte) (compositekey.Components, error) {
	var c compositekey.Components
	if !k.hasPassword && !k.hasKeyFile && k.responder == nil {
		return c, newError(KindKeyDerivation, fmt.Errorf("no password, keyfile, or challenge-response given"))
	}
	if k.hasPassword {
		c.Password = compositekey.HashPassword(k.password)
		c.HasPassword = true
	}
	if k.hasKeyFile {
		c.KeyFile = k.keyFileHash
		c.HasKeyFile = true
	}
	if k.responder != nil {
		resp, err := k.responder.Challenge(seed)
		if err != nil {
			return c, newError(KindKeyDerivation, fmt.Errorf("challenge-response: %w", err))
		}
		c.ChallengeResponse = compositekey.HashChallengeResponse(resp)
		c.HasChallengeResponse = true
	}
	return c, nil
}

// legacyOptions adapts this key to the KDB pipeline's own Options
// type, which needs the keyfile's raw bytes rather than its hash since
// KDB has no challenge-response support in mainline KeePass 1.
func (k *DatabaseKey) legacyOptions() *kdblegacy.Options {
	return &kdblegacy.Options{
		Password: k.password,
		KeyFile:  k.keyFileData,
	}
}
