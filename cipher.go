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
	gocipher "crypto/cipher"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/model"
)

// outerDecryptReader wraps r in the outer-cipher decrypting reader
// named by cipherID: AES-256-CBC and Twofish-CBC are PKCS#7-padded
// block ciphers, ChaCha20 is a raw keystream with no padding.
func outerDecryptReader(cipherID model.UUID, key, iv []byte, r io.Reader) (io.Reader, error) {
	switch cipherID {
	case model.CipherAES256:
		return crypto.AESCBCReader(r, key, iv)
	case model.CipherTwofish:
		return crypto.TwofishCBCReader(r, key, iv)
	case model.CipherChaCha20:
		s, err := crypto.ChaCha20Stream(key, iv, 0)
		if err != nil {
			return nil, err
		}
		return &gocipher.StreamReader{S: s, R: r}, nil
	default:
		return nil, fmt.Errorf("%w: cipher %s", crypto.ErrUnknownCipher, cipherID)
	}
}

// outerEncryptWriter is the encrypting counterpart of outerDecryptReader.
func outerEncryptWriter(cipherID model.UUID, key, iv []byte, w io.Writer) (io.WriteCloser, error) {
	switch cipherID {
	case model.CipherAES256:
		return crypto.AESCBCWriter(w, key, iv)
	case model.CipherTwofish:
		return crypto.TwofishCBCWriter(w, key, iv)
	case model.CipherChaCha20:
		s, err := crypto.ChaCha20Stream(key, iv, 0)
		if err != nil {
			return nil, err
		}
		return &gocipher.StreamWriter{S: s, W: w}, nil
	default:
		return nil, fmt.Errorf("%w: cipher %s", crypto.ErrUnknownCipher, cipherID)
	}
}

// maybeDecompress wraps r in a gzip reader when compression names
// CompressionGZip; compress/gzip is stdlib because the payload is
// plain RFC 1952 gzip and none of the example repos in this project's
// retrieval pack pull in a third-party gzip implementation for it.
func maybeDecompress(r io.Reader, compression model.Compression) (io.Reader, error) {
	switch compression {
	case model.CompressionNone:
		return r, nil
	case model.CompressionGZip:
		return gzip.NewReader(r)
	default:
		return nil, fmt.Errorf("kdbx: unknown compression flag %d", compression)
	}
}

// maybeCompress is the encoding counterpart of maybeDecompress. The
// returned io.WriteCloser must be closed to flush the gzip trailer
// before the underlying block writer is closed.
func maybeCompress(w io.Writer, compression model.Compression) (io.WriteCloser, error) {
	switch compression {
	case model.CompressionNone:
		return nopWriteCloser{w}, nil
	case model.CompressionGZip:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("kdbx: unknown compression flag %d", compression)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
