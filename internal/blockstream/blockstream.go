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

// Package blockstream implements the two block-framed plaintext
// streams KDBX wraps around the outer cipher's output: KDBX3's
// SHA-256-hashed block stream, and KDBX4's HMAC-SHA256-authenticated
// block stream. Both chop the plaintext into length-prefixed,
// individually checksummed blocks terminated by a zero-length block,
// so that a reader can detect corruption or tampering block-by-block
// rather than only after decrypting the whole file.
package blockstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/crypto"
)

// BlockSize is the block size a writer uses to frame plaintext. Readers
// accept any block size a peer chose.
const BlockSize = 1 << 20 // 1 MiB

var (
	// ErrHashMismatch means a KDBX3 block's declared SHA-256 didn't
	// match its bytes: the file is corrupt.
	ErrHashMismatch = errors.New("blockstream: block hash mismatch")
	// ErrBadIndex means KDBX3 block indices weren't strictly increasing from 0.
	ErrBadIndex = errors.New("blockstream: out-of-order block index")
	// ErrHMACMismatch means a KDBX4 block's HMAC didn't verify: wrong
	// key or tampered data, indistinguishable from each other.
	ErrHMACMismatch = errors.New("blockstream: block HMAC mismatch")
)

// HashedReader returns an io.Reader that decodes a KDBX3 hashed block
// stream from r: it verifies each block's SHA-256 and that indices
// increase strictly from zero, surfacing plaintext bytes as they're
// verified.
func HashedReader(r io.Reader) io.Reader {
	return &hashedReader{r: r}
}

type hashedReader struct {
	r        io.Reader
	nextIdx  uint32
	buf      bytes.Buffer
	done     bool
	err      error
}

func (hr *hashedReader) Read(p []byte) (int, error) {
	for hr.buf.Len() == 0 && !hr.done && hr.err == nil {
		hr.fill()
	}
	if hr.buf.Len() > 0 {
		return hr.buf.Read(p)
	}
	if hr.err != nil {
		return 0, hr.err
	}
	return 0, io.EOF
}

func (hr *hashedReader) fill() {
	var idxBuf [4]byte
	if _, err := io.ReadFull(hr.r, idxBuf[:]); err != nil {
		hr.err = fmt.Errorf("blockstream: read block index: %w", err)
		return
	}
	idx := binary.LittleEndian.Uint32(idxBuf[:])
	if idx != hr.nextIdx {
		hr.err = ErrBadIndex
		return
	}
	hr.nextIdx++

	var wantHash [32]byte
	if _, err := io.ReadFull(hr.r, wantHash[:]); err != nil {
		hr.err = fmt.Errorf("blockstream: read block hash: %w", err)
		return
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(hr.r, lenBuf[:]); err != nil {
		hr.err = fmt.Errorf("blockstream: read block length: %w", err)
		return
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		var zero [32]byte
		if wantHash != zero {
			hr.err = ErrHashMismatch
			return
		}
		hr.done = true
		return
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(hr.r, data); err != nil {
		hr.err = fmt.Errorf("blockstream: read block data: %w", err)
		return
	}
	if crypto.SHA256(data) != wantHash {
		hr.err = ErrHashMismatch
		return
	}
	hr.buf.Write(data)
}

// HashedWriter returns an io.WriteCloser that frames writes as a KDBX3
// hashed block stream to w, buffering up to BlockSize bytes per block.
// Close flushes any partial final block and writes the zero-length
// terminator.
func HashedWriter(w io.Writer) io.WriteCloser {
	return &hashedWriter{w: w}
}

type hashedWriter struct {
	w    io.Writer
	buf  bytes.Buffer
	idx  uint32
	err  error
}

func (hw *hashedWriter) Write(p []byte) (int, error) {
	if hw.err != nil {
		return 0, hw.err
	}
	n, _ := hw.buf.Write(p)
	for hw.buf.Len() >= BlockSize {
		block := make([]byte, BlockSize)
		hw.buf.Read(block)
		if err := hw.writeBlock(block); err != nil {
			hw.err = err
			return n, err
		}
	}
	return n, nil
}

func (hw *hashedWriter) writeBlock(data []byte) error {
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], hw.idx)
	hw.idx++
	hash := crypto.SHA256(data)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	for _, b := range [][]byte{idxBuf[:], hash[:], lenBuf[:], data} {
		if _, err := hw.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (hw *hashedWriter) Close() error {
	if hw.err != nil {
		return hw.err
	}
	if hw.buf.Len() > 0 {
		if err := hw.writeBlock(hw.buf.Bytes()); err != nil {
			return err
		}
	}
	var idxBuf [4]byte
	binary.LittleEndian.PutUint32(idxBuf[:], hw.idx)
	var zeroHash [32]byte
	var lenBuf [4]byte
	for _, b := range [][]byte{idxBuf[:], zeroHash[:], lenBuf[:]} {
		if _, err := hw.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// HMACReader returns an io.Reader that decodes a KDBX4 HMAC block
// stream from r, verifying each block's HMAC-SHA256 under a key
// derived per-block from hmacKeyBase.
func HMACReader(r io.Reader, hmacKeyBase [64]byte) io.Reader {
	return &hmacReader{r: r, base: hmacKeyBase}
}

type hmacReader struct {
	r    io.Reader
	base [64]byte
	idx  uint64
	buf  bytes.Buffer
	done bool
	err  error
}

func (hr *hmacReader) Read(p []byte) (int, error) {
	for hr.buf.Len() == 0 && !hr.done && hr.err == nil {
		hr.fill()
	}
	if hr.buf.Len() > 0 {
		return hr.buf.Read(p)
	}
	if hr.err != nil {
		return 0, hr.err
	}
	return 0, io.EOF
}

func (hr *hmacReader) fill() {
	var wantMAC [32]byte
	if _, err := io.ReadFull(hr.r, wantMAC[:]); err != nil {
		hr.err = fmt.Errorf("blockstream: read block HMAC: %w", err)
		return
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(hr.r, lenBuf[:]); err != nil {
		hr.err = fmt.Errorf("blockstream: read block length: %w", err)
		return
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(hr.r, data); err != nil {
			hr.err = fmt.Errorf("blockstream: read block data: %w", err)
			return
		}
	}

	key := compositekey.BlockHMACKey(hr.base, hr.idx)
	got := blockHMAC(key, hr.idx, lenBuf[:], data)
	if got != wantMAC {
		hr.err = ErrHMACMismatch
		return
	}
	hr.idx++
	if n == 0 {
		hr.done = true
		return
	}
	hr.buf.Write(data)
}

// HMACWriter returns an io.WriteCloser that frames writes as a KDBX4
// HMAC block stream to w, using per-block keys derived from
// hmacKeyBase. Close flushes any partial final block and writes the
// zero-length terminating block with its own valid HMAC.
func HMACWriter(w io.Writer, hmacKeyBase [64]byte) io.WriteCloser {
	return &hmacWriter{w: w, base: hmacKeyBase}
}

type hmacWriter struct {
	w   io.Writer
	base [64]byte
	buf bytes.Buffer
	idx uint64
	err error
}

func (hw *hmacWriter) Write(p []byte) (int, error) {
	if hw.err != nil {
		return 0, hw.err
	}
	n, _ := hw.buf.Write(p)
	for hw.buf.Len() >= BlockSize {
		block := make([]byte, BlockSize)
		hw.buf.Read(block)
		if err := hw.writeBlock(block); err != nil {
			hw.err = err
			return n, err
		}
	}
	return n, nil
}

func (hw *hmacWriter) writeBlock(data []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	key := compositekey.BlockHMACKey(hw.base, hw.idx)
	mac := blockHMAC(key, hw.idx, lenBuf[:], data)
	hw.idx++
	for _, b := range [][]byte{mac[:], lenBuf[:], data} {
		if _, err := hw.w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

func (hw *hmacWriter) Close() error {
	if hw.err != nil {
		return hw.err
	}
	if hw.buf.Len() > 0 {
		if err := hw.writeBlock(hw.buf.Bytes()); err != nil {
			return err
		}
	}
	return hw.writeBlock(nil)
}

// blockHMAC computes HMAC-SHA256(key, u64_le(index) || u32_le(length) || data).
// HMAC-SHA256 accepts an arbitrary-length key, so the full 64-byte
// per-block key material is used directly.
func blockHMAC(key [64]byte, index uint64, lenBuf, data []byte) [32]byte {
	var idxBuf [8]byte
	binary.LittleEndian.PutUint64(idxBuf[:], index)
	return crypto.HMACSHA256(key[:], idxBuf[:], lenBuf, data)
}
