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
	"compress/flate"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/blockstream"
	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/internal/header"
	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/internal/kdblegacy"
	"github.com/gokeepass/kdbx/internal/kdbxml"
	"github.com/gokeepass/kdbx/internal/variant"
	"github.com/gokeepass/kdbx/model"
)

// ErrorKind categorizes why an Open or Save call failed, since callers
// react differently to a wrong password than to a truncated file.
type ErrorKind int

const (
	// KindIO is an underlying reader/writer failure, propagated as-is.
	KindIO ErrorKind = iota
	// KindFormatVersion means the file's signature wasn't recognized,
	// is a pre-release KDBX signature, or carries a major version this
	// package doesn't implement.
	KindFormatVersion
	// KindCorruption is a structural decode failure: bad TLV length, a
	// missing terminator, an unknown variant-dictionary type, a SHA
	// mismatch, a gzip error, or malformed XML.
	KindCorruption
	// KindAuthentication means an HMAC (KDBX4) or StreamStartBytes
	// (KDBX3) check failed. This is reported identically whether the
	// key is wrong or the file was tampered with; the two are
	// cryptographically indistinguishable to this library.
	KindAuthentication
	// KindKeyDerivation means the KDF parameters were invalid or named
	// an unsupported UUID.
	KindKeyDerivation
	// KindXMLSchema means the inner XML was well-formed but violated
	// the KeePassFile schema: a required element missing, a duplicate
	// UUID, invalid base64, or an out-of-range timestamp.
	KindXMLSchema
	// KindInvariant means a tree mutation would have created a cycle,
	// duplicated a UUID, or left a binary reference dangling. The tree
	// is left unchanged.
	KindInvariant
	// KindNotSupported means the caller asked for something this
	// library deliberately doesn't do: saving a non-KDBX4 format, or
	// an unrecognized cipher UUID.
	KindNotSupported
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormatVersion:
		return "format version"
	case KindCorruption:
		return "corruption"
	case KindAuthentication:
		return "authentication"
	case KindKeyDerivation:
		return "key derivation"
	case KindXMLSchema:
		return "xml schema"
	case KindInvariant:
		return "invariant"
	case KindNotSupported:
		return "not supported"
	default:
		return "unknown"
	}
}

// Error is the error type every exported operation in this package
// returns. Kind lets a caller decide, for instance, whether to prompt
// for the password again (KindAuthentication) or report file damage
// (KindCorruption) without string-matching messages.
type Error struct {
	Kind ErrorKind
	// Version is the field for the decoded major version of a
	// KindFormatVersion error. The errors this package returns leave it
	// zero: the header reader's version errors carry no version number.
	Version int
	err     error
}

func (e *Error) Error() string {
	if e.Kind == KindFormatVersion && e.Version != 0 {
		return fmt.Sprintf("kdbx: %s: KDBX version %d: %v", e.Kind, e.Version, e.err)
	}
	return fmt.Sprintf("kdbx: %s: %v", e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, err: err}
}

var (
	errWrongStreamStart      = errors.New("kdbx: StreamStartBytes mismatch")
	errUnknownFormat         = errors.New("kdbx: unrecognized file format")
	errSaveFormatUnsupported = errors.New("kdbx: save is only supported for KDBX4 databases")
)

// classify wraps a lower-layer error in an *Error carrying the ErrorKind
// a caller should react to. It never receives a nil error from call
// sites in this package that guard on err != nil first, but returns
// nil for one anyway so it composes with "return classify(err)".
func classify(err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}

	switch {
	case errors.Is(err, header.ErrBadMagic),
		errors.Is(err, header.ErrPrerelease),
		errors.Is(err, header.ErrUnsupportedVersion),
		errors.Is(err, kdblegacy.ErrWrongSignature),
		errors.Is(err, kdblegacy.ErrWrongVersion):
		return newError(KindFormatVersion, err)

	case errors.Is(err, header.ErrHMACMismatch),
		errors.Is(err, blockstream.ErrHMACMismatch),
		errors.Is(err, errWrongStreamStart),
		errors.Is(err, kdblegacy.ErrHashMismatch):
		return newError(KindAuthentication, err)

	case errors.Is(err, kdbxml.ErrSchema):
		return newError(KindXMLSchema, err)

	case errors.Is(err, compositekey.ErrUnsupportedKdf),
		errors.Is(err, compositekey.ErrBadKdfParams):
		return newError(KindKeyDerivation, err)

	case errors.Is(err, model.ErrDuplicateUUID),
		errors.Is(err, model.ErrCycle),
		errors.Is(err, model.ErrNotInTree),
		errors.Is(err, model.ErrMissingBinary):
		return newError(KindInvariant, err)

	case errors.Is(err, crypto.ErrUnknownCipher),
		errors.Is(err, innerstream.ErrUnknownStream),
		errors.Is(err, kdblegacy.ErrUnknownEncryption):
		return newError(KindNotSupported, err)

	case errors.Is(err, header.ErrSHAMismatch),
		errors.Is(err, header.ErrTruncated),
		errors.Is(err, header.ErrUnknownField),
		errors.Is(err, header.ErrBadFieldLength),
		errors.Is(err, blockstream.ErrHashMismatch),
		errors.Is(err, blockstream.ErrBadIndex),
		errors.Is(err, variant.ErrVersion),
		errors.Is(err, variant.ErrUnknownType),
		errors.Is(err, variant.ErrDuplicateKey),
		errors.Is(err, variant.ErrTruncated),
		errors.Is(err, kdblegacy.ErrDatabaseUnaligned),
		errors.Is(err, kdblegacy.ErrGroupsInconsistent),
		errors.Is(err, gzip.ErrHeader),
		errors.Is(err, gzip.ErrChecksum),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return newError(KindCorruption, err)

	default:
		var fve *header.FieldVersionError
		var xse *xml.SyntaxError
		var fce flate.CorruptInputError
		if errors.As(err, &fve) || errors.As(err, &xse) || errors.As(err, &fce) {
			return newError(KindCorruption, err)
		}
		return newError(KindIO, err)
	}
}
