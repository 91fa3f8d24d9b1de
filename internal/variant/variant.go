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

// Package variant implements KDBX4's variant dictionary: a small
// typed key/value map used to carry KDF parameters and public custom
// data inside the outer header.
package variant

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type tags recognized by the wire format.
const (
	TypeUint32 byte = 0x04
	TypeUint64 byte = 0x05
	TypeBool   byte = 0x08
	TypeInt32  byte = 0x0C
	TypeInt64  byte = 0x0D
	TypeString byte = 0x18
	TypeBytes  byte = 0x42
)

const wireVersion uint16 = 0x0100

var (
	// ErrVersion is returned when the dictionary's major version byte
	// doesn't match the one this package writes.
	ErrVersion = errors.New("variant: unsupported dictionary version")
	// ErrUnknownType is returned for a type tag this package doesn't recognize.
	ErrUnknownType = errors.New("variant: unknown value type")
	// ErrDuplicateKey is returned when a dictionary has the same key twice.
	ErrDuplicateKey = errors.New("variant: duplicate key")
	// ErrTruncated is returned when the stream ends mid-record.
	ErrTruncated = errors.New("variant: truncated dictionary")
)

// Dictionary is an ordered key/value map: order of insertion is
// preserved for encoding determinism, even though decode doesn't
// require it of its input.
type Dictionary struct {
	keys   []string
	values map[string]interface{}
}

// New returns an empty dictionary.
func New() *Dictionary {
	return &Dictionary{values: make(map[string]interface{})}
}

// Set stores a value under key, appending it to the insertion order
// the first time the key is seen. v must be one of uint32, uint64,
// bool, int32, int64, string, or []byte.
func (d *Dictionary) Set(key string, v interface{}) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value stored under key, if any.
func (d *Dictionary) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (d *Dictionary) Keys() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

// Map returns a plain map[string]interface{} copy, for callers that
// don't care about insertion order (e.g. the Config.KdfParams field).
func (d *Dictionary) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Decode reads a variant dictionary from r: a 2-byte version, a
// sequence of typed records, and a 0-byte terminator.
func Decode(r io.Reader) (*Dictionary, error) {
	var verBuf [2]byte
	if _, err := io.ReadFull(r, verBuf[:]); err != nil {
		return nil, fmt.Errorf("variant: read version: %w", err)
	}
	version := binary.LittleEndian.Uint16(verBuf[:])
	if byte(version>>8) != byte(wireVersion>>8) {
		return nil, ErrVersion
	}

	d := New()
	for {
		var typeBuf [1]byte
		if _, err := io.ReadFull(r, typeBuf[:]); err != nil {
			return nil, fmt.Errorf("variant: read type: %w", err)
		}
		t := typeBuf[0]
		if t == 0 {
			return d, nil
		}

		key, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}
		val, err := readLenPrefixed(r)
		if err != nil {
			return nil, err
		}

		if _, exists := d.values[string(key)]; exists {
			return nil, ErrDuplicateKey
		}

		v, err := decodeValue(t, val)
		if err != nil {
			return nil, err
		}
		d.Set(string(key), v)
	}
}

func decodeValue(t byte, val []byte) (interface{}, error) {
	switch t {
	case TypeUint32:
		if len(val) != 4 {
			return nil, ErrTruncated
		}
		return binary.LittleEndian.Uint32(val), nil
	case TypeUint64:
		if len(val) != 8 {
			return nil, ErrTruncated
		}
		return binary.LittleEndian.Uint64(val), nil
	case TypeBool:
		if len(val) != 1 {
			return nil, ErrTruncated
		}
		return val[0] != 0, nil
	case TypeInt32:
		if len(val) != 4 {
			return nil, ErrTruncated
		}
		return int32(binary.LittleEndian.Uint32(val)), nil
	case TypeInt64:
		if len(val) != 8 {
			return nil, ErrTruncated
		}
		return int64(binary.LittleEndian.Uint64(val)), nil
	case TypeString:
		return string(val), nil
	case TypeBytes:
		out := make([]byte, len(val))
		copy(out, val)
		return out, nil
	default:
		return nil, ErrUnknownType
	}
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("variant: read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("variant: read value: %w", err)
	}
	return buf, nil
}

// Encode writes d in insertion order, followed by the terminator.
func (d *Dictionary) Encode(w io.Writer) error {
	var verBuf [2]byte
	binary.LittleEndian.PutUint16(verBuf[:], wireVersion)
	if _, err := w.Write(verBuf[:]); err != nil {
		return err
	}
	for _, k := range d.keys {
		if err := encodeRecord(w, k, d.values[k]); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{0})
	return err
}

func encodeRecord(w io.Writer, key string, v interface{}) error {
	var t byte
	var val []byte
	switch x := v.(type) {
	case uint32:
		t = TypeUint32
		val = make([]byte, 4)
		binary.LittleEndian.PutUint32(val, x)
	case uint64:
		t = TypeUint64
		val = make([]byte, 8)
		binary.LittleEndian.PutUint64(val, x)
	case bool:
		t = TypeBool
		if x {
			val = []byte{1}
		} else {
			val = []byte{0}
		}
	case int32:
		t = TypeInt32
		val = make([]byte, 4)
		binary.LittleEndian.PutUint32(val, uint32(x))
	case int64:
		t = TypeInt64
		val = make([]byte, 8)
		binary.LittleEndian.PutUint64(val, uint64(x))
	case string:
		t = TypeString
		val = []byte(x)
	case []byte:
		t = TypeBytes
		val = x
	default:
		return fmt.Errorf("variant: unsupported Go type %T for key %q", v, key)
	}

	if _, err := w.Write([]byte{t}); err != nil {
		return err
	}
	if err := writeLenPrefixed(w, []byte(key)); err != nil {
		return err
	}
	return writeLenPrefixed(w, val)
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
