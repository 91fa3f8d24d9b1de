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

// Package kdbxml binds the KDBX3/KDBX4 inner XML document to and from
// model.Database's node tree. It walks the document with a token-level
// decoder (rather than struct-tag unmarshaling) because the order in
// which <String Protected="True"> elements are visited must exactly
// match the order the inner keystream (internal/innerstream) is
// consumed; a struct-tag decoder gives no such ordering guarantee, and
// re-marshaling in map/sorted order would silently corrupt every
// protected value after the first reordering.
package kdbxml

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/model"
	"github.com/gokeepass/kdbx/pkg/uuid"
)

// ErrSchema is returned for a structurally invalid document: a
// required element missing, invalid base64, or an out-of-range
// timestamp.
var ErrSchema = errors.New("kdbxml: schema violation")

func schemaErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

// Document is the decoded content of a KDBX inner XML document.
type Document struct {
	Meta           model.Meta
	Root           *model.Group
	DeletedObjects []model.DeletedObject
}

// Decode parses a KeePassFile document from r. codec unmasks
// Protected="True" string values in the document order they appear;
// binaries resolves <Value Ref="N"> against binary data already
// extracted from the inner header (KDBX4) or from XML-embedded
// <Binary> pool entries (KDBX3, which carries the pool inline under
// <Meta>).
func Decode(r io.Reader, codec *innerstream.Codec, pool *model.BinaryPool) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "KeePassFile":
			if err := decodeKeePassFile(dec, codec, pool, doc); err != nil {
				return nil, err
			}
		}
	}
	if doc.Root == nil {
		return nil, schemaErrorf("missing Root/Group element")
	}
	return doc, nil
}

func decodeKeePassFile(dec *xml.Decoder, codec *innerstream.Codec, pool *model.BinaryPool, doc *Document) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "KeePassFile" {
				return nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Meta":
				meta, metaBinaries, err := decodeMeta(dec)
				if err != nil {
					return err
				}
				doc.Meta = meta
				for id, b := range metaBinaries {
					pool.Set(id, b.Data, b.Protected)
				}
			case "Root":
				root, deleted, err := decodeRoot(dec, codec, pool)
				if err != nil {
					return err
				}
				doc.Root = root
				doc.DeletedObjects = deleted
			default:
				if err := skipElement(dec); err != nil {
					return err
				}
			}
		}
	}
}

func decodeRoot(dec *xml.Decoder, codec *innerstream.Codec, pool *model.BinaryPool) (*model.Group, []model.DeletedObject, error) {
	var root *model.Group
	var deleted []model.DeletedObject
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Root" {
				return root, deleted, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Group":
				g, err := decodeGroup(dec, t, codec, pool)
				if err != nil {
					return nil, nil, err
				}
				root = g
			case "DeletedObjects":
				deleted, err = decodeDeletedObjects(dec)
				if err != nil {
					return nil, nil, err
				}
			default:
				if err := skipElement(dec); err != nil {
					return nil, nil, err
				}
			}
		}
	}
}

type deletedObjectXML struct {
	UUID         string `xml:"UUID"`
	DeletionTime string `xml:"DeletionTime"`
}

func decodeDeletedObjects(dec *xml.Decoder) ([]model.DeletedObject, error) {
	var out []model.DeletedObject
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "DeletedObjects" {
				return out, nil
			}
		case xml.StartElement:
			if t.Name.Local != "DeletedObject" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			var d deletedObjectXML
			if err := dec.DecodeElement(&d, &t); err != nil {
				return nil, err
			}
			id, err := uuid.FromBase64(d.UUID)
			if err != nil {
				return nil, schemaErrorf("DeletedObject UUID: %v", err)
			}
			ts, err := parseTimestamp(d.DeletionTime)
			if err != nil {
				return nil, schemaErrorf("DeletedObject DeletionTime: %v", err)
			}
			out = append(out, model.DeletedObject{UUID: id, DeletionTime: ts})
		}
	}
}

// skipElement discards a subtree the decoder isn't interested in,
// including any protected string values inside it, which must still
// be walked past textually even though their keystream bytes are
// never consumed (unknown XML elements are not preserved on save, per
// the writer's documented behavior).
func skipElement(dec *xml.Decoder) error {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func readCharData(dec *xml.Decoder, end xml.Name) (string, error) {
	var buf strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.Write(t)
		case xml.EndElement:
			if t.Name == end {
				return buf.String(), nil
			}
		case xml.StartElement:
			if err := skipElement(dec); err != nil {
				return "", err
			}
		}
	}
}

// Encode writes doc as a KeePassFile document to w. codec masks
// Protected="True" string values in the same document order Decode
// consumes them.
func Encode(w io.Writer, doc *Document, codec *innerstream.Codec, generator string) error {
	bw := &bufWriter{w: w}
	bw.writeString(xml.Header)
	bw.writeString("<KeePassFile>")
	if err := encodeMeta(bw, doc.Meta, generator); err != nil {
		return err
	}
	bw.writeString("<Root>")
	if err := encodeGroup(bw, doc.Root, codec); err != nil {
		return err
	}
	encodeDeletedObjects(bw, doc.DeletedObjects)
	bw.writeString("</Root>")
	bw.writeString("</KeePassFile>")
	return bw.err
}

func encodeDeletedObjects(bw *bufWriter, deleted []model.DeletedObject) {
	bw.writeString("<DeletedObjects>")
	for _, d := range deleted {
		bw.writeString("<DeletedObject>")
		bw.writeElement("UUID", d.UUID.Base64())
		bw.writeElement("DeletionTime", formatTimestamp(d.DeletionTime))
		bw.writeString("</DeletedObject>")
	}
	bw.writeString("</DeletedObjects>")
}

// bufWriter is a minimal streaming XML text writer. The document is
// built from fixed, hand-escaped fragments rather than xml.Encoder so
// that emission order (and thus inner-keystream consumption order) is
// exactly the order this package's code executes in, with nothing
// buffered or reordered underneath it.
type bufWriter struct {
	w   io.Writer
	err error
}

func (bw *bufWriter) writeString(s string) {
	if bw.err != nil {
		return
	}
	_, bw.err = io.WriteString(bw.w, s)
}

func (bw *bufWriter) writeElement(name, value string) {
	bw.writeString("<" + name + ">")
	bw.writeEscaped(value)
	bw.writeString("</" + name + ">")
}

func (bw *bufWriter) writeEscaped(s string) {
	if bw.err != nil {
		return
	}
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		bw.err = err
		return
	}
	bw.writeString(buf.String())
}

func boolAttr(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBool(s string) bool {
	return strings.EqualFold(s, "true") || s == "1"
}

func encodeTristate(bw *bufWriter, name string, v model.Tristate) {
	bw.writeString("<" + name + ">")
	if v == nil {
		bw.writeString("null")
	} else if *v {
		bw.writeString("True")
	} else {
		bw.writeString("False")
	}
	bw.writeString("</" + name + ">")
}

func parseTristate(s string) model.Tristate {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return model.TristateTrue()
	case "false":
		return model.TristateFalse()
	default:
		return nil
	}
}

// kdbxEpoch is KDBX4's timestamp base: 0001-01-01T00:00:00Z.
var kdbxEpoch = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// parseTimestamp accepts both KDBX3's ISO-8601 UTC text and KDBX4's
// base64-encoded signed 64-bit seconds-since-epoch encoding, since
// readers are required to accept either regardless of file version.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(raw) != 8 {
		return time.Time{}, schemaErrorf("invalid timestamp %q", s)
	}
	var secs int64
	for i := 7; i >= 0; i-- {
		secs = secs<<8 | int64(raw[i])
	}
	return time.Unix(kdbxEpoch.Unix()+secs, 0).UTC(), nil
}

// formatTimestamp always writes the KDBX4 base64 seconds-since-epoch
// encoding; readers of either version accept it.
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		t = kdbxEpoch
	}
	secs := t.UTC().Unix() - kdbxEpoch.Unix()
	var raw [8]byte
	for i := 0; i < 8; i++ {
		raw[i] = byte(secs)
		secs >>= 8
	}
	return base64.StdEncoding.EncodeToString(raw[:])
}

type timesXML struct {
	CreationTime         string `xml:"CreationTime"`
	LastModificationTime string `xml:"LastModificationTime"`
	LastAccessTime       string `xml:"LastAccessTime"`
	ExpiryTime           string `xml:"ExpiryTime"`
	Expires              string `xml:"Expires"`
	UsageCount           string `xml:"UsageCount"`
	LocationChanged      string `xml:"LocationChanged"`
}

func decodeTimes(dec *xml.Decoder, start xml.StartElement) (model.Times, error) {
	var tx timesXML
	if err := dec.DecodeElement(&tx, &start); err != nil {
		return model.Times{}, err
	}
	var t model.Times
	var err error
	if t.CreationTime, err = parseTimestamp(tx.CreationTime); err != nil {
		return t, err
	}
	if t.LastModificationTime, err = parseTimestamp(tx.LastModificationTime); err != nil {
		return t, err
	}
	if t.LastAccessTime, err = parseTimestamp(tx.LastAccessTime); err != nil {
		return t, err
	}
	if t.ExpiryTime, err = parseTimestamp(tx.ExpiryTime); err != nil {
		return t, err
	}
	if t.LocationChanged, err = parseTimestamp(tx.LocationChanged); err != nil {
		return t, err
	}
	t.Expires = parseBool(tx.Expires)
	if n, err := strconv.ParseUint(strings.TrimSpace(tx.UsageCount), 10, 32); err == nil {
		t.UsageCount = uint32(n)
	}
	return t, nil
}

func encodeTimes(bw *bufWriter, t model.Times) {
	bw.writeString("<Times>")
	bw.writeElement("LastModificationTime", formatTimestamp(t.LastModificationTime))
	bw.writeElement("CreationTime", formatTimestamp(t.CreationTime))
	bw.writeElement("LastAccessTime", formatTimestamp(t.LastAccessTime))
	bw.writeElement("ExpiryTime", formatTimestamp(t.ExpiryTime))
	bw.writeElement("Expires", boolAttr(t.Expires))
	bw.writeElement("UsageCount", strconv.FormatUint(uint64(t.UsageCount), 10))
	bw.writeElement("LocationChanged", formatTimestamp(t.LocationChanged))
	bw.writeString("</Times>")
}

func decodeCustomData(dec *xml.Decoder) (map[string]string, error) {
	out := make(map[string]string)
	type item struct {
		Key   string `xml:"Key"`
		Value string `xml:"Value"`
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "CustomData" {
				return out, nil
			}
		case xml.StartElement:
			if t.Name.Local != "Item" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			var it item
			if err := dec.DecodeElement(&it, &t); err != nil {
				return nil, err
			}
			out[it.Key] = it.Value
		}
	}
}

func encodeCustomData(bw *bufWriter, data map[string]string, keys []string) {
	if len(data) == 0 {
		return
	}
	bw.writeString("<CustomData>")
	for _, k := range keys {
		bw.writeString("<Item>")
		bw.writeElement("Key", k)
		bw.writeElement("Value", data[k])
		bw.writeString("</Item>")
	}
	bw.writeString("</CustomData>")
}

// sortedKeys returns m's keys in a deterministic order for
// serialization; CustomData carries no protected values, so document
// order here has no bearing on keystream consumption.
func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
