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

package kdbxml

import (
	"encoding/xml"
	"strconv"

	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/model"
)

// decodeEntry reads an <Entry> element and its subtree. isHistory
// marks a snapshot found inside another entry's <History>: such
// entries must not themselves contain a <History> element, per the
// model's invariant that a History entry never carries its own
// History.
func decodeEntry(dec *xml.Decoder, start xml.StartElement, codec *innerstream.Codec, pool *model.BinaryPool, isHistory bool) (*model.Entry, error) {
	e := &model.Entry{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Entry" {
				return e, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "UUID":
				e.UUID, err = decodeUUIDElement(dec, t.Name)
			case "IconID":
				e.IconID, err = decodeIntElement(dec, t.Name)
			case "CustomIconUUID":
				e.CustomIconUUID, err = decodeUUIDElement(dec, t.Name)
			case "ForegroundColor":
				e.ForegroundColor, err = readCharData(dec, t.Name)
			case "BackgroundColor":
				e.BackgroundColor, err = readCharData(dec, t.Name)
			case "OverrideURL":
				e.OverrideURL, err = readCharData(dec, t.Name)
			case "Tags":
				var s string
				s, err = readCharData(dec, t.Name)
				e.Tags = decodeTagList(s)
			case "Times":
				e.Times, err = decodeTimes(dec, t)
			case "CustomData":
				e.CustomData, err = decodeCustomData(dec)
			case "String":
				var f model.StringField
				f, err = decodeStringField(dec, codec)
				if err == nil {
					e.Strings = append(e.Strings, f)
				}
			case "Binary":
				var b model.BinaryRef
				b, err = decodeBinaryRef(dec, t)
				if err == nil {
					e.Binaries = append(e.Binaries, b)
				}
			case "AutoType":
				e.AutoType, err = decodeAutoType(dec)
			case "History":
				if isHistory {
					err = schemaErrorf("History entry must not itself carry History")
					break
				}
				e.History, err = decodeHistory(dec, codec, pool)
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return nil, err
			}
		}
	}
}

func decodeHistory(dec *xml.Decoder, codec *innerstream.Codec, pool *model.BinaryPool) ([]*model.Entry, error) {
	var out []*model.Entry
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "History" {
				return out, nil
			}
		case xml.StartElement:
			if t.Name.Local != "Entry" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			snap, err := decodeEntry(dec, t, codec, pool, true)
			if err != nil {
				return nil, err
			}
			out = append(out, snap)
		}
	}
}

// decodeStringField reads one <String><Key>k</Key><Value ...>v</Value></String>.
// A Protected="True" attribute on <Value> means v's text is base64
// ciphertext that must be unmasked against the next len(plaintext)
// bytes of the inner keystream, consumed in this exact call order.
func decodeStringField(dec *xml.Decoder, codec *innerstream.Codec) (model.StringField, error) {
	var f model.StringField
	var protected bool
	var rawValue string
	haveValue := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return f, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "String" {
				if !haveValue {
					f.Value = model.PlainValue("")
					return f, nil
				}
				if protected {
					if codec == nil {
						return f, schemaErrorf("protected String %q with no inner-stream key configured", f.Key)
					}
					cipher, err := decodeBase64(rawValue)
					if err != nil {
						return f, err
					}
					f.Value = model.NewProtectedValue(string(codec.XOR(cipher)))
				} else {
					f.Value = model.PlainValue(rawValue)
				}
				return f, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Key":
				f.Key, err = readCharData(dec, t.Name)
			case "Value":
				for _, a := range t.Attr {
					if a.Name.Local == "Protected" {
						protected = parseBool(a.Value)
					}
				}
				rawValue, err = readCharData(dec, t.Name)
				haveValue = true
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return f, err
			}
		}
	}
}

func encodeStringFields(bw *bufWriter, fields []model.StringField, codec *innerstream.Codec) error {
	for _, f := range fields {
		bw.writeString("<String><Key>")
		bw.writeEscaped(f.Key)
		bw.writeString("</Key>")
		switch v := f.Value.(type) {
		case model.ProtectedValue:
			if codec == nil {
				return schemaErrorf("protected String %q with no inner-stream key configured", f.Key)
			}
			cipher := codec.XOR([]byte(v.String()))
			bw.writeString(`<Value Protected="True">`)
			bw.writeEscaped(encodeBase64(cipher))
			bw.writeString("</Value>")
		case model.PlainValue:
			bw.writeString("<Value>")
			bw.writeEscaped(string(v))
			bw.writeString("</Value>")
		default:
			bw.writeString("<Value/>")
		}
		bw.writeString("</String>")
		if bw.err != nil {
			return bw.err
		}
	}
	return nil
}

func decodeBinaryRef(dec *xml.Decoder, start xml.StartElement) (model.BinaryRef, error) {
	var ref model.BinaryRef
	for _, a := range start.Attr {
		if a.Name.Local == "Key" {
			ref.Name = a.Value
		}
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return ref, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Binary" {
				return ref, nil
			}
		case xml.StartElement:
			if t.Name.Local == "Value" {
				for _, a := range t.Attr {
					if a.Name.Local == "Ref" {
						ref.ID, _ = strconv.Atoi(a.Value)
					}
				}
				if _, err := readCharData(dec, t.Name); err != nil {
					return ref, err
				}
			} else if err := skipElement(dec); err != nil {
				return ref, err
			}
		}
	}
}

func encodeBinaryRefs(bw *bufWriter, refs []model.BinaryRef) {
	for _, ref := range refs {
		bw.writeString(`<Binary Key="`)
		bw.writeEscaped(ref.Name)
		bw.writeString(`"><Value Ref="`)
		bw.writeString(strconv.Itoa(ref.ID))
		bw.writeString(`"/></Binary>`)
	}
}

func decodeAutoType(dec *xml.Decoder) (model.AutoType, error) {
	var at model.AutoType
	for {
		tok, err := dec.Token()
		if err != nil {
			return at, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "AutoType" {
				return at, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Enabled":
				var s string
				s, err = readCharData(dec, t.Name)
				at.Enabled = parseBool(s)
			case "DataTransferObfuscation":
				at.DataTransferObfuscation, err = decodeIntElement(dec, t.Name)
			case "DefaultSequence":
				at.DefaultSequence, err = readCharData(dec, t.Name)
			case "Association":
				var assoc model.AutoTypeAssociation
				assoc, err = decodeAssociation(dec)
				if err == nil {
					at.Associations = append(at.Associations, assoc)
				}
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return at, err
			}
		}
	}
}

func decodeAssociation(dec *xml.Decoder) (model.AutoTypeAssociation, error) {
	var a model.AutoTypeAssociation
	for {
		tok, err := dec.Token()
		if err != nil {
			return a, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Association" {
				return a, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Window":
				a.Window, err = readCharData(dec, t.Name)
			case "KeystrokeSequence":
				a.KeystrokeSequence, err = readCharData(dec, t.Name)
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return a, err
			}
		}
	}
}

func encodeAutoType(bw *bufWriter, at model.AutoType) {
	bw.writeString("<AutoType>")
	bw.writeElement("Enabled", boolAttr(at.Enabled))
	bw.writeElement("DataTransferObfuscation", strconv.Itoa(at.DataTransferObfuscation))
	bw.writeElement("DefaultSequence", at.DefaultSequence)
	for _, a := range at.Associations {
		bw.writeString("<Association>")
		bw.writeElement("Window", a.Window)
		bw.writeElement("KeystrokeSequence", a.KeystrokeSequence)
		bw.writeString("</Association>")
	}
	bw.writeString("</AutoType>")
}

func encodeEntry(bw *bufWriter, e *model.Entry, codec *innerstream.Codec, isHistory bool) error {
	bw.writeString("<Entry>")
	bw.writeElement("UUID", e.UUID.Base64())
	bw.writeElement("IconID", strconv.Itoa(e.IconID))
	if !e.CustomIconUUID.IsZero() {
		bw.writeElement("CustomIconUUID", e.CustomIconUUID.Base64())
	}
	bw.writeElement("ForegroundColor", e.ForegroundColor)
	bw.writeElement("BackgroundColor", e.BackgroundColor)
	bw.writeElement("OverrideURL", e.OverrideURL)
	bw.writeElement("Tags", encodeTagList(e.Tags))
	encodeTimes(bw, e.Times)
	if err := encodeStringFields(bw, e.Strings, codec); err != nil {
		return err
	}
	encodeBinaryRefs(bw, e.Binaries)
	encodeAutoType(bw, e.AutoType)
	encodeCustomData(bw, e.CustomData, sortedKeys(e.CustomData))
	if !isHistory && len(e.History) > 0 {
		bw.writeString("<History>")
		for _, snap := range e.History {
			if err := encodeEntry(bw, snap, codec, true); err != nil {
				return err
			}
		}
		bw.writeString("</History>")
	}
	bw.writeString("</Entry>")
	return bw.err
}
