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
	"strings"

	"github.com/gokeepass/kdbx/internal/innerstream"
	"github.com/gokeepass/kdbx/model"
)

// decodeGroup reads a <Group> element (start already consumed) and
// its full subtree, recursing into child <Group> and <Entry> elements
// in the exact document order they appear, since that order is the
// order protected fields are unmasked against the inner keystream.
func decodeGroup(dec *xml.Decoder, start xml.StartElement, codec *innerstream.Codec, pool *model.BinaryPool) (*model.Group, error) {
	g := &model.Group{}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Group" {
				return g, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "UUID":
				g.UUID, err = decodeUUIDElement(dec, t.Name)
			case "Name":
				g.Name, err = readCharData(dec, t.Name)
			case "Notes":
				g.Notes, err = readCharData(dec, t.Name)
			case "IconID":
				g.IconID, err = decodeIntElement(dec, t.Name)
			case "CustomIconUUID":
				g.CustomIconUUID, err = decodeUUIDElement(dec, t.Name)
			case "Times":
				g.Times, err = decodeTimes(dec, t)
			case "IsExpanded":
				var s string
				s, err = readCharData(dec, t.Name)
				g.IsExpanded = parseBool(s)
			case "DefaultAutoTypeSequence":
				g.DefaultAutoTypeSequence, err = readCharData(dec, t.Name)
			case "EnableAutoType":
				var s string
				s, err = readCharData(dec, t.Name)
				g.EnableAutoType = parseTristate(s)
			case "EnableSearching":
				var s string
				s, err = readCharData(dec, t.Name)
				g.EnableSearching = parseTristate(s)
			case "LastTopVisibleEntry":
				g.LastTopVisibleEntry, err = decodeUUIDElement(dec, t.Name)
			case "CustomData":
				g.CustomData, err = decodeCustomData(dec)
			case "Group":
				var child *model.Group
				child, err = decodeGroup(dec, t, codec, pool)
				if err == nil {
					g.AppendChild(child)
				}
			case "Entry":
				var child *model.Entry
				child, err = decodeEntry(dec, t, codec, pool, false)
				if err == nil {
					g.AppendChild(child)
				}
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return nil, err
			}
		}
	}
}

func encodeGroup(bw *bufWriter, g *model.Group, codec *innerstream.Codec) error {
	bw.writeString("<Group>")
	bw.writeElement("UUID", g.UUID.Base64())
	bw.writeElement("Name", g.Name)
	bw.writeElement("Notes", g.Notes)
	bw.writeElement("IconID", strconv.Itoa(g.IconID))
	if !g.CustomIconUUID.IsZero() {
		bw.writeElement("CustomIconUUID", g.CustomIconUUID.Base64())
	}
	encodeTimes(bw, g.Times)
	bw.writeElement("IsExpanded", boolAttr(g.IsExpanded))
	bw.writeElement("DefaultAutoTypeSequence", g.DefaultAutoTypeSequence)
	encodeTristate(bw, "EnableAutoType", g.EnableAutoType)
	encodeTristate(bw, "EnableSearching", g.EnableSearching)
	bw.writeElement("LastTopVisibleEntry", uuidOrNil(g.LastTopVisibleEntry))
	encodeCustomData(bw, g.CustomData, sortedKeys(g.CustomData))

	for _, child := range g.Children() {
		switch c := child.(type) {
		case *model.Group:
			if err := encodeGroup(bw, c, codec); err != nil {
				return err
			}
		case *model.Entry:
			if err := encodeEntry(bw, c, codec, false); err != nil {
				return err
			}
		}
	}
	bw.writeString("</Group>")
	return bw.err
}

// decodeTagList splits KeePass's semicolon-separated <Tags> text.
func decodeTagList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func encodeTagList(tags []string) string {
	return strings.Join(tags, ";")
}
