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
	"time"

	"github.com/gokeepass/kdbx/model"
	"github.com/gokeepass/kdbx/pkg/uuid"
)

// decodeMeta reads <Meta> one child element at a time, switching on
// the element name. None of its children are inner-stream protected,
// so the order they appear in has no bearing on keystream consumption.
func decodeMeta(dec *xml.Decoder) (model.Meta, map[int]model.BinaryData, error) {
	meta := model.NewMeta()
	binaries := make(map[int]model.BinaryData)

	for {
		tok, err := dec.Token()
		if err != nil {
			return meta, nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Meta" {
				return meta, binaries, nil
			}
		case xml.StartElement:
			switch t.Name.Local {
			case "Generator":
				meta.Generator, err = readCharData(dec, t.Name)
			case "DatabaseName":
				meta.Name, err = readCharData(dec, t.Name)
			case "DatabaseNameChanged":
				meta.NameChanged, err = decodeTimeElement(dec, t.Name)
			case "DatabaseDescription":
				meta.Description, err = readCharData(dec, t.Name)
			case "DatabaseDescriptionChanged":
				meta.DescriptionChanged, err = decodeTimeElement(dec, t.Name)
			case "DefaultUserName":
				meta.DefaultUserName, err = readCharData(dec, t.Name)
			case "DefaultUserNameChanged":
				meta.DefaultUserNameChanged, err = decodeTimeElement(dec, t.Name)
			case "MaintenanceHistoryDays":
				meta.MaintenanceHistoryDays, err = decodeIntElement(dec, t.Name)
			case "Color":
				meta.Color, err = readCharData(dec, t.Name)
			case "MasterKeyChanged":
				meta.MasterKeyChanged, err = decodeTimeElement(dec, t.Name)
			case "MasterKeyChangeRec":
				meta.MasterKeyChangeRec, err = decodeIntElement(dec, t.Name)
			case "MasterKeyChangeForce":
				meta.MasterKeyChangeForce, err = decodeIntElement(dec, t.Name)
			case "RecycleBinEnabled":
				var s string
				s, err = readCharData(dec, t.Name)
				meta.RecycleBinEnabled = parseBool(s)
			case "RecycleBinUUID":
				meta.RecycleBinUUID, err = decodeUUIDElement(dec, t.Name)
			case "RecycleBinChanged":
				meta.RecycleBinChanged, err = decodeTimeElement(dec, t.Name)
			case "EntryTemplatesGroup":
				meta.EntryTemplatesGroup, err = decodeUUIDElement(dec, t.Name)
			case "EntryTemplatesGroupChanged":
				meta.EntryTemplatesGroupChanged, err = decodeTimeElement(dec, t.Name)
			case "HistoryMaxItems":
				meta.HistoryMaxItems, err = decodeIntElement(dec, t.Name)
			case "HistoryMaxSize":
				meta.HistoryMaxSize, err = decodeIntElement(dec, t.Name)
			case "LastSelectedGroup":
				meta.LastSelectedGroup, err = decodeUUIDElement(dec, t.Name)
			case "LastTopVisibleGroup":
				meta.LastTopVisibleGroup, err = decodeUUIDElement(dec, t.Name)
			case "CustomIcons":
				meta.CustomIcons, err = decodeCustomIcons(dec)
			case "Binaries":
				binaries, err = decodeBinaries(dec)
			case "CustomData":
				meta.CustomData, err = decodeCustomData(dec)
			default:
				err = skipElement(dec)
			}
			if err != nil {
				return meta, nil, err
			}
		}
	}
}

func decodeTimeElement(dec *xml.Decoder, name xml.Name) (time.Time, error) {
	s, err := readCharData(dec, name)
	if err != nil {
		return time.Time{}, err
	}
	return parseTimestamp(s)
}

func decodeIntElement(dec *xml.Decoder, name xml.Name) (int, error) {
	s, err := readCharData(dec, name)
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n, nil
}

func decodeUUIDElement(dec *xml.Decoder, name xml.Name) (uuid.UUID, error) {
	s, err := readCharData(dec, name)
	if err != nil {
		return uuid.Nil, err
	}
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.FromBase64(s)
	if err != nil {
		return uuid.Nil, schemaErrorf("invalid UUID %q: %v", s, err)
	}
	return id, nil
}

func decodeCustomIcons(dec *xml.Decoder) ([]model.CustomIcon, error) {
	var out []model.CustomIcon
	type iconXML struct {
		UUID string `xml:"UUID"`
		Data string `xml:"Data"`
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "CustomIcons" {
				return out, nil
			}
		case xml.StartElement:
			if t.Name.Local != "Icon" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			var ix iconXML
			if err := dec.DecodeElement(&ix, &t); err != nil {
				return nil, err
			}
			id, err := uuid.FromBase64(ix.UUID)
			if err != nil {
				return nil, schemaErrorf("CustomIcon UUID: %v", err)
			}
			data, err := decodeBase64(ix.Data)
			if err != nil {
				return nil, err
			}
			out = append(out, model.CustomIcon{UUID: id, Data: data})
		}
	}
}

func decodeBinaries(dec *xml.Decoder) (map[int]model.BinaryData, error) {
	out := make(map[int]model.BinaryData)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == "Binaries" {
				return out, nil
			}
		case xml.StartElement:
			if t.Name.Local != "Binary" {
				if err := skipElement(dec); err != nil {
					return nil, err
				}
				continue
			}
			var id int
			var compressed, protected bool
			for _, a := range t.Attr {
				switch a.Name.Local {
				case "ID":
					id, _ = strconv.Atoi(a.Value)
				case "Compressed":
					compressed = parseBool(a.Value)
				case "Protected":
					protected = parseBool(a.Value)
				}
			}
			text, err := readCharData(dec, t.Name)
			if err != nil {
				return nil, err
			}
			data, err := decodeBase64(strings.TrimSpace(text))
			if err != nil {
				return nil, err
			}
			if compressed {
				data, err = gunzip(data)
				if err != nil {
					return nil, schemaErrorf("Binary id %d: %v", id, err)
				}
			}
			out[id] = model.BinaryData{Data: data, Protected: protected}
		}
	}
}

func encodeMeta(bw *bufWriter, m model.Meta, generator string) error {
	if generator == "" {
		generator = m.Generator
	}
	bw.writeString("<Meta>")
	bw.writeElement("Generator", generator)
	bw.writeElement("DatabaseName", m.Name)
	bw.writeElement("DatabaseNameChanged", formatTimestamp(m.NameChanged))
	bw.writeElement("DatabaseDescription", m.Description)
	bw.writeElement("DatabaseDescriptionChanged", formatTimestamp(m.DescriptionChanged))
	bw.writeElement("DefaultUserName", m.DefaultUserName)
	bw.writeElement("DefaultUserNameChanged", formatTimestamp(m.DefaultUserNameChanged))
	bw.writeElement("MaintenanceHistoryDays", strconv.Itoa(m.MaintenanceHistoryDays))
	bw.writeElement("Color", m.Color)
	bw.writeElement("MasterKeyChanged", formatTimestamp(m.MasterKeyChanged))
	bw.writeElement("MasterKeyChangeRec", strconv.Itoa(m.MasterKeyChangeRec))
	bw.writeElement("MasterKeyChangeForce", strconv.Itoa(m.MasterKeyChangeForce))
	bw.writeElement("RecycleBinEnabled", boolAttr(m.RecycleBinEnabled))
	bw.writeElement("RecycleBinUUID", uuidOrNil(m.RecycleBinUUID))
	bw.writeElement("RecycleBinChanged", formatTimestamp(m.RecycleBinChanged))
	bw.writeElement("EntryTemplatesGroup", uuidOrNil(m.EntryTemplatesGroup))
	bw.writeElement("EntryTemplatesGroupChanged", formatTimestamp(m.EntryTemplatesGroupChanged))
	bw.writeElement("HistoryMaxItems", strconv.Itoa(m.HistoryMaxItems))
	bw.writeElement("HistoryMaxSize", strconv.Itoa(m.HistoryMaxSize))
	bw.writeElement("LastSelectedGroup", uuidOrNil(m.LastSelectedGroup))
	bw.writeElement("LastTopVisibleGroup", uuidOrNil(m.LastTopVisibleGroup))
	encodeCustomIcons(bw, m.CustomIcons)
	bw.writeString("<Binaries/>")
	encodeCustomData(bw, m.CustomData, sortedKeys(m.CustomData))
	bw.writeString("</Meta>")
	return bw.err
}

func encodeCustomIcons(bw *bufWriter, icons []model.CustomIcon) {
	if len(icons) == 0 {
		return
	}
	bw.writeString("<CustomIcons>")
	for _, ic := range icons {
		bw.writeString("<Icon>")
		bw.writeElement("UUID", ic.UUID.Base64())
		bw.writeElement("Data", encodeBase64(ic.Data))
		bw.writeString("</Icon>")
	}
	bw.writeString("</CustomIcons>")
}

func uuidOrNil(id uuid.UUID) string {
	if id.IsZero() {
		return ""
	}
	return id.Base64()
}
