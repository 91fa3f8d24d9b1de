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

// Package model holds the in-memory node tree shared by every KeePass
// codec (KDB, KDBX3, KDBX4): groups, entries, the database-wide binary
// pool, and the meta record. Codecs under internal/ build and consume
// a Database; the public kdbx package re-exports these types so
// callers never import model directly.
package model

import (
	"time"

	"github.com/gokeepass/kdbx/pkg/uuid"
)

// UUID identifies a Node uniquely within a Database.
type UUID = uuid.UUID

// Times holds the temporal bookkeeping KDBX attaches to every node.
type Times struct {
	CreationTime         time.Time
	LastModificationTime time.Time
	LastAccessTime       time.Time
	LocationChanged      time.Time
	ExpiryTime            time.Time
	Expires               bool
	UsageCount            uint32
}

// Touch stamps LastModificationTime (and LastAccessTime) with now,
// enforcing the monotonic-per-field invariant: a node's modification
// time never moves backwards across an edit.
func (t *Times) Touch(now time.Time) {
	if now.Before(t.LastModificationTime) {
		now = t.LastModificationTime
	}
	t.LastModificationTime = now
	t.LastAccessTime = now
}

// Tristate models KDBX's null/true/false inheritance flags
// (EnableAutoType, EnableSearching): a nil pointer means "inherit from
// the parent group", which is distinct from an explicit false.
type Tristate = *bool

// TristateTrue and TristateFalse construct explicit Tristate values.
func TristateTrue() Tristate  { b := true; return &b }
func TristateFalse() Tristate { b := false; return &b }

// Node is a Group or an Entry. It is a closed, tagged variant rather
// than an open interface: the only implementations are *Group and
// *Entry, so call sites can type-switch exhaustively instead of
// reaching for a dynamic downcast.
type Node interface {
	NodeUUID() UUID
	nodeTimes() *Times
	setParent(*Group)
	parent() *Group
}

// AutoTypeAssociation binds an auto-type sequence to a matching window title.
type AutoTypeAssociation struct {
	Window            string
	KeystrokeSequence string
}

// AutoType holds an entry's auto-type configuration.
type AutoType struct {
	Enabled                 bool
	DataTransferObfuscation int
	DefaultSequence         string
	Associations            []AutoTypeAssociation
}

// BinaryData is one entry in the database-wide binary pool: raw bytes
// that may themselves be inner-stream protected.
type BinaryData struct {
	Data      []byte
	Protected bool
}

// BinaryPool is the database-wide attachment store. Entries reference
// attachments by the small integer id assigned at decode (or at Add)
// time; identical payloads may be deduplicated at write time.
type BinaryPool struct {
	byID map[int]BinaryData
	next int
}

// NewBinaryPool returns an empty pool.
func NewBinaryPool() *BinaryPool {
	return &BinaryPool{byID: make(map[int]BinaryData)}
}

// Add inserts data into the pool, deduplicating against an existing
// identical, equally-protected entry, and returns its id.
func (p *BinaryPool) Add(data []byte, protected bool) int {
	for id, existing := range p.byID {
		if existing.Protected == protected && string(existing.Data) == string(data) {
			return id
		}
	}
	id := p.next
	p.next++
	p.byID[id] = BinaryData{Data: data, Protected: protected}
	return id
}

// Set stores data at an explicit id, as used while decoding a file
// where ids are assigned by appearance order in the inner header.
func (p *BinaryPool) Set(id int, data []byte, protected bool) {
	p.byID[id] = BinaryData{Data: data, Protected: protected}
	if id >= p.next {
		p.next = id + 1
	}
}

// Get resolves a binary reference. The second return value is false if
// id is not present in the pool.
func (p *BinaryPool) Get(id int) (BinaryData, bool) {
	b, ok := p.byID[id]
	return b, ok
}

// Len returns the number of attachments in the pool.
func (p *BinaryPool) Len() int {
	return len(p.byID)
}

// IDs returns the pool's ids in ascending order, the order KDBX assigns
// <Binary> inner-header records on write.
func (p *BinaryPool) IDs() []int {
	ids := make([]int, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// DeletedObject is a tombstone left behind when a node is permanently
// removed instead of recycled.
type DeletedObject struct {
	UUID         UUID
	DeletionTime time.Time
}
