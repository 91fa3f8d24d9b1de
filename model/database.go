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

package model

import (
	"errors"
	"time"
)

// Format identifies which on-disk generation a Database was read from
// or is configured to be saved as.
type Format int

const (
	FormatKDB Format = iota
	FormatKDBX3
	FormatKDBX4
)

// Compression identifies the payload compression algorithm.
type Compression uint32

const (
	CompressionNone Compression = 0
	CompressionGZip Compression = 1
)

// InnerStream identifies the inner-stream keystream cipher protecting
// in-memory secrets inside the XML.
type InnerStream uint32

const (
	InnerStreamNone    InnerStream = 0
	InnerStreamSalsa20 InnerStream = 2
	InnerStreamChaCha20 InnerStream = 3
)

// Config holds the format-level parameters of a Database: the cipher,
// compression, KDF selection, and inner-stream cipher. KdfParams is a
// KDBX4 variant dictionary decoded into plain Go values (uint32,
// uint64, bool, int32, int64, string, []byte); KDBX3 populates it with
// the equivalent "$UUID"/"S"/"R" triple so callers have one
// representation regardless of format.
type Config struct {
	Format      Format
	CipherID    UUID
	Compression Compression
	InnerStream InnerStream
	KdfParams   map[string]interface{}
}

// Cipher UUIDs recognized by the CipherID header field.
var (
	CipherAES256   = UUID{0x31, 0xc1, 0xf2, 0xe6, 0xbf, 0x71, 0x43, 0x50, 0xbe, 0x58, 0x05, 0x21, 0x6a, 0xfc, 0x5a, 0xff}
	CipherChaCha20 = UUID{0xd6, 0x03, 0x8a, 0x2b, 0x8b, 0x6f, 0x4c, 0xb5, 0xa5, 0x24, 0x33, 0x9a, 0x31, 0xda, 0xbb, 0x59}
	CipherTwofish  = UUID{0xad, 0x68, 0xf2, 0x9f, 0x57, 0x6f, 0x4b, 0xb9, 0xa3, 0x6a, 0xd4, 0x7a, 0xf9, 0x65, 0x34, 0x6c}
)

// KDF UUIDs recognized by the KdfParameters "$UUID" entry.
var (
	KdfAESKDBX3  = UUID{0xc9, 0xd9, 0xf3, 0x9a, 0x62, 0x8a, 0x44, 0x60, 0xbf, 0x74, 0x0d, 0x08, 0xc1, 0x8a, 0x4f, 0xea}
	KdfAESKDBX4  = UUID{0x7c, 0x02, 0xbb, 0x82, 0x79, 0xa7, 0x4a, 0xc0, 0x92, 0x7d, 0x11, 0x4a, 0x00, 0x64, 0x82, 0x79}
	KdfArgon2d   = UUID{0xef, 0x63, 0x6d, 0xdf, 0x8c, 0x29, 0x44, 0x4b, 0x91, 0xf7, 0xa9, 0xa4, 0x03, 0xe3, 0x0a, 0x0c}
	KdfArgon2id  = UUID{0x9e, 0x29, 0x8b, 0x19, 0x56, 0xdb, 0x47, 0x73, 0xb2, 0x3d, 0xfc, 0x3e, 0xc6, 0xf0, 0xa1, 0xe6}
)

// Errors returned by tree mutators. These are Invariant-kind failures:
// the tree is left unchanged.
var (
	ErrDuplicateUUID = errors.New("keepass: duplicate UUID")
	ErrCycle         = errors.New("keepass: node would create a cycle")
	ErrNotInTree     = errors.New("keepass: node is not part of this database")
	ErrMissingBinary = errors.New("keepass: binary reference resolves to no pool entry")
)

// Database is the full decrypted content of a KeePass file: its
// format configuration, meta record, node tree, binary pool, and
// deleted-object tombstones.
type Database struct {
	Config         Config
	Meta           Meta
	Root           *Group
	Binaries       *BinaryPool
	DeletedObjects []DeletedObject

	byUUID map[UUID]Node
}

// New returns an empty database with a single root group and the given
// configuration.
func New(cfg Config) *Database {
	db := &Database{
		Config:   cfg,
		Meta:     NewMeta(),
		Binaries: NewBinaryPool(),
		byUUID:   make(map[UUID]Node),
	}
	db.Root = &Group{Name: "Root"}
	db.register(db.Root)
	return db
}

// Import builds a Database around a tree a codec has already
// materialized (KDBX3/KDBX4 XML decode, or the KDB legacy parser),
// registering every node's UUID. It fails, without returning a partial
// Database, if the tree contains a duplicate UUID.
func Import(cfg Config, meta Meta, root *Group, binaries *BinaryPool, deleted []DeletedObject) (*Database, error) {
	if binaries == nil {
		binaries = NewBinaryPool()
	}
	db := &Database{
		Config:         cfg,
		Meta:           meta,
		Root:           root,
		Binaries:       binaries,
		DeletedObjects: deleted,
		byUUID:         make(map[UUID]Node),
	}
	var err error
	Walk(root, func(n Node) {
		if err != nil {
			return
		}
		if _, exists := db.byUUID[n.NodeUUID()]; exists {
			err = ErrDuplicateUUID
			return
		}
		db.register(n)
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func (db *Database) register(n Node) {
	db.byUUID[n.NodeUUID()] = n
}

func (db *Database) unregister(n Node) {
	delete(db.byUUID, n.NodeUUID())
}

// FindByUUID returns the node with the given UUID, or nil if none exists.
func (db *Database) FindByUUID(id UUID) Node {
	return db.byUUID[id]
}

// isAncestor reports whether candidate is g or an ancestor of g.
func isAncestor(candidate, g *Group) bool {
	for p := g; p != nil; p = p.Parent() {
		if p == candidate {
			return true
		}
	}
	return false
}

// AddChild attaches n to parent as its last child. It fails without
// modifying the tree if n's UUID already exists in the database or if
// attaching n would create a cycle (only possible when n is itself a
// Group that is an ancestor of parent).
func (db *Database) AddChild(parent *Group, n Node) error {
	if existing, ok := db.byUUID[n.NodeUUID()]; ok && existing != n {
		return ErrDuplicateUUID
	}
	if sub, ok := n.(*Group); ok {
		if isAncestor(sub, parent) {
			return ErrCycle
		}
	}
	parent.AppendChild(n)
	db.register(n)
	return nil
}

// Remove detaches n from its parent. If the database's recycle bin is
// enabled and n is not already inside it, Remove moves n there instead
// of deleting it outright. Otherwise n is detached and a tombstone is
// appended to DeletedObjects, stamped with deletionTime.
func (db *Database) Remove(n Node, deletionTime time.Time) error {
	p := n.parent()
	if p == nil {
		return ErrNotInTree
	}
	recycleBin, _ := db.byUUID[db.Meta.RecycleBinUUID].(*Group)
	if db.Meta.RecycleBinEnabled && recycleBin != nil && !isAncestor(recycleBin, p) && recycleBin != p {
		if sub, ok := n.(*Group); ok && isAncestor(sub, recycleBin) {
			return ErrCycle
		}
		p.detach(n)
		return db.AddChild(recycleBin, n)
	}
	p.detach(n)
	db.unregister(n)
	Walk(n, func(c Node) {
		if c != n {
			db.unregister(c)
		}
	})
	db.DeletedObjects = append(db.DeletedObjects, DeletedObject{UUID: n.NodeUUID(), DeletionTime: deletionTime})
	return nil
}

// Entries returns every Entry in the tree, pre-order.
func (db *Database) Entries() []*Entry {
	var out []*Entry
	Walk(db.Root, func(n Node) {
		if e, ok := n.(*Entry); ok {
			out = append(out, e)
		}
	})
	return out
}

// Groups returns every Group in the tree, pre-order, including the root.
func (db *Database) Groups() []*Group {
	var out []*Group
	Walk(db.Root, func(n Node) {
		if g, ok := n.(*Group); ok {
			out = append(out, g)
		}
	})
	return out
}

// CheckInvariants verifies UUID uniqueness, acyclicity, and that every
// binary reference resolves in the pool. A node reached a second time,
// as through a cycle, is reported as ErrDuplicateUUID. It's used by
// tests and is cheap enough to call after any bulk mutation.
func (db *Database) CheckInvariants() error {
	seen := make(map[UUID]bool)
	var err error
	var visit func(n Node)
	visit = func(n Node) {
		if err != nil {
			return
		}
		id := n.NodeUUID()
		if seen[id] {
			err = ErrDuplicateUUID
			return
		}
		seen[id] = true
		if e, ok := n.(*Entry); ok {
			for _, b := range e.Binaries {
				if _, ok := db.Binaries.Get(b.ID); !ok {
					err = ErrMissingBinary
					return
				}
			}
		}
		if g, ok := n.(*Group); ok {
			for _, c := range g.children {
				visit(c)
			}
		}
	}
	visit(db.Root)
	for _, d := range db.DeletedObjects {
		if seen[d.UUID] {
			err = ErrDuplicateUUID
		}
		seen[d.UUID] = true
	}
	return err
}
