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

// Package kdbx reads and writes KeePass password databases: the
// legacy KDB format and both KDBX3 and KDBX4. Callers never see the
// internal codecs or the model package directly; Database and its
// companion types are what model.Database and its node types look
// like from outside this module.
package kdbx

import (
	"bufio"
	"io"
	"time"

	"github.com/gokeepass/kdbx/internal/header"
	"github.com/gokeepass/kdbx/model"
)

// Re-exported node and value types. Database trees are built from
// these regardless of which on-disk format they were read from.
type (
	UUID                = model.UUID
	Node                = model.Node
	Group               = model.Group
	Entry               = model.Entry
	Times               = model.Times
	Tristate            = model.Tristate
	AutoType            = model.AutoType
	AutoTypeAssociation = model.AutoTypeAssociation
	BinaryData          = model.BinaryData
	BinaryPool          = model.BinaryPool
	BinaryRef           = model.BinaryRef
	DeletedObject       = model.DeletedObject
	StringField         = model.StringField
	Value               = model.Value
	PlainValue          = model.PlainValue
	ProtectedValue      = model.ProtectedValue
	Meta                = model.Meta
	CustomIcon          = model.CustomIcon
	Format              = model.Format
	Compression         = model.Compression
	InnerStream         = model.InnerStream
	Config              = model.Config
)

// Format constants.
const (
	FormatKDB   = model.FormatKDB
	FormatKDBX3 = model.FormatKDBX3
	FormatKDBX4 = model.FormatKDBX4
)

// Compression constants.
const (
	CompressionNone = model.CompressionNone
	CompressionGZip = model.CompressionGZip
)

// Inner-stream cipher constants.
const (
	InnerStreamNone     = model.InnerStreamNone
	InnerStreamSalsa20  = model.InnerStreamSalsa20
	InnerStreamChaCha20 = model.InnerStreamChaCha20
)

// Well-known String field keys.
const (
	FieldTitle    = model.FieldTitle
	FieldUserName = model.FieldUserName
	FieldPassword = model.FieldPassword
	FieldURL      = model.FieldURL
	FieldNotes    = model.FieldNotes
	FieldOTP      = model.FieldOTP
)

// History defaults.
const (
	DefaultHistoryMaxItems = model.DefaultHistoryMaxItems
	DefaultHistoryMaxSize  = model.DefaultHistoryMaxSize
)

// Cipher and KDF UUIDs recognized by Config.CipherID and a
// KdfParams "$UUID" entry.
var (
	CipherAES256   = model.CipherAES256
	CipherChaCha20 = model.CipherChaCha20
	CipherTwofish  = model.CipherTwofish

	KdfAESKDBX3 = model.KdfAESKDBX3
	KdfAESKDBX4 = model.KdfAESKDBX4
	KdfArgon2d  = model.KdfArgon2d
	KdfArgon2id = model.KdfArgon2id
)

// NewProtectedValue and the Tristate constructors are re-exported so
// callers building a database from scratch never import model.
var (
	NewProtectedValue = model.NewProtectedValue
	TristateTrue      = model.TristateTrue
	TristateFalse     = model.TristateFalse
	NewMeta           = model.NewMeta
	NewBinaryPool     = model.NewBinaryPool
	Walk              = model.Walk
)

// Database is a decrypted KeePass file: its format configuration,
// meta record, node tree, binary pool, and deleted-object tombstones.
// The zero value is not usable; construct one with New or Open.
type Database struct {
	db *model.Database
}

// New returns an empty database with a single root group and the
// given configuration, ready to be populated and Saved.
func New(cfg Config) *Database {
	return &Database{db: model.New(cfg)}
}

// Config returns the database's format configuration.
func (d *Database) Config() Config { return d.db.Config }

// SetConfig replaces the database's format configuration, e.g. to
// change the save cipher or KDF before calling Save.
func (d *Database) SetConfig(cfg Config) { d.db.Config = cfg }

// Meta returns the database's meta record by reference; mutate it in
// place to change database-wide settings.
func (d *Database) Meta() *Meta { return &d.db.Meta }

// Root returns the database's root group.
func (d *Database) Root() *Group { return d.db.Root }

// Binaries returns the database's attachment pool.
func (d *Database) Binaries() *BinaryPool { return d.db.Binaries }

// DeletedObjects returns the database's tombstone list.
func (d *Database) DeletedObjects() []DeletedObject { return d.db.DeletedObjects }

// FindByUUID returns the node with the given UUID, or nil if none exists.
func (d *Database) FindByUUID(id UUID) Node { return d.db.FindByUUID(id) }

// AddChild attaches n to parent as its last child, failing with a
// KindInvariant Error if n's UUID already exists or attaching it would
// create a cycle.
func (d *Database) AddChild(parent *Group, n Node) error {
	if err := d.db.AddChild(parent, n); err != nil {
		return classify(err)
	}
	return nil
}

// Remove detaches n from the tree, recycling it into the database's
// recycle bin if one is enabled and n is not already inside it, or
// tombstoning it with deletionTime otherwise.
func (d *Database) Remove(n Node, deletionTime time.Time) error {
	if err := d.db.Remove(n, deletionTime); err != nil {
		return classify(err)
	}
	return nil
}

// Entries returns every Entry in the tree, pre-order.
func (d *Database) Entries() []*Entry { return d.db.Entries() }

// Groups returns every Group in the tree, pre-order, including the root.
func (d *Database) Groups() []*Group { return d.db.Groups() }

// CheckInvariants verifies UUID uniqueness, acyclicity, and that every
// binary reference resolves in the pool.
func (d *Database) CheckInvariants() error {
	if err := d.db.CheckInvariants(); err != nil {
		return classify(err)
	}
	return nil
}

// Open detects r's on-disk format and decrypts it with key, returning
// the decoded Database. The returned error is always an *Error; wrong
// passwords and wrong keyfiles are reported as KindAuthentication, as
// is KDBX4 ciphertext that fails its block HMAC, since a wrong key and
// tampering look the same to these checks. In a KDBX3 file, damage
// past the StreamStartBytes fails a block hash instead and is reported
// as KindCorruption.
func Open(r io.Reader, key *DatabaseKey) (*Database, error) {
	br := bufio.NewReader(r)
	format, err := header.Sniff(br)
	if err != nil {
		return nil, classify(err)
	}
	switch format {
	case model.FormatKDB:
		return openKDB(br, key)
	case model.FormatKDBX3:
		return openKDBX3(br, key)
	case model.FormatKDBX4:
		return openKDBX4(br, key)
	default:
		return nil, newError(KindFormatVersion, errUnknownFormat)
	}
}

// Save encrypts db and writes it to w using key. Only FormatKDBX4 is
// currently a supported save target; KDB is read-only and KDBX3 save
// support tracks it (mainline KeePass itself upgrades KDBX3 files to
// KDBX4 on first save).
func Save(w io.Writer, db *Database, key *DatabaseKey) error {
	switch db.db.Config.Format {
	case model.FormatKDBX4:
		return saveKDBX4(w, db.db, key)
	default:
		return newError(KindNotSupported, errSaveFormatUnsupported)
	}
}
