// Copyright 2016 Ross Light
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

// Package kdblegacy reads the legacy KeePass 1 (KDB) database format
// into the same model.Database tree the KDBX3/KDBX4 codecs produce.
// KDB has no place to record most of what Meta/Times/StringField carry
// (no custom fields, no per-item history, a single attachment
// per entry), so Open synthesizes the missing pieces with the defaults
// mainline KeePass uses when it imports a KDB file. There is no
// writer: KDB is a read-only import path.
package kdblegacy // import "github.com/gokeepass/kdbx/internal/kdblegacy"

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gokeepass/kdbx/internal/compositekey"
	"github.com/gokeepass/kdbx/internal/crypto"
	"github.com/gokeepass/kdbx/model"
	"github.com/gokeepass/kdbx/pkg/kdbcrypt"
)

// Options selects the key material used to decrypt a KDB file.
type Options struct {
	// Password is an optional textual password component.
	Password string

	// KeyFile is an optional binary keyfile component, already read
	// into memory by the caller.
	KeyFile []byte
}

// Open decrypts and parses r as a KDB file, returning the equivalent
// model.Database. The returned database's Config.Format is
// model.FormatKDB.
func Open(r io.Reader, opts *Options) (*model.Database, error) {
	var hbuf bytes.Buffer
	if _, err := io.CopyN(&hbuf, r, headerSize); err != nil {
		return nil, fmt.Errorf("kdblegacy: read header: %w", err)
	}
	var h header
	if err := h.read(&hbuf); err != nil {
		return nil, err
	}

	crypt, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cparams, err := h.newCryptParams(opts)
	if err != nil {
		return nil, err
	}
	plain, err := decryptDatabase(crypt, cparams, h.contentHash[:])
	if err != nil {
		return nil, err
	}

	return parse(bytes.NewReader(plain), int(h.numGroups), int(h.numEntries))
}

func (opts *Options) password() string {
	if opts == nil {
		return ""
	}
	return opts.Password
}

func (opts *Options) keyFile() []byte {
	if opts == nil {
		return nil
	}
	return opts.KeyFile
}

func (h *header) newCryptParams(opts *Options) (*kdbcrypt.Params, error) {
	c, err := h.cipher()
	if err != nil {
		return nil, err
	}

	var comps compositekey.Components
	if pw := opts.password(); pw != "" {
		comps.Password = compositekey.HashPassword(pw)
		comps.HasPassword = true
	}
	if kf := opts.keyFile(); len(kf) > 0 {
		hash, err := compositekey.HashKeyFile(kf)
		if err != nil {
			return nil, err
		}
		comps.KeyFile = hash
		comps.HasKeyFile = true
	}
	if !comps.HasPassword && !comps.HasKeyFile {
		return nil, errors.New("kdblegacy: no password or keyfile given")
	}

	return &kdbcrypt.Params{
		Key: kdbcrypt.Key{
			Composite:       compositekey.Composite(comps),
			MasterSeed:      h.masterSeed,
			TransformSeed:   h.transformSeed,
			TransformRounds: h.transformRounds,
		},
		Cipher: c,
		IV:     h.encryptionIV,
	}, nil
}

func decryptDatabase(crypt []byte, p *kdbcrypt.Params, contentHash []byte) ([]byte, error) {
	if len(crypt)%kdbcrypt.BlockSize != 0 {
		return nil, ErrDatabaseUnaligned
	}
	dec, err := kdbcrypt.NewDecrypter(bytes.NewReader(crypt), p)
	if err != nil {
		return nil, err
	}
	hash := sha256.New()
	plain, err := io.ReadAll(io.TeeReader(dec, hash))
	if err != nil {
		return nil, ErrHashMismatch
	}
	if !bytes.Equal(hash.Sum(nil), contentHash) {
		return nil, ErrHashMismatch
	}
	return plain, nil
}

// rawGroup and rawEntry hold a group/entry's fields exactly as they
// appear on the wire, before the tree is assembled: KDB flattens the
// hierarchy into a level-tagged group list followed by a flat entry
// list carrying an owning group id, rather than nesting like KDBX XML
// does.
type rawGroup struct {
	group *model.Group
	id    uint32
	level uint16
}

type rawEntry struct {
	entry        *model.Entry
	groupID      uint32
	isMeta       bool
	attachName   string
	attachData   []byte
}

func parse(r io.Reader, numGroups, numEntries int) (*model.Database, error) {
	groups := make([]rawGroup, numGroups)
	for i := range groups {
		g, id, level, err := readGroup(r)
		if err != nil {
			return nil, err
		}
		groups[i] = rawGroup{group: g, id: id, level: level}
	}
	entries := make([]rawEntry, numEntries)
	for i := range entries {
		e, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}

	db := model.New(model.Config{Format: model.FormatKDB})

	byID := make(map[uint32]*model.Group, len(groups))
	for _, rg := range groups {
		byID[rg.id] = rg.group
	}
	for i, rg := range groups {
		parent := findGroupParent(db.Root, groups, byID, i)
		if parent == nil {
			return nil, ErrGroupsInconsistent
		}
		if err := db.AddChild(parent, rg.group); err != nil {
			return nil, err
		}
	}

	for _, re := range entries {
		if re.isMeta {
			// Meta-stream entries carry KeePass's own plugin/UI
			// settings (e.g. custom icon definitions) as an embedded
			// binary blob keyed by a magic Title/Username/URL triple.
			// Nothing in the model has a home for that payload, so it
			// is dropped, matching mainline KeePass's behavior when a
			// meta-stream type it doesn't recognize is encountered.
			continue
		}
		if len(re.attachData) > 0 {
			id := db.Binaries.Add(re.attachData, false)
			re.entry.Binaries = append(re.entry.Binaries, model.BinaryRef{Name: re.attachName, ID: id})
		}
		parent, ok := byID[re.groupID]
		if !ok {
			parent = db.Root
		}
		if err := db.AddChild(parent, re.entry); err != nil {
			return nil, err
		}
	}

	return db, nil
}

func findGroupParent(root *model.Group, groups []rawGroup, byID map[uint32]*model.Group, i int) *model.Group {
	level := groups[i].level
	if level == 0 {
		return root
	}
	for j := i - 1; j >= 0; j-- {
		delta := int(groups[j].level) - int(level)
		if delta == -1 {
			return groups[j].group
		}
		if delta < 0 {
			return nil
		}
	}
	return nil
}

func readGroup(r io.Reader) (g *model.Group, id uint32, level uint16, err error) {
	g = &model.Group{}
	fr := newFieldScanner(r)
	var idSet, levelSet bool
	for {
		k, v, ferr := fr.nextField()
		if ferr == io.EOF {
			break
		}
		if ferr != nil {
			return nil, 0, 0, ferr
		}
		switch k {
		case 0x0000:
		case groupIDField:
			if err := requireFieldLen("group ID", v, 4); err != nil {
				return nil, 0, 0, err
			}
			id = binary.LittleEndian.Uint32(v)
			idSet = true
		case groupNameField:
			g.Name = string(trimTrailingNUL(v))
		case groupCreationTimeField:
			if g.Times.CreationTime, err = decodeTimestamp("group creation time", v); err != nil {
				return nil, 0, 0, err
			}
		case groupLastModificationTimeField:
			if g.Times.LastModificationTime, err = decodeTimestamp("group modification time", v); err != nil {
				return nil, 0, 0, err
			}
		case groupLastAccessTimeField:
			if g.Times.LastAccessTime, err = decodeTimestamp("group access time", v); err != nil {
				return nil, 0, 0, err
			}
		case groupExpiryTimeField:
			if g.Times.ExpiryTime, err = decodeTimestamp("group expiry time", v); err != nil {
				return nil, 0, 0, err
			}
			g.Times.Expires = !g.Times.ExpiryTime.IsZero()
		case groupIconField:
			if err := requireFieldLen("group icon", v, 4); err != nil {
				return nil, 0, 0, err
			}
			g.IconID = int(binary.LittleEndian.Uint32(v))
		case groupLevelField:
			if err := requireFieldLen("group level", v, 2); err != nil {
				return nil, 0, 0, err
			}
			level = binary.LittleEndian.Uint16(v)
			levelSet = true
		case groupFlagsField:
		default:
			return nil, 0, 0, fmt.Errorf("kdblegacy: unknown group field %04x", k)
		}
	}
	if !idSet || !levelSet {
		return nil, 0, 0, errors.New("kdblegacy: missing group ID or level")
	}
	g.UUID = syntheticGroupUUID(id)
	return g, id, level, nil
}

// syntheticGroupUUID derives a stable UUID for a KDB group, which the
// format identifies only by a uint32 id rather than a UUID. Deriving
// it from the id rather than generating randomly means re-opening the
// same file always assigns the same identity to the same group.
func syntheticGroupUUID(id uint32) model.UUID {
	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], id)
	sum := crypto.SHA256([]byte("kdblegacy-group"), idBuf[:])
	var out model.UUID
	copy(out[:], sum[:16])
	return out
}

func readEntry(r io.Reader) (rawEntry, error) {
	e := &model.Entry{}
	re := rawEntry{entry: e}
	fr := newFieldScanner(r)
	for {
		k, v, ferr := fr.nextField()
		if ferr == io.EOF {
			break
		}
		if ferr != nil {
			return re, ferr
		}
		if err := readEntryField(e, &re, k, v); err != nil {
			return re, err
		}
	}
	re.isMeta = isMetaStream(e, re.attachName, re.attachData)
	return re, nil
}

func readEntryField(e *model.Entry, re *rawEntry, key uint16, value []byte) error {
	switch key {
	case 0x0000:
	case entryUUIDField:
		if err := requireFieldLen("entry UUID", value, 16); err != nil {
			return err
		}
		copy(e.UUID[:], value)
	case entryGroupIDField:
		if err := requireFieldLen("entry group ID", value, 4); err != nil {
			return err
		}
		re.groupID = binary.LittleEndian.Uint32(value)
	case entryIconField:
		if err := requireFieldLen("entry icon", value, 4); err != nil {
			return err
		}
		e.IconID = int(binary.LittleEndian.Uint32(value))
	case entryTitleField:
		e.Set(model.FieldTitle, model.PlainValue(trimTrailingNUL(value)))
	case entryURLField:
		e.Set(model.FieldURL, model.PlainValue(trimTrailingNUL(value)))
	case entryUsernameField:
		e.Set(model.FieldUserName, model.PlainValue(trimTrailingNUL(value)))
	case entryPasswordField:
		e.Set(model.FieldPassword, model.NewProtectedValue(string(trimTrailingNUL(value))))
	case entryNotesField:
		e.Set(model.FieldNotes, model.PlainValue(trimTrailingNUL(value)))
	case entryCreationTimeField:
		t, err := decodeTimestamp("entry creation time", value)
		if err != nil {
			return err
		}
		e.Times.CreationTime = t
	case entryLastModificationTimeField:
		t, err := decodeTimestamp("entry modification time", value)
		if err != nil {
			return err
		}
		e.Times.LastModificationTime = t
	case entryLastAccessTimeField:
		t, err := decodeTimestamp("entry access time", value)
		if err != nil {
			return err
		}
		e.Times.LastAccessTime = t
	case entryExpiryTimeField:
		t, err := decodeTimestamp("entry expiry time", value)
		if err != nil {
			return err
		}
		e.Times.ExpiryTime = t
		e.Times.Expires = !t.IsZero()
	case entryAttachmentNameField:
		re.attachName = string(trimTrailingNUL(value))
	case entryAttachmentDataField:
		if len(value) > 0 {
			re.attachData = append([]byte(nil), value...)
		}
	default:
		return fmt.Errorf("kdblegacy: unknown entry field %04x", key)
	}
	return nil
}

func isMetaStream(e *model.Entry, attachName string, attachData []byte) bool {
	return e.Title() == "Meta-Info" && e.UserName() == "SYSTEM" && e.URL() == "$" &&
		e.IconID == 0 && e.Notes() != "" && attachName == "bin-stream" && len(attachData) > 0
}

// Field types (read-only: KDB entry/group fields, keyed on-wire by a
// 16-bit id shared between the two field namespaces).
const (
	groupIDField                   = 0x0001
	groupNameField                 = 0x0002
	groupCreationTimeField         = 0x0003
	groupLastModificationTimeField = 0x0004
	groupLastAccessTimeField       = 0x0005
	groupExpiryTimeField           = 0x0006
	groupIconField                 = 0x0007
	groupLevelField                = 0x0008
	groupFlagsField                = 0x0009

	entryUUIDField                 = 0x0001
	entryGroupIDField              = 0x0002
	entryIconField                 = 0x0003
	entryTitleField                = 0x0004
	entryURLField                  = 0x0005
	entryUsernameField             = 0x0006
	entryPasswordField             = 0x0007
	entryNotesField                = 0x0008
	entryCreationTimeField         = 0x0009
	entryLastModificationTimeField = 0x000a
	entryLastAccessTimeField       = 0x000b
	entryExpiryTimeField           = 0x000c
	entryAttachmentNameField       = 0x000d
	entryAttachmentDataField       = 0x000e

	fieldTerminator = 0xffff
)

// Encryption flags
const (
	rijndaelFlag uint32 = 2
	twofishFlag  uint32 = 8
)

// File header magic numbers
const (
	magic1 = 0x9aa2d903
	magic2 = 0xb54bfb65

	fileVersion             = 0x00030002
	fileVersionCriticalMask = 0xffffff00
)

// headerSize is the number of bytes that the file header occupies.
const headerSize = 124

// header stores the non-magic values of a KDB file header.
type header struct {
	encryptionFlags uint32
	masterSeed      [16]byte
	encryptionIV    [16]byte
	numGroups       uint32
	numEntries      uint32
	contentHash     [32]byte
	transformSeed   [32]byte
	transformRounds uint32
}

func (h *header) cipher() (kdbcrypt.Cipher, error) {
	switch {
	case h.encryptionFlags&rijndaelFlag != 0:
		return kdbcrypt.RijndaelCipher, nil
	case h.encryptionFlags&twofishFlag != 0:
		return kdbcrypt.TwofishCipher, nil
	default:
		return 0, ErrUnknownEncryption
	}
}

func (h *header) read(r io.Reader) error {
	rr := byteCursor{r: r}
	signature1 := rr.u32()
	signature2 := rr.u32()
	h.encryptionFlags = rr.u32()
	version := rr.u32()
	rr.fill(h.masterSeed[:])
	rr.fill(h.encryptionIV[:])
	h.numGroups = rr.u32()
	h.numEntries = rr.u32()
	rr.fill(h.contentHash[:])
	rr.fill(h.transformSeed[:])
	h.transformRounds = rr.u32()
	if rr.err != nil {
		return rr.err
	}
	if signature1 != magic1 || signature2 != magic2 {
		return ErrWrongSignature
	}
	if version&fileVersionCriticalMask != fileVersion&fileVersionCriticalMask {
		return ErrWrongVersion
	}
	return nil
}

// Errors
var (
	ErrHashMismatch      = errors.New("kdblegacy: password does not match or database is corrupt")
	ErrWrongSignature    = errors.New("kdblegacy: not a KeePass file")
	ErrWrongVersion      = errors.New("kdblegacy: unsupported version")
	ErrUnknownEncryption = errors.New("kdblegacy: unknown encryption algorithm")
)

// Data validation errors
var (
	ErrDatabaseUnaligned  = errors.New("kdblegacy: database does not match block size")
	ErrGroupsInconsistent = errors.New("kdblegacy: inconsistent group tree")
)
