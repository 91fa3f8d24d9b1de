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
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gokeepass/kdbx/internal/header"
	"github.com/gokeepass/kdbx/model"
	"github.com/gokeepass/kdbx/pkg/fakerand"
)

func TestSaveRejectsNonKDBX4(t *testing.T) {
	db := New(Config{Format: FormatKDB})
	var buf bytes.Buffer
	err := Save(&buf, db, NewDatabaseKey().WithPassword("x"))
	if err == nil {
		t.Fatal("Save on a FormatKDB database: got nil error, want KindNotSupported")
	}
	var kerr *Error
	if !errors.As(err, &kerr) {
		t.Fatalf("Save error is not *Error: %v", err)
	}
	if kerr.Kind != KindNotSupported {
		t.Errorf("Save error kind = %v, want KindNotSupported", kerr.Kind)
	}
}

func TestOpenUnrecognizedMagic(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("not a keepass file at all")), NewDatabaseKey())
	if err == nil {
		t.Fatal("Open on garbage input: got nil error")
	}
	var kerr *Error
	if !errors.As(err, &kerr) {
		t.Fatalf("Open error is not *Error: %v", err)
	}
	if kerr.Kind != KindFormatVersion {
		t.Errorf("Open error kind = %v, want KindFormatVersion", kerr.Kind)
	}
}

func TestDatabaseKeyComponentOrderIndependent(t *testing.T) {
	seed := [32]byte{1, 2, 3}

	a := NewDatabaseKey().WithPassword("hunter2")
	kf, err := a.WithKeyFile(bytes.NewReader([]byte("keyfile-bytes")))
	if err != nil {
		t.Fatalf("WithKeyFile: %v", err)
	}
	ca, err := kf.components(seed)
	if err != nil {
		t.Fatalf("components: %v", err)
	}

	b := NewDatabaseKey()
	kf2, err := b.WithKeyFile(bytes.NewReader([]byte("keyfile-bytes")))
	if err != nil {
		t.Fatalf("WithKeyFile: %v", err)
	}
	kf2.WithPassword("hunter2")
	cb, err := kf2.components(seed)
	if err != nil {
		t.Fatalf("components: %v", err)
	}

	if ca.Password != cb.Password || ca.KeyFile != cb.KeyFile {
		t.Error("component derivation depends on With* call order")
	}
	if !ca.HasPassword || !ca.HasKeyFile {
		t.Error("expected both password and keyfile components present")
	}
}

func TestNewDatabaseCheckInvariants(t *testing.T) {
	db := New(Config{Format: FormatKDBX4, CipherID: CipherAES256})
	group := &Group{UUID: mustRandomUUID(t), Name: "Demo group"}
	if err := db.AddChild(db.Root(), group); err != nil {
		t.Fatalf("AddChild(group): %v", err)
	}

	entry := &Entry{UUID: mustRandomUUID(t)}
	entry.Set(FieldTitle, PlainValue("Demo entry"))
	entry.Set(FieldUserName, PlainValue("jdoe"))
	entry.Set(FieldPassword, NewProtectedValue("hunter2"))
	if err := db.AddChild(group, entry); err != nil {
		t.Fatalf("AddChild(entry): %v", err)
	}

	if err := db.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants: %v", err)
	}
	if got := db.FindByUUID(entry.UUID); got != Node(entry) {
		t.Error("FindByUUID did not return the added entry")
	}
	if entry.Title() != "Demo entry" || entry.UserName() != "jdoe" || entry.Password() != "hunter2" {
		t.Error("field accessors did not round-trip through Set/Get")
	}
}

func TestAddChildDuplicateUUIDFails(t *testing.T) {
	db := New(Config{Format: FormatKDBX4})
	id := mustRandomUUID(t)
	g1 := &Group{UUID: id, Name: "one"}
	if err := db.AddChild(db.Root(), g1); err != nil {
		t.Fatalf("AddChild(g1): %v", err)
	}
	g2 := &Group{UUID: id, Name: "two"}
	err := db.AddChild(db.Root(), g2)
	if err == nil {
		t.Fatal("AddChild with duplicate UUID: got nil error")
	}
	var kerr *Error
	if errors.As(err, &kerr) && kerr.Kind != KindInvariant {
		t.Errorf("duplicate-UUID error kind = %v, want KindInvariant", kerr.Kind)
	}
}

func TestRemoveTombstonesWhenNoRecycleBin(t *testing.T) {
	db := New(Config{Format: FormatKDBX4})
	db.Meta().RecycleBinEnabled = false
	e := &Entry{UUID: mustRandomUUID(t)}
	if err := db.AddChild(db.Root(), e); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Remove(e, now); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if db.FindByUUID(e.UUID) != nil {
		t.Error("removed entry is still findable")
	}
	tombstones := db.DeletedObjects()
	if len(tombstones) != 1 || tombstones[0].UUID != e.UUID || !tombstones[0].DeletionTime.Equal(now) {
		t.Errorf("DeletedObjects = %+v, want one tombstone for %v at %v", tombstones, e.UUID, now)
	}
}

var nextTestUUIDByte byte = 1

func mustRandomUUID(t *testing.T) UUID {
	t.Helper()
	var id UUID
	for i := range id {
		id[i] = nextTestUUIDByte
	}
	nextTestUUIDByte++
	return id
}

// withFakeRand points randReader at a deterministic source for the
// duration of the test, mirroring the teacher's Options.Rand/fakerand
// injection idiom.
func withFakeRand(t *testing.T) {
	t.Helper()
	orig := randReader
	randReader = fakerand.New()
	t.Cleanup(func() { randReader = orig })
}

func TestSaveOpenRoundTrip(t *testing.T) {
	withFakeRand(t)

	db := New(Config{Format: FormatKDBX4, CipherID: CipherAES256})
	group := &Group{UUID: mustRandomUUID(t), Name: "Everyday"}
	if err := db.AddChild(db.Root(), group); err != nil {
		t.Fatalf("AddChild(group): %v", err)
	}
	entry := &Entry{UUID: mustRandomUUID(t)}
	entry.Set(FieldTitle, PlainValue("example.com"))
	entry.Set(FieldUserName, PlainValue("jdoe"))
	entry.Set(FieldPassword, NewProtectedValue("hunter2"))
	entry.Set(FieldURL, PlainValue("https://example.com"))
	if err := db.AddChild(group, entry); err != nil {
		t.Fatalf("AddChild(entry): %v", err)
	}

	key := NewDatabaseKey().WithPassword("correct horse battery staple")

	var buf bytes.Buffer
	if err := Save(&buf, db, key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Open(bytes.NewReader(buf.Bytes()), key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	gotGroups := got.Groups()
	if len(gotGroups) != 2 {
		t.Fatalf("Groups() after round-trip = %d groups, want 2 (root + Everyday)", len(gotGroups))
	}
	var gotGroup *Group
	for _, g := range gotGroups {
		if g.Name == "Everyday" {
			gotGroup = g
		}
	}
	if gotGroup == nil {
		t.Fatal("round-tripped tree is missing the \"Everyday\" group")
	}

	gotEntry := got.FindByUUID(entry.UUID)
	if gotEntry == nil {
		t.Fatal("round-tripped tree is missing the entry by UUID")
	}
	e, ok := gotEntry.(*Entry)
	if !ok {
		t.Fatalf("FindByUUID returned %T, want *Entry", gotEntry)
	}
	if e.Title() != "example.com" || e.UserName() != "jdoe" || e.Password() != "hunter2" {
		t.Errorf("round-tripped entry fields = %q/%q/%q, want example.com/jdoe/hunter2",
			e.Title(), e.UserName(), e.Password())
	}
	if err := got.CheckInvariants(); err != nil {
		t.Errorf("CheckInvariants after round-trip: %v", err)
	}
}

func TestSaveOpenRoundTripWrongPasswordFails(t *testing.T) {
	withFakeRand(t)

	db := New(Config{Format: FormatKDBX4, CipherID: CipherAES256})
	var buf bytes.Buffer
	if err := Save(&buf, db, NewDatabaseKey().WithPassword("right")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, err := Open(bytes.NewReader(buf.Bytes()), NewDatabaseKey().WithPassword("wrong"))
	if err == nil {
		t.Fatal("Open with wrong password: got nil error")
	}
	var kerr *Error
	if !errors.As(err, &kerr) {
		t.Fatalf("Open error is not *Error: %v", err)
	}
	if kerr.Kind != KindAuthentication {
		t.Errorf("Open error kind = %v, want KindAuthentication", kerr.Kind)
	}
}

func TestHeaderSniffFormats(t *testing.T) {
	// Regression guard: openKDBX3/openKDBX4/openKDB dispatch depends on
	// header.Sniff returning distinct model.Format values.
	if model.FormatKDB == model.FormatKDBX3 || model.FormatKDBX3 == model.FormatKDBX4 {
		t.Fatal("model.Format constants collide")
	}
	_ = header.ErrBadMagic
}
