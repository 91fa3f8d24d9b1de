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

// Well-known String field keys, as used by mainline KeePass.
const (
	FieldTitle    = "Title"
	FieldUserName = "UserName"
	FieldPassword = "Password"
	FieldURL      = "URL"
	FieldNotes    = "Notes"
	FieldOTP      = "otp"
)

// Entry stores a title, username, password, URL, notes, any number of
// custom strings, and binary attachments.
type Entry struct {
	UUID            UUID
	IconID          int
	CustomIconUUID  UUID
	ForegroundColor string
	BackgroundColor string
	OverrideURL     string
	Tags            []string
	Times           Times
	CustomData      map[string]string

	// Strings holds every <String> field in document order: the order
	// in which protected fields here were (or will be) consumed from
	// the inner keystream is exactly this slice order. Reordering it
	// between an open and a save corrupts every protected value that
	// follows the moved field.
	Strings []StringField

	Binaries []BinaryRef
	AutoType AutoType

	// History holds prior snapshots of this entry, oldest first. A
	// History entry never itself carries History.
	History []*Entry

	owner *Group
}

// NodeUUID implements Node.
func (e *Entry) NodeUUID() UUID { return e.UUID }

func (e *Entry) nodeTimes() *Times   { return &e.Times }
func (e *Entry) setParent(p *Group)  { e.owner = p }
func (e *Entry) parent() *Group      { return e.owner }

// Parent returns e's owning group.
func (e *Entry) Parent() *Group { return e.owner }

// Get returns the value of the named String field and whether it is present.
func (e *Entry) Get(key string) (Value, bool) {
	for _, f := range e.Strings {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the plaintext of the named field, or "" if absent.
// Protected fields are copied out of their zeroizing buffer; the
// caller owns and must scrub the returned copy if it's sensitive.
func (e *Entry) GetString(key string) string {
	v, ok := e.Get(key)
	if !ok {
		return ""
	}
	switch v := v.(type) {
	case PlainValue:
		return string(v)
	case ProtectedValue:
		return v.String()
	default:
		return ""
	}
}

// Set assigns the named String field, replacing it in place if already
// present or appending it (preserving document order for everything
// that came before) if not.
func (e *Entry) Set(key string, v Value) {
	for i, f := range e.Strings {
		if f.Key == key {
			e.Strings[i].Value = v
			return
		}
	}
	e.Strings = append(e.Strings, StringField{Key: key, Value: v})
}

// Title, UserName, URL, Notes return the corresponding well-known field.
func (e *Entry) Title() string    { return e.GetString(FieldTitle) }
func (e *Entry) UserName() string { return e.GetString(FieldUserName) }
func (e *Entry) URL() string      { return e.GetString(FieldURL) }
func (e *Entry) Notes() string    { return e.GetString(FieldNotes) }

// Password returns the password field's plaintext as a copy out of its
// zeroizing buffer. The caller owns and must scrub this copy.
func (e *Entry) Password() string { return e.GetString(FieldPassword) }

// OTP returns the raw otpauth:// URI string field used for time-based
// one-time-password configuration, or "" if the entry has none. TOTP
// code generation itself is left to callers (e.g. an RFC 6238
// implementation); the model only carries the URI.
func (e *Entry) OTP() string { return e.GetString(FieldOTP) }

// Snapshot returns a deep copy of e suitable for appending to History:
// it carries e's own UUID (history entries share identity with their
// owner) but never carries nested History.
func (e *Entry) Snapshot() *Entry {
	snap := &Entry{
		UUID:            e.UUID,
		IconID:          e.IconID,
		CustomIconUUID:  e.CustomIconUUID,
		ForegroundColor: e.ForegroundColor,
		BackgroundColor: e.BackgroundColor,
		OverrideURL:     e.OverrideURL,
		Times:           e.Times,
		AutoType:        e.AutoType,
	}
	snap.Tags = append([]string(nil), e.Tags...)
	snap.Strings = append([]StringField(nil), e.Strings...)
	snap.Binaries = append([]BinaryRef(nil), e.Binaries...)
	if e.CustomData != nil {
		snap.CustomData = make(map[string]string, len(e.CustomData))
		for k, v := range e.CustomData {
			snap.CustomData[k] = v
		}
	}
	return snap
}

// PushHistory appends a snapshot of e's current state to its own
// History, then truncates History to satisfy maxItems (by count,
// dropping oldest first) and maxSize (by total serialized-ish byte
// size estimate, dropping oldest first). Either limit may be disabled
// by passing <= 0.
func (e *Entry) PushHistory(maxItems, maxSize int) {
	e.History = append(e.History, e.Snapshot())
	if maxItems > 0 {
		for len(e.History) > maxItems {
			e.History = e.History[1:]
		}
	}
	if maxSize > 0 {
		for historySize(e.History) > maxSize && len(e.History) > 0 {
			e.History = e.History[1:]
		}
	}
}

func historySize(h []*Entry) int {
	n := 0
	for _, snap := range h {
		for _, f := range snap.Strings {
			n += len(f.Key)
			if s, ok := f.Value.(PlainValue); ok {
				n += len(s)
			} else if p, ok := f.Value.(ProtectedValue); ok {
				n += len(p.String())
			}
		}
	}
	return n
}
