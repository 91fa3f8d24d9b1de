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
	"bufio"

	"github.com/gokeepass/kdbx/internal/kdblegacy"
)

// openKDB implements C9's KDB dispatch target. KDB has no writer:
// Save on a Database whose Config.Format is FormatKDB always fails
// with KindNotSupported.
func openKDB(br *bufio.Reader, key *DatabaseKey) (*Database, error) {
	db, err := kdblegacy.Open(br, key.legacyOptions())
	if err != nil {
		return nil, classify(err)
	}
	return &Database{db: db}, nil
}
