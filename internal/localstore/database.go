// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

// Package localstore persists peer-health records, tracker records, and
// per-torrent resume state in an embedded SQLite database, so the daemon's
// bans, backoff schedules, and download progress survive a restart.
package localstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver.
	"github.com/pressly/goose"

	_ "github.com/dstore-labs/swarmd/internal/localstore/migrations" // Add migrations.
)

// New opens (creating if necessary) the embedded SQLite database at
// config.Source and applies every pending migration.
func New(config Config) (*sqlx.DB, error) {
	config = config.applyDefaults()

	if err := ensureFilePresent(config.Source); err != nil {
		return nil, fmt.Errorf("localstore: ensure db source present: %s", err)
	}
	db, err := sqlx.Open("sqlite3", config.Source)
	if err != nil {
		return nil, fmt.Errorf("localstore: open sqlite3: %s", err)
	}
	// SQLite serializes writers at the file level; holding more than one
	// connection open invites "database is locked" errors under concurrent
	// access from this process.
	db.SetMaxOpenConns(1)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("localstore: set dialect: %s", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, fmt.Errorf("localstore: migrate: %s", err)
	}
	return db, nil
}

// ensureFilePresent creates path (and its parent directory) if it does not
// already exist, leaving existing contents untouched.
func ensureFilePresent(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0664)
	if err != nil {
		return err
	}
	return fh.Close()
}
