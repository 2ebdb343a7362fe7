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

package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	if _, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS peer_health (
		info_hash    text      NOT NULL,
		ip           text      NOT NULL,
		port         integer   NOT NULL,
		successes    integer   NOT NULL DEFAULT 0,
		failures     integer   NOT NULL DEFAULT 0,
		banned_until timestamp,
		updated_at   timestamp DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(info_hash, ip, port)
	);`); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS tracker_record (
		info_hash        text    NOT NULL,
		url              text    NOT NULL,
		status           integer NOT NULL,
		seeds            integer NOT NULL DEFAULT 0,
		leeches          integer NOT NULL DEFAULT 0,
		tracker_id       text    NOT NULL DEFAULT '',
		last_error       text    NOT NULL DEFAULT '',
		next_announce_at timestamp,
		PRIMARY KEY(info_hash, url)
	);`); err != nil {
		return err
	}

	_, err := tx.Exec(
		`CREATE TABLE IF NOT EXISTS torrent_resume (
		info_hash     text      NOT NULL PRIMARY KEY,
		metainfo      blob      NOT NULL,
		bitfield      blob      NOT NULL,
		download_path text      NOT NULL,
		updated_at    timestamp DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

func down00001(tx *sql.Tx) error {
	for _, table := range []string{"peer_health", "tracker_record", "torrent_resume"} {
		if _, err := tx.Exec("DROP TABLE " + table); err != nil {
			return err
		}
	}
	return nil
}
