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

package localstore

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dstore-labs/swarmd/core"
)

// Store wraps the embedded database with typed accessors for the records
// the engine needs to survive a restart.
type Store struct {
	db *sqlx.DB
}

// Open creates a Store backed by a freshly migrated database.
func Open(config Config) (*Store, error) {
	db, err := New(config)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PeerHealthRecord is one peer's ban/retry bookkeeping, keyed by torrent
// and address.
type PeerHealthRecord struct {
	InfoHash    string    `db:"info_hash"`
	IP          string    `db:"ip"`
	Port        int       `db:"port"`
	Successes   int       `db:"successes"`
	Failures    int       `db:"failures"`
	BannedUntil time.Time `db:"banned_until"`
}

// SavePeerHealth upserts a peer's health record.
func (s *Store) SavePeerHealth(r PeerHealthRecord) error {
	_, err := s.db.NamedExec(`
		INSERT INTO peer_health (info_hash, ip, port, successes, failures, banned_until, updated_at)
		VALUES (:info_hash, :ip, :port, :successes, :failures, :banned_until, CURRENT_TIMESTAMP)
		ON CONFLICT(info_hash, ip, port) DO UPDATE SET
			successes=excluded.successes,
			failures=excluded.failures,
			banned_until=excluded.banned_until,
			updated_at=CURRENT_TIMESTAMP
	`, r)
	return err
}

// LoadPeerHealth returns every peer-health record for h.
func (s *Store) LoadPeerHealth(h core.InfoHash) ([]PeerHealthRecord, error) {
	var out []PeerHealthRecord
	err := s.db.Select(&out, `SELECT info_hash, ip, port, successes, failures, banned_until
		FROM peer_health WHERE info_hash = ?`, h.Hex())
	return out, err
}

// DeletePeerHealth removes every peer-health record for h, e.g. when the
// torrent is removed.
func (s *Store) DeletePeerHealth(h core.InfoHash) error {
	_, err := s.db.Exec(`DELETE FROM peer_health WHERE info_hash = ?`, h.Hex())
	return err
}

// TrackerRecordRow is one tracker's persisted announce schedule state.
type TrackerRecordRow struct {
	InfoHash       string       `db:"info_hash"`
	URL            string       `db:"url"`
	Status         int          `db:"status"`
	Seeds          int          `db:"seeds"`
	Leeches        int          `db:"leeches"`
	TrackerID      string       `db:"tracker_id"`
	LastError      string       `db:"last_error"`
	NextAnnounceAt sql.NullTime `db:"next_announce_at"`
}

// SaveTrackerRecord upserts a tracker's persisted state.
func (s *Store) SaveTrackerRecord(r TrackerRecordRow) error {
	_, err := s.db.NamedExec(`
		INSERT INTO tracker_record
			(info_hash, url, status, seeds, leeches, tracker_id, last_error, next_announce_at)
		VALUES
			(:info_hash, :url, :status, :seeds, :leeches, :tracker_id, :last_error, :next_announce_at)
		ON CONFLICT(info_hash, url) DO UPDATE SET
			status=excluded.status,
			seeds=excluded.seeds,
			leeches=excluded.leeches,
			tracker_id=excluded.tracker_id,
			last_error=excluded.last_error,
			next_announce_at=excluded.next_announce_at
	`, r)
	return err
}

// LoadTrackerRecords returns every persisted tracker record for h.
func (s *Store) LoadTrackerRecords(h core.InfoHash) ([]TrackerRecordRow, error) {
	var out []TrackerRecordRow
	err := s.db.Select(&out, `SELECT info_hash, url, status, seeds, leeches, tracker_id, last_error, next_announce_at
		FROM tracker_record WHERE info_hash = ?`, h.Hex())
	return out, err
}

// DeleteTrackerRecords removes every tracker record for h.
func (s *Store) DeleteTrackerRecords(h core.InfoHash) error {
	_, err := s.db.Exec(`DELETE FROM tracker_record WHERE info_hash = ?`, h.Hex())
	return err
}

// ResumeState is a torrent's persisted metainfo, completion bitfield, and
// download directory, read back on daemon startup.
type ResumeState struct {
	InfoHash     string `db:"info_hash"`
	MetaInfo     []byte `db:"metainfo"`
	Bitfield     []byte `db:"bitfield"`
	DownloadPath string `db:"download_path"`
}

// SaveResumeState upserts a torrent's resume state.
func (s *Store) SaveResumeState(r ResumeState) error {
	_, err := s.db.NamedExec(`
		INSERT INTO torrent_resume (info_hash, metainfo, bitfield, download_path, updated_at)
		VALUES (:info_hash, :metainfo, :bitfield, :download_path, CURRENT_TIMESTAMP)
		ON CONFLICT(info_hash) DO UPDATE SET
			bitfield=excluded.bitfield,
			download_path=excluded.download_path,
			updated_at=CURRENT_TIMESTAMP
	`, r)
	return err
}

// LoadResumeState returns every persisted torrent's resume state, so the
// engine can recreate sessions on startup.
func (s *Store) LoadResumeState() ([]ResumeState, error) {
	var out []ResumeState
	err := s.db.Select(&out, `SELECT info_hash, metainfo, bitfield, download_path FROM torrent_resume`)
	return out, err
}

// DeleteResumeState removes h's persisted resume state.
func (s *Store) DeleteResumeState(h core.InfoHash) error {
	_, err := s.db.Exec(`DELETE FROM torrent_resume WHERE info_hash = ?`, h.Hex())
	return err
}
