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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
)

func fixture(t *testing.T) *Store {
	t.Helper()
	source := filepath.Join(t.TempDir(), "swarmd.db")
	s, err := Open(Config{Source: source})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadPeerHealth(t *testing.T) {
	s := fixture(t)
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	r := PeerHealthRecord{
		InfoHash:    h.Hex(),
		IP:          "10.0.0.1",
		Port:        6881,
		Successes:   3,
		Failures:    1,
		BannedUntil: time.Time{},
	}
	require.NoError(t, s.SavePeerHealth(r))

	rows, err := s.LoadPeerHealth(h)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, r.IP, rows[0].IP)
	require.Equal(t, 3, rows[0].Successes)

	r.Successes = 4
	require.NoError(t, s.SavePeerHealth(r))
	rows, err = s.LoadPeerHealth(h)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 4, rows[0].Successes)

	require.NoError(t, s.DeletePeerHealth(h))
	rows, err = s.LoadPeerHealth(h)
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestSaveAndLoadTrackerRecord(t *testing.T) {
	s := fixture(t)
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	r := TrackerRecordRow{
		InfoHash: h.Hex(),
		URL:      "http://tracker.example.com/announce",
		Status:   1,
		Seeds:    10,
		Leeches:  2,
	}
	require.NoError(t, s.SaveTrackerRecord(r))

	rows, err := s.LoadTrackerRecords(h)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, r.URL, rows[0].URL)
	require.Equal(t, 10, rows[0].Seeds)

	require.NoError(t, s.DeleteTrackerRecords(h))
	rows, err = s.LoadTrackerRecords(h)
	require.NoError(t, err)
	require.Len(t, rows, 0)
}

func TestSaveAndLoadResumeState(t *testing.T) {
	s := fixture(t)
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	r := ResumeState{
		InfoHash:     h.Hex(),
		MetaInfo:     []byte("metainfo-bytes"),
		Bitfield:     []byte{0xff, 0x00},
		DownloadPath: "/tmp/downloads/torrent",
	}
	require.NoError(t, s.SaveResumeState(r))

	all, err := s.LoadResumeState()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, r.MetaInfo, all[0].MetaInfo)
	require.Equal(t, r.Bitfield, all[0].Bitfield)

	r.Bitfield = []byte{0x0f}
	require.NoError(t, s.SaveResumeState(r))
	all, err = s.LoadResumeState()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, []byte{0x0f}, all[0].Bitfield)

	require.NoError(t, s.DeleteResumeState(h))
	all, err = s.LoadResumeState()
	require.NoError(t, err)
	require.Len(t, all, 0)
}
