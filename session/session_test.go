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

package session

import (
	"context"
	"crypto/sha1"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/connection"
	"github.com/dstore-labs/swarmd/internal/tracker"
)

func buildSingleFileMetaInfo(pieceData []byte) *core.MetaInfo {
	mi := &core.MetaInfo{}
	mi.Info.Name = "greeting.txt"
	mi.Info.PieceLength = int64(len(pieceData))
	mi.Info.Length = int64(len(pieceData))
	mi.Info.Pieces = [][20]byte{sha1.Sum(pieceData)}
	return mi
}

func newTestSession(t *testing.T, mi *core.MetaInfo, downloadPath string, verifyOnStart bool) *Session {
	t.Helper()
	id, err := core.RandomPeerID()
	require.NoError(t, err)
	s, err := New(Config{VerifyOnStart: verifyOnStart}, mi, downloadPath, id, nil, clock.NewMock(), nil)
	require.NoError(t, err)
	return s
}

func connectSessions(t *testing.T, a, b *Session) {
	t.Helper()
	nc1, nc2 := net.Pipe()

	errs := make(chan error, 2)
	go func() {
		_, err := connection.Handshake(context.Background(), nc1, a.InfoHash(), a.LocalPeerID(), time.Second)
		errs <- err
	}()
	go func() {
		_, err := connection.Handshake(context.Background(), nc2, b.InfoHash(), b.LocalPeerID(), time.Second)
		errs <- err
	}()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	c1 := connection.New(connection.Config{}, nc1, nil, a, a.InfoHash(), b.LocalPeerID(), false, nil)
	c2 := connection.New(connection.Config{}, nc2, nil, b, b.InfoHash(), a.LocalPeerID(), true, nil)

	a.AddPeer(c1, "127.0.0.1", 1)
	b.AddPeer(c2, "127.0.0.1", 2)
}

func TestSessionDownloadsSinglePieceFromSeeder(t *testing.T) {
	data := []byte("hello swarm")
	mi := buildSingleFileMetaInfo(data)

	seederDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seederDir, mi.Info.Name), data, 0644))

	seeder := newTestSession(t, mi, seederDir, true)
	require.NoError(t, seeder.Start(context.Background()))
	defer seeder.Stop(context.Background())
	require.Equal(t, StateSeeding, seeder.State())

	downloaderDir := t.TempDir()
	downloader := newTestSession(t, mi, downloaderDir, false)

	events := make(chan Event, 16)
	downloader.SetEventHandler(func(ev Event) { events <- ev })

	require.NoError(t, downloader.Start(context.Background()))
	defer downloader.Stop(context.Background())

	connectSessions(t, seeder, downloader)

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == DownloadCompleted {
				got, err := os.ReadFile(filepath.Join(downloaderDir, mi.Info.Name))
				require.NoError(t, err)
				require.Equal(t, data, got)
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for download to complete")
		}
	}
}

func TestSessionPauseDisconnectsPeers(t *testing.T) {
	data := []byte("abcdefgh")
	mi := buildSingleFileMetaInfo(data)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, mi.Info.Name), data, 0644))
	seeder := newTestSession(t, mi, dir, true)
	require.NoError(t, seeder.Start(context.Background()))
	defer seeder.Stop(context.Background())

	otherDir := t.TempDir()
	downloader := newTestSession(t, mi, otherDir, false)
	require.NoError(t, downloader.Start(context.Background()))
	defer downloader.Stop(context.Background())

	connectSessions(t, seeder, downloader)
	require.NoError(t, downloader.Pause(context.Background()))
	require.Equal(t, StatePaused, downloader.State())
	require.Eventually(t, func() bool { return downloader.Snapshot().NumPeers == 0 }, time.Second, 10*time.Millisecond)
}

func TestCoordinatorTrackerDisabled(t *testing.T) {
	// AddTorrent with nil tiers is valid: a session with no trackers simply
	// never has anything Due, matching a magnet/DHT-only torrent.
	id, err := core.RandomPeerID()
	require.NoError(t, err)
	c := tracker.NewCoordinator(id, clock.NewMock())
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	c.AddTorrent(h, nil)
	require.Empty(t, c.Records(h))
}
