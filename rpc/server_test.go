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

package rpc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/engine"
	"github.com/dstore-labs/swarmd/internal/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.ListenPort = 0
	cfg.DownloadDir = dir
	cfg.LocalStore.Source = filepath.Join(dir, "store.db")

	eng, err := engine.New(cfg, engine.Config{}, clock.New(), nil)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { eng.Shutdown(context.Background()) })

	srv := NewServer(ServerConfig{
		SocketPath: filepath.Join(dir, "swarmd.sock"),
		PIDFile:    filepath.Join(dir, "swarmd.pid"),
	}, eng, nil)
	require.NoError(t, srv.Listen())
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	return srv, filepath.Join(dir, "swarmd.sock")
}

func TestClientPing(t *testing.T) {
	_, sock := newTestServer(t)

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Ping(ctx))
}

func TestClientGetStatusAndGetTorrents(t *testing.T) {
	_, sock := newTestServer(t)

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var status StatusResponse
	require.NoError(t, c.Call(ctx, TypeGetStatus, struct{}{}, &status))
	require.True(t, status.Status.Running)

	var torrents GetTorrentsResponse
	require.NoError(t, c.Call(ctx, TypeGetTorrents, struct{}{}, &torrents))
	require.Empty(t, torrents.Torrents)
}

func TestClientGetTorrentNotFound(t *testing.T) {
	_, sock := newTestServer(t)

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	var resp GetTorrentResponse
	require.NoError(t, c.Call(ctx, TypeGetTorrent, GetTorrentRequest{InfoHash: h}, &resp))
	require.Nil(t, resp.Torrent)
}

func TestClientRemoveTorrentNotFoundSurfacesAsError(t *testing.T) {
	_, sock := newTestServer(t)

	c, err := Dial(sock)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)

	err = c.Call(ctx, TypeRemoveTorrent, RemoveTorrentRequest{InfoHash: h}, nil)
	require.Error(t, err)
}

func TestManagerConnectsToRunningDaemon(t *testing.T) {
	_, sock := newTestServer(t)

	m := NewManager(ManagerConfig{SocketPath: sock})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := m.Connect(ctx)
	require.NoError(t, err)
	defer c.Close()
}
