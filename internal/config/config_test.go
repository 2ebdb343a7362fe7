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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
)

func TestNewAppliesDefaults(t *testing.T) {
	c := New()
	require.Equal(t, "downloads", c.DownloadDir)
	require.Equal(t, core.RandomPeerIDFactory, c.PeerIDFactory)
	require.Equal(t, "/tmp/swarmd.sock", c.RPC.SocketPath)
	require.Equal(t, "info", c.Logging.Level)
}

func TestLoadParsesYAMLAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swarmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_port: 6881
download_dir: /data/torrents
verify_on_start: true
disk:
  write_queue_size: 128
metrics:
  backend: statsd
  statsd:
    host_port: 127.0.0.1:8125
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 6881, c.ListenPort)
	require.Equal(t, "/data/torrents", c.DownloadDir)
	require.True(t, c.VerifyOnStart)
	require.Equal(t, 128, c.Disk.WriteQueueSize)
	require.Equal(t, "statsd", c.Metrics.Backend)
	require.Equal(t, "127.0.0.1:8125", c.Metrics.Statsd.HostPort)
	// Fields left unset in the document still receive defaults.
	require.Equal(t, "/tmp/swarmd.pid", c.RPC.PIDFile)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
