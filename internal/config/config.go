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

// Package config aggregates every subsystem's configuration into the single
// document the daemon loads at startup, mirroring kraken's
// configuration.Config/agent.Config composition of per-component configs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bandwidth"
	"github.com/dstore-labs/swarmd/internal/disk"
	"github.com/dstore-labs/swarmd/internal/localstore"
	"github.com/dstore-labs/swarmd/internal/metrics"
	"github.com/dstore-labs/swarmd/internal/peerconn"
	"github.com/dstore-labs/swarmd/internal/piecemgr"
)

// Config is the complete configuration for one swarmd daemon process.
type Config struct {
	// ListenPort is the TCP port the engine accepts incoming peer
	// connections on. 0 means choose an ephemeral port.
	ListenPort int `yaml:"listen_port"`

	// DownloadDir is the root directory new torrents are downloaded into,
	// one subdirectory (or file, for single-file torrents) per torrent.
	DownloadDir string `yaml:"download_dir"`

	// PeerIDFactory selects how the engine's own peer id is derived.
	PeerIDFactory core.PeerIDFactory `yaml:"peer_id_factory"`

	// VerifyOnStart re-hashes every piece of a resumed torrent against its
	// metainfo before trusting its persisted bitfield.
	VerifyOnStart bool `yaml:"verify_on_start"`

	RPC        RPCConfig         `yaml:"rpc"`
	PeerConn   peerconn.Config   `yaml:"peer_conn"`
	PieceMgr   piecemgr.Config   `yaml:"piece_mgr"`
	Bandwidth  bandwidth.Config  `yaml:"bandwidth"`
	Disk       disk.Config       `yaml:"disk"`
	Metrics    metrics.Config    `yaml:"metrics"`
	LocalStore localstore.Config `yaml:"local_store"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// RPCConfig configures the daemon's control-plane listener.
type RPCConfig struct {
	// SocketPath is the unix domain socket the daemon listens on for
	// client RPC connections.
	SocketPath string `yaml:"socket_path"`
	// PIDFile records the daemon's process id, so a client can tell a
	// live daemon from a stale socket.
	PIDFile string `yaml:"pid_file"`
}

// LoggingConfig configures the zap logger shared by every subsystem.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func (c Config) applyDefaults() Config {
	if c.DownloadDir == "" {
		c.DownloadDir = "downloads"
	}
	if c.PeerIDFactory == "" {
		c.PeerIDFactory = core.RandomPeerIDFactory
	}
	if c.RPC.SocketPath == "" {
		c.RPC.SocketPath = "/tmp/swarmd.sock"
	}
	if c.RPC.PIDFile == "" {
		c.RPC.PIDFile = "/tmp/swarmd.pid"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return c
}

// New returns the default configuration.
func New() Config {
	return Config{}.applyDefaults()
}

// Load reads and parses a YAML configuration document from path, filling
// in defaults for anything left unset.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open: %s", err)
	}
	defer f.Close()

	var c Config
	if err := yaml.NewDecoder(f).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %s", err)
	}
	return c.applyDefaults(), nil
}
