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
	"time"

	"github.com/dstore-labs/swarmd/internal/bandwidth"
	"github.com/dstore-labs/swarmd/internal/connection"
	"github.com/dstore-labs/swarmd/internal/disk"
	"github.com/dstore-labs/swarmd/internal/peerconn"
	"github.com/dstore-labs/swarmd/internal/piecemgr"
)

// Config configures a Session. Zero values are replaced with defaults by
// applyDefaults.
type Config struct {
	VerifyOnStart  bool             `yaml:"verify_on_start"`
	ProgressPeriod time.Duration    `yaml:"progress_period"`
	PieceMgr       piecemgr.Config  `yaml:"piece_mgr"`
	PeerConn       peerconn.Config  `yaml:"peer_conn"`
	Bandwidth      bandwidth.Config `yaml:"bandwidth"`
	Disk           disk.Config      `yaml:"disk"`
	Connection     connection.Config `yaml:"connection"`
}

func (c Config) applyDefaults() Config {
	if c.ProgressPeriod == 0 {
		c.ProgressPeriod = 2 * time.Second
	}
	return c
}
