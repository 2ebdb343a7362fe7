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

// Package peerconn manages the lifecycle of peer connections for the swarm
// engine: dial admission, global and per-torrent capacity, reconnection
// backoff, and banning. It generalizes kraken's scheduler/connstate.State
// (which tracked blacklist-by-info-hash-and-peer capacity) to a BitTorrent
// engine's coarser global/per-torrent connection limits.
package peerconn

import "time"

// Config configures a Manager. Zero values are replaced with defaults by
// applyDefaults, mirroring kraken's connstate.Config pattern.
type Config struct {
	MaxConnections          int           `yaml:"max_connections"`
	MaxConnectionsPerTorrent int          `yaml:"max_connections_per_torrent"`
	ConnectTimeout           time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout         time.Duration `yaml:"handshake_timeout"`
	InitialReconnectDelay    time.Duration `yaml:"initial_reconnect_delay"`
	ReconnectBackoffFactor   float64       `yaml:"reconnect_backoff_factor"`
	MaxReconnectAttempts     int           `yaml:"max_reconnect_attempts"`
	BanDuration              time.Duration `yaml:"ban_duration"`
	FailuresBeforeBan        int           `yaml:"failures_before_ban"`
}

func (c Config) applyDefaults() Config {
	if c.MaxConnections == 0 {
		c.MaxConnections = 50
	}
	if c.MaxConnectionsPerTorrent == 0 {
		c.MaxConnectionsPerTorrent = 30
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.InitialReconnectDelay == 0 {
		c.InitialReconnectDelay = 2 * time.Second
	}
	if c.ReconnectBackoffFactor == 0 {
		c.ReconnectBackoffFactor = 1.5
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 3
	}
	if c.BanDuration == 0 {
		c.BanDuration = 10 * time.Minute
	}
	if c.FailuresBeforeBan == 0 {
		c.FailuresBeforeBan = 5
	}
	return c
}
