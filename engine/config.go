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

package engine

import "time"

// Config configures dial-side behavior the engine layers on top of a
// session: dial and handshake timeouts, and how many newly discovered peers
// to dial at once. Everything else a session needs travels through
// internal/config.Config.
type Config struct {
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReannounceEvery is defaulted but not read by the engine.
	ReannounceEvery time.Duration `yaml:"reannounce_every"`
	MaxDialsPerTick  int           `yaml:"max_dials_per_tick"`
}

func (c Config) applyDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReannounceEvery == 0 {
		c.ReannounceEvery = 2 * time.Minute
	}
	if c.MaxDialsPerTick == 0 {
		c.MaxDialsPerTick = 25
	}
	return c
}
