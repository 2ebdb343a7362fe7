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
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff"
)

// ManagerConfig configures how a client-side Manager finds or starts a
// daemon and how it reconnects after a transient disconnect.
type ManagerConfig struct {
	SocketPath string `yaml:"socket_path"`

	// DaemonBinary and DaemonArgs spawn a new daemon process when no
	// socket answers a ping. Leave DaemonBinary empty to disable
	// auto-spawn and only ever connect to an already-running daemon.
	DaemonBinary string   `yaml:"daemon_binary"`
	DaemonArgs   []string `yaml:"daemon_args"`

	// ReadinessTimeout bounds how long Connect waits for a freshly
	// spawned daemon to start answering pings.
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
}

func (c ManagerConfig) applyDefaults() ManagerConfig {
	if c.ReadinessTimeout == 0 {
		c.ReadinessTimeout = 10 * time.Second
	}
	return c
}

// Manager implements the client side of "probe socket with ping -> if
// absent, spawn daemon -> wait for readiness -> hand back a connected
// client", plus capped-exponential-backoff reconnection on transient
// disconnects.
type Manager struct {
	cfg ManagerConfig
}

// NewManager creates a Manager for the given configuration.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{cfg: cfg.applyDefaults()}
}

// Connect returns a live Client to the daemon at cfg.SocketPath, spawning
// the daemon first if configured to and no daemon answers a ping.
func (m *Manager) Connect(ctx context.Context) (*Client, error) {
	if c, err := m.probe(); err == nil {
		return c, nil
	}

	if m.cfg.DaemonBinary == "" {
		return nil, fmt.Errorf("rpc: no daemon listening on %s and auto-spawn is disabled", m.cfg.SocketPath)
	}

	cmd := exec.Command(m.cfg.DaemonBinary, m.cfg.DaemonArgs...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rpc: spawn daemon: %s", err)
	}

	deadline := time.Now().Add(m.cfg.ReadinessTimeout)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	for {
		if c, err := m.probe(); err == nil {
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("rpc: daemon did not become ready within %s", m.cfg.ReadinessTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
}

func (m *Manager) probe() (*Client, error) {
	c, err := Dial(m.cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Reconnect re-dials after a lost connection, retrying with capped
// exponential backoff until ctx is done or a connection succeeds.
func (m *Manager) Reconnect(ctx context.Context) (*Client, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0 // retry until ctx is done

	for {
		c, err := Dial(m.cfg.SocketPath)
		if err == nil {
			return c, nil
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("rpc: reconnect: %s", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}
