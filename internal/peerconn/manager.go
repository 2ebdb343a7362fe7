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

package peerconn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	backoff "github.com/cenkalti/backoff"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/peer"
)

// Manager errors.
var (
	ErrTorrentAtCapacity  = errors.New("peerconn: torrent is at capacity")
	ErrEngineAtCapacity   = errors.New("peerconn: engine is at capacity")
	ErrAlreadyDialing     = errors.New("peerconn: already dialing this address")
	ErrAlreadyConnected   = errors.New("peerconn: already connected to this address")
	ErrPeerBanned         = errors.New("peerconn: peer is banned")
	ErrManagerStopped     = errors.New("peerconn: manager is stopped")
)

type status int

const (
	statusPending status = iota
	statusActive
)

type connKey struct {
	hash core.InfoHash
	addr string
}

type entry struct {
	status status
	peerID core.PeerID
}

// Manager enforces dial admission control (capacity, banning, dedup). Each
// session constructs its own Manager, so its limits apply to that session's
// torrent alone.
type Manager struct {
	mu sync.Mutex

	config Config
	clk    clock.Clock
	stopped bool

	// conns holds pending and active connections, counting towards both
	// per-torrent and global capacity.
	conns       map[connKey]entry
	perTorrent  map[core.InfoHash]int
	totalActive int

	health map[string]*peer.Health // keyed by "ip:port"
}

// New constructs a Manager.
func New(config Config, clk clock.Clock) *Manager {
	return &Manager{
		config:     config.applyDefaults(),
		clk:        clk,
		conns:      make(map[connKey]entry),
		perTorrent: make(map[core.InfoHash]int),
		health:     make(map[string]*peer.Health),
	}
}

func addrKey(ip string, port int) string {
	return fmt.Sprintf("%s:%d", ip, port)
}

// Dial attempts to reserve dial admission for (ip, port) on torrent h. On
// success, the caller must eventually call either CompleteDial (on handshake
// success) or AbortDial (on failure).
func (m *Manager) Dial(h core.InfoHash, ip string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	addr := addrKey(ip, port)
	if hh, ok := m.health[addr]; ok && hh.Banned(m.clk.Now()) {
		return ErrPeerBanned
	}

	key := connKey{hash: h, addr: addr}
	if _, ok := m.conns[key]; ok {
		return ErrAlreadyDialing
	}
	if m.totalActive >= m.config.MaxConnections {
		return ErrEngineAtCapacity
	}
	if m.perTorrent[h] >= m.config.MaxConnectionsPerTorrent {
		return ErrTorrentAtCapacity
	}

	m.conns[key] = entry{status: statusPending}
	m.perTorrent[h]++
	m.totalActive++
	return nil
}

// CompleteDial transitions a pending dial to active, recording the peer's
// negotiated identity and a connection-health success.
func (m *Manager) CompleteDial(h core.InfoHash, ip string, port int, peerID core.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := addrKey(ip, port)
	key := connKey{hash: h, addr: addr}
	if e, ok := m.conns[key]; ok {
		e.status = statusActive
		e.peerID = peerID
		m.conns[key] = e
	}
	m.recordSuccess(addr)
}

// AbortDial releases the reserved capacity for a dial that failed before or
// during handshake, and records a connection-health failure, banning the
// peer if it has now failed FailuresBeforeBan times.
func (m *Manager) AbortDial(h core.InfoHash, ip string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := addrKey(ip, port)
	m.release(h, addr)
	m.recordFailure(addr)
}

// Disconnect releases capacity for an established connection that has
// closed, without counting it as a connection-health failure (a clean
// disconnect is not a dial failure).
func (m *Manager) Disconnect(h core.InfoHash, ip string, port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(h, addrKey(ip, port))
}

func (m *Manager) release(h core.InfoHash, addr string) {
	key := connKey{hash: h, addr: addr}
	if _, ok := m.conns[key]; !ok {
		return
	}
	delete(m.conns, key)
	m.perTorrent[h]--
	if m.perTorrent[h] <= 0 {
		delete(m.perTorrent, h)
	}
	m.totalActive--
}

func (m *Manager) recordSuccess(addr string) {
	h, ok := m.health[addr]
	if !ok {
		h = &peer.Health{}
		m.health[addr] = h
	}
	h.RecordSuccess()
}

func (m *Manager) recordFailure(addr string) {
	h, ok := m.health[addr]
	if !ok {
		h = &peer.Health{}
		m.health[addr] = h
	}
	h.RecordFailure()
	if h.Failures >= m.config.FailuresBeforeBan {
		h.Ban(m.clk.Now(), m.config.BanDuration)
	}
}

// Banned reports whether (ip, port) is currently banned.
func (m *Manager) Banned(ip string, port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[addrKey(ip, port)]
	return ok && h.Banned(m.clk.Now())
}

// ActivePeerIDs returns the peer IDs of all active connections for h.
func (m *Manager) ActivePeerIDs(h core.InfoHash) []core.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []core.PeerID
	for key, e := range m.conns {
		if key.hash == h && e.status == statusActive {
			ids = append(ids, e.peerID)
		}
	}
	return ids
}

// TorrentConnCount returns the number of pending+active connections for h.
func (m *Manager) TorrentConnCount(h core.InfoHash) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perTorrent[h]
}

// Stop marks the manager as stopped; subsequent Dial calls are rejected.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// NewReconnectBackoff builds the exponential backoff policy used between
// reconnection attempts to a single peer, per Config.
func (c Config) NewReconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialReconnectDelay
	b.Multiplier = c.ReconnectBackoffFactor
	b.MaxElapsedTime = 0 // caller bounds attempts via MaxReconnectAttempts
	return b
}

// RetryReconnect invokes dial up to config.MaxReconnectAttempts times,
// sleeping between attempts per the exponential backoff policy. dial should
// return nil on success.
func RetryReconnect(config Config, sleep func(time.Duration), dial func(attempt int) error) error {
	b := config.NewReconnectBackoff()
	var lastErr error
	for attempt := 1; attempt <= config.MaxReconnectAttempts; attempt++ {
		if err := dial(attempt); err != nil {
			lastErr = err
			if attempt < config.MaxReconnectAttempts {
				sleep(b.NextBackOff())
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("peerconn: exhausted %d reconnect attempts: %w", config.MaxReconnectAttempts, lastErr)
}
