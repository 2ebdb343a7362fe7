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

// Package piecemgr tracks in-flight block requests across all peers of a
// torrent: which blocks are pending, to which peer, since when, and how
// many times they have been retried. It generalizes kraken's
// piecerequest.Manager from whole-piece granularity to (piece, block)
// granularity, and adds endgame mode for the final stretch of a download.
package piecemgr

import (
	"math"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/dstore-labs/swarmd/internal/selector"
)

// Status enumerates the lifecycle of a block request.
type Status int

// Request statuses.
const (
	// StatusPending is a valid request still in-flight.
	StatusPending Status = iota
	// StatusExpired is an in-flight request that timed out.
	StatusExpired
	// StatusUnsent is a request safe to retry to the same peer.
	StatusUnsent
	// StatusInvalid is a completed request whose payload failed verification.
	StatusInvalid
	// StatusDead is a request that exhausted its retry budget.
	StatusDead
)

// BlockKey identifies a single block within a torrent.
type BlockKey struct {
	Piece int
	Block int
}

// Request represents one outstanding (piece, block) request to a peer.
type Request struct {
	Piece   int
	Block   int
	PeerID  string
	Status  Status
	Retries int

	sentAt time.Time
}

// Config configures a Manager. Zero values are replaced with defaults by
// applyDefaults.
type Config struct {
	PipelineLimit   int           `yaml:"pipeline_limit"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	// EndgameThreshold is the number of missing pieces at or below which the
	// torrent enters endgame. Zero uses the default formula,
	// min(20, ceil(0.15*piece_count)).
	EndgameThreshold int    `yaml:"endgame_threshold"`
	SelectionPolicy  string `yaml:"selection_policy"`
}

func (c *Config) applyDefaults() {
	if c.PipelineLimit == 0 {
		c.PipelineLimit = 256
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.SelectionPolicy == "" {
		c.SelectionPolicy = selector.RarestFirst
	}
}

// defaultEndgameThreshold computes min(20, ceil(0.15*total)) for a torrent
// with total pieces, used whenever Config.EndgameThreshold is left at zero.
func defaultEndgameThreshold(total int) int {
	t := int(math.Ceil(0.15 * float64(total)))
	if t < 1 {
		t = 1
	}
	if t > 20 {
		t = 20
	}
	return t
}

// Manager encapsulates thread-safe block request bookkeeping. It does not
// itself send or receive wire messages.
type Manager struct {
	config Config
	clock  clock.Clock

	sel selector.Selector

	// requestsByPiece, requestsByPeer, and requestsByBlock all hold the
	// same *Request values, indexed three different ways so that lookups
	// by piece, by peer, and by exact block are all O(1)/O(blocks-in-piece).
	requestsByPiece map[int]map[BlockKey]*Request
	requestsByPeer  map[string]map[BlockKey]*Request
	requestsByBlock map[BlockKey][]*Request
}

// New constructs a Manager.
func New(config Config, clk clock.Clock) (*Manager, error) {
	config.applyDefaults()
	sel, err := selector.New(config.SelectionPolicy)
	if err != nil {
		return nil, err
	}
	return &Manager{
		config:          config,
		clock:           clk,
		sel:             sel,
		requestsByPiece: make(map[int]map[BlockKey]*Request),
		requestsByPeer:  make(map[string]map[BlockKey]*Request),
		requestsByBlock: make(map[BlockKey][]*Request),
	}, nil
}

// InEndgame reports whether the torrent has crossed the endgame threshold:
// once missing (total pieces still not Complete) drops to or below the
// configured (or default) endgame threshold, the manager allows duplicate
// in-flight requests for the remaining blocks so that a single slow peer
// cannot stall completion.
func (m *Manager) InEndgame(missing, total int) bool {
	if total == 0 {
		return false
	}
	threshold := m.config.EndgameThreshold
	if threshold <= 0 {
		threshold = defaultEndgameThreshold(total)
	}
	return missing <= threshold
}

// MaxRetries returns the configured (or defaulted) piece retry budget.
func (m *Manager) MaxRetries() int {
	return m.config.MaxRetries
}

// RequestTimeout returns the configured (or defaulted) stale-request
// timeout, the interval after which a pending request is swept.
func (m *Manager) RequestTimeout() time.Duration {
	return m.config.RequestTimeout
}

// ReserveBlocks selects up to the peer's remaining pipeline quota of blocks
// to request next, drawn from candidatePieces (pieces the peer has that we
// need), using numPeersByPiece for rarest-first ranking. blocksInPiece
// returns the number of blocks in a given piece and blockNeeded reports
// whether a given block is still Missing/not-yet-received.
func (m *Manager) ReserveBlocks(
	peerID string,
	candidatePieces *bitset.BitSet,
	numPeersByPiece []int,
	blocksInPiece func(piece int) int,
	blockNeeded func(piece, block int) bool,
	endgame bool,
) []BlockKey {
	quota := m.requestQuota(peerID)
	if quota <= 0 {
		return nil
	}

	valid := func(p int) bool {
		for b := 0; b < blocksInPiece(p); b++ {
			if blockNeeded(p, b) {
				return true
			}
		}
		return false
	}
	pieces := m.sel.Select(candidatePieces.Count(), candidatePieces, valid, numPeersByPiece)

	var reserved []BlockKey
	for _, p := range pieces {
		if len(reserved) >= quota {
			break
		}
		n := blocksInPiece(p)
		for b := 0; b < n && len(reserved) < quota; b++ {
			if !blockNeeded(p, b) {
				continue
			}
			key := BlockKey{Piece: p, Block: b}
			if !m.validRequest(peerID, key, endgame) {
				continue
			}
			m.add(peerID, key)
			reserved = append(reserved, key)
		}
	}
	return reserved
}

func (m *Manager) add(peerID string, key BlockKey) {
	r := &Request{
		Piece:  key.Piece,
		Block:  key.Block,
		PeerID: peerID,
		Status: StatusPending,
		sentAt: m.clock.Now(),
	}
	if m.requestsByPiece[key.Piece] == nil {
		m.requestsByPiece[key.Piece] = make(map[BlockKey]*Request)
	}
	m.requestsByPiece[key.Piece][key] = r
	if m.requestsByPeer[peerID] == nil {
		m.requestsByPeer[peerID] = make(map[BlockKey]*Request)
	}
	m.requestsByPeer[peerID][key] = r
	m.requestsByBlock[key] = append(m.requestsByBlock[key], r)
}

// MarkReceived clears bookkeeping for a block whose data has arrived.
func (m *Manager) MarkReceived(peerID string, key BlockKey) {
	m.removeFromIndices(peerID, key, func(r *Request) bool { return r.PeerID == peerID })
}

// MarkInvalid marks a block request as having produced invalid data (e.g.
// failed piece hash), making it eligible for immediate re-request.
func (m *Manager) MarkInvalid(peerID string, key BlockKey) {
	m.markStatus(peerID, key, StatusInvalid)
}

// MarkUnsent marks a block request as unsent, safe to retry against the
// same peer without penalty.
func (m *Manager) MarkUnsent(peerID string, key BlockKey) {
	m.markStatus(peerID, key, StatusUnsent)
}

func (m *Manager) markStatus(peerID string, key BlockKey, status Status) {
	if pm, ok := m.requestsByPeer[peerID]; ok {
		if r, ok := pm[key]; ok {
			r.Status = status
		}
	}
}

// ClearPiece discards all request bookkeeping for a piece, typically called
// after the piece verifies successfully or is marked failed.
func (m *Manager) ClearPiece(piece int) {
	byKey := m.requestsByPiece[piece]
	delete(m.requestsByPiece, piece)
	for key, r := range byKey {
		if pm, ok := m.requestsByPeer[r.PeerID]; ok {
			delete(pm, key)
			if len(pm) == 0 {
				delete(m.requestsByPeer, r.PeerID)
			}
		}
		delete(m.requestsByBlock, key)
	}
}

// ClearPeer discards all request bookkeeping for a peer, typically called
// when the peer disconnects.
func (m *Manager) ClearPeer(peerID string) {
	pm := m.requestsByPeer[peerID]
	delete(m.requestsByPeer, peerID)
	for key := range pm {
		if bm, ok := m.requestsByPiece[key.Piece]; ok {
			delete(bm, key)
			if len(bm) == 0 {
				delete(m.requestsByPiece, key.Piece)
			}
		}
		rs := m.requestsByBlock[key]
		for i, r := range rs {
			if r.PeerID == peerID {
				rs[i] = rs[len(rs)-1]
				rs = rs[:len(rs)-1]
				break
			}
		}
		if len(rs) == 0 {
			delete(m.requestsByBlock, key)
		} else {
			m.requestsByBlock[key] = rs
		}
	}
}

func (m *Manager) removeFromIndices(peerID string, key BlockKey, match func(*Request) bool) {
	if pm, ok := m.requestsByPeer[peerID]; ok {
		delete(pm, key)
		if len(pm) == 0 {
			delete(m.requestsByPeer, peerID)
		}
	}
	if bm, ok := m.requestsByPiece[key.Piece]; ok {
		delete(bm, key)
		if len(bm) == 0 {
			delete(m.requestsByPiece, key.Piece)
		}
	}
	rs := m.requestsByBlock[key]
	filtered := rs[:0]
	for _, r := range rs {
		if !match(r) {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		delete(m.requestsByBlock, key)
	} else {
		m.requestsByBlock[key] = filtered
	}
}

// SweepStale scans for requests that have exceeded the request timeout,
// marks them expired, increments their retry count, and returns the set of
// (peer, block) pairs that exhausted their retry budget and should be
// reported as dead (the peer should likely be penalized). A request that is
// still expired on a later sweep has its retry count incremented again.
func (m *Manager) SweepStale() []Request {
	var dead []Request
	for key, rs := range m.requestsByBlock {
		for _, r := range rs {
			if (r.Status != StatusPending && r.Status != StatusExpired) || !m.expired(r) {
				continue
			}
			r.Status = StatusExpired
			r.Retries++
			if r.Retries > m.config.MaxRetries {
				r.Status = StatusDead
				dead = append(dead, Request{
					Piece: key.Piece, Block: key.Block,
					PeerID: r.PeerID, Status: StatusDead, Retries: r.Retries,
				})
			}
		}
	}
	return dead
}

// PendingBlocks returns the blocks pending for peerID. Intended primarily
// for testing.
func (m *Manager) PendingBlocks(peerID string) []BlockKey {
	var out []BlockKey
	for key, r := range m.requestsByPeer[peerID] {
		if r.Status == StatusPending {
			out = append(out, key)
		}
	}
	return out
}

func (m *Manager) validRequest(peerID string, key BlockKey, allowDuplicates bool) bool {
	for _, r := range m.requestsByBlock[key] {
		if r.Status == StatusPending && !m.expired(r) {
			if r.PeerID == peerID {
				return false
			}
			if !allowDuplicates {
				return false
			}
		}
	}
	return true
}

func (m *Manager) requestQuota(peerID string) int {
	quota := m.config.PipelineLimit
	pm, ok := m.requestsByPeer[peerID]
	if !ok {
		return quota
	}
	for _, r := range pm {
		if r.Status == StatusPending && !m.expired(r) {
			quota--
			if quota == 0 {
				break
			}
		}
	}
	return quota
}

func (m *Manager) expired(r *Request) bool {
	return m.clock.Now().After(r.sentAt.Add(m.config.RequestTimeout))
}
