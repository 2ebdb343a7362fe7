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

// Package availability tracks which peers have which pieces, and maintains a
// per-piece count of how many known peers hold it so selection policies can
// rank pieces by rarity.
package availability

import (
	"sync"

	"github.com/dstore-labs/swarmd/internal/bitfield"
)

// Tracker maintains the availability vector for a single torrent's swarm.
type Tracker struct {
	mu       sync.RWMutex
	numPiece int
	byPeer   map[string]*bitfield.Bitfield
	counts   []int
}

// New creates a Tracker for a torrent with numPieces pieces.
func New(numPieces int) *Tracker {
	return &Tracker{
		numPiece: numPieces,
		byPeer:   make(map[string]*bitfield.Bitfield),
		counts:   make([]int, numPieces),
	}
}

// AddPeer registers peerID with an initial (possibly empty) bitfield.
func (t *Tracker) AddPeer(peerID string, bf *bitfield.Bitfield) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byPeer[peerID]; ok {
		return
	}
	cp := bf.Copy()
	t.byPeer[peerID] = cp
	cp.Each(func(i int) bool {
		t.counts[i]++
		return true
	})
}

// RemovePeer discards peerID's contribution to the availability counts.
func (t *Tracker) RemovePeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bf, ok := t.byPeer[peerID]
	if !ok {
		return
	}
	bf.Each(func(i int) bool {
		t.counts[i]--
		return true
	})
	delete(t.byPeer, peerID)
}

// Have records that peerID now has piece i. It is idempotent: calling it
// again for a piece the peer already has is a no-op.
func (t *Tracker) Have(peerID string, i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bf, ok := t.byPeer[peerID]
	if !ok {
		bf = bitfield.New(t.numPiece)
		t.byPeer[peerID] = bf
	}
	if bf.Has(i) {
		return
	}
	bf.Set(i)
	t.counts[i]++
}

// Count returns the number of known peers that have piece i.
func (t *Tracker) Count(i int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.counts) {
		return 0
	}
	return t.counts[i]
}

// Counts returns a copy of the full per-piece availability vector.
func (t *Tracker) Counts() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]int, len(t.counts))
	copy(out, t.counts)
	return out
}

// PeerBitfield returns a copy of peerID's known bitfield, or nil if unknown.
func (t *Tracker) PeerBitfield(peerID string) *bitfield.Bitfield {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bf, ok := t.byPeer[peerID]
	if !ok {
		return nil
	}
	return bf.Copy()
}

// NumPeers returns the number of peers registered with the tracker.
func (t *Tracker) NumPeers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPeer)
}
