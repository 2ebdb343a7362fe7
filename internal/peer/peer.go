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

// Package peer holds the in-memory representation of a remote swarm
// participant: its network identity, negotiated protocol state, rolling
// throughput, and cross-restart health record.
package peer

import (
	"sync"
	"time"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bitfield"
)

// speedWindowSize is the number of 1Hz samples kept for the rolling
// throughput average (10 seconds).
const speedWindowSize = 10

// Peer is the live, in-memory state of a connected remote peer for one
// torrent.
type Peer struct {
	mu sync.Mutex

	ID   core.PeerID
	IP   string
	Port int

	ClientName    string
	ClientVersion string
	Country       string

	SupportsExtensions bool

	AmChoking      bool
	AmInterested   bool
	PeerChoking    bool
	PeerInterested bool

	bitfield *bitfield.Bitfield

	inSamples  [speedWindowSize]int64
	outSamples [speedWindowSize]int64
	sampleIdx  int
}

// New creates a Peer in the initial choked/not-interested state, per BEP 3.
func New(id core.PeerID, ip string, port int, numPieces int) *Peer {
	return &Peer{
		ID:          id,
		IP:          ip,
		Port:        port,
		AmChoking:   true,
		PeerChoking: true,
		bitfield:    bitfield.New(numPieces),
	}
}

// Bitfield returns a copy of the peer's known piece bitfield.
func (p *Peer) Bitfield() *bitfield.Bitfield {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bitfield.Copy()
}

// SetBitfield replaces the peer's known bitfield wholesale (from a Bitfield
// message).
func (p *Peer) SetBitfield(bf *bitfield.Bitfield) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bitfield = bf
}

// Have records that the peer now has piece i (from a Have message).
func (p *Peer) Have(i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bitfield.Set(i)
}

// RecordIn records nbytes received from the peer in the current 1-second
// sampling tick.
func (p *Peer) RecordIn(nbytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inSamples[p.sampleIdx] += nbytes
}

// RecordOut records nbytes sent to the peer in the current 1-second
// sampling tick.
func (p *Peer) RecordOut(nbytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outSamples[p.sampleIdx] += nbytes
}

// Tick advances the sampling window by one second, called at 1Hz.
func (p *Peer) Tick() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sampleIdx = (p.sampleIdx + 1) % speedWindowSize
	p.inSamples[p.sampleIdx] = 0
	p.outSamples[p.sampleIdx] = 0
}

// DownloadRate returns the average inbound bytes/sec over the sampling
// window.
func (p *Peer) DownloadRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return average(p.inSamples[:])
}

// UploadRate returns the average outbound bytes/sec over the sampling
// window.
func (p *Peer) UploadRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return average(p.outSamples[:])
}

func average(samples []int64) float64 {
	var total int64
	for _, s := range samples {
		total += s
	}
	return float64(total) / float64(len(samples))
}

// Health tracks a peer's connection success/failure history across a
// torrent's lifetime (and, once persisted, across daemon restarts).
type Health struct {
	Successes   int
	Failures    int
	BannedUntil time.Time
}

// RecordSuccess resets the consecutive-failure count.
func (h *Health) RecordSuccess() {
	h.Successes++
	h.Failures = 0
}

// RecordFailure increments the consecutive-failure count.
func (h *Health) RecordFailure() {
	h.Failures++
}

// Ban marks the peer as banned until now+duration.
func (h *Health) Ban(now time.Time, duration time.Duration) {
	h.BannedUntil = now.Add(duration)
}

// Banned reports whether the peer is currently banned.
func (h *Health) Banned(now time.Time) bool {
	return now.Before(h.BannedUntil)
}
