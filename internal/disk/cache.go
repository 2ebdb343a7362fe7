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

package disk

import (
	"container/list"
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// CacheConfig configures the piece read cache.
type CacheConfig struct {
	// Size is the maximum number of pieces held in cache, default 16.
	Size int
	// Shards is the number of independent LRU buckets pieces are hashed
	// across, so concurrent reads of distinct pieces don't contend on one
	// mutex. Default 4.
	Shards int
}

func (c CacheConfig) applyDefaults() CacheConfig {
	if c.Size == 0 {
		c.Size = 16
	}
	if c.Shards == 0 {
		c.Shards = 4
	}
	return c
}

// entry is one cached piece's payload plus its position in the shard's LRU
// list.
type entry struct {
	piece int
	data  []byte
	elem  *list.Element
}

// shard is a single-mutex LRU bucket of pieces.
type shard struct {
	mu      sync.Mutex
	size    int
	entries map[int]*entry
	order   *list.List // front = most recently used
}

func newShard(size int) *shard {
	return &shard{size: size, entries: make(map[int]*entry), order: list.New()}
}

func (s *shard) get(piece int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[piece]
	if !ok {
		return nil, false
	}
	s.order.MoveToFront(e.elem)
	return e.data, true
}

func (s *shard) put(piece int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[piece]; ok {
		e.data = data
		s.order.MoveToFront(e.elem)
		return
	}
	e := &entry{piece: piece, data: data}
	e.elem = s.order.PushFront(e)
	s.entries[piece] = e

	for len(s.entries) > s.size {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*entry).piece)
	}
}

func (s *shard) delete(piece int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[piece]; ok {
		s.order.Remove(e.elem)
		delete(s.entries, piece)
	}
}

func (s *shard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[int]*entry)
	s.order = list.New()
}

// ReadCache is a piece-granularity LRU, sharded by murmur3(piece index) so
// concurrent readers of different pieces don't serialize on one lock.
type ReadCache struct {
	shards []*shard
}

// NewReadCache constructs a ReadCache from config, splitting the total
// capacity evenly across shards.
func NewReadCache(config CacheConfig) *ReadCache {
	config = config.applyDefaults()
	perShard := config.Size / config.Shards
	if perShard < 1 {
		perShard = 1
	}
	rc := &ReadCache{shards: make([]*shard, config.Shards)}
	for i := range rc.shards {
		rc.shards[i] = newShard(perShard)
	}
	return rc
}

func (rc *ReadCache) shardFor(piece int) *shard {
	var key [4]byte
	binary.LittleEndian.PutUint32(key[:], uint32(piece))
	h := murmur3.Sum32(key[:])
	return rc.shards[int(h)%len(rc.shards)]
}

// Get returns the cached bytes for piece, if present.
func (rc *ReadCache) Get(piece int) ([]byte, bool) {
	return rc.shardFor(piece).get(piece)
}

// Put inserts or refreshes piece's cached bytes.
func (rc *ReadCache) Put(piece int, data []byte) {
	rc.shardFor(piece).put(piece, data)
}

// Invalidate removes piece from the cache, e.g. after a piece fails
// verification and must be re-downloaded.
func (rc *ReadCache) Invalidate(piece int) {
	rc.shardFor(piece).delete(piece)
}

// Clear empties every shard.
func (rc *ReadCache) Clear() {
	for _, s := range rc.shards {
		s.clear()
	}
}
