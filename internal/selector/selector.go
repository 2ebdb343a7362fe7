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

// Package selector implements the piece selection policies used by the
// piece manager to decide which pieces to request next from a peer.
package selector

import (
	"container/heap"
	"fmt"
	"math/rand"

	"github.com/willf/bitset"
)

// Policy names, settable at runtime on a torrent.
const (
	RarestFirst = "rarest_first"
	Sequential  = "sequential"
	Random      = "random"
)

// Selector picks which pieces to request next out of a candidate set.
//
// valid reports whether a candidate piece index is still eligible (e.g. not
// already fully requested); counts is the current per-piece availability
// vector, indexed identically to candidates.
type Selector interface {
	Select(limit int, candidates *bitset.BitSet, valid func(int) bool, counts []int) []int
}

// New constructs the named Selector.
func New(policy string) (Selector, error) {
	switch policy {
	case RarestFirst, "":
		return rarestFirst{}, nil
	case Sequential:
		return sequential{}, nil
	case Random:
		return random{}, nil
	default:
		return nil, fmt.Errorf("selector: unknown policy %q", policy)
	}
}

type pqItem struct {
	piece    int
	priority int
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int { return len(pq) }

// Less breaks ties among equally-rare pieces by lowest index, so rarest-first
// selection is deterministic instead of depending on heap insertion order.
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority < pq[j].priority
	}
	return pq[i].piece < pq[j].piece
}
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// rarestFirst selects the pieces held by the fewest known peers first,
// grounded on kraken's piecerequest.rarestFirstPolicy.
type rarestFirst struct{}

func (rarestFirst) Select(limit int, candidates *bitset.BitSet, valid func(int) bool, counts []int) []int {
	pq := make(priorityQueue, 0, candidates.Count())
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		c := 0
		if int(i) < len(counts) {
			c = counts[i]
		}
		pq = append(pq, pqItem{piece: int(i), priority: c})
	}
	heap.Init(&pq)

	pieces := make([]int, 0, limit)
	for len(pieces) < limit && pq.Len() > 0 {
		item := heap.Pop(&pq).(pqItem)
		if valid(item.piece) {
			pieces = append(pieces, item.piece)
		}
	}
	return pieces
}

// sequential selects pieces in strictly ascending index order.
type sequential struct{}

func (sequential) Select(limit int, candidates *bitset.BitSet, valid func(int) bool, counts []int) []int {
	pieces := make([]int, 0, limit)
	for i, ok := candidates.NextSet(0); ok && len(pieces) < limit; i, ok = candidates.NextSet(i + 1) {
		if valid(int(i)) {
			pieces = append(pieces, int(i))
		}
	}
	return pieces
}

// random selects pieces uniformly at random via reservoir sampling,
// grounded on kraken's piecerequest.defaultPolicy.
type random struct{}

func (random) Select(limit int, candidates *bitset.BitSet, valid func(int) bool, counts []int) []int {
	pieces := make([]int, 0, limit)
	if limit == 0 {
		return pieces
	}
	var k int
	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		if !valid(int(i)) {
			continue
		}
		if len(pieces) < limit {
			pieces = append(pieces, int(i))
		} else {
			j := rand.Intn(k + 1)
			if j < limit {
				pieces[j] = int(i)
			}
		}
		k++
	}
	return pieces
}
