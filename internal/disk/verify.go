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
	"sync"

	"github.com/dstore-labs/swarmd/internal/piece"
)

// VerifyEvent reports the outcome of hashing a single piece during a
// resume-time scan.
type VerifyEvent struct {
	Piece int
	OK    bool
	Err   error
}

// VerifyAll hashes every piece whose full byte range is present on disk,
// capping concurrent hash operations at concurrency (default 8), and
// invokes onEvent for each completed piece in whatever order its hash
// finishes -- callers needing the final bitfield should accumulate OK
// results themselves.
func VerifyAll(v *piece.Verifier, read func(i int) ([]byte, error), concurrency int, onEvent func(VerifyEvent)) {
	if concurrency <= 0 {
		concurrency = 8
	}
	n := v.NumPieces()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			data, err := read(i)
			var ev VerifyEvent
			if err != nil {
				ev = VerifyEvent{Piece: i, OK: false, Err: err}
			} else {
				ok, verr := v.Verify(i, data)
				ev = VerifyEvent{Piece: i, OK: ok, Err: verr}
			}

			mu.Lock()
			onEvent(ev)
			mu.Unlock()
		}()
	}
	wg.Wait()
}
