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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteQueueAppliesInOrder(t *testing.T) {
	var mu sync.Mutex
	var applied []int

	q := newWriteQueue(4, func(piece int, data []byte) error {
		mu.Lock()
		applied = append(applied, piece)
		mu.Unlock()
		return nil
	})
	defer q.Close()

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Submit(i, nil))
	}

	mu.Lock()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, applied)
	mu.Unlock()
}

func TestWriteQueuePropagatesApplyError(t *testing.T) {
	boom := errors.New("disk full")
	q := newWriteQueue(2, func(piece int, data []byte) error {
		return boom
	})
	defer q.Close()

	err := q.Submit(0, nil)
	require.ErrorIs(t, err, boom)
}

func TestWriteQueueRejectsAfterClose(t *testing.T) {
	q := newWriteQueue(2, func(piece int, data []byte) error { return nil })
	q.Close()

	err := q.Submit(0, nil)
	require.ErrorIs(t, err, ErrClosed)
}
