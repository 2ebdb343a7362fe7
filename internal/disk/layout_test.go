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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
)

func TestLayoutSpansSingleFile(t *testing.T) {
	mi := buildMetaInfo(t, 10, nil, 30)
	l := NewLayout("/tmp/root", mi)

	spans := l.Spans(0, 10)
	require.Len(t, spans, 1)
	require.Equal(t, int64(0), spans[0].offset)
	require.Equal(t, int64(10), spans[0].length)
}

func TestLayoutSpansCrossesFileBoundary(t *testing.T) {
	mi := buildMetaInfo(t, 10, []core.FileEntry{
		{Length: 6, Path: []string{"a"}},
		{Length: 6, Path: []string{"b"}},
	}, 0)
	l := NewLayout("/tmp/root", mi)

	spans := l.Spans(0, 10)
	require.Len(t, spans, 2)
	require.Equal(t, int64(6), spans[0].length)
	require.Equal(t, int64(4), spans[1].length)
	require.Equal(t, int64(0), spans[1].offset)

	spans = l.Spans(10, 2)
	require.Len(t, spans, 1)
	require.Equal(t, int64(4), spans[0].offset)
	require.Equal(t, int64(2), spans[0].length)
}

func TestLayoutPieceRangeLastPieceShort(t *testing.T) {
	mi := buildMetaInfo(t, 10, nil, 25)
	l := NewLayout("/tmp/root", mi)

	start, end := l.PieceRange(2)
	require.Equal(t, int64(20), start)
	require.Equal(t, int64(25), end)
}

func TestLayoutFilesMultiFileUnderTorrentDir(t *testing.T) {
	mi := buildMetaInfo(t, 10, []core.FileEntry{
		{Length: 5, Path: []string{"x", "y.bin"}},
	}, 0)
	l := NewLayout("/tmp/root", mi)

	require.Equal(t, "/tmp/root/testtorrent", l.TorrentDir())
	require.Equal(t, []string{"/tmp/root/testtorrent/x/y.bin"}, l.Files())
}
