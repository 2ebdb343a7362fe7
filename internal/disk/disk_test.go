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
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/piece"
)

func buildMetaInfo(t *testing.T, pieceLength int64, files []core.FileEntry, singleLength int64) *core.MetaInfo {
	t.Helper()
	mi := &core.MetaInfo{}
	mi.Info.Name = "testtorrent"
	mi.Info.PieceLength = pieceLength
	if files != nil {
		mi.Info.Files = files
		var total int64
		for _, f := range files {
			total += f.Length
		}
		mi.Info.Length = total
	} else {
		mi.Info.Length = singleLength
	}
	numPieces := int((mi.Info.Length + pieceLength - 1) / pieceLength)
	for i := 0; i < numPieces; i++ {
		mi.Info.Pieces = append(mi.Info.Pieces, [20]byte{})
	}
	return mi
}

func TestSingleFileWriteAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 8, nil, 20)

	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WritePiece(0, []byte("01234567")))
	require.NoError(t, s.WritePiece(1, []byte("89ABCDEF")))
	require.NoError(t, s.WritePiece(2, []byte("GH")))

	require.True(t, s.HasPiece(0))
	require.True(t, s.HasPiece(2))

	data, err := s.ReadPiece(1)
	require.NoError(t, err)
	require.Equal(t, []byte("89ABCDEF"), data)

	block, err := s.ReadBlock(0, 2, 4)
	require.NoError(t, err)
	require.Equal(t, []byte("2345"), block)

	content, err := os.ReadFile(filepath.Join(dir, "testtorrent"))
	require.NoError(t, err)
	require.Equal(t, "01234567"+"89ABCDEF"+"GH", string(content))
}

func TestReadIncompletePieceFails(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 8, nil, 16)
	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadPiece(0)
	require.ErrorIs(t, err, ErrPieceMissing)
}

func TestWritePieceRejectsWrongLength(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 8, nil, 16)
	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	err = s.WritePiece(0, []byte("short"))
	require.ErrorIs(t, err, ErrInvalidPieceLength)
}

func TestMultiFilePieceSpansMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 10, []core.FileEntry{
		{Length: 6, Path: []string{"a.txt"}},
		{Length: 6, Path: []string{"sub", "b.txt"}},
	}, 0)

	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	// Piece 0 covers bytes [0,10): all of a.txt (6) + first 4 bytes of b.txt.
	require.NoError(t, s.WritePiece(0, []byte("AAAAAABBBB")))
	// Piece 1 covers bytes [10,12): remaining 2 bytes of b.txt.
	require.NoError(t, s.WritePiece(1, []byte("BB")))

	aContent, err := os.ReadFile(filepath.Join(dir, "testtorrent", "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", string(aContent))

	bContent, err := os.ReadFile(filepath.Join(dir, "testtorrent", "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", string(bContent))

	data, err := s.ReadPiece(0)
	require.NoError(t, err)
	require.Equal(t, "AAAAAABBBB", string(data))
}

func TestDeleteRemovesFilesAndEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 10, []core.FileEntry{
		{Length: 4, Path: []string{"sub", "b.txt"}},
	}, 0)

	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WritePiece(0, []byte("data")))
	require.NoError(t, s.Delete())

	_, err = os.Stat(filepath.Join(dir, "testtorrent"))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 0, s.Bitfield().Count())
}

func TestVerifyOnStartDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 8, nil, 16)

	good := []byte("01234567")
	bad := []byte("XXXXXXXX")
	h1 := sha1.Sum(good)
	h2 := sha1.Sum(bad)
	mi.Info.Pieces = [][20]byte{h1, h1} // piece 1 expects `good`'s hash too, so writing `bad` fails it

	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WritePiece(0, good))
	require.NoError(t, s.WritePiece(1, bad))

	verifier := piece.NewVerifier(mi.Info.Pieces)

	var verified, failed []int
	s.SetEventHandler(func(ev Event) {
		switch ev.Kind {
		case PieceVerified:
			verified = append(verified, ev.Piece)
		case PieceFailed:
			failed = append(failed, ev.Piece)
		}
	})

	require.NoError(t, s.VerifyOnStart(verifier))
	require.Contains(t, verified, 0)
	require.Contains(t, failed, 1)
	require.False(t, s.HasPiece(1))
	_ = h2
}

func TestReadCacheServesWithoutRereadingDisk(t *testing.T) {
	dir := t.TempDir()
	mi := buildMetaInfo(t, 8, nil, 8)
	s, err := Open(Config{}, dir, mi)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WritePiece(0, []byte("cacheme!")))

	// Remove the backing file; a cache hit should still succeed.
	require.NoError(t, os.Remove(filepath.Join(dir, "testtorrent")))

	data, err := s.ReadPiece(0)
	require.NoError(t, err)
	require.Equal(t, []byte("cacheme!"), data)
}
