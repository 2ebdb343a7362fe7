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

// Package disk implements the torrent disk I/O layer: file allocation for
// single- and multi-file torrents, a bounded write queue, an LRU read
// cache, and resume-time piece verification.
package disk

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bitfield"
	"github.com/dstore-labs/swarmd/internal/piece"
)

// EventKind identifies the kind of a disk-layer event.
type EventKind int

// Disk event kinds.
const (
	PieceWritten EventKind = iota
	PieceVerified
	PieceFailed
	VerificationComplete
)

// Event is emitted by a Store as pieces are written or verified, so a
// Session can broadcast "have" and forward progress without the disk
// layer knowing about peers or RPC.
type Event struct {
	Kind  EventKind
	Piece int
}

// Store owns one torrent's on-disk layout, write queue, and read cache.
type Store struct {
	config Config
	layout *Layout
	mi     *core.MetaInfo

	cache *ReadCache
	queue *writeQueue

	mu        sync.RWMutex
	bitfield  *bitfield.Bitfield
	onEvent   func(Event)
	closeOnce sync.Once
}

// Open allocates (if necessary) every file backing mi under downloadDir and
// returns a ready-to-use Store. Existing files are left untouched.
func Open(config Config, downloadDir string, mi *core.MetaInfo) (*Store, error) {
	config = config.applyDefaults()
	layout := NewLayout(downloadDir, mi)
	if err := layout.Allocate(config.Allocation); err != nil {
		return nil, err
	}

	s := &Store{
		config:   config,
		layout:   layout,
		mi:       mi,
		cache:    NewReadCache(config.Cache),
		bitfield: bitfield.New(mi.NumPieces()),
	}
	s.queue = newWriteQueue(config.WriteQueueSize, s.applyWrite)
	return s, nil
}

// SetEventHandler installs the callback invoked for every disk event. Must
// be called before any write or verify operation begins.
func (s *Store) SetEventHandler(f func(Event)) {
	s.onEvent = f
}

func (s *Store) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// SeedBitfield installs a starting bitfield, e.g. restored from persisted
// resume state before any verification runs.
func (s *Store) SeedBitfield(bf *bitfield.Bitfield) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitfield = bf.Copy()
}

// Bitfield returns a copy of the store's current completion bitfield.
func (s *Store) Bitfield() *bitfield.Bitfield {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitfield.Copy()
}

// HasPiece reports whether piece i is complete on disk.
func (s *Store) HasPiece(i int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitfield.Has(i)
}

// WritePiece validates data's length against piece i's declared length,
// queues the write (blocking if the queue is full), and on success updates
// the bitfield, warms the read cache, and emits PieceWritten.
func (s *Store) WritePiece(i int, data []byte) error {
	expected := s.mi.PieceLengthAt(i)
	if int64(len(data)) != expected {
		return ErrInvalidPieceLength
	}
	if err := s.queue.Submit(i, data); err != nil {
		return err
	}

	s.mu.Lock()
	s.bitfield.Set(i)
	s.mu.Unlock()

	s.cache.Put(i, data)
	s.emit(Event{Kind: PieceWritten, Piece: i})
	return nil
}

// applyWrite is the write queue's worker function: splits piece i's bytes
// across every file span it covers, preserving file order, and writes
// each sub-range at the right offset within its file.
func (s *Store) applyWrite(i int, data []byte) error {
	start, end := s.layout.PieceRange(i)
	var consumed int64
	for _, sp := range s.layout.Spans(start, end-start) {
		chunk := data[consumed : consumed+sp.length]
		if err := writeSpan(sp, chunk); err != nil {
			return err
		}
		consumed += sp.length
	}
	return nil
}

func writeSpan(sp span, chunk []byte) error {
	fh, err := os.OpenFile(sp.path, os.O_WRONLY, 0644)
	if err != nil {
		return &IOError{Path: sp.path, Err: err}
	}
	defer fh.Close()
	if _, err := fh.WriteAt(chunk, sp.offset); err != nil {
		return &IOError{Path: sp.path, Err: err}
	}
	return nil
}

// ReadPiece returns the full bytes of piece i, preferring the read cache.
// Fails with ErrPieceMissing if the piece is not yet complete.
func (s *Store) ReadPiece(i int) ([]byte, error) {
	return s.ReadBlock(i, 0, s.mi.PieceLengthAt(i))
}

// ReadBlock returns length bytes starting at begin within piece i,
// preferring the read cache.
func (s *Store) ReadBlock(i int, begin int64, length int64) ([]byte, error) {
	if !s.HasPiece(i) {
		return nil, ErrPieceMissing
	}
	if data, ok := s.cache.Get(i); ok {
		return copyRange(data, begin, length), nil
	}

	start, _ := s.layout.PieceRange(i)
	data, err := s.readRange(start, s.mi.PieceLengthAt(i))
	if err != nil {
		return nil, err
	}
	s.cache.Put(i, data)
	return copyRange(data, begin, length), nil
}

func copyRange(data []byte, begin, length int64) []byte {
	out := make([]byte, length)
	copy(out, data[begin:begin+length])
	return out
}

// readRange reads length bytes starting at absolute offset start across
// whichever files that range spans.
func (s *Store) readRange(start, length int64) ([]byte, error) {
	out := make([]byte, length)
	var consumed int64
	for _, sp := range s.layout.Spans(start, length) {
		if err := readSpan(sp.path, sp.offset, out[consumed:consumed+sp.length]); err != nil {
			return nil, err
		}
		consumed += sp.length
	}
	return out, nil
}

func readSpan(path string, offset int64, dst []byte) error {
	fh, err := os.Open(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer fh.Close()
	if _, err := fh.ReadAt(dst, offset); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// VerifyOnStart re-hashes every piece whose byte range is fully present
// and replaces the bitfield with the verified result, emitting
// PieceVerified/PieceFailed per piece and VerificationComplete at the end.
func (s *Store) VerifyOnStart(verifier *piece.Verifier) error {
	bf := bitfield.New(s.mi.NumPieces())
	VerifyAll(verifier, func(i int) ([]byte, error) {
		start, _ := s.layout.PieceRange(i)
		return s.readRange(start, s.mi.PieceLengthAt(i))
	}, s.config.VerifyConcurrency, func(ev VerifyEvent) {
		if ev.Err == nil && ev.OK {
			bf.Set(ev.Piece)
			s.emit(Event{Kind: PieceVerified, Piece: ev.Piece})
		} else {
			s.emit(Event{Kind: PieceFailed, Piece: ev.Piece})
		}
	})
	s.mu.Lock()
	s.bitfield = bf
	s.mu.Unlock()
	s.cache.Clear()
	s.emit(Event{Kind: VerificationComplete})
	return nil
}

// Delete removes every file backing the torrent, empty parent directories
// up to (and including) the torrent directory, and clears the bitfield
// and read cache.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.layout.Files() {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return &IOError{Path: f, Err: err}
		}
	}
	if s.mi.Info.IsMultiFile() {
		top := s.layout.TorrentDir()
		for _, f := range s.layout.Files() {
			if err := removeEmptyDirs(filepath.Dir(f), top); err != nil {
				return err
			}
		}
	}
	s.bitfield = bitfield.New(s.mi.NumPieces())
	s.cache.Clear()
	return nil
}

// removeEmptyDirs removes dir and each now-empty parent directory up to and
// including top, stopping at the first non-empty one. Nothing above top is
// removed.
func removeEmptyDirs(dir, top string) error {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return &IOError{Path: dir, Err: err}
		}
		if len(entries) > 0 {
			return nil
		}
		if err := os.Remove(dir); err != nil {
			return &IOError{Path: dir, Err: err}
		}
		if dir == top {
			return nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

// Close stops the write queue, waiting for in-flight writes to finish.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.queue.Close()
	})
}

// Layout exposes the store's file layout, e.g. for reporting disk usage.
func (s *Store) Layout() *Layout {
	return s.layout
}
