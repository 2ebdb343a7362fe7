// Package piece tracks per-piece and per-block completion state and verifies
// completed pieces against their expected SHA-1 digests.
package piece

import (
	"sync"

	"github.com/dstore-labs/swarmd/internal/bitfield"
)

// BlockSize is the standard peer-wire block size: 16 KiB.
const BlockSize = 16 * 1024

// State is the lifecycle of a single piece.
type State int

// Piece states.
const (
	Missing State = iota
	Partial
	Complete
	Failed
)

// BlockState is the lifecycle of a single block within a piece.
type BlockState int

// Block states.
const (
	BlockMissing BlockState = iota
	BlockRequested
	BlockReceived
)

type piece struct {
	mu     sync.Mutex
	state  State
	length int64
	blocks []BlockState
	buf    []byte // lazily allocated on first block write
}

func numBlocks(length int64) int {
	return int((length + BlockSize - 1) / BlockSize)
}

// BlockLength returns the length of block bi within a piece of the given
// total length.
func BlockLength(pieceLength int64, bi int) int64 {
	start := int64(bi) * BlockSize
	if start >= pieceLength {
		return 0
	}
	end := start + BlockSize
	if end > pieceLength {
		end = pieceLength
	}
	return end - start
}

// Map owns the per-piece state array and its bitfield mirror for one
// torrent. It is safe for concurrent use.
type Map struct {
	mu       sync.RWMutex
	pieces   []*piece
	complete *bitfield.Bitfield
}

// NewMap creates a Map for a torrent with the given piece lengths (the last
// entry may be shorter than the rest).
func NewMap(pieceLengths []int64) *Map {
	pieces := make([]*piece, len(pieceLengths))
	for i, l := range pieceLengths {
		pieces[i] = &piece{
			state:  Missing,
			length: l,
			blocks: make([]BlockState, numBlocks(l)),
		}
	}
	return &Map{
		pieces:   pieces,
		complete: bitfield.New(len(pieceLengths)),
	}
}

// NumPieces returns the number of pieces in the torrent.
func (m *Map) NumPieces() int {
	return len(m.pieces)
}

func (m *Map) piece(i int) *piece {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pieces[i]
}

// State returns the state of piece i.
func (m *Map) State(i int) State {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// NumBlocks returns the number of blocks in piece i.
func (m *Map) NumBlocks(i int) int {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// BlockState returns the state of block bi of piece i.
func (m *Map) BlockState(i, bi int) BlockState {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocks[bi]
}

// SetBlockState sets the state of block bi of piece i, promoting the piece
// to Partial the first time a block leaves Missing.
func (m *Map) SetBlockState(i, bi int, s BlockState) {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blocks[bi] = s
	if p.state == Missing && s != BlockMissing {
		p.state = Partial
	}
}

// WriteBlock copies data into the piece's in-memory buffer at offset begin,
// allocating the buffer on first use.
func (m *Map) WriteBlock(i int, begin int, data []byte) {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf == nil {
		p.buf = make([]byte, p.length)
	}
	copy(p.buf[begin:], data)
}

// AllBlocksReceived reports whether every block of piece i is BlockReceived.
func (m *Map) AllBlocksReceived(i int) bool {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.blocks {
		if s != BlockReceived {
			return false
		}
	}
	return true
}

// Bytes returns the in-memory bytes assembled for piece i so far.
func (m *Map) Bytes(i int) []byte {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}

// MarkComplete transitions piece i to Complete, sets its bitfield bit, and
// releases the cached buffer.
func (m *Map) MarkComplete(i int) {
	p := m.piece(i)
	p.mu.Lock()
	p.state = Complete
	p.buf = nil
	p.mu.Unlock()
	m.complete.Set(i)
}

// MarkFailed resets piece i to Missing, clearing all block state and any
// cached bytes, so it can be re-downloaded.
func (m *Map) MarkFailed(i int) {
	p := m.piece(i)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Missing
	p.buf = nil
	for j := range p.blocks {
		p.blocks[j] = BlockMissing
	}
	m.complete.Clear(i)
}

// InProgress returns the indices of all pieces currently in Partial state.
func (m *Map) InProgress() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for i, p := range m.pieces {
		p.mu.Lock()
		if p.state == Partial {
			out = append(out, i)
		}
		p.mu.Unlock()
	}
	return out
}

// Bitfield returns the completion bitfield. Callers must not mutate it.
func (m *Map) Bitfield() *bitfield.Bitfield {
	return m.complete
}

// CompletedCount returns the number of pieces in the Complete state.
func (m *Map) CompletedCount() int {
	return m.complete.Count()
}

// Progress returns completed/total.
func (m *Map) Progress() float64 {
	if len(m.pieces) == 0 {
		return 1
	}
	return float64(m.CompletedCount()) / float64(len(m.pieces))
}
