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

// Package session binds one torrent's metainfo, piece state, disk layer,
// peer connections, and tracker schedule into the single orchestrating
// object the engine manages. It plays the role kraken's
// lib/torrent/scheduler.Torrent (minus kraken's agent-to-origin pull model)
// plays for a single torrent's lifecycle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/availability"
	"github.com/dstore-labs/swarmd/internal/bandwidth"
	"github.com/dstore-labs/swarmd/internal/bitfield"
	"github.com/dstore-labs/swarmd/internal/connection"
	"github.com/dstore-labs/swarmd/internal/disk"
	"github.com/dstore-labs/swarmd/internal/peer"
	"github.com/dstore-labs/swarmd/internal/peerconn"
	"github.com/dstore-labs/swarmd/internal/piece"
	"github.com/dstore-labs/swarmd/internal/piecemgr"
	"github.com/dstore-labs/swarmd/internal/tracker"
	"github.com/dstore-labs/swarmd/internal/wire"
)

// activeConn is a Session's bookkeeping for one live peer connection.
type activeConn struct {
	conn *connection.Conn
	peer *peer.Peer
}

// Session manages a single torrent's download/upload lifecycle.
type Session struct {
	mu sync.Mutex

	config   Config
	mi       *core.MetaInfo
	localID  core.PeerID
	clk      clock.Clock
	logger   *zap.SugaredLogger

	disk     *disk.Store
	pieces   *piece.Map
	verifier *piece.Verifier
	avail    *availability.Tracker
	reqMgr   *piecemgr.Manager
	peerMgr  *peerconn.Manager
	trackers *tracker.Coordinator
	bw       *bandwidth.Limiter

	conns map[core.PeerID]*activeConn

	// pieceRetries counts failed verification attempts per piece.
	pieceRetries map[int]int
	// pieceContributors tracks, per piece currently being assembled, which
	// peers (by PeerID.String()) supplied a block for it since the last
	// verification attempt. Cleared on both success and failure.
	pieceContributors map[int]map[string]bool
	// badPeers records, per piece, which peers contributed to a prior
	// hash-mismatch on it, so fillRequests can avoid re-requesting that
	// piece from the same peer.
	badPeers       map[int]map[string]bool
	endgameStarted bool

	state        State
	downloadPath string
	uploaded     int64
	downloaded   int64

	onEvent  func(Event)
	onPeers  func([]tracker.PeerInfo)
	resumeBF *bitfield.Bitfield

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Session for mi. Start must be called before it does any
// I/O.
func New(config Config, mi *core.MetaInfo, downloadPath string, localID core.PeerID, tiers []tracker.Tier, clk clock.Clock, logger *zap.SugaredLogger) (*Session, error) {
	config = config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	reqMgr, err := piecemgr.New(config.PieceMgr, clk)
	if err != nil {
		return nil, fmt.Errorf("session: new piece manager: %s", err)
	}

	s := &Session{
		config:       config,
		mi:           mi,
		localID:      localID,
		clk:          clk,
		logger:       logger,
		pieces:       piece.NewMap(mi.PieceLengths()),
		verifier:     piece.NewVerifier(mi.PieceHashes()),
		avail:        availability.New(mi.NumPieces()),
		reqMgr:       reqMgr,
		peerMgr:      peerconn.New(config.PeerConn, clk),
		trackers:     tracker.NewCoordinator(localID, clk),
		bw:           bandwidth.NewLimiter(config.Bandwidth),
		conns:             make(map[core.PeerID]*activeConn),
		pieceRetries:      make(map[int]int),
		pieceContributors: make(map[int]map[string]bool),
		badPeers:          make(map[int]map[string]bool),
		state:             StateIdle,
		downloadPath:      downloadPath,
		stopCh:            make(chan struct{}),
	}
	s.trackers.AddTorrent(mi.InfoHash(), tiers)
	return s, nil
}

// SetEventHandler installs the callback invoked for every Session event. Must
// be called before Start.
func (s *Session) SetEventHandler(f func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = f
}

// SetPeerDiscoveryHandler installs the callback invoked with the peers
// returned by each tracker announce, letting the engine decide how to dial
// them. Must be called before Start.
func (s *Session) SetPeerDiscoveryHandler(f func([]tracker.PeerInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeers = f
}

// SetResumeBitfield seeds the disk layer with a previously persisted
// completion bitfield, so Start does not treat a resumed torrent as empty.
// Must be called before Start.
func (s *Session) SetResumeBitfield(bf *bitfield.Bitfield) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeBF = bf
}

func (s *Session) emit(ev Event) {
	ev.InfoHash = s.mi.InfoHash()
	s.mu.Lock()
	f := s.onEvent
	s.mu.Unlock()
	if f != nil {
		f(ev)
	}
}

// InfoHash returns this session's torrent info hash.
func (s *Session) InfoHash() core.InfoHash {
	return s.mi.InfoHash()
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the disk layer, optionally verifies existing data, seeds the
// piece map, and announces the started event to all trackers.
func (s *Session) Start(ctx context.Context) error {
	store, err := disk.Open(s.config.Disk, s.downloadPath, s.mi)
	if err != nil {
		return fmt.Errorf("session: open disk: %s", err)
	}
	s.disk = store
	s.disk.SetEventHandler(s.handleDiskEvent)

	if s.resumeBF != nil {
		s.disk.SeedBitfield(s.resumeBF)
	}

	if s.config.VerifyOnStart {
		if err := s.disk.VerifyOnStart(s.verifier); err != nil {
			return fmt.Errorf("session: verify on start: %s", err)
		}
	}

	s.disk.Bitfield().Each(func(i int) bool {
		s.pieces.MarkComplete(i)
		return true
	})

	s.mu.Lock()
	s.state = StateRunning
	if s.pieces.CompletedCount() == s.pieces.NumPieces() {
		s.state = StateSeeding
	}
	s.mu.Unlock()

	go s.announce(ctx, tracker.EventStarted)
	go s.progressTicker()
	go s.staleSweepTicker()
	return nil
}

// AddPeer registers an already-handshaken connection for this torrent.
// The Session takes ownership: it starts the connection's loops, begins
// pumping its messages, and will clean it up when the connection closes.
func (s *Session) AddPeer(conn *connection.Conn, ip string, port int) {
	p := peer.New(conn.PeerID(), ip, port, s.pieces.NumPieces())

	s.mu.Lock()
	s.conns[conn.PeerID()] = &activeConn{conn: conn, peer: p}
	s.mu.Unlock()

	conn.Start()
	go s.pump(conn, p)

	// No choke algorithm is implemented: every peer is unchoked and we
	// declare interest unconditionally, so block flow is governed purely
	// by availability and the piece manager's pipeline quota.
	p.AmChoking = false
	p.AmInterested = true
	conn.Send(wire.BitfieldMessage(s.pieces.Bitfield().Bytes()))
	conn.Send(&wire.Message{ID: wire.Unchoke})
	conn.Send(&wire.Message{ID: wire.Interested})

	s.emit(Event{Kind: PeerConnected, PeerID: conn.PeerID()})
}

// ConnClosed implements connection.Events, invoked when a peer connection
// finishes its shutdown sequence.
func (s *Session) ConnClosed(c *connection.Conn) {
	s.mu.Lock()
	delete(s.conns, c.PeerID())
	s.mu.Unlock()

	s.avail.RemovePeer(c.PeerID().String())
	s.reqMgr.ClearPeer(c.PeerID().String())

	s.emit(Event{Kind: PeerDisconnected, PeerID: c.PeerID()})
}

func (s *Session) pump(conn *connection.Conn, p *peer.Peer) {
	for msg := range conn.Receiver() {
		if err := s.handleMessage(conn, p, msg); err != nil {
			s.logger.Infof("session: protocol error from %s: %s, closing", conn.PeerID(), err)
			conn.Close()
			return
		}
	}
}

func (s *Session) handleMessage(conn *connection.Conn, p *peer.Peer, msg *wire.Message) error {
	if msg.KeepAlive {
		return nil
	}
	switch msg.ID {
	case wire.Choke:
		p.PeerChoking = true
	case wire.Unchoke:
		p.PeerChoking = false
		s.fillRequests(conn, p)
	case wire.Interested:
		p.PeerInterested = true
	case wire.NotInterested:
		p.PeerInterested = false
	case wire.Have:
		i, err := wire.DecodeHave(msg)
		if err != nil {
			return err
		}
		p.Have(int(i))
		s.avail.Have(p.ID.String(), int(i))
		s.fillRequests(conn, p)
	case wire.Bitfield:
		bf := bitfield.FromBytes(msg.Payload, s.pieces.NumPieces())
		p.SetBitfield(bf)
		s.avail.AddPeer(p.ID.String(), bf)
		s.fillRequests(conn, p)
	case wire.Request:
		return s.serveRequest(conn, p, msg)
	case wire.Cancel:
		// Best-effort protocol: in-flight replies are not tracked for
		// cancellation, matching the small reply buffer's natural
		// turnaround time.
	case wire.Piece:
		return s.handlePieceBlock(conn, p, msg)
	case wire.Extended:
		// Extension protocol messages (ut_pex, ut_metadata) are handled by
		// the extension layer, which installs its own receiver when wired
		// into a connection; a bare session ignores them.
	}
	return nil
}

func (s *Session) serveRequest(conn *connection.Conn, p *peer.Peer, msg *wire.Message) error {
	if p.AmChoking {
		return nil
	}
	req, err := wire.DecodeBlockRequest(msg)
	if err != nil {
		return err
	}
	data, err := s.disk.ReadBlock(int(req.Index), int64(req.Begin), int64(req.Length))
	if err != nil {
		s.logger.Infof("session: read block for %s failed: %s", conn.PeerID(), err)
		return nil
	}
	p.RecordOut(int64(len(data)))
	return conn.Send(wire.PieceMessage(wire.PieceBlock{Index: req.Index, Begin: req.Begin, Data: data}))
}

func (s *Session) handlePieceBlock(conn *connection.Conn, p *peer.Peer, msg *wire.Message) error {
	blk, err := wire.DecodePieceBlock(msg)
	if err != nil {
		return err
	}
	pieceIdx, begin := int(blk.Index), int(blk.Begin)
	bi := begin / piece.BlockSize

	s.reqMgr.MarkReceived(p.ID.String(), piecemgr.BlockKey{Piece: pieceIdx, Block: bi})
	s.pieces.WriteBlock(pieceIdx, begin, blk.Data)
	s.pieces.SetBlockState(pieceIdx, bi, piece.BlockReceived)
	p.RecordIn(int64(len(blk.Data)))
	s.downloaded += int64(len(blk.Data))

	s.mu.Lock()
	if s.pieceContributors[pieceIdx] == nil {
		s.pieceContributors[pieceIdx] = make(map[string]bool)
	}
	s.pieceContributors[pieceIdx][p.ID.String()] = true
	s.mu.Unlock()

	if s.pieces.AllBlocksReceived(pieceIdx) {
		s.completePiece(pieceIdx)
	}
	s.fillRequests(conn, p)
	return nil
}

func (s *Session) completePiece(i int) {
	data := s.pieces.Bytes(i)
	ok, expected, actual, err := s.verifier.VerifyDetailed(i, data)
	if err != nil || !ok {
		s.failPieceVerification(i, expected, actual)
		return
	}
	if err := s.disk.WritePiece(i, data); err != nil {
		s.logger.Errorf("session: write piece %d: %s", i, err)
		s.pieces.MarkFailed(i)
		s.reqMgr.ClearPiece(i)
		return
	}
	s.pieces.MarkComplete(i)
	s.reqMgr.ClearPiece(i)
	s.clearContributors(i)
	s.broadcastHave(i)
	s.emit(Event{Kind: PieceCompleted, Piece: i})

	if s.pieces.CompletedCount() == s.pieces.NumPieces() {
		s.onDownloadComplete()
	}
}

// failPieceVerification handles a hash-mismatch outcome for piece i: it
// requeues the piece, bumps its retry count, bans every peer that
// contributed a block to this attempt from being re-requested for it, and
// emits PieceFailed (and PieceGaveUp once the retry budget is exhausted).
func (s *Session) failPieceVerification(i int, expected, actual [20]byte) {
	s.pieces.MarkFailed(i)
	s.reqMgr.ClearPiece(i)

	s.mu.Lock()
	s.pieceRetries[i]++
	retries := s.pieceRetries[i]
	for peerID := range s.pieceContributors[i] {
		if s.badPeers[i] == nil {
			s.badPeers[i] = make(map[string]bool)
		}
		s.badPeers[i][peerID] = true
	}
	delete(s.pieceContributors, i)
	s.mu.Unlock()

	s.emit(Event{Kind: PieceFailed, Piece: i, Expected: expected, Actual: actual, RetryCount: retries})

	if retries >= s.reqMgr.MaxRetries() {
		s.emit(Event{Kind: PieceGaveUp, Piece: i, RetryCount: retries})
	}
}

func (s *Session) clearContributors(i int) {
	s.mu.Lock()
	delete(s.pieceContributors, i)
	s.mu.Unlock()
}

func (s *Session) onDownloadComplete() {
	s.mu.Lock()
	s.state = StateSeeding
	s.mu.Unlock()
	go s.announce(context.Background(), tracker.EventCompleted)
	s.emit(Event{Kind: DownloadCompleted})
}

func (s *Session) broadcastHave(i int) {
	s.mu.Lock()
	conns := make([]*connection.Conn, 0, len(s.conns))
	for _, ac := range s.conns {
		conns = append(conns, ac.conn)
	}
	s.mu.Unlock()

	have := wire.HaveMessage(uint32(i))
	for _, c := range conns {
		c.Send(have)
	}
}

// fillRequests tops up conn's in-flight block requests up to its pipeline
// quota, picking rarest-first among the pieces conn's peer has that this
// session still needs.
func (s *Session) fillRequests(conn *connection.Conn, p *peer.Peer) {
	if p.PeerChoking {
		return
	}
	bf := p.Bitfield()
	if bf == nil {
		return
	}

	peerID := p.ID.String()
	candidates := bitset.New(uint(s.pieces.NumPieces()))
	for i := 0; i < s.pieces.NumPieces(); i++ {
		if !bf.Has(i) || s.pieces.State(i) == piece.Complete {
			continue
		}
		s.mu.Lock()
		bad := s.badPeers[i][peerID]
		s.mu.Unlock()
		if bad {
			continue
		}
		candidates.Set(uint(i))
	}
	if candidates.Count() == 0 {
		return
	}

	total := s.pieces.NumPieces()
	missing := total - s.pieces.CompletedCount()
	endgame := s.reqMgr.InEndgame(missing, total)
	if endgame {
		s.mu.Lock()
		first := !s.endgameStarted
		if first {
			s.endgameStarted = true
		}
		s.mu.Unlock()
		if first {
			var missingPieces []int
			for i := 0; i < total; i++ {
				if s.pieces.State(i) != piece.Complete {
					missingPieces = append(missingPieces, i)
				}
			}
			s.emit(Event{Kind: EndgameStarted, Missing: missingPieces})
		}
	}

	keys := s.reqMgr.ReserveBlocks(
		p.ID.String(),
		candidates,
		s.avail.Counts(),
		func(pieceIdx int) int { return s.pieces.NumBlocks(pieceIdx) },
		func(pieceIdx, block int) bool { return s.pieces.BlockState(pieceIdx, block) != piece.BlockReceived },
		endgame,
	)
	for _, k := range keys {
		length := piece.BlockLength(s.mi.PieceLengthAt(k.Piece), k.Block)
		conn.Send(wire.RequestMessage(wire.BlockRequest{
			Index:  uint32(k.Piece),
			Begin:  uint32(k.Block * piece.BlockSize),
			Length: uint32(length),
		}))
	}
}

func (s *Session) handleDiskEvent(ev disk.Event) {
	switch ev.Kind {
	case disk.PieceVerified:
		s.pieces.MarkComplete(ev.Piece)
	case disk.PieceFailed:
		s.pieces.MarkFailed(ev.Piece)
	}
}

func (s *Session) announce(ctx context.Context, event tracker.Event) {
	req := tracker.AnnounceRequest{
		InfoHash:   s.mi.InfoHash(),
		PeerID:     s.localID,
		Uploaded:   s.uploaded,
		Downloaded: s.downloaded,
		Left:       s.bytesLeft(),
		Event:      event,
		NumWant:    50,
	}
	result, err := s.trackers.Announce(ctx, s.mi.InfoHash(), req, event)
	if err != nil {
		s.emit(Event{Kind: SessionError, Err: err})
		return
	}
	if result == nil || len(result.Peers) == 0 {
		return
	}
	s.mu.Lock()
	f := s.onPeers
	s.mu.Unlock()
	if f != nil {
		f(result.Peers)
	}
}

func (s *Session) bytesLeft() int64 {
	total := s.mi.Info.Length
	have := int64(0)
	for i := 0; i < s.pieces.NumPieces(); i++ {
		if s.pieces.State(i) == piece.Complete {
			have += s.mi.PieceLengthAt(i)
		}
	}
	left := total - have
	if left < 0 {
		left = 0
	}
	return left
}

// Pause announces a stopped event, disconnects every peer, but retains all
// on-disk data so the session can be resumed later.
func (s *Session) Pause(ctx context.Context) error {
	s.announce(ctx, tracker.EventStopped)
	s.disconnectAll()
	s.mu.Lock()
	s.state = StatePaused
	s.mu.Unlock()
	return nil
}

// Resume reopens peer activity for a paused session.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateRunning
	if s.pieces.CompletedCount() == s.pieces.NumPieces() {
		s.state = StateSeeding
	}
	s.mu.Unlock()
	go s.announce(ctx, tracker.EventStarted)
	return nil
}

// Remove stops the session permanently and optionally deletes its on-disk
// data.
func (s *Session) Remove(ctx context.Context, deleteFiles bool) error {
	s.Stop(ctx)
	if deleteFiles && s.disk != nil {
		return s.disk.Delete()
	}
	return nil
}

// Stop tears the session down: announces stopped (bounded by the
// coordinator's own shutdown timeout), disconnects every peer, and closes
// the disk layer.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.announce(ctx, tracker.EventStopped)
		s.trackers.RemoveTorrent(s.mi.InfoHash())
		s.disconnectAll()
		if s.disk != nil {
			s.disk.Close()
		}
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
	})
}

func (s *Session) disconnectAll() {
	s.mu.Lock()
	conns := make([]*connection.Conn, 0, len(s.conns))
	for _, ac := range s.conns {
		conns = append(conns, ac.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// Snapshot summarizes this session's current state for RPC consumers.
type Snapshot struct {
	InfoHash   core.InfoHash `json:"infoHash"`
	Name       string        `json:"name"`
	State      State         `json:"state"`
	Progress   float64       `json:"progress"`
	NumPeers   int           `json:"numPeers"`
	Downloaded int64         `json:"downloaded"`
	Uploaded   int64         `json:"uploaded"`
}

// Snapshot returns a point-in-time summary of this session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		InfoHash:   s.mi.InfoHash(),
		Name:       s.mi.Info.Name,
		State:      s.state,
		Progress:   s.pieces.Progress(),
		NumPeers:   len(s.conns),
		Downloaded: s.downloaded,
		Uploaded:   s.uploaded,
	}
}

// Peers returns a snapshot of every currently connected peer.
func (s *Session) Peers() []*peer.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer.Peer, 0, len(s.conns))
	for _, ac := range s.conns {
		out = append(out, ac.peer)
	}
	return out
}

// progressTicker periodically emits a Progress event, letting the engine
// coalesce per-torrent progress updates instead of firing on every block.
func (s *Session) progressTicker() {
	ticker := time.NewTicker(s.config.ProgressPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.emit(Event{Kind: Progress})
		}
	}
}

// staleSweepTicker periodically resets blocks whose requests have outlived
// the piece manager's request timeout, freeing them for re-request so a
// single stalled peer cannot stall a piece indefinitely.
func (s *Session) staleSweepTicker() {
	ticker := s.clk.Ticker(s.reqMgr.RequestTimeout())
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reqMgr.SweepStale()
		}
	}
}

// Bandwidth returns the rate limiter new peer connections for this torrent
// should share.
func (s *Session) Bandwidth() *bandwidth.Limiter {
	return s.bw
}

// PeerConnManager returns the dial admission controller the engine consults
// before dialing or accepting a peer for this torrent.
func (s *Session) PeerConnManager() *peerconn.Manager {
	return s.peerMgr
}

// LocalPeerID returns this engine's own peer id, as sent in handshakes.
func (s *Session) LocalPeerID() core.PeerID {
	return s.localID
}

// MetaInfo returns the torrent's parsed metainfo.
func (s *Session) MetaInfo() *core.MetaInfo {
	return s.mi
}

// ConnConfig returns the connection configuration new peer Conns for this
// torrent should be constructed with.
func (s *Session) ConnConfig() connection.Config {
	return s.config.Connection
}

// DiskBitfield returns the durable completion bitfield this session has
// written so far, for persisting resume state. Returns nil before Start.
func (s *Session) DiskBitfield() *bitfield.Bitfield {
	s.mu.Lock()
	d := s.disk
	s.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Bitfield()
}

// DownloadPath returns the directory this session's torrent is being
// downloaded into.
func (s *Session) DownloadPath() string {
	return s.downloadPath
}
