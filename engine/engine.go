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

// Package engine owns every torrent this process is serving: it maps
// info-hash to session.Session, runs the inbound listener and outbound
// dialer that connect tracker-discovered peers into the right session, and
// aggregates per-session events into the stream the daemon RPC layer pushes
// to clients. It plays the role kraken's torrent/scheduler.Scheduler plays
// for kraken's single origin-pull torrent, generalized to many concurrently
// managed torrents.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bitfield"
	"github.com/dstore-labs/swarmd/internal/config"
	"github.com/dstore-labs/swarmd/internal/connection"
	"github.com/dstore-labs/swarmd/internal/localstore"
	"github.com/dstore-labs/swarmd/internal/metrics"
	"github.com/dstore-labs/swarmd/internal/peer"
	"github.com/dstore-labs/swarmd/internal/tracker"
	"github.com/dstore-labs/swarmd/session"
)

// Engine errors.
var (
	ErrTorrentNotFound           = errors.New("engine: torrent not found")
	ErrTorrentAlreadyAdded       = errors.New("engine: torrent already added")
	ErrMagnetMetadataUnsupported = errors.New("engine: magnet metadata exchange is not implemented")
)

type torrentEntry struct {
	sess    *session.Session
	rawMeta []byte
}

// Engine manages every torrent this process is serving.
type Engine struct {
	mu sync.Mutex

	cfg       Config
	daemonCfg config.Config
	localID   core.PeerID
	clk       clock.Clock
	logger    *zap.SugaredLogger
	scope     tally.Scope
	closer    io.Closer
	store     *localstore.Store

	listener net.Listener

	torrents map[core.InfoHash]*torrentEntry

	onEvent   func(Event)
	startedAt time.Time
	running   bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs an Engine. Start must be called before it accepts
// connections or resumes persisted torrents.
func New(daemonCfg config.Config, engCfg Config, clk clock.Clock, logger *zap.SugaredLogger) (*Engine, error) {
	engCfg = engCfg.applyDefaults()
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	store, err := localstore.Open(daemonCfg.LocalStore)
	if err != nil {
		return nil, fmt.Errorf("engine: open local store: %s", err)
	}

	scope, closer, err := metrics.New(daemonCfg.Metrics, "engine")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: metrics: %s", err)
	}

	localID, err := daemonCfg.PeerIDFactory.GeneratePeerID("0.0.0.0", daemonCfg.ListenPort)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: generate local peer id: %s", err)
	}

	return &Engine{
		cfg:       engCfg,
		daemonCfg: daemonCfg,
		localID:   localID,
		clk:       clk,
		logger:    logger,
		scope:     scope,
		closer:    closer,
		store:     store,
		torrents:  make(map[core.InfoHash]*torrentEntry),
		stopCh:    make(chan struct{}),
	}, nil
}

// SetEventHandler installs the callback invoked for every aggregate engine
// event. Must be called before Start.
func (e *Engine) SetEventHandler(f func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = f
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = e.clk.Now()
	e.mu.Lock()
	f := e.onEvent
	e.mu.Unlock()
	if f != nil {
		f(ev)
	}
}

// LocalPeerID returns this engine's own peer id.
func (e *Engine) LocalPeerID() core.PeerID {
	return e.localID
}

// Start opens the inbound listener, begins accepting peer connections, and
// resumes any torrents persisted from a previous run.
func (e *Engine) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", e.daemonCfg.ListenPort))
	if err != nil {
		return fmt.Errorf("engine: listen: %s", err)
	}

	e.mu.Lock()
	e.listener = l
	e.startedAt = e.clk.Now()
	e.running = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.acceptLoop()

	if err := e.resumePersistedTorrents(); err != nil {
		e.logger.Errorf("engine: resume persisted torrents: %s", err)
	}

	e.emit(Event{Kind: EngineStarted})
	return nil
}

func (e *Engine) resumePersistedTorrents() error {
	rows, err := e.store.LoadResumeState()
	if err != nil {
		return err
	}
	for _, row := range rows {
		mi, err := core.ParseMetaInfo(row.MetaInfo)
		if err != nil {
			e.logger.Warnf("engine: skipping unparsable resume entry %s: %s", row.InfoHash, err)
			continue
		}
		var bf *bitfield.Bitfield
		if len(row.Bitfield) > 0 {
			bf = bitfield.FromBytes(row.Bitfield, mi.NumPieces())
		}
		if _, err := e.addTorrent(mi, row.MetaInfo, row.DownloadPath, true, bf); err != nil {
			e.logger.Errorf("engine: resuming %s: %s", row.InfoHash, err)
		}
	}
	return nil
}

// Shutdown stops the inbound listener, stops every session, flushes the
// local store, and emits engine:stopped. Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		e.running = false
		entries := make([]*torrentEntry, 0, len(e.torrents))
		for _, te := range e.torrents {
			entries = append(entries, te)
		}
		listener := e.listener
		e.mu.Unlock()

		close(e.stopCh)
		if listener != nil {
			listener.Close()
		}
		var g errgroup.Group
		for _, te := range entries {
			te := te
			g.Go(func() error {
				te.sess.PeerConnManager().Stop()
				te.sess.Stop(ctx)
				return nil
			})
		}
		g.Wait()
		e.wg.Wait()

		if e.closer != nil {
			e.closer.Close()
		}
		if e.store != nil {
			e.store.Close()
		}
		e.emit(Event{Kind: EngineStopped})
	})
}

func (e *Engine) acceptLoop() {
	defer e.wg.Done()
	for {
		nc, err := e.listener.Accept()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				e.logger.Infof("engine: accept error, exiting listen loop: %s", err)
				return
			}
		}
		go e.handleInbound(nc)
	}
}

// handleInbound performs the listening-side handshake for a freshly
// accepted connection, looking up the session for whatever info hash the
// remote requests before replying.
func (e *Engine) handleInbound(nc net.Conn) {
	host, portStr, err := net.SplitHostPort(nc.RemoteAddr().String())
	if err != nil {
		nc.Close()
		return
	}
	port, _ := strconv.Atoi(portStr)

	var sess *session.Session
	reserved := false
	known := func(h core.InfoHash) bool {
		e.mu.Lock()
		te, ok := e.torrents[h]
		e.mu.Unlock()
		if !ok {
			return false
		}
		if te.sess.PeerConnManager().Banned(host, port) {
			return false
		}
		if err := te.sess.PeerConnManager().Dial(h, host, port); err != nil {
			return false
		}
		sess = te.sess
		reserved = true
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.HandshakeTimeout)
	defer cancel()
	hs, err := connection.Accept(ctx, nc, e.localID, e.cfg.HandshakeTimeout, known)
	if err != nil {
		if reserved {
			sess.PeerConnManager().AbortDial(sess.InfoHash(), host, port)
		}
		nc.Close()
		return
	}

	remoteID := core.PeerID(hs.PeerID)
	sess.PeerConnManager().CompleteDial(sess.InfoHash(), host, port, remoteID)
	conn := connection.New(sess.ConnConfig(), nc, sess.Bandwidth(), sess, sess.InfoHash(), remoteID, true, e.logger)
	sess.AddPeer(conn, host, port)
}

// dialPeers attempts to dial newly discovered peers for h, bounded by
// MaxDialsPerTick so one large tracker response cannot flood the dialer.
func (e *Engine) dialPeers(h core.InfoHash, peers []tracker.PeerInfo) {
	e.mu.Lock()
	te, ok := e.torrents[h]
	e.mu.Unlock()
	if !ok {
		return
	}

	dialed := 0
	for _, p := range peers {
		if dialed >= e.cfg.MaxDialsPerTick {
			break
		}
		ip := p.IP.String()
		if err := te.sess.PeerConnManager().Dial(h, ip, p.Port); err != nil {
			continue
		}
		dialed++
		go e.dialOne(te.sess, ip, p.Port)
	}
}

func (e *Engine) dialOne(sess *session.Session, ip string, port int) {
	h := sess.InfoHash()
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		sess.PeerConnManager().AbortDial(h, ip, port)
		return
	}

	hs, err := connection.Handshake(ctx, nc, h, sess.LocalPeerID(), e.cfg.HandshakeTimeout)
	if err != nil {
		nc.Close()
		sess.PeerConnManager().AbortDial(h, ip, port)
		return
	}

	remoteID := core.PeerID(hs.PeerID)
	sess.PeerConnManager().CompleteDial(h, ip, port, remoteID)
	conn := connection.New(sess.ConnConfig(), nc, sess.Bandwidth(), sess, h, remoteID, false, e.logger)
	sess.AddPeer(conn, ip, port)
}

func (e *Engine) sessionConfig() session.Config {
	return session.Config{
		VerifyOnStart: e.daemonCfg.VerifyOnStart,
		PieceMgr:      e.daemonCfg.PieceMgr,
		PeerConn:      e.daemonCfg.PeerConn,
		Bandwidth:     e.daemonCfg.Bandwidth,
		Disk:          e.daemonCfg.Disk,
	}
}

func tiersFromMetaInfo(mi *core.MetaInfo) []tracker.Tier {
	var tiers []tracker.Tier
	if len(mi.AnnounceList) > 0 {
		for _, tier := range mi.AnnounceList {
			if len(tier) > 0 {
				tiers = append(tiers, tracker.Tier(tier))
			}
		}
		return tiers
	}
	if mi.Announce != "" {
		tiers = append(tiers, tracker.Tier{mi.Announce})
	}
	return tiers
}

// AddTorrent parses a .torrent file at source and creates a session for it.
// Magnet sources are rejected: ut_metadata exchange is not implemented, so
// a magnet link alone never yields the piece hashes a session requires.
func (e *Engine) AddTorrent(source, downloadPath string, startImmediately bool) (session.Snapshot, error) {
	if strings.HasPrefix(source, "magnet:") {
		return session.Snapshot{}, ErrMagnetMetadataUnsupported
	}
	raw, err := os.ReadFile(source)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("engine: read torrent file: %s", err)
	}
	mi, err := core.ParseMetaInfo(raw)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("engine: parse metainfo: %s", err)
	}
	if downloadPath == "" {
		downloadPath = filepath.Join(e.daemonCfg.DownloadDir, mi.Info.Name)
	}
	return e.addTorrent(mi, raw, downloadPath, startImmediately, nil)
}

func (e *Engine) addTorrent(mi *core.MetaInfo, raw []byte, downloadPath string, start bool, resumeBF *bitfield.Bitfield) (session.Snapshot, error) {
	h := mi.InfoHash()

	e.mu.Lock()
	if _, ok := e.torrents[h]; ok {
		e.mu.Unlock()
		return session.Snapshot{}, ErrTorrentAlreadyAdded
	}
	e.mu.Unlock()

	sess, err := session.New(e.sessionConfig(), mi, downloadPath, e.localID, tiersFromMetaInfo(mi), e.clk, e.logger)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("engine: new session: %s", err)
	}
	sess.SetEventHandler(func(ev session.Event) { e.handleSessionEvent(h, ev) })
	sess.SetPeerDiscoveryHandler(func(peers []tracker.PeerInfo) { e.dialPeers(h, peers) })
	if resumeBF != nil {
		sess.SetResumeBitfield(resumeBF)
	}

	e.mu.Lock()
	e.torrents[h] = &torrentEntry{sess: sess, rawMeta: raw}
	e.mu.Unlock()

	if err := e.persistResumeState(sess, raw); err != nil {
		e.logger.Warnf("engine: persisting resume state for %s: %s", h, err)
	}

	if start {
		if err := sess.Start(context.Background()); err != nil {
			e.mu.Lock()
			delete(e.torrents, h)
			e.mu.Unlock()
			return session.Snapshot{}, fmt.Errorf("engine: start session: %s", err)
		}
	}

	e.emit(Event{Kind: TorrentAdded, InfoHash: h})
	return sess.Snapshot(), nil
}

func (e *Engine) persistResumeState(sess *session.Session, raw []byte) error {
	var bfBytes []byte
	if bf := sess.DiskBitfield(); bf != nil {
		bfBytes = bf.Bytes()
	}
	return e.store.SaveResumeState(localstore.ResumeState{
		InfoHash:     sess.InfoHash().Hex(),
		MetaInfo:     raw,
		Bitfield:     bfBytes,
		DownloadPath: sess.DownloadPath(),
	})
}

func (e *Engine) handleSessionEvent(h core.InfoHash, ev session.Event) {
	switch ev.Kind {
	case session.PieceCompleted, session.Progress:
		e.mu.Lock()
		te, ok := e.torrents[h]
		e.mu.Unlock()
		if ok {
			if err := e.persistResumeState(te.sess, te.rawMeta); err != nil {
				e.logger.Warnf("engine: persisting resume state for %s: %s", h, err)
			}
		}
		e.emit(Event{Kind: TorrentProgress, InfoHash: h})
	case session.DownloadCompleted:
		e.emit(Event{Kind: TorrentCompleted, InfoHash: h})
	case session.SessionError:
		e.emit(Event{Kind: TorrentError, InfoHash: h, Err: ev.Err})
	}
}

func (e *Engine) sessionFor(h core.InfoHash) (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	te, ok := e.torrents[h]
	if !ok {
		return nil, ErrTorrentNotFound
	}
	return te.sess, nil
}

// RemoveTorrent stops and discards the session for h, optionally deleting
// its on-disk data, and clears its persisted resume state.
func (e *Engine) RemoveTorrent(h core.InfoHash, deleteFiles bool) error {
	e.mu.Lock()
	te, ok := e.torrents[h]
	if ok {
		delete(e.torrents, h)
	}
	e.mu.Unlock()
	if !ok {
		return ErrTorrentNotFound
	}

	if err := te.sess.Remove(context.Background(), deleteFiles); err != nil {
		return err
	}
	if err := e.store.DeleteResumeState(h); err != nil {
		e.logger.Warnf("engine: deleting resume state for %s: %s", h, err)
	}
	e.emit(Event{Kind: TorrentRemoved, InfoHash: h})
	return nil
}

// PauseTorrent disconnects every peer of h but keeps its on-disk data and
// resume state.
func (e *Engine) PauseTorrent(h core.InfoHash) error {
	sess, err := e.sessionFor(h)
	if err != nil {
		return err
	}
	return sess.Pause(context.Background())
}

// ResumeTorrent reopens peer activity for a paused torrent.
func (e *Engine) ResumeTorrent(h core.InfoHash) error {
	sess, err := e.sessionFor(h)
	if err != nil {
		return err
	}
	return sess.Resume(context.Background())
}

// Torrents returns a snapshot of every torrent this engine is managing.
func (e *Engine) Torrents() []session.Snapshot {
	e.mu.Lock()
	entries := make([]*torrentEntry, 0, len(e.torrents))
	for _, te := range e.torrents {
		entries = append(entries, te)
	}
	e.mu.Unlock()

	out := make([]session.Snapshot, 0, len(entries))
	for _, te := range entries {
		out = append(out, te.sess.Snapshot())
	}
	return out
}

// Torrent returns the snapshot for a single torrent, if managed.
func (e *Engine) Torrent(h core.InfoHash) (session.Snapshot, bool) {
	sess, err := e.sessionFor(h)
	if err != nil {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Peers returns the connected peers of a single torrent.
func (e *Engine) Peers(h core.InfoHash) ([]*peer.Peer, error) {
	sess, err := e.sessionFor(h)
	if err != nil {
		return nil, err
	}
	return sess.Peers(), nil
}

func (e *Engine) aggregateRates() (down, up float64) {
	for _, te := range e.snapshotEntries() {
		for _, p := range te.sess.Peers() {
			down += p.DownloadRate()
			up += p.UploadRate()
		}
	}
	return
}

func (e *Engine) snapshotEntries() []*torrentEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*torrentEntry, 0, len(e.torrents))
	for _, te := range e.torrents {
		out = append(out, te)
	}
	return out
}

// Status is a point-in-time summary of the whole engine, for the daemon's
// getStatus RPC.
type Status struct {
	Running      bool          `json:"running"`
	Uptime       time.Duration `json:"uptime"`
	NumTorrents  int           `json:"numTorrents"`
	DownloadRate float64       `json:"downloadRate"`
	UploadRate   float64       `json:"uploadRate"`
}

// Status returns the current engine-wide status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	started := e.startedAt
	n := len(e.torrents)
	e.mu.Unlock()

	down, up := e.aggregateRates()
	var uptime time.Duration
	if running {
		uptime = e.clk.Now().Sub(started)
	}
	return Status{Running: running, Uptime: uptime, NumTorrents: n, DownloadRate: down, UploadRate: up}
}

// Stats is a more detailed engine-wide summary, for the daemon's getStats
// RPC.
type Stats struct {
	NumTorrents     int     `json:"numTorrents"`
	NumPeers        int     `json:"numPeers"`
	TotalDownloaded int64   `json:"totalDownloaded"`
	TotalUploaded   int64   `json:"totalUploaded"`
	DownloadRate    float64 `json:"downloadRate"`
	UploadRate      float64 `json:"uploadRate"`
}

// Stats returns aggregate transfer counters across every managed torrent.
func (e *Engine) Stats() Stats {
	var s Stats
	for _, sn := range e.Torrents() {
		s.NumTorrents++
		s.NumPeers += sn.NumPeers
		s.TotalDownloaded += sn.Downloaded
		s.TotalUploaded += sn.Uploaded
	}
	s.DownloadRate, s.UploadRate = e.aggregateRates()
	return s
}

// GetConfig returns the daemon's current configuration.
func (e *Engine) GetConfig() config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.daemonCfg
}

// UpdateConfig merges partial into the live configuration and returns the
// result. DownloadDir and Logging.Level are taken from partial when
// non-empty, and VerifyOnStart is always taken from partial; every other
// field of partial is ignored.
func (e *Engine) UpdateConfig(partial config.Config) config.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	if partial.DownloadDir != "" {
		e.daemonCfg.DownloadDir = partial.DownloadDir
	}
	if partial.Logging.Level != "" {
		e.daemonCfg.Logging.Level = partial.Logging.Level
	}
	e.daemonCfg.VerifyOnStart = partial.VerifyOnStart
	return e.daemonCfg
}
