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

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dstore-labs/swarmd/engine"
)

// ServerConfig configures the daemon's control-plane listener.
type ServerConfig struct {
	SocketPath string `yaml:"socket_path"`
	PIDFile    string `yaml:"pid_file"`
}

// Server exposes an Engine over the daemon RPC protocol. One Server serves
// every connected client from a single unix socket listener; each accepted
// connection gets its own read loop and shares the connection's codec
// (mutex-guarded) for writing both responses and pushed events.
type Server struct {
	cfg      ServerConfig
	eng      *engine.Engine
	logger   *zap.SugaredLogger
	listener net.Listener

	mu    sync.Mutex
	conns map[*serverConn]struct{}

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

type serverConn struct {
	codec *codec
	nc    net.Conn
}

// NewServer creates a Server bound to eng. Listen starts accepting clients.
func NewServer(cfg ServerConfig, eng *engine.Engine, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		cfg:    cfg,
		eng:    eng,
		logger: logger,
		conns:  make(map[*serverConn]struct{}),
		stopCh: make(chan struct{}),
	}
	eng.SetEventHandler(s.broadcastEngineEvent)
	return s
}

// Listen removes any stale socket file, writes the daemon's PID file, binds
// the unix socket, and starts the accept loop in the background.
func (s *Server) Listen() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rpc: remove stale socket: %s", err)
	}
	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen: %s", err)
	}
	s.listener = l

	if s.cfg.PIDFile != "" {
		if err := os.WriteFile(s.cfg.PIDFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
			l.Close()
			return fmt.Errorf("rpc: write pid file: %s", err)
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Errorf("rpc: accept: %s", err)
				return
			}
		}
		s.wg.Add(1)
		go s.serveConn(nc)
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer s.wg.Done()
	defer nc.Close()

	sc := &serverConn{codec: newCodec(nc), nc: nc}
	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
	}()

	for {
		f, err := sc.codec.readFrame()
		if err != nil {
			if err != io.EOF {
				s.logger.Debugf("rpc: connection read: %s", err)
			}
			return
		}
		if f.Kind != KindRequest {
			continue
		}
		var req RequestEnvelope
		if err := json.Unmarshal(f.Data, &req); err != nil {
			s.logger.Errorf("rpc: decode request: %s", err)
			continue
		}
		shutdown := s.handleRequest(sc, req)
		if shutdown {
			return
		}
	}
}

// handleRequest dispatches one request to the engine and writes its
// response. It returns true if the connection (and, for shutdown, the
// whole server) should now close.
func (s *Server) handleRequest(sc *serverConn, req RequestEnvelope) bool {
	body, err := s.dispatch(req)
	resp := ResponseEnvelope{ID: req.ID, Type: req.Type}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	} else {
		resp.Success = true
		if body != nil {
			raw, merr := json.Marshal(body)
			if merr != nil {
				resp.Success = false
				resp.Error = merr.Error()
			} else {
				resp.Body = raw
			}
		}
	}
	if werr := sc.codec.writeFrame(KindResponse, resp); werr != nil {
		s.logger.Errorf("rpc: write response: %s", werr)
		return true
	}
	if req.Type == TypeShutdown && resp.Success {
		go s.Shutdown(context.Background())
		return true
	}
	return false
}

func (s *Server) dispatch(req RequestEnvelope) (interface{}, error) {
	switch req.Type {
	case TypePing:
		return PingResponse{Timestamp: time.Now()}, nil

	case TypeGetStatus:
		return StatusResponse{Status: s.eng.Status()}, nil

	case TypeGetStats:
		return StatsResponse{Stats: s.eng.Stats()}, nil

	case TypeGetTorrents:
		return GetTorrentsResponse{Torrents: s.eng.Torrents()}, nil

	case TypeGetTorrent:
		var body GetTorrentRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode getTorrent: %s", err)
		}
		snap, ok := s.eng.Torrent(body.InfoHash)
		if !ok {
			return GetTorrentResponse{}, nil
		}
		return GetTorrentResponse{Torrent: &snap}, nil

	case TypeGetPeers:
		var body GetPeersRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode getPeers: %s", err)
		}
		peers, err := s.eng.Peers(body.InfoHash)
		if err != nil {
			return nil, err
		}
		out := make([]PeerSnapshot, len(peers))
		for i, p := range peers {
			out[i] = newPeerSnapshot(p)
		}
		return GetPeersResponse{Peers: out}, nil

	case TypeAddTorrent:
		var body AddTorrentRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode addTorrent: %s", err)
		}
		snap, err := s.eng.AddTorrent(body.Source, body.DownloadPath, body.StartImmediately)
		if err != nil {
			return nil, err
		}
		return AddTorrentResponse{Torrent: snap}, nil

	case TypeRemoveTorrent:
		var body RemoveTorrentRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode removeTorrent: %s", err)
		}
		return nil, s.eng.RemoveTorrent(body.InfoHash, body.DeleteFiles)

	case TypePauseTorrent:
		var body PauseTorrentRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode pauseTorrent: %s", err)
		}
		return nil, s.eng.PauseTorrent(body.InfoHash)

	case TypeResumeTorrent:
		var body ResumeTorrentRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode resumeTorrent: %s", err)
		}
		return nil, s.eng.ResumeTorrent(body.InfoHash)

	case TypeGetConfig:
		return ConfigResponse{Config: s.eng.GetConfig()}, nil

	case TypeUpdateConfig:
		var body UpdateConfigRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			return nil, fmt.Errorf("rpc: decode updateConfig: %s", err)
		}
		return ConfigResponse{Config: s.eng.UpdateConfig(body.Config)}, nil

	case TypeShutdown:
		return nil, nil

	default:
		return nil, fmt.Errorf("rpc: unknown request type %q", req.Type)
	}
}

// broadcastEngineEvent fans out an engine.Event to every connected client
// as an EventEnvelope, translating it to the matching daemon event payload.
func (s *Server) broadcastEngineEvent(ev engine.Event) {
	var body interface{}
	switch ev.Kind {
	case engine.TorrentAdded, engine.TorrentRemoved:
		body = TorrentAddedEvent{InfoHash: ev.InfoHash}
	case engine.TorrentProgress, engine.TorrentCompleted:
		body = TorrentProgressEvent{InfoHash: ev.InfoHash}
	case engine.TorrentError, engine.EngineError:
		msg := ""
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		body = TorrentErrorEvent{InfoHash: ev.InfoHash, Error: msg}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		s.logger.Errorf("rpc: encode event: %s", err)
		return
	}
	envelope := EventEnvelope{Type: ev.Kind.String(), Timestamp: ev.Timestamp, Body: raw}

	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.codec.writeFrame(KindEvent, envelope); err != nil {
			s.logger.Debugf("rpc: push event to client: %s", err)
		}
	}
}

// Shutdown stops accepting new clients, shuts down the engine, closes every
// open connection, and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}

		s.eng.Shutdown(ctx)

		s.mu.Lock()
		conns := make([]*serverConn, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			c.nc.Close()
		}

		s.wg.Wait()
		os.Remove(s.cfg.SocketPath)
		if s.cfg.PIDFile != "" {
			os.Remove(s.cfg.PIDFile)
		}
	})
}
