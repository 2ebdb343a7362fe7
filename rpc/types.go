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
	"time"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/engine"
	"github.com/dstore-labs/swarmd/internal/config"
	"github.com/dstore-labs/swarmd/internal/peer"
	"github.com/dstore-labs/swarmd/session"
)

// PingResponse is the body of a ping response.
type PingResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// GetTorrentsResponse is the body of a getTorrents response.
type GetTorrentsResponse struct {
	Torrents []session.Snapshot `json:"torrents"`
}

// GetTorrentRequest is the body of a getTorrent request.
type GetTorrentRequest struct {
	InfoHash core.InfoHash `json:"infoHash"`
}

// GetTorrentResponse is the body of a getTorrent response.
type GetTorrentResponse struct {
	Torrent *session.Snapshot `json:"torrent,omitempty"`
}

// PeerSnapshot is a JSON-friendly summary of one connected peer, since
// peer.Peer itself carries a mutex and exposes rate methods rather than
// fields.
type PeerSnapshot struct {
	ID                 core.PeerID `json:"id"`
	IP                 string      `json:"ip"`
	Port               int         `json:"port"`
	ClientName         string      `json:"clientName"`
	ClientVersion      string      `json:"clientVersion"`
	Country            string      `json:"country"`
	SupportsExtensions bool        `json:"supportsExtensions"`
	AmChoking          bool        `json:"amChoking"`
	AmInterested       bool        `json:"amInterested"`
	PeerChoking        bool        `json:"peerChoking"`
	PeerInterested     bool        `json:"peerInterested"`
	DownloadRate       float64     `json:"downloadRate"`
	UploadRate         float64     `json:"uploadRate"`
}

func newPeerSnapshot(p *peer.Peer) PeerSnapshot {
	return PeerSnapshot{
		ID:                 p.ID,
		IP:                 p.IP,
		Port:               p.Port,
		ClientName:         p.ClientName,
		ClientVersion:      p.ClientVersion,
		Country:            p.Country,
		SupportsExtensions: p.SupportsExtensions,
		AmChoking:          p.AmChoking,
		AmInterested:       p.AmInterested,
		PeerChoking:        p.PeerChoking,
		PeerInterested:     p.PeerInterested,
		DownloadRate:       p.DownloadRate(),
		UploadRate:         p.UploadRate(),
	}
}

// GetPeersRequest is the body of a getPeers request.
type GetPeersRequest struct {
	InfoHash core.InfoHash `json:"infoHash"`
}

// GetPeersResponse is the body of a getPeers response.
type GetPeersResponse struct {
	Peers []PeerSnapshot `json:"peers"`
}

// AddTorrentRequest is the body of an addTorrent request.
type AddTorrentRequest struct {
	Source           string `json:"source"`
	DownloadPath     string `json:"downloadPath,omitempty"`
	StartImmediately bool   `json:"startImmediately"`
}

// AddTorrentResponse is the body of an addTorrent response.
type AddTorrentResponse struct {
	Torrent session.Snapshot `json:"torrent"`
}

// RemoveTorrentRequest is the body of a removeTorrent request.
type RemoveTorrentRequest struct {
	InfoHash    core.InfoHash `json:"infoHash"`
	DeleteFiles bool          `json:"deleteFiles,omitempty"`
}

// PauseTorrentRequest is the body of a pauseTorrent request.
type PauseTorrentRequest struct {
	InfoHash core.InfoHash `json:"infoHash"`
}

// ResumeTorrentRequest is the body of a resumeTorrent request.
type ResumeTorrentRequest struct {
	InfoHash core.InfoHash `json:"infoHash"`
}

// UpdateConfigRequest is the body of an updateConfig request; getConfig
// takes no body and shares this response shape.
type UpdateConfigRequest struct {
	Config config.Config `json:"config"`
}

// ConfigResponse is the body of both getConfig and updateConfig responses.
type ConfigResponse struct {
	Config config.Config `json:"config"`
}

// StatusResponse is the body of a getStatus response.
type StatusResponse struct {
	Status engine.Status `json:"status"`
}

// StatsResponse is the body of a getStats response.
type StatsResponse struct {
	Stats engine.Stats `json:"stats"`
}

// TorrentAddedEvent is the body of both torrent:added and torrent:removed
// events; torrent:progress and torrent:completed share
// TorrentProgressEvent's shape.
type TorrentAddedEvent struct {
	InfoHash core.InfoHash `json:"infoHash"`
}

// TorrentProgressEvent is the body of torrent:progress and
// torrent:completed events.
type TorrentProgressEvent struct {
	InfoHash core.InfoHash `json:"infoHash"`
	Progress float64       `json:"progress,omitempty"`
}

// TorrentErrorEvent is the body of a torrent:error event.
type TorrentErrorEvent struct {
	InfoHash core.InfoHash `json:"infoHash"`
	Error    string        `json:"error"`
}
