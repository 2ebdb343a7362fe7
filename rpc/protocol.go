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

// Package rpc implements the daemon control plane: a newline-delimited JSON
// message bus carried over a single long-lived unix domain socket
// connection per client, with request/response pairs matched by id and
// server-push events interleaved at any point.
package rpc

import (
	"encoding/json"
	"time"
)

// Kind identifies which of the three envelope shapes a frame carries.
type Kind string

// The three frame kinds making up the wire protocol.
const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// Request types, matching the daemon RPC table.
const (
	TypePing          = "ping"
	TypeGetStatus     = "getStatus"
	TypeGetTorrents   = "getTorrents"
	TypeGetTorrent    = "getTorrent"
	TypeGetPeers      = "getPeers"
	TypeAddTorrent    = "addTorrent"
	TypeRemoveTorrent = "removeTorrent"
	TypePauseTorrent  = "pauseTorrent"
	TypeResumeTorrent = "resumeTorrent"
	TypeGetConfig     = "getConfig"
	TypeUpdateConfig  = "updateConfig"
	TypeGetStats      = "getStats"
	TypeShutdown      = "shutdown"
)

// Frame is the outermost envelope every line on the wire decodes to. Data
// is left as a raw message and re-decoded into the concrete payload type
// once Kind and Type are known.
type Frame struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// RequestEnvelope is the Data payload of a KindRequest frame.
type RequestEnvelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// ResponseEnvelope is the Data payload of a KindResponse frame.
type ResponseEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// EventEnvelope is the Data payload of a KindEvent frame.
type EventEnvelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body,omitempty"`
}
