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

package session

import (
	"encoding/json"

	"github.com/dstore-labs/swarmd/core"
)

// EventKind enumerates the lifecycle notifications a Session emits for its
// owning engine to aggregate.
type EventKind int

// Session event kinds.
const (
	PeerConnected EventKind = iota
	PeerDisconnected
	PieceCompleted
	DownloadCompleted
	Progress
	SessionError
	// PieceFailed is emitted each time a completed piece fails hash
	// verification, before the piece is requeued for another attempt.
	PieceFailed
	// PieceGaveUp is emitted when a piece's failed-verification count
	// reaches the piece manager's retry budget and it is abandoned.
	PieceGaveUp
	// EndgameStarted is emitted once, the first time a session's missing
	// piece count drops to or below the endgame threshold.
	EndgameStarted
)

// Event is one notification raised by a Session.
type Event struct {
	Kind       EventKind
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Piece      int
	Expected   [20]byte
	Actual     [20]byte
	RetryCount int
	Missing    []int
	Err        error
}

// State is a Session's lifecycle phase.
type State int

// Session states.
const (
	StateIdle State = iota
	StateRunning
	StateSeeding
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSeeding:
		return "seeding"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes a State as its lowercase name, so RPC clients see
// "seeding" rather than an opaque integer.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
