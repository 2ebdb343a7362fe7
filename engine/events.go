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

package engine

import (
	"time"

	"github.com/dstore-labs/swarmd/core"
)

// EventKind enumerates the aggregate lifecycle notifications an Engine
// emits, matching the daemon RPC's server-push event types.
type EventKind int

// Engine event kinds.
const (
	EngineStarted EventKind = iota
	EngineStopped
	EngineError
	TorrentAdded
	TorrentRemoved
	TorrentProgress
	TorrentCompleted
	TorrentError
)

func (k EventKind) String() string {
	switch k {
	case EngineStarted:
		return "engine:started"
	case EngineStopped:
		return "engine:stopped"
	case EngineError:
		return "engine:error"
	case TorrentAdded:
		return "torrent:added"
	case TorrentRemoved:
		return "torrent:removed"
	case TorrentProgress:
		return "torrent:progress"
	case TorrentCompleted:
		return "torrent:completed"
	case TorrentError:
		return "torrent:error"
	default:
		return "unknown"
	}
}

// Event is one notification raised by an Engine, suitable for forwarding
// verbatim as a daemon RPC event payload.
type Event struct {
	Kind      EventKind
	InfoHash  core.InfoHash
	Timestamp time.Time
	Err       error
}
