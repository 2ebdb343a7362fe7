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

// Package core defines the value types shared across the swarm engine: the
// torrent identity (InfoHash, MetaInfo), peer identity (PeerID), and magnet
// URI parsing.
package core

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// InfoHash is the 20-byte SHA-1 hash of a torrent's bencoded info dict. It
// is the authoritative identifier for a torrent across trackers and peers.
type InfoHash [20]byte

// NewInfoHashFromHex converts a 40-character hexadecimal string to an
// InfoHash.
func NewInfoHashFromHex(s string) (InfoHash, error) {
	if len(s) != 40 {
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	if n != 20 {
		return InfoHash{}, fmt.Errorf("invariant violation: expected 20 bytes, got %d", n)
	}
	return h, nil
}

// NewInfoHashFromBytes wraps a raw 20-byte slice as an InfoHash.
func NewInfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	if len(b) != 20 {
		return h, fmt.Errorf("invalid info hash length: expected 20 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashBencodedInfo returns the InfoHash of the raw bencoded info dict bytes.
func HashBencodedInfo(infoBytes []byte) InfoHash {
	var h InfoHash
	sum := sha1.Sum(infoBytes)
	copy(h[:], sum[:])
	return h
}

// Bytes returns h as a raw byte slice.
func (h InfoHash) Bytes() []byte {
	return h[:]
}

// Hex returns h as a lowercase hexadecimal string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h InfoHash) String() string {
	return h.Hex()
}

// MarshalJSON encodes h as its hexadecimal string form, so it travels over
// the daemon RPC protocol the same way a client would type it.
func (h InfoHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes a hexadecimal string produced by MarshalJSON.
func (h *InfoHash) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := NewInfoHashFromHex(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
