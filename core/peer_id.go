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

package core

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
)

// ClientIDPrefix is this engine's own Azureus-style client identifier,
// embedded as the first 8 bytes of locally-generated peer ids: '-', two
// vendor letters, four version digits, '-'.
const ClientIDPrefix = "-SD0001-"

// PeerIDFactory selects the strategy used to generate a local PeerID.
type PeerIDFactory string

// RandomPeerIDFactory generates a peer id with random trailing bytes after
// the client prefix.
const RandomPeerIDFactory PeerIDFactory = "random"

// AddrHashPeerIDFactory derives a peer id deterministically from a full
// "ip:port" address, useful for stable ids across restarts in tests.
const AddrHashPeerIDFactory PeerIDFactory = "addr_hash"

// GeneratePeerID creates a new peer id per the factory's policy.
func (f PeerIDFactory) GeneratePeerID(ip string, port int) (PeerID, error) {
	switch f {
	case RandomPeerIDFactory, "":
		return RandomPeerID()
	case AddrHashPeerIDFactory:
		return HashedPeerID(fmt.Sprintf("%s:%d", ip, port))
	default:
		return PeerID{}, fmt.Errorf("invalid peer id factory: %q", string(f))
	}
}

// ErrInvalidPeerIDLength is returned when a string peer id does not decode
// into exactly 20 bytes.
var ErrInvalidPeerIDLength = errors.New("peer id has invalid length")

// PeerID is a fixed 20-byte peer identifier.
type PeerID [20]byte

// NewPeerID parses a PeerID from a hexadecimal string encoding 20 bytes.
func NewPeerID(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 20 {
		return PeerID{}, ErrInvalidPeerIDLength
	}
	var p PeerID
	copy(p[:], b)
	return p, nil
}

// String encodes p in hexadecimal notation.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalJSON encodes p as its hexadecimal string form.
func (p PeerID) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a hexadecimal string produced by MarshalJSON.
func (p *PeerID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := NewPeerID(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// LessThan reports whether p sorts before o in byte-wise order.
func (p PeerID) LessThan(o PeerID) bool {
	return bytes.Compare(p[:], o[:]) == -1
}

// RandomPeerID returns a PeerID bearing ClientIDPrefix followed by random
// bytes, matching the shape real BitTorrent clients advertise.
func RandomPeerID() (PeerID, error) {
	var p PeerID
	copy(p[:], ClientIDPrefix)
	_, err := rand.Read(p[len(ClientIDPrefix):])
	return p, err
}

// HashedPeerID returns a PeerID derived from the SHA-1 hash of s.
func HashedPeerID(s string) (PeerID, error) {
	var p PeerID
	if s == "" {
		return p, errors.New("cannot generate peer id from empty string")
	}
	h := sha1.New()
	io.WriteString(h, s)
	copy(p[:], h.Sum(nil))
	return p, nil
}

// vendorNames maps known two-letter Azureus-style vendor codes to
// human-readable client names. Not exhaustive; unknown codes fall back to
// the raw code itself.
var vendorNames = map[string]string{
	"UT": "uTorrent",
	"TR": "Transmission",
	"DE": "Deluge",
	"LT": "libtorrent",
	"qB": "qBittorrent",
	"AZ": "Azureus/Vuze",
	"BC": "BitComet",
	"SD": "swarmd",
	"rT": "rTorrent",
	"KT": "KTorrent",
}

// ClientName parses an Azureus-style peer id ("-XX1234-...") into a
// human-readable client name and version string. Ids without a '-' at both
// byte 0 and byte 7 (including shadow-style ids) return empty strings.
func ClientName(p PeerID) (name string, version string) {
	if p[0] != '-' || p[7] != '-' {
		return "", ""
	}
	code := string(p[1:3])
	if known, ok := vendorNames[code]; ok {
		name = known
	} else {
		name = code
	}
	version = decodeVersionDigits(p[3:7])
	return name, version
}

// decodeVersionDigits decodes four version characters where '0'-'9' are
// literal digits and 'A'-'Z' represent 10-35, joining the decoded values
// with '.' (e.g. "1.2.10.35").
func decodeVersionDigits(b [4]byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		switch {
		case c >= '0' && c <= '9':
			parts[i] = string(c)
		case c >= 'A' && c <= 'Z':
			parts[i] = fmt.Sprintf("%d", int(c-'A')+10)
		default:
			parts[i] = "?"
		}
	}
	return parts[0] + "." + parts[1] + "." + parts[2] + "." + parts[3]
}
