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
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
)

// MagnetURI is a parsed "magnet:?xt=urn:btih:..." link.
type MagnetURI struct {
	InfoHash    InfoHash
	DisplayName string
	Trackers    []string
	ExactLength int64
}

// ParseMagnetURI parses a magnet URI string, accepting either hex or base32
// encoded info hashes in the xt parameter.
func ParseMagnetURI(raw string) (*MagnetURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("malformed magnet: %s", err)
	}
	if u.Scheme != "magnet" {
		return nil, fmt.Errorf("malformed magnet: unexpected scheme %q", u.Scheme)
	}

	q := u.Query()
	xt := q.Get("xt")
	if xt == "" {
		return nil, fmt.Errorf("malformed magnet: missing xt parameter")
	}
	const prefix = "urn:btih:"
	if !strings.HasPrefix(xt, prefix) {
		return nil, fmt.Errorf("malformed magnet: xt parameter missing %q prefix", prefix)
	}
	hashStr := xt[len(prefix):]

	h, err := decodeMagnetHash(hashStr)
	if err != nil {
		return nil, fmt.Errorf("malformed magnet: %s", err)
	}

	m := &MagnetURI{
		InfoHash:    h,
		DisplayName: q.Get("dn"),
		Trackers:    q["tr"],
	}
	if xl := q.Get("xl"); xl != "" {
		var length int64
		if _, err := fmt.Sscanf(xl, "%d", &length); err == nil {
			m.ExactLength = length
		}
	}
	return m, nil
}

func decodeMagnetHash(s string) (InfoHash, error) {
	switch len(s) {
	case 40:
		return NewInfoHashFromHex(s)
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return InfoHash{}, fmt.Errorf("invalid base32 info hash: %s", err)
		}
		return NewInfoHashFromBytes(b)
	default:
		return InfoHash{}, fmt.Errorf("invalid info hash length %d", len(s))
	}
}

// String reconstructs a canonical magnet URI for m.
func (m *MagnetURI) String() string {
	v := url.Values{}
	v.Set("xt", "urn:btih:"+m.InfoHash.Hex())
	if m.DisplayName != "" {
		v.Set("dn", m.DisplayName)
	}
	for _, tr := range m.Trackers {
		v.Add("tr", tr)
	}
	return "magnet:?" + v.Encode()
}
