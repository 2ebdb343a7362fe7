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
	"fmt"
	"strings"

	"github.com/dstore-labs/swarmd/internal/bencode"
)

// FileEntry describes one file within a (possibly multi-file) torrent, with
// its length and path segments relative to the torrent's root directory.
type FileEntry struct {
	Length int64
	Path   []string // empty for single-file torrents; Name is used instead
}

// Info is the parsed "info" dictionary of a .torrent file: everything
// needed to verify and lay out the torrent's data on disk.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      [][20]byte
	Length      int64       // total length across all files
	Files       []FileEntry // nil for single-file torrents
	Private     bool

	raw []byte // the exact bencoded bytes this Info was parsed from
}

// IsMultiFile reports whether this torrent describes more than one file.
func (info *Info) IsMultiFile() bool {
	return info.Files != nil
}

// MetaInfo is the fully parsed contents of a .torrent file.
type MetaInfo struct {
	Info        Info
	infoHash    InfoHash
	Announce    string
	AnnounceList [][]string
	Comment     string
	CreatedBy   string
}

// InfoHash returns the SHA-1 hash of the raw bencoded info dict.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// NumPieces returns the number of pieces in the torrent.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.Info.Pieces)
}

// PieceLength returns the configured piece length. The final piece may be
// shorter; use PieceLengthAt for the true length of a given piece.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.Info.PieceLength
}

// PieceLengthAt returns the true length of piece i, accounting for the
// final, possibly-short piece.
func (mi *MetaInfo) PieceLengthAt(i int) int64 {
	if i < 0 || i >= mi.NumPieces() {
		return 0
	}
	if i < mi.NumPieces()-1 {
		return mi.Info.PieceLength
	}
	last := mi.Info.Length - int64(mi.NumPieces()-1)*mi.Info.PieceLength
	return last
}

// PieceLengths returns the length of every piece, in order.
func (mi *MetaInfo) PieceLengths() []int64 {
	out := make([]int64, mi.NumPieces())
	for i := range out {
		out[i] = mi.PieceLengthAt(i)
	}
	return out
}

// PieceHashes returns the expected SHA-1 digest for every piece, in order.
func (mi *MetaInfo) PieceHashes() [][20]byte {
	return mi.Info.Pieces
}

// ParseMetaInfo decodes a .torrent file's bencoded bytes.
func ParseMetaInfo(data []byte) (*MetaInfo, error) {
	v, err := bencode.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("bencode: %s", err)
	}
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: top-level value is not a dict")
	}
	d := v.Dict()

	infoVal, ok := d.Get("info")
	if !ok {
		return nil, fmt.Errorf("metainfo: missing info dict")
	}
	info, err := parseInfo(infoVal)
	if err != nil {
		return nil, err
	}

	mi := &MetaInfo{
		Info:     *info,
		infoHash: HashBencodedInfo(info.raw),
	}
	if a, ok := d.Get("announce"); ok {
		mi.Announce = a.Str()
	}
	if al, ok := d.Get("announce-list"); ok && al.List() != nil {
		for _, tier := range al.List() {
			var urls []string
			for _, u := range tier.List() {
				urls = append(urls, u.Str())
			}
			mi.AnnounceList = append(mi.AnnounceList, urls)
		}
	}
	if c, ok := d.Get("comment"); ok {
		mi.Comment = c.Str()
	}
	if cb, ok := d.Get("created by"); ok {
		mi.CreatedBy = cb.Str()
	}
	return mi, nil
}

func parseInfo(v *bencode.Value) (*Info, error) {
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("metainfo: info is not a dict")
	}
	d := v.Dict()

	info := &Info{raw: bencode.Marshal(v)}

	nameVal, ok := d.Get("name")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing name")
	}
	info.Name = nameVal.Str()

	plVal, ok := d.Get("piece length")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing piece length")
	}
	info.PieceLength = plVal.Int64()
	if info.PieceLength <= 0 {
		return nil, fmt.Errorf("metainfo: non-positive piece length")
	}

	piecesVal, ok := d.Get("pieces")
	if !ok {
		return nil, fmt.Errorf("metainfo: info missing pieces")
	}
	raw := piecesVal.Bytes()
	if len(raw)%20 != 0 {
		return nil, fmt.Errorf("metainfo: pieces length %d not a multiple of 20", len(raw))
	}
	for i := 0; i < len(raw); i += 20 {
		var h [20]byte
		copy(h[:], raw[i:i+20])
		info.Pieces = append(info.Pieces, h)
	}

	if pv, ok := d.Get("private"); ok {
		info.Private = pv.Int64() == 1
	}

	if filesVal, ok := d.Get("files"); ok && filesVal.Kind() == bencode.KindList {
		var total int64
		for _, fv := range filesVal.List() {
			if fv.Kind() != bencode.KindDict {
				return nil, fmt.Errorf("metainfo: file entry is not a dict")
			}
			fd := fv.Dict()
			lenVal, ok := fd.Get("length")
			if !ok {
				return nil, fmt.Errorf("metainfo: file entry missing length")
			}
			pathVal, ok := fd.Get("path")
			if !ok {
				return nil, fmt.Errorf("metainfo: file entry missing path")
			}
			var segs []string
			for _, p := range pathVal.List() {
				seg := p.Str()
				if err := validatePathSegment(seg); err != nil {
					return nil, err
				}
				segs = append(segs, seg)
			}
			if len(segs) == 0 {
				return nil, fmt.Errorf("metainfo: file entry has empty path")
			}
			info.Files = append(info.Files, FileEntry{Length: lenVal.Int64(), Path: segs})
			total += lenVal.Int64()
		}
		info.Length = total
	} else {
		lenVal, ok := d.Get("length")
		if !ok {
			return nil, fmt.Errorf("metainfo: single-file info missing length")
		}
		info.Length = lenVal.Int64()
	}

	expectedPieces := (info.Length + info.PieceLength - 1) / info.PieceLength
	if expectedPieces != int64(len(info.Pieces)) && info.Length > 0 {
		return nil, fmt.Errorf(
			"metainfo: piece count %d does not match length/piece_length = %d",
			len(info.Pieces), expectedPieces)
	}

	return info, nil
}

// validatePathSegment rejects path traversal, absolute, and empty segments
// in a multi-file torrent's file path list.
func validatePathSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("metainfo: empty path segment")
	}
	if seg == ".." || seg == "." {
		return fmt.Errorf("metainfo: path traversal segment %q", seg)
	}
	if strings.HasPrefix(seg, "/") || strings.Contains(seg, "\x00") {
		return fmt.Errorf("metainfo: invalid path segment %q", seg)
	}
	return nil
}
