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

package disk

import (
	"os"
	"path/filepath"

	"github.com/dstore-labs/swarmd/core"
)

// AllocationStrategy controls how a torrent's files are laid out on disk
// before any data arrives.
type AllocationStrategy int

// Allocation strategies.
const (
	// Sparse creates empty files and relies on the filesystem's sparse-file
	// support; no bytes are actually written until a piece lands.
	Sparse AllocationStrategy = iota
	// Full writes zeros up to each file's declared length up front.
	Full
)

// layoutFile is one file on disk backing a torrent, in declaration order.
type layoutFile struct {
	path   string // absolute path
	length int64
}

// Layout projects a torrent's pieces onto the files that back it: a
// single file named after the torrent, or a directory of the same name
// containing the declared relative paths.
type Layout struct {
	root  string // directory containing either the single file or the multi-file tree
	mi    *core.MetaInfo
	files []layoutFile
}

// NewLayout builds the Layout for mi rooted at downloadDir.
func NewLayout(downloadDir string, mi *core.MetaInfo) *Layout {
	l := &Layout{root: downloadDir, mi: mi}
	if mi.Info.IsMultiFile() {
		base := filepath.Join(downloadDir, mi.Info.Name)
		for _, f := range mi.Info.Files {
			segs := append([]string{base}, f.Path...)
			l.files = append(l.files, layoutFile{path: filepath.Join(segs...), length: f.Length})
		}
	} else {
		l.files = append(l.files, layoutFile{
			path:   filepath.Join(downloadDir, mi.Info.Name),
			length: mi.Info.Length,
		})
	}
	return l
}

// Allocate creates every backing file (and parent directory) according to
// strategy. Existing files are left untouched so that resuming a partial
// download never truncates data already written.
func (l *Layout) Allocate(strategy AllocationStrategy) error {
	for _, f := range l.files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return &IOError{Path: f.path, Err: err}
		}
		if _, err := os.Stat(f.path); err == nil {
			continue
		}
		fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return &IOError{Path: f.path, Err: err}
		}
		err = fh.Truncate(f.length)
		closeErr := fh.Close()
		if err != nil {
			return &IOError{Path: f.path, Err: err}
		}
		if closeErr != nil {
			return &IOError{Path: f.path, Err: closeErr}
		}
		if strategy == Full {
			if err := zeroFill(f.path, f.length); err != nil {
				return err
			}
		}
	}
	return nil
}

// zeroFill writes zeros across the full declared length of path, used by
// the Full allocation strategy so the filesystem commits real blocks
// instead of a sparse hole.
func zeroFill(path string, length int64) error {
	fh, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer fh.Close()

	const chunk = 1 << 20 // 1MiB
	buf := make([]byte, chunk)
	var written int64
	for written < length {
		n := chunk
		if remaining := length - written; remaining < int64(chunk) {
			n = int(remaining)
		}
		if _, err := fh.WriteAt(buf[:n], written); err != nil {
			return &IOError{Path: path, Err: err}
		}
		written += int64(n)
	}
	return nil
}

// span is the portion of one backing file covered by a piece or block.
type span struct {
	path   string
	offset int64
	length int64
}

// Spans returns the ordered list of file sub-ranges covered by byte range
// [start, start+length) of the torrent's flattened data, splitting across
// as many files as the range intersects while preserving file order.
func (l *Layout) Spans(start, length int64) []span {
	var out []span
	var fileStart int64

	for _, f := range l.files {
		fileEnd := fileStart + f.length
		rangeEnd := start + length

		if rangeEnd <= fileStart {
			break
		}
		if start < fileEnd && rangeEnd > fileStart {
			spanStart := start
			if spanStart < fileStart {
				spanStart = fileStart
			}
			spanEnd := rangeEnd
			if spanEnd > fileEnd {
				spanEnd = fileEnd
			}
			out = append(out, span{
				path:   f.path,
				offset: spanStart - fileStart,
				length: spanEnd - spanStart,
			})
		}
		fileStart = fileEnd
	}
	return out
}

// PieceRange returns the [start, end) byte range of piece i within the
// torrent's flattened data.
func (l *Layout) PieceRange(i int) (start, end int64) {
	start = int64(i) * l.mi.Info.PieceLength
	end = start + l.mi.PieceLengthAt(i)
	return start, end
}

// Files returns every backing file's absolute path, in declaration order.
func (l *Layout) Files() []string {
	out := make([]string, len(l.files))
	for i, f := range l.files {
		out[i] = f.path
	}
	return out
}

// Root returns the directory under which the torrent's file or directory
// tree lives.
func (l *Layout) Root() string {
	return l.root
}

// TorrentDir returns the directory a multi-file torrent's files live
// under, or the root for a single-file torrent.
func (l *Layout) TorrentDir() string {
	if l.mi.Info.IsMultiFile() {
		return filepath.Join(l.root, l.mi.Info.Name)
	}
	return l.root
}
