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

import "errors"

// Sentinel disk-layer errors, per the taxonomy's storage-layer kinds.
var (
	ErrPieceMissing       = errors.New("disk: piece not complete")
	ErrInvalidPieceLength = errors.New("disk: invalid piece data length")
	ErrClosed             = errors.New("disk: store is closed")
)

// IOError wraps an underlying os/io error with the file it occurred on, so
// callers can log and propagate a DiskIO-kind error without losing context.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return "disk: io error on " + e.Path + ": " + e.Err.Error()
}

func (e *IOError) Unwrap() error {
	return e.Err
}
