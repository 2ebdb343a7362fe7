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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize is the longest line readFrame accepts. The check runs after
// the whole line has been read into memory, so an oversized frame is
// rejected but the memory used to read it is not bounded.
const maxFrameSize = 16 * 1024 * 1024

// codec reads and writes newline-delimited JSON frames over a single
// connection. Writes are serialized with a mutex since a response and an
// event can race to the wire from different goroutines; reads are not,
// since each connection has exactly one reader.
type codec struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer
}

func newCodec(rw io.ReadWriter) *codec {
	r := bufio.NewReaderSize(rw, 4096)
	return &codec{r: r, w: rw}
}

// readFrame blocks until one line arrives and decodes it as a Frame.
func (c *codec) readFrame() (*Frame, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return nil, io.EOF
		}
		if err != io.EOF {
			return nil, fmt.Errorf("rpc: read frame: %s", err)
		}
	}
	if len(line) > maxFrameSize {
		return nil, fmt.Errorf("rpc: frame exceeds %d bytes", maxFrameSize)
	}
	var f Frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return nil, fmt.Errorf("rpc: decode frame: %s", err)
	}
	return &f, nil
}

// writeFrame marshals kind and data as a Frame and writes it as one line.
func (c *codec) writeFrame(kind Kind, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("rpc: encode body: %s", err)
	}
	f := Frame{Kind: kind, Data: body}
	line, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("rpc: encode frame: %s", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("rpc: write frame: %s", err)
	}
	return nil
}
