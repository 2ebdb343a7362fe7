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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

// DefaultRequestTimeout is how long Client.Call waits for a matching
// response before surfacing a local timeout error, per the daemon RPC spec.
const DefaultRequestTimeout = 30 * time.Second

// Client is a single connection to a running daemon. It multiplexes
// concurrent Call invocations over one socket, matching responses to
// requests by id, and delivers server-pushed events to Events().
type Client struct {
	nc    net.Conn
	codec *codec

	requestTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan ResponseEnvelope
	closed  bool

	events chan EventEnvelope

	readDone chan struct{}
}

// NewClient wraps an already-connected socket (typically from Dial) as an
// RPC Client.
func NewClient(nc net.Conn) *Client {
	c := &Client{
		nc:             nc,
		codec:          newCodec(nc),
		requestTimeout: DefaultRequestTimeout,
		pending:        make(map[string]chan ResponseEnvelope),
		events:         make(chan EventEnvelope, 64),
		readDone:       make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial connects to the daemon's unix socket and wraps the connection as a
// Client.
func Dial(socketPath string) (*Client, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial: %s", err)
	}
	return NewClient(nc), nil
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	defer close(c.events)
	for {
		f, err := c.codec.readFrame()
		if err != nil {
			c.failAllPending(err)
			return
		}
		switch f.Kind {
		case KindResponse:
			var resp ResponseEnvelope
			if err := json.Unmarshal(f.Data, &resp); err != nil {
				continue
			}
			c.mu.Lock()
			ch, ok := c.pending[resp.ID]
			if ok {
				delete(c.pending, resp.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- resp
			}
		case KindEvent:
			var ev EventEnvelope
			if err := json.Unmarshal(f.Data, &ev); err != nil {
				continue
			}
			select {
			case c.events <- ev:
			default:
				// Slow consumer: drop rather than block the read loop.
			}
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- ResponseEnvelope{ID: id, Success: false, Error: fmt.Sprintf("rpc: connection closed: %s", err)}
		delete(c.pending, id)
	}
}

// Events returns the channel of server-pushed events. It closes when the
// connection closes.
func (c *Client) Events() <-chan EventEnvelope {
	return c.events
}

// Call sends a request of the given type and body, and blocks until the
// matching response arrives, ctx is done, or the request timeout expires.
func (c *Client) Call(ctx context.Context, reqType string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rpc: encode request body: %s", err)
	}
	id := uuid.NewV4().String()
	req := RequestEnvelope{ID: id, Type: reqType, Body: raw}

	ch := make(chan ResponseEnvelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("rpc: client closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.codec.writeFrame(KindRequest, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	timeout := c.requestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if !resp.Success {
			return fmt.Errorf("rpc: %s: %s", reqType, resp.Error)
		}
		if out != nil && len(resp.Body) > 0 {
			if err := json.Unmarshal(resp.Body, out); err != nil {
				return fmt.Errorf("rpc: decode %s response: %s", reqType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("rpc: %s: timed out after %s", reqType, timeout)
	}
}

// Ping probes the daemon for liveness.
func (c *Client) Ping(ctx context.Context) error {
	var resp PingResponse
	return c.Call(ctx, TypePing, struct{}{}, &resp)
}

// Close closes the underlying connection and waits for the read loop to
// exit.
func (c *Client) Close() error {
	err := c.nc.Close()
	<-c.readDone
	return err
}

var _ io.Closer = (*Client)(nil)
