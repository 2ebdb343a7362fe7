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

// Package connection drives one peer-wire socket: the handshake exchange,
// and the read/write loops that turn a net.Conn into a pair of Go channels.
// It is grounded on kraken's scheduler/conn.Conn, generalized from kraken's
// single-torrent-per-process protobuf framing to the BitTorrent wire
// protocol's per-message framing via internal/wire.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bandwidth"
	"github.com/dstore-labs/swarmd/internal/wire"
)

// ErrConnClosed is returned by Send once the Conn has started closing.
var ErrConnClosed = errors.New("connection: closed")

// ErrSendBufferFull is returned by Send when the outbound queue cannot
// accept another message without blocking the caller.
var ErrSendBufferFull = errors.New("connection: send buffer full")

// Events receives lifecycle notifications from a Conn.
type Events interface {
	ConnClosed(c *Conn)
}

// Conn manages one peer-wire connection: a read loop decoding inbound
// messages onto a channel, and a write loop draining outbound messages onto
// the socket. Send and Receiver are the only thread-safe entry points.
type Conn struct {
	config      Config
	nc          net.Conn
	bw          *bandwidth.Limiter
	events      Events
	logger      *zap.SugaredLogger
	infoHash    core.InfoHash
	peerID      core.PeerID
	createdAt   time.Time
	openedByRemote bool

	sender   chan *wire.Message
	receiver chan *wire.Message

	startOnce sync.Once
	closed    *atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// Handshake performs the BitTorrent handshake on nc as the dialing side,
// verifying the remote's info hash matches h. It returns the remote's
// parsed handshake so the caller can inspect its reserved-byte extension
// bits and peer id.
func Handshake(ctx context.Context, nc net.Conn, h core.InfoHash, localID core.PeerID, timeout time.Duration) (*wire.Handshake, error) {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer nc.SetDeadline(time.Time{})

	out := &wire.Handshake{InfoHash: h, Reserved: wire.ExtendedMessagingBit}
	out.PeerID = localID
	if err := wire.WriteHandshake(nc, out); err != nil {
		return nil, fmt.Errorf("connection: write handshake: %s", err)
	}
	in, err := wire.ReadHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("connection: read handshake: %s", err)
	}
	if in.InfoHash != h {
		return nil, &wire.ProtocolError{Reason: "info hash mismatch"}
	}
	return in, nil
}

// Accept performs the BitTorrent handshake on nc as the listening side: it
// reads the remote's handshake first, consults known to decide whether this
// process serves that info hash, and only then writes its own handshake back
// with the same info hash. It returns the remote's parsed handshake.
func Accept(ctx context.Context, nc net.Conn, localID core.PeerID, timeout time.Duration, known func(core.InfoHash) bool) (*wire.Handshake, error) {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	defer nc.SetDeadline(time.Time{})

	in, err := wire.ReadHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("connection: read handshake: %s", err)
	}
	if !known(in.InfoHash) {
		return nil, &wire.ProtocolError{Reason: "unknown info hash"}
	}

	out := &wire.Handshake{InfoHash: in.InfoHash, Reserved: wire.ExtendedMessagingBit}
	out.PeerID = localID
	if err := wire.WriteHandshake(nc, out); err != nil {
		return nil, fmt.Errorf("connection: write handshake: %s", err)
	}
	return in, nil
}

// New wraps an already-handshaken nc in a Conn. Start must be called to
// begin pumping messages.
func New(
	config Config,
	nc net.Conn,
	bw *bandwidth.Limiter,
	events Events,
	infoHash core.InfoHash,
	peerID core.PeerID,
	openedByRemote bool,
	logger *zap.SugaredLogger,
) *Conn {
	config = config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Conn{
		config:         config,
		nc:             nc,
		bw:             bw,
		events:         events,
		logger:         logger,
		infoHash:       infoHash,
		peerID:         peerID,
		createdAt:      time.Now(),
		openedByRemote: openedByRemote,
		sender:         make(chan *wire.Message, config.SenderBufferSize),
		receiver:       make(chan *wire.Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
	}
}

// Start begins the read and write loops. Safe to call at most once.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the torrent this Conn is transmitting.
func (c *Conn) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns when this Conn was constructed.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// OpenedByRemote reports whether the remote peer initiated this connection.
func (c *Conn) OpenedByRemote() bool { return c.openedByRemote }

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)", c.peerID, c.infoHash, c.openedByRemote)
}

// Send enqueues msg for transmission. It never blocks: a full send buffer
// is reported as an error so that a slow peer cannot stall the caller.
func (c *Conn) Send(msg *wire.Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case c.sender <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Receiver returns the channel of inbound messages. It is closed when the
// read loop exits.
func (c *Conn) Receiver() <-chan *wire.Message {
	return c.receiver
}

// Close begins an asynchronous shutdown: the socket is closed, both loops
// are allowed to drain, and Events.ConnClosed fires exactly once.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		if c.events != nil {
			c.events.ConnClosed(c)
		}
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		default:
		}
		msg, err := wire.ReadMessage(c.nc)
		if err != nil {
			if err != io.EOF {
				c.logger.Infof("connection: read error, closing: %s", err)
			}
			return
		}
		if msg.ID == wire.Piece && c.bw != nil {
			if err := c.bw.ReserveIngress(context.Background(), len(msg.Payload)); err != nil {
				c.logger.Errorf("connection: ingress bandwidth reservation failed: %s", err)
				return
			}
		}
		select {
		case c.receiver <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if msg.ID == wire.Piece && c.bw != nil {
				if err := c.bw.ReserveEgress(context.Background(), len(msg.Payload)); err != nil {
					c.logger.Errorf("connection: egress bandwidth reservation failed: %s", err)
					c.Close()
					return
				}
			}
			if err := wire.WriteMessage(c.nc, msg); err != nil {
				c.logger.Infof("connection: write error, closing: %s", err)
				c.Close()
				return
			}
		}
	}
}
