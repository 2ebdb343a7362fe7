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

package connection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/wire"
)

type recordingEvents struct {
	closed chan *Conn
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{closed: make(chan *Conn, 1)}
}

func (r *recordingEvents) ConnClosed(c *Conn) {
	r.closed <- c
}

func pipeConns(t *testing.T, h core.InfoHash) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()

	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	c1 := New(Config{}, a, nil, newRecordingEvents(), h, id2, false, nil)
	c2 := New(Config{}, b, nil, newRecordingEvents(), h, id1, true, nil)
	c1.Start()
	c2.Start()
	return c1, c2
}

func TestHandshakeSucceedsOnMatchingInfoHash(t *testing.T) {
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Handshake(context.Background(), b, h, id2, time.Second)
		done <- err
	}()

	hs, err := Handshake(context.Background(), a, h, id1, time.Second)
	require.NoError(t, err)
	require.Equal(t, id2, core.PeerID(hs.PeerID))
	require.NoError(t, <-done)
}

func TestHandshakeRejectsMismatchedInfoHash(t *testing.T) {
	h1, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	h2, err := core.NewInfoHashFromHex("fedcba9876543210fedcba9876543210fedcba98")
	require.NoError(t, err)
	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go Handshake(context.Background(), b, h2, id2, time.Second)

	_, err = Handshake(context.Background(), a, h1, id1, time.Second)
	require.Error(t, err)
}

func TestAcceptHandshakeAcceptsKnownInfoHash(t *testing.T) {
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := Handshake(context.Background(), a, h, id1, time.Second)
		done <- err
	}()

	hs, err := Accept(context.Background(), b, id2, time.Second, func(got core.InfoHash) bool { return got == h })
	require.NoError(t, err)
	require.Equal(t, id1, core.PeerID(hs.PeerID))
	require.NoError(t, <-done)
}

func TestAcceptHandshakeRejectsUnknownInfoHash(t *testing.T) {
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	id1, err := core.RandomPeerID()
	require.NoError(t, err)
	id2, err := core.RandomPeerID()
	require.NoError(t, err)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go Handshake(context.Background(), a, h, id1, time.Second)

	_, err = Accept(context.Background(), b, id2, time.Second, func(core.InfoHash) bool { return false })
	require.Error(t, err)
}

func TestSendAndReceiveRoundTrip(t *testing.T) {
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	c1, c2 := pipeConns(t, h)
	defer c1.Close()
	defer c2.Close()

	require.NoError(t, c1.Send(wire.HaveMessage(7)))

	select {
	case msg := <-c2.Receiver():
		idx, err := wire.DecodeHave(msg)
		require.NoError(t, err)
		require.Equal(t, uint32(7), idx)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestCloseFiresEventsExactlyOnce(t *testing.T) {
	h, err := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	c1, c2 := pipeConns(t, h)
	defer c2.Close()

	ev := c1.events.(*recordingEvents)
	c1.Close()
	c1.Close() // Idempotent.

	select {
	case closed := <-ev.closed:
		require.Same(t, c1, closed)
	case <-time.After(time.Second):
		t.Fatal("ConnClosed was not fired")
	}
	require.True(t, c1.IsClosed())
}
