package peerconn

import (
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
)

func testHash() core.InfoHash {
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	return h
}

func TestDialReservesCapacity(t *testing.T) {
	m := New(Config{MaxConnections: 2, MaxConnectionsPerTorrent: 2}, clock.NewMock())
	h := testHash()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	require.Equal(t, 1, m.TorrentConnCount(h))
}

func TestDialRejectsDuplicateAddr(t *testing.T) {
	m := New(Config{MaxConnections: 5, MaxConnectionsPerTorrent: 5}, clock.NewMock())
	h := testHash()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	err := m.Dial(h, "1.1.1.1", 1)
	require.ErrorIs(t, err, ErrAlreadyDialing)
}

func TestDialRejectsAtTorrentCapacity(t *testing.T) {
	m := New(Config{MaxConnections: 10, MaxConnectionsPerTorrent: 1}, clock.NewMock())
	h := testHash()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	err := m.Dial(h, "2.2.2.2", 2)
	require.ErrorIs(t, err, ErrTorrentAtCapacity)
}

func TestDialRejectsAtEngineCapacity(t *testing.T) {
	m := New(Config{MaxConnections: 1, MaxConnectionsPerTorrent: 10}, clock.NewMock())
	h := testHash()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	err := m.Dial(h, "2.2.2.2", 2)
	require.ErrorIs(t, err, ErrEngineAtCapacity)
}

func TestAbortDialBansAfterThreshold(t *testing.T) {
	clk := clock.NewMock()
	m := New(Config{MaxConnections: 10, MaxConnectionsPerTorrent: 10, FailuresBeforeBan: 2}, clk)
	h := testHash()

	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	m.AbortDial(h, "1.1.1.1", 1)
	require.False(t, m.Banned("1.1.1.1", 1))

	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	m.AbortDial(h, "1.1.1.1", 1)
	require.True(t, m.Banned("1.1.1.1", 1))
}

func TestBannedPeerRejectedOnDial(t *testing.T) {
	clk := clock.NewMock()
	m := New(Config{MaxConnections: 10, MaxConnectionsPerTorrent: 10, FailuresBeforeBan: 1}, clk)
	h := testHash()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	m.AbortDial(h, "1.1.1.1", 1)

	err := m.Dial(h, "1.1.1.1", 1)
	require.ErrorIs(t, err, ErrPeerBanned)
}

func TestCompleteDialTracksActivePeer(t *testing.T) {
	m := New(Config{MaxConnections: 10, MaxConnectionsPerTorrent: 10}, clock.NewMock())
	h := testHash()
	id, _ := core.RandomPeerID()
	require.NoError(t, m.Dial(h, "1.1.1.1", 1))
	m.CompleteDial(h, "1.1.1.1", 1, id)

	active := m.ActivePeerIDs(h)
	require.Len(t, active, 1)
	require.Equal(t, id, active[0])
}

func TestRetryReconnectExhausts(t *testing.T) {
	config := Config{MaxReconnectAttempts: 3, InitialReconnectDelay: time.Millisecond, ReconnectBackoffFactor: 1.0}
	var slept int
	err := RetryReconnect(config, func(time.Duration) { slept++ }, func(attempt int) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 2, slept)
}

func TestRetryReconnectSucceeds(t *testing.T) {
	config := Config{MaxReconnectAttempts: 3, InitialReconnectDelay: time.Millisecond}
	err := RetryReconnect(config, func(time.Duration) {}, func(attempt int) error {
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
}
