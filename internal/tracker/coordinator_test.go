package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bencode"
)

func announceServer(t *testing.T, peerIP byte, peerPort uint16) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := bencode.NewDict()
		d.Set("interval", bencode.Int(1800))
		d.Set("complete", bencode.Int(1))
		d.Set("incomplete", bencode.Int(0))
		d.Set("peers", bencode.Bytes([]byte{192, 168, 1, peerIP, byte(peerPort >> 8), byte(peerPort)}))
		w.Write(bencode.Marshal(bencode.DictValue(d)))
	}))
}

func TestCoordinatorAnnounceDedupesAcrossTiers(t *testing.T) {
	srvA := announceServer(t, 10, 6881)
	defer srvA.Close()
	srvB := announceServer(t, 10, 6881) // same peer as srvA
	defer srvB.Close()
	srvC := announceServer(t, 20, 6882)
	defer srvC.Close()

	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	c := NewCoordinator(id, clock.NewMock())
	c.AddTorrent(h, []Tier{
		{srvA.URL + "/announce"},
		{srvB.URL + "/announce", srvC.URL + "/announce"},
	})

	res, err := c.Announce(context.Background(), h, AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881}, EventStarted)
	require.NoError(t, err)
	require.Len(t, res.Peers, 2)

	records := c.Records(h)
	require.Len(t, records, 3)
	for _, r := range records {
		require.Equal(t, Working, r.Status)
	}
}

func TestCoordinatorAnnounceRecordsFailurePerTracker(t *testing.T) {
	ok := announceServer(t, 10, 6881)
	defer ok.Close()

	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	c := NewCoordinator(id, clock.NewMock())
	c.AddTorrent(h, []Tier{
		{ok.URL + "/announce", "http://127.0.0.1:1/announce"},
	})

	res, err := c.Announce(context.Background(), h, AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881}, EventStarted)
	require.NoError(t, err)
	require.Len(t, res.Peers, 1)

	var sawError bool
	for _, r := range c.Records(h) {
		if r.Status == Error {
			sawError = true
		}
	}
	require.True(t, sawError)
}

func TestCoordinatorRemoveTorrentClearsState(t *testing.T) {
	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	c := NewCoordinator(id, clock.NewMock())
	c.AddTorrent(h, []Tier{{"http://tracker.example/announce"}})
	require.Len(t, c.Records(h), 1)

	c.RemoveTorrent(h)
	require.Len(t, c.Records(h), 0)
}
