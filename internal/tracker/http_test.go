package tracker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bencode"
)

func TestPercentEncode(t *testing.T) {
	require.Equal(t, "abc123-._~", percentEncode([]byte("abc123-._~")))
	require.Equal(t, "%00%FF", percentEncode([]byte{0x00, 0xFF}))
}

func TestScrapeURLDerivation(t *testing.T) {
	u, ok := ScrapeURL("http://tracker.example/announce")
	require.True(t, ok)
	require.Equal(t, "http://tracker.example/scrape", u)

	_, ok = ScrapeURL("http://tracker.example/x")
	require.False(t, ok)
}

func buildCompactAnnounceBody(t *testing.T) []byte {
	t.Helper()
	d := bencode.NewDict()
	d.Set("interval", bencode.Int(1800))
	d.Set("complete", bencode.Int(5))
	d.Set("incomplete", bencode.Int(2))
	d.Set("peers", bencode.Bytes([]byte{192, 168, 1, 1, 0x1A, 0xE1}))
	return bencode.Marshal(bencode.DictValue(d))
}

func TestHTTPAnnounceParsesCompactPeers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildCompactAnnounceBody(t))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	resp, err := c.Announce(context.Background(), AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881})
	require.NoError(t, err)
	require.Equal(t, 5, resp.Complete)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, 6881, resp.Peers[0].Port)
}

func TestHTTPAnnounceSurfacesFailureReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := bencode.NewDict()
		d.Set("failure reason", bencode.String("torrent not found"))
		w.Write(bencode.Marshal(bencode.DictValue(d)))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	_, err := c.Announce(context.Background(), AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881})
	require.Error(t, err)
	require.IsType(t, &FailureError{}, err)
}

func TestHTTPAnnounceSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	_, err := c.Announce(context.Background(), AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881})
	require.Error(t, err)
	require.IsType(t, &HTTPError{}, err)
}

func TestHTTPAnnounceRejectsNonMultipleOf6Compact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := bencode.NewDict()
		d.Set("interval", bencode.Int(1800))
		d.Set("peers", bencode.Bytes([]byte{1, 2, 3}))
		w.Write(bencode.Marshal(bencode.DictValue(d)))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL + "/announce")
	id, _ := core.RandomPeerID()
	h, _ := core.NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")

	_, err := c.Announce(context.Background(), AnnounceRequest{InfoHash: h, PeerID: id, Port: 6881})
	require.Error(t, err)
}
