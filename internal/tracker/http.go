package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dstore-labs/swarmd/core"
	"github.com/dstore-labs/swarmd/internal/bencode"
)

// Event is the optional lifecycle event sent with an announce.
type Event string

// Announce events.
const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventCompleted Event = "completed"
	EventStopped   Event = "stopped"
)

// AnnounceRequest is the set of parameters sent to a tracker.
type AnnounceRequest struct {
	InfoHash   core.InfoHash
	PeerID     core.PeerID
	Port       int
	Uploaded   int64
	Downloaded int64
	Left       int64
	Event      Event
	NumWant    int
}

// PeerInfo is one peer returned by a tracker.
type PeerInfo struct {
	IP     net.IP
	Port   int
	PeerID core.PeerID
}

// AnnounceResponse is a successful tracker announce response.
type AnnounceResponse struct {
	Interval    time.Duration
	MinInterval time.Duration
	Complete    int
	Incomplete  int
	TrackerID   string
	Peers       []PeerInfo
}

// HTTPClient announces to a single HTTP tracker.
type HTTPClient struct {
	AnnounceURL string
	HTTP        *http.Client
}

// NewHTTPClient constructs an HTTPClient for the given announce URL.
func NewHTTPClient(announceURL string) *HTTPClient {
	return &HTTPClient{AnnounceURL: announceURL, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

// Announce performs an HTTP GET announce against the tracker.
func (c *HTTPClient) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	if len(req.InfoHash.Bytes()) != 20 {
		return nil, fmt.Errorf("tracker: info hash must be 20 bytes")
	}
	if len(req.PeerID[:]) != 20 {
		return nil, fmt.Errorf("tracker: peer id must be 20 bytes")
	}

	u := buildAnnounceURL(c.AnnounceURL, req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseAnnounceResponse(body)
}

// ScrapeURL derives the scrape URL from an announce URL by replacing the
// last path segment's "announce" substring with "scrape". Returns false if
// the announce URL does not support scrape.
func ScrapeURL(announceURL string) (string, bool) {
	idx := strings.LastIndex(announceURL, "/")
	if idx < 0 {
		return "", false
	}
	lastSeg := announceURL[idx+1:]
	if !strings.Contains(lastSeg, "announce") {
		return "", false
	}
	return announceURL[:idx+1] + strings.Replace(lastSeg, "announce", "scrape", 1), true
}

// ScrapeResult is one torrent's stats from a scrape response.
type ScrapeResult struct {
	Complete   int
	Downloaded int
	Incomplete int
}

// Scrape performs an HTTP scrape for the given info hashes, keyed by hex
// info-hash in the result.
func (c *HTTPClient) Scrape(ctx context.Context, hashes []core.InfoHash) (map[string]ScrapeResult, error) {
	scrapeURL, ok := ScrapeURL(c.AnnounceURL)
	if !ok {
		return nil, fmt.Errorf("tracker: scrape unsupported for %s", c.AnnounceURL)
	}

	q := make([]string, len(hashes))
	for i, h := range hashes {
		q[i] = "info_hash=" + percentEncode(h.Bytes())
	}
	u := scrapeURL + "?" + strings.Join(q, "&")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseScrapeResponse(body)
}

func buildAnnounceURL(announceURL string, req AnnounceRequest) string {
	sep := "?"
	if strings.Contains(announceURL, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(announceURL)
	b.WriteString(sep)
	b.WriteString("info_hash=")
	b.WriteString(percentEncode(req.InfoHash.Bytes()))
	b.WriteString("&peer_id=")
	b.WriteString(percentEncode(req.PeerID[:]))
	b.WriteString("&port=")
	b.WriteString(strconv.Itoa(req.Port))
	b.WriteString("&uploaded=")
	b.WriteString(strconv.FormatInt(req.Uploaded, 10))
	b.WriteString("&downloaded=")
	b.WriteString(strconv.FormatInt(req.Downloaded, 10))
	b.WriteString("&left=")
	b.WriteString(strconv.FormatInt(req.Left, 10))
	b.WriteString("&compact=1")
	if req.Event != EventNone {
		b.WriteString("&event=")
		b.WriteString(string(req.Event))
	}
	if req.NumWant > 0 {
		b.WriteString("&numwant=")
		b.WriteString(strconv.Itoa(req.NumWant))
	}
	return b.String()
}

// percentEncode encodes raw bytes per the BitTorrent tracker convention:
// only A-Z a-z 0-9 - . _ ~ pass through unescaped, everything else becomes
// %XX with uppercase hex digits.
func percentEncode(b []byte) string {
	const hex = "0123456789ABCDEF"
	var out strings.Builder
	for _, c := range b {
		if isUnreserved(c) {
			out.WriteByte(c)
		} else {
			out.WriteByte('%')
			out.WriteByte(hex[c>>4])
			out.WriteByte(hex[c&0x0F])
		}
	}
	return out.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

func parseAnnounceResponse(body []byte) (*AnnounceResponse, error) {
	v, err := bencode.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("tracker: malformed bencode response: %s", err)
	}
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("tracker: response is not a dict")
	}
	d := v.Dict()

	if fr, ok := d.Get("failure reason"); ok {
		return nil, &FailureError{Reason: fr.Str()}
	}

	resp := &AnnounceResponse{}
	intervalVal, ok := d.Get("interval")
	if !ok {
		return nil, fmt.Errorf("tracker: response missing interval")
	}
	resp.Interval = time.Duration(intervalVal.Int64()) * time.Second

	if mi, ok := d.Get("min interval"); ok {
		resp.MinInterval = time.Duration(mi.Int64()) * time.Second
	}
	if c, ok := d.Get("complete"); ok {
		resp.Complete = int(c.Int64())
	}
	if ic, ok := d.Get("incomplete"); ok {
		resp.Incomplete = int(ic.Int64())
	}
	if tid, ok := d.Get("tracker id"); ok {
		resp.TrackerID = tid.Str()
	}

	peersVal, ok := d.Get("peers")
	if ok {
		peers, err := parsePeers(peersVal)
		if err != nil {
			return nil, err
		}
		resp.Peers = peers
	}
	return resp, nil
}

func parsePeers(v *bencode.Value) ([]PeerInfo, error) {
	switch v.Kind() {
	case bencode.KindBytes:
		raw := v.Bytes()
		if len(raw)%6 != 0 {
			return nil, fmt.Errorf("tracker: compact peers length %d not a multiple of 6", len(raw))
		}
		var peers []PeerInfo
		for i := 0; i < len(raw); i += 6 {
			ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3])
			port := binary.BigEndian.Uint16(raw[i+4 : i+6])
			peers = append(peers, PeerInfo{IP: ip, Port: int(port)})
		}
		return peers, nil
	case bencode.KindList:
		var peers []PeerInfo
		for _, pv := range v.List() {
			if pv.Kind() != bencode.KindDict {
				return nil, fmt.Errorf("tracker: peer list entry is not a dict")
			}
			pd := pv.Dict()
			ipVal, ok := pd.Get("ip")
			if !ok {
				return nil, fmt.Errorf("tracker: peer entry missing ip")
			}
			portVal, ok := pd.Get("port")
			if !ok {
				return nil, fmt.Errorf("tracker: peer entry missing port")
			}
			p := PeerInfo{IP: net.ParseIP(ipVal.Str()), Port: int(portVal.Int64())}
			if pid, ok := pd.Get("peer id"); ok {
				b := pid.Bytes()
				if len(b) == 20 {
					copy(p.PeerID[:], b)
				}
			}
			peers = append(peers, p)
		}
		return peers, nil
	default:
		return nil, fmt.Errorf("tracker: peers field has unexpected kind")
	}
}

func parseScrapeResponse(body []byte) (map[string]ScrapeResult, error) {
	v, err := bencode.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	if v.Kind() != bencode.KindDict {
		return nil, fmt.Errorf("tracker: scrape response is not a dict")
	}
	filesVal, ok := v.Dict().Get("files")
	if !ok || filesVal.Kind() != bencode.KindDict {
		return map[string]ScrapeResult{}, nil
	}

	out := make(map[string]ScrapeResult)
	for _, key := range filesVal.Dict().Keys() {
		fv, _ := filesVal.Dict().Get(key)
		if fv.Kind() != bencode.KindDict {
			continue
		}
		fd := fv.Dict()
		var r ScrapeResult
		if c, ok := fd.Get("complete"); ok {
			r.Complete = int(c.Int64())
		}
		if d, ok := fd.Get("downloaded"); ok {
			r.Downloaded = int(d.Int64())
		}
		if ic, ok := fd.Get("incomplete"); ok {
			r.Incomplete = int(ic.Int64())
		}
		out[fmt.Sprintf("%x", key)] = r
	}
	return out, nil
}
