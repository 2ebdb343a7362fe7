package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/dstore-labs/swarmd/core"
)

// stoppedAnnounceTimeout bounds how long the coordinator waits for stopped
// announces to complete during shutdown, so a dead tracker cannot hang the
// engine.
const stoppedAnnounceTimeout = 5 * time.Second

// client dispatches a single tracker announce over whichever transport the
// tracker's URL scheme implies.
type client interface {
	Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error)
}

func clientFor(rawURL string) (client, error) {
	switch {
	case len(rawURL) > 7 && rawURL[:7] == "http://":
		return NewHTTPClient(rawURL), nil
	case len(rawURL) > 8 && rawURL[:8] == "https://":
		return NewHTTPClient(rawURL), nil
	case len(rawURL) > 6 && rawURL[:6] == "udp://":
		return NewUDPClient(rawURL[6:]), nil
	default:
		return nil, fmt.Errorf("tracker: unsupported announce url %q", rawURL)
	}
}

// Tier is an ordered list of tracker URLs sharing equal priority.
type Tier []string

// Result is the combined outcome of one coordinator announce call.
type Result struct {
	Peers []PeerInfo
}

// Coordinator owns the tiered tracker lists for every torrent it manages and
// fans announces out to all of them in parallel, per swarm-efficiency
// rather than a strict one-tier-at-a-time BEP 12 fallthrough.
type Coordinator struct {
	mu     sync.Mutex
	clk    clock.Clock
	peerID core.PeerID

	records map[core.InfoHash][]Tier
	state   map[core.InfoHash]map[string]*Record
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(peerID core.PeerID, clk clock.Clock) *Coordinator {
	return &Coordinator{
		clk:     clk,
		peerID:  peerID,
		records: make(map[core.InfoHash][]Tier),
		state:   make(map[core.InfoHash]map[string]*Record),
	}
}

// AddTorrent installs tiers for h, seeding every tracker's Record as Idle.
func (c *Coordinator) AddTorrent(h core.InfoHash, tiers []Tier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[h] = tiers
	byURL := make(map[string]*Record)
	for _, tier := range tiers {
		for _, url := range tier {
			byURL[url] = NewRecord(url, c.clk)
		}
	}
	c.state[h] = byURL
}

// RemoveTorrent discards all tracker state for h.
func (c *Coordinator) RemoveTorrent(h core.InfoHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, h)
	delete(c.state, h)
}

// Announce fans the given event out to every tracker across every tier of
// h in parallel, combining and deduplicating peers from all successful
// responses. A stopped event is bounded by stoppedAnnounceTimeout and does
// not schedule a next announce.
func (c *Coordinator) Announce(ctx context.Context, h core.InfoHash, base AnnounceRequest, event Event) (*Result, error) {
	base.Event = event

	c.mu.Lock()
	byURL, ok := c.state[h]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("tracker: torrent %s not registered", h)
	}
	urls := make([]string, 0, len(byURL))
	for url := range byURL {
		urls = append(urls, url)
	}
	c.mu.Unlock()

	if event == EventStopped {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stoppedAnnounceTimeout)
		defer cancel()
	}

	type outcome struct {
		url  string
		resp *AnnounceResponse
		err  error
	}
	results := make(chan outcome, len(urls))
	for _, url := range urls {
		go func(url string) {
			cl, err := clientFor(url)
			if err != nil {
				results <- outcome{url: url, err: err}
				return
			}
			resp, err := cl.Announce(ctx, base)
			results <- outcome{url: url, resp: resp, err: err}
		}(url)
	}

	seen := make(map[string]bool)
	var combined []PeerInfo
	for i := 0; i < len(urls); i++ {
		o := <-results

		c.mu.Lock()
		rec := byURL[o.url]
		if o.err != nil {
			if event == EventStopped {
				rec.Status = Error
				rec.LastError = o.err.Error()
			} else {
				rec.ApplyFailure(o.err)
			}
		} else {
			if event != EventStopped {
				rec.ApplySuccess(o.resp)
			}
			for _, p := range o.resp.Peers {
				key := fmt.Sprintf("%s:%d", p.IP.String(), p.Port)
				if !seen[key] {
					seen[key] = true
					combined = append(combined, p)
				}
			}
		}
		c.mu.Unlock()
	}

	return &Result{Peers: combined}, nil
}

// Records returns a snapshot of every tracker Record for h, for status
// reporting.
func (c *Coordinator) Records(h core.InfoHash) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	byURL := c.state[h]
	out := make([]*Record, 0, len(byURL))
	for _, r := range byURL {
		out = append(out, r)
	}
	return out
}
