package tracker

import (
	"time"

	"github.com/andres-erbsen/clock"
	backoff "github.com/cenkalti/backoff"
)

// RecordStatus is the lifecycle of a single tracker within a coordinator.
type RecordStatus int

// Record statuses.
const (
	Idle RecordStatus = iota
	Announcing
	Working
	Error
)

// Announcer abstracts an HTTP or UDP tracker client so Record doesn't care
// which transport backs a given announce URL.
type Announcer interface {
	Announce(req AnnounceRequest) (*AnnounceResponse, error)
}

// Record tracks one tracker's state across a torrent's lifetime: its
// announce schedule, last known seed/leech counts, and any error.
type Record struct {
	URL    string
	Status RecordStatus

	Seeds      int
	Leeches    int
	TrackerID  string
	LastError  string
	NextAnnounceAt time.Time

	backoff *backoff.ExponentialBackOff
	clk     clock.Clock
}

// NewRecord creates an idle Record for the given tracker URL.
func NewRecord(url string, clk clock.Clock) *Record {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.MaxInterval = 30 * time.Minute
	b.MaxElapsedTime = 0
	return &Record{URL: url, Status: Idle, backoff: b, clk: clk}
}

// Due reports whether the record's next scheduled announce has arrived.
func (r *Record) Due() bool {
	return r.NextAnnounceAt.IsZero() || !r.clk.Now().Before(r.NextAnnounceAt)
}

// ApplySuccess transitions the record to Working, records the response
// stats, and schedules the next announce at max(minInterval, response
// interval), resetting the failure backoff.
func (r *Record) ApplySuccess(resp *AnnounceResponse) {
	r.Status = Working
	r.LastError = ""
	r.Seeds = resp.Complete
	r.Leeches = resp.Incomplete
	if resp.TrackerID != "" {
		r.TrackerID = resp.TrackerID
	}
	interval := resp.Interval
	if resp.MinInterval > interval {
		interval = resp.MinInterval
	}
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	r.NextAnnounceAt = r.clk.Now().Add(interval)
	r.backoff.Reset()
}

// ApplyFailure transitions the record to Error, stores the failure message,
// and schedules a retry via exponential backoff.
func (r *Record) ApplyFailure(err error) {
	r.Status = Error
	r.LastError = err.Error()
	r.NextAnnounceAt = r.clk.Now().Add(r.backoff.NextBackOff())
}

// MarkAnnouncing transitions the record to Announcing, called just before
// dispatching a request.
func (r *Record) MarkAnnouncing() {
	r.Status = Announcing
}
