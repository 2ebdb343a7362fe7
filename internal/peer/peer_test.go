package peer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/core"
)

func TestNewPeerInitialState(t *testing.T) {
	id, _ := core.RandomPeerID()
	p := New(id, "1.2.3.4", 6881, 10)
	require.True(t, p.AmChoking)
	require.True(t, p.PeerChoking)
	require.False(t, p.AmInterested)
}

func TestHaveAndBitfield(t *testing.T) {
	id, _ := core.RandomPeerID()
	p := New(id, "1.2.3.4", 6881, 10)
	p.Have(3)
	require.True(t, p.Bitfield().Has(3))
}

func TestThroughputSampling(t *testing.T) {
	id, _ := core.RandomPeerID()
	p := New(id, "1.2.3.4", 6881, 10)
	p.RecordIn(1000)
	p.Tick()
	p.RecordIn(2000)
	require.InDelta(t, 300, p.DownloadRate(), 0.01)
}

func TestHealthBanning(t *testing.T) {
	h := &Health{}
	now := time.Now()
	require.False(t, h.Banned(now))
	h.RecordFailure()
	h.RecordFailure()
	h.Ban(now, 10*time.Minute)
	require.True(t, h.Banned(now.Add(time.Minute)))
	require.False(t, h.Banned(now.Add(11*time.Minute)))

	h.RecordSuccess()
	require.Equal(t, 0, h.Failures)
}
