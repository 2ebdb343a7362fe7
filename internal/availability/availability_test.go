package availability

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/internal/bitfield"
)

func TestAddPeerAndCounts(t *testing.T) {
	tr := New(4)
	bf := bitfield.New(4)
	bf.Set(0)
	bf.Set(2)
	tr.AddPeer("peer-a", bf)

	require.Equal(t, 1, tr.Count(0))
	require.Equal(t, 0, tr.Count(1))
	require.Equal(t, 1, tr.Count(2))
	require.Equal(t, 1, tr.NumPeers())
}

func TestHaveIsIdempotent(t *testing.T) {
	tr := New(4)
	tr.Have("peer-a", 1)
	tr.Have("peer-a", 1)
	require.Equal(t, 1, tr.Count(1))
}

func TestRemovePeerDecrementsCounts(t *testing.T) {
	tr := New(4)
	bf := bitfield.New(4)
	bf.Set(0)
	tr.AddPeer("peer-a", bf)
	tr.Have("peer-b", 0)
	require.Equal(t, 2, tr.Count(0))

	tr.RemovePeer("peer-a")
	require.Equal(t, 1, tr.Count(0))
	require.Equal(t, 1, tr.NumPeers())
}

func TestPeerBitfieldIsCopy(t *testing.T) {
	tr := New(4)
	tr.Have("peer-a", 0)
	bf := tr.PeerBitfield("peer-a")
	bf.Set(1)
	require.False(t, tr.PeerBitfield("peer-a").Has(1))
}
