package piece

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockLifecycle(t *testing.T) {
	m := NewMap([]int64{BlockSize*2 + 100})
	require.Equal(t, Missing, m.State(0))
	require.Equal(t, 3, m.NumBlocks(0))

	m.SetBlockState(0, 0, BlockRequested)
	require.Equal(t, Partial, m.State(0))

	m.WriteBlock(0, 0, make([]byte, BlockSize))
	m.SetBlockState(0, 0, BlockReceived)
	require.False(t, m.AllBlocksReceived(0))

	m.SetBlockState(0, 1, BlockReceived)
	m.SetBlockState(0, 2, BlockReceived)
	require.True(t, m.AllBlocksReceived(0))

	m.MarkComplete(0)
	require.Equal(t, Complete, m.State(0))
	require.True(t, m.Bitfield().Has(0))
	require.Nil(t, m.Bytes(0))
}

func TestMarkFailedResets(t *testing.T) {
	m := NewMap([]int64{BlockSize})
	m.SetBlockState(0, 0, BlockReceived)
	m.MarkFailed(0)
	require.Equal(t, Missing, m.State(0))
	require.Equal(t, BlockMissing, m.BlockState(0, 0))
	require.False(t, m.Bitfield().Has(0))
}

func TestBlockLength(t *testing.T) {
	require.EqualValues(t, BlockSize, BlockLength(BlockSize*2, 0))
	require.EqualValues(t, 100, BlockLength(BlockSize+100, 1))
	require.EqualValues(t, 0, BlockLength(BlockSize, 1))
}

func TestVerifierVerify(t *testing.T) {
	data := []byte("hello world")
	h := sha1.Sum(data)
	v := NewVerifier([][20]byte{h})

	ok, err := v.Verify(0, data)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = v.Verify(0, []byte("corrupt"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = v.Verify(1, data)
	require.Error(t, err)
	require.IsType(t, &OutOfBoundsError{}, err)
}

func TestVerifierScan(t *testing.T) {
	data0 := []byte("piece-zero")
	data1 := []byte("piece-one")
	v := NewVerifier([][20]byte{sha1.Sum(data0), sha1.Sum(data1)})

	pieces := [][]byte{data0, []byte("wrong")}
	var yields int
	results := v.Scan(func(i int) ([]byte, error) {
		return pieces[i], nil
	}, func() { yields++ })

	require.Len(t, results, 2)
	require.True(t, results[0].OK)
	require.False(t, results[1].OK)
	require.Equal(t, 2, yields)
}
