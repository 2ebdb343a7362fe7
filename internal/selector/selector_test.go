package selector

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"
)

func alwaysValid(int) bool { return true }

func TestRarestFirstOrdersByCount(t *testing.T) {
	s, err := New(RarestFirst)
	require.NoError(t, err)

	candidates := bitset.New(4)
	candidates.Set(0).Set(1).Set(2).Set(3)
	counts := []int{5, 1, 3, 0}

	got := s.Select(4, candidates, alwaysValid, counts)
	require.Equal(t, []int{3, 1, 2, 0}, got)
}

func TestSequentialOrdersByIndex(t *testing.T) {
	s, err := New(Sequential)
	require.NoError(t, err)

	candidates := bitset.New(4)
	candidates.Set(3).Set(0).Set(2)

	got := s.Select(2, candidates, alwaysValid, nil)
	require.Equal(t, []int{0, 2}, got)
}

func TestRandomRespectsLimit(t *testing.T) {
	s, err := New(Random)
	require.NoError(t, err)

	candidates := bitset.New(10)
	for i := uint(0); i < 10; i++ {
		candidates.Set(i)
	}
	got := s.Select(3, candidates, alwaysValid, nil)
	require.Len(t, got, 3)

	seen := make(map[int]bool)
	for _, p := range got {
		require.False(t, seen[p])
		seen[p] = true
	}
}

func TestSelectRespectsValid(t *testing.T) {
	s, err := New(Sequential)
	require.NoError(t, err)

	candidates := bitset.New(3)
	candidates.Set(0).Set(1).Set(2)
	got := s.Select(5, candidates, func(i int) bool { return i != 1 }, nil)
	require.Equal(t, []int{0, 2}, got)
}

func TestNewUnknownPolicy(t *testing.T) {
	_, err := New("bogus")
	require.Error(t, err)
}
