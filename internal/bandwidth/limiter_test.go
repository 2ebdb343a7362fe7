package bandwidth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReserveEgressWithinBurst(t *testing.T) {
	l := NewLimiter(Config{EgressBytesPerSec: 1024})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.ReserveEgress(ctx, 512))
}

func TestReserveRejectsOverBurst(t *testing.T) {
	l := NewLimiter(Config{EgressBytesPerSec: 100})
	err := l.ReserveEgress(context.Background(), 1000)
	require.Error(t, err)
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	l := NewLimiter(Config{EgressBytesPerSec: 1, Disable: true})
	require.NoError(t, l.ReserveEgress(context.Background(), 1_000_000))
}
