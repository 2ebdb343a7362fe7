package tracker

import (
	"errors"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
)

func TestRecordDueInitiallyTrue(t *testing.T) {
	r := NewRecord("http://tracker.example/announce", clock.NewMock())
	require.True(t, r.Due())
}

func TestRecordApplySuccessSchedulesNextAnnounce(t *testing.T) {
	mock := clock.NewMock()
	r := NewRecord("http://tracker.example/announce", mock)

	r.ApplySuccess(&AnnounceResponse{Interval: 30 * time.Minute, Complete: 3, Incomplete: 1})
	require.Equal(t, Working, r.Status)
	require.Equal(t, 3, r.Seeds)
	require.Equal(t, 1, r.Leeches)
	require.False(t, r.Due())

	mock.Add(30 * time.Minute)
	require.True(t, r.Due())
}

func TestRecordApplySuccessPrefersMinInterval(t *testing.T) {
	mock := clock.NewMock()
	r := NewRecord("http://tracker.example/announce", mock)

	r.ApplySuccess(&AnnounceResponse{Interval: 5 * time.Minute, MinInterval: 20 * time.Minute})
	mock.Add(10 * time.Minute)
	require.False(t, r.Due())
	mock.Add(10 * time.Minute)
	require.True(t, r.Due())
}

func TestRecordApplyFailureSchedulesBackoffRetry(t *testing.T) {
	mock := clock.NewMock()
	r := NewRecord("http://tracker.example/announce", mock)

	r.ApplyFailure(errors.New("connection refused"))
	require.Equal(t, Error, r.Status)
	require.Equal(t, "connection refused", r.LastError)
	require.False(t, r.Due())
}

func TestRecordMarkAnnouncing(t *testing.T) {
	r := NewRecord("http://tracker.example/announce", clock.NewMock())
	r.MarkAnnouncing()
	require.Equal(t, Announcing, r.Status)
}
