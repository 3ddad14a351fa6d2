package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

func TestRequestTrackerIdsStrictlyIncreasing(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	a := tr.Next()
	b := tr.Next()
	c := tr.Next()
	require.Equal(t, uint64(1), a)
	require.Greater(t, b, a)
	require.Greater(t, c, b)
}

func TestRequestTrackerTrackAndResolve(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	id := tr.Next()
	done, err := tr.Track(id, 1)
	require.NoError(t, err)
	require.Equal(t, 1, tr.PendingCount())

	require.True(t, tr.Resolve(id, domain.RequestAcknowledged, 42))
	require.Equal(t, 0, tr.PendingCount())

	select {
	case state := <-done:
		require.Equal(t, domain.RequestAcknowledged, state)
	default:
		t.Fatal("expected resolution on done channel")
	}

	// Double resolution is a no-op.
	require.False(t, tr.Resolve(id, domain.RequestRejected, 0))
}

func TestRequestTrackerRejectsUnissuedID(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	_, err := tr.Track(5, 1)
	require.Error(t, err)
}

func TestRequestTrackerRejectsStaleID(t *testing.T) {
	tr := NewRequestTracker(time.Second)
	low := tr.Next()
	high := tr.Next()

	_, err := tr.Track(high, 1)
	require.NoError(t, err)

	// A lower id than a pending one must be rejected before it reaches the
	// wire.
	_, err = tr.Track(low, 1)
	require.ErrorIs(t, err, domain.ErrStaleRequestID)

	// Re-tracking a pending id is likewise stale.
	_, err = tr.Track(high, 1)
	require.ErrorIs(t, err, domain.ErrStaleRequestID)
}

func TestRequestTrackerSweepExpiresToUnknown(t *testing.T) {
	tr := NewRequestTracker(10 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }

	id := tr.Next()
	done, err := tr.Track(id, 1)
	require.NoError(t, err)

	// Inside the timeout nothing expires.
	now = now.Add(5 * time.Second)
	require.Empty(t, tr.Sweep())

	now = now.Add(6 * time.Second)
	expired := tr.Sweep()
	require.Equal(t, []uint64{id}, expired)
	require.Equal(t, domain.RequestUnknown, <-done)
	require.Equal(t, 0, tr.PendingCount())
}

func TestRequestTrackerResolveRacesSweep(t *testing.T) {
	tr := NewRequestTracker(10 * time.Second)
	now := time.Unix(1_700_000_000, 0)
	tr.now = func() time.Time { return now }

	id := tr.Next()
	done, err := tr.Track(id, 1)
	require.NoError(t, err)

	require.True(t, tr.Resolve(id, domain.RequestAcknowledged, 7))
	now = now.Add(time.Minute)
	require.Empty(t, tr.Sweep())
	require.Equal(t, domain.RequestAcknowledged, <-done)
}

func TestRequestTrackerInvalidateEpoch(t *testing.T) {
	tr := NewRequestTracker(time.Second)

	oldID := tr.Next()
	oldDone, err := tr.Track(oldID, 1)
	require.NoError(t, err)

	newID := tr.Next()
	newDone, err := tr.Track(newID, 2)
	require.NoError(t, err)

	invalidated := tr.InvalidateEpoch(2)
	require.Equal(t, []uint64{oldID}, invalidated)
	require.Equal(t, domain.RequestUnknown, <-oldDone)

	// The current epoch's request is untouched.
	require.Equal(t, 1, tr.PendingCount())
	select {
	case <-newDone:
		t.Fatal("current-epoch request must stay pending")
	default:
	}
}
