package session

import (
	"testing"

	"github.com/ergorower/ergocore/internal/config"
	"github.com/ergorower/ergocore/internal/heartrate"
	"github.com/ergorower/ergocore/internal/metrics"
	"github.com/ergorower/ergocore/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ms int64 }

func (f fakeClock) UnixMs() int64 { return f.ms }

func newTestController(t *testing.T) *Controller {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ms := metrics.NewStore()
	hr := heartrate.New()
	cfg := config.Default()
	return NewController(st, ms, hr, cfg, fakeClock{ms: 1_000_000}, nil)
}

func TestStartFromNoneAssignsIncrementingIDs(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	require.Equal(t, Running, c.State())
	first := c.id
	_, err := c.Stop(0)
	require.NoError(t, err)

	require.NoError(t, c.Start(0))
	require.Equal(t, first+1, c.id)
}

func TestPauseResumeAccumulatesPausedTime(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	require.NoError(t, c.Pause(1_000_000))
	require.Equal(t, Paused, c.State())
	require.NoError(t, c.Resume(3_000_000))
	require.Equal(t, Running, c.State())
	require.Equal(t, int64(2000), c.totalPausedMs)
}

func TestPauseFromNoneIsInvalid(t *testing.T) {
	c := newTestController(t)
	err := c.Pause(0)
	require.ErrorIs(t, err, ErrBadTransition)
}

func TestStopDiscardsShortSession(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	// stroke_count and distance_m remain 0 -- below commit thresholds
	committed, err := c.Stop(5_000_000)
	require.NoError(t, err)
	require.False(t, committed)
	require.Equal(t, None, c.State())

	_, err = c.Get(c.id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStopCommitsQualifyingSessionAndItIsRetrievable(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	c.ms.Update(func(s *metrics.Snapshot) {
		s.StrokeCount = 10
		s.DistanceM = 150
		s.PowerAvgW = 120
	})
	committed, err := c.Stop(10_000_000)
	require.NoError(t, err)
	require.True(t, committed)

	rec, err := c.Get(c.id)
	require.NoError(t, err)
	require.Equal(t, uint64(10), rec.StrokeCount)
	require.Equal(t, 150.0, rec.DistanceM)
}

func TestSampleAppendsRowOnlyWhileRunning(t *testing.T) {
	c := newTestController(t)
	c.Sample(0) // not running: no-op
	require.Len(t, c.samples, 0)

	require.NoError(t, c.Start(0))
	c.ms.Update(func(s *metrics.Snapshot) {
		s.PowerInstW = 200
		s.DistanceM = 5
	})
	c.Sample(1_000_000)
	require.Len(t, c.samples, 1)
	require.Equal(t, uint16(200), c.samples[0].PowerW)
}

func TestSampleRingStopsAtCapacity(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	c.samples = make([]SampleRow, MaxSamples)
	c.Sample(1_000_000)
	require.Len(t, c.samples, MaxSamples)
}

func TestAutoActivityStartsSessionOnRecentActivity(t *testing.T) {
	c := newTestController(t)
	// lastDriveStart 1s ago, autoPauseS default 5 -> recent activity
	c.Tick(6_000_000, 1, 5_000_000, false)
	require.Equal(t, Running, c.State())
}

func TestAutoActivitySuppressedDuringCalibration(t *testing.T) {
	c := newTestController(t)
	c.Tick(6_000_000, 1, 5_000_000, true)
	require.Equal(t, None, c.State())
}

func TestAutoActivityPausesOnInactivity(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	// no recent drive activity at all (lastDriveStartUs=0)
	c.Tick(1_000_000, 0, 0, false)
	require.Equal(t, Paused, c.State())
}

func TestDeleteRemovesRecordAndSamples(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Start(0))
	c.ms.Update(func(s *metrics.Snapshot) {
		s.StrokeCount = 10
		s.DistanceM = 150
	})
	_, err := c.Stop(10_000_000)
	require.NoError(t, err)

	id := c.id
	require.NoError(t, c.Delete(id))
	_, err = c.Get(id)
	require.ErrorIs(t, err, ErrNotFound)
}
