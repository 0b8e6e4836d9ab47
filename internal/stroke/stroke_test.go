package stroke

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		DriveStartOmega: 12,
		DriveAccelAlpha: 5,
		RecoveryOmega:   8,
		MinStrokeMs:     200,
	}
}

func TestIdleToDriveTransition(t *testing.T) {
	var s State
	th := defaultThresholds()

	tr := s.OnPulse(15, 10, 15, 1_000_000, th)
	require.True(t, tr.Changed)
	require.Equal(t, Idle, tr.From)
	require.Equal(t, Drive, tr.To)
	require.Equal(t, Drive, s.Phase)
	require.True(t, tr.ResetDriveWork)
}

func TestDriveToRecoveryCountsStroke(t *testing.T) {
	var s State
	th := defaultThresholds()

	s.OnPulse(15, 10, 15, 0, th) // Idle -> Drive at t=0
	tr := s.OnPulse(20, -5, 35, 800_000, th)

	require.Equal(t, Recovery, tr.To)
	require.True(t, tr.StrokeCompleted)
	require.Equal(t, uint64(1), s.StrokeCount)
	require.Equal(t, int64(800), s.DriveMsLast)
}

func TestDriveToRecoveryTooShortNotCounted(t *testing.T) {
	var s State
	th := defaultThresholds()

	s.OnPulse(15, 10, 15, 0, th)
	tr := s.OnPulse(20, -5, 35, 100_000, th) // only 100ms, below MinStrokeMs

	require.Equal(t, Recovery, tr.To)
	require.False(t, tr.StrokeCompleted)
	require.Equal(t, uint64(0), s.StrokeCount)
}

func TestRecoveryToIdle(t *testing.T) {
	var s State
	th := defaultThresholds()

	s.OnPulse(15, 10, 15, 0, th)
	s.OnPulse(20, -5, 35, 800_000, th) // -> Recovery

	tr := s.OnPulse(5, -2, 35, 1_200_000, th)
	require.Equal(t, Idle, tr.To)
}

func TestRecoveryToDriveReaccelerate(t *testing.T) {
	var s State
	th := defaultThresholds()

	s.OnPulse(15, 10, 15, 0, th)
	s.OnPulse(20, -5, 35, 800_000, th) // -> Recovery

	tr := s.OnPulse(14, 6, 35, 1_000_000, th)
	require.Equal(t, Drive, tr.To)
	require.True(t, tr.ResetDriveWork)
}

func TestSeatTriggerForcesDriveFromIdle(t *testing.T) {
	var s State
	th := defaultThresholds()

	tr := s.OnSeatTrigger(10, 500_000, th)
	require.Equal(t, Drive, tr.To)
	require.True(t, tr.Changed)
}

func TestSeatTriggerIgnoredBelowThreshold(t *testing.T) {
	var s State
	th := defaultThresholds()

	tr := s.OnSeatTrigger(3, 500_000, th)
	require.False(t, tr.Changed)
	require.Equal(t, Idle, s.Phase)
}

func TestSeatTriggerNoopDuringDrive(t *testing.T) {
	var s State
	th := defaultThresholds()
	s.OnPulse(15, 10, 15, 0, th) // -> Drive

	tr := s.OnSeatTrigger(20, 400_000, th)
	require.False(t, tr.Changed)
}

func TestStrokeRateClampAndEMA(t *testing.T) {
	var s State
	s.DriveMsLast = 300
	s.RecoveryMsLast = 300 // 600ms cycle -> 100 spm raw, clamped to 60
	s.UpdateStrokeRate(1.0)
	require.Equal(t, 60.0, s.StrokeRateSPM)

	s.DriveMsLast = 3000
	s.RecoveryMsLast = 3000 // 6000ms cycle -> 10 spm raw
	s.UpdateStrokeRate(1.0)
	require.InDelta(t, 0.7*60+0.3*10, s.StrokeRateSPM, 1e-9)
}

func TestPhaseReachabilityFromIdle(t *testing.T) {
	var s State
	th := defaultThresholds()
	// From Idle, a pulse that doesn't meet the drive guard stays Idle.
	tr := s.OnPulse(5, 1, 5, 100_000, th)
	require.False(t, tr.Changed)
	require.Equal(t, Idle, s.Phase)
}
