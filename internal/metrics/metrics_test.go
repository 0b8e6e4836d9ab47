package metrics

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetUpdateRoundTrip(t *testing.T) {
	s := NewStore()
	s.Update(func(snp *Snapshot) {
		snp.DistanceM = 123.4
		snp.Phase = PhaseDrive
	})
	got := s.Get()
	require.Equal(t, 123.4, got.DistanceM)
	require.Equal(t, PhaseDrive, got.Phase)
}

func TestResetPreservesCalibration(t *testing.T) {
	s := NewStore()
	s.Update(func(snp *Snapshot) {
		snp.K = 1.2e-4
		snp.Calibrated = true
		snp.DragFactor = 120
		snp.DistanceM = 500
		snp.StrokeCount = 10
	})
	s.Reset()
	got := s.Get()
	require.Equal(t, 1.2e-4, got.K)
	require.True(t, got.Calibrated)
	require.Equal(t, 120.0, got.DragFactor)
	require.Equal(t, 0.0, got.DistanceM)
	require.Equal(t, uint64(0), got.StrokeCount)
	require.Equal(t, PhaseIdle, got.Phase)
}

func TestFormatPace(t *testing.T) {
	require.Equal(t, "--:--.-", FormatPace(-1))
	require.Equal(t, "--:--.-", FormatPace(10000))
	require.Equal(t, "02:05.0", FormatPace(125))
}

func TestViewJSONFieldNamesFrozen(t *testing.T) {
	snp := Snapshot{
		DistanceM:   42,
		PaceInstS500: 130,
		Phase:       PhaseRecovery,
		HRStatus:    "connected",
	}
	data, err := json.Marshal(snp.View())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{
		"distance", "pace", "paceStr", "avgPace", "avgPaceStr", "power",
		"avgPower", "peakPower", "strokeRate", "avgStrokeRate",
		"strokeCount", "calories", "caloriesPerHour", "elapsedTime",
		"dragFactor", "isActive", "isPaused", "phase", "heartRate",
		"avgHeartRate", "hrValid", "hrStatus",
	} {
		_, ok := m[key]
		require.Truef(t, ok, "missing frozen field %q", key)
	}
	require.Equal(t, "recovery", m["phase"])
}
