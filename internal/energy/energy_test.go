package energy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateInstantaneousClampsToZero(t *testing.T) {
	var s State
	s.UpdateInstantaneous(10, -5, 0.101, 1e-4, false)
	require.GreaterOrEqual(t, s.PowerInstW, 0.0)
}

func TestUpdateInstantaneousClampsToMax(t *testing.T) {
	var s State
	s.UpdateInstantaneous(1000, 1000, 0.101, 1e-4, false)
	require.Equal(t, 2000.0, s.PowerInstW)
}

func TestUpdateInstantaneousIntegratesOnlyInDrive(t *testing.T) {
	var s State
	s.UpdateInstantaneous(20, 5, 0.101, 1e-4, false)
	require.Equal(t, 0.0, s.DriveWorkJ)

	s.UpdateInstantaneous(20, 5, 0.101, 1e-4, true)
	require.Greater(t, s.DriveWorkJ, 0.0)
	require.Equal(t, s.DriveWorkJ, s.TotalWorkJ)
}

func TestPeakTracksMax(t *testing.T) {
	var s State
	s.UpdateInstantaneous(20, 5, 0.101, 1e-4, false)
	first := s.PowerPeakW
	s.UpdateInstantaneous(5, 1, 0.101, 1e-4, false)
	require.Equal(t, first, s.PowerPeakW)
}

func TestUpdateDisplayPowerIgnoresInvalidPace(t *testing.T) {
	var s State
	s.UpdateDisplayPower(30) // below 60s floor
	require.Equal(t, 0.0, s.PowerDisplayW)
	s.UpdateDisplayPower(20000) // above 9999 ceiling
	require.Equal(t, 0.0, s.PowerDisplayW)
}

func TestUpdateDisplayPowerInitializesThenSmooths(t *testing.T) {
	var s State
	s.UpdateDisplayPower(120) // 2 min/500m
	first := s.PowerDisplayW
	require.Greater(t, first, 0.0)

	s.UpdateDisplayPower(100) // faster pace -> higher power
	require.NotEqual(t, first, s.PowerDisplayW)
	require.Equal(t, s.PowerDisplayW, s.PowerAvgW)
}

func TestFinalizeStrokeClampsAndResets(t *testing.T) {
	var s State
	s.DriveWorkJ = 2.80 * 1000 // d = cbrt(1000) = 10
	d := s.FinalizeStroke()
	require.InDelta(t, 10.0, d, 1e-6)
	require.Equal(t, 0.0, s.DriveWorkJ)

	s.DriveWorkJ = 2.80 * 1 // d = cbrt(1) = 1, clamped to 2
	d = s.FinalizeStroke()
	require.Equal(t, 2.0, d)

	s.DriveWorkJ = 2.80 * 100000 // d = cbrt(100000) ~ 46.4, clamped to 20
	d = s.FinalizeStroke()
	require.Equal(t, 20.0, d)
}

func TestCalories(t *testing.T) {
	kcal, perHour := Calories(150, 10)
	require.InDelta(t, 0.01433*150*10+10, kcal, 1e-9)
	require.InDelta(t, kcal*6, perHour, 1e-9)

	kcal, perHour = Calories(150, 0)
	require.Equal(t, 0.0, kcal)
	require.Equal(t, 0.0, perHour)
}
