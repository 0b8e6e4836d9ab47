// Package energy computes instantaneous and display power, work
// integration, per-stroke distance, and calories (C5).
package energy

import "math"

const (
	powerClampMin = 0.0
	powerClampMax = 2000.0

	nominalDtS = 0.050 // nominal integration step; see design notes

	displayPowerClamp = 1000.0
	displayEMAOld      = 0.7
	displayEMANew      = 0.3
	minAvgPaceS500     = 60.0
	maxAvgPaceS500     = 9999.0

	concept2Constant = 2.80

	distancePerStrokeMin = 2.0
	distancePerStrokeMax = 20.0

	caloriesPerWattMinute = 0.01433
	caloriesBaselinePerMin = 1.0

	paceSentinel  = 999999.0
	paceMinMeters = 1.0
)

// State holds the C5 power/energy accumulators.
type State struct {
	DriveWorkJ     float64
	TotalWorkJ     float64
	PowerInstW     float64
	PowerDisplayW  float64
	PowerPeakW     float64
	PowerAvgW      float64

	displayInitialized bool
}

// UpdateInstantaneous computes P_inst from the current kinematics and drag
// state, clamps it, updates the peak, and, when inDrive is true,
// integrates drive/total work using the nominal dt.
func (s *State) UpdateInstantaneous(omega, alpha, momentOfInertia, k float64, inDrive bool) {
	p := momentOfInertia*alpha*omega + k*omega*omega*omega
	if p < powerClampMin {
		p = powerClampMin
	}
	if p > powerClampMax {
		p = powerClampMax
	}
	s.PowerInstW = p

	if p > s.PowerPeakW {
		s.PowerPeakW = p
	}

	if inDrive {
		work := p * nominalDtS
		s.DriveWorkJ += work
		s.TotalWorkJ += work
	}
}

// UpdateDisplayPower recomputes the smoothed display/average power from a
// valid average pace (seconds per 500m). Callers should only invoke this
// when avgPaceS500 is within (minAvgPaceS500, maxAvgPaceS500); otherwise
// the previous display power is retained.
func (s *State) UpdateDisplayPower(avgPaceS500 float64) {
	if avgPaceS500 <= minAvgPaceS500 || avgPaceS500 >= maxAvgPaceS500 {
		return
	}
	v := avgPaceS500 / 500.0 // s/m
	pc2 := concept2Constant / (v * v * v)
	if pc2 < 0 {
		pc2 = 0
	}
	if pc2 > displayPowerClamp {
		pc2 = displayPowerClamp
	}

	if !s.displayInitialized {
		s.PowerDisplayW = pc2
		s.displayInitialized = true
	} else {
		s.PowerDisplayW = displayEMAOld*s.PowerDisplayW + displayEMANew*pc2
	}
	s.PowerAvgW = s.PowerDisplayW
}

// UpdatePace computes instantaneous and average pace (seconds per 500m)
// from elapsed session time and total distance, and tracks the best pace
// seen so far. Below paceMinMeters both pace values are the sentinel
// paceSentinel, matching a session that hasn't moved yet. There is no
// rolling window for instantaneous pace: it mirrors the average, same as
// the firmware this was ported from. prevBestS500 of zero means no best
// has been recorded yet.
func UpdatePace(elapsedS, distanceM, prevBestS500 float64) (instS500, avgS500, bestS500 float64) {
	if distanceM < paceMinMeters {
		return paceSentinel, paceSentinel, prevBestS500
	}

	avg := (elapsedS / distanceM) * 500.0
	inst := avg

	best := prevBestS500
	if inst > minAvgPaceS500 && (best == 0 || inst < best) {
		best = inst
	}

	return inst, avg, best
}

// FinalizeStroke converts the accumulated drive work into a per-stroke
// distance using Concept2's P = 2.80*v^3 boat-drag relation rearranged,
// clamps it to [2, 20] meters, and resets the drive-work accumulator.
func (s *State) FinalizeStroke() float64 {
	d := math.Cbrt(s.DriveWorkJ / concept2Constant)
	if d < distancePerStrokeMin {
		d = distancePerStrokeMin
	}
	if d > distancePerStrokeMax {
		d = distancePerStrokeMax
	}
	s.DriveWorkJ = 0
	return d
}

// ResetDriveWork zeroes the drive-work accumulator without computing a
// distance, and zeroes the display power, used on a Drive-phase (re)start.
// PowerAvgW keeps its value until the next UpdateDisplayPower call, which
// smooths up again from the zeroed display power.
func (s *State) ResetDriveWork() {
	s.DriveWorkJ = 0
	s.PowerDisplayW = 0
}

// Calories computes total calories and the current calories/hour rate
// given elapsed session minutes.
func Calories(powerAvgW, elapsedMin float64) (kcal, kcalPerHour float64) {
	if elapsedMin <= 0 {
		return 0, 0
	}
	kcal = caloriesPerWattMinute*powerAvgW*elapsedMin + caloriesBaselinePerMin*elapsedMin
	kcalPerHour = kcal * 60.0 / elapsedMin
	return kcal, kcalPerHour
}
