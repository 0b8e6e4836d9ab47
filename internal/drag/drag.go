// Package drag implements the online drag-coefficient calibrator (C3): an
// exponential moving average of k computed from recovery-phase
// deceleration, grounded on rowing_physics_calibrate_drag in the original
// firmware.
package drag

import "math"

const (
	emaGain     = 0.05
	minOmegaAbs = 1.0
	maxKMeas    = 0.01
	completeAt  = 50
	factorScale = 1e6
)

// State holds the C3 drag-calibration state.
type State struct {
	K         float64
	Samples   uint64
	KComplete bool
}

// Update folds in a candidate measurement derived from a recovery-phase
// pulse. Callers must only invoke this when the enclosing phase is
// Recovery and alpha < 0; Update itself enforces the omega/k_meas
// acceptance gates.
func (s *State) Update(momentOfInertia, omega, alpha float64) {
	if math.Abs(omega) < minOmegaAbs {
		return
	}
	kMeas := -momentOfInertia * alpha / (omega * omega)
	if kMeas < 0 || kMeas > maxKMeas {
		return
	}

	if s.Samples == 0 {
		s.K = kMeas
	} else {
		s.K = (1-emaGain)*s.K + emaGain*kMeas
	}
	s.Samples++
	if s.Samples >= completeAt {
		s.KComplete = true
	}
}

// DragFactor returns the UI-facing drag factor, k scaled for parity with
// common industry displays.
func (s *State) DragFactor() float64 {
	return s.K * factorScale
}
