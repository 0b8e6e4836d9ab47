// Package kinematics estimates angular velocity and acceleration from
// successive flywheel pulse timestamps.
package kinematics

import "math"

// Sample holds the C2 kinematics state, updated per flywheel pulse.
type Sample struct {
	OmegaPrev         float64
	Omega             float64
	Alpha             float64
	PeakOmegaInStroke float64
	PulsesSeen        uint64
	ValidData         bool

	tPrevUs int64
}

// Valid inter-pulse interval range in seconds; outside this range the
// sample is discarded and the previous omega/alpha retained.
const (
	minDt = 0.001
	maxDt = 10.0
)

// Update folds in a new flywheel pulse timestamp (monotonic microseconds)
// and returns true if the sample was accepted. Rejected deltas leave the
// previous omega/alpha untouched.
func (s *Sample) Update(tUs int64, magnetsPerRev int) bool {
	s.PulsesSeen++

	if s.PulsesSeen == 1 {
		s.tPrevUs = tUs
		return false
	}

	dt := float64(tUs-s.tPrevUs) / 1e6
	if dt <= minDt || dt >= maxDt {
		s.tPrevUs = tUs
		return false
	}

	omegaNew := (2 * math.Pi / float64(magnetsPerRev)) / dt
	alphaNew := 0.0
	if s.PulsesSeen > 2 {
		alphaNew = (omegaNew - s.Omega) / dt
	}

	s.OmegaPrev = s.Omega
	s.Omega = omegaNew
	s.Alpha = alphaNew
	s.tPrevUs = tUs

	if omegaNew > s.PeakOmegaInStroke {
		s.PeakOmegaInStroke = omegaNew
	}
	if !s.ValidData && s.PulsesSeen >= 2 {
		s.ValidData = true
	}
	return true
}

// ResetPeak clears the per-stroke peak tracker, called on a Drive-phase
// transition.
func (s *Sample) ResetPeak(omega float64) {
	s.PeakOmegaInStroke = omega
}
