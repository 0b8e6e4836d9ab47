// Package metrics holds the canonical, mutex-protected MetricsSnapshot
// (C6) read by the session controller, broadcast fan-out, and HTTP layer.
package metrics

import (
	"fmt"
	"sync"
)

// Phase mirrors stroke.Phase without importing it, so the JSON schema's
// phase strings stay frozen independent of the stroke package's internal
// representation.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseDrive    Phase = "drive"
	PhaseRecovery Phase = "recovery"
)

// Snapshot is the full C6 aggregate. Field names are Go-idiomatic; the
// frozen wire schema is produced by View via the jsonView type below.
type Snapshot struct {
	// Timing
	ElapsedMs      int64
	SessionStarted bool
	IsPaused       bool
	PauseStartUs   int64
	TotalPausedMs  int64
	LastResumeUs   int64

	// Kinematics
	Omega float64
	Alpha float64

	// Drag
	K          float64
	DragFactor float64
	Calibrated bool

	// Stroke
	Phase          Phase
	StrokeCount    uint64
	StrokeRateSPM  float64
	AvgStrokeRate  float64

	// Power/Energy
	PowerInstW      float64
	PowerDisplayW   float64
	PowerPeakW      float64
	PowerAvgW       float64
	TotalWorkJ      float64
	CaloriesKcal    float64
	CaloriesPerHour float64

	// Distance/Pace
	DistanceM      float64
	PaceInstS500   float64
	PaceAvgS500    float64
	PaceBestS500   float64
	DistPerStrokeM float64

	// Flags
	IsActive  bool
	ValidData bool

	// Heart rate (copied from C9 by the core's 10 Hz tick, under the same lock)
	HeartRate    uint8
	AvgHeartRate uint8
	HRValid      bool
	HRStatus     string
}

// Store is the single writable MetricsSnapshot guarded by a short-held
// mutex. Writers update fields under the lock in the producing
// component; readers copy the whole struct under the lock.
type Store struct {
	mu  sync.Mutex
	snp Snapshot
}

// NewStore returns a Store seeded with an Idle, zeroed snapshot.
func NewStore() *Store {
	return &Store{snp: Snapshot{Phase: PhaseIdle}}
}

// Get returns a copy of the current snapshot.
func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snp
}

// Update runs fn with exclusive access to the snapshot. fn must not
// block or call back into Store (no lock re-entrancy).
func (s *Store) Update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snp)
}

// Reset clears session-scoped fields while preserving calibration state
// (moment of inertia lives in config, not here; K/Calibrated survive a
// reset per the session controller's start/reset contract).
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.snp.K
	calibrated := s.snp.Calibrated
	dragFactor := s.snp.DragFactor
	s.snp = Snapshot{
		Phase:      PhaseIdle,
		K:          k,
		Calibrated: calibrated,
		DragFactor: dragFactor,
	}
}

// FormatPace renders a pace in seconds/500m as "MM:SS.s", or "--:--.-" for
// an out-of-range / invalid pace.
func FormatPace(paceSeconds float64) string {
	if paceSeconds > 9999 || paceSeconds < 0 {
		return "--:--.-"
	}
	totalSeconds := int64(paceSeconds)
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	tenths := int64((paceSeconds - float64(totalSeconds)) * 10.0)
	return fmt.Sprintf("%02d:%02d.%01d", minutes, seconds, tenths)
}

// jsonView carries the frozen wire field names from
// the metrics JSON schema.
type jsonView struct {
	Distance        float64 `json:"distance"`
	Pace            float64 `json:"pace"`
	PaceStr         string  `json:"paceStr"`
	AvgPace         float64 `json:"avgPace"`
	AvgPaceStr      string  `json:"avgPaceStr"`
	Power           float64 `json:"power"`
	AvgPower        float64 `json:"avgPower"`
	PeakPower       float64 `json:"peakPower"`
	StrokeRate      float64 `json:"strokeRate"`
	AvgStrokeRate   float64 `json:"avgStrokeRate"`
	StrokeCount     uint64  `json:"strokeCount"`
	Calories        float64 `json:"calories"`
	CaloriesPerHour float64 `json:"caloriesPerHour"`
	ElapsedTime     int64   `json:"elapsedTime"`
	DragFactor      float64 `json:"dragFactor"`
	IsActive        bool    `json:"isActive"`
	IsPaused        bool    `json:"isPaused"`
	Phase           string  `json:"phase"`
	HeartRate       uint8   `json:"heartRate"`
	AvgHeartRate    uint8   `json:"avgHeartRate"`
	HRValid         bool    `json:"hrValid"`
	HRStatus        string  `json:"hrStatus"`
}

// View converts a Snapshot to its frozen wire representation.
func (s Snapshot) View() jsonView {
	return jsonView{
		Distance:        s.DistanceM,
		Pace:            s.PaceInstS500,
		PaceStr:         FormatPace(s.PaceInstS500),
		AvgPace:         s.PaceAvgS500,
		AvgPaceStr:      FormatPace(s.PaceAvgS500),
		Power:           s.PowerDisplayW,
		AvgPower:        s.PowerAvgW,
		PeakPower:       s.PowerPeakW,
		StrokeRate:      s.StrokeRateSPM,
		AvgStrokeRate:   s.AvgStrokeRate,
		StrokeCount:     s.StrokeCount,
		Calories:        s.CaloriesKcal,
		CaloriesPerHour: s.CaloriesPerHour,
		ElapsedTime:     s.ElapsedMs / 1000,
		DragFactor:      s.DragFactor,
		IsActive:        s.IsActive,
		IsPaused:        s.IsPaused,
		Phase:           string(s.Phase),
		HeartRate:       s.HeartRate,
		AvgHeartRate:    s.AvgHeartRate,
		HRValid:         s.HRValid,
		HRStatus:        s.HRStatus,
	}
}
