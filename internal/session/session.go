// Package session implements the Session Controller (C7): lifecycle
// commands, the per-second sample ring, auto-pause/auto-resume, and
// persisted SessionRecords, aggregated behind one long-lived,
// mutex-protected controller with slot-addressed persistence.
package session

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ergorower/ergocore/internal/config"
	"github.com/ergorower/ergocore/internal/heartrate"
	"github.com/ergorower/ergocore/internal/metrics"
	"github.com/ergorower/ergocore/internal/store"
	"github.com/ergorower/ergocore/internal/telemetry"
)

// State is the session lifecycle state.
type State int

const (
	None State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case None:
		return "none"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

const (
	// slotCount bounds persisted session records to a rotating window.
	slotCount = 20
	// MaxSamples caps the per-session sample ring at two hours of
	// one-per-second rows.
	MaxSamples = 7200

	minStrokesToCommit = 5
	minDistanceToCommit = 10.0

	countKey        = "session/count"
	recordKeyPrefix = "session/"
)

// ErrNotFound is returned when a requested session id's slot has been
// overwritten by a newer session.
var ErrNotFound = errors.New("session: not found")

// ErrBadTransition is returned for a command invalid in the current state.
var ErrBadTransition = errors.New("session: invalid state transition")

// SampleRow is one second of recorded session data.
type SampleRow struct {
	PowerW          uint16
	VelocityCmS     uint16
	HRBpm           uint8
	Reserved        uint8
	DistanceDmDelta uint16
}

// SessionRecord is the persisted aggregate for a completed session.
type SessionRecord struct {
	ID            uint64
	StartUnixMs   int64
	DurationS     int64
	DistanceM     float64
	StrokeCount   uint64
	CaloriesKcal  float64
	PowerAvgW     float64
	PaceAvgS500   float64
	DragFactor    float64
	AvgHR         uint8
	MaxHR         uint8
	AvgStrokeRate float64
	SampleCount   int
	Synced        bool
}

// Clock supplies wall-clock milliseconds for SessionRecord.StartUnixMs;
// it is a seam so tests can avoid real wall-clock reads.
type Clock interface {
	UnixMs() int64
}

// WallClock is the production Clock, backed by time.Now.
type WallClock struct{}

func (WallClock) UnixMs() int64 { return time.Now().UnixMilli() }

// Controller is the C7 session state machine.
type Controller struct {
	mu    sync.Mutex
	store store.KVStore
	ms    *metrics.Store
	hr    *heartrate.Port
	cfg   *config.Config
	clock Clock

	state       State
	id          uint64
	startUnixMs int64
	startedUs   int64

	pauseStartUs  int64
	totalPausedMs int64

	samples       []SampleRow
	lastDistanceM float64
	sumStrokeRate float64
	cntStrokeRate int

	strokeCountAtResume uint64

	persistFailures telemetry.Counter
}

// NewController builds a Controller, recovering the persisted session-id
// counter from st (starting at 0 if absent). metric may be nil, in which
// case persistence failures are simply not counted.
func NewController(st store.KVStore, ms *metrics.Store, hr *heartrate.Port, cfg *config.Config, clock Clock, metric telemetry.Provider) *Controller {
	c := &Controller{
		store: st,
		ms:    ms,
		hr:    hr,
		cfg:   cfg,
		clock: clock,
		state: None,

		samples: make([]SampleRow, 0, MaxSamples),
	}
	if metric != nil {
		c.persistFailures = metric.NewCounter("ergocore_session_persist_failures_total", "session records that failed to persist to the key/value store")
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start issues the "start" command: from None it begins a new session;
// from Paused it resumes the current one.
func (c *Controller) Start(nowUs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case None:
		id, err := c.nextID()
		if err != nil {
			return err
		}
		c.id = id
		c.startUnixMs = c.clock.UnixMs()
		c.startedUs = nowUs
		c.totalPausedMs = 0
		c.pauseStartUs = 0
		c.samples = c.samples[:0]
		c.lastDistanceM = 0
		c.sumStrokeRate, c.cntStrokeRate = 0, 0
		c.strokeCountAtResume = 0
		c.state = Running
		c.hr.StartRecording()

		c.ms.Reset()
		c.ms.Update(func(s *metrics.Snapshot) {
			s.SessionStarted = true
			s.IsActive = true
		})
		return nil
	case Paused:
		return c.resumeLocked(nowUs)
	default:
		return fmt.Errorf("%w: start from %s", ErrBadTransition, c.state)
	}
}

// Pause issues the "pause" command.
func (c *Controller) Pause(nowUs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked(nowUs)
}

func (c *Controller) pauseLocked(nowUs int64) error {
	if c.state != Running {
		return fmt.Errorf("%w: pause from %s", ErrBadTransition, c.state)
	}
	c.pauseStartUs = nowUs
	c.state = Paused
	c.ms.Update(func(s *metrics.Snapshot) {
		s.IsPaused = true
		s.PauseStartUs = nowUs
	})
	return nil
}

// Resume issues the "resume" command.
func (c *Controller) Resume(nowUs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked(nowUs)
}

func (c *Controller) resumeLocked(nowUs int64) error {
	if c.state != Paused {
		return fmt.Errorf("%w: resume from %s", ErrBadTransition, c.state)
	}
	c.totalPausedMs += (nowUs - c.pauseStartUs) / 1000
	c.state = Running
	c.strokeCountAtResume = c.ms.Get().StrokeCount
	c.ms.Update(func(s *metrics.Snapshot) {
		s.IsPaused = false
		s.TotalPausedMs = c.totalPausedMs
		s.LastResumeUs = nowUs
	})
	return nil
}

// Stop issues the "stop" command: commits a SessionRecord if the
// activity threshold was met, otherwise discards it. Always returns to
// None.
func (c *Controller) Stop(nowUs int64) (committed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == None {
		return false, fmt.Errorf("%w: stop from none", ErrBadTransition)
	}
	if c.state == Paused {
		c.totalPausedMs += (nowUs - c.pauseStartUs) / 1000
	}

	snap := c.ms.Get()
	durationS := (snap.ElapsedMs) / 1000

	c.state = None
	c.hr.StopRecording()
	c.ms.Update(func(s *metrics.Snapshot) {
		s.SessionStarted = false
		s.IsActive = false
		s.IsPaused = false
	})

	if snap.StrokeCount < minStrokesToCommit || snap.DistanceM < minDistanceToCommit {
		return false, nil
	}

	rec := SessionRecord{
		ID:            c.id,
		StartUnixMs:   c.startUnixMs,
		DurationS:     durationS,
		DistanceM:     snap.DistanceM,
		StrokeCount:   snap.StrokeCount,
		CaloriesKcal:  snap.CaloriesKcal,
		PowerAvgW:     snap.PowerAvgW,
		PaceAvgS500:   snap.PaceAvgS500,
		DragFactor:    snap.DragFactor,
		AvgStrokeRate: snap.AvgStrokeRate,
		SampleCount:   len(c.samples),
	}
	if c.cntStrokeRate > 0 {
		rec.AvgStrokeRate = c.sumStrokeRate / float64(c.cntStrokeRate)
	}
	rec.AvgHR, rec.MaxHR, _ = c.hr.Stats()

	if err := c.persist(rec, c.samples); err != nil {
		if c.persistFailures != nil {
			c.persistFailures.Inc(1)
		}
		return false, err
	}
	return true, nil
}

// Tick runs the 10Hz metrics-update/auto-activity step: it advances
// elapsed_ms while Running, and applies the auto-pause/auto-resume FSM
// unless calibrationActive suppresses it (C10 exclusivity).
func (c *Controller) Tick(nowUs int64, strokeCount uint64, lastDriveStartUs int64, calibrationActive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Running {
		elapsedMs := (nowUs-c.startedUs)/1000 - c.totalPausedMs
		c.ms.Update(func(s *metrics.Snapshot) { s.ElapsedMs = elapsedMs })
	}

	if calibrationActive {
		return
	}
	autoPauseS := c.cfg.Behavior.AutoPauseS
	if autoPauseS <= 0 {
		return
	}

	deltaActMs := nowUs/1000 - lastDriveStartUs/1000
	recentActivity := lastDriveStartUs > 0 && deltaActMs < int64(autoPauseS)*1000
	completedStroke := strokeCount > 0

	switch c.state {
	case None:
		if recentActivity && completedStroke {
			c.startLockedFromAuto(nowUs)
		}
	case Paused:
		if recentActivity && completedStroke {
			_ = c.resumeLocked(nowUs)
			c.strokeCountAtResume = strokeCount
		}
	case Running:
		if !recentActivity {
			_ = c.pauseLocked(nowUs)
		}
	}
}

func (c *Controller) startLockedFromAuto(nowUs int64) {
	id, err := c.nextID()
	if err != nil {
		return
	}
	c.id = id
	c.startUnixMs = c.clock.UnixMs()
	c.startedUs = nowUs
	c.totalPausedMs = 0
	c.pauseStartUs = 0
	c.samples = c.samples[:0]
	c.lastDistanceM = 0
	c.sumStrokeRate, c.cntStrokeRate = 0, 0
	c.strokeCountAtResume = 0
	c.state = Running
	c.hr.StartRecording()
	c.ms.Reset()
	c.ms.Update(func(s *metrics.Snapshot) {
		s.SessionStarted = true
		s.IsActive = true
	})
}

// Sample runs the once-per-second sampler while Running: snapshots C6
// and HR, appends one SampleRow unless the ring is already full.
func (c *Controller) Sample(nowUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running {
		return
	}
	if len(c.samples) >= MaxSamples {
		return
	}

	snap := c.ms.Get()
	bpm, _ := c.hr.Current(nowUs)

	row := SampleRow{
		PowerW: clampU16(snap.PowerInstW),
		HRBpm:  bpm,
	}
	if snap.PaceInstS500 > 0 {
		row.VelocityCmS = clampU16(50000 / snap.PaceInstS500)
	}
	deltaM := snap.DistanceM - c.lastDistanceM
	row.DistanceDmDelta = clampU16(10 * deltaM)
	c.lastDistanceM = snap.DistanceM

	c.samples = append(c.samples, row)

	c.sumStrokeRate += snap.AvgStrokeRate
	c.cntStrokeRate++
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}

func (c *Controller) nextID() (uint64, error) {
	var count uint64
	data, err := c.store.Get(countKey)
	if err == nil {
		if uerr := gobDecode(data, &count); uerr != nil {
			return 0, uerr
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	count++
	encoded, err := gobEncode(count)
	if err != nil {
		return 0, err
	}
	if err := c.store.Set(countKey, encoded); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *Controller) persist(rec SessionRecord, samples []SampleRow) error {
	slot := rec.ID % slotCount
	recData, err := gobEncode(rec)
	if err != nil {
		return err
	}
	sampleData, err := gobEncode(samples)
	if err != nil {
		return err
	}
	if err := c.store.Set(recordKey(slot), recData); err != nil {
		return err
	}
	return c.store.Set(sampleKey(slot), sampleData)
}

// Get loads the SessionRecord for id, or ErrNotFound if its slot has
// since been overwritten by a newer session.
func (c *Controller) Get(id uint64) (SessionRecord, error) {
	slot := id % slotCount
	data, err := c.store.Get(recordKey(slot))
	if errors.Is(err, store.ErrNotFound) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, err
	}
	var rec SessionRecord
	if err := gobDecode(data, &rec); err != nil {
		return SessionRecord{}, err
	}
	if rec.ID != id {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

// Samples loads the per-second sample rows persisted for id.
func (c *Controller) Samples(id uint64) ([]SampleRow, error) {
	if _, err := c.Get(id); err != nil {
		return nil, err
	}
	slot := id % slotCount
	data, err := c.store.Get(sampleKey(slot))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rows []SampleRow
	if err := gobDecode(data, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes both the record and sample blob for id's slot.
func (c *Controller) Delete(id uint64) error {
	slot := id % slotCount
	if err := c.store.Delete(recordKey(slot)); err != nil {
		return err
	}
	return c.store.Delete(sampleKey(slot))
}

// MarkSynced flips the Synced flag on the persisted record for id.
func (c *Controller) MarkSynced(id uint64) error {
	rec, err := c.Get(id)
	if err != nil {
		return err
	}
	rec.Synced = true
	data, err := gobEncode(rec)
	if err != nil {
		return err
	}
	return c.store.Set(recordKey(id%slotCount), data)
}

// List returns every persisted SessionRecord, newest first, bounded by the
// slotCount rotation window.
func (c *Controller) List() ([]SessionRecord, error) {
	keys, err := c.store.Keys(recordKeyPrefix)
	if err != nil {
		return nil, err
	}
	recs := make([]SessionRecord, 0, len(keys))
	for _, k := range keys {
		if k == countKey {
			continue
		}
		if strings.HasPrefix(strings.TrimPrefix(k, recordKeyPrefix), "d") {
			continue // sample blob, not a record
		}
		data, err := c.store.Get(k)
		if err != nil {
			return nil, err
		}
		var rec SessionRecord
		if err := gobDecode(data, &rec); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	return recs, nil
}

func recordKey(slot uint64) string { return fmt.Sprintf("session/s%d", slot) }
func sampleKey(slot uint64) string { return fmt.Sprintf("session/d%d", slot) }

func gobEncode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
