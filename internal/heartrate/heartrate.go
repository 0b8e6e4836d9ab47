// Package heartrate implements the HR ingest port (C9): validated bpm
// values with a staleness timeout and an optional per-session recording
// buffer, grounded on hr_receiver.c in the original firmware.
package heartrate

import (
	"sync"
	"time"
)

const (
	minBpm = 30
	maxBpm = 220

	staleTimeout = 5 * time.Second

	maxSamples = 7200 // 2h at 1Hz
)

// Status mirrors the frozen hrStatus wire enum.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusScanning   Status = "scanning"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Sample is one recorded (timestamp, bpm) pair.
type Sample struct {
	TimestampMs int64
	Bpm         uint8
}

// Port holds the C9 HR ingest state.
type Port struct {
	mu sync.Mutex

	currentBpm   uint8
	lastUpdateUs int64
	status       Status

	recording bool
	samples   []Sample
}

// New returns a Port in the idle status with no samples recorded.
func New() *Port {
	return &Port{status: StatusIdle}
}

// Update validates and records a new bpm reading at nowUs (monotonic
// microseconds). Values outside [30, 220] are rejected.
func (p *Port) Update(bpm uint8, nowUs int64) bool {
	if bpm < minBpm || bpm > maxBpm {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentBpm = bpm
	p.lastUpdateUs = nowUs
	p.status = StatusConnected

	if p.recording && len(p.samples) < maxSamples {
		p.samples = append(p.samples, Sample{TimestampMs: nowUs / 1000, Bpm: bpm})
	}
	return true
}

// Current returns the current bpm (0 if stale) and whether it is valid.
func (p *Port) Current(nowUs int64) (bpm uint8, valid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentBpm == 0 { // no accepted reading yet
		return 0, false
	}
	if time.Duration(nowUs-p.lastUpdateUs)*time.Microsecond > staleTimeout {
		return 0, false
	}
	return p.currentBpm, true
}

// SetStatus updates the connection-lifecycle status surfaced to clients
// (idle/scanning/connecting/connected/error), independent of bpm
// staleness.
func (p *Port) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// GetStatus returns the current connection-lifecycle status.
func (p *Port) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// StartRecording clears the sample buffer and begins appending future
// Update calls to it.
func (p *Port) StartRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = p.samples[:0]
	p.recording = true
}

// StopRecording halts appending new samples; existing samples remain
// readable via Stats/Samples.
func (p *Port) StopRecording() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recording = false
}

// Stats returns the average bpm, max bpm, and sample count of the current
// recording buffer.
func (p *Port) Stats() (avg, max uint8, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.samples) == 0 {
		return 0, 0, 0
	}
	var sum uint32
	for _, s := range p.samples {
		sum += uint32(s.Bpm)
		if s.Bpm > max {
			max = s.Bpm
		}
	}
	return uint8(sum / uint32(len(p.samples))), max, len(p.samples)
}

// Samples returns a copy of the recorded samples.
func (p *Port) Samples() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Sample, len(p.samples))
	copy(out, p.samples)
	return out
}
