// Package core wires C1-C10 into the rowing-metrics dataflow graph
// C1 -> C2 -> (C3, C4) -> C5 -> C6 -> (C7, C8), with C9 as an independent
// producer into C6 and C10 running exclusively. One long-lived Core value
// aggregates the whole pulse -> kinematics -> ... -> broadcast pipeline
// behind a single Run(ctx) entry point.
package core

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ergorower/ergocore/internal/broadcast"
	"github.com/ergorower/ergocore/internal/calibration"
	"github.com/ergorower/ergocore/internal/config"
	"github.com/ergorower/ergocore/internal/drag"
	"github.com/ergorower/ergocore/internal/energy"
	"github.com/ergorower/ergocore/internal/ftms"
	"github.com/ergorower/ergocore/internal/heartrate"
	"github.com/ergorower/ergocore/internal/kinematics"
	"github.com/ergorower/ergocore/internal/metrics"
	"github.com/ergorower/ergocore/internal/pulse"
	"github.com/ergorower/ergocore/internal/session"
	"github.com/ergorower/ergocore/internal/store"
	"github.com/ergorower/ergocore/internal/stroke"
	"github.com/ergorower/ergocore/internal/telemetry"
)

const tickInterval = 100 * time.Millisecond // 10 Hz, matches C8's base tick

// Core owns C1–C10 and drives the dataflow graph from one pulse.Source.
type Core struct {
	cfg    *config.Config
	log    *zap.Logger
	metric telemetry.Provider

	pulses pulse.Source
	kin    kinematics.Sample
	dragK  drag.State
	strk   stroke.State
	nrg    energy.State

	metricsStore *metrics.Store
	hr           *heartrate.Port
	calibrator   *calibration.Calibrator
	sessions     *session.Controller
	fanout       *broadcast.Fanout

	lastDriveStartUs int64

	strokesCounted  telemetry.Counter
	pulsesProcessed telemetry.Counter
}

// New wires a Core from its collaborators. bleSink/webSink may be nil if
// that transport is disabled; the fan-out callbacks built here skip a nil
// sink.
func New(cfg *config.Config, log *zap.Logger, metric telemetry.Provider, pulses pulse.Source, hr *heartrate.Port, st store.KVStore, bleSink, webSink broadcast.Sink) *Core {
	ms := metrics.NewStore()
	c := &Core{
		cfg:          cfg,
		log:          log,
		metric:       metric,
		pulses:       pulses,
		dragK:        drag.State{K: cfg.Physics.InitialK},
		metricsStore: ms,
		hr:           hr,
		calibrator:   calibration.New(cfg.Physics.InitialK, 30*time.Second),
		sessions:     session.NewController(st, ms, hr, cfg, session.WallClock{}, metric),

		strokesCounted:  metric.NewCounter("ergocore_strokes_total", "total completed strokes"),
		pulsesProcessed: metric.NewCounter("ergocore_pulses_total", "total debounced pulses processed"),
	}
	c.fanout = broadcast.NewFanout(ms, cfg.Broadcast.BLEIntervalMs, cfg.Broadcast.WebIntervalMs,
		func(s metrics.Snapshot) {
			if bleSink != nil && bleSink.IsConnected() {
				_ = bleSink.Send(encodeFTMS(s))
			}
		},
		func(s metrics.Snapshot) {
			if webSink != nil && webSink.IsConnected() {
				_ = webSink.Send(encodeWeb(s))
			}
		},
	)
	return c
}

func (c *Core) thresholds() stroke.Thresholds {
	return stroke.Thresholds{
		DriveStartOmega: c.cfg.Thresholds.DriveStartOmega,
		DriveAccelAlpha: c.cfg.Thresholds.DriveAccelAlpha,
		RecoveryOmega:   c.cfg.Thresholds.RecoveryOmega,
		MinStrokeMs:     c.cfg.Thresholds.MinStrokeMs,
	}
}

// MetricsStore exposes the canonical C6 aggregate for the HTTP layer.
func (c *Core) MetricsStore() *metrics.Store { return c.metricsStore }

// Sessions exposes the C7 controller for the HTTP layer.
func (c *Core) Sessions() *session.Controller { return c.sessions }

// HeartRate exposes the C9 port for the HTTP layer's HR POST endpoint.
func (c *Core) HeartRate() *heartrate.Port { return c.hr }

// Calibrator exposes the C10 state machine for the HTTP layer.
func (c *Core) Calibrator() *calibration.Calibrator { return c.calibrator }

// SetWebSink (re)binds the web broadcast destination, letting the HTTP
// layer attach itself as a broadcast.Sink after it is constructed from
// this Core, breaking the otherwise-circular construction order.
func (c *Core) SetWebSink(sink broadcast.Sink) {
	c.fanout.OnWeb = func(s metrics.Snapshot) {
		if sink != nil && sink.IsConnected() {
			_ = sink.Send(encodeWeb(s))
		}
	}
}

// Run starts the pulse-consumer, the 10 Hz metrics/session tick, and the
// broadcast fan-out. It blocks until ctx is cancelled.
func (c *Core) Run(ctx context.Context) error {
	if err := c.pulses.Start(); err != nil {
		return err
	}
	defer c.pulses.Stop()

	go c.consumePulses(ctx)
	go c.runTicker(ctx)
	go c.fanout.Run(ctx)

	<-ctx.Done()
	return nil
}

func (c *Core) consumePulses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.pulses.Events():
			if !ok {
				return
			}
			c.pulsesProcessed.Inc(1)
			switch ev.Channel {
			case pulse.Flywheel:
				c.onFlywheelPulse(ev.TUs)
			case pulse.Seat:
				c.onSeatPulse(ev.TUs)
			}
		}
	}
}

func (c *Core) onFlywheelPulse(tUs int64) {
	if ok := c.kin.Update(tUs, c.cfg.Physics.MagnetsPerRev); !ok && c.kin.PulsesSeen > 1 {
		c.log.Warn("flywheel pulse rejected: interval out of range", zap.Int64("t_us", tUs))
	}

	if c.calibrator.Active() {
		c.calibrator.OnPulse(c.kin.Omega, c.kin.Alpha, tUs)
		return
	}

	transition := c.strk.OnPulse(c.kin.Omega, c.kin.Alpha, c.kin.PeakOmegaInStroke, tUs, c.thresholds())
	if transition.Changed {
		c.handleStrokeTransition(transition, tUs)
	}

	inDrive := c.strk.Phase == stroke.Drive
	c.nrg.UpdateInstantaneous(c.kin.Omega, c.kin.Alpha, c.cfg.Physics.MomentOfInertia, c.dragK.K, inDrive)

	if c.strk.Phase == stroke.Recovery && c.kin.Alpha < 0 {
		c.dragK.Update(c.cfg.Physics.MomentOfInertia, c.kin.Omega, c.kin.Alpha)
	}

	c.publishSnapshot()
}

func (c *Core) onSeatPulse(tUs int64) {
	if c.calibrator.Active() {
		return
	}
	transition := c.strk.OnSeatTrigger(c.kin.Omega, tUs, c.thresholds())
	if transition.Changed {
		c.handleStrokeTransition(transition, tUs)
		c.publishSnapshot()
	}
}

func (c *Core) handleStrokeTransition(t stroke.Transition, tUs int64) {
	if t.To == stroke.Drive {
		c.lastDriveStartUs = tUs
	}
	if t.StrokeCompleted {
		c.strokesCounted.Inc(1)
		elapsedMin := float64(c.metricsStore.Get().ElapsedMs) / 60000.0
		c.strk.UpdateStrokeRate(elapsedMin)

		dStroke := c.nrg.FinalizeStroke()
		c.metricsStore.Update(func(s *metrics.Snapshot) {
			s.DistanceM += dStroke
			s.DistPerStrokeM = dStroke
		})
	}
	if t.ResetDriveWork {
		c.nrg.ResetDriveWork()
		c.kin.ResetPeak(c.kin.Omega)
	}
}

// publishSnapshot copies every producer's current state into C6 under
// one write-lease.
func (c *Core) publishSnapshot() {
	prev := c.metricsStore.Get()
	elapsedS := float64(prev.ElapsedMs) / 1000.0
	instPace, avgPace, bestPace := energy.UpdatePace(elapsedS, prev.DistanceM, prev.PaceBestS500)

	c.nrg.UpdateDisplayPower(avgPace)
	elapsedMin := elapsedS / 60.0
	kcal, kcalPerHour := 0.0, 0.0
	if elapsedMin > 0 {
		kcal, kcalPerHour = energy.Calories(c.nrg.PowerAvgW, elapsedMin)
	}

	c.metricsStore.Update(func(s *metrics.Snapshot) {
		s.Omega = c.kin.Omega
		s.Alpha = c.kin.Alpha
		s.ValidData = c.kin.ValidData

		s.K = c.dragK.K
		s.DragFactor = c.dragK.DragFactor()
		s.Calibrated = c.dragK.KComplete

		s.Phase = strokePhaseToMetrics(c.strk.Phase)
		s.StrokeCount = c.strk.StrokeCount
		s.StrokeRateSPM = c.strk.StrokeRateSPM
		s.AvgStrokeRate = c.strk.AvgStrokeRateSPM

		s.PaceInstS500 = instPace
		s.PaceAvgS500 = avgPace
		s.PaceBestS500 = bestPace

		s.PowerInstW = c.nrg.PowerInstW
		s.PowerDisplayW = c.nrg.PowerDisplayW
		s.PowerPeakW = c.nrg.PowerPeakW
		s.PowerAvgW = c.nrg.PowerAvgW
		s.TotalWorkJ = c.nrg.TotalWorkJ
		s.CaloriesKcal = kcal
		s.CaloriesPerHour = kcalPerHour

		s.IsActive = c.strk.Phase != stroke.Idle || s.StrokeCount > 0
	})
}

func strokePhaseToMetrics(p stroke.Phase) metrics.Phase {
	switch p {
	case stroke.Drive:
		return metrics.PhaseDrive
	case stroke.Recovery:
		return metrics.PhaseRecovery
	default:
		return metrics.PhaseIdle
	}
}

// runTicker drives the 10Hz metrics-update/auto-activity task (P5), copies
// the C9 heart-rate state into C6 on each tick, and, every tenth tick,
// runs the 1Hz session sampler.
func (c *Core) runTicker(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			nowUs := time.Now().UnixMicro()
			calibrating := c.calibrator.Active()
			c.sessions.Tick(nowUs, c.strk.StrokeCount, c.lastDriveStartUs, calibrating)

			bpm, hrValid := c.hr.Current(nowUs)
			avgHR, _, _ := c.hr.Stats()
			hrStatus := string(c.hr.GetStatus())
			c.metricsStore.Update(func(s *metrics.Snapshot) {
				s.HeartRate = bpm
				s.AvgHeartRate = avgHR
				s.HRValid = hrValid
				s.HRStatus = hrStatus
			})
			if tick%10 == 0 {
				c.sessions.Sample(nowUs)
			}
		}
	}
}

func encodeFTMS(s metrics.Snapshot) []byte {
	return ftms.Encode(ftms.RowerData{
		StrokeRateSPM:   s.StrokeRateSPM,
		StrokeCount:     s.StrokeCount,
		DistanceM:       s.DistanceM,
		PaceInstS500:    s.PaceInstS500,
		PaceAvgS500:     s.PaceAvgS500,
		PowerInstW:      s.PowerInstW,
		PowerAvgW:       s.PowerAvgW,
		CaloriesKcal:    s.CaloriesKcal,
		CaloriesPerHour: s.CaloriesPerHour,
		ElapsedS:        s.ElapsedMs / 1000,
	})
}

func encodeWeb(s metrics.Snapshot) []byte {
	data, err := json.Marshal(s.View())
	if err != nil {
		return nil
	}
	return data
}
