// Package gpio implements pulse.Source over real Hall/reed-switch GPIO
// pins (periph.io) and a simulated rower for development without
// hardware.
package gpio

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/ergorower/ergocore/internal/pulse"
	"github.com/ergorower/ergocore/internal/telemetry"
)

// PeriphSource watches two periph.io GPIO pins for falling edges and
// publishes debounced pulse.Events. The watch loop runs on its own
// goroutine per channel so a slow seat-pin edge never delays a
// flywheel-pin edge.
type PeriphSource struct {
	flywheelPin gpio.PinIO
	seatPin     gpio.PinIO

	flywheelDebounce *pulse.Debouncer
	seatDebounce     *pulse.Debouncer

	dropped telemetry.Counter

	events chan pulse.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetTelemetry attaches a counter incremented once per edge the debouncer
// rejects or that is dropped because the event buffer is full. Optional; a nil counter (the zero value) is never dereferenced
// since the field stays nil until this is called.
func (s *PeriphSource) SetTelemetry(dropped telemetry.Counter) { s.dropped = dropped }

// NewPeriphSource initializes the periph host driver registry and opens
// the named GPIO pins by their periph pin names (e.g. "GPIO17").
func NewPeriphSource(flywheelPinName, seatPinName string) (*PeriphSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: periph host init: %w", err)
	}
	flywheelPin := gpioreg.ByName(flywheelPinName)
	if flywheelPin == nil {
		return nil, fmt.Errorf("gpio: unknown flywheel pin %q", flywheelPinName)
	}
	seatPin := gpioreg.ByName(seatPinName)
	if seatPin == nil {
		return nil, fmt.Errorf("gpio: unknown seat pin %q", seatPinName)
	}
	if err := flywheelPin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure flywheel pin: %w", err)
	}
	if err := seatPin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
		return nil, fmt.Errorf("gpio: configure seat pin: %w", err)
	}
	return &PeriphSource{
		flywheelPin:      flywheelPin,
		seatPin:          seatPin,
		flywheelDebounce: pulse.NewDebouncer(pulse.DefaultFlywheelDebounce),
		seatDebounce:     pulse.NewDebouncer(pulse.DefaultSeatDebounce),
		events:           make(chan pulse.Event, 64),
	}, nil
}

func (s *PeriphSource) Events() <-chan pulse.Event { return s.events }

func (s *PeriphSource) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go s.watch(ctx, pulse.Flywheel, s.flywheelPin, s.flywheelDebounce)
	go s.watch(ctx, pulse.Seat, s.seatPin, s.seatDebounce)
	return nil
}

func (s *PeriphSource) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *PeriphSource) watch(ctx context.Context, ch pulse.Channel, pin gpio.PinIO, d *pulse.Debouncer) {
	defer s.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		if !pin.WaitForEdge(100 * time.Millisecond) {
			continue // timeout, recheck cancellation
		}
		tUs := time.Now().UnixMicro()
		if !d.Accept(tUs) {
			if s.dropped != nil {
				s.dropped.Inc(1)
			}
			continue
		}
		select {
		case s.events <- pulse.Event{Channel: ch, TUs: tUs}:
		default:
			// consumer is behind; drop rather than block the edge watcher
			if s.dropped != nil {
				s.dropped.Inc(1)
			}
		}
	}
}

// DemoSource simulates a rower pulling at a plausible stroke rate so the
// rest of the core can be exercised without hardware. It models an
// angular-velocity waveform that rises along a quarter sine during the
// drive and falls linearly during the recovery, and emits flywheel
// pulses at the instantaneous pulse period, plus one seat pulse at the
// start of each drive.
type DemoSource struct {
	magnetsPerRev int
	strokeRateSPM float64

	dropped telemetry.Counter

	events chan pulse.Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetTelemetry attaches a counter incremented once per event dropped
// because the consumer fell behind.
func (d *DemoSource) SetTelemetry(dropped telemetry.Counter) { d.dropped = dropped }

// NewDemoSource builds a demo pulse generator at the given magnets-per-
// revolution and target stroke rate.
func NewDemoSource(magnetsPerRev int, strokeRateSPM float64) *DemoSource {
	return &DemoSource{
		magnetsPerRev: magnetsPerRev,
		strokeRateSPM: strokeRateSPM,
		events:        make(chan pulse.Event, 64),
	}
}

func (d *DemoSource) Events() <-chan pulse.Event { return d.events }

func (d *DemoSource) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(ctx)
	return nil
}

func (d *DemoSource) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	close(d.events)
	return nil
}

func (d *DemoSource) run(ctx context.Context) {
	defer d.wg.Done()

	strokePeriodS := 60.0 / d.strokeRateSPM
	start := time.Now()
	lastSeatPhase := false

	for {
		if ctx.Err() != nil {
			return
		}
		elapsed := time.Since(start).Seconds()
		phase := math.Mod(elapsed, strokePeriodS) / strokePeriodS // 0..1 within a stroke

		// Drive is the first 35% of the stroke, where omega rises; it
		// falls through the recovery.
		inDrive := phase < 0.35
		var omega float64
		if inDrive {
			omega = 5 + 30*math.Sin(phase/0.35*math.Pi/2)
		} else {
			recoveryPhase := (phase - 0.35) / 0.65
			omega = 35*(1-recoveryPhase) + 2 + rand.Float64()*0.3
		}
		if omega < 1 {
			omega = 1
		}

		if inDrive && !lastSeatPhase {
			d.emit(pulse.Seat)
		}
		lastSeatPhase = inDrive

		d.emit(pulse.Flywheel)

		periodS := (2 * math.Pi / float64(d.magnetsPerRev)) / omega
		select {
		case <-time.After(time.Duration(periodS * float64(time.Second))):
		case <-ctx.Done():
			return
		}
	}
}

func (d *DemoSource) emit(ch pulse.Channel) {
	select {
	case d.events <- pulse.Event{Channel: ch, TUs: time.Now().UnixMicro()}:
	default:
		// consumer is behind; drop rather than block the generator
		if d.dropped != nil {
			d.dropped.Inc(1)
		}
	}
}
