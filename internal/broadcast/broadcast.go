// Package broadcast implements the rate-decoupled fan-out (C8) of a
// MetricsSnapshot to BLE-notify and web-push sinks.
package broadcast

import (
	"context"
	"time"

	"github.com/ergorower/ergocore/internal/metrics"
)

// Sink is the single capability broadcast destinations are written
// against: BLE notify, WebSocket, and SSE are all unified by
// {is_connected, send}. The fan-out layer never knows which concrete
// transport it is talking to.
type Sink interface {
	IsConnected() bool
	Send(payload []byte) error
}

const tickInterval = 100 * time.Millisecond // 10 Hz base tick

// Fanout drives two independent dividers off one 10Hz tick: BLE notify
// and web push. Neither blocks the other, and neither blocks the
// pulse/metrics pipeline that feeds the snapshot store.
type Fanout struct {
	store *metrics.Store

	bleEveryTicks int
	webEveryTicks int

	OnBLE func(metrics.Snapshot)
	OnWeb func(metrics.Snapshot)
}

// NewFanout builds a Fanout reading from store, invoking onBLE every
// bleIntervalMs and onWeb every webIntervalMs (rounded down to the
// nearest 10Hz tick, minimum one tick).
func NewFanout(store *metrics.Store, bleIntervalMs, webIntervalMs int, onBLE, onWeb func(metrics.Snapshot)) *Fanout {
	return &Fanout{
		store:         store,
		bleEveryTicks: ticksFor(bleIntervalMs),
		webEveryTicks: ticksFor(webIntervalMs),
		OnBLE:         onBLE,
		OnWeb:         onWeb,
	}
}

func ticksFor(intervalMs int) int {
	n := intervalMs / int(tickInterval.Milliseconds())
	if n < 1 {
		n = 1
	}
	return n
}

// Run drives the fan-out until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var tick int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			snp := f.store.Get()
			if f.OnBLE != nil && tick%f.bleEveryTicks == 0 {
				f.OnBLE(snp)
			}
			if f.OnWeb != nil && tick%f.webEveryTicks == 0 {
				f.OnWeb(snp)
			}
		}
	}
}
