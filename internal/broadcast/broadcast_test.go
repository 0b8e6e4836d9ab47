package broadcast

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ergorower/ergocore/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestTicksForRoundsDownToWholeTicksMinimumOne(t *testing.T) {
	require.Equal(t, 5, ticksFor(500))
	require.Equal(t, 2, ticksFor(200))
	require.Equal(t, 1, ticksFor(10)) // sub-tick interval clamps to one tick
}

func TestFanoutInvokesBothCallbacksIndependently(t *testing.T) {
	store := metrics.NewStore()

	var bleCount, webCount int64
	f := NewFanout(store, 500, 200,
		func(metrics.Snapshot) { atomic.AddInt64(&bleCount, 1) },
		func(metrics.Snapshot) { atomic.AddInt64(&webCount, 1) },
	)

	ctx, cancel := context.WithTimeout(context.Background(), 550*time.Millisecond)
	defer cancel()
	f.Run(ctx)

	// In ~550ms: web fires every 200ms (~2-3 times), BLE every 500ms (~1 time).
	require.GreaterOrEqual(t, atomic.LoadInt64(&webCount), int64(2))
	require.GreaterOrEqual(t, atomic.LoadInt64(&bleCount), int64(1))
	require.Greater(t, atomic.LoadInt64(&webCount), atomic.LoadInt64(&bleCount))
}
