package gpio

import (
	"testing"
	"time"

	"github.com/ergorower/ergocore/internal/pulse"
	"github.com/stretchr/testify/require"
)

func TestDemoSourceEmitsFlywheelAndSeatEvents(t *testing.T) {
	src := NewDemoSource(4, 24)
	require.NoError(t, src.Start())

	seen := map[pulse.Channel]int{}
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case ev := <-src.Events():
			seen[ev.Channel]++
			if seen[pulse.Flywheel] > 5 && seen[pulse.Seat] >= 1 {
				break loop
			}
		case <-timeout:
			break loop
		}
	}

	require.NoError(t, src.Stop())
	require.Greater(t, seen[pulse.Flywheel], 5)
	require.GreaterOrEqual(t, seen[pulse.Seat], 1)
}

func TestDemoSourceStopClosesEventsChannel(t *testing.T) {
	src := NewDemoSource(4, 24)
	require.NoError(t, src.Start())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Stop())

	// Events emitted before Stop stay buffered ahead of the close.
	for range src.Events() {
	}
	_, ok := <-src.Events()
	require.False(t, ok)
}
