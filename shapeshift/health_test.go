package shapeshift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthDegradedAboveThreshold(t *testing.T) {
	h := newHealth(time.Minute)
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		h.record(now, false, 10*time.Millisecond)
	}
	h.record(now, true, 10*time.Millisecond)

	// 3 failures out of 4 samples.
	require.True(t, h.degraded(now, 0.5))
	require.False(t, h.degraded(now, 0.8))
}

func TestHealthWithNoSamplesIsNeverDegraded(t *testing.T) {
	h := newHealth(time.Minute)
	require.False(t, h.degraded(time.Now(), 0.0))
}

func TestHealthPrunesSamplesOutsideWindow(t *testing.T) {
	h := newHealth(time.Minute)
	now := time.Unix(1700000000, 0)

	h.record(now, false, 10*time.Millisecond)
	require.True(t, h.degraded(now, 0.5))

	// Two minutes later the failure has aged out of the window.
	later := now.Add(2 * time.Minute)
	require.False(t, h.degraded(later, 0.5))
}

func TestHealthLatencyIsMeanOfWindow(t *testing.T) {
	h := newHealth(time.Minute)
	now := time.Unix(1700000000, 0)

	h.record(now, true, 10*time.Millisecond)
	h.record(now, true, 30*time.Millisecond)
	require.Equal(t, 20*time.Millisecond, h.latency(now))

	require.Equal(t, time.Duration(0), newHealth(time.Minute).latency(now))
}
