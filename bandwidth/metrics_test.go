package bandwidth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRTTEstimateDominatedByRecentWindow(t *testing.T) {
	var m Metrics
	m.RecordRTT(500 * time.Millisecond)
	for i := 0; i < 20; i++ {
		m.RecordRTT(50 * time.Millisecond)
	}
	rtt, _, _ := m.Snapshot()
	// After twenty 50ms samples the old 500ms outlier contributes under 2%.
	require.Less(t, rtt, 70*time.Millisecond)
	require.GreaterOrEqual(t, rtt, 50*time.Millisecond)
}

func TestLossRatioTracksObservedLosses(t *testing.T) {
	var m Metrics
	for i := 0; i < 30; i++ {
		m.RecordPacket(1000, i%10 == 0)
	}
	_, loss, _ := m.Snapshot()
	require.Greater(t, loss, 0.0)
	require.Less(t, loss, 0.3)
}

func TestAllLossSamplesSaturateRatio(t *testing.T) {
	var m Metrics
	for i := 0; i < 10; i++ {
		m.RecordPacket(1000, true)
	}
	_, loss, _ := m.Snapshot()
	require.Equal(t, 1.0, loss)
}

func TestClassifyUsesFirstAdmittingRow(t *testing.T) {
	require.Equal(t, TierExcellent, classify(defaultThresholds, 30*time.Millisecond, 0))
	require.Equal(t, TierGood, classify(defaultThresholds, 100*time.Millisecond, 0.005))
	require.Equal(t, TierFair, classify(defaultThresholds, 300*time.Millisecond, 0.03))
	require.Equal(t, TierPoor, classify(defaultThresholds, 400*time.Millisecond, 0.05))
	require.Equal(t, TierBad, classify(defaultThresholds, 2*time.Second, 0.5))
	// A loss ratio beyond a row's bound pushes the sample down even when its
	// RTT would admit it.
	require.Equal(t, TierGood, classify(defaultThresholds, 30*time.Millisecond, 0.005))
}
