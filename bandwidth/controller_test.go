package bandwidth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeClock lets tests step the controller's cooldown clock without real
// sleeps.
type fakeClock struct {
	at time.Time
}

func (f *fakeClock) now() time.Time { return f.at }

func (f *fakeClock) advance(d time.Duration) time.Time {
	f.at = f.at.Add(d)
	return f.at
}

func newTestController(cfg Config) (*Controller, *fakeClock) {
	clock := &fakeClock{at: time.Unix(1700000000, 0)}
	c := NewController(cfg)
	c.now = clock.now
	c.lastTierChange = clock.at
	return c, clock
}

func TestTierStartsExcellentAndStaysOnGoodSamples(t *testing.T) {
	c, clock := newTestController(Config{})

	for i := 0; i < 10; i++ {
		clock.advance(150 * time.Millisecond)
		c.RecordRTT(30 * time.Millisecond)
		c.RecordPacket(1000, false)
	}
	require.Equal(t, TierExcellent, c.Tier())
}

func TestTierDegradesToPoorOnHighRTTAndLoss(t *testing.T) {
	c, clock := newTestController(Config{})

	c.RecordRTT(30 * time.Millisecond)
	c.RecordPacket(1000, false)
	require.Equal(t, TierExcellent, c.Tier())

	// rtt=400ms with one loss in ten: the loss EWMA settles under the Poor
	// row's 8% bound while rtt excludes Fair, so the controller lands on
	// Poor once the cooldown admits the change.
	for i := 0; i < 20; i++ {
		clock.advance(150 * time.Millisecond)
		c.RecordRTT(400 * time.Millisecond)
		c.RecordPacket(1000, i%10 == 0)
	}
	require.Equal(t, TierPoor, c.Tier())
}

func TestTierChangeCooldownSuppressesOscillation(t *testing.T) {
	c, _ := newTestController(Config{TierChangeCooldown: time.Hour})
	require.Equal(t, TierExcellent, c.Tier())

	c.RecordRTT(900 * time.Millisecond)
	c.RecordPacket(1000, true)
	// Samples are squarely in TierBad territory, but the cooldown has not
	// elapsed: the tier must not have moved yet.
	require.Equal(t, TierExcellent, c.Tier())
}

func TestCooldownClampedToMinimum(t *testing.T) {
	c := NewController(Config{TierChangeCooldown: time.Millisecond})
	require.Equal(t, minTierChangeCooldown, c.cooldown)
}

func TestRateDecreasesMonotonicallyAsQualityDegrades(t *testing.T) {
	c, clock := newTestController(Config{})
	excellentRate := c.Profile().TargetRateBps

	seen := []int64{excellentRate}
	degrade := []struct {
		rtt  time.Duration
		loss bool
	}{
		{100 * time.Millisecond, false}, // Good
		{400 * time.Millisecond, false}, // Poor
		{900 * time.Millisecond, true},  // Bad
	}
	for _, step := range degrade {
		for i := 0; i < 20; i++ {
			clock.advance(150 * time.Millisecond)
			c.RecordRTT(step.rtt)
			c.RecordPacket(1000, step.loss)
		}
		seen = append(seen, c.Profile().TargetRateBps)
	}
	for i := 1; i < len(seen); i++ {
		require.LessOrEqual(t, seen[i], seen[i-1], "rate rose while quality degraded")
	}
	require.Less(t, seen[len(seen)-1], excellentRate)
}

func TestConfiguredThresholdsOverrideDefaults(t *testing.T) {
	c, clock := newTestController(Config{
		TierThresholds: []Threshold{
			{TierExcellent, 5 * time.Millisecond, 0.0001},
			{TierBad, time.Duration(1<<63 - 1), 1.0},
		},
	})

	for i := 0; i < 10; i++ {
		clock.advance(150 * time.Millisecond)
		c.RecordRTT(30 * time.Millisecond) // Excellent by default table, Bad by this one
		c.RecordPacket(1000, false)
	}
	require.Equal(t, TierBad, c.Tier())
}

func TestRateLimiterTrySendRespectsBucket(t *testing.T) {
	rl := NewRateLimiter(100)
	require.True(t, rl.TrySend(50))
	require.False(t, rl.TrySend(1_000_000))
}

func TestRateLimiterWaitForHonorsContext(t *testing.T) {
	rl := NewRateLimiter(1) // 1 byte/sec: a 100-byte wait takes far longer than the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, rl.WaitFor(ctx, 100))
}
