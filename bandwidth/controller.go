package bandwidth

import (
	"sync"
	"time"
)

// minTierChangeCooldown is the lower bound on tier-change rate limiting,
// keeping a noisy link from oscillating between tiers.
const minTierChangeCooldown = 100 * time.Millisecond

// Config configures a Controller; it mirrors the bandwidth config area.
type Config struct {
	InitialRateBps     int64
	TierThresholds     []Threshold   // nil uses defaultThresholds
	TierChangeCooldown time.Duration // zero uses minTierChangeCooldown
}

// Controller folds in RTT and packet-loss samples, classifies the
// connection into a Tier, and keeps a RateLimiter's target rate in lockstep
// with that Tier.
type Controller struct {
	thresholds []Threshold
	cooldown   time.Duration
	limiter    *RateLimiter
	now        func() time.Time

	metrics Metrics

	mu             sync.Mutex
	tier           Tier
	lastTierChange time.Time
}

// NewController builds a Controller starting at TierExcellent with the
// configured initial rate, until the first samples arrive.
func NewController(cfg Config) *Controller {
	thresholds := cfg.TierThresholds
	if thresholds == nil {
		thresholds = defaultThresholds
	}
	cooldown := cfg.TierChangeCooldown
	if cooldown < minTierChangeCooldown {
		cooldown = minTierChangeCooldown
	}
	initialRate := cfg.InitialRateBps
	if initialRate == 0 {
		initialRate = defaultProfiles[TierExcellent].TargetRateBps
	}
	return &Controller{
		thresholds:     thresholds,
		cooldown:       cooldown,
		limiter:        NewRateLimiter(initialRate),
		now:            time.Now,
		tier:           TierExcellent,
		lastTierChange: time.Now(),
	}
}

// RecordRTT folds in one round-trip-time sample and re-evaluates the tier.
func (c *Controller) RecordRTT(d time.Duration) {
	c.metrics.RecordRTT(d)
	c.reevaluate()
}

// RecordPacket folds in one packet observation and re-evaluates the tier.
func (c *Controller) RecordPacket(n int, wasLoss bool) {
	c.metrics.RecordPacket(n, wasLoss)
	c.reevaluate()
}

// reevaluate reclassifies the tier from current metrics and, if it changed
// and the cooldown has elapsed, updates the rate limiter's target rate.
func (c *Controller) reevaluate() {
	rtt, loss, _ := c.metrics.Snapshot()
	next := classify(c.thresholds, rtt, loss)

	c.mu.Lock()
	defer c.mu.Unlock()
	if next == c.tier {
		return
	}
	now := c.now()
	if now.Sub(c.lastTierChange) < c.cooldown {
		return
	}
	c.tier = next
	c.lastTierChange = now
	c.limiter.SetRate(defaultProfiles[next].TargetRateBps)
}

// Tier reports the current quality tier.
func (c *Controller) Tier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// Profile returns the QualityProfile bound to the current tier.
func (c *Controller) Profile() QualityProfile {
	return defaultProfiles[c.Tier()]
}

// RateLimiter returns the controller's token bucket, whose target rate it
// keeps synced to the current tier.
func (c *Controller) RateLimiter() *RateLimiter {
	return c.limiter
}

// Metrics exposes the underlying NetworkMetrics for inspection.
func (c *Controller) Metrics() *Metrics {
	return &c.metrics
}
