package bandwidth

import "time"

// Tier is a discrete network-quality label.
type Tier int

const (
	TierExcellent Tier = iota
	TierGood
	TierFair
	TierPoor
	TierBad
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "Excellent"
	case TierGood:
		return "Good"
	case TierFair:
		return "Fair"
	case TierPoor:
		return "Poor"
	case TierBad:
		return "Bad"
	default:
		return "Unknown"
	}
}

// TierByName maps a configured tier name (as written in a tier_thresholds
// override row) back to its Tier.
func TierByName(name string) (Tier, bool) {
	for _, t := range []Tier{TierExcellent, TierGood, TierFair, TierPoor, TierBad} {
		if t.String() == name {
			return t, true
		}
	}
	return TierExcellent, false
}

// Threshold is one row of the tier table: the worst RTT and loss ratio a
// sample may show and still be classified at Row's tier. Exported so the
// bandwidth.tier_thresholds config area can override the defaults.
type Threshold struct {
	Tier    Tier
	MaxRTT  time.Duration
	MaxLoss float64
}

// defaultThresholds is the built-in tier table, evaluated in order: the
// first row whose bounds admit the sample wins.
var defaultThresholds = []Threshold{
	{TierExcellent, 50 * time.Millisecond, 0.001},
	{TierGood, 150 * time.Millisecond, 0.01},
	{TierFair, 300 * time.Millisecond, 0.03},
	{TierPoor, 600 * time.Millisecond, 0.08},
	{TierBad, time.Duration(1<<63 - 1), 1.0},
}

func classify(thresholds []Threshold, rtt time.Duration, loss float64) Tier {
	for _, row := range thresholds {
		if rtt <= row.MaxRTT && loss <= row.MaxLoss {
			return row.Tier
		}
	}
	return TierBad
}

// QualityProfile is the shaping/rate policy bound to one Tier.
type QualityProfile struct {
	Tier               Tier
	MaxPacketSize      int
	EnableCompression  bool
	CompressionLevel   int
	TargetRateBps      int64
}

// defaultProfiles maps each Tier to a reasonable default QualityProfile.
var defaultProfiles = map[Tier]QualityProfile{
	TierExcellent: {Tier: TierExcellent, MaxPacketSize: 1460, EnableCompression: false, CompressionLevel: 0, TargetRateBps: 8_000_000},
	TierGood:      {Tier: TierGood, MaxPacketSize: 1460, EnableCompression: false, CompressionLevel: 0, TargetRateBps: 4_000_000},
	TierFair:      {Tier: TierFair, MaxPacketSize: 1200, EnableCompression: true, CompressionLevel: 1, TargetRateBps: 1_500_000},
	TierPoor:      {Tier: TierPoor, MaxPacketSize: 900, EnableCompression: true, CompressionLevel: 4, TargetRateBps: 500_000},
	TierBad:       {Tier: TierBad, MaxPacketSize: 512, EnableCompression: true, CompressionLevel: 9, TargetRateBps: 100_000},
}
