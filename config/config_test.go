package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xinf0/nooshdaroo/config"
)

const sampleTOML = `
protocol_dir = "./protocols"

[shapeshift]
strategy = "adaptive"
period_seconds = 30
byte_threshold = 1048576
protocol_whitelist = ["https", "dns"]
initial_protocol = "https"
health_window_seconds = 60
error_rate_threshold = 0.1

[traffic_shaping]
enabled = true
application_profile_name = "web_browsing"

[bandwidth]
initial_rate_bps = 1000000
tier_change_cooldown_ms = 250

[[bandwidth.tier_thresholds]]
name = "Excellent"
max_rtt_ms = 40
max_loss = 0.001

[noise]
pattern = "NK"

[dns_fallback]
enabled = true
hostname = "tunnel.example.com"
resolver = "8.8.8.8:53"
`

func TestDecodeValidConfig(t *testing.T) {
	cfg, err := config.Decode([]byte(sampleTOML))
	require.NoError(t, err)
	require.Equal(t, "adaptive", cfg.Shapeshift.Strategy)
	require.Equal(t, []string{"https", "dns"}, cfg.Shapeshift.ProtocolWhitelist)
	require.Equal(t, "NK", cfg.Noise.Pattern)
	require.Equal(t, "./protocols", cfg.ProtocolDir)
	require.Equal(t, 30*1e9, float64(cfg.Period()))
	require.Len(t, cfg.Bandwidth.TierThresholds, 1)
	require.Equal(t, "Excellent", cfg.Bandwidth.TierThresholds[0].Name)
	require.Equal(t, 250, cfg.Bandwidth.TierChangeCooldown)
	require.True(t, cfg.DNSFallback.Enabled)
	require.Equal(t, "tunnel.example.com", cfg.DNSFallback.Hostname)
}

func TestDecodeRequiresFallbackHostnameWhenEnabled(t *testing.T) {
	_, err := config.Decode([]byte(`protocol_dir = "x"
[dns_fallback]
enabled = true
`))
	require.Error(t, err)
}

func TestDecodeRejectsUnknownStrategy(t *testing.T) {
	_, err := config.Decode([]byte(`protocol_dir = "x"
[shapeshift]
strategy = "bogus"
`))
	require.Error(t, err)
}

func TestDecodeRequiresProtocolDir(t *testing.T) {
	_, err := config.Decode([]byte(`[shapeshift]
strategy = "fixed"
`))
	require.Error(t, err)
}
