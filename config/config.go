// Package config loads a NooshdarooConfig from a TOML file, decoding
// straight into tagged structs with github.com/pelletier/go-toml and
// validating enumerated values at load time.
package config

import (
	"io"
	"os"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// ShapeShiftConfig mirrors the shapeshift section: strategy selection and
// the parameters each strategy reads.
type ShapeShiftConfig struct {
	Strategy            string   `toml:"strategy"`
	PeriodSeconds       int      `toml:"period_seconds"`
	ByteThreshold       int64    `toml:"byte_threshold"`
	ProtocolWhitelist   []string `toml:"protocol_whitelist"`
	InitialProtocol     string   `toml:"initial_protocol"`
	HealthWindowSeconds int      `toml:"health_window_seconds"`
	ErrorRateThreshold  float64  `toml:"error_rate_threshold"`
}

// TrafficShapingConfig mirrors the traffic_shaping section.
type TrafficShapingConfig struct {
	Enabled                bool   `toml:"enabled"`
	ApplicationProfileName string `toml:"application_profile_name"`
}

// BandwidthConfig mirrors the bandwidth section.
type BandwidthConfig struct {
	InitialRateBps     float64         `toml:"initial_rate_bps"`
	TierThresholds     []TierThreshold `toml:"tier_thresholds"`
	TierChangeCooldown int             `toml:"tier_change_cooldown_ms"`
}

// TierThreshold is one row of an optional tier_thresholds override table.
type TierThreshold struct {
	Name    string  `toml:"name"`
	MaxRTT  int     `toml:"max_rtt_ms"`
	MaxLoss float64 `toml:"max_loss"`
}

// DNSFallbackConfig mirrors the dns_fallback section: the DNS-UDP fallback
// tunnel used when direct TCP to the server is blocked. Hostname is the
// cover domain queries are rooted at; Listen is the server's UDP bind
// address; Resolver is the client's target DNS server (host:port).
type DNSFallbackConfig struct {
	Enabled  bool   `toml:"enabled"`
	Hostname string `toml:"hostname"`
	Listen   string `toml:"listen"`
	Resolver string `toml:"resolver"`
}

// NoiseConfig mirrors the noise section: which handshake pattern to run and
// the static keypair material, base64 encoded at rest.
type NoiseConfig struct {
	Pattern         string `toml:"pattern"`
	LocalPrivateKey string `toml:"local_private_key"`
	RemotePublicKey string `toml:"remote_public_key"`
}

// NooshdarooConfig is the top-level configuration surface: shapeshift,
// traffic_shaping, bandwidth, noise, dns_fallback, protocol_dir.
type NooshdarooConfig struct {
	Shapeshift     ShapeShiftConfig     `toml:"shapeshift"`
	TrafficShaping TrafficShapingConfig `toml:"traffic_shaping"`
	Bandwidth      BandwidthConfig      `toml:"bandwidth"`
	Noise          NoiseConfig          `toml:"noise"`
	DNSFallback    DNSFallbackConfig    `toml:"dns_fallback"`
	ProtocolDir    string               `toml:"protocol_dir"`
}

// Period returns Shapeshift.PeriodSeconds as a time.Duration.
func (c NooshdarooConfig) Period() time.Duration {
	return time.Duration(c.Shapeshift.PeriodSeconds) * time.Second
}

// HealthWindow returns Shapeshift.HealthWindowSeconds as a time.Duration.
func (c NooshdarooConfig) HealthWindow() time.Duration {
	return time.Duration(c.Shapeshift.HealthWindowSeconds) * time.Second
}

// Decode parses raw TOML bytes into a NooshdarooConfig.
func Decode(data []byte) (*NooshdarooConfig, error) {
	cfg := &NooshdarooConfig{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.InvalidConfig("failed to parse toml config").Base(err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and decodes the TOML configuration file at path.
func Load(path string) (*NooshdarooConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.InvalidConfig("failed to open config file").Base(err)
	}
	defer f.Close()
	return DecodeReader(f)
}

// DecodeReader is Decode for an io.Reader.
func DecodeReader(r io.Reader) (*NooshdarooConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.InvalidConfig("failed to read config file").Base(err)
	}
	return Decode(data)
}

func validate(c *NooshdarooConfig) error {
	switch c.Shapeshift.Strategy {
	case "", "fixed", "random", "time_based", "traffic_based", "adaptive":
	default:
		return errors.InvalidConfig("unknown shapeshift.strategy: " + c.Shapeshift.Strategy)
	}
	switch c.Noise.Pattern {
	case "", "NK", "XX", "IK":
	default:
		return errors.InvalidConfig("unknown noise.pattern: " + c.Noise.Pattern)
	}
	if c.ProtocolDir == "" {
		return errors.InvalidConfig("protocol_dir is required")
	}
	if c.DNSFallback.Enabled && c.DNSFallback.Hostname == "" {
		return errors.InvalidConfig("dns_fallback.hostname is required when dns_fallback is enabled")
	}
	return nil
}
