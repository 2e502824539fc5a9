// Package nooshdaroo is the top-level client/server facade: it aggregates a
// psi library and a shapeshift controller behind the small operation set a
// caller actually needs - current protocol, manual override, forced
// rotation, stats.
package nooshdaroo

import (
	"context"
	"time"

	"github.com/0xinf0/nooshdaroo/config"
	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/internal/task"
	"github.com/0xinf0/nooshdaroo/nasc"
	"github.com/0xinf0/nooshdaroo/psi/codec"
	"github.com/0xinf0/nooshdaroo/psi/cover/https"
	"github.com/0xinf0/nooshdaroo/psi/library"
	"github.com/0xinf0/nooshdaroo/shapeshift"
)

// defaultCoverHostname is the SNI/Host value synthesized cover handshakes
// present when a config doesn't otherwise name one. Real deployments name a
// plausible front domain per protocol; this is a placeholder, not a secret.
const defaultCoverHostname = "www.example.com"

// Stats is shapeshift.Stats, re-exported so callers don't need to import
// the shapeshift package just to read a facade's status.
type Stats = shapeshift.Stats

// Client is the client-side facade: it owns the loaded protocol library and
// the policy engine choosing among them, and binds both to a live transport
// once one is dialed.
type Client struct {
	cfg     config.NooshdarooConfig
	library *library.Library

	controller   *shapeshift.Controller
	rotationTask *task.Periodic
}

// NewClient loads cfg.ProtocolDir and builds a Client ready to bind to a
// transport via BindTransport.
func NewClient(cfg config.NooshdarooConfig) (*Client, error) {
	lib, err := library.Load(cfg.ProtocolDir)
	if err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, library: lib}, nil
}

// BindTransport builds this Client's shapeshift.Controller over t, wiring
// its SwitchFunc to swap t's cover-protocol wrapper (nasc.Transport.SetWrapper)
// whenever the controller rotates or SetProtocol is called. role is the
// local Noise role this transport is playing (nasc.RoleClient on the
// initiating side).
func (c *Client) BindTransport(t *nasc.Transport, role nasc.Role) error {
	ctrl, err := shapeshift.New(shapeshiftConfig(c.cfg.Shapeshift), c.library.IDs(), switchFunc(c.library, t, role))
	if err != nil {
		return err
	}
	wrapper, err := c.wrapperFor(ctrl.CurrentProtocol(), role)
	if err != nil {
		return err
	}
	if c.rotationTask != nil {
		_ = c.rotationTask.Close()
		c.rotationTask = nil
	}
	c.controller = ctrl
	t.SetWrapper(wrapper)

	// TimeBased, TrafficBased, and Adaptive strategies only act when polled;
	// a periodic tick keeps them evaluating between traffic events.
	switch shapeshift.StrategyKind(c.cfg.Shapeshift.Strategy) {
	case shapeshift.StrategyTimeBased, shapeshift.StrategyTrafficBased, shapeshift.StrategyAdaptive:
		c.rotationTask = &task.Periodic{
			Interval: rotationTickInterval(c.cfg.Period()),
			Execute: func() error {
				_, err := ctrl.MaybeRotate()
				return err
			},
		}
		_ = c.rotationTask.Start()
	}
	return nil
}

// rotationTickInterval picks how often the strategy is re-evaluated: a
// quarter of the configured period for TimeBased, bounded to stay responsive
// without spinning.
func rotationTickInterval(period time.Duration) time.Duration {
	tick := period / 4
	if tick < time.Second {
		tick = time.Second
	}
	if tick > 30*time.Second {
		tick = 30 * time.Second
	}
	return tick
}

// Handshake drives t's handshake while holding the controller's
// handshake-in-progress guard, so no rotation lands mid-handshake, and
// feeds the outcome and latency into the active protocol's health
// tracking.
func (c *Client) Handshake(ctx context.Context, t *nasc.Transport) error {
	if c.controller == nil {
		return errors.InvalidState("nooshdaroo: client has no bound transport")
	}
	c.controller.BeginHandshake()
	defer c.controller.EndHandshake()

	protocolID := c.controller.CurrentProtocol()
	started := time.Now()
	err := t.Handshake(ctx)
	c.controller.RecordResult(protocolID, err == nil, time.Since(started))
	return err
}

// Close stops the background rotation tick. The Client remains usable for
// reads; a later BindTransport restarts rotation.
func (c *Client) Close() error {
	if c.rotationTask != nil {
		_ = c.rotationTask.Close()
		c.rotationTask = nil
	}
	return nil
}

func (c *Client) wrapperFor(protocolID string, role nasc.Role) (nasc.FrameWrapper, error) {
	spec, err := c.library.Get(protocolID)
	if err != nil {
		return nil, err
	}
	return codec.New(spec, string(role), registryFor(protocolID)), nil
}

// CurrentProtocol reads the active cover protocol id.
func (c *Client) CurrentProtocol() string {
	if c.controller == nil {
		return ""
	}
	return c.controller.CurrentProtocol()
}

// SetProtocol overrides the controller's strategy with a specific protocol.
func (c *Client) SetProtocol(id string) error {
	if c.controller == nil {
		return errors.InvalidState("nooshdaroo: client has no bound transport")
	}
	return c.controller.SetProtocol(id)
}

// Rotate forces a strategy-driven rotation now.
func (c *Client) Rotate() error {
	if c.controller == nil {
		return errors.InvalidState("nooshdaroo: client has no bound transport")
	}
	return c.controller.Rotate()
}

// Stats reports the controller's current status.
func (c *Client) Stats() Stats {
	if c.controller == nil {
		return Stats{}
	}
	return c.controller.Stats()
}

// shapeshiftConfig translates config.ShapeShiftConfig into shapeshift.Config.
func shapeshiftConfig(cfg config.ShapeShiftConfig) shapeshift.Config {
	return shapeshift.Config{
		Strategy:           shapeshift.StrategyKind(cfg.Strategy),
		Period:             time.Duration(cfg.PeriodSeconds) * time.Second,
		ByteThreshold:      uint64(cfg.ByteThreshold),
		Whitelist:          cfg.ProtocolWhitelist,
		InitialProtocol:    cfg.InitialProtocol,
		HealthWindow:       time.Duration(cfg.HealthWindowSeconds) * time.Second,
		ErrorRateThreshold: cfg.ErrorRateThreshold,
	}
}

// switchFunc builds the shapeshift.SwitchFunc that swaps t's active cover
// codec, keeping shapeshift itself ignorant of nasc/codec types.
func switchFunc(lib *library.Library, t *nasc.Transport, role nasc.Role) shapeshift.SwitchFunc {
	return func(protocolID string) error {
		spec, err := lib.Get(protocolID)
		if err != nil {
			return err
		}
		t.SetWrapper(codec.New(spec, string(role), registryFor(protocolID)))
		return nil
	}
}

// registryFor supplies the Synthesizer implementations a protocol's PSF
// delegates to via synth(...); only the https cover currently needs one
// (its handshake bytes come from uTLS rather than anything the declarative
// model can express on its own).
func registryFor(protocolID string) codec.Registry {
	switch protocolID {
	case "https":
		return https.NewRegistry(defaultCoverHostname)
	default:
		return codec.Registry{}
	}
}
