// Package shapeshift implements the Shape-Shift Controller: the policy
// engine that decides which cover protocol is active at any moment and
// exposes the small set of operations a transport or relay needs to stay in
// sync with that decision. It deliberately does not own the transport or
// the shaper.
package shapeshift

import (
	"sync"
	"time"

	"github.com/0xinf0/nooshdaroo/internal/dice"
	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// StrategyKind names one of the closed set of rotation strategies. Unlike
// PSI's protocol registry, this set is fixed in code: adding a strategy is
// a code change, the declarative extensibility point is which protocol gets
// selected, not how.
type StrategyKind string

const (
	StrategyFixed        StrategyKind = "fixed"
	StrategyRandom       StrategyKind = "random"
	StrategyTimeBased    StrategyKind = "time_based"
	StrategyTrafficBased StrategyKind = "traffic_based"
	StrategyAdaptive     StrategyKind = "adaptive"
)

// Config configures a Controller; it mirrors the shapeshift config area.
type Config struct {
	Strategy        StrategyKind
	Period          time.Duration // TimeBased
	ByteThreshold   uint64        // TrafficBased
	Whitelist       []string      // empty = every id in the pool is eligible
	InitialProtocol string
	// HealthWindow bounds the Adaptive strategy's recent-error-rate window.
	HealthWindow time.Duration
	// ErrorRateThreshold demotes a protocol once its HealthWindow error rate
	// exceeds this fraction.
	ErrorRateThreshold float64
}

// State is a snapshot of the controller's bookkeeping. One lock guards the
// whole record and Stats copies it under that lock, so every field it
// returns is from the same instant.
type State struct {
	CurrentProtocol    string
	ActiveSince        time.Time
	BytesTransferred   uint64
	PacketsTransferred uint64
	LastSwitch         time.Time
	TotalSwitches      uint64
	LastError          string
}

// Stats is State plus derived uptime, returned by Controller.Stats.
type Stats struct {
	State
	Uptime time.Duration
}

// SwitchFunc performs the mechanics of actually changing the active cover
// codec on whatever is consuming this Controller's decisions (typically a
// *nasc.Transport's SetWrapper), and reports whether it succeeded. Kept as a
// function type rather than a dependency on nasc so shapeshift stays
// ignorant of transport and codec types.
type SwitchFunc func(protocolID string) error

// Controller is the process-singleton-per-client policy engine that picks
// and tracks the active cover protocol. A Controller is safe for concurrent
// use: CurrentProtocol/Stats are reads, Rotate/SetProtocol are writes.
type Controller struct {
	cfg      Config
	pool     []string
	now      func() time.Time
	onSwitch SwitchFunc

	mu                  sync.RWMutex
	state               State
	startedAt           time.Time
	handshakeInProgress bool
	health              map[string]*health
	lastBytesAtSwitch   uint64
}

// New builds a Controller over pool (every loaded protocol id), narrowed to
// cfg.Whitelist when that is non-empty. onSwitch is invoked with the
// write lock released, so it may itself call back into the Controller.
func New(cfg Config, pool []string, onSwitch SwitchFunc) (*Controller, error) {
	eligible := pool
	if len(cfg.Whitelist) > 0 {
		allow := map[string]bool{}
		for _, id := range cfg.Whitelist {
			allow[id] = true
		}
		eligible = nil
		for _, id := range pool {
			if allow[id] {
				eligible = append(eligible, id)
			}
		}
	}
	if len(eligible) == 0 {
		return nil, errors.InvalidConfig("shapeshift: no eligible protocols in pool")
	}

	initial := cfg.InitialProtocol
	if initial == "" {
		initial = eligible[0]
	}
	if !contains(eligible, initial) {
		return nil, errors.ProtocolNotFound(initial)
	}

	if cfg.HealthWindow == 0 {
		cfg.HealthWindow = 5 * time.Minute
	}
	if cfg.ErrorRateThreshold == 0 {
		cfg.ErrorRateThreshold = 0.2
	}

	now := time.Now()
	c := &Controller{
		cfg:      cfg,
		pool:     eligible,
		now:      time.Now,
		onSwitch: onSwitch,
		state: State{
			CurrentProtocol: initial,
			ActiveSince:     now,
			LastSwitch:      now,
		},
		startedAt: now,
		health:    map[string]*health{},
	}
	for _, id := range eligible {
		c.health[id] = newHealth(cfg.HealthWindow)
	}
	return c, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// CurrentProtocol is a pure read of the active protocol id.
func (c *Controller) CurrentProtocol() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.CurrentProtocol
}

// Stats snapshots State plus uptime.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{State: c.state, Uptime: c.now().Sub(c.startedAt)}
}

// BeginHandshake marks a handshake in progress; Rotate and SetProtocol
// refuse while this is set, so a cover swap never lands mid-handshake.
func (c *Controller) BeginHandshake() {
	c.mu.Lock()
	c.handshakeInProgress = true
	c.mu.Unlock()
}

// EndHandshake clears the in-progress guard.
func (c *Controller) EndHandshake() {
	c.mu.Lock()
	c.handshakeInProgress = false
	c.mu.Unlock()
}

// RecordTraffic accounts bytes and one packet toward the running counters
// used by the TrafficBased strategy and Stats.
func (c *Controller) RecordTraffic(n int) {
	c.mu.Lock()
	c.state.BytesTransferred += uint64(n)
	c.state.PacketsTransferred++
	c.mu.Unlock()
}

// RecordResult feeds the Adaptive strategy's per-protocol health tracking:
// a failed send/handshake, or its latency.
func (c *Controller) RecordResult(protocolID string, success bool, latency time.Duration) {
	c.mu.Lock()
	h, ok := c.health[protocolID]
	c.mu.Unlock()
	if !ok {
		return
	}
	h.record(c.now(), success, latency)
}

// MaybeRotate evaluates the configured strategy and rotates if it decides
// to. Callers should invoke this periodically (a task.Periodic) and after
// every RecordTraffic for the TrafficBased strategy to stay responsive.
func (c *Controller) MaybeRotate() (bool, error) {
	if c.shouldRotate() {
		return true, c.Rotate()
	}
	return false, nil
}

func (c *Controller) shouldRotate() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Strategy {
	case StrategyFixed:
		return false
	case StrategyRandom:
		return false // Random only rotates when explicitly asked via Rotate
	case StrategyTimeBased:
		return c.cfg.Period > 0 && c.now().Sub(c.state.LastSwitch) >= c.cfg.Period
	case StrategyTrafficBased:
		return c.cfg.ByteThreshold > 0 && c.state.BytesTransferred-c.lastBytesAtSwitch >= c.cfg.ByteThreshold
	case StrategyAdaptive:
		return c.health[c.state.CurrentProtocol].degraded(c.now(), c.cfg.ErrorRateThreshold)
	default:
		return false
	}
}

// Rotate forces a switch to a different eligible protocol, chosen by the
// configured strategy. It is a no-op error, not a panic, when no rotation
// is currently possible; rotation failures are non-fatal and surfaced
// through Stats.
func (c *Controller) Rotate() error {
	c.mu.Lock()
	if c.handshakeInProgress {
		c.mu.Unlock()
		return errors.InvalidState("rotation deferred: handshake in progress")
	}
	if len(c.pool) < 2 {
		c.mu.Unlock()
		return errors.InvalidConfig("shapeshift: fewer than two eligible protocols")
	}
	next := c.pickNext()
	c.mu.Unlock()

	return c.swapTo(next)
}

// pickNext chooses the next protocol under the configured strategy. Caller
// must hold mu.
func (c *Controller) pickNext() string {
	current := c.state.CurrentProtocol
	switch c.cfg.Strategy {
	case StrategyAdaptive:
		for _, id := range c.pool {
			if id != current && !c.health[id].degraded(c.now(), c.cfg.ErrorRateThreshold) {
				return id
			}
		}
		fallthrough
	default:
		candidates := make([]string, 0, len(c.pool)-1)
		for _, id := range c.pool {
			if id != current {
				candidates = append(candidates, id)
			}
		}
		return candidates[dice.Roll(len(candidates))]
	}
}

// SetProtocol overrides the active protocol with a specific id.
func (c *Controller) SetProtocol(id string) error {
	c.mu.Lock()
	if !contains(c.pool, id) {
		c.mu.Unlock()
		return errors.ProtocolNotFound(id)
	}
	if c.handshakeInProgress {
		c.mu.Unlock()
		return errors.InvalidState("rotation deferred: handshake in progress")
	}
	c.mu.Unlock()
	return c.swapTo(id)
}

// swapTo invokes onSwitch outside the lock, then atomically commits the new
// state on success; a failed switch keeps the current protocol and records
// the error for Stats.
func (c *Controller) swapTo(id string) error {
	if c.onSwitch != nil {
		if err := c.onSwitch(id); err != nil {
			c.mu.Lock()
			c.state.LastError = err.Error()
			c.mu.Unlock()
			return err
		}
	}

	now := c.now()
	c.mu.Lock()
	c.state.CurrentProtocol = id
	c.state.ActiveSince = now
	c.state.LastSwitch = now
	c.state.TotalSwitches++
	c.state.LastError = ""
	c.lastBytesAtSwitch = c.state.BytesTransferred
	c.mu.Unlock()
	return nil
}
