// Package relay glues a local client connection to a nasc.Transport tunnel,
// pumping bytes in both directions until either side closes. Each direction
// runs as its own goroutine; the two share no mutable state, communicating
// only through the duplex byte transports at their ends.
package relay

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/0xinf0/nooshdaroo/bandwidth"
	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/internal/task"
	"github.com/0xinf0/nooshdaroo/nasc"
	"github.com/0xinf0/nooshdaroo/trafficshaper"
)

// maxMessageSize bounds one Transport.Write call's plaintext.
const maxMessageSize = nasc.MaxPlaintext

// defaultProbeInterval paces the quality probes sent while a Bandwidth
// controller is attached.
const defaultProbeInterval = 3 * time.Second

// Pacing is the set of optional capabilities a Relay consults when shaping
// its outbound data-phase traffic; a nil Pacing disables pacing entirely.
type Pacing struct {
	Shaper  *trafficshaper.Shaper
	Limiter *bandwidth.RateLimiter
	// Bandwidth, when set, turns on periodic quality probes over the
	// tunnel: the transport's ping/pong exchange feeds the controller real
	// RTT samples, and unanswered probes feed it loss. The controller must
	// also be the transport's Monitor for the answers to reach it.
	Bandwidth *bandwidth.Controller
	// ProbeInterval overrides the probe cadence; zero uses
	// defaultProbeInterval.
	ProbeInterval time.Duration
}

// Relay pumps bytes between local (an application's raw connection, e.g.
// the SOCKS5 front end's accepted socket) and remote (an established NASC
// tunnel) in both directions until either side closes or errors.
type Relay struct {
	id     uuid.UUID
	local  io.ReadWriteCloser
	remote *nasc.Transport
	pacing *Pacing
}

// New builds a Relay, assigning it a random correlation id so its log lines
// can be followed across both sibling tasks without needing to print either
// endpoint's address. pacing may be nil.
func New(local io.ReadWriteCloser, remote *nasc.Transport, pacing *Pacing) *Relay {
	return &Relay{id: uuid.New(), local: local, remote: remote, pacing: pacing}
}

// ID returns this relay's correlation id, stable for its lifetime.
func (r *Relay) ID() uuid.UUID { return r.id }

// Run drives both directions to completion, returning the first non-EOF
// error from either, or nil once both sides have cleanly closed. Cancelling
// ctx (or one direction failing) tears down both the local connection and
// the remote transport.
func (r *Relay) Run(ctx context.Context) error {
	errors.LogInfo("relay ", r.id, ": starting")
	g, ctx := errgroup.WithContext(ctx)
	// local.Read does not observe ctx; closing local is what unblocks it.
	go func() {
		<-ctx.Done()
		_ = r.local.Close()
	}()
	g.Go(func() error { return r.localToRemote(ctx) })
	g.Go(func() error { return r.remoteToLocal(ctx) })

	if prober := r.newProber(ctx); prober != nil {
		_ = prober.Start()
		defer prober.Close()
	}

	err := g.Wait()
	_ = r.local.Close()
	_ = r.remote.Close()
	if err != nil {
		errors.LogWarning("relay ", r.id, ": closed with error: ", err)
	} else {
		errors.LogInfo("relay ", r.id, ": closed")
	}
	return err
}

func (r *Relay) localToRemote(ctx context.Context) error {
	buf := make([]byte, maxMessageSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := r.local.Read(buf)
		if n > 0 {
			if err := r.sendShaped(ctx, buf[:n]); err != nil {
				return err
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Io(err)
		}
	}
}

// sendShaped writes chunk to remote, consulting Pacing for a rate-limiter
// wait and an inter-packet delay sample before each send, and splitting the
// chunk to the shaper's sampled packet size. When a burst pattern fires, the
// burst plan's size and spacing override the sampled ones for the next
// plan.Count pieces. Pacing applies only here, never to handshake traffic:
// control messages required for handshake progress are never delayed.
func (r *Relay) sendShaped(ctx context.Context, chunk []byte) error {
	if r.pacing == nil {
		return r.remote.Write(ctx, chunk)
	}
	var burst trafficshaper.BurstPlan
	burstLeft := 0
	first := true
	for len(chunk) > 0 {
		size := len(chunk)
		var delay time.Duration
		if r.pacing.Shaper != nil {
			if burstLeft == 0 {
				if plan, ok := r.pacing.Shaper.MaybeBurst(); ok {
					burst, burstLeft = plan, plan.Count
				}
			}
			if burstLeft > 0 {
				if burst.Size > 0 && burst.Size < size {
					size = burst.Size
				}
				delay = burst.Spacing
				burstLeft--
			} else {
				if s := r.pacing.Shaper.NextPacketSize(trafficshaper.Upstream); s > 0 && s < size {
					size = s
				}
				delay = r.pacing.Shaper.NextDelay(trafficshaper.Upstream)
			}
		}
		piece := chunk[:size]
		chunk = chunk[size:]

		if !first && delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}
		first = false

		if r.pacing.Limiter != nil {
			if err := r.pacing.Limiter.WaitFor(ctx, len(piece)); err != nil {
				return err
			}
		}
		if err := r.remote.Write(ctx, piece); err != nil {
			return err
		}
	}
	return nil
}

// newProber builds the periodic quality probe driving the attached
// bandwidth controller, or nil when none is attached. Each tick pings the
// tunnel; the pong (or its absence by the next tick) reaches the controller
// through the transport's Monitor.
func (r *Relay) newProber(ctx context.Context) *task.Periodic {
	if r.pacing == nil || r.pacing.Bandwidth == nil {
		return nil
	}
	interval := r.pacing.ProbeInterval
	if interval == 0 {
		interval = defaultProbeInterval
	}
	return &task.Periodic{
		Interval: interval,
		Execute: func() error {
			if ctx.Err() != nil {
				return nil
			}
			return r.remote.Ping(ctx)
		},
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
// The shaper hands out delays but never sleeps itself.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return errors.Io(ctx.Err())
	case <-t.C:
		return nil
	}
}

func (r *Relay) remoteToLocal(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		plain, err := r.remote.Read(ctx)
		if err != nil {
			return err
		}
		if _, err := r.local.Write(plain); err != nil {
			return errors.Io(err)
		}
	}
}
