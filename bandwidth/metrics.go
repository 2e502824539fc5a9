// Package bandwidth implements the adaptive bandwidth controller and its
// token-bucket rate limiter: EWMA estimates of RTT and loss drive a
// discrete quality tier, which in turn sets the target send rate.
package bandwidth

import (
	"sync"
	"time"
)

// ewmaAlpha is the smoothing constant for a decay where a ten-sample window
// dominates the estimate: the standard N-period EWMA constant 2/(N+1) with
// N=10.
const ewmaAlpha = 2.0 / 11.0

// Metrics holds exponentially-weighted estimates of RTT, packet loss ratio,
// and throughput.
type Metrics struct {
	mu sync.Mutex

	rtt        time.Duration
	rttSet     bool
	lossRatio  float64
	lossSet    bool
	throughput float64 // bytes/sec, EWMA over observed packet sizes and arrival gaps

	lastPacketAt time.Time
}

// RecordRTT folds one round-trip-time sample into the running estimate.
func (m *Metrics) RecordRTT(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rttSet {
		m.rtt = d
		m.rttSet = true
		return
	}
	m.rtt = time.Duration(ewmaAlpha*float64(d) + (1-ewmaAlpha)*float64(m.rtt))
}

// RecordPacket folds one packet observation (its size and whether it was
// lost) into the running loss ratio and throughput estimates.
func (m *Metrics) RecordPacket(n int, wasLoss bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample := 0.0
	if wasLoss {
		sample = 1.0
	}
	if !m.lossSet {
		m.lossRatio = sample
		m.lossSet = true
	} else {
		m.lossRatio = ewmaAlpha*sample + (1-ewmaAlpha)*m.lossRatio
	}

	now := time.Now()
	if !m.lastPacketAt.IsZero() && !wasLoss {
		elapsed := now.Sub(m.lastPacketAt).Seconds()
		if elapsed > 0 {
			rate := float64(n) / elapsed
			if m.throughput == 0 {
				m.throughput = rate
			} else {
				m.throughput = ewmaAlpha*rate + (1-ewmaAlpha)*m.throughput
			}
		}
	}
	m.lastPacketAt = now
}

// Snapshot returns the current RTT, loss ratio, and throughput estimates.
func (m *Metrics) Snapshot() (rtt time.Duration, lossRatio float64, throughput float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rtt, m.lossRatio, m.throughput
}
