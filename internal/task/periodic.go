// Package task provides small scheduling helpers.
package task

import (
	"sync"
	"time"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// Periodic is a task that re-runs itself on a fixed interval until Close is
// called. A panicking Execute is recovered and logged, never crashing the
// scheduler.
type Periodic struct {
	// Interval between successive runs of Execute.
	Interval time.Duration
	// Execute is the task body. A returned error is logged, not fatal.
	Execute func() error

	access  sync.Mutex
	timer   *time.Timer
	running bool
}

func (t *Periodic) hasClosed() bool {
	t.access.Lock()
	defer t.access.Unlock()
	return !t.running
}

func (t *Periodic) checkedExecute() {
	if t.hasClosed() {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errors.LogError("periodic task panic: ", r)
			}
			t.access.Lock()
			if t.running {
				t.timer = time.AfterFunc(t.Interval, t.checkedExecute)
			}
			t.access.Unlock()
		}()

		if err := t.Execute(); err != nil {
			errors.LogWarning("periodic task failed: ", err)
		}
	}()
}

// Start begins running Execute every Interval.
func (t *Periodic) Start() error {
	t.access.Lock()
	if t.running {
		t.access.Unlock()
		return nil
	}
	t.running = true
	t.access.Unlock()

	t.checkedExecute()
	return nil
}

// Close stops future runs. A run already in flight completes.
func (t *Periodic) Close() error {
	t.access.Lock()
	defer t.access.Unlock()

	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return nil
}
