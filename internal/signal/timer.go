// Package signal provides small synchronization helpers.
package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/0xinf0/nooshdaroo/internal/task"
)

// ActivityUpdater is notified whenever the owner wants to reset an
// ActivityTimer's inactivity clock.
type ActivityUpdater interface {
	Update()
}

// ActivityTimer fires onTimeout once no Update() call arrives within the
// configured timeout. Used to reap idle DNS-UDP fallback tunnel sessions
// and idle ConnectProxy upstream connections.
type ActivityTimer struct {
	mu        sync.Mutex
	updated   chan struct{}
	checkTask *task.Periodic
	onTimeout func()
	consumed  atomic.Bool
	once      sync.Once
}

// Update resets the inactivity clock.
func (t *ActivityTimer) Update() {
	select {
	case t.updated <- struct{}{}:
	default:
	}
}

func (t *ActivityTimer) check() error {
	select {
	case <-t.updated:
	default:
		t.finish()
	}
	return nil
}

func (t *ActivityTimer) finish() {
	t.once.Do(func() {
		t.consumed.Store(true)
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.checkTask != nil {
			t.checkTask.Close()
		}
		t.onTimeout()
	})
}

// SetTimeout (re)arms the timer. A zero timeout fires immediately.
func (t *ActivityTimer) SetTimeout(timeout time.Duration) {
	if t.consumed.Load() {
		return
	}
	if timeout == 0 {
		t.finish()
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumed.Load() {
		return
	}
	newTask := &task.Periodic{Interval: timeout, Execute: t.check}
	if t.checkTask != nil {
		t.checkTask.Close()
	}
	t.checkTask = newTask
	t.Update()
	newTask.Start()
}

// NewActivityTimer creates an ActivityTimer that calls onTimeout after
// timeout elapses without an Update() call.
func NewActivityTimer(timeout time.Duration, onTimeout func()) *ActivityTimer {
	timer := &ActivityTimer{
		updated:   make(chan struct{}, 1),
		onTimeout: onTimeout,
	}
	timer.SetTimeout(timeout)
	return timer
}
