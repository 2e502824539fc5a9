package signal

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActivityTimerFiresOnTimeout(t *testing.T) {
	var fired atomic.Bool
	NewActivityTimer(5*time.Millisecond, func() { fired.Store(true) })

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestActivityTimerUpdateDeferTimeout(t *testing.T) {
	var fired atomic.Bool
	timer := NewActivityTimer(20*time.Millisecond, func() { fired.Store(true) })

	deadline := time.Now().Add(60 * time.Millisecond)
	for time.Now().Before(deadline) {
		timer.Update()
		time.Sleep(5 * time.Millisecond)
	}
	require.False(t, fired.Load())

	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestActivityTimerZeroTimeoutFiresImmediately(t *testing.T) {
	var fired atomic.Bool
	NewActivityTimer(0, func() { fired.Store(true) })
	require.True(t, fired.Load())
}

func TestActivityTimerOnTimeoutCalledOnce(t *testing.T) {
	var calls int32
	timer := NewActivityTimer(5*time.Millisecond, func() { atomic.AddInt32(&calls, 1) })

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, time.Millisecond)
	timer.SetTimeout(5 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
