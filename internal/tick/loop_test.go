package tick

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scheduleFunc func(time.Time) time.Time

func (f scheduleFunc) Next(t time.Time) time.Time {
	return f(t)
}

func every(d time.Duration) scheduleFunc {
	return func(t time.Time) time.Time { return t.Add(d) }
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func TestTrigger_SkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	l := NewLoop("test", every(time.Hour), func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})

	done := make(chan bool)
	go func() { done <- l.Trigger(context.Background()) }()
	waitUntil(t, time.Second, func() bool { return runs.Load() == 1 }, "first run did not start")

	require.False(t, l.Trigger(context.Background()))
	close(release)
	require.True(t, <-done)

	require.True(t, l.Trigger(context.Background()))
	require.Equal(t, int32(2), runs.Load())
}

func TestTrigger_RecoversPanicAndReleases(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop("test", every(time.Hour), func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("ordinary failure")
	})

	require.True(t, l.Trigger(context.Background()))
	require.True(t, l.Trigger(context.Background()))
	require.Equal(t, int32(2), runs.Load())
}

func TestRun_FiresAtDueTimesUntilCanceled(t *testing.T) {
	var runs atomic.Int32
	l := NewLoop("test", every(20*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() { stopped <- l.Run(ctx) }()

	waitUntil(t, time.Second, func() bool { return runs.Load() >= 3 }, "loop did not fire repeatedly")
	cancel()
	require.NoError(t, <-stopped)

	n := runs.Load()
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, n, runs.Load())
}

func TestRun_SlowTaskDoesNotOverlap(t *testing.T) {
	var inflight, maxInflight, runs atomic.Int32
	l := NewLoop("test", every(5*time.Millisecond), func(ctx context.Context) error {
		cur := inflight.Add(1)
		for {
			old := maxInflight.Load()
			if cur <= old || maxInflight.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inflight.Add(-1)
		runs.Add(1)
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() { stopped <- l.Run(ctx) }()

	waitUntil(t, 2*time.Second, func() bool { return runs.Load() >= 2 }, "slow task did not run twice")
	cancel()
	require.NoError(t, <-stopped)
	require.Equal(t, int32(1), maxInflight.Load())
	require.Zero(t, inflight.Load())
}
