// Package tick drives periodic background work. A Loop sleeps until the next
// due time of its schedule and runs its task, skipping a tick when the
// previous run is still in flight.
package tick

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

type Task func(ctx context.Context) error

type Loop struct {
	name     string
	schedule cron.Schedule
	task     Task

	running atomic.Bool
	wg      sync.WaitGroup
}

func NewLoop(name string, schedule cron.Schedule, task Task) *Loop {
	return &Loop{name: name, schedule: schedule, task: task}
}

// Every returns a loop firing at a fixed interval, truncated to whole seconds.
func Every(name string, interval time.Duration, task Task) *Loop {
	return NewLoop(name, cron.Every(interval), task)
}

// Run triggers the task once immediately and then at every due time until
// ctx is done. It waits for an in-flight run before returning.
func (l *Loop) Run(ctx context.Context) error {
	defer l.wg.Wait()
	slog.Info("tick loop started", "loop", l.name)
	l.spawn(ctx)
	for {
		next := l.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("tick loop stopped", "loop", l.name)
			return nil
		case <-timer.C:
			l.spawn(ctx)
		}
	}
}

func (l *Loop) spawn(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Trigger(ctx)
	}()
}

// Trigger runs the task now unless a run is already in flight. It reports
// whether the task ran.
func (l *Loop) Trigger(ctx context.Context) bool {
	if !l.running.CompareAndSwap(false, true) {
		slog.Warn("tick skipped; previous run still in flight", "loop", l.name)
		return false
	}
	defer l.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tick task panicked", "loop", l.name, "panic", r)
		}
	}()

	started := time.Now()
	if err := l.task(ctx); err != nil {
		slog.Error("tick task failed", "loop", l.name, "error", err)
		return true
	}
	slog.Debug("tick task finished", "loop", l.name, "elapsed", time.Since(started))
	return true
}
