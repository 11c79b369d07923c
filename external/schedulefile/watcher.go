package schedulefile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
	"github.com/fsnotify/fsnotify"
)

const defaultReloadDelay = 250 * time.Millisecond

type Definer interface {
	Define(ctx context.Context, input schedule.DefineInput) (*repository.ScheduleDefinition, error)
	Remove(ctx context.Context, guildID, name string) error
}

// Watcher keeps the schedules declared in a YAML file in sync with the store.
// Entries dropped from the file are removed; schedules created through slash
// commands are never touched.
type Watcher struct {
	path        string
	definer     Definer
	reloadDelay time.Duration

	mu       sync.Mutex
	applied  map[string]Entry
	lastHash uint64
}

func NewWatcher(path string, definer Definer) *Watcher {
	return &Watcher{
		path:        path,
		definer:     definer,
		reloadDelay: defaultReloadDelay,
		applied:     make(map[string]Entry),
	}
}

// Apply loads the file and upserts every entry. Invalid entries are logged
// and skipped; the file is retried on the next change until all entries apply.
func (w *Watcher) Apply(ctx context.Context) error {
	entries, sum, err := load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if sum == w.lastHash && w.lastHash != 0 {
		slog.Debug("schedules file unchanged", "path", w.path)
		return nil
	}

	next := make(map[string]Entry, len(entries))
	failed := 0
	for _, e := range entries {
		_, err := w.definer.Define(ctx, schedule.DefineInput{
			GuildID:   e.GuildID,
			Name:      e.Name,
			Cron:      e.Cron,
			ChannelID: e.ChannelID,
			Message:   e.Message,
		})
		if err != nil {
			failed++
			slog.Warn("failed to apply schedule from file", "path", w.path, "guild_id", e.GuildID, "name", e.Name, "error", err)
			continue
		}
		next[e.key()] = e
	}

	for k, e := range w.applied {
		if _, ok := next[k]; ok {
			continue
		}
		if err := w.definer.Remove(ctx, e.GuildID, e.Name); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			slog.Warn("failed to remove schedule dropped from file", "path", w.path, "guild_id", e.GuildID, "name", e.Name, "error", err)
			next[k] = e
		}
	}

	w.applied = next
	if failed == 0 {
		w.lastHash = sum
	}
	slog.Info("schedules file applied", "path", w.path, "entries", len(entries), "failed", failed)
	return nil
}

// Watch applies the file once and then again whenever it changes, until ctx
// is canceled. The parent directory is watched so editors that replace the
// file on save are followed.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.Apply(ctx); err != nil {
		slog.Warn("initial schedules file load failed", "path", w.path, "error", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schedules file watcher: %w", err)
	}
	defer fw.Close()
	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	file := filepath.Base(w.path)
	slog.Info("watching schedules file", "path", w.path)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.reloadDelay)
			} else {
				timer.Reset(w.reloadDelay)
			}
			pending = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("schedules file watch error", "path", w.path, "error", err)
		case <-pending:
			pending = nil
			if err := w.Apply(ctx); err != nil {
				slog.Warn("schedules file reload failed", "path", w.path, "error", err)
			}
		}
	}
}
