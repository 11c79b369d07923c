package schedulefile

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
	"github.com/stretchr/testify/require"
)

type fakeDefiner struct {
	mu      sync.Mutex
	defined map[string]schedule.DefineInput
	defines int
}

func newFakeDefiner() *fakeDefiner {
	return &fakeDefiner{defined: make(map[string]schedule.DefineInput)}
}

func (f *fakeDefiner) Define(_ context.Context, input schedule.DefineInput) (*repository.ScheduleDefinition, error) {
	if input.Cron == "bad" {
		return nil, apperr.ErrInvalidInput
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defines++
	f.defined[input.GuildID+"/"+input.Name] = input
	return &repository.ScheduleDefinition{GuildID: input.GuildID, Name: input.Name}, nil
}

func (f *fakeDefiner) Remove(_ context.Context, guildID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := guildID + "/" + name
	if _, ok := f.defined[k]; !ok {
		return apperr.ErrNotFound
	}
	delete(f.defined, k)
	return nil
}

func (f *fakeDefiner) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.defined))
	for k := range f.defined {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fakeDefiner) defineCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.defines
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

const twoSchedules = `
schedules:
  - guild_id: g1
    name: standup
    cron: "0 9 * * 1-5"
    channel_id: c1
    message: Standup time
  - guild_id: g1
    name: weekly
    cron: "@weekly"
    channel_id: c2
`

func TestParse(t *testing.T) {
	entries, err := Parse([]byte(twoSchedules))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, Entry{GuildID: "g1", Name: "standup", Cron: "0 9 * * 1-5", ChannelID: "c1", Message: "Standup time"}, entries[0])

	entries, err = Parse(nil)
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = Parse([]byte("schedules:\n  - guild_id: g1\n    name: a\n    colour: red\n"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = Parse([]byte("schedules:\n  - guild_id: g1\n    name: a\n  - guild_id: g1\n    name: a\n"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = Parse([]byte("schedules:\n  - name: a\n"))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestApply_DefinesAndRemovesDroppedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, twoSchedules)
	d := newFakeDefiner()
	w := NewWatcher(path, d)

	require.NoError(t, w.Apply(context.Background()))
	require.Equal(t, []string{"g1/standup", "g1/weekly"}, d.keys())

	writeFile(t, path, "schedules:\n  - guild_id: g1\n    name: standup\n    cron: \"@daily\"\n    channel_id: c1\n")
	require.NoError(t, w.Apply(context.Background()))
	require.Equal(t, []string{"g1/standup"}, d.keys())
}

func TestApply_SkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, twoSchedules)
	d := newFakeDefiner()
	w := NewWatcher(path, d)

	require.NoError(t, w.Apply(context.Background()))
	require.NoError(t, w.Apply(context.Background()))
	require.Equal(t, 2, d.defineCount())
}

func TestApply_InvalidEntryIsRetried(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, "schedules:\n  - guild_id: g1\n    name: a\n    cron: bad\n    channel_id: c1\n  - guild_id: g1\n    name: b\n    cron: \"@daily\"\n    channel_id: c1\n")
	d := newFakeDefiner()
	w := NewWatcher(path, d)

	require.NoError(t, w.Apply(context.Background()))
	require.Equal(t, []string{"g1/b"}, d.keys())

	require.NoError(t, w.Apply(context.Background()))
	require.Equal(t, 2, d.defineCount())
}

func TestApply_MissingFile(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), newFakeDefiner())
	require.Error(t, w.Apply(context.Background()))
}

func TestWatch_ReappliesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	writeFile(t, path, twoSchedules)
	d := newFakeDefiner()
	w := NewWatcher(path, d)
	w.reloadDelay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	waitUntil(t, 2*time.Second, func() bool { return len(d.keys()) == 2 }, "initial apply did not happen")

	// The watcher may still be registering the directory; keep rewriting
	// until the change is observed.
	deadline := time.Now().Add(5 * time.Second)
	for len(d.keys()) != 1 && time.Now().Before(deadline) {
		writeFile(t, path, "schedules:\n  - guild_id: g2\n    name: nightly\n    cron: \"@midnight\"\n    channel_id: c9\n")
		time.Sleep(100 * time.Millisecond)
	}
	require.Equal(t, []string{"g2/nightly"}, d.keys())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
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
