package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu        sync.Mutex
	settings  map[string]*repository.GuildSettings
	sessions  map[string][]repository.AttendanceSession
	listCalls map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:  make(map[string]*repository.GuildSettings),
		sessions:  make(map[string][]repository.AttendanceSession),
		listCalls: make(map[string]int),
	}
}

func (f *fakeStore) configure(guildID, channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[guildID] = &repository.GuildSettings{GuildID: guildID, AttendanceChannelID: channelID}
}

func (f *fakeStore) signIn(guildID, userID string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[guildID] = append(f.sessions[guildID], repository.AttendanceSession{GuildID: guildID, UserID: userID, StartedAt: at})
}

func (f *fakeStore) lists(guildID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[guildID]
}

func (f *fakeStore) GetGuildSettings(_ context.Context, guildID string) (*repository.GuildSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[guildID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpsertGuildSettings(_ context.Context, input repository.UpsertGuildSettingsInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[input.GuildID] = &repository.GuildSettings{GuildID: input.GuildID, StaffRoleID: input.StaffRoleID, AttendanceChannelID: input.AttendanceChannelID}
	return nil
}

func (f *fakeStore) SavePresenceDisplay(_ context.Context, input repository.SavePresenceDisplayInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.settings[input.GuildID]
	s.AttendanceMessageID = input.AttendanceMessageID
	s.PresenceFingerprint = input.PresenceFingerprint
	return nil
}

func (f *fakeStore) ListOpenAttendanceSessions(_ context.Context, guildID string) ([]repository.AttendanceSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[guildID]++
	return append([]repository.AttendanceSession(nil), f.sessions[guildID]...), nil
}

type fakeSink struct {
	mu        sync.Mutex
	sends     map[string]int
	edits     map[string]int
	editErr   error
	sendErr   error
	sendPanic bool
	block     chan struct{}
	nextID    int
}

func (f *fakeSink) fail(err error, panics bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
	f.sendPanic = panics
}

func newFakeSink() *fakeSink {
	return &fakeSink{sends: make(map[string]int), edits: make(map[string]int)}
}

func (f *fakeSink) counts(channelID string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends[channelID], f.edits[channelID]
}

func (f *fakeSink) SendChannelMessage(_ context.Context, channelID string, _ discord.Message) (string, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendPanic {
		panic("sink exploded")
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends[channelID]++
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeSink) EditChannelMessage(_ context.Context, channelID, _ string, _ discord.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits[channelID]++
	return nil
}

func (f *fakeSink) SendDirectMessage(_ context.Context, _ string, _ discord.Message) error {
	return nil
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

func TestNotify_CoalescesBurstIntoOneRefresh(t *testing.T) {
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	u := NewUpdater(store, sink, 50*time.Millisecond, time.Second)
	t.Cleanup(u.Stop)

	for i := 0; i < 5; i++ {
		store.signIn("g1", fmt.Sprintf("u%d", i), time.Unix(1700000000+int64(i), 0))
		u.Notify("g1")
		time.Sleep(5 * time.Millisecond)
	}

	waitUntil(t, time.Second, func() bool {
		sends, _ := sink.counts("c1")
		return sends == 1
	}, "expected one status message to be sent")
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, 1, store.lists("g1"))
	sends, edits := sink.counts("c1")
	require.Equal(t, 1, sends)
	require.Zero(t, edits)
}

func TestNotify_GuildsAreIndependent(t *testing.T) {
	store := newFakeStore()
	store.configure("g1", "c1")
	store.configure("g2", "c2")
	sink := newFakeSink()
	u := NewUpdater(store, sink, 30*time.Millisecond, time.Second)
	t.Cleanup(u.Stop)

	u.Notify("g1")
	u.Notify("g2")

	waitUntil(t, time.Second, func() bool {
		s1, _ := sink.counts("c1")
		s2, _ := sink.counts("c2")
		return s1 == 1 && s2 == 1
	}, "expected both guilds to refresh")
	require.Equal(t, 1, store.lists("g1"))
	require.Equal(t, 1, store.lists("g2"))
}

func TestNotify_DuringRunningRefreshSchedulesExactlyOneMore(t *testing.T) {
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	sink.block = make(chan struct{})
	u := NewUpdater(store, sink, 20*time.Millisecond, time.Second)
	t.Cleanup(u.Stop)

	u.Notify("g1")
	waitUntil(t, time.Second, func() bool { return store.lists("g1") == 1 }, "first refresh did not start")

	store.signIn("g1", "late", time.Unix(1700000100, 0))
	u.Notify("g1")
	u.Notify("g1")
	u.Notify("g1")

	sink.mu.Lock()
	close(sink.block)
	sink.block = nil
	sink.mu.Unlock()

	waitUntil(t, time.Second, func() bool { return store.lists("g1") == 2 }, "expected a follow-up refresh")
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, store.lists("g1"))
	sends, edits := sink.counts("c1")
	require.Equal(t, 1, sends)
	require.Equal(t, 1, edits)
}

func TestNotify_MaxWaitBoundsContinuousBurst(t *testing.T) {
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	u := NewUpdater(store, sink, 40*time.Millisecond, 100*time.Millisecond)
	t.Cleanup(u.Stop)

	stop := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(stop) {
		u.Notify("g1")
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, store.lists("g1"), 1, "refresh must not starve during a burst")
}

func TestRefresh_IsIdempotentForUnchangedPresence(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.configure("g1", "c1")
	store.signIn("g1", "u1", time.Unix(1700000000, 0))
	sink := newFakeSink()
	u := NewUpdater(store, sink, time.Second, time.Second)
	t.Cleanup(u.Stop)

	require.NoError(t, u.Refresh(ctx, "g1"))
	require.NoError(t, u.Refresh(ctx, "g1"))
	sends, edits := sink.counts("c1")
	require.Equal(t, 1, sends)
	require.Zero(t, edits)

	store.signIn("g1", "u2", time.Unix(1700000500, 0))
	require.NoError(t, u.Refresh(ctx, "g1"))
	sends, edits = sink.counts("c1")
	require.Equal(t, 1, sends)
	require.Equal(t, 1, edits)
}

func TestRefresh_SendsNewMessageWhenEditTargetIsGone(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	u := NewUpdater(store, sink, time.Second, time.Second)
	t.Cleanup(u.Stop)

	require.NoError(t, u.Refresh(ctx, "g1"))
	first, _ := store.GetGuildSettings(ctx, "g1")

	sink.editErr = fmt.Errorf("wrapped: %w", discord.ErrMessageNotFound)
	store.signIn("g1", "u1", time.Unix(1700000000, 0))
	require.NoError(t, u.Refresh(ctx, "g1"))

	sends, _ := sink.counts("c1")
	require.Equal(t, 2, sends)
	second, _ := store.GetGuildSettings(ctx, "g1")
	require.NotEqual(t, first.AttendanceMessageID, second.AttendanceMessageID)
}

func TestRefresh_FailedSendKeepsFingerprint(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	sink.sendErr = apperr.ErrSinkUnavailable
	u := NewUpdater(store, sink, time.Second, time.Second)
	t.Cleanup(u.Stop)

	err := u.Refresh(ctx, "g1")
	require.ErrorIs(t, err, apperr.ErrSinkUnavailable)
	s, _ := store.GetGuildSettings(ctx, "g1")
	require.Empty(t, s.PresenceFingerprint)
	require.Empty(t, s.AttendanceMessageID)
}

func hasGuildState(u *Updater, guildID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.guilds[guildID]
	return ok
}

func TestNotify_FailedRefreshLeavesNoPendingState(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		panics bool
	}{
		{name: "sink error", err: apperr.ErrSinkUnavailable},
		{name: "sink panic", panics: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.configure("g1", "c1")
			sink := newFakeSink()
			sink.fail(tt.err, tt.panics)
			u := NewUpdater(store, sink, 20*time.Millisecond, time.Second)
			t.Cleanup(u.Stop)

			u.Notify("g1")
			waitUntil(t, time.Second, func() bool {
				return store.lists("g1") == 1 && !hasGuildState(u, "g1")
			}, "failed refresh did not clear the guild state")
			sends, _ := sink.counts("c1")
			require.Zero(t, sends)

			sink.fail(nil, false)
			u.Notify("g1")
			waitUntil(t, time.Second, func() bool {
				sends, _ := sink.counts("c1")
				return sends == 1
			}, "expected the next notify to refresh again")
			waitUntil(t, time.Second, func() bool { return !hasGuildState(u, "g1") }, "guild state was not removed")
			time.Sleep(60 * time.Millisecond)
			require.Equal(t, 2, store.lists("g1"))
			s, _ := store.GetGuildSettings(context.Background(), "g1")
			require.NotEmpty(t, s.PresenceFingerprint)
		})
	}
}

func TestRefresh_ConfigMissing(t *testing.T) {
	store := newFakeStore()
	sink := newFakeSink()
	u := NewUpdater(store, sink, time.Second, time.Second)
	t.Cleanup(u.Stop)

	err := u.Refresh(context.Background(), "g1")
	require.True(t, errors.Is(err, apperr.ErrConfigMissing))
	sends, edits := sink.counts("")
	require.Zero(t, sends+edits)
	require.Zero(t, store.lists("g1"))
}

func TestStop_CancelsPendingRefresh(t *testing.T) {
	store := newFakeStore()
	store.configure("g1", "c1")
	sink := newFakeSink()
	u := NewUpdater(store, sink, 50*time.Millisecond, time.Second)

	u.Notify("g1")
	u.Stop()
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, store.lists("g1"))

	u.Notify("g1")
	time.Sleep(100 * time.Millisecond)
	require.Zero(t, store.lists("g1"))
}
