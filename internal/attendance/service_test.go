package attendance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	settings map[string]repository.GuildSettings
	open     map[string]*repository.AttendanceSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings: make(map[string]repository.GuildSettings),
		open:     make(map[string]*repository.AttendanceSession),
	}
}

func (f *fakeStore) GetGuildSettings(_ context.Context, guildID string) (*repository.GuildSettings, error) {
	s, ok := f.settings[guildID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStore) UpsertGuildSettings(_ context.Context, input repository.UpsertGuildSettingsInput) error {
	f.settings[input.GuildID] = repository.GuildSettings{GuildID: input.GuildID, StaffRoleID: input.StaffRoleID, AttendanceChannelID: input.AttendanceChannelID}
	return nil
}

func (f *fakeStore) SavePresenceDisplay(_ context.Context, _ repository.SavePresenceDisplayInput) error {
	return nil
}

func (f *fakeStore) OpenAttendanceSession(_ context.Context, input repository.OpenAttendanceInput) (*repository.AttendanceSession, error) {
	key := input.GuildID + "/" + input.UserID
	if _, ok := f.open[key]; ok {
		return nil, apperr.ErrConflict
	}
	s := &repository.AttendanceSession{ID: key, GuildID: input.GuildID, UserID: input.UserID, StartedAt: input.StartedAt}
	f.open[key] = s
	return s, nil
}

func (f *fakeStore) CloseAttendanceSession(_ context.Context, input repository.CloseAttendanceInput) (*repository.AttendanceSession, error) {
	key := input.GuildID + "/" + input.UserID
	s, ok := f.open[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	delete(f.open, key)
	end := input.EndedAt
	report := input.Report
	s.EndedAt = &end
	s.Report = &report
	return s, nil
}

func (f *fakeStore) ListOpenAttendanceSessions(_ context.Context, guildID string) ([]repository.AttendanceSession, error) {
	var out []repository.AttendanceSession
	for _, s := range f.open {
		if s.GuildID == guildID {
			out = append(out, *s)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	guilds []string
}

func (r *recordingNotifier) Notify(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds = append(r.guilds, guildID)
}

func TestSignInAndOutNotifyPresence(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := NewService(newFakeStore(), n)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC) }

	sess, err := s.OnSignIn(ctx, "g1", "u1")
	require.NoError(t, err)
	require.True(t, sess.IsOpen())

	_, err = s.OnSignIn(ctx, "g1", "u1")
	require.ErrorIs(t, err, apperr.ErrConflict)

	closed, err := s.OnSignOut(ctx, "g1", "u1", "  fixed the pager  ")
	require.NoError(t, err)
	require.Equal(t, "fixed the pager", *closed.Report)

	_, err = s.OnSignOut(ctx, "g1", "u1", "again")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	require.Equal(t, []string{"g1", "g1"}, n.guilds, "only successful changes notify")
}

func TestSignOutValidatesReport(t *testing.T) {
	ctx := context.Background()
	s := NewService(newFakeStore(), &recordingNotifier{})
	_, err := s.OnSignIn(ctx, "g1", "u1")
	require.NoError(t, err)

	_, err = s.OnSignOut(ctx, "g1", "u1", " ")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = s.OnSignOut(ctx, "g1", "u1", strings.Repeat("a", maxReportLen+1))
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestConfigure(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	store := newFakeStore()
	s := NewService(store, n)

	err := s.Configure(ctx, repository.UpsertGuildSettingsInput{GuildID: "g1", AttendanceChannelID: "c1"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	require.NoError(t, s.Configure(ctx, repository.UpsertGuildSettingsInput{GuildID: "g1", StaffRoleID: "r1", AttendanceChannelID: "c1"}))
	got, err := s.Settings(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, "r1", got.StaffRoleID)
	require.Equal(t, []string{"g1"}, n.guilds)
}
