package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
)

const maxReportLen = 1000

// Notifier is told about every change to a guild's open sessions.
type Notifier interface {
	Notify(guildID string)
}

type Store interface {
	repository.SettingsRepository
	repository.AttendanceRepository
}

type Service struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewService(store Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier, now: time.Now}
}

func (s *Service) Settings(ctx context.Context, guildID string) (*repository.GuildSettings, error) {
	return s.store.GetGuildSettings(ctx, guildID)
}

// Configure stores the staff role and the channel the presence message lives
// in, then publishes the message there.
func (s *Service) Configure(ctx context.Context, input repository.UpsertGuildSettingsInput) error {
	if input.GuildID == "" || input.StaffRoleID == "" || input.AttendanceChannelID == "" {
		return fmt.Errorf("guild, staff role and channel are required: %w", apperr.ErrInvalidInput)
	}
	if err := s.store.UpsertGuildSettings(ctx, input); err != nil {
		return fmt.Errorf("upsert guild settings: %w", err)
	}
	slog.Info("guild configured", "guild_id", input.GuildID, "staff_role_id", input.StaffRoleID, "channel_id", input.AttendanceChannelID)
	s.notifier.Notify(input.GuildID)
	return nil
}

func (s *Service) OnSignIn(ctx context.Context, guildID, userID string) (*repository.AttendanceSession, error) {
	sess, err := s.store.OpenAttendanceSession(ctx, repository.OpenAttendanceInput{
		GuildID:   guildID,
		UserID:    userID,
		StartedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("signed in", "guild_id", guildID, "user_id", userID, "session_id", sess.ID)
	s.notifier.Notify(guildID)
	return sess, nil
}

func (s *Service) OnSignOut(ctx context.Context, guildID, userID, report string) (*repository.AttendanceSession, error) {
	report = strings.TrimSpace(report)
	if report == "" {
		return nil, fmt.Errorf("report is required: %w", apperr.ErrInvalidInput)
	}
	if len([]rune(report)) > maxReportLen {
		return nil, fmt.Errorf("report is longer than %d characters: %w", maxReportLen, apperr.ErrInvalidInput)
	}
	sess, err := s.store.CloseAttendanceSession(ctx, repository.CloseAttendanceInput{
		GuildID: guildID,
		UserID:  userID,
		EndedAt: s.now(),
		Report:  report,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("signed out", "guild_id", guildID, "user_id", userID, "session_id", sess.ID)
	s.notifier.Notify(guildID)
	return sess, nil
}
