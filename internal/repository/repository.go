package repository

import (
	"context"
	"time"
)

type UpsertGuildSettingsInput struct {
	GuildID             string
	StaffRoleID         string
	AttendanceChannelID string
}

type SavePresenceDisplayInput struct {
	GuildID             string
	AttendanceMessageID string
	PresenceFingerprint string
}

type OpenAttendanceInput struct {
	GuildID   string
	UserID    string
	StartedAt time.Time
}

type CloseAttendanceInput struct {
	GuildID string
	UserID  string
	EndedAt time.Time
	Report  string
}

type CreateEntitlementInput struct {
	Token          string
	Duration       string
	AssignedUserID string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}

type ActivateEntitlementInput struct {
	Token       string
	GuildID     string
	ActivatedAt time.Time
}

// EntitlementSelector narrows a bulk entitlement operation. Empty fields match
// anything; GuildID only applies to activated entitlements since unissued ones
// are not bound to a guild yet.
type EntitlementSelector struct {
	GuildID        string
	Token          string
	AssignedUserID string
}

type UpsertScheduleInput struct {
	GuildID   string
	Name      string
	Cron      string
	ChannelID string
	Message   string
	At        time.Time
}

type SettingsRepository interface {
	GetGuildSettings(ctx context.Context, guildID string) (*GuildSettings, error)
	UpsertGuildSettings(ctx context.Context, input UpsertGuildSettingsInput) error
	SavePresenceDisplay(ctx context.Context, input SavePresenceDisplayInput) error
}

type AttendanceRepository interface {
	// OpenAttendanceSession returns apperr.ErrConflict when the user already has
	// an open session in the guild.
	OpenAttendanceSession(ctx context.Context, input OpenAttendanceInput) (*AttendanceSession, error)
	// CloseAttendanceSession returns apperr.ErrNotFound when there is no open
	// session to close.
	CloseAttendanceSession(ctx context.Context, input CloseAttendanceInput) (*AttendanceSession, error)
	ListOpenAttendanceSessions(ctx context.Context, guildID string) ([]AttendanceSession, error)
}

type EntitlementRepository interface {
	CreateEntitlement(ctx context.Context, input CreateEntitlementInput) (*Entitlement, error)
	GetEntitlementByToken(ctx context.Context, token string) (*Entitlement, error)
	// ActivateEntitlement binds an unissued entitlement to a guild. Only one
	// caller can win; the rest observe apperr.ErrConflict.
	ActivateEntitlement(ctx context.Context, input ActivateEntitlementInput) (*Entitlement, error)
	FindUnissuedEntitlement(ctx context.Context, sel EntitlementSelector) (*Entitlement, error)
	FindActiveEntitlement(ctx context.Context, guildID string, now time.Time) (*Entitlement, error)
	DeleteUnissuedEntitlement(ctx context.Context, token string) error
	// ForceExpireEntitlements sets expires_at to at for every activated
	// entitlement matching sel that has not already expired at that instant.
	ForceExpireEntitlements(ctx context.Context, sel EntitlementSelector, at time.Time) (int, error)
	// ListPendingEntitlementNotices returns activated entitlements with an
	// expiry whose notice state has not reached expired.
	ListPendingEntitlementNotices(ctx context.Context) ([]Entitlement, error)
	// TransitionNoticeState is a compare-and-set on the notice state.
	TransitionNoticeState(ctx context.Context, token string, from, to NoticeState) (bool, error)
}

type ScheduleRepository interface {
	// UpsertSchedule keys definitions by (guild, name) and keeps the watermark.
	UpsertSchedule(ctx context.Context, input UpsertScheduleInput) (*ScheduleDefinition, error)
	ListSchedules(ctx context.Context) ([]ScheduleDefinition, error)
	ListGuildSchedules(ctx context.Context, guildID string) ([]ScheduleDefinition, error)
	DeleteSchedule(ctx context.Context, guildID, name string) error
	// AdvanceScheduleWatermark moves last_fired_at from expected (nil = never
	// fired) to next. It reports false when another writer got there first.
	AdvanceScheduleWatermark(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error)
}

type Repository interface {
	SettingsRepository
	AttendanceRepository
	EntitlementRepository
	ScheduleRepository
	Close()
}
