package repository

import "time"

type AttendanceSession struct {
	ID        string
	GuildID   string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
	Report    *string
}

func (s AttendanceSession) IsOpen() bool {
	return s.EndedAt == nil
}

// GuildSettings holds per-guild configuration together with the presence
// display state (message id + fingerprint) owned by the presence updater.
type GuildSettings struct {
	GuildID             string
	StaffRoleID         string
	AttendanceChannelID string
	AttendanceMessageID string
	PresenceFingerprint string
	UpdatedAt           time.Time
}

type NoticeState string

const (
	NoticeStateNotWarned NoticeState = "not_warned"
	NoticeStateWarned    NoticeState = "warned"
	NoticeStateExpired   NoticeState = "expired"
)

type Entitlement struct {
	Token          string
	Duration       string
	GuildID        string
	AssignedUserID string
	CreatedAt      time.Time
	ActivatedAt    *time.Time
	ExpiresAt      *time.Time
	NoticeState    NoticeState
}

func (e Entitlement) IsActivated() bool {
	return e.ActivatedAt != nil
}

// IsPermanent reports whether the entitlement never expires.
func (e Entitlement) IsPermanent() bool {
	return e.ExpiresAt == nil
}

type ScheduleDefinition struct {
	ID          string
	GuildID     string
	Name        string
	Cron        string
	ChannelID   string
	Message     string
	LastFiredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
