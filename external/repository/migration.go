package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS guild_settings (
		guild_id TEXT PRIMARY KEY,
		staff_role_id TEXT NOT NULL DEFAULT '',
		attendance_channel_id TEXT NOT NULL DEFAULT '',
		attendance_message_id TEXT NOT NULL DEFAULT '',
		presence_fingerprint TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		report TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_sessions_open ON attendance_sessions (guild_id, user_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		token TEXT PRIMARY KEY,
		duration TEXT NOT NULL,
		guild_id TEXT NOT NULL DEFAULT '',
		assigned_user_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		activated_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		notice_state TEXT NOT NULL DEFAULT 'not_warned' CHECK (notice_state IN ('not_warned', 'warned', 'expired'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entitlements_pending ON entitlements (expires_at) WHERE activated_at IS NOT NULL AND notice_state <> 'expired'`,
	`CREATE INDEX IF NOT EXISTS idx_entitlements_guild ON entitlements (guild_id) WHERE activated_at IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id UUID PRIMARY KEY,
		guild_id TEXT NOT NULL,
		name TEXT NOT NULL,
		cron TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message TEXT NOT NULL,
		last_fired_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE(guild_id, name)
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
