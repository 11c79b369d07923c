package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Timestamps are stored as unix microseconds so that watermark comparisons
// are exact and match the precision postgres keeps.
var sqliteMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS guild_settings (
		guild_id TEXT PRIMARY KEY,
		staff_role_id TEXT NOT NULL DEFAULT '',
		attendance_channel_id TEXT NOT NULL DEFAULT '',
		attendance_message_id TEXT NOT NULL DEFAULT '',
		presence_fingerprint TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_sessions (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		report TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_attendance_sessions_open ON attendance_sessions (guild_id, user_id) WHERE ended_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS entitlements (
		token TEXT PRIMARY KEY,
		duration TEXT NOT NULL,
		guild_id TEXT NOT NULL DEFAULT '',
		assigned_user_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		activated_at INTEGER,
		expires_at INTEGER,
		notice_state TEXT NOT NULL DEFAULT 'not_warned' CHECK (notice_state IN ('not_warned', 'warned', 'expired'))
	)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		name TEXT NOT NULL,
		cron TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		message TEXT NOT NULL,
		last_fired_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(guild_id, name)
	)`,
}

type SQLiteRepository struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLiteRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; this also keeps ":memory:" databases on
	// one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")

	r := &SQLiteRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	for _, s := range sqliteMigrationStatements {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullableMicros(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMicro()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (r *SQLiteRepository) GetGuildSettings(ctx context.Context, guildID string) (*repository.GuildSettings, error) {
	var s repository.GuildSettings
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT guild_id, staff_role_id, attendance_channel_id, attendance_message_id, presence_fingerprint, updated_at
		 FROM guild_settings WHERE guild_id = ?`, guildID,
	).Scan(&s.GuildID, &s.StaffRoleID, &s.AttendanceChannelID, &s.AttendanceMessageID, &s.PresenceFingerprint, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = fromMicros(updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) UpsertGuildSettings(ctx context.Context, input repository.UpsertGuildSettingsInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, staff_role_id, attendance_channel_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   staff_role_id = excluded.staff_role_id,
		   attendance_message_id = CASE
		     WHEN guild_settings.attendance_channel_id = excluded.attendance_channel_id THEN guild_settings.attendance_message_id
		     ELSE '' END,
		   presence_fingerprint = CASE
		     WHEN guild_settings.attendance_channel_id = excluded.attendance_channel_id THEN guild_settings.presence_fingerprint
		     ELSE '' END,
		   attendance_channel_id = excluded.attendance_channel_id,
		   updated_at = excluded.updated_at`,
		input.GuildID, input.StaffRoleID, input.AttendanceChannelID, toMicros(time.Now()))
	return err
}

func (r *SQLiteRepository) SavePresenceDisplay(ctx context.Context, input repository.SavePresenceDisplayInput) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO guild_settings (guild_id, attendance_message_id, presence_fingerprint, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
		   attendance_message_id = excluded.attendance_message_id,
		   presence_fingerprint = excluded.presence_fingerprint,
		   updated_at = excluded.updated_at`,
		input.GuildID, input.AttendanceMessageID, input.PresenceFingerprint, toMicros(time.Now()))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAttendance(row rowScanner) (*repository.AttendanceSession, error) {
	var s repository.AttendanceSession
	var startedAt int64
	var endedAt sql.NullInt64
	var report sql.NullString
	if err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &startedAt, &endedAt, &report); err != nil {
		return nil, err
	}
	s.StartedAt = fromMicros(startedAt)
	s.EndedAt = timePtr(endedAt)
	if report.Valid {
		s.Report = &report.String
	}
	return &s, nil
}

func (r *SQLiteRepository) OpenAttendanceSession(ctx context.Context, input repository.OpenAttendanceInput) (*repository.AttendanceSession, error) {
	s, err := scanSQLiteAttendance(r.db.QueryRowContext(ctx,
		`INSERT INTO attendance_sessions (id, guild_id, user_id, started_at)
		 VALUES (?, ?, ?, ?)
		 RETURNING id, guild_id, user_id, started_at, ended_at, report`,
		uuid.NewString(), input.GuildID, input.UserID, toMicros(input.StartedAt)))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("user %s already signed in: %w", input.UserID, apperr.ErrConflict)
		}
		return nil, err
	}
	return s, nil
}

func (r *SQLiteRepository) CloseAttendanceSession(ctx context.Context, input repository.CloseAttendanceInput) (*repository.AttendanceSession, error) {
	s, err := scanSQLiteAttendance(r.db.QueryRowContext(ctx,
		`UPDATE attendance_sessions SET ended_at = ?, report = ?
		 WHERE guild_id = ? AND user_id = ? AND ended_at IS NULL
		 RETURNING id, guild_id, user_id, started_at, ended_at, report`,
		toMicros(input.EndedAt), input.Report, input.GuildID, input.UserID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no open attendance session for user %s: %w", input.UserID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SQLiteRepository) ListOpenAttendanceSessions(ctx context.Context, guildID string) ([]repository.AttendanceSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, guild_id, user_id, started_at, ended_at, report
		 FROM attendance_sessions WHERE guild_id = ? AND ended_at IS NULL
		 ORDER BY started_at ASC, user_id ASC`, guildID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var list []repository.AttendanceSession
	for rows.Next() {
		s, err := scanSQLiteAttendance(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func scanSQLiteEntitlement(row rowScanner) (*repository.Entitlement, error) {
	var e repository.Entitlement
	var createdAt int64
	var activatedAt, expiresAt sql.NullInt64
	var state string
	if err := row.Scan(&e.Token, &e.Duration, &e.GuildID, &e.AssignedUserID, &createdAt, &activatedAt, &expiresAt, &state); err != nil {
		return nil, err
	}
	e.CreatedAt = fromMicros(createdAt)
	e.ActivatedAt = timePtr(activatedAt)
	e.ExpiresAt = timePtr(expiresAt)
	e.NoticeState = repository.NoticeState(state)
	return &e, nil
}

func (r *SQLiteRepository) queryEntitlement(ctx context.Context, query string, args ...any) (*repository.Entitlement, error) {
	e, err := scanSQLiteEntitlement(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *SQLiteRepository) CreateEntitlement(ctx context.Context, input repository.CreateEntitlementInput) (*repository.Entitlement, error) {
	e, err := scanSQLiteEntitlement(r.db.QueryRowContext(ctx,
		`INSERT INTO entitlements (token, duration, assigned_user_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+entitlementColumns,
		input.Token, input.Duration, input.AssignedUserID, toMicros(input.CreatedAt), nullableMicros(input.ExpiresAt)))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, fmt.Errorf("token collision: %w", apperr.ErrConflict)
		}
		return nil, err
	}
	return e, nil
}

func (r *SQLiteRepository) GetEntitlementByToken(ctx context.Context, token string) (*repository.Entitlement, error) {
	return r.queryEntitlement(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE token = ?`, token)
}

func (r *SQLiteRepository) ActivateEntitlement(ctx context.Context, input repository.ActivateEntitlementInput) (*repository.Entitlement, error) {
	e, err := r.queryEntitlement(ctx,
		`UPDATE entitlements SET guild_id = ?, activated_at = ?
		 WHERE token = ? AND activated_at IS NULL
		 RETURNING `+entitlementColumns,
		input.GuildID, toMicros(input.ActivatedAt), input.Token)
	if err != nil {
		return nil, err
	}
	if e != nil {
		return e, nil
	}
	existing, err := r.GetEntitlementByToken(ctx, input.Token)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("token %s: %w", input.Token, apperr.ErrNotFound)
	}
	return nil, fmt.Errorf("token %s already activated: %w", input.Token, apperr.ErrConflict)
}

func (r *SQLiteRepository) FindUnissuedEntitlement(ctx context.Context, sel repository.EntitlementSelector) (*repository.Entitlement, error) {
	return r.queryEntitlement(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE activated_at IS NULL
		   AND (?1 = '' OR token = ?1)
		   AND (?2 = '' OR assigned_user_id = ?2)
		 ORDER BY created_at ASC LIMIT 1`,
		sel.Token, sel.AssignedUserID)
}

func (r *SQLiteRepository) FindActiveEntitlement(ctx context.Context, guildID string, now time.Time) (*repository.Entitlement, error) {
	return r.queryEntitlement(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE guild_id = ? AND activated_at IS NOT NULL AND (expires_at IS NULL OR expires_at > ?)
		 ORDER BY expires_at IS NOT NULL, expires_at DESC LIMIT 1`,
		guildID, toMicros(now))
}

func (r *SQLiteRepository) DeleteUnissuedEntitlement(ctx context.Context, token string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entitlements WHERE token = ? AND activated_at IS NULL`, token)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unissued token %s: %w", token, apperr.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ForceExpireEntitlements(ctx context.Context, sel repository.EntitlementSelector, at time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entitlements SET expires_at = ?4
		 WHERE activated_at IS NOT NULL
		   AND guild_id = ?1
		   AND (?2 = '' OR token = ?2)
		   AND (?3 = '' OR assigned_user_id = ?3)
		   AND (expires_at IS NULL OR expires_at > ?4)`,
		sel.GuildID, sel.Token, sel.AssignedUserID, toMicros(at))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) ListPendingEntitlementNotices(ctx context.Context) ([]repository.Entitlement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE activated_at IS NOT NULL AND expires_at IS NOT NULL AND notice_state <> 'expired'
		 ORDER BY expires_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var list []repository.Entitlement
	for rows.Next() {
		e, err := scanSQLiteEntitlement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) TransitionNoticeState(ctx context.Context, token string, from, to repository.NoticeState) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entitlements SET notice_state = ? WHERE token = ? AND notice_state = ?`,
		string(to), token, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func scanSQLiteSchedule(row rowScanner) (*repository.ScheduleDefinition, error) {
	var s repository.ScheduleDefinition
	var lastFiredAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&s.ID, &s.GuildID, &s.Name, &s.Cron, &s.ChannelID, &s.Message, &lastFiredAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.LastFiredAt = timePtr(lastFiredAt)
	s.CreatedAt = fromMicros(createdAt)
	s.UpdatedAt = fromMicros(updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) UpsertSchedule(ctx context.Context, input repository.UpsertScheduleInput) (*repository.ScheduleDefinition, error) {
	return scanSQLiteSchedule(r.db.QueryRowContext(ctx,
		`INSERT INTO schedules (id, guild_id, name, cron, channel_id, message, created_at, updated_at)
		 VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?7)
		 ON CONFLICT (guild_id, name) DO UPDATE SET
		   cron = excluded.cron,
		   channel_id = excluded.channel_id,
		   message = excluded.message,
		   updated_at = excluded.updated_at
		 RETURNING `+scheduleColumns,
		uuid.NewString(), input.GuildID, input.Name, input.Cron, input.ChannelID, input.Message, toMicros(input.At)))
}

func (r *SQLiteRepository) listSchedules(ctx context.Context, query string, args ...any) ([]repository.ScheduleDefinition, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var list []repository.ScheduleDefinition
	for rows.Next() {
		s, err := scanSQLiteSchedule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *SQLiteRepository) ListSchedules(ctx context.Context) ([]repository.ScheduleDefinition, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY guild_id, name`)
}

func (r *SQLiteRepository) ListGuildSchedules(ctx context.Context, guildID string) ([]repository.ScheduleDefinition, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE guild_id = ? ORDER BY name`, guildID)
}

func (r *SQLiteRepository) DeleteSchedule(ctx context.Context, guildID, name string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE guild_id = ? AND name = ?`, guildID, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %s: %w", name, apperr.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) AdvanceScheduleWatermark(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if expected == nil {
		res, err = r.db.ExecContext(ctx,
			`UPDATE schedules SET last_fired_at = ? WHERE id = ? AND last_fired_at IS NULL`,
			toMicros(next), id)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE schedules SET last_fired_at = ?1 WHERE id = ?2 AND last_fired_at = ?3 AND ?1 >= ?3`,
			toMicros(next), id, toMicros(*expected))
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
