package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetGuildSettings(ctx context.Context, guildID string) (*repository.GuildSettings, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT guild_id, staff_role_id, attendance_channel_id, attendance_message_id, presence_fingerprint, updated_at
		 FROM guild_settings WHERE guild_id = $1`,
		guildID)
	var s repository.GuildSettings
	err := row.Scan(&s.GuildID, &s.StaffRoleID, &s.AttendanceChannelID, &s.AttendanceMessageID, &s.PresenceFingerprint, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) UpsertGuildSettings(ctx context.Context, input repository.UpsertGuildSettingsInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO guild_settings (guild_id, staff_role_id, attendance_channel_id, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (guild_id) DO UPDATE SET
		   staff_role_id = EXCLUDED.staff_role_id,
		   attendance_channel_id = EXCLUDED.attendance_channel_id,
		   attendance_message_id = CASE
		     WHEN guild_settings.attendance_channel_id = EXCLUDED.attendance_channel_id THEN guild_settings.attendance_message_id
		     ELSE '' END,
		   presence_fingerprint = CASE
		     WHEN guild_settings.attendance_channel_id = EXCLUDED.attendance_channel_id THEN guild_settings.presence_fingerprint
		     ELSE '' END,
		   updated_at = NOW()`,
		input.GuildID, input.StaffRoleID, input.AttendanceChannelID)
	return err
}

func (r *PostgresRepository) SavePresenceDisplay(ctx context.Context, input repository.SavePresenceDisplayInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO guild_settings (guild_id, attendance_message_id, presence_fingerprint, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (guild_id) DO UPDATE SET
		   attendance_message_id = EXCLUDED.attendance_message_id,
		   presence_fingerprint = EXCLUDED.presence_fingerprint,
		   updated_at = NOW()`,
		input.GuildID, input.AttendanceMessageID, input.PresenceFingerprint)
	return err
}

func (r *PostgresRepository) OpenAttendanceSession(ctx context.Context, input repository.OpenAttendanceInput) (*repository.AttendanceSession, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO attendance_sessions (id, guild_id, user_id, started_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, guild_id, user_id, started_at, ended_at, report`,
		uuid.NewString(), input.GuildID, input.UserID, input.StartedAt)
	s, err := scanAttendanceSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("user %s already signed in: %w", input.UserID, apperr.ErrConflict)
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) CloseAttendanceSession(ctx context.Context, input repository.CloseAttendanceInput) (*repository.AttendanceSession, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE attendance_sessions SET ended_at = $3, report = $4
		 WHERE guild_id = $1 AND user_id = $2 AND ended_at IS NULL
		 RETURNING id, guild_id, user_id, started_at, ended_at, report`,
		input.GuildID, input.UserID, input.EndedAt, input.Report)
	s, err := scanAttendanceSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("no open attendance session for user %s: %w", input.UserID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) ListOpenAttendanceSessions(ctx context.Context, guildID string) ([]repository.AttendanceSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, guild_id, user_id, started_at, ended_at, report
		 FROM attendance_sessions WHERE guild_id = $1 AND ended_at IS NULL
		 ORDER BY started_at ASC, user_id ASC`,
		guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.AttendanceSession
	for rows.Next() {
		s, err := scanAttendanceSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func scanAttendanceSession(row pgx.Row) (*repository.AttendanceSession, error) {
	var s repository.AttendanceSession
	if err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &s.StartedAt, &s.EndedAt, &s.Report); err != nil {
		return nil, err
	}
	return &s, nil
}

const entitlementColumns = `token, duration, guild_id, assigned_user_id, created_at, activated_at, expires_at, notice_state`

func scanEntitlement(row pgx.Row) (*repository.Entitlement, error) {
	var e repository.Entitlement
	var state string
	if err := row.Scan(&e.Token, &e.Duration, &e.GuildID, &e.AssignedUserID, &e.CreatedAt, &e.ActivatedAt, &e.ExpiresAt, &state); err != nil {
		return nil, err
	}
	e.NoticeState = repository.NoticeState(state)
	return &e, nil
}

func (r *PostgresRepository) CreateEntitlement(ctx context.Context, input repository.CreateEntitlementInput) (*repository.Entitlement, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO entitlements (token, duration, assigned_user_id, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+entitlementColumns,
		input.Token, input.Duration, input.AssignedUserID, input.CreatedAt, input.ExpiresAt)
	e, err := scanEntitlement(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("token collision: %w", apperr.ErrConflict)
		}
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepository) GetEntitlementByToken(ctx context.Context, token string) (*repository.Entitlement, error) {
	e, err := scanEntitlement(r.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements WHERE token = $1`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepository) ActivateEntitlement(ctx context.Context, input repository.ActivateEntitlementInput) (*repository.Entitlement, error) {
	e, err := scanEntitlement(r.pool.QueryRow(ctx,
		`UPDATE entitlements SET guild_id = $2, activated_at = $3
		 WHERE token = $1 AND activated_at IS NULL
		 RETURNING `+entitlementColumns,
		input.Token, input.GuildID, input.ActivatedAt))
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
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

func (r *PostgresRepository) FindUnissuedEntitlement(ctx context.Context, sel repository.EntitlementSelector) (*repository.Entitlement, error) {
	e, err := scanEntitlement(r.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE activated_at IS NULL
		   AND ($1 = '' OR token = $1)
		   AND ($2 = '' OR assigned_user_id = $2)
		 ORDER BY created_at ASC LIMIT 1`,
		sel.Token, sel.AssignedUserID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepository) FindActiveEntitlement(ctx context.Context, guildID string, now time.Time) (*repository.Entitlement, error) {
	e, err := scanEntitlement(r.pool.QueryRow(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE guild_id = $1 AND activated_at IS NOT NULL AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY expires_at DESC NULLS FIRST LIMIT 1`,
		guildID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

func (r *PostgresRepository) DeleteUnissuedEntitlement(ctx context.Context, token string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM entitlements WHERE token = $1 AND activated_at IS NULL`, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("unissued token %s: %w", token, apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) ForceExpireEntitlements(ctx context.Context, sel repository.EntitlementSelector, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE entitlements SET expires_at = $4
		 WHERE activated_at IS NOT NULL
		   AND guild_id = $1
		   AND ($2 = '' OR token = $2)
		   AND ($3 = '' OR assigned_user_id = $3)
		   AND (expires_at IS NULL OR expires_at > $4)`,
		sel.GuildID, sel.Token, sel.AssignedUserID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PostgresRepository) ListPendingEntitlementNotices(ctx context.Context) ([]repository.Entitlement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+entitlementColumns+` FROM entitlements
		 WHERE activated_at IS NOT NULL AND expires_at IS NOT NULL AND notice_state <> 'expired'
		 ORDER BY expires_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) TransitionNoticeState(ctx context.Context, token string, from, to repository.NoticeState) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE entitlements SET notice_state = $3 WHERE token = $1 AND notice_state = $2`,
		token, string(from), string(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const scheduleColumns = `id, guild_id, name, cron, channel_id, message, last_fired_at, created_at, updated_at`

func scanSchedule(row pgx.Row) (*repository.ScheduleDefinition, error) {
	var s repository.ScheduleDefinition
	if err := row.Scan(&s.ID, &s.GuildID, &s.Name, &s.Cron, &s.ChannelID, &s.Message, &s.LastFiredAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) UpsertSchedule(ctx context.Context, input repository.UpsertScheduleInput) (*repository.ScheduleDefinition, error) {
	return scanSchedule(r.pool.QueryRow(ctx,
		`INSERT INTO schedules (id, guild_id, name, cron, channel_id, message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (guild_id, name) DO UPDATE SET
		   cron = EXCLUDED.cron,
		   channel_id = EXCLUDED.channel_id,
		   message = EXCLUDED.message,
		   updated_at = EXCLUDED.updated_at
		 RETURNING `+scheduleColumns,
		uuid.NewString(), input.GuildID, input.Name, input.Cron, input.ChannelID, input.Message, input.At))
}

func (r *PostgresRepository) listSchedules(ctx context.Context, query string, args ...any) ([]repository.ScheduleDefinition, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []repository.ScheduleDefinition
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) ListSchedules(ctx context.Context) ([]repository.ScheduleDefinition, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules ORDER BY guild_id, name`)
}

func (r *PostgresRepository) ListGuildSchedules(ctx context.Context, guildID string) ([]repository.ScheduleDefinition, error) {
	return r.listSchedules(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE guild_id = $1 ORDER BY name`, guildID)
}

func (r *PostgresRepository) DeleteSchedule(ctx context.Context, guildID, name string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM schedules WHERE guild_id = $1 AND name = $2`, guildID, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule %s: %w", name, apperr.ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) AdvanceScheduleWatermark(ctx context.Context, id string, expected *time.Time, next time.Time) (bool, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expected == nil {
		tag, err = r.pool.Exec(ctx,
			`UPDATE schedules SET last_fired_at = $2 WHERE id = $1 AND last_fired_at IS NULL`,
			id, next)
	} else {
		tag, err = r.pool.Exec(ctx,
			`UPDATE schedules SET last_fired_at = $2 WHERE id = $1 AND last_fired_at = $3 AND $2 >= $3`,
			id, next, *expected)
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
