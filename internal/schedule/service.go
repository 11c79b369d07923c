package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/robfig/cron/v3"
)

const (
	defaultMessage = "Scheduled report"
	maxNameLen     = 64
)

// Five field cron with optional seconds, descriptors like "@daily" and the
// "CRON_TZ=" prefix.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression is required: %w", apperr.ErrInvalidInput)
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %v: %w", expr, err, apperr.ErrInvalidInput)
	}
	return s, nil
}

type Service struct {
	repo repository.ScheduleRepository
	sink discord.Sink
	tick time.Duration
	loc  *time.Location
	now  func() time.Time
}

func NewService(cfg *config.Config, repo repository.ScheduleRepository, sink discord.Sink) *Service {
	return &Service{
		repo: repo,
		sink: sink,
		tick: cfg.ScheduleTickInterval,
		loc:  cfg.ScheduleLocation(),
		now:  time.Now,
	}
}

type DefineInput struct {
	GuildID   string
	Name      string
	Cron      string
	ChannelID string
	Message   string
}

// Define creates or replaces the schedule named input.Name in the guild. The
// watermark of an existing schedule is kept.
func (s *Service) Define(ctx context.Context, input DefineInput) (*repository.ScheduleDefinition, error) {
	name := strings.TrimSpace(input.Name)
	if input.GuildID == "" || name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("schedule name must be 1-%d characters: %w", maxNameLen, apperr.ErrInvalidInput)
	}
	if input.ChannelID == "" {
		return nil, fmt.Errorf("schedule channel is required: %w", apperr.ErrInvalidInput)
	}
	if _, err := ParseCron(input.Cron); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(input.Message)
	if msg == "" {
		msg = defaultMessage
	}
	def, err := s.repo.UpsertSchedule(ctx, repository.UpsertScheduleInput{
		GuildID:   input.GuildID,
		Name:      name,
		Cron:      strings.TrimSpace(input.Cron),
		ChannelID: input.ChannelID,
		Message:   msg,
		At:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert schedule: %w", err)
	}
	slog.Info("schedule defined", "guild_id", def.GuildID, "schedule_id", def.ID, "name", def.Name, "cron", def.Cron)
	return def, nil
}

func (s *Service) List(ctx context.Context, guildID string) ([]repository.ScheduleDefinition, error) {
	return s.repo.ListGuildSchedules(ctx, guildID)
}

func (s *Service) Remove(ctx context.Context, guildID, name string) error {
	if err := s.repo.DeleteSchedule(ctx, guildID, strings.TrimSpace(name)); err != nil {
		return err
	}
	slog.Info("schedule removed", "guild_id", guildID, "name", name)
	return nil
}

// NextRun reports when def fires next after now, or the zero time if its
// cron expression is invalid.
func (s *Service) NextRun(def repository.ScheduleDefinition) time.Time {
	sched, err := ParseCron(def.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(s.now().In(s.loc))
}

// RunDue fires every schedule whose next occurrence after its watermark has
// passed. The watermark jumps to now before the message is sent, so missed
// occurrences collapse into a single firing and a failed send is not retried.
func (s *Service) RunDue(ctx context.Context) error {
	defs, err := s.repo.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	now := s.now()
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runOne(ctx, def, now)
	}
	return nil
}

func (s *Service) runOne(ctx context.Context, def repository.ScheduleDefinition, now time.Time) {
	sched, err := ParseCron(def.Cron)
	if err != nil {
		slog.Warn("skipping schedule with invalid cron", "schedule_id", def.ID, "guild_id", def.GuildID, "cron", def.Cron, "error", err)
		return
	}
	watermark := now.Add(-s.tick)
	if def.LastFiredAt != nil {
		watermark = *def.LastFiredAt
	}
	next := sched.Next(watermark.In(s.loc))
	if next.IsZero() || now.Before(next) {
		return
	}
	claimed, err := s.repo.AdvanceScheduleWatermark(ctx, def.ID, def.LastFiredAt, now)
	if err != nil {
		slog.Error("failed to advance schedule watermark", "schedule_id", def.ID, "error", err)
		return
	}
	if !claimed {
		slog.Debug("schedule already fired elsewhere", "schedule_id", def.ID)
		return
	}
	if _, err := s.sink.SendChannelMessage(ctx, def.ChannelID, discord.Message{Content: def.Message}); err != nil {
		slog.Error("failed to send scheduled message", "schedule_id", def.ID, "guild_id", def.GuildID, "channel_id", def.ChannelID, "error", err)
		return
	}
	slog.Info("schedule fired", "schedule_id", def.ID, "guild_id", def.GuildID, "name", def.Name, "due", next)
}
