package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

type Config struct {
	Env                      string
	DatabaseDriver           string
	DatabaseURL              string
	DiscordToken             string
	DiscordGuildID           string
	OwnerUserID              string
	LifecycleNoticeChannelID string
	LifecycleWebhookURL      string
	PresenceDebounce         time.Duration
	PresenceMaxWait          time.Duration
	ExpiryWarningLead        time.Duration
	LifecycleTickInterval    time.Duration
	ScheduleTickInterval     time.Duration
	ScheduleTimezone         string
	SchedulesFile            string
	DiscordSendRatePerSec    int
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	switch c.DatabaseDriver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q", DatabaseDriverPostgres, DatabaseDriverSQLite, c.DatabaseDriver)
	}
	for _, d := range c.positiveDurationChecks() {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.PresenceMaxWait < c.PresenceDebounce {
		return fmt.Errorf("PRESENCE_MAX_WAIT (%s) must not be shorter than PRESENCE_DEBOUNCE (%s)", c.PresenceMaxWait, c.PresenceDebounce)
	}
	if c.DiscordSendRatePerSec <= 0 {
		return fmt.Errorf("DISCORD_SEND_RATE_PER_SEC must be positive, got %d", c.DiscordSendRatePerSec)
	}
	if c.ScheduleTimezone == "" {
		return fmt.Errorf("SCHEDULE_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		return fmt.Errorf("SCHEDULE_TIMEZONE is invalid: %w", err)
	}
	if c.SchedulesFile != "" {
		// the file itself may appear later; its directory is what gets watched
		dir := filepath.Dir(c.SchedulesFile)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("SCHEDULES_FILE directory %q does not exist", dir)
		}
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "OWNER_USER_ID", value: c.OwnerUserID},
	}
}

type durationEnvField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []durationEnvField {
	return []durationEnvField{
		{name: "PRESENCE_DEBOUNCE", value: c.PresenceDebounce},
		{name: "PRESENCE_MAX_WAIT", value: c.PresenceMaxWait},
		{name: "EXPIRY_WARNING_LEAD", value: c.ExpiryWarningLead},
		{name: "LIFECYCLE_TICK_INTERVAL", value: c.LifecycleTickInterval},
		{name: "SCHEDULE_TICK_INTERVAL", value: c.ScheduleTickInterval},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ScheduleLocation returns the zone cron expressions are evaluated in.
func (c *Config) ScheduleLocation() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
