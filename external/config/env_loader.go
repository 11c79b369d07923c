package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/dutykeeper/internal/config"
)

type envConfig struct {
	Env                      string        `env:"ENV" envDefault:"production"`
	DatabaseDriver           string        `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL              string        `env:"DATABASE_URL,required"`
	DiscordToken             string        `env:"DISCORD_TOKEN,required"`
	DiscordGuildID           string        `env:"DISCORD_GUILD_ID"`
	OwnerUserID              string        `env:"OWNER_USER_ID,required"`
	LifecycleNoticeChannelID string        `env:"LIFECYCLE_NOTICE_CHANNEL_ID"`
	LifecycleWebhookURL      string        `env:"LIFECYCLE_WEBHOOK_URL"`
	PresenceDebounce         time.Duration `env:"PRESENCE_DEBOUNCE" envDefault:"3s"`
	PresenceMaxWait          time.Duration `env:"PRESENCE_MAX_WAIT" envDefault:"15s"`
	ExpiryWarningLead        time.Duration `env:"EXPIRY_WARNING_LEAD" envDefault:"1h"`
	LifecycleTickInterval    time.Duration `env:"LIFECYCLE_TICK_INTERVAL" envDefault:"1m"`
	ScheduleTickInterval     time.Duration `env:"SCHEDULE_TICK_INTERVAL" envDefault:"1m"`
	ScheduleTimezone         string        `env:"SCHEDULE_TIMEZONE" envDefault:"UTC"`
	SchedulesFile            string        `env:"SCHEDULES_FILE"`
	DiscordSendRatePerSec    int           `env:"DISCORD_SEND_RATE_PER_SEC" envDefault:"5"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                      raw.Env,
		DatabaseDriver:           raw.DatabaseDriver,
		DatabaseURL:              raw.DatabaseURL,
		DiscordToken:             raw.DiscordToken,
		DiscordGuildID:           raw.DiscordGuildID,
		OwnerUserID:              raw.OwnerUserID,
		LifecycleNoticeChannelID: raw.LifecycleNoticeChannelID,
		LifecycleWebhookURL:      raw.LifecycleWebhookURL,
		PresenceDebounce:         raw.PresenceDebounce,
		PresenceMaxWait:          raw.PresenceMaxWait,
		ExpiryWarningLead:        raw.ExpiryWarningLead,
		LifecycleTickInterval:    raw.LifecycleTickInterval,
		ScheduleTickInterval:     raw.ScheduleTickInterval,
		ScheduleTimezone:         raw.ScheduleTimezone,
		SchedulesFile:            raw.SchedulesFile,
		DiscordSendRatePerSec:    raw.DiscordSendRatePerSec,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
