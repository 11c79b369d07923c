package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/dutykeeper/external/config"
	"github.com/foxseedlab/dutykeeper/external/discord"
	repositoryimpl "github.com/foxseedlab/dutykeeper/external/repository"
	"github.com/foxseedlab/dutykeeper/external/schedulefile"
	webhookimpl "github.com/foxseedlab/dutykeeper/external/webhook"
	"github.com/foxseedlab/dutykeeper/internal/attendance"
	"github.com/foxseedlab/dutykeeper/internal/bot"
	"github.com/foxseedlab/dutykeeper/internal/config"
	discordpkg "github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/entitlement"
	"github.com/foxseedlab/dutykeeper/internal/presence"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
	"github.com/foxseedlab/dutykeeper/internal/tick"
	"github.com/samber/do/v2"
	"golang.org/x/sync/errgroup"
)

const discordConnectTimeout = 20 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "database_driver", cfg.DatabaseDriver)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	if err := runBot(cfg, injector); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	presence.RegisterDI(injector)
	attendance.RegisterDI(injector)
	entitlement.RegisterDI(injector)
	schedule.RegisterDI(injector)
	schedulefile.RegisterDI(injector)
	bot.RegisterDI(injector)

	return injector
}

func mustInvoke[T any](injector do.Injector, name string) T {
	v, err := do.Invoke[T](injector)
	if err != nil {
		slog.Error("failed to resolve "+name, "error", err)
		os.Exit(1)
	}
	return v
}

func runBot(cfg *config.Config, injector do.Injector) error {
	repo := mustInvoke[repository.Repository](injector, "repository")
	defer repo.Close()
	dc := mustInvoke[discordpkg.Client](injector, "discord client")
	updater := mustInvoke[*presence.Updater](injector, "presence updater")
	ent := mustInvoke[*entitlement.Service](injector, "entitlement service")
	sch := mustInvoke[*schedule.Service](injector, "schedule service")
	handler := mustInvoke[*bot.Handler](injector, "command handler")

	connectCtx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(connectCtx); err != nil {
		return err
	}
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()
	botUserID, err := dc.GetBotUserID()
	if err != nil {
		return err
	}
	slog.Info("startup: discord connected", "bot_user_id", botUserID)

	dc.RegisterSlashCommandHandler(handler.HandleSlashCommand)
	if err := dc.UpsertSlashCommands(cfg.DiscordGuildID, bot.SlashCommandDefinitions()); err != nil {
		return err
	}
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tick.Every("lifecycle", cfg.LifecycleTickInterval, ent.CheckAll).Run(gctx)
	})
	g.Go(func() error {
		return tick.Every("schedule", cfg.ScheduleTickInterval, sch.RunDue).Run(gctx)
	})
	if cfg.SchedulesFile != "" {
		watcher := mustInvoke[*schedulefile.Watcher](injector, "schedules file watcher")
		g.Go(func() error {
			if err := watcher.Watch(gctx); err != nil {
				slog.Error("schedules file watcher stopped; file changes will not be applied", "path", cfg.SchedulesFile, "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	slog.Info("shutting down")
	updater.Stop()
	handler.Wait()
	return err
}
