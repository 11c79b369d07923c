package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
)

const refreshTimeout = 30 * time.Second

type Store interface {
	repository.SettingsRepository
	ListOpenAttendanceSessions(ctx context.Context, guildID string) ([]repository.AttendanceSession, error)
}

// Updater keeps one status message per guild in sync with the open
// attendance sessions, coalescing bursts of changes into a single refresh.
type Updater struct {
	store    Store
	sink     discord.Sink
	debounce time.Duration
	maxWait  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	guilds  map[string]*guildState
	stopped bool
}

// guildState is the debounce state of one guild. A guild without pending or
// running work has no entry.
type guildState struct {
	gen     uint64
	timer   *time.Timer
	firstAt time.Time
	running bool
	again   bool
}

func NewUpdater(store Store, sink discord.Sink, debounce, maxWait time.Duration) *Updater {
	if maxWait < debounce {
		maxWait = debounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Updater{
		store:    store,
		sink:     sink,
		debounce: debounce,
		maxWait:  maxWait,
		ctx:      ctx,
		cancel:   cancel,
		guilds:   make(map[string]*guildState),
	}
}

// Notify schedules a refresh for guildID after the debounce window has been
// quiet. It never blocks on I/O.
func (u *Updater) Notify(guildID string) {
	if guildID == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.stopped {
		return
	}
	st, ok := u.guilds[guildID]
	if !ok {
		st = &guildState{}
		u.guilds[guildID] = st
	}
	if st.running {
		st.again = true
		return
	}
	u.scheduleLocked(guildID, st)
}

func (u *Updater) scheduleLocked(guildID string, st *guildState) {
	now := time.Now()
	if st.timer == nil {
		st.firstAt = now
	} else {
		st.timer.Stop()
	}
	delay := u.debounce
	if deadline := st.firstAt.Add(u.maxWait); now.Add(delay).After(deadline) {
		delay = max(deadline.Sub(now), 0)
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(delay, func() {
		u.fire(guildID, gen)
	})
}

func (u *Updater) fire(guildID string, gen uint64) {
	u.mu.Lock()
	st, ok := u.guilds[guildID]
	if u.stopped || !ok || st.gen != gen || st.running {
		u.mu.Unlock()
		return
	}
	st.timer = nil
	st.running = true
	st.again = false
	u.wg.Add(1)
	u.mu.Unlock()

	defer u.wg.Done()
	u.refreshLogged(guildID)

	u.mu.Lock()
	defer u.mu.Unlock()
	st.running = false
	if st.again && !u.stopped {
		st.again = false
		u.scheduleLocked(guildID, st)
		return
	}
	if st.timer == nil {
		delete(u.guilds, guildID)
	}
}

func (u *Updater) refreshLogged(guildID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("presence refresh panicked", "guild_id", guildID, "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(u.ctx, refreshTimeout)
	defer cancel()
	if err := u.Refresh(ctx, guildID); err != nil {
		if errors.Is(err, apperr.ErrConfigMissing) {
			slog.Warn("presence refresh skipped", "guild_id", guildID, "error", err)
			return
		}
		slog.Error("presence refresh failed", "guild_id", guildID, "error", err)
	}
}

// Refresh renders the current presence of guildID and publishes it if it
// differs from what was last published.
func (u *Updater) Refresh(ctx context.Context, guildID string) error {
	settings, err := u.store.GetGuildSettings(ctx, guildID)
	if err != nil {
		return fmt.Errorf("get guild settings: %w", err)
	}
	if settings == nil || settings.AttendanceChannelID == "" {
		return fmt.Errorf("attendance channel for guild %s: %w", guildID, apperr.ErrConfigMissing)
	}
	sessions, err := u.store.ListOpenAttendanceSessions(ctx, guildID)
	if err != nil {
		return fmt.Errorf("list open attendance sessions: %w", err)
	}
	msg := Render(sessions)
	fp, err := Fingerprint(msg)
	if err != nil {
		return err
	}
	if settings.AttendanceMessageID != "" && settings.PresenceFingerprint == fp {
		slog.Debug("presence unchanged", "guild_id", guildID, "fingerprint", fp)
		return nil
	}

	channelID := settings.AttendanceChannelID
	messageID := settings.AttendanceMessageID
	if messageID != "" {
		err := u.sink.EditChannelMessage(ctx, channelID, messageID, msg)
		switch {
		case errors.Is(err, discord.ErrMessageNotFound):
			slog.Info("presence message missing; sending a new one", "guild_id", guildID, "message_id", messageID)
			messageID = ""
		case err != nil:
			return fmt.Errorf("edit presence message: %w", err)
		}
	}
	if messageID == "" {
		messageID, err = u.sink.SendChannelMessage(ctx, channelID, msg)
		if err != nil {
			return fmt.Errorf("send presence message: %w", err)
		}
	}
	if err := u.store.SavePresenceDisplay(ctx, repository.SavePresenceDisplayInput{
		GuildID:             guildID,
		AttendanceMessageID: messageID,
		PresenceFingerprint: fp,
	}); err != nil {
		return fmt.Errorf("save presence display: %w", err)
	}
	slog.Info("presence updated", "guild_id", guildID, "message_id", messageID, "on_duty", len(sessions))
	return nil
}

// Stop cancels pending refreshes and waits for running ones to finish.
func (u *Updater) Stop() {
	u.mu.Lock()
	u.stopped = true
	for id, st := range u.guilds {
		if st.timer != nil {
			st.timer.Stop()
		}
		if !st.running {
			delete(u.guilds, id)
		}
	}
	u.mu.Unlock()
	u.cancel()
	u.wg.Wait()
}
