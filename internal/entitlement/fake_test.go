package entitlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/webhook"
)

type fakeRepo struct {
	mu   sync.Mutex
	rows map[string]*repository.Entitlement
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*repository.Entitlement)}
}

func (f *fakeRepo) get(token string) repository.Entitlement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[token]
}

func (f *fakeRepo) put(e repository.Entitlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.NoticeState == "" {
		e.NoticeState = repository.NoticeStateNotWarned
	}
	f.rows[e.Token] = &e
}

func (f *fakeRepo) CreateEntitlement(_ context.Context, input repository.CreateEntitlementInput) (*repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[input.Token]; ok {
		return nil, apperr.ErrConflict
	}
	e := &repository.Entitlement{
		Token:          input.Token,
		Duration:       input.Duration,
		AssignedUserID: input.AssignedUserID,
		CreatedAt:      input.CreatedAt,
		ExpiresAt:      input.ExpiresAt,
		NoticeState:    repository.NoticeStateNotWarned,
	}
	f.rows[e.Token] = e
	cp := *e
	return &cp, nil
}

func (f *fakeRepo) GetEntitlementByToken(_ context.Context, token string) (*repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[token]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeRepo) ActivateEntitlement(_ context.Context, input repository.ActivateEntitlementInput) (*repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[input.Token]
	if !ok {
		return nil, fmt.Errorf("token: %w", apperr.ErrNotFound)
	}
	if e.IsActivated() {
		return nil, fmt.Errorf("token: %w", apperr.ErrConflict)
	}
	at := input.ActivatedAt
	e.ActivatedAt = &at
	e.GuildID = input.GuildID
	cp := *e
	return &cp, nil
}

func matches(e *repository.Entitlement, sel repository.EntitlementSelector) bool {
	return (sel.Token == "" || e.Token == sel.Token) && (sel.AssignedUserID == "" || e.AssignedUserID == sel.AssignedUserID)
}

func (f *fakeRepo) FindUnissuedEntitlement(_ context.Context, sel repository.EntitlementSelector) (*repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if !e.IsActivated() && matches(e, sel) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) FindActiveEntitlement(_ context.Context, guildID string, now time.Time) (*repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.rows {
		if e.IsActivated() && e.GuildID == guildID && (e.ExpiresAt == nil || e.ExpiresAt.After(now)) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) DeleteUnissuedEntitlement(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[token]
	if !ok || e.IsActivated() {
		return apperr.ErrNotFound
	}
	delete(f.rows, token)
	return nil
}

func (f *fakeRepo) ForceExpireEntitlements(_ context.Context, sel repository.EntitlementSelector, at time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.rows {
		if !e.IsActivated() || e.GuildID != sel.GuildID || !matches(e, sel) {
			continue
		}
		if e.ExpiresAt != nil && !e.ExpiresAt.After(at) {
			continue
		}
		t := at
		e.ExpiresAt = &t
		n++
	}
	return n, nil
}

func (f *fakeRepo) ListPendingEntitlementNotices(_ context.Context) ([]repository.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []repository.Entitlement
	for _, e := range f.rows {
		if e.IsActivated() && e.ExpiresAt != nil && e.NoticeState != repository.NoticeStateExpired {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) TransitionNoticeState(_ context.Context, token string, from, to repository.NoticeState) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.rows[token]
	if !ok || e.NoticeState != from {
		return false, nil
	}
	e.NoticeState = to
	return true, nil
}

type fakeSink struct {
	mu      sync.Mutex
	channel []discord.Message
	direct  map[string][]discord.Message
	sendErr error
	dmErr   error
}

func newFakeSink() *fakeSink {
	return &fakeSink{direct: make(map[string][]discord.Message)}
}

func (f *fakeSink) channelMessages() []discord.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]discord.Message(nil), f.channel...)
}

func (f *fakeSink) SendChannelMessage(_ context.Context, _ string, msg discord.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.channel = append(f.channel, msg)
	return fmt.Sprintf("msg-%d", len(f.channel)), nil
}

func (f *fakeSink) EditChannelMessage(_ context.Context, _, _ string, _ discord.Message) error {
	return nil
}

func (f *fakeSink) SendDirectMessage(_ context.Context, userID string, msg discord.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return f.dmErr
	}
	f.direct[userID] = append(f.direct[userID], msg)
	return nil
}

type fakeWebhook struct {
	mu     sync.Mutex
	events []webhook.LifecycleEvent
}

func (f *fakeWebhook) SendLifecycle(_ context.Context, payload webhook.LifecyclePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, payload.Event)
	return nil
}

func (f *fakeWebhook) sent() []webhook.LifecycleEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webhook.LifecycleEvent(nil), f.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(repo *fakeRepo, sink *fakeSink, wh *fakeWebhook, clock *fakeClock) *Service {
	cfg := &config.Config{
		LifecycleNoticeChannelID: "notice-ch",
		OwnerUserID:              "owner",
		ExpiryWarningLead:        time.Hour,
	}
	s := NewService(cfg, repo, sink, wh)
	s.now = clock.Now
	return s
}
