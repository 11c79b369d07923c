package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/config"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/webhook"
)

const tokenAttempts = 3

type Service struct {
	repo            repository.EntitlementRepository
	sink            discord.Sink
	webhook         webhook.Sender
	noticeChannelID string
	ownerUserID     string
	lead            time.Duration
	now             func() time.Time
}

func NewService(cfg *config.Config, repo repository.EntitlementRepository, sink discord.Sink, wh webhook.Sender) *Service {
	return &Service{
		repo:            repo,
		sink:            sink,
		webhook:         wh,
		noticeChannelID: cfg.LifecycleNoticeChannelID,
		ownerUserID:     cfg.OwnerUserID,
		lead:            cfg.ExpiryWarningLead,
		now:             time.Now,
	}
}

type GenerateInput struct {
	Duration       string
	AssignedUserID string
}

// Generate creates an unissued entitlement. The expiry is fixed at
// generation time. When an assignee is given the key is sent to them by DM;
// closed DMs are not an error.
func (s *Service) Generate(ctx context.Context, input GenerateInput) (*repository.Entitlement, error) {
	v, err := ParseValidity(input.Duration)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var created *repository.Entitlement
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := newToken()
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		created, err = s.repo.CreateEntitlement(ctx, repository.CreateEntitlementInput{
			Token:          token,
			Duration:       input.Duration,
			AssignedUserID: input.AssignedUserID,
			CreatedAt:      now,
			ExpiresAt:      v.ExpiresAt(now),
		})
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create entitlement: %w", err)
		}
		break
	}
	if created == nil {
		return nil, fmt.Errorf("create entitlement: %w", apperr.ErrConflict)
	}
	slog.Info("entitlement generated", "token", created.Token, "duration", created.Duration, "assigned_user_id", created.AssignedUserID)

	if created.AssignedUserID != "" {
		if err := s.sink.SendDirectMessage(ctx, created.AssignedUserID, keyDirectMessage(*created)); err != nil {
			slog.Warn("failed to DM generated key", "token", created.Token, "user_id", created.AssignedUserID, "error", err)
		}
	}
	return created, nil
}

// Activate binds an unissued token to guildID.
func (s *Service) Activate(ctx context.Context, token, guildID, activatedBy string) (*repository.Entitlement, error) {
	if token == "" || guildID == "" {
		return nil, fmt.Errorf("token and guild are required: %w", apperr.ErrInvalidInput)
	}
	e, err := s.repo.ActivateEntitlement(ctx, repository.ActivateEntitlementInput{
		Token:       token,
		GuildID:     guildID,
		ActivatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}
	slog.Info("entitlement activated", "token", e.Token, "guild_id", guildID, "expires_at", e.ExpiresAt)
	s.publish(ctx, activatedMessage(*e, activatedBy), webhook.LifecycleEventActivated, *e)
	return e, nil
}

type DeactivateResult struct {
	// DeletedToken is set when an unissued entitlement was deleted.
	DeletedToken string
	// ForcedExpiry counts activated entitlements whose expiry was moved to now.
	ForcedExpiry int
}

// Deactivate force-expires the matching activated entitlements in the guild.
// An unissued entitlement is deleted instead when its token is named, or when
// a user selector matches nothing activated. The expiry notice is left to the
// next CheckAll.
func (s *Service) Deactivate(ctx context.Context, sel repository.EntitlementSelector) (DeactivateResult, error) {
	if sel.Token == "" && sel.AssignedUserID == "" {
		return DeactivateResult{}, fmt.Errorf("token or user is required: %w", apperr.ErrInvalidInput)
	}
	if sel.Token != "" {
		deleted, err := s.deleteUnissued(ctx, sel)
		if err != nil || deleted != "" {
			return DeactivateResult{DeletedToken: deleted}, err
		}
	}
	n, err := s.repo.ForceExpireEntitlements(ctx, sel, s.now())
	if err != nil {
		return DeactivateResult{}, fmt.Errorf("force expire entitlements: %w", err)
	}
	if n > 0 {
		slog.Info("entitlements force expired", "guild_id", sel.GuildID, "token", sel.Token, "assigned_user_id", sel.AssignedUserID, "count", n)
		return DeactivateResult{ForcedExpiry: n}, nil
	}
	if sel.Token == "" {
		deleted, err := s.deleteUnissued(ctx, sel)
		if err != nil || deleted != "" {
			return DeactivateResult{DeletedToken: deleted}, err
		}
	}
	return DeactivateResult{}, fmt.Errorf("no matching subscription: %w", apperr.ErrNotFound)
}

// deleteUnissued deletes the first unissued entitlement matching sel and
// returns its token, or "" when there is none. One activated concurrently
// counts as none.
func (s *Service) deleteUnissued(ctx context.Context, sel repository.EntitlementSelector) (string, error) {
	unissued, err := s.repo.FindUnissuedEntitlement(ctx, sel)
	if err != nil {
		return "", fmt.Errorf("find unissued entitlement: %w", err)
	}
	if unissued == nil {
		return "", nil
	}
	err = s.repo.DeleteUnissuedEntitlement(ctx, unissued.Token)
	if errors.Is(err, apperr.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("delete unissued entitlement: %w", err)
	}
	slog.Info("unissued entitlement deleted", "token", unissued.Token)
	return unissued.Token, nil
}

func (s *Service) IsActive(ctx context.Context, guildID string) (bool, error) {
	e, err := s.repo.FindActiveEntitlement(ctx, guildID, s.now())
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

// CheckAll sends due expiry warnings and expiry notices. Each notice is
// claimed with a compare-and-set on the notice state before it is sent, so it
// goes out at most once even with overlapping checkers.
func (s *Service) CheckAll(ctx context.Context) error {
	pending, err := s.repo.ListPendingEntitlementNotices(ctx)
	if err != nil {
		return fmt.Errorf("list pending entitlement notices: %w", err)
	}
	now := s.now()
	sent := 0
	for _, e := range pending {
		if e.ExpiresAt == nil {
			continue
		}
		next := NextNoticeState(e.NoticeState, *e.ExpiresAt, now, s.lead)
		if next == e.NoticeState {
			continue
		}
		claimed, err := s.repo.TransitionNoticeState(ctx, e.Token, e.NoticeState, next)
		if err != nil {
			slog.Error("failed to transition notice state", "token", e.Token, "from", e.NoticeState, "to", next, "error", err)
			continue
		}
		if !claimed {
			slog.Debug("notice already claimed", "token", e.Token, "to", next)
			continue
		}
		event := webhook.LifecycleEventWarning
		if next == repository.NoticeStateExpired {
			event = webhook.LifecycleEventExpired
		}
		s.publish(ctx, noticeMessage(e, next, s.ownerUserID), event, e)
		sent++
	}
	if sent > 0 {
		slog.Info("entitlement notices sent", "count", sent)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, msg discord.Message, event webhook.LifecycleEvent, e repository.Entitlement) {
	if s.noticeChannelID != "" {
		if _, err := s.sink.SendChannelMessage(ctx, s.noticeChannelID, msg); err != nil {
			slog.Error("failed to send lifecycle notice", "token", e.Token, "event", event, "error", err)
		}
	}
	if s.webhook == nil {
		return
	}
	if err := s.webhook.SendLifecycle(ctx, webhook.LifecyclePayload{
		Event:          event,
		Token:          e.Token,
		Duration:       e.Duration,
		GuildID:        e.GuildID,
		AssignedUserID: e.AssignedUserID,
		ExpiresAt:      e.ExpiresAt,
		OccurredAt:     s.now(),
	}); err != nil {
		slog.Error("failed to send lifecycle webhook", "token", e.Token, "event", event, "error", err)
	}
}
