package webhook

import (
	"context"
	"time"
)

type LifecycleEvent string

const (
	LifecycleEventActivated LifecycleEvent = "activated"
	LifecycleEventWarning   LifecycleEvent = "expiry_warning"
	LifecycleEventExpired   LifecycleEvent = "expired"
)

// LifecyclePayload mirrors an entitlement notice for external consumers.
type LifecyclePayload struct {
	Event          LifecycleEvent `json:"event"`
	Token          string         `json:"token"`
	Duration       string         `json:"duration"`
	GuildID        string         `json:"guild_id"`
	AssignedUserID string         `json:"assigned_user_id,omitempty"`
	ExpiresAt      *time.Time     `json:"expires_at,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

type Sender interface {
	SendLifecycle(ctx context.Context, payload LifecyclePayload) error
}
