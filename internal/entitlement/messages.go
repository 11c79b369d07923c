package entitlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/repository"
)

const (
	colorWarning   = 0xe67e22
	colorExpired   = 0xc27c0e
	colorActivated = 0x2ecc71

	titleWarning   = "⚠️ Pro Subscription Ending Soon"
	titleExpired   = "⏳ Pro Subscription Expired"
	titleActivated = "🔓 Pro Subscription Activated"

	messageNever = "Never"
)

func mention(userID, fallback string) string {
	if userID == "" {
		return fallback
	}
	return "<@" + userID + ">"
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return messageNever
	}
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func renewHint(ownerUserID string) string {
	if ownerUserID == "" {
		return ""
	}
	return fmt.Sprintf("\n\nRenew by DMing <@%s>.", ownerUserID)
}

func noticeMessage(e repository.Entitlement, state repository.NoticeState, ownerUserID string) discord.Message {
	title, color, verb := titleWarning, colorWarning, "expires"
	if state == repository.NoticeStateExpired {
		title, color, verb = titleExpired, colorExpired, "expired"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Subscription for guild ID `%s` %s at %s\n", e.GuildID, verb, formatExpiry(e.ExpiresAt))
	fmt.Fprintf(&b, "Assigned to: %s", mention(e.AssignedUserID, "Staff"))
	b.WriteString(renewHint(ownerUserID))
	return discord.Message{Embeds: []discord.Embed{{
		Title:       title,
		Description: b.String(),
		Color:       color,
		Footer:      "Server ID: " + e.GuildID,
	}}}
}

func activatedMessage(e repository.Entitlement, activatedBy string) discord.Message {
	desc := fmt.Sprintf("Server: `%s`\nKey: `%s`\nExpires: %s\nAssigned to: %s",
		e.GuildID, e.Token, formatExpiry(e.ExpiresAt), mention(e.AssignedUserID, "Staff"))
	return discord.Message{Embeds: []discord.Embed{{
		Title:       titleActivated,
		Description: desc,
		Color:       colorActivated,
		Footer:      "Activated by: " + activatedBy,
	}}}
}

func keyDirectMessage(e repository.Entitlement) discord.Message {
	return discord.Message{Content: fmt.Sprintf("Your key: `%s` (expires %s)", e.Token, formatExpiry(e.ExpiresAt))}
}
