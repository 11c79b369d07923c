package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/repository"
)

const (
	messageGuildOnly          = "⚠️ This command can only be used in a server."
	messageUnknownCommand     = "⚠️ Unknown command."
	messageOwnerOnly          = "🚫 Only the bot owner can run this command."
	messageManagerOnly        = "🚫 You need the Manage Server permission to run this command."
	messageStaffRoleMissing   = "⚠️ Configuration missing staff role. Please contact an admin."
	messageStaffOnly          = "🚫 You must have the Staff role to sign in."
	messageAlreadySignedIn    = "⚠️ You are already signed in."
	messageNotSignedIn        = "⚠️ You are not signed in."
	messageInvalidKey         = "🚫 Invalid or already used key."
	messageNoSubscription     = "🚫 No matching subscription found."
	messageNeedKeyOrUser      = "🚫 Provide either a key or a user."
	messageProInactive        = "🚫 Pro not active."
	messageBroadcastStarted   = "📣 Broadcast sent."
	messageScheduleNotFound   = "🚫 No schedule with that name."
	messageNoSchedules        = "No schedules defined."
	messageInternalError      = "⚠️ Something went wrong. Please try again later."
	messageDeliveryError      = "⚠️ Could not reach Discord. Please try again later."
	messageSetupDoneFormat    = "✅ Setup complete.\nRole: <@&%s>\nChannel: <#%s>"
	messageSignedInFormat     = "✅ <@%s> signed in at <t:%d:T>."
	messageSignedOutFormat    = "✅ <@%s> signed out at <t:%d:T>. Report saved."
	messageKeyGenerated       = "🔑 Key `%s` generated (%s)."
	messageKeyDeleted         = "🗑️ Unused key `%s` deleted."
	messageScheduleSaved      = "🗓️ Schedule `%s` saved. Next run %s."
	messageScheduleRemoved    = "🗑️ Schedule `%s` removed."
	messageInvalidInputPrefix = "🚫 "

	titleProActivated   = "✅ Pro Activated"
	titleProDeactivated = "🛑 Pro Deactivated"
	colorGreen          = 0x2ecc71
	colorRed            = 0xe74c3c
)

func discordTime(t time.Time, style string) string {
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}

func expiryText(t *time.Time) string {
	if t == nil {
		return "Never"
	}
	return discordTime(*t, "F")
}

func ownerHint(ownerUserID, verb string) string {
	if ownerUserID == "" {
		return ""
	}
	return fmt.Sprintf("\n\nTo %s, DM <@%s>.", verb, ownerUserID)
}

func scheduleList(defs []repository.ScheduleDefinition, nextRun func(repository.ScheduleDefinition) time.Time) string {
	if len(defs) == 0 {
		return messageNoSchedules
	}
	var b strings.Builder
	for i, d := range defs {
		if i > 0 {
			b.WriteByte('\n')
		}
		next := "never"
		if t := nextRun(d); !t.IsZero() {
			next = discordTime(t, "R")
		}
		fmt.Fprintf(&b, "• `%s` `%s` → <#%s>, next %s", d.Name, d.Cron, d.ChannelID, next)
	}
	return b.String()
}
