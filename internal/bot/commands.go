package bot

import "github.com/foxseedlab/dutykeeper/internal/discord"

const (
	commandSignIn         = "signin"
	commandSignOut        = "signout"
	commandSetup          = "setup"
	commandGenerateKey    = "generate_key"
	commandActivateKey    = "activate_key"
	commandDeactivateKey  = "deactivate_key"
	commandBulkNotify     = "bulk_notify"
	commandScheduleAdd    = "schedule_add"
	commandScheduleList   = "schedule_list"
	commandScheduleRemove = "schedule_remove"
)

func SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{Name: commandSignIn, Description: "Sign in to start your duty timer."},
		{Name: commandSignOut, Description: "Sign out and record your work summary.", Options: []discord.SlashCommandOption{
			{Name: "report", Description: "Brief summary of your work", Required: true},
		}},
		{Name: commandSetup, Description: "Use this channel for the attendance board.", Options: []discord.SlashCommandOption{
			{Name: "staff_role", Description: "Role allowed to sign in", Type: discord.OptionRole, Required: true},
		}},
		{Name: commandGenerateKey, Description: "Generate a subscription key.", Options: []discord.SlashCommandOption{
			{Name: "duration", Description: "Validity (e.g., 7d, 12h, 1y, l)", Required: true},
			{Name: "dm_user", Description: "Optional: user to DM the key", Type: discord.OptionUser},
		}},
		{Name: commandActivateKey, Description: "Activate a subscription key for this server.", Options: []discord.SlashCommandOption{
			{Name: "key", Description: "Subscription key", Required: true},
		}},
		{Name: commandDeactivateKey, Description: "Deactivate a key or user subscription.", Options: []discord.SlashCommandOption{
			{Name: "key", Description: "Key to deactivate (optional)"},
			{Name: "dm_user", Description: "User to revoke (optional)", Type: discord.OptionUser},
		}},
		{Name: commandBulkNotify, Description: "[Pro] DM all staff a message.", Options: []discord.SlashCommandOption{
			{Name: "message", Description: "Message to send", Required: true},
		}},
		{Name: commandScheduleAdd, Description: "Post a message on a cron schedule.", Options: []discord.SlashCommandOption{
			{Name: "name", Description: "Schedule name", Required: true},
			{Name: "cron", Description: "Cron expression, e.g. 0 9 * * 1-5", Required: true},
			{Name: "message", Description: "Message to post", Required: true},
			{Name: "channel", Description: "Target channel (defaults to this one)", Type: discord.OptionChannel},
		}},
		{Name: commandScheduleList, Description: "List schedules in this server."},
		{Name: commandScheduleRemove, Description: "Remove a schedule.", Options: []discord.SlashCommandOption{
			{Name: "name", Description: "Schedule name", Required: true},
		}},
	}
}
