package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
)

var (
	// ErrMessageNotFound is returned by EditChannelMessage when the target
	// message or channel no longer exists.
	ErrMessageNotFound = errors.New("discord message not found")
	// ErrForbidden is returned when the bot may not post to the target,
	// e.g. a user with closed DMs.
	ErrForbidden = fmt.Errorf("discord forbidden: %w", apperr.ErrSinkUnavailable)
)

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      string       `json:"footer,omitempty"`
}

type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type OptionType int

const (
	OptionString OptionType = iota
	OptionUser
	OptionRole
	OptionChannel
)

type SlashCommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []SlashCommandOption
}

// SlashCommandEvent is one invocation of a slash command. CanManageGuild is
// true when the invoker holds the Manage Server permission in the guild.
// Options holds option values by name; user, role and channel options carry
// the snowflake id.
type SlashCommandEvent struct {
	GuildID          string
	ChannelID        string
	CommandName      string
	UserID           string
	MemberRoleIDs    []string
	CanManageGuild   bool
	Options          map[string]string
	RespondEphemeral func(content string) error
	Respond          func(msg Message) error
}

func (e SlashCommandEvent) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, id := range e.MemberRoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Sink is the outgoing notification surface used by background work.
type Sink interface {
	SendChannelMessage(ctx context.Context, channelID string, msg Message) (string, error)
	EditChannelMessage(ctx context.Context, channelID, messageID string, msg Message) error
	SendDirectMessage(ctx context.Context, userID string, msg Message) error
}

type Client interface {
	Sink
	Connect(ctx context.Context) error
	Close() error
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	// UpsertSlashCommands registers commands for guildID, or globally when
	// guildID is empty.
	UpsertSlashCommands(guildID string, defs []SlashCommandDefinition) error
	ListRoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error)
	GetBotUserID() (string, error)
}
