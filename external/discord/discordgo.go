package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/dutykeeper/internal/apperr"
	discordpkg "github.com/foxseedlab/dutykeeper/internal/discord"
	"golang.org/x/time/rate"
)

const guildMembersPageSize = 1000

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string
	limiter   *rate.Limiter
}

func NewClient(token string, sendRatePerSec int) *Client {
	if sendRatePerSec <= 0 {
		sendRatePerSec = 1
	}
	return &Client{
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(sendRatePerSec), sendRatePerSec),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsGuildMembers)
	if err := s.Open(); err != nil {
		return err
	}
	userID, err := c.GetBotUserID()
	if err != nil {
		return err
	}
	c.botUserID = userID
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send rate limiter: %w", apperr.ErrSinkUnavailable)
	}
	return nil
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID string, msg discordpkg.Message) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	m, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: msg.Content,
		Embeds:  toDiscordEmbeds(msg.Embeds),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapRESTError(err)
	}
	return m.ID, nil
}

func (c *Client) EditChannelMessage(ctx context.Context, channelID, messageID string, msg discordpkg.Message) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	content := msg.Content
	embeds := toDiscordEmbeds(msg.Embeds)
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Content = &content
	edit.Embeds = &embeds
	_, err := c.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx))
	if err != nil {
		if isRESTStatus(err, http.StatusNotFound) {
			return fmt.Errorf("message %s in channel %s: %w", messageID, channelID, discordpkg.ErrMessageNotFound)
		}
		return mapRESTError(err)
	}
	return nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg discordpkg.Message) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	_, err = c.session.ChannelMessageSendComplex(ch.ID, &discordgo.MessageSend{
		Content: msg.Content,
		Embeds:  toDiscordEmbeds(msg.Embeds),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return mapRESTError(err)
	}
	return nil
}

func toDiscordEmbeds(embeds []discordpkg.Embed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		out = append(out, me)
	}
	return out
}

func (c *Client) RegisterSlashCommandHandler(handler func(discordpkg.SlashCommandEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		ev, ok := toSlashCommandEvent(ic)
		if !ok {
			return
		}
		slog.Info("slash command interaction received", "guild_id", ev.GuildID, "channel_id", ev.ChannelID, "command", ev.CommandName, "user_id", ev.UserID)
		ev.RespondEphemeral = func(content string) error {
			return s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: content,
					Flags:   discordgo.MessageFlagsEphemeral,
				},
			})
		}
		ev.Respond = func(msg discordpkg.Message) error {
			return s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{
					Content: msg.Content,
					Embeds:  toDiscordEmbeds(msg.Embeds),
				},
			})
		}
		handler(ev)
	})
}

func toSlashCommandEvent(ic *discordgo.InteractionCreate) (discordpkg.SlashCommandEvent, bool) {
	data := ic.ApplicationCommandData()
	if data.Name == "" {
		return discordpkg.SlashCommandEvent{}, false
	}
	userID := ""
	var roles []string
	canManage := false
	if ic.Member != nil {
		roles = ic.Member.Roles
		canManage = ic.Member.Permissions&discordgo.PermissionManageServer != 0
		if ic.Member.User != nil {
			userID = ic.Member.User.ID
		}
	}
	if userID == "" && ic.User != nil {
		userID = ic.User.ID
	}
	if userID == "" {
		return discordpkg.SlashCommandEvent{}, false
	}
	options := make(map[string]string, len(data.Options))
	for _, o := range data.Options {
		if o == nil || o.Value == nil {
			continue
		}
		options[o.Name] = strings.TrimSpace(fmt.Sprint(o.Value))
	}
	return discordpkg.SlashCommandEvent{
		GuildID:        ic.GuildID,
		ChannelID:      ic.ChannelID,
		CommandName:    data.Name,
		UserID:         userID,
		MemberRoleIDs:  roles,
		CanManageGuild: canManage,
		Options:        options,
	}, true
}

func (c *Client) UpsertSlashCommands(guildID string, defs []discordpkg.SlashCommandDefinition) error {
	appID := c.applicationID()
	if appID == "" {
		return fmt.Errorf("discord application id is not available")
	}
	existing, err := c.session.ApplicationCommands(appID, guildID)
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		if cmd == nil || cmd.Name == "" {
			continue
		}
		existingByName[cmd.Name] = cmd
	}
	for _, def := range defs {
		if err := c.upsertSlashCommand(appID, guildID, def, existingByName); err != nil {
			return fmt.Errorf("upsert command %s: %w", def.Name, err)
		}
	}
	return nil
}

func (c *Client) upsertSlashCommand(appID, guildID string, def discordpkg.SlashCommandDefinition, existingByName map[string]*discordgo.ApplicationCommand) error {
	if def.Name == "" {
		return nil
	}
	payload := toApplicationCommand(def)
	cmd, ok := existingByName[def.Name]
	if !ok {
		_, err := c.session.ApplicationCommandCreate(appID, guildID, payload)
		return err
	}
	if commandSignature(cmd) == commandSignature(payload) {
		return nil
	}
	_, err := c.session.ApplicationCommandEdit(appID, guildID, cmd.ID, payload)
	return err
}

func toApplicationCommand(def discordpkg.SlashCommandDefinition) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        def.Name,
		Description: def.Description,
	}
	for _, o := range def.Options {
		cmd.Options = append(cmd.Options, &discordgo.ApplicationCommandOption{
			Type:        toOptionType(o.Type),
			Name:        o.Name,
			Description: o.Description,
			Required:    o.Required,
		})
	}
	return cmd
}

func toOptionType(t discordpkg.OptionType) discordgo.ApplicationCommandOptionType {
	switch t {
	case discordpkg.OptionUser:
		return discordgo.ApplicationCommandOptionUser
	case discordpkg.OptionRole:
		return discordgo.ApplicationCommandOptionRole
	case discordpkg.OptionChannel:
		return discordgo.ApplicationCommandOptionChannel
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

// commandSignature is used to skip edits for commands that did not change.
func commandSignature(cmd *discordgo.ApplicationCommand) string {
	parts := []string{cmd.Name, cmd.Description}
	opts := make([]string, 0, len(cmd.Options))
	for _, o := range cmd.Options {
		if o == nil {
			continue
		}
		opts = append(opts, fmt.Sprintf("%s:%d:%t:%s", o.Name, o.Type, o.Required, o.Description))
	}
	sort.Strings(opts)
	return strings.Join(append(parts, opts...), "|")
}

func (c *Client) ListRoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error) {
	var ids []string
	after := ""
	for {
		members, err := c.session.GuildMembers(guildID, after, guildMembersPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapRESTError(err)
		}
		for _, m := range members {
			if m == nil || m.User == nil || m.User.Bot {
				continue
			}
			for _, r := range m.Roles {
				if r == roleID {
					ids = append(ids, m.User.ID)
					break
				}
			}
		}
		if len(members) < guildMembersPageSize {
			return ids, nil
		}
		last := members[len(members)-1]
		if last == nil || last.User == nil {
			return ids, nil
		}
		after = last.User.ID
	}
}

func isRESTStatus(err error, status int) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == status
}

func mapRESTError(err error) error {
	if isRESTStatus(err, http.StatusForbidden) {
		return fmt.Errorf("%w: %v", discordpkg.ErrForbidden, err)
	}
	return fmt.Errorf("%w: %v", apperr.ErrSinkUnavailable, err)
}

func (c *Client) GetBotUserID() (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		c.botUserID = c.session.State.User.ID
		return c.botUserID, nil
	}
	u, err := c.session.User("@me")
	if err != nil {
		return "", err
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}

func (c *Client) applicationID() string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	if c.session.State.Application != nil && c.session.State.Application.ID != "" {
		return c.session.State.Application.ID
	}
	if c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}
