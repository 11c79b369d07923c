package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/dutykeeper/internal/apperr"
	"github.com/foxseedlab/dutykeeper/internal/attendance"
	"github.com/foxseedlab/dutykeeper/internal/discord"
	"github.com/foxseedlab/dutykeeper/internal/entitlement"
	"github.com/foxseedlab/dutykeeper/internal/repository"
	"github.com/foxseedlab/dutykeeper/internal/schedule"
)

const (
	commandTimeout   = 10 * time.Second
	broadcastTimeout = 10 * time.Minute
)

type Attendance interface {
	Settings(ctx context.Context, guildID string) (*repository.GuildSettings, error)
	Configure(ctx context.Context, input repository.UpsertGuildSettingsInput) error
	OnSignIn(ctx context.Context, guildID, userID string) (*repository.AttendanceSession, error)
	OnSignOut(ctx context.Context, guildID, userID, report string) (*repository.AttendanceSession, error)
}

type Entitlements interface {
	Generate(ctx context.Context, input entitlement.GenerateInput) (*repository.Entitlement, error)
	Activate(ctx context.Context, token, guildID, activatedBy string) (*repository.Entitlement, error)
	Deactivate(ctx context.Context, sel repository.EntitlementSelector) (entitlement.DeactivateResult, error)
	IsActive(ctx context.Context, guildID string) (bool, error)
}

type Schedules interface {
	Define(ctx context.Context, input schedule.DefineInput) (*repository.ScheduleDefinition, error)
	List(ctx context.Context, guildID string) ([]repository.ScheduleDefinition, error)
	Remove(ctx context.Context, guildID, name string) error
	NextRun(def repository.ScheduleDefinition) time.Time
}

// Members resolves and messages guild members for broadcasts.
type Members interface {
	ListRoleMemberIDs(ctx context.Context, guildID, roleID string) ([]string, error)
	SendDirectMessage(ctx context.Context, userID string, msg discord.Message) error
}

type Handler struct {
	ownerUserID  string
	attendance   Attendance
	entitlements Entitlements
	schedules    Schedules
	members      Members

	wg sync.WaitGroup
}

var (
	_ Attendance   = (*attendance.Service)(nil)
	_ Entitlements = (*entitlement.Service)(nil)
	_ Schedules    = (*schedule.Service)(nil)
)

func NewHandler(ownerUserID string, att Attendance, ent Entitlements, sch Schedules, members Members) *Handler {
	return &Handler{
		ownerUserID:  ownerUserID,
		attendance:   att,
		entitlements: ent,
		schedules:    sch,
		members:      members,
	}
}

// HandleSlashCommand dispatches one interaction. It is safe to call from the
// gateway's event goroutines.
func (h *Handler) HandleSlashCommand(ev discord.SlashCommandEvent) {
	if ev.GuildID == "" {
		h.replyEphemeral(ev, messageGuildOnly)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch ev.CommandName {
	case commandSignIn:
		err = h.signIn(ctx, ev)
	case commandSignOut:
		err = h.signOut(ctx, ev)
	case commandSetup:
		err = h.setup(ctx, ev)
	case commandGenerateKey:
		err = h.ownerOnly(ev, func() error { return h.generateKey(ctx, ev) })
	case commandActivateKey:
		err = h.activateKey(ctx, ev)
	case commandDeactivateKey:
		err = h.ownerOnly(ev, func() error { return h.deactivateKey(ctx, ev) })
	case commandBulkNotify:
		err = h.bulkNotify(ctx, ev)
	case commandScheduleAdd:
		err = h.ownerOnly(ev, func() error { return h.scheduleAdd(ctx, ev) })
	case commandScheduleList:
		err = h.ownerOnly(ev, func() error { return h.scheduleList(ctx, ev) })
	case commandScheduleRemove:
		err = h.ownerOnly(ev, func() error { return h.scheduleRemove(ctx, ev) })
	default:
		h.replyEphemeral(ev, messageUnknownCommand)
		return
	}
	if err != nil {
		slog.Error("slash command failed", "command", ev.CommandName, "guild_id", ev.GuildID, "user_id", ev.UserID, "error", err)
		h.replyEphemeral(ev, errorReply(err))
	}
}

// Wait blocks until background broadcasts started by commands have finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return messageInvalidInputPrefix + userFacing(err)
	case errors.Is(err, apperr.ErrConfigMissing):
		return messageStaffRoleMissing
	case errors.Is(err, apperr.ErrSinkUnavailable):
		return messageDeliveryError
	default:
		return messageInternalError
	}
}

// userFacing strips the sentinel suffix from a wrapped validation error.
func userFacing(err error) string {
	msg := err.Error()
	return strings.TrimSuffix(msg, ": "+apperr.ErrInvalidInput.Error())
}

func (h *Handler) replyEphemeral(ev discord.SlashCommandEvent, content string) {
	if ev.RespondEphemeral == nil {
		return
	}
	if err := ev.RespondEphemeral(content); err != nil {
		slog.Error("failed to respond to interaction", "command", ev.CommandName, "guild_id", ev.GuildID, "error", err)
	}
}

func (h *Handler) reply(ev discord.SlashCommandEvent, msg discord.Message) {
	if ev.Respond == nil {
		return
	}
	if err := ev.Respond(msg); err != nil {
		slog.Error("failed to respond to interaction", "command", ev.CommandName, "guild_id", ev.GuildID, "error", err)
	}
}

func (h *Handler) ownerOnly(ev discord.SlashCommandEvent, fn func() error) error {
	if h.ownerUserID == "" || ev.UserID != h.ownerUserID {
		h.replyEphemeral(ev, messageOwnerOnly)
		return nil
	}
	return fn()
}

func (h *Handler) signIn(ctx context.Context, ev discord.SlashCommandEvent) error {
	settings, err := h.attendance.Settings(ctx, ev.GuildID)
	if err != nil {
		return err
	}
	if settings == nil || settings.StaffRoleID == "" {
		h.replyEphemeral(ev, messageStaffRoleMissing)
		return nil
	}
	if !ev.HasRole(settings.StaffRoleID) {
		h.replyEphemeral(ev, messageStaffOnly)
		return nil
	}
	sess, err := h.attendance.OnSignIn(ctx, ev.GuildID, ev.UserID)
	if errors.Is(err, apperr.ErrConflict) {
		h.replyEphemeral(ev, messageAlreadySignedIn)
		return nil
	}
	if err != nil {
		return err
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageSignedInFormat, ev.UserID, sess.StartedAt.Unix()))
	return nil
}

func (h *Handler) signOut(ctx context.Context, ev discord.SlashCommandEvent) error {
	sess, err := h.attendance.OnSignOut(ctx, ev.GuildID, ev.UserID, ev.Options["report"])
	if errors.Is(err, apperr.ErrNotFound) {
		h.replyEphemeral(ev, messageNotSignedIn)
		return nil
	}
	if err != nil {
		return err
	}
	ended := time.Now()
	if sess.EndedAt != nil {
		ended = *sess.EndedAt
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageSignedOutFormat, ev.UserID, ended.Unix()))
	return nil
}

func (h *Handler) setup(ctx context.Context, ev discord.SlashCommandEvent) error {
	if !ev.CanManageGuild && ev.UserID != h.ownerUserID {
		h.replyEphemeral(ev, messageManagerOnly)
		return nil
	}
	roleID := ev.Options["staff_role"]
	if err := h.attendance.Configure(ctx, repository.UpsertGuildSettingsInput{
		GuildID:             ev.GuildID,
		StaffRoleID:         roleID,
		AttendanceChannelID: ev.ChannelID,
	}); err != nil {
		return err
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageSetupDoneFormat, roleID, ev.ChannelID))
	return nil
}

func (h *Handler) generateKey(ctx context.Context, ev discord.SlashCommandEvent) error {
	e, err := h.entitlements.Generate(ctx, entitlement.GenerateInput{
		Duration:       ev.Options["duration"],
		AssignedUserID: ev.Options["dm_user"],
	})
	if err != nil {
		return err
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageKeyGenerated, e.Token, e.Duration))
	return nil
}

func (h *Handler) activateKey(ctx context.Context, ev discord.SlashCommandEvent) error {
	e, err := h.entitlements.Activate(ctx, strings.TrimSpace(ev.Options["key"]), ev.GuildID, ev.UserID)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrConflict) {
		h.replyEphemeral(ev, messageInvalidKey)
		return nil
	}
	if err != nil {
		return err
	}
	assignee := "Staff"
	if e.AssignedUserID != "" {
		assignee = "<@" + e.AssignedUserID + ">"
	}
	desc := fmt.Sprintf("%s, your Pro features are now active!\nExpires at: %s%s",
		assignee, expiryText(e.ExpiresAt), ownerHint(h.ownerUserID, "renew"))
	h.reply(ev, discord.Message{Embeds: []discord.Embed{{
		Title:       titleProActivated,
		Description: desc,
		Color:       colorGreen,
	}}})
	return nil
}

func (h *Handler) deactivateKey(ctx context.Context, ev discord.SlashCommandEvent) error {
	sel := repository.EntitlementSelector{
		GuildID:        ev.GuildID,
		Token:          strings.TrimSpace(ev.Options["key"]),
		AssignedUserID: ev.Options["dm_user"],
	}
	if sel.Token == "" && sel.AssignedUserID == "" {
		h.replyEphemeral(ev, messageNeedKeyOrUser)
		return nil
	}
	res, err := h.entitlements.Deactivate(ctx, sel)
	if errors.Is(err, apperr.ErrNotFound) {
		h.replyEphemeral(ev, messageNoSubscription)
		return nil
	}
	if err != nil {
		return err
	}
	if res.DeletedToken != "" {
		h.replyEphemeral(ev, fmt.Sprintf(messageKeyDeleted, res.DeletedToken))
		return nil
	}
	h.reply(ev, discord.Message{Embeds: []discord.Embed{{
		Title:       titleProDeactivated,
		Description: "All Pro features have been disabled for this server." + ownerHint(h.ownerUserID, "reactivate"),
		Color:       colorRed,
	}}})
	return nil
}

func (h *Handler) bulkNotify(ctx context.Context, ev discord.SlashCommandEvent) error {
	active, err := h.entitlements.IsActive(ctx, ev.GuildID)
	if err != nil {
		return err
	}
	if !active {
		h.replyEphemeral(ev, messageProInactive)
		return nil
	}
	settings, err := h.attendance.Settings(ctx, ev.GuildID)
	if err != nil {
		return err
	}
	if settings == nil || settings.StaffRoleID == "" {
		h.replyEphemeral(ev, messageStaffRoleMissing)
		return nil
	}
	text := strings.TrimSpace(ev.Options["message"])
	if text == "" {
		return fmt.Errorf("message is required: %w", apperr.ErrInvalidInput)
	}
	h.replyEphemeral(ev, messageBroadcastStarted)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.broadcast(ev.GuildID, settings.StaffRoleID, text)
	}()
	return nil
}

func (h *Handler) broadcast(guildID, roleID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcastTimeout)
	defer cancel()
	ids, err := h.members.ListRoleMemberIDs(ctx, guildID, roleID)
	if err != nil {
		slog.Error("failed to list staff members", "guild_id", guildID, "role_id", roleID, "error", err)
		return
	}
	delivered := 0
	for _, id := range ids {
		if err := h.members.SendDirectMessage(ctx, id, discord.Message{Content: text}); err != nil {
			slog.Warn("failed to DM staff member", "guild_id", guildID, "user_id", id, "error", err)
			continue
		}
		delivered++
	}
	slog.Info("broadcast finished", "guild_id", guildID, "recipients", len(ids), "delivered", delivered)
}

func (h *Handler) scheduleAdd(ctx context.Context, ev discord.SlashCommandEvent) error {
	channelID := ev.Options["channel"]
	if channelID == "" {
		channelID = ev.ChannelID
	}
	def, err := h.schedules.Define(ctx, schedule.DefineInput{
		GuildID:   ev.GuildID,
		Name:      ev.Options["name"],
		Cron:      ev.Options["cron"],
		ChannelID: channelID,
		Message:   ev.Options["message"],
	})
	if err != nil {
		return err
	}
	next := "never"
	if t := h.schedules.NextRun(*def); !t.IsZero() {
		next = discordTime(t, "R")
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageScheduleSaved, def.Name, next))
	return nil
}

func (h *Handler) scheduleList(ctx context.Context, ev discord.SlashCommandEvent) error {
	defs, err := h.schedules.List(ctx, ev.GuildID)
	if err != nil {
		return err
	}
	h.replyEphemeral(ev, scheduleList(defs, h.schedules.NextRun))
	return nil
}

func (h *Handler) scheduleRemove(ctx context.Context, ev discord.SlashCommandEvent) error {
	name := ev.Options["name"]
	err := h.schedules.Remove(ctx, ev.GuildID, name)
	if errors.Is(err, apperr.ErrNotFound) {
		h.replyEphemeral(ev, messageScheduleNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	h.replyEphemeral(ev, fmt.Sprintf(messageScheduleRemoved, name))
	return nil
}
