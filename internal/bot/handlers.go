package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/analytics"
	"ctf-assistant/internal/core"
	"ctf-assistant/internal/integrations"
	"ctf-assistant/internal/models"
	"ctf-assistant/internal/utils"
)

const (
	RemovePrefix  = "donation-remove"
	actionConfirm = "confirm"
	actionCancel  = "cancel"

	colorOK    = 0x2ECC71
	colorWarn  = 0xE67E22
	colorError = 0xE74C3C

	testLimit = 3
)

var manageServer = int64(discordgo.PermissionManageServer)

type PingCommand struct {
	started time.Time
}

func NewPingCommand(started time.Time) *PingCommand {
	return &PingCommand{started: started}
}

func (c *PingCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Check that the assistant is alive",
	}
}

func (c *PingCommand) Execute(ctx context.Context, inv *Invocation) error {
	return inv.Reply(fmt.Sprintf("Pong! Up since %s.", humanize.Time(c.started)))
}

// Previewer sends a sample notification to an integration's channel.
type Previewer interface {
	Preview(integration models.DonationIntegration) error
}

type DonationCommand struct {
	integrations *integrations.Service
	analytics    *analytics.Service
	previewer    Previewer
	pending      *pendingRemovals
	tests        *utils.KeyedWindows
	logger       *zap.Logger
}

func NewDonationCommand(service *integrations.Service, stats *analytics.Service, previewer Previewer, logger *zap.Logger) *DonationCommand {
	return &DonationCommand{
		integrations: service,
		analytics:    stats,
		previewer:    previewer,
		pending:      newPendingRemovals(),
		tests:        utils.NewKeyedWindows(time.Minute),
		logger:       logger,
	}
}

func (c *DonationCommand) Definition() *discordgo.ApplicationCommand {
	dm := false
	channel := func(required bool, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  description,
			Required:     required,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews},
		}
	}
	return &discordgo.ApplicationCommand{
		Name:                     "donation",
		Description:              "Manage donation alerts",
		DefaultMemberPermissions: &manageServer,
		DMPermission:             &dm,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "setup",
				Description: "Connect a donation page to a channel",
				Options: []*discordgo.ApplicationCommandOption{
					channel(true, "Channel that receives donation alerts"),
					{Type: discordgo.ApplicationCommandOptionString, Name: "api_key", Description: "Donation platform API key", Required: true},
					{Type: discordgo.ApplicationCommandOptionString, Name: "page_url", Description: "Public donation page link"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show donation alert settings",
				Options:     []*discordgo.ApplicationCommandOption{channel(false, "Only show this channel")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "toggle",
				Description: "Pause or resume donation alerts",
				Options: []*discordgo.ApplicationCommandOption{
					channel(true, "Channel to change"),
					{Type: discordgo.ApplicationCommandOptionBoolean, Name: "enabled", Description: "Whether alerts are sent", Required: true},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Delete a donation integration",
				Options:     []*discordgo.ApplicationCommandOption{channel(true, "Channel to disconnect")},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "test",
				Description: "Send a sample donation alert",
				Options:     []*discordgo.ApplicationCommandOption{channel(false, "Defaults to this channel")},
			},
		},
	}
}

func (c *DonationCommand) Execute(ctx context.Context, inv *Invocation) error {
	name, options := inv.Subcommand()
	switch name {
	case "setup":
		return c.setup(ctx, inv, options)
	case "status":
		return c.status(ctx, inv, options)
	case "toggle":
		return c.toggle(ctx, inv, options)
	case "remove":
		return c.remove(ctx, inv, options)
	case "test":
		return c.test(ctx, inv, options)
	default:
		return inv.Reply("Unknown subcommand.")
	}
}

func (c *DonationCommand) actor(inv *Invocation) integrations.Actor {
	return integrations.Actor{UserID: inv.UserID, Source: "discord"}
}

func (c *DonationCommand) setup(ctx context.Context, inv *Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	channelID := optionString(options, "channel")
	apiKey := optionString(options, "api_key")
	pageURL, hasPage := optionLookup(options, "page_url")

	record, err := c.integrations.Get(ctx, inv.GuildID, channelID)
	switch {
	case err == nil:
		active := true
		update := models.IntegrationUpdate{APIKey: &apiKey, IsActive: &active}
		// Rerunning setup to rotate the key keeps the stored page link.
		if hasPage {
			update.PageURL = &pageURL
		}
		record, err = c.integrations.Update(ctx, c.actor(inv), record.HexID(), update)
	case core.IsNotFound(err):
		record, err = c.integrations.Create(ctx, c.actor(inv), models.NewIntegration{GuildID: inv.GuildID, ChannelID: channelID, APIKey: apiKey, PageURL: pageURL})
	}
	if err != nil {
		if core.IsValidation(err) {
			return inv.ReplyEmbed(errorEmbed("Setup failed", validationMessage(err)))
		}
		return err
	}
	return inv.ReplyEmbed(integrationEmbed("Donation alerts enabled", colorOK, record))
}

func (c *DonationCommand) status(ctx context.Context, inv *Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	if channelID := optionString(options, "channel"); channelID != "" {
		record, err := c.integrations.Get(ctx, inv.GuildID, channelID)
		if core.IsNotFound(err) {
			return inv.ReplyEmbed(notConfigured(channelID))
		}
		if err != nil {
			return err
		}
		return inv.ReplyEmbed(integrationEmbed("Donation alerts", colorOK, record))
	}

	records, err := c.integrations.List(ctx, models.IntegrationFilter{GuildID: inv.GuildID})
	if err != nil {
		return err
	}
	summary, err := c.analytics.Summary(ctx, inv.GuildID)
	if err != nil {
		return err
	}

	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, fmt.Sprintf("<#%s> %s, checked %s", record.ChannelID, stateLabel(record), lastChecked(record)))
	}
	description := strings.Join(lines, "\n")
	if description == "" {
		description = "No donation integrations yet. Use `/donation setup` to add one."
	}
	return inv.ReplyEmbed(&discordgo.MessageEmbed{
		Title:       "Donation alerts",
		Description: description,
		Color:       colorOK,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Integrations", Value: humanize.Comma(int64(summary.Total)), Inline: true},
			{Name: "Active", Value: humanize.Comma(int64(summary.Active)), Inline: true},
			{Name: "Never checked", Value: humanize.Comma(int64(summary.NeverChecked)), Inline: true},
			{Name: "Stale", Value: humanize.Comma(int64(summary.Stale)), Inline: true},
		},
	})
}

func (c *DonationCommand) toggle(ctx context.Context, inv *Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	channelID := optionString(options, "channel")
	enabled, _ := optionBool(options, "enabled")

	record, err := c.integrations.Get(ctx, inv.GuildID, channelID)
	if core.IsNotFound(err) {
		return inv.ReplyEmbed(notConfigured(channelID))
	}
	if err != nil {
		return err
	}
	record, err = c.integrations.SetActive(ctx, c.actor(inv), record.HexID(), enabled)
	if core.IsConflict(err) {
		return inv.ReplyEmbed(errorEmbed("Toggle failed", "Another active integration already uses this channel."))
	}
	if err != nil {
		return err
	}
	title := "Donation alerts paused"
	if record.IsActive {
		title = "Donation alerts resumed"
	}
	return inv.ReplyEmbed(integrationEmbed(title, colorOK, record))
}

func (c *DonationCommand) remove(ctx context.Context, inv *Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	channelID := optionString(options, "channel")
	record, err := c.integrations.Get(ctx, inv.GuildID, channelID)
	if core.IsNotFound(err) {
		return inv.ReplyEmbed(notConfigured(channelID))
	}
	if err != nil {
		return err
	}

	token := c.pending.Add(pendingRemoval{
		IntegrationID: record.HexID(),
		GuildID:       inv.GuildID,
		ChannelID:     channelID,
		UserID:        inv.UserID,
	})
	embed := &discordgo.MessageEmbed{
		Title:       "Remove donation integration?",
		Description: fmt.Sprintf("This permanently deletes the integration for <#%s>. It cannot be undone.", channelID),
		Color:       colorWarn,
	}
	buttons := discordgo.ActionsRow{Components: []discordgo.MessageComponent{
		discordgo.Button{Label: "Confirm", Style: discordgo.DangerButton, CustomID: RemovePrefix + ":" + actionConfirm + ":" + token},
		discordgo.Button{Label: "Cancel", Style: discordgo.SecondaryButton, CustomID: RemovePrefix + ":" + actionCancel + ":" + token},
	}}
	return inv.ReplyEmbed(embed, buttons)
}

// HandleComponent resolves a removal prompt. Only Confirm deletes and each
// prompt resolves once.
func (c *DonationCommand) HandleComponent(ctx context.Context, inv *Invocation) error {
	parts := strings.SplitN(inv.CustomID, ":", 3)
	if len(parts) != 3 {
		return inv.Update("This button is no longer valid.")
	}
	action, token := parts[1], parts[2]

	item, ok := c.pending.Peek(token)
	if !ok {
		return inv.Update("This confirmation expired. Run `/donation remove` again.")
	}
	if item.UserID != inv.UserID {
		return inv.Reply("Only the admin who started this removal can answer it.")
	}
	if _, ok := c.pending.Take(token); !ok {
		return inv.Update("This confirmation expired. Run `/donation remove` again.")
	}

	switch action {
	case actionConfirm:
		err := c.integrations.Delete(ctx, c.actor(inv), item.IntegrationID)
		if core.IsNotFound(err) {
			return inv.Update("That integration was already removed.")
		}
		if err != nil {
			c.logger.Error("integration delete failed", zap.String("id", item.IntegrationID), zap.Error(err))
			return inv.Update("Removal failed. Nothing was deleted, try again later.")
		}
		return inv.Update(fmt.Sprintf("Donation integration for <#%s> removed.", item.ChannelID))
	case actionCancel:
		return inv.Update("Removal cancelled. Nothing was changed.")
	default:
		return inv.Update("This button is no longer valid.")
	}
}

func (c *DonationCommand) test(ctx context.Context, inv *Invocation, options []*discordgo.ApplicationCommandInteractionDataOption) error {
	channelID := optionString(options, "channel")
	if channelID == "" {
		channelID = inv.ChannelID
	}
	record, err := c.integrations.Get(ctx, inv.GuildID, channelID)
	if core.IsNotFound(err) {
		return inv.ReplyEmbed(notConfigured(channelID))
	}
	if err != nil {
		return err
	}
	if !c.tests.Get(inv.GuildID).TryAdd(time.Now(), testLimit) {
		return inv.Reply("Too many test alerts, wait a minute before trying again.")
	}
	if err := c.previewer.Preview(record); err != nil {
		return inv.ReplyEmbed(errorEmbed("Test failed", "Could not post in that channel. Check the bot's permissions."))
	}
	return inv.Reply(fmt.Sprintf("Test alert sent to <#%s>.", channelID))
}

func integrationEmbed(title string, color int, record models.DonationIntegration) *discordgo.MessageEmbed {
	page := record.PageURL
	if page == "" {
		page = "not set"
	}
	return &discordgo.MessageEmbed{
		Title: title,
		Color: color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: "<#" + record.ChannelID + ">", Inline: true},
			{Name: "Status", Value: stateLabel(record), Inline: true},
			{Name: "API key", Value: record.MaskedAPIKey(), Inline: true},
			{Name: "Page", Value: page},
			{Name: "Last checked", Value: lastChecked(record), Inline: true},
			{Name: "Updated", Value: humanize.Time(record.UpdatedAt), Inline: true},
		},
	}
}

func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Title: title, Description: description, Color: colorError}
}

func notConfigured(channelID string) *discordgo.MessageEmbed {
	return errorEmbed("Not configured", fmt.Sprintf("No donation integration for <#%s>.", channelID))
}

func stateLabel(record models.DonationIntegration) string {
	if record.IsActive {
		return "active"
	}
	return "paused"
}

func lastChecked(record models.DonationIntegration) string {
	if record.LastChecked == nil {
		return "never"
	}
	return humanize.Time(*record.LastChecked)
}

func validationMessage(err error) string {
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		return "Invalid input."
	}
	switch verr.Field {
	case "api_key":
		return "An API key is required."
	case "page_url":
		return "The page link must be an http or https URL."
	case "channel_id":
		return "Pick a channel."
	default:
		return "Invalid " + verr.Field + "."
	}
}
