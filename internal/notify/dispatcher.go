// Package notify announces donations in Discord channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ctf-assistant/internal/format"
	"ctf-assistant/internal/models"
	"ctf-assistant/internal/platform"
	"ctf-assistant/internal/utils"
)

const maxMessageLength = 1024

// Sender delivers an embed to a channel.
type Sender interface {
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
}

// SessionSender adapts a discordgo session.
type SessionSender struct {
	Session *discordgo.Session
}

func (s SessionSender) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	_, err := s.Session.ChannelMessageSendEmbed(channelID, embed)
	return err
}

type Config struct {
	Color       int
	Currency    string
	BurstLimit  int
	BurstWindow time.Duration
}

type Dispatcher struct {
	cfg    Config
	sender Sender
	logger *zap.Logger
	bursts *utils.KeyedWindows
	now    func() time.Time
}

func NewDispatcher(cfg Config, sender Sender, logger *zap.Logger) *Dispatcher {
	if cfg.BurstLimit <= 0 {
		cfg.BurstLimit = 5
	}
	if cfg.BurstWindow <= 0 {
		cfg.BurstWindow = 5 * time.Second
	}
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		bursts: utils.NewKeyedWindows(cfg.BurstWindow),
		now:    time.Now,
	}
}

// Dispatch announces supports in order. Supports beyond the channel's burst
// allowance are folded into one summary embed. The first send error aborts
// the batch so the caller can keep its checkpoint and retry.
func (d *Dispatcher) Dispatch(ctx context.Context, integration models.DonationIntegration, supports []platform.Support) error {
	window := d.bursts.Get(integration.ChannelID)
	for i, support := range supports {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !window.TryAdd(d.now(), d.cfg.BurstLimit) {
			return d.send(integration, d.SummaryEmbed(integration, supports[i:]))
		}
		if err := d.send(integration, d.SupportEmbed(integration, support)); err != nil {
			return err
		}
	}
	return nil
}

// Preview sends a sample notification, used to verify channel permissions.
func (d *Dispatcher) Preview(integration models.DonationIntegration) error {
	sample := platform.Support{
		SupporterName: "Test supporter",
		Message:       "This is a test notification.",
		Quantity:      1,
		Amount:        decimal.NewFromInt(10000),
		UnitName:      "Coffee",
		UpdatedAt:     d.now().UTC(),
	}
	return d.send(integration, d.SupportEmbed(integration, sample))
}

func (d *Dispatcher) send(integration models.DonationIntegration, embed *discordgo.MessageEmbed) error {
	if err := d.sender.SendEmbed(integration.ChannelID, embed); err != nil {
		d.logger.Warn("donation notification failed", zap.Object("integration", integration), zap.Error(err))
		return err
	}
	return nil
}

func (d *Dispatcher) SupportEmbed(integration models.DonationIntegration, support platform.Support) *discordgo.MessageEmbed {
	name := strings.TrimSpace(support.SupporterName)
	if name == "" {
		name = "Someone"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Amount", Value: format.FormatAmount(d.cfg.Currency, support.Amount.InexactFloat64()), Inline: true},
	}
	if support.Quantity > 0 && support.UnitName != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Item",
			Value:  fmt.Sprintf("%d × %s", support.Quantity, support.UnitName),
			Inline: true,
		})
	}
	if message := strings.TrimSpace(support.Message); message != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Message", Value: truncate(message, maxMessageLength)})
	}

	embed := &discordgo.MessageEmbed{
		Title:  fmt.Sprintf("%s just donated!", name),
		URL:    integration.PageURL,
		Color:  d.cfg.Color,
		Fields: fields,
		Footer: &discordgo.MessageEmbedFooter{Text: "Thank you for supporting us"},
	}
	if !support.UpdatedAt.IsZero() {
		embed.Timestamp = support.UpdatedAt.Format(time.RFC3339)
	}
	return embed
}

func (d *Dispatcher) SummaryEmbed(integration models.DonationIntegration, supports []platform.Support) *discordgo.MessageEmbed {
	total := decimal.Zero
	names := make([]string, 0, len(supports))
	for _, support := range supports {
		total = total.Add(support.Amount)
		if name := strings.TrimSpace(support.SupporterName); name != "" {
			names = append(names, name)
		}
	}
	description := fmt.Sprintf("%d more donations totalling %s", len(supports), format.FormatAmount(d.cfg.Currency, total.InexactFloat64()))
	if len(names) > 0 {
		description += "\nFrom: " + truncate(strings.Join(names, ", "), maxMessageLength)
	}
	return &discordgo.MessageEmbed{
		Title:       "More donations arrived",
		URL:         integration.PageURL,
		Description: description,
		Color:       d.cfg.Color,
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
