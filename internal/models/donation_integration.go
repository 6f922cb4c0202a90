package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap/zapcore"

	"ctf-assistant/internal/core"
)

const DonationIntegrationCollection = "donationintegrations"

// DonationIntegration links a guild channel to a donation platform account.
// LastChecked is nil until the first successful poll.
type DonationIntegration struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GuildID     string             `bson:"guild_id" json:"guild_id"`
	ChannelID   string             `bson:"channel_id" json:"channel_id"`
	APIKey      string             `bson:"api_key" json:"-"`
	PageURL     string             `bson:"page_url" json:"page_url"`
	IsActive    bool               `bson:"is_active" json:"is_active"`
	LastChecked *time.Time         `bson:"last_checked" json:"last_checked"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time          `bson:"updated_at" json:"updated_at"`
}

// NewIntegration is the admin input for creating a record. A nil IsActive
// creates an active record.
type NewIntegration struct {
	GuildID   string
	ChannelID string
	APIKey    string
	PageURL   string
	IsActive  *bool
}

// IntegrationUpdate holds the fields an admin may change. Nil means unchanged.
type IntegrationUpdate struct {
	APIKey   *string
	PageURL  *string
	IsActive *bool
}

type IntegrationFilter struct {
	GuildID    string
	ActiveOnly bool
}

func (n NewIntegration) Validate() error {
	if strings.TrimSpace(n.GuildID) == "" {
		return core.Required("guild_id")
	}
	if strings.TrimSpace(n.ChannelID) == "" {
		return core.Required("channel_id")
	}
	if strings.TrimSpace(n.APIKey) == "" {
		return core.Required("api_key")
	}
	return nil
}

func (u IntegrationUpdate) Validate() error {
	if u.APIKey != nil && strings.TrimSpace(*u.APIKey) == "" {
		return core.Required("api_key")
	}
	return nil
}

func (u IntegrationUpdate) IsEmpty() bool {
	return u.APIKey == nil && u.PageURL == nil && u.IsActive == nil
}

// Build returns the record a repository should insert for this input.
func (n NewIntegration) Build(now time.Time) DonationIntegration {
	active := true
	if n.IsActive != nil {
		active = *n.IsActive
	}
	return DonationIntegration{
		GuildID:   strings.TrimSpace(n.GuildID),
		ChannelID: strings.TrimSpace(n.ChannelID),
		APIKey:    strings.TrimSpace(n.APIKey),
		PageURL:   strings.TrimSpace(n.PageURL),
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalized returns a copy with string fields trimmed. Every repository
// writes the normalized form.
func (u IntegrationUpdate) Normalized() IntegrationUpdate {
	out := IntegrationUpdate{IsActive: u.IsActive}
	if u.APIKey != nil {
		key := strings.TrimSpace(*u.APIKey)
		out.APIKey = &key
	}
	if u.PageURL != nil {
		page := strings.TrimSpace(*u.PageURL)
		out.PageURL = &page
	}
	return out
}

// Apply mutates the record in place. UpdatedAt never moves backwards.
func (u IntegrationUpdate) Apply(record *DonationIntegration, now time.Time) {
	u = u.Normalized()
	if u.APIKey != nil {
		record.APIKey = *u.APIKey
	}
	if u.PageURL != nil {
		record.PageURL = *u.PageURL
	}
	if u.IsActive != nil {
		record.IsActive = *u.IsActive
	}
	record.Touch(now)
}

func (d *DonationIntegration) Touch(now time.Time) {
	if now.After(d.UpdatedAt) {
		d.UpdatedAt = now
	}
}

func (d DonationIntegration) HexID() string {
	if d.ID.IsZero() {
		return ""
	}
	return d.ID.Hex()
}

// MaskedAPIKey keeps the last four characters for recognition.
func (d DonationIntegration) MaskedAPIKey() string {
	return MaskSecret(d.APIKey)
}

func (d DonationIntegration) NeverChecked() bool {
	return d.LastChecked == nil
}

func (d DonationIntegration) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("id", d.HexID())
	enc.AddString("guild_id", d.GuildID)
	enc.AddString("channel_id", d.ChannelID)
	enc.AddString("api_key", d.MaskedAPIKey())
	enc.AddBool("is_active", d.IsActive)
	if d.LastChecked != nil {
		enc.AddTime("last_checked", *d.LastChecked)
	}
	return nil
}

func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	runes := []rune(secret)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", 8) + string(runes[len(runes)-4:])
}
