package bot

import (
	"github.com/bwmarrin/discordgo"
)

// Responder sends the interaction response.
type Responder interface {
	Respond(resp *discordgo.InteractionResponse) error
}

type sessionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (r sessionResponder) Respond(resp *discordgo.InteractionResponse) error {
	return r.session.InteractionRespond(r.interaction, resp)
}

// Invocation is one slash command or button click, reduced to what
// handlers need.
type Invocation struct {
	Name        string
	GuildID     string
	ChannelID   string
	UserID      string
	Permissions int64
	Options     []*discordgo.ApplicationCommandInteractionDataOption
	CustomID    string

	responder Responder
	responded bool
}

func invocationFrom(session *discordgo.Session, interaction *discordgo.InteractionCreate) *Invocation {
	inv := &Invocation{
		GuildID:   interaction.GuildID,
		ChannelID: interaction.ChannelID,
		responder: sessionResponder{session: session, interaction: interaction.Interaction},
	}
	if interaction.Member != nil {
		inv.Permissions = interaction.Member.Permissions
		if interaction.Member.User != nil {
			inv.UserID = interaction.Member.User.ID
		}
	} else if interaction.User != nil {
		inv.UserID = interaction.User.ID
	}

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		data := interaction.ApplicationCommandData()
		inv.Name = data.Name
		inv.Options = data.Options
	case discordgo.InteractionMessageComponent:
		inv.CustomID = interaction.MessageComponentData().CustomID
	}
	return inv
}

// Reply answers with an ephemeral text message.
func (inv *Invocation) Reply(content string) error {
	return inv.respond(discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

func (inv *Invocation) ReplyEmbed(embed *discordgo.MessageEmbed, components ...discordgo.MessageComponent) error {
	return inv.respond(discordgo.InteractionResponseChannelMessageWithSource, &discordgo.InteractionResponseData{
		Embeds:     []*discordgo.MessageEmbed{embed},
		Components: components,
		Flags:      discordgo.MessageFlagsEphemeral,
	})
}

// Update replaces the message a button belongs to and removes its buttons.
func (inv *Invocation) Update(content string) error {
	return inv.respond(discordgo.InteractionResponseUpdateMessage, &discordgo.InteractionResponseData{
		Content:    content,
		Embeds:     []*discordgo.MessageEmbed{},
		Components: []discordgo.MessageComponent{},
	})
}

func (inv *Invocation) respond(kind discordgo.InteractionResponseType, data *discordgo.InteractionResponseData) error {
	if inv.responder == nil {
		return nil
	}
	if err := inv.responder.Respond(&discordgo.InteractionResponse{Type: kind, Data: data}); err != nil {
		return err
	}
	inv.responded = true
	return nil
}

// Responded reports whether an interaction response already went out.
// Discord accepts only one.
func (inv *Invocation) Responded() bool {
	return inv.responded
}

// Subcommand returns the first option when it is a subcommand.
func (inv *Invocation) Subcommand() (string, []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(inv.Options) == 0 || inv.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return "", inv.Options
	}
	return inv.Options[0].Name, inv.Options[0].Options
}

func optionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	value, _ := optionLookup(options, name)
	return value
}

// optionLookup reports whether the user supplied the option at all.
func optionLookup(options []*discordgo.ApplicationCommandInteractionDataOption, name string) (string, bool) {
	for _, opt := range options {
		if opt.Name != name {
			continue
		}
		if value, ok := opt.Value.(string); ok {
			return value, true
		}
	}
	return "", false
}

func optionBool(options []*discordgo.ApplicationCommandInteractionDataOption, name string) (bool, bool) {
	for _, opt := range options {
		if opt.Name != name {
			continue
		}
		value, ok := opt.Value.(bool)
		return value, ok
	}
	return false, false
}
