package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ctf-assistant/internal/config"
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	session  *discordgo.Session
	registry *Registry
}

func New(cfg config.Config, logger *zap.Logger, registry *Registry) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		cfg:      cfg,
		logger:   logger,
		session:  session,
		registry: registry,
	}, nil
}

// Session is exposed so notifications can share the gateway connection.
func (b *Bot) Session() *discordgo.Session {
	return b.session
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return errors.Wrap(err, "open discord session")
	}

	api := sessionCommands{session: b.session, appID: b.session.State.User.ID}
	if err := syncCommands(api, b.cfg.Commands.GuildID, b.registry.Definitions(), b.logger); err != nil {
		return errors.Wrap(err, "sync commands")
	}
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	ctx := context.Background()
	inv := invocationFrom(session, interaction)

	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		_ = b.registry.Dispatch(ctx, inv)
	case discordgo.InteractionMessageComponent:
		_ = b.registry.DispatchComponent(ctx, inv)
	}
}
