package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// commandAPI is the slice of the Discord REST API used to sync commands.
type commandAPI interface {
	List(guildID string) ([]*discordgo.ApplicationCommand, error)
	Create(guildID string, cmd *discordgo.ApplicationCommand) error
	Edit(guildID, commandID string, cmd *discordgo.ApplicationCommand) error
	Delete(guildID, commandID string) error
}

type sessionCommands struct {
	session *discordgo.Session
	appID   string
}

func (s sessionCommands) List(guildID string) ([]*discordgo.ApplicationCommand, error) {
	return s.session.ApplicationCommands(s.appID, guildID)
}

func (s sessionCommands) Create(guildID string, cmd *discordgo.ApplicationCommand) error {
	_, err := s.session.ApplicationCommandCreate(s.appID, guildID, cmd)
	return err
}

func (s sessionCommands) Edit(guildID, commandID string, cmd *discordgo.ApplicationCommand) error {
	_, err := s.session.ApplicationCommandEdit(s.appID, guildID, commandID, cmd)
	return err
}

func (s sessionCommands) Delete(guildID, commandID string) error {
	return s.session.ApplicationCommandDelete(s.appID, guildID, commandID)
}

// syncCommands makes the registered commands in scope match desired:
// existing ones are edited, missing ones created and stale ones deleted.
// An empty guildID targets global commands.
func syncCommands(api commandAPI, guildID string, desired []*discordgo.ApplicationCommand, logger *zap.Logger) error {
	existing, err := api.List(guildID)
	if err != nil {
		logger.Warn("listing commands failed, creating all", zap.String("guild_id", guildID), zap.Error(err))
		for _, cmd := range desired {
			if err := api.Create(guildID, cmd); err != nil {
				return errors.Wrapf(err, "create command %s", cmd.Name)
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	wanted := make(map[string]struct{}, len(desired))
	for _, cmd := range desired {
		wanted[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if err := api.Edit(guildID, current.ID, cmd); err != nil {
				return errors.Wrapf(err, "edit command %s", cmd.Name)
			}
			continue
		}
		if err := api.Create(guildID, cmd); err != nil {
			return errors.Wrapf(err, "create command %s", cmd.Name)
		}
	}

	for _, cmd := range existing {
		if _, ok := wanted[cmd.Name]; ok {
			continue
		}
		if err := api.Delete(guildID, cmd.ID); err != nil {
			logger.Warn("deleting stale command failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}

	logger.Info("commands synced", zap.String("guild_id", guildID), zap.Int("count", len(desired)))
	return nil
}
