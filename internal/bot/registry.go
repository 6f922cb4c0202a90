package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Command is a slash command. Definition must be stable between calls.
type Command interface {
	Definition() *discordgo.ApplicationCommand
	Execute(ctx context.Context, inv *Invocation) error
}

// ComponentHandler receives button clicks whose custom id starts with the
// prefix it was registered under.
type ComponentHandler interface {
	HandleComponent(ctx context.Context, inv *Invocation) error
}

var ErrUnknownCommand = errors.New("unknown command")

type Registry struct {
	mu         sync.RWMutex
	commands   map[string]Command
	order      []string
	components map[string]ComponentHandler
	logger     *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		commands:   make(map[string]Command),
		components: make(map[string]ComponentHandler),
		logger:     logger,
	}
}

func (r *Registry) Register(cmd Command) error {
	def := cmd.Definition()
	if def == nil || def.Name == "" {
		return errors.New("command definition needs a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[def.Name]; exists {
		return errors.Errorf("command %q already registered", def.Name)
	}
	r.commands[def.Name] = cmd
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) RegisterComponent(prefix string, handler ComponentHandler) error {
	if prefix == "" || strings.Contains(prefix, ":") {
		return errors.Errorf("invalid component prefix %q", prefix)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[prefix]; exists {
		return errors.Errorf("component prefix %q already registered", prefix)
	}
	r.components[prefix] = handler
	return nil
}

func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Definitions returns the command payloads in registration order.
func (r *Registry) Definitions() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*discordgo.ApplicationCommand, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.commands[name].Definition())
	}
	return defs
}

// Dispatch runs a slash command after checking the caller holds the
// command's default member permissions.
func (r *Registry) Dispatch(ctx context.Context, inv *Invocation) error {
	cmd, ok := r.Lookup(inv.Name)
	if !ok {
		_ = inv.Reply("Unknown command.")
		return errors.Wrap(ErrUnknownCommand, inv.Name)
	}

	def := cmd.Definition()
	if required := requiredPermissions(def); required != 0 {
		if inv.GuildID == "" {
			return inv.Reply("This command only works inside a server.")
		}
		if !hasPermissions(inv.Permissions, required) {
			r.logger.Info("command denied", zap.String("command", inv.Name), zap.String("guild_id", inv.GuildID), zap.String("user_id", inv.UserID))
			return inv.Reply("You do not have permission to use this command.")
		}
	}

	if err := cmd.Execute(ctx, inv); err != nil {
		r.logger.Error("command failed", zap.String("command", inv.Name), zap.String("guild_id", inv.GuildID), zap.Error(err))
		if !inv.Responded() {
			_ = inv.Reply(fmt.Sprintf("Something went wrong while running /%s.", inv.Name))
		}
		return err
	}
	return nil
}

func (r *Registry) DispatchComponent(ctx context.Context, inv *Invocation) error {
	prefix, _, _ := strings.Cut(inv.CustomID, ":")
	r.mu.RLock()
	handler, ok := r.components[prefix]
	r.mu.RUnlock()
	if !ok {
		return errors.Errorf("no handler for component %q", inv.CustomID)
	}
	if err := handler.HandleComponent(ctx, inv); err != nil {
		r.logger.Error("component failed", zap.String("custom_id", inv.CustomID), zap.Error(err))
		return err
	}
	return nil
}

func requiredPermissions(def *discordgo.ApplicationCommand) int64 {
	if def == nil || def.DefaultMemberPermissions == nil {
		return 0
	}
	return *def.DefaultMemberPermissions
}

func hasPermissions(granted, required int64) bool {
	if granted&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return granted&required == required
}
