package audit

import (
	"context"
	"time"

	"ctf-assistant/internal/models"
	"ctf-assistant/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventIntegrationCreated = "integration_created"
	EventIntegrationUpdated = "integration_updated"
	EventIntegrationDeleted = "integration_deleted"
	EventSessionCleared     = "session_cleared"
)

type Logger struct {
	store  storage.AuditRepository
	logger *zap.Logger
}

func NewLogger(store storage.AuditRepository, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger}
}

// Log persists the entry and mirrors it to the process log. Persistence
// failures are logged, not returned: auditing never blocks an admin action.
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := models.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit persist failed", zap.String("event", event), zap.Error(err))
		}
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
