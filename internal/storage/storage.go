package storage

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
)

const defaultDatabase = "ctf-bot"

// Repository is the persistence contract shared by the bot, the poller,
// the dashboard and the maintenance tool.
type Repository interface {
	IntegrationRepository
	SessionRepository
	AuditRepository
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type IntegrationRepository interface {
	CreateIntegration(ctx context.Context, input models.NewIntegration) (models.DonationIntegration, error)
	GetIntegration(ctx context.Context, guildID, channelID string) (models.DonationIntegration, error)
	GetIntegrationByID(ctx context.Context, id string) (models.DonationIntegration, error)
	ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.DonationIntegration, error)
	UpdateIntegration(ctx context.Context, id string, update models.IntegrationUpdate) (models.DonationIntegration, error)
	MarkChecked(ctx context.Context, id string, at time.Time) error
	DeleteIntegration(ctx context.Context, id string) error
}

type SessionRepository interface {
	// ClearSessionState reports whether a session document was removed.
	ClearSessionState(ctx context.Context) (bool, error)
}

type AuditRepository interface {
	AddAuditLog(ctx context.Context, log models.AuditLog) error
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]models.AuditLog, error)
}

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// New connects to uri and pings the primary. The database name is taken
// from the URI path and falls back to ctf-bot.
func New(ctx context.Context, uri string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &core.StorageError{Op: "connect", Err: errors.WithStack(err)}
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &core.StorageError{Op: "ping", Err: errors.WithStack(err)}
	}
	return &MongoStore{
		client: client,
		db:     client.Database(DatabaseName(uri)),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}, nil
}

func DatabaseName(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}
	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultDatabase
	}
	return name
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return &core.StorageError{Op: "ping", Err: errors.WithStack(err)}
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return &core.StorageError{Op: "disconnect", Err: errors.WithStack(err)}
	}
	return nil
}

// EnsureIndexes creates the indexes the repository relies on. At most one
// active integration may exist per guild channel.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	integrations := s.db.Collection(models.DonationIntegrationCollection)
	_, err := integrations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "channel_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_guild_channel").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"is_active": true}),
		},
		{
			Keys:    bson.D{{Key: "is_active", Value: 1}, {Key: "last_checked", Value: 1}},
			Options: options.Index().SetName("active_last_checked"),
		},
	})
	if err != nil {
		return &core.StorageError{Op: "create integration indexes", Err: errors.WithStack(err)}
	}

	audit := s.db.Collection(models.AuditLogCollection)
	_, err = audit.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "guild_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("guild_created_at"),
	})
	if err != nil {
		return &core.StorageError{Op: "create audit indexes", Err: errors.WithStack(err)}
	}
	return nil
}

func wrapDriverError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errors.Wrap(core.ErrNotFound, op)
	case mongo.IsDuplicateKeyError(err):
		return errors.Wrap(core.ErrConflict, op)
	default:
		return &core.StorageError{Op: op, Err: errors.WithStack(err)}
	}
}

var (
	_ Repository = (*MongoStore)(nil)
	_ Repository = (*MemoryStore)(nil)
)
