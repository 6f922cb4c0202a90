package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ctf-assistant/internal/models"
)

func (s *MongoStore) AddAuditLog(ctx context.Context, log models.AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now()
	}
	_, err := s.db.Collection(models.AuditLogCollection).InsertOne(ctx, log)
	return wrapDriverError("insert audit log", err)
}

func (s *MongoStore) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]models.AuditLog, error) {
	query := bson.M{"created_at": bson.M{"$gte": since.UTC()}}
	if guildID != "" {
		query["guild_id"] = guildID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.db.Collection(models.AuditLogCollection).Find(ctx, query, opts)
	if err != nil {
		return nil, wrapDriverError("list audit logs", err)
	}
	defer cursor.Close(ctx)

	var logs []models.AuditLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, wrapDriverError("decode audit logs", err)
	}
	return logs, nil
}
