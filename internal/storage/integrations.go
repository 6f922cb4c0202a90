package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ctf-assistant/internal/core"
	"ctf-assistant/internal/models"
)

func (s *MongoStore) integrations() *mongo.Collection {
	return s.db.Collection(models.DonationIntegrationCollection)
}

func (s *MongoStore) CreateIntegration(ctx context.Context, input models.NewIntegration) (models.DonationIntegration, error) {
	if err := input.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	record := input.Build(s.now())
	record.ID = primitive.NewObjectID()

	if _, err := s.integrations().InsertOne(ctx, record); err != nil {
		return models.DonationIntegration{}, wrapDriverError("insert integration", err)
	}
	return record, nil
}

// GetIntegration prefers the active record for the pair, then the most
// recently updated inactive one.
func (s *MongoStore) GetIntegration(ctx context.Context, guildID, channelID string) (models.DonationIntegration, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "is_active", Value: -1}, {Key: "updated_at", Value: -1}})
	var record models.DonationIntegration
	err := s.integrations().FindOne(ctx, bson.M{"guild_id": guildID, "channel_id": channelID}, opts).Decode(&record)
	if err != nil {
		return models.DonationIntegration{}, wrapDriverError("get integration", err)
	}
	return record, nil
}

func (s *MongoStore) GetIntegrationByID(ctx context.Context, id string) (models.DonationIntegration, error) {
	oid, err := parseID(id)
	if err != nil {
		return models.DonationIntegration{}, err
	}
	var record models.DonationIntegration
	if err := s.integrations().FindOne(ctx, bson.M{"_id": oid}).Decode(&record); err != nil {
		return models.DonationIntegration{}, wrapDriverError("get integration by id", err)
	}
	return record, nil
}

func (s *MongoStore) ListIntegrations(ctx context.Context, filter models.IntegrationFilter) ([]models.DonationIntegration, error) {
	query := bson.M{}
	if filter.GuildID != "" {
		query["guild_id"] = filter.GuildID
	}
	if filter.ActiveOnly {
		query["is_active"] = true
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.integrations().Find(ctx, query, opts)
	if err != nil {
		return nil, wrapDriverError("list integrations", err)
	}
	defer cursor.Close(ctx)

	var records []models.DonationIntegration
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapDriverError("decode integrations", err)
	}
	return records, nil
}

// UpdateIntegration applies update and always advances updated_at; $max keeps
// it from moving backwards when clocks disagree.
func (s *MongoStore) UpdateIntegration(ctx context.Context, id string, update models.IntegrationUpdate) (models.DonationIntegration, error) {
	if err := update.Validate(); err != nil {
		return models.DonationIntegration{}, err
	}
	oid, err := parseID(id)
	if err != nil {
		return models.DonationIntegration{}, err
	}

	update = update.Normalized()
	set := bson.M{}
	if update.APIKey != nil {
		set["api_key"] = *update.APIKey
	}
	if update.PageURL != nil {
		set["page_url"] = *update.PageURL
	}
	if update.IsActive != nil {
		set["is_active"] = *update.IsActive
	}
	doc := bson.M{"$max": bson.M{"updated_at": s.now()}}
	if len(set) > 0 {
		doc["$set"] = set
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var record models.DonationIntegration
	if err := s.integrations().FindOneAndUpdate(ctx, bson.M{"_id": oid}, doc, opts).Decode(&record); err != nil {
		return models.DonationIntegration{}, wrapDriverError("update integration", err)
	}
	return record, nil
}

func (s *MongoStore) MarkChecked(ctx context.Context, id string, at time.Time) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.integrations().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{"last_checked": at.UTC()},
		"$max": bson.M{"updated_at": s.now()},
	})
	if err != nil {
		return wrapDriverError("mark integration checked", err)
	}
	if res.MatchedCount == 0 {
		return errors.Wrap(core.ErrNotFound, "mark integration checked")
	}
	return nil
}

func (s *MongoStore) DeleteIntegration(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := s.integrations().DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return wrapDriverError("delete integration", err)
	}
	if res.DeletedCount == 0 {
		return errors.Wrap(core.ErrNotFound, "delete integration")
	}
	return nil
}

// parseID treats malformed identifiers as unknown ones.
func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errors.Wrapf(core.ErrNotFound, "integration %q", id)
	}
	return oid, nil
}
