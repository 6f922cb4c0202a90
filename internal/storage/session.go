package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"ctf-assistant/internal/models"
)

func (s *MongoStore) ClearSessionState(ctx context.Context) (bool, error) {
	res, err := s.db.Collection(models.SessionStateCollection).DeleteOne(ctx, bson.M{"_id": models.SessionStateID})
	if err != nil {
		return false, wrapDriverError("delete session state", err)
	}
	return res.DeletedCount > 0, nil
}
