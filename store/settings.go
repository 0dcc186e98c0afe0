package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/manojkumarsharma/bookstore/models"
)

// settingsID is the _id of the single settings document.
const settingsID = "store"

// GetSettings returns the saved settings, or nil if nothing was saved yet.
func (db *DB) GetSettings(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := db.Settings().FindOne(ctx, bson.M{"_id": settingsID}).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (db *DB) SaveSettings(ctx context.Context, s *models.Settings) error {
	s.UpdatedAt = db.now()
	_, err := db.Settings().UpdateOne(ctx, bson.M{"_id": settingsID}, bson.M{"$set": s}, options.Update().SetUpsert(true))
	return err
}
