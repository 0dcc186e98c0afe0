package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/manojkumarsharma/bookstore/models"
)

// InsertEmailLog records a notification attempt.
func (db *DB) InsertEmailLog(ctx context.Context, log *models.EmailLog) error {
	if log.SentAt.IsZero() {
		log.SentAt = db.now()
	}
	_, err := db.EmailLogs().InsertOne(ctx, log)
	return err
}

func (db *DB) RecentEmailLogs(ctx context.Context, limit int) ([]models.EmailLog, error) {
	cur, err := db.EmailLogs().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	logs := []models.EmailLog{}
	if err := cur.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
