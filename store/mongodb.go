package store

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewMongoDB(ctx context.Context, uri, dbName string, log logrus.FieldLogger) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	log.WithField("database", dbName).Info("Connected to MongoDB")
	return &DB{
		Client:   client,
		Database: client.Database(dbName),
		log:      log,
		now:      time.Now,
	}, nil
}

func (db *DB) Users() *mongo.Collection     { return db.Database.Collection("users") }
func (db *DB) Admins() *mongo.Collection    { return db.Database.Collection("admins") }
func (db *DB) Books() *mongo.Collection     { return db.Database.Collection("books") }
func (db *DB) Orders() *mongo.Collection    { return db.Database.Collection("orders") }
func (db *DB) Carts() *mongo.Collection     { return db.Database.Collection("carts") }
func (db *DB) Settings() *mongo.Collection  { return db.Database.Collection("settings") }
func (db *DB) EmailLogs() *mongo.Collection { return db.Database.Collection("email_logs") }

// caseInsensitive compares strings ignoring case and diacritics.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

// EnsureIndexes creates the indexes the write path relies on for uniqueness.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		db.Books(): {
			{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true).SetName("slug_unique")},
			{Keys: bson.D{{Key: "title", Value: 1}}, Options: options.Index().SetUnique(true).SetName("title_unique_ci").SetCollation(caseInsensitive)},
			{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "author", Value: "text"}, {Key: "description", Value: "text"}}, Options: options.Index().SetName("book_text")},
			{Keys: bson.D{{Key: "genre", Value: 1}}},
			{Keys: bson.D{{Key: "price", Value: 1}}},
			{Keys: bson.D{{Key: "rating", Value: -1}}},
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
		db.Users(): {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "passwordResetToken", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		db.Admins(): {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		db.Carts(): {
			{Keys: bson.D{{Key: "user", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		db.Orders(): {
			{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx, readpref.Primary())
}

func (db *DB) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Client.Disconnect(ctx)
}

func pageOptions(page, limit int) *options.FindOptions {
	return options.Find().SetSkip(int64((page - 1) * limit)).SetLimit(int64(limit))
}
