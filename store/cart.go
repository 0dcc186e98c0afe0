package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/manojkumarsharma/bookstore/models"
)

// CartByUser returns the user's cart, or nil if they never had one.
func (db *DB) CartByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	var c models.Cart
	err := db.Carts().FindOne(ctx, bson.M{"user": user}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Items == nil {
		c.Items = []models.CartItem{}
	}
	return &c, nil
}

// SaveCart upserts the cart keyed by its user.
func (db *DB) SaveCart(ctx context.Context, c *models.Cart) error {
	c.UpdatedAt = db.now()
	res, err := db.Carts().UpdateOne(ctx,
		bson.M{"user": c.User},
		bson.M{"$set": bson.M{"items": c.Items, "total": c.Total, "updatedAt": c.UpdatedAt}},
		options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	if id, ok := res.UpsertedID.(primitive.ObjectID); ok {
		c.ID = id
	}
	return nil
}

func (db *DB) ClearCart(ctx context.Context, user primitive.ObjectID) error {
	_, err := db.Carts().UpdateOne(ctx, bson.M{"user": user},
		bson.M{"$set": bson.M{"items": bson.A{}, "total": 0, "updatedAt": db.now()}})
	return err
}
