package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/manojkumarsharma/bookstore/models"
)

func (db *DB) CreateOrder(ctx context.Context, o *models.Order) error {
	now := db.now()
	o.CreatedAt, o.UpdatedAt = now, now
	res, err := db.Orders().InsertOne(ctx, o)
	if err != nil {
		return duplicate(err, nil)
	}
	o.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (db *DB) OrderByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	var o models.Order
	err := db.Orders().FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type OrderFilter struct {
	User   primitive.ObjectID
	Status string
}

func (f OrderFilter) bson() bson.M {
	filter := bson.M{}
	if !f.User.IsZero() {
		filter["user"] = f.User
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}

func (db *DB) ListOrders(ctx context.Context, f OrderFilter, page, limit int) ([]models.Order, int64, error) {
	filter := f.bson()
	cur, err := db.Orders().Find(ctx, filter, pageOptions(page, limit).SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	orders := []models.Order{}
	if err := cur.All(ctx, &orders); err != nil {
		return nil, 0, err
	}
	total, err := db.Orders().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// UpdateOrderStatus moves the order from one status to another. It returns nil when the order
// is no longer in from, which means someone else changed it first.
func (db *DB) UpdateOrderStatus(ctx context.Context, id primitive.ObjectID, from, to string, now time.Time) (*models.Order, error) {
	set := bson.M{"status": to, "updatedAt": now}
	for k, v := range models.StatusTimestamps(to, now) {
		set[k] = v
	}
	var o models.Order
	err := db.Orders().FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type OrderStats struct {
	TotalOrders int64            `json:"totalOrders"`
	Revenue     float64          `json:"revenue"`
	ByStatus    map[string]int64 `json:"byStatus"`
}

// OrderStats counts orders per status. Revenue excludes cancelled orders.
func (db *DB) OrderStats(ctx context.Context) (*OrderStats, error) {
	cur, err := db.Orders().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
			"total": bson.M{"$sum": "$total"},
		}}},
	})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status string  `bson:"_id"`
		Count  int64   `bson:"count"`
		Total  float64 `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	stats := &OrderStats{ByStatus: map[string]int64{}}
	for _, s := range models.OrderStatuses {
		stats.ByStatus[s] = 0
	}
	for _, r := range rows {
		stats.ByStatus[r.Status] = r.Count
		stats.TotalOrders += r.Count
		if r.Status != models.OrderCancelled {
			stats.Revenue += r.Total
		}
	}
	stats.Revenue = models.RoundCents(stats.Revenue)
	return stats, nil
}
