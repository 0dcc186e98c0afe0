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

var adminDuplicateMessages = map[string]string{
	"email": "Admin with this email already exists",
}

func (db *DB) findAdmin(ctx context.Context, filter bson.M) (*models.Admin, error) {
	var a models.Admin
	err := db.Admins().FindOne(ctx, filter).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (db *DB) AdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return db.findAdmin(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

func (db *DB) AdminByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error) {
	return db.findAdmin(ctx, bson.M{"_id": id})
}

func (db *DB) CreateAdmin(ctx context.Context, admin *models.Admin) error {
	res, err := db.Admins().InsertOne(ctx, admin)
	if err != nil {
		return duplicate(err, adminDuplicateMessages)
	}
	admin.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (db *DB) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	cur, err := db.Admins().Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"createdAt": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	admins := []models.Admin{}
	if err := cur.All(ctx, &admins); err != nil {
		return nil, err
	}
	return admins, nil
}

// UpdateAdmin sets the given fields and returns the stored admin, or nil if none matched.
func (db *DB) UpdateAdmin(ctx context.Context, id primitive.ObjectID, set map[string]any) (*models.Admin, error) {
	fields := bson.M(set)
	fields["updatedAt"] = db.now()
	var a models.Admin
	err := db.Admins().FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": fields},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&a)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, duplicate(err, adminDuplicateMessages)
	}
	return &a, nil
}

func (db *DB) DeleteAdmin(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := db.Admins().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (db *DB) CountAdmins(ctx context.Context) (int64, error) {
	return db.Admins().CountDocuments(ctx, bson.M{})
}

func (db *DB) TouchAdminLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := db.Admins().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"lastLogin": now}})
	return err
}

// EnsureDefaultAdmin creates the configured admin when the collection is empty, so a fresh
// deployment can sign in to the back office. Reports whether an account was created.
func (db *DB) EnsureDefaultAdmin(ctx context.Context, name, email, password string) (bool, error) {
	n, err := db.CountAdmins(ctx)
	if err != nil || n > 0 {
		return false, err
	}
	admin, err := models.NewAdmin(name, email, password, db.now())
	if err != nil {
		return false, err
	}
	if err := db.CreateAdmin(ctx, admin); err != nil {
		// another instance seeded it first
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	db.log.WithField("email", admin.Email).Info("Seeded default admin")
	return true, nil
}
