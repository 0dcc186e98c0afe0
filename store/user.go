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

// casRetries bounds how often a lost compare-and-set on the login counters is retried.
const casRetries = 5

var userDuplicateMessages = map[string]string{
	"email": "User with this email already exists",
}

func (db *DB) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := db.Users().FindOne(ctx, filter).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.findUser(ctx, bson.M{"email": models.NormalizeEmail(email)})
}

func (db *DB) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return db.findUser(ctx, bson.M{"_id": id})
}

func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	res, err := db.Users().InsertOne(ctx, user)
	if err != nil {
		return duplicate(err, userDuplicateMessages)
	}
	user.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// ListUsers pages through users, newest first. search matches name or email.
func (db *DB) ListUsers(ctx context.Context, search, role string, page, limit int) ([]models.User, int64, error) {
	filter := bson.M{}
	if search != "" {
		re := ciRegex(search)
		filter["$or"] = bson.A{bson.M{"name": re}, bson.M{"email": re}}
	}
	if role != "" {
		filter["role"] = role
	}
	cur, err := db.Users().Find(ctx, filter, pageOptions(page, limit).SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)
	users := []models.User{}
	if err := cur.All(ctx, &users); err != nil {
		return nil, 0, err
	}
	total, err := db.Users().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (db *DB) CountUsers(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{})
}

// updateUser applies update and returns the document as stored afterwards, or nil if no user matched.
func (db *DB) updateUser(ctx context.Context, filter bson.M, update bson.M) (*models.User, error) {
	var u models.User
	err := db.Users().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, duplicate(err, userDuplicateMessages)
	}
	return &u, nil
}

func (db *DB) setUser(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.User, error) {
	set["updatedAt"] = db.now()
	return db.updateUser(ctx, bson.M{"_id": id}, bson.M{"$set": set})
}

func (db *DB) UpdateUserProfile(ctx context.Context, id primitive.ObjectID, fields map[string]any) (*models.User, error) {
	return db.setUser(ctx, id, bson.M(fields))
}

func (db *DB) UpdateUserRole(ctx context.Context, id primitive.ObjectID, role string) (*models.User, error) {
	return db.setUser(ctx, id, bson.M{"role": role})
}

func (db *DB) SetUserActive(ctx context.Context, id primitive.ObjectID, active bool) (*models.User, error) {
	return db.setUser(ctx, id, bson.M{"isActive": active})
}

// SetUserPassword stores a new hash and clears any reset token and lock.
func (db *DB) SetUserPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	_, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"password": hash, "loginAttempts": 0, "updatedAt": db.now()},
		"$unset": bson.M{"passwordResetToken": "", "passwordResetExpires": "", "lockUntil": ""},
	})
	return err
}

// RecordFailedLogin bumps the attempt counter with a compare-and-set on its current value,
// so two racing failures cannot both read 4 and write 5. Returns the user as stored afterwards.
func (db *DB) RecordFailedLogin(ctx context.Context, u *models.User, now time.Time) (*models.User, error) {
	for i := 0; i < casRetries; i++ {
		attempts, lock := u.FailedLogin(now)

		filter := bson.M{"_id": u.ID, "loginAttempts": u.LoginAttempts}
		if u.LoginAttempts == 0 {
			// documents created before the counter existed have no field at all
			filter["loginAttempts"] = bson.M{"$in": bson.A{0, nil}}
		}
		update := bson.M{"$set": bson.M{"loginAttempts": attempts, "updatedAt": now}}
		if lock != nil {
			update["$set"].(bson.M)["lockUntil"] = *lock
		} else {
			update["$unset"] = bson.M{"lockUntil": ""}
		}

		updated, err := db.updateUser(ctx, filter, update)
		if err != nil {
			return nil, err
		}
		if updated != nil {
			return updated, nil
		}
		// lost the race; reload and apply on top of the newer count
		if u, err = db.UserByID(ctx, u.ID); err != nil {
			return nil, err
		}
		if u == nil {
			return nil, mongo.ErrNoDocuments
		}
	}
	return u, nil
}

func (db *DB) RecordSuccessfulLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	_, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"loginAttempts": 0, "lastLogin": now},
		"$unset": bson.M{"lockUntil": ""},
	})
	return err
}

// SetPasswordReset stores the hash of a reset token and when it stops being valid.
func (db *DB) SetPasswordReset(ctx context.Context, id primitive.ObjectID, tokenHash string, expires time.Time) error {
	_, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"passwordResetToken": tokenHash, "passwordResetExpires": expires},
	})
	return err
}

// UserByResetToken finds the user holding an unexpired reset token with the given hash.
func (db *DB) UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return db.findUser(ctx, bson.M{
		"passwordResetToken":   tokenHash,
		"passwordResetExpires": bson.M{"$gt": now},
	})
}

func (db *DB) DeleteUser(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := db.Users().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}
