package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Admin is a back-office account, separate from User. Its role is always admin.
type Admin struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name      string             `bson:"name" json:"name"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"`
	Role      string             `bson:"role" json:"role"`
	LastLogin *time.Time         `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func NewAdmin(name, email, password string, now time.Time) (*Admin, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Admin{
		Name:      strings.TrimSpace(name),
		Email:     NormalizeEmail(email),
		Password:  hash,
		Role:      RoleAdmin,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (a *Admin) CheckPassword(password string) bool {
	return CheckPassword(a.Password, password)
}
