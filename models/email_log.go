package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	EmailOrderConfirmation = "order_confirmation"
	EmailPasswordReset     = "password_reset"
)

// EmailLog records one notification attempt, successful or not.
type EmailLog struct {
	ID      primitive.ObjectID  `bson:"_id,omitempty" json:"_id"`
	Kind    string              `bson:"kind" json:"kind"`
	To      string              `bson:"to" json:"to"`
	Subject string              `bson:"subject" json:"subject"`
	UserID  *primitive.ObjectID `bson:"userId,omitempty" json:"userId,omitempty"`
	OrderID string              `bson:"orderId,omitempty" json:"orderId,omitempty"`
	Error   string              `bson:"error,omitempty" json:"error,omitempty"`
	SentAt  time.Time           `bson:"sentAt" json:"sentAt"`
}
