package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	OrderPending    = "Pending"
	OrderProcessing = "Processing"
	OrderShipped    = "Shipped"
	OrderDelivered  = "Delivered"
	OrderCancelled  = "Cancelled"
)

var OrderStatuses = []string{OrderPending, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled}

// orderTransitions lists the statuses reachable from each status. Delivered and Cancelled are terminal.
var orderTransitions = map[string][]string{
	OrderPending:    {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered},
}

func CanTransition(from, to string) bool {
	return contains(orderTransitions[from], to)
}

// Cancellable reports whether the customer may still cancel.
func Cancellable(status string) bool {
	return status == OrderPending || status == OrderProcessing
}

type OrderItem struct {
	Book     primitive.ObjectID `bson:"book" json:"book"`
	Title    string             `bson:"title" json:"title"`
	Quantity int                `bson:"quantity" json:"quantity"`
	Price    float64            `bson:"price" json:"price"`
}

type ShippingAddress struct {
	FirstName string `bson:"firstName" json:"firstName" validate:"required"`
	LastName  string `bson:"lastName" json:"lastName" validate:"required"`
	Address   string `bson:"address" json:"address" validate:"required"`
	City      string `bson:"city" json:"city" validate:"required"`
	State     string `bson:"state" json:"state" validate:"required"`
	ZipCode   string `bson:"zipCode" json:"zipCode" validate:"required"`
	Country   string `bson:"country" json:"country"`
	Phone     string `bson:"phone" json:"phone"`
}

type PaymentMethod struct {
	Type string `bson:"type" json:"type"`
}

type Order struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	OrderID         string             `bson:"orderId" json:"orderId"`
	User            primitive.ObjectID `bson:"user" json:"user"`
	Items           []OrderItem        `bson:"items" json:"items"`
	Total           float64            `bson:"total" json:"total"`
	Status          string             `bson:"status" json:"status"`
	ShippingAddress ShippingAddress    `bson:"shippingAddress" json:"shippingAddress"`
	PaymentMethod   PaymentMethod      `bson:"paymentMethod" json:"paymentMethod"`
	Notes           string             `bson:"notes,omitempty" json:"notes,omitempty"`
	ShippedAt       *time.Time         `bson:"shippedAt,omitempty" json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time         `bson:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt     *time.Time         `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// NewOrderID returns a short customer-facing reference like ORD-1A2B3C4D.
func NewOrderID() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// OrderTotal sums line totals, rounded to cents.
func OrderTotal(items []OrderItem) float64 {
	var total float64
	for _, it := range items {
		total += it.Price * float64(it.Quantity)
	}
	return RoundCents(total)
}

func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// StatusTimestamps returns the extra fields stamped when an order enters status.
func StatusTimestamps(status string, now time.Time) map[string]any {
	switch status {
	case OrderShipped:
		return map[string]any{"shippedAt": now}
	case OrderDelivered:
		return map[string]any{"deliveredAt": now}
	case OrderCancelled:
		return map[string]any{"cancelledAt": now}
	}
	return nil
}
