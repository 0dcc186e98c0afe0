package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CartItem struct {
	Book     primitive.ObjectID `bson:"book" json:"book"`
	Title    string             `bson:"title" json:"title"`
	Quantity int                `bson:"quantity" json:"quantity"`
	Price    float64            `bson:"price" json:"price"`
}

// Cart is the single open basket of a user.
type Cart struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	User      primitive.ObjectID `bson:"user" json:"user"`
	Items     []CartItem         `bson:"items" json:"items"`
	Total     float64            `bson:"total" json:"total"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func NewCart(user primitive.ObjectID) *Cart {
	return &Cart{User: user, Items: []CartItem{}}
}

func (c *Cart) find(book primitive.ObjectID) int {
	for i, it := range c.Items {
		if it.Book == book {
			return i
		}
	}
	return -1
}

// Add puts quantity copies of book in the cart, merging with an existing line and refreshing its price.
func (c *Cart) Add(book *Book, quantity int) {
	if i := c.find(book.ID); i >= 0 {
		c.Items[i].Quantity += quantity
		c.Items[i].Price = book.Price
		c.Items[i].Title = book.Title
	} else {
		c.Items = append(c.Items, CartItem{Book: book.ID, Title: book.Title, Quantity: quantity, Price: book.Price})
	}
	c.Recalculate()
}

// SetQuantity changes a line's quantity; zero or less removes it. Returns false if the book is not in the cart.
func (c *Cart) SetQuantity(book primitive.ObjectID, quantity int) bool {
	i := c.find(book)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
	} else {
		c.Items[i].Quantity = quantity
	}
	c.Recalculate()
	return true
}

func (c *Cart) Remove(book primitive.ObjectID) bool {
	return c.SetQuantity(book, 0)
}

// Quantity returns how many copies of book are already in the cart.
func (c *Cart) Quantity(book primitive.ObjectID) int {
	if i := c.find(book); i >= 0 {
		return c.Items[i].Quantity
	}
	return 0
}

func (c *Cart) Recalculate() {
	var total float64
	for _, it := range c.Items {
		total += it.Price * float64(it.Quantity)
	}
	c.Total = RoundCents(total)
}
