package handlers

import (
	"context"
	"fmt"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
)

type CartHandler struct {
	Base
	Carts CartStore
}

func (h *CartHandler) load(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	cart, err := h.Carts.CartByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		cart = models.NewCart(user)
	}
	return cart, nil
}

func (h *CartHandler) save(ctx context.Context, cart *models.Cart) error {
	cart.UpdatedAt = h.now()
	return h.Carts.SaveCart(ctx, cart)
}

// inStock fails when the cart would hold more copies than the shelf has.
func inStock(book *models.Book, want int) error {
	if want > book.Stock {
		return apperr.Validation(fmt.Sprintf("Only %d copies of %q are in stock", book.Stock, book.Title), "quantity")
	}
	return nil
}

func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	cart, err := h.load(r.Context(), principal(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, cart)
}

type AddToCartRequest struct {
	BookID   string `json:"bookId" validate:"required,mongodb"`
	Quantity int    `json:"quantity" validate:"gte=0"`
}

func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	id, _ := primitive.ObjectIDFromHex(req.BookID)
	book, err := h.Carts.BookByID(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if book == nil {
		h.fail(w, r, apperr.NotFound("Book not found"))
		return
	}
	cart, err := h.load(r.Context(), principal(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := inStock(book, cart.Quantity(book.ID)+req.Quantity); err != nil {
		h.fail(w, r, err)
		return
	}
	cart.Add(book, req.Quantity)
	if err := h.save(r.Context(), cart); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Item added to cart", cart)
}

// Update sets the quantity of a line; zero removes it.
func (h *CartHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Quantity *int `json:"quantity" validate:"required,gte=0"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	cart, err := h.load(r.Context(), principal(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cart.Quantity(id) == 0 {
		h.fail(w, r, apperr.NotFound("Item not found in cart"))
		return
	}
	if *req.Quantity > 0 {
		book, err := h.Carts.BookByID(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if book == nil {
			h.fail(w, r, apperr.NotFound("Book not found"))
			return
		}
		if err := inStock(book, *req.Quantity); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	cart.SetQuantity(id, *req.Quantity)
	if err := h.save(r.Context(), cart); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Cart updated", cart)
}

func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	cart, err := h.load(r.Context(), principal(r).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !cart.Remove(id) {
		h.fail(w, r, apperr.NotFound("Item not found in cart"))
		return
	}
	if err := h.save(r.Context(), cart); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Item removed from cart", cart)
}

func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	user := principal(r).ID
	if err := h.Carts.ClearCart(r.Context(), user); err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Cart cleared", models.NewCart(user))
}
