package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
)

const orderPageSize = 10

var paymentTypes = []string{"cod", "card", "paypal"}

type OrdersHandler struct {
	Base
	Orders OrderStore
	Mail   Notifier
}

type OrderLine struct {
	BookID   string `json:"bookId" validate:"required,mongodb"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type CreateOrderRequest struct {
	Items           []OrderLine            `json:"items" validate:"omitempty,dive"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   models.PaymentMethod   `json:"paymentMethod"`
	Notes           string                 `json:"notes" validate:"max=500"`
}

// lines merges repeated books and keeps the order in which they first appear.
func lines(req []OrderLine, cart *models.Cart) []models.OrderItem {
	var items []models.OrderItem
	index := map[primitive.ObjectID]int{}
	add := func(id primitive.ObjectID, qty int) {
		if i, ok := index[id]; ok {
			items[i].Quantity += qty
			return
		}
		index[id] = len(items)
		items = append(items, models.OrderItem{Book: id, Quantity: qty})
	}
	if len(req) > 0 {
		for _, l := range req {
			id, _ := primitive.ObjectIDFromHex(l.BookID)
			add(id, l.Quantity)
		}
		return items
	}
	if cart != nil {
		for _, it := range cart.Items {
			add(it.Book, it.Quantity)
		}
	}
	return items
}

// price fills title and unit price from the catalog. Client-side prices are never trusted.
func price(items []models.OrderItem, books map[primitive.ObjectID]models.Book) error {
	for i := range items {
		b, ok := books[items[i].Book]
		if !ok {
			return apperr.Validation(fmt.Sprintf("Book %s is no longer available", items[i].Book.Hex()), "items")
		}
		items[i].Title = b.Title
		items[i].Price = b.Price
	}
	return nil
}

// reserve takes stock for every line or for none of them.
func (h *OrdersHandler) reserve(ctx context.Context, items []models.OrderItem) error {
	for i, it := range items {
		err := h.Orders.ReserveStock(ctx, it.Book, it.Quantity)
		if err == nil {
			continue
		}
		h.release(ctx, items[:i])
		if errors.Is(err, store.ErrInsufficientStock) {
			return apperr.Validation(fmt.Sprintf("Not enough stock for %q", it.Title), "items")
		}
		return err
	}
	return nil
}

func (h *OrdersHandler) release(ctx context.Context, items []models.OrderItem) {
	ctx = context.WithoutCancel(ctx)
	for _, it := range items {
		if err := h.Orders.ReleaseStock(ctx, it.Book, it.Quantity); err != nil {
			h.Log.WithError(err).WithFields(logrus.Fields{"book_id": it.Book.Hex(), "quantity": it.Quantity}).Error("could not release stock")
		}
	}
}

func (h *OrdersHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	pay := strings.ToLower(strings.TrimSpace(req.PaymentMethod.Type))
	if pay == "" {
		pay = "cod"
	}
	if validate.Var(pay, "oneof="+strings.Join(paymentTypes, " ")) != nil {
		h.fail(w, r, apperr.Validation("Invalid payment method", "paymentMethod"))
		return
	}

	ctx := r.Context()
	var cart *models.Cart
	if len(req.Items) == 0 {
		var err error
		if cart, err = h.Orders.CartByUser(ctx, p.ID); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	items := lines(req.Items, cart)
	if len(items) == 0 {
		h.fail(w, r, apperr.Validation("Your cart is empty", "items"))
		return
	}
	ids := make([]primitive.ObjectID, len(items))
	for i, it := range items {
		ids[i] = it.Book
	}
	books, err := h.Orders.BooksByIDs(ctx, ids)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := price(items, books); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.reserve(ctx, items); err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.now()
	order := &models.Order{
		OrderID:         models.NewOrderID(),
		User:            p.ID,
		Items:           items,
		Total:           models.OrderTotal(items),
		Status:          models.OrderPending,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   models.PaymentMethod{Type: pay},
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.Orders.CreateOrder(ctx, order); err != nil {
		h.release(ctx, items)
		h.fail(w, r, err)
		return
	}
	if cart != nil {
		if err := h.Orders.ClearCart(ctx, p.ID); err != nil {
			h.Log.WithError(err).WithField("user_id", p.ID.Hex()).Warn("order placed but cart not cleared")
		}
	}
	metrics.RecordOrderCreated()
	h.Log.WithFields(logrus.Fields{"order": order.OrderID, "user_id": p.ID.Hex(), "total": order.Total}).Info("order placed")

	user := p.User
	h.background(func(ctx context.Context) {
		err := h.Mail.OrderConfirmation(ctx, user, order)
		if err != nil && !errors.Is(err, service.ErrMailDisabled) {
			h.Log.WithError(err).WithField("order", order.OrderID).Error("send order confirmation")
		}
	})
	respond.Created(w, "Order placed successfully", order)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request, f store.OrderFilter) {
	page, limit := store.PageParams(r.URL.Query(), orderPageSize)
	orders, total, err := h.Orders.ListOrders(r.Context(), f, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Page(w, orders, respond.NewPagination(page, limit, total))
}

func (h *OrdersHandler) Mine(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, store.OrderFilter{User: principal(r).ID})
}

func (h *OrdersHandler) load(r *http.Request) (*models.Order, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	order, err := h.Orders.OrderByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperr.NotFound("Order not found")
	}
	return order, nil
}

// Get shows an order to its owner, or to staff.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	if order.User != p.ID && p.Role != models.RoleAdmin {
		h.fail(w, r, apperr.Forbidden("Not authorized to view this order"))
		return
	}
	respond.OK(w, order)
}

// move changes the status only if nobody else changed it first, returning stock when an order is cancelled.
func (h *OrdersHandler) move(ctx context.Context, order *models.Order, to string) (*models.Order, error) {
	updated, err := h.Orders.UpdateOrderStatus(ctx, order.ID, order.Status, to, h.now())
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.New(http.StatusConflict, "Order status changed in the meantime, please reload")
	}
	if to == models.OrderCancelled {
		h.release(ctx, order.Items)
	}
	return updated, nil
}

func (h *OrdersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	order, err := h.load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if order.User != principal(r).ID {
		h.fail(w, r, apperr.Forbidden("Not authorized to cancel this order"))
		return
	}
	if !models.Cancellable(order.Status) {
		h.fail(w, r, apperr.BadRequest(fmt.Sprintf("Order cannot be cancelled once it is %s", order.Status)))
		return
	}
	updated, err := h.move(r.Context(), order, models.OrderCancelled)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.Message(w, "Order cancelled successfully", updated)
}

func (h *OrdersHandler) All(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && validate.Var(status, "oneof="+strings.Join(models.OrderStatuses, " ")) != nil {
		h.fail(w, r, apperr.Validation("Invalid status", "status"))
		return
	}
	h.list(w, r, store.OrderFilter{Status: status})
}

func (h *OrdersHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Orders.OrderStats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond.OK(w, stats)
}

func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.load(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !models.CanTransition(order.Status, req.Status) {
		h.fail(w, r, apperr.Validation(fmt.Sprintf("Cannot change order status from %s to %s", order.Status, req.Status), "status"))
		return
	}
	updated, err := h.move(r.Context(), order, req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.Log.WithFields(logrus.Fields{"order": order.OrderID, "from": order.Status, "to": req.Status}).Info("order status changed")
	respond.Message(w, "Order status updated successfully", updated)
}
