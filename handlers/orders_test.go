package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/store"
)

func newOrders(db *dbMock, mail *notifierMock) *OrdersHandler {
	return &OrdersHandler{Base: testBase(), Orders: db, Mail: mail}
}

func address() map[string]any {
	return map[string]any{
		"firstName": "Jane",
		"lastName":  "Doe",
		"address":   "1 Main St",
		"city":      "Springfield",
		"state":     "IL",
		"zipCode":   "62701",
	}
}

func catalog(books ...models.Book) map[primitive.ObjectID]models.Book {
	m := map[primitive.ObjectID]models.Book{}
	for _, b := range books {
		m[b.ID] = b
	}
	return m
}

func TestCreateOrderFromCartUsesCatalogPrices(t *testing.T) {
	db := &dbMock{}
	mail := &notifierMock{}
	u, p := customer()
	one := models.Book{ID: primitive.NewObjectID(), Title: "Book One", Price: 10.5}
	two := models.Book{ID: primitive.NewObjectID(), Title: "Book Two", Price: 4.25}
	cart := &models.Cart{User: u.ID, Items: []models.CartItem{
		{Book: one.ID, Quantity: 2, Price: 1},
		{Book: two.ID, Quantity: 1, Price: 1},
	}}
	db.On("CartByUser", mock.Anything, u.ID).Return(cart, nil)
	db.On("BooksByIDs", mock.Anything, []primitive.ObjectID{one.ID, two.ID}).Return(catalog(one, two), nil)
	db.On("ReserveStock", mock.Anything, one.ID, 2).Return(nil)
	db.On("ReserveStock", mock.Anything, two.ID, 1).Return(nil)
	db.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o *models.Order) bool {
		return o.Total == 25.25 && o.Status == models.OrderPending && o.PaymentMethod.Type == "cod" &&
			o.User == u.ID && o.Items[0].Title == "Book One" && o.Items[0].Price == 10.5
	})).Return(nil)
	db.On("ClearCart", mock.Anything, u.ID).Return(nil)
	mail.On("OrderConfirmation", mock.Anything, u, mock.AnythingOfType("*models.Order")).Return(nil)

	req := as(jsonRequest(t, http.MethodPost, "/orders", map[string]any{"shippingAddress": address()}), p)
	rec := serve(http.MethodPost, "/orders", newOrders(db, mail).Create, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env := decode(t, rec)
	assert.Equal(t, "Order placed successfully", env.Message)
	assert.Regexp(t, `^ORD-[0-9A-F]{8}$`, data(t, env)["orderId"])
	db.AssertExpectations(t)
	mail.AssertExpectations(t)
}

func TestCreateOrderMergesRepeatedLines(t *testing.T) {
	db := &dbMock{}
	mail := &notifierMock{}
	_, p := customer()
	book := models.Book{ID: primitive.NewObjectID(), Title: "Book One", Price: 3}
	db.On("BooksByIDs", mock.Anything, []primitive.ObjectID{book.ID}).Return(catalog(book), nil)
	db.On("ReserveStock", mock.Anything, book.ID, 3).Return(nil)
	db.On("CreateOrder", mock.Anything, mock.MatchedBy(func(o *models.Order) bool {
		return len(o.Items) == 1 && o.Items[0].Quantity == 3 && o.Total == 9 && o.PaymentMethod.Type == "card"
	})).Return(nil)
	mail.On("OrderConfirmation", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	body := map[string]any{
		"items": []map[string]any{
			{"bookId": book.ID.Hex(), "quantity": 1},
			{"bookId": book.ID.Hex(), "quantity": 2},
		},
		"shippingAddress": address(),
		"paymentMethod":   map[string]any{"type": "Card"},
	}
	rec := serve(http.MethodPost, "/orders", newOrders(db, mail).Create, as(jsonRequest(t, http.MethodPost, "/orders", body), p))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	db.AssertNotCalled(t, "CartByUser", mock.Anything, mock.Anything)
	db.AssertNotCalled(t, "ClearCart", mock.Anything, mock.Anything)
}

func TestCreateOrderReleasesStockWhenALineIsShort(t *testing.T) {
	db := &dbMock{}
	_, p := customer()
	one := models.Book{ID: primitive.NewObjectID(), Title: "Book One", Price: 1}
	two := models.Book{ID: primitive.NewObjectID(), Title: "Book Two", Price: 2}
	db.On("BooksByIDs", mock.Anything, mock.Anything).Return(catalog(one, two), nil)
	db.On("ReserveStock", mock.Anything, one.ID, 1).Return(nil)
	db.On("ReserveStock", mock.Anything, two.ID, 3).Return(store.ErrInsufficientStock)
	db.On("ReleaseStock", mock.Anything, one.ID, 1).Return(nil)

	body := map[string]any{
		"items": []map[string]any{
			{"bookId": one.ID.Hex(), "quantity": 1},
			{"bookId": two.ID.Hex(), "quantity": 3},
		},
		"shippingAddress": address(),
	}
	rec := serve(http.MethodPost, "/orders", newOrders(db, nil).Create, as(jsonRequest(t, http.MethodPost, "/orders", body), p))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `Not enough stock for "Book Two"`, decode(t, rec).Message)
	db.AssertCalled(t, "ReleaseStock", mock.Anything, one.ID, 1)
	db.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestCreateOrderValidation(t *testing.T) {
	id := primitive.NewObjectID().Hex()
	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing address", map[string]any{"items": []map[string]any{{"bookId": id, "quantity": 1}}}},
		{"bad book id", map[string]any{"items": []map[string]any{{"bookId": "x", "quantity": 1}}, "shippingAddress": address()}},
		{"zero quantity", map[string]any{"items": []map[string]any{{"bookId": id, "quantity": 0}}, "shippingAddress": address()}},
		{"unknown payment", map[string]any{"items": []map[string]any{{"bookId": id, "quantity": 1}}, "shippingAddress": address(), "paymentMethod": map[string]any{"type": "bitcoin"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := &dbMock{}
			_, p := customer()
			rec := serve(http.MethodPost, "/orders", newOrders(db, nil).Create, as(jsonRequest(t, http.MethodPost, "/orders", tc.body), p))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			db.AssertNotCalled(t, "ReserveStock", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateOrderEmptyCart(t *testing.T) {
	db := &dbMock{}
	u, p := customer()
	db.On("CartByUser", mock.Anything, u.ID).Return(nil, nil)

	req := as(jsonRequest(t, http.MethodPost, "/orders", map[string]any{"shippingAddress": address()}), p)
	rec := serve(http.MethodPost, "/orders", newOrders(db, nil).Create, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Your cart is empty", decode(t, rec).Message)
}

func placed(owner primitive.ObjectID, status string) *models.Order {
	return &models.Order{
		ID:      primitive.NewObjectID(),
		OrderID: "ORD-12345678",
		User:    owner,
		Status:  status,
		Items:   []models.OrderItem{{Book: primitive.NewObjectID(), Title: "Book One", Quantity: 2, Price: 5}},
		Total:   10,
	}
}

func TestCancelOrder(t *testing.T) {
	u, p := customer()
	_, stranger := customer()

	t.Run("owner", func(t *testing.T) {
		db := &dbMock{}
		order := placed(u.ID, models.OrderPending)
		cancelled := *order
		cancelled.Status = models.OrderCancelled
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)
		db.On("UpdateOrderStatus", mock.Anything, order.ID, models.OrderPending, models.OrderCancelled, fixedNow).Return(&cancelled, nil)
		db.On("ReleaseStock", mock.Anything, order.Items[0].Book, 2).Return(nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/cancel", nil), p)
		rec := serve(http.MethodPut, "/orders/{id}/cancel", newOrders(db, nil).Cancel, req)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, models.OrderCancelled, data(t, decode(t, rec))["status"])
		db.AssertExpectations(t)
	})

	t.Run("someone else", func(t *testing.T) {
		db := &dbMock{}
		order := placed(u.ID, models.OrderPending)
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/cancel", nil), stranger)
		rec := serve(http.MethodPut, "/orders/{id}/cancel", newOrders(db, nil).Cancel, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("already shipped", func(t *testing.T) {
		db := &dbMock{}
		order := placed(u.ID, models.OrderShipped)
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/cancel", nil), p)
		rec := serve(http.MethodPut, "/orders/{id}/cancel", newOrders(db, nil).Cancel, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Order cannot be cancelled once it is Shipped", decode(t, rec).Message)
		db.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGetOrderVisibility(t *testing.T) {
	owner, p := customer()
	_, stranger := customer()
	_, staff := customer()
	staff.Role = models.RoleAdmin
	db := &dbMock{}
	order := placed(owner.ID, models.OrderPending)
	db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)
	h := newOrders(db, nil)

	code := func(r *http.Request) int {
		return serve(http.MethodGet, "/orders/{id}", h.Get, r).Code
	}
	target := "/orders/" + order.ID.Hex()
	assert.Equal(t, http.StatusOK, code(as(jsonRequest(t, http.MethodGet, target, nil), p)))
	assert.Equal(t, http.StatusForbidden, code(as(jsonRequest(t, http.MethodGet, target, nil), stranger)))
	assert.Equal(t, http.StatusOK, code(as(jsonRequest(t, http.MethodGet, target, nil), staff)))
}

func TestUpdateOrderStatus(t *testing.T) {
	_, admin := backOffice()

	t.Run("illegal transition", func(t *testing.T) {
		db := &dbMock{}
		order := placed(primitive.NewObjectID(), models.OrderPending)
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/status", map[string]string{"status": models.OrderDelivered}), admin)
		rec := serve(http.MethodPut, "/orders/{id}/status", newOrders(db, nil).UpdateStatus, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Cannot change order status from Pending to Delivered", decode(t, rec).Message)
	})

	t.Run("changed concurrently", func(t *testing.T) {
		db := &dbMock{}
		order := placed(primitive.NewObjectID(), models.OrderPending)
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)
		db.On("UpdateOrderStatus", mock.Anything, order.ID, models.OrderPending, models.OrderProcessing, fixedNow).Return(nil, nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/status", map[string]string{"status": models.OrderProcessing}), admin)
		rec := serve(http.MethodPut, "/orders/{id}/status", newOrders(db, nil).UpdateStatus, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("ships", func(t *testing.T) {
		db := &dbMock{}
		order := placed(primitive.NewObjectID(), models.OrderProcessing)
		shipped := *order
		shipped.Status = models.OrderShipped
		db.On("OrderByID", mock.Anything, order.ID).Return(order, nil)
		db.On("UpdateOrderStatus", mock.Anything, order.ID, models.OrderProcessing, models.OrderShipped, fixedNow).Return(&shipped, nil)

		req := as(jsonRequest(t, http.MethodPut, "/orders/"+order.ID.Hex()+"/status", map[string]string{"status": models.OrderShipped}), admin)
		rec := serve(http.MethodPut, "/orders/{id}/status", newOrders(db, nil).UpdateStatus, req)

		require.Equal(t, http.StatusOK, rec.Code)
		db.AssertNotCalled(t, "ReleaseStock", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestListOrders(t *testing.T) {
	u, p := customer()
	db := &dbMock{}
	db.On("ListOrders", mock.Anything, store.OrderFilter{User: u.ID}, 1, orderPageSize).Return([]models.Order{}, int64(0), nil)
	db.On("ListOrders", mock.Anything, store.OrderFilter{Status: models.OrderShipped}, 2, 5).Return([]models.Order{}, int64(6), nil)
	h := newOrders(db, nil)

	rec := serve(http.MethodGet, "/orders/mine", h.Mine, as(jsonRequest(t, http.MethodGet, "/orders/mine", nil), p))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(http.MethodGet, "/orders/all", h.All, jsonRequest(t, http.MethodGet, "/orders/all?status=Shipped&page=2&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode(t, rec).Pagination.TotalPages)

	rec = serve(http.MethodGet, "/orders/all", h.All, jsonRequest(t, http.MethodGet, "/orders/all?status=Lost", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	db.AssertExpectations(t)
}
