package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/logging"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testBase() Base {
	return Base{
		Log:   logging.Discard(),
		Clock: func() time.Time { return fixedNow },
		Async: func(f func()) { f() },
	}
}

// dbMock stands in for *store.DB behind every store interface the handlers use.
type dbMock struct{ mock.Mock }

func (m *dbMock) ListBooks(ctx context.Context, q store.BookQuery) ([]models.Book, int64, error) {
	args := m.Called(ctx, q)
	books, _ := args.Get(0).([]models.Book)
	return books, args.Get(1).(int64), args.Error(2)
}

func (m *dbMock) HighlightBooks(ctx context.Context, kind string) ([]models.Book, error) {
	args := m.Called(ctx, kind)
	books, _ := args.Get(0).([]models.Book)
	return books, args.Error(1)
}

func (m *dbMock) BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*models.Book)
	return b, args.Error(1)
}

func (m *dbMock) BookBySlug(ctx context.Context, slug string) (*models.Book, error) {
	args := m.Called(ctx, slug)
	b, _ := args.Get(0).(*models.Book)
	return b, args.Error(1)
}

func (m *dbMock) CreateBook(ctx context.Context, b *models.Book) error {
	return m.Called(ctx, b).Error(0)
}

func (m *dbMock) UpdateBook(ctx context.Context, b *models.Book, reslug bool) error {
	return m.Called(ctx, b, reslug).Error(0)
}

func (m *dbMock) DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*models.Book)
	return b, args.Error(1)
}

func (m *dbMock) BookStats(ctx context.Context) (*store.BookStats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*store.BookStats)
	return s, args.Error(1)
}

func (m *dbMock) TitleTaken(ctx context.Context, title string, exclude primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, title, exclude)
	return args.Bool(0), args.Error(1)
}

func (m *dbMock) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) CreateUser(ctx context.Context, u *models.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *dbMock) ListUsers(ctx context.Context, search, role string, page, limit int) ([]models.User, int64, error) {
	args := m.Called(ctx, search, role, page, limit)
	users, _ := args.Get(0).([]models.User)
	return users, args.Get(1).(int64), args.Error(2)
}

func (m *dbMock) UpdateUserProfile(ctx context.Context, id primitive.ObjectID, fields map[string]any) (*models.User, error) {
	args := m.Called(ctx, id, fields)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) UpdateUserRole(ctx context.Context, id primitive.ObjectID, role string) (*models.User, error) {
	args := m.Called(ctx, id, role)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) SetUserActive(ctx context.Context, id primitive.ObjectID, active bool) (*models.User, error) {
	args := m.Called(ctx, id, active)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) SetUserPassword(ctx context.Context, id primitive.ObjectID, hash string) error {
	return m.Called(ctx, id, hash).Error(0)
}

func (m *dbMock) RecordFailedLogin(ctx context.Context, u *models.User, now time.Time) (*models.User, error) {
	args := m.Called(ctx, u, now)
	out, _ := args.Get(0).(*models.User)
	return out, args.Error(1)
}

func (m *dbMock) RecordSuccessfulLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

func (m *dbMock) SetPasswordReset(ctx context.Context, id primitive.ObjectID, tokenHash string, expires time.Time) error {
	return m.Called(ctx, id, tokenHash, expires).Error(0)
}

func (m *dbMock) UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	args := m.Called(ctx, tokenHash, now)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *dbMock) DeleteUser(ctx context.Context, id primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *dbMock) AdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	args := m.Called(ctx, email)
	a, _ := args.Get(0).(*models.Admin)
	return a, args.Error(1)
}

func (m *dbMock) AdminByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*models.Admin)
	return a, args.Error(1)
}

func (m *dbMock) CreateAdmin(ctx context.Context, a *models.Admin) error {
	return m.Called(ctx, a).Error(0)
}

func (m *dbMock) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	args := m.Called(ctx)
	admins, _ := args.Get(0).([]models.Admin)
	return admins, args.Error(1)
}

func (m *dbMock) UpdateAdmin(ctx context.Context, id primitive.ObjectID, set map[string]any) (*models.Admin, error) {
	args := m.Called(ctx, id, set)
	a, _ := args.Get(0).(*models.Admin)
	return a, args.Error(1)
}

func (m *dbMock) DeleteAdmin(ctx context.Context, id primitive.ObjectID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *dbMock) CountAdmins(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *dbMock) TouchAdminLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error {
	return m.Called(ctx, id, now).Error(0)
}

func (m *dbMock) CountUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *dbMock) GetSettings(ctx context.Context) (*models.Settings, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*models.Settings)
	return s, args.Error(1)
}

func (m *dbMock) SaveSettings(ctx context.Context, s *models.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func (m *dbMock) RecentEmailLogs(ctx context.Context, limit int) ([]models.EmailLog, error) {
	args := m.Called(ctx, limit)
	logs, _ := args.Get(0).([]models.EmailLog)
	return logs, args.Error(1)
}

func (m *dbMock) CartByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error) {
	args := m.Called(ctx, user)
	c, _ := args.Get(0).(*models.Cart)
	return c, args.Error(1)
}

func (m *dbMock) SaveCart(ctx context.Context, c *models.Cart) error {
	return m.Called(ctx, c).Error(0)
}

func (m *dbMock) ClearCart(ctx context.Context, user primitive.ObjectID) error {
	return m.Called(ctx, user).Error(0)
}

func (m *dbMock) BooksByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Book, error) {
	args := m.Called(ctx, ids)
	books, _ := args.Get(0).(map[primitive.ObjectID]models.Book)
	return books, args.Error(1)
}

func (m *dbMock) ReserveStock(ctx context.Context, id primitive.ObjectID, qty int) error {
	return m.Called(ctx, id, qty).Error(0)
}

func (m *dbMock) ReleaseStock(ctx context.Context, id primitive.ObjectID, qty int) error {
	return m.Called(ctx, id, qty).Error(0)
}

func (m *dbMock) CreateOrder(ctx context.Context, o *models.Order) error {
	return m.Called(ctx, o).Error(0)
}

func (m *dbMock) OrderByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error) {
	args := m.Called(ctx, id)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *dbMock) ListOrders(ctx context.Context, f store.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	args := m.Called(ctx, f, page, limit)
	orders, _ := args.Get(0).([]models.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *dbMock) UpdateOrderStatus(ctx context.Context, id primitive.ObjectID, from, to string, now time.Time) (*models.Order, error) {
	args := m.Called(ctx, id, from, to, now)
	o, _ := args.Get(0).(*models.Order)
	return o, args.Error(1)
}

func (m *dbMock) OrderStats(ctx context.Context) (*store.OrderStats, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*store.OrderStats)
	return s, args.Error(1)
}

type notifierMock struct{ mock.Mock }

func (m *notifierMock) OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error {
	return m.Called(ctx, user, order).Error(0)
}

func (m *notifierMock) PasswordReset(ctx context.Context, user *models.User, token string, expires time.Duration) error {
	return m.Called(ctx, user, token, expires).Error(0)
}

type isbnMock struct{ mock.Mock }

func (m *isbnMock) Lookup(ctx context.Context, isbn string) (*service.BookDraft, error) {
	args := m.Called(ctx, isbn)
	d, _ := args.Get(0).(*service.BookDraft)
	return d, args.Error(1)
}

type tokenStub struct{}

func (tokenStub) IssueUserToken(*models.User) (string, error)   { return "user-token", nil }
func (tokenStub) IssueAdminToken(*models.Admin) (string, error) { return "admin-token", nil }
func (tokenStub) TTL() time.Duration                            { return time.Hour }

type envelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	Data       json.RawMessage     `json:"data"`
	Pagination *respond.Pagination `json:"pagination"`
	Fields     []string            `json:"fields"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

// data decodes the envelope's data into a generic map.
func data(t *testing.T, env envelope) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &m))
	return m
}

// serve routes req through a chi router so URL parameters resolve.
func serve(method, pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Method(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func as(req *http.Request, p *middleware.Principal) *http.Request {
	return req.WithContext(middleware.WithPrincipal(req.Context(), p))
}

func customer() (*models.User, *middleware.Principal) {
	u := &models.User{ID: primitive.NewObjectID(), Name: "Jane", Email: "jane@example.com", Role: models.RoleUser, IsActive: true}
	return u, &middleware.Principal{ID: u.ID, Kind: middleware.KindUser, Role: u.Role, User: u}
}

func backOffice() (*models.Admin, *middleware.Principal) {
	a := &models.Admin{ID: primitive.NewObjectID(), Name: "Root", Email: "root@example.com", Role: models.RoleAdmin}
	return a, &middleware.Principal{ID: a.ID, Kind: middleware.KindAdmin, Role: models.RoleAdmin, Admin: a}
}

type filePart struct {
	field, filename, contentType string
	body                         []byte
}

func uploadRequest(t *testing.T, target string, parts ...filePart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}
