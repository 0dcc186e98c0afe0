package handlers

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/service"
	"github.com/manojkumarsharma/bookstore/store"
)

// The handlers depend on these slices of *store.DB so tests can mock them.

type BookStore interface {
	ListBooks(ctx context.Context, q store.BookQuery) ([]models.Book, int64, error)
	HighlightBooks(ctx context.Context, kind string) ([]models.Book, error)
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	BookBySlug(ctx context.Context, slug string) (*models.Book, error)
	CreateBook(ctx context.Context, b *models.Book) error
	UpdateBook(ctx context.Context, b *models.Book, reslug bool) error
	DeleteBook(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	BookStats(ctx context.Context) (*store.BookStats, error)
}

type UserStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context, search, role string, page, limit int) ([]models.User, int64, error)
	UpdateUserProfile(ctx context.Context, id primitive.ObjectID, fields map[string]any) (*models.User, error)
	UpdateUserRole(ctx context.Context, id primitive.ObjectID, role string) (*models.User, error)
	SetUserActive(ctx context.Context, id primitive.ObjectID, active bool) (*models.User, error)
	SetUserPassword(ctx context.Context, id primitive.ObjectID, hash string) error
	RecordFailedLogin(ctx context.Context, u *models.User, now time.Time) (*models.User, error)
	RecordSuccessfulLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error
	SetPasswordReset(ctx context.Context, id primitive.ObjectID, tokenHash string, expires time.Time) error
	UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	DeleteUser(ctx context.Context, id primitive.ObjectID) (bool, error)
}

type AdminStore interface {
	AdminByEmail(ctx context.Context, email string) (*models.Admin, error)
	AdminByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error)
	CreateAdmin(ctx context.Context, a *models.Admin) error
	ListAdmins(ctx context.Context) ([]models.Admin, error)
	UpdateAdmin(ctx context.Context, id primitive.ObjectID, set map[string]any) (*models.Admin, error)
	DeleteAdmin(ctx context.Context, id primitive.ObjectID) (bool, error)
	CountAdmins(ctx context.Context) (int64, error)
	TouchAdminLogin(ctx context.Context, id primitive.ObjectID, now time.Time) error
}

// DashboardSource feeds the admin dashboard counters.
type DashboardSource interface {
	CountUsers(ctx context.Context) (int64, error)
	BookStats(ctx context.Context) (*store.BookStats, error)
	OrderStats(ctx context.Context) (*store.OrderStats, error)
}

type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, s *models.Settings) error
	RecentEmailLogs(ctx context.Context, limit int) ([]models.EmailLog, error)
}

type CartStore interface {
	BookByID(ctx context.Context, id primitive.ObjectID) (*models.Book, error)
	CartByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error)
	SaveCart(ctx context.Context, c *models.Cart) error
	ClearCart(ctx context.Context, user primitive.ObjectID) error
}

type OrderStore interface {
	BooksByIDs(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]models.Book, error)
	ReserveStock(ctx context.Context, id primitive.ObjectID, qty int) error
	ReleaseStock(ctx context.Context, id primitive.ObjectID, qty int) error
	CartByUser(ctx context.Context, user primitive.ObjectID) (*models.Cart, error)
	ClearCart(ctx context.Context, user primitive.ObjectID) error
	CreateOrder(ctx context.Context, o *models.Order) error
	OrderByID(ctx context.Context, id primitive.ObjectID) (*models.Order, error)
	ListOrders(ctx context.Context, f store.OrderFilter, page, limit int) ([]models.Order, int64, error)
	UpdateOrderStatus(ctx context.Context, id primitive.ObjectID, from, to string, now time.Time) (*models.Order, error)
	OrderStats(ctx context.Context) (*store.OrderStats, error)
}

// Notifier sends the transactional mail. *service.Mailer implements it.
type Notifier interface {
	OrderConfirmation(ctx context.Context, user *models.User, order *models.Order) error
	PasswordReset(ctx context.Context, user *models.User, token string, expires time.Duration) error
}

type ISBNLookup interface {
	Lookup(ctx context.Context, isbn string) (*service.BookDraft, error)
}

type TokenIssuer interface {
	IssueUserToken(u *models.User) (string, error)
	IssueAdminToken(a *models.Admin) (string, error)
	TTL() time.Duration
}

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}
