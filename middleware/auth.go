package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/models"
	"github.com/manojkumarsharma/bookstore/respond"
)

type contextKey string

const principalKey contextKey = "principal"

// Token kinds. Shoppers and back-office admins live in different collections.
const (
	KindUser  = "user"
	KindAdmin = "admin"
)

// Cookie names the storefront and the admin panel keep their tokens in.
const (
	UserCookie  = "token"
	AdminCookie = "adminToken"
)

type Claims struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	ID    primitive.ObjectID
	Kind  string
	Role  string
	User  *models.User
	Admin *models.Admin
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// Accounts loads the records a token points at.
type Accounts interface {
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	AdminByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error)
}

type Authenticator struct {
	secret   []byte
	ttl      time.Duration
	accounts Accounts
	log      logrus.FieldLogger
	debug    bool
	now      func() time.Time
}

func NewAuthenticator(secret string, ttl time.Duration, accounts Accounts, log logrus.FieldLogger, debug bool) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		ttl:      ttl,
		accounts: accounts,
		log:      log,
		debug:    debug,
		now:      time.Now,
	}
}

func (a *Authenticator) TTL() time.Duration { return a.ttl }

func (a *Authenticator) issue(id primitive.ObjectID, kind string) (string, error) {
	now := a.now()
	claims := &Claims{
		ID:   id.Hex(),
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Hex(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) IssueUserToken(u *models.User) (string, error) {
	return a.issue(u.ID, KindUser)
}

func (a *Authenticator) IssueAdminToken(admin *models.Admin) (string, error) {
	return a.issue(admin.ID, KindAdmin)
}

// Parse verifies the signature and expiry of a token.
func (a *Authenticator) Parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

const bearer = "Bearer "

// tokenFrom looks in a Bearer Authorization header, then the named cookie, then ?token=.
func tokenFrom(r *http.Request, cookie string) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > len(bearer) && strings.EqualFold(h[:len(bearer)], bearer) {
		if t := strings.TrimSpace(h[len(bearer):]); t != "" {
			return t
		}
	}
	if c, err := r.Cookie(cookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

func (a *Authenticator) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.StatusOf(err) >= http.StatusInternalServerError {
		a.log.WithError(err).WithField("path", r.URL.Path).Error("authentication failed")
	}
	respond.Fail(w, err, a.debug)
}

// claims extracts and verifies the token of the given kind.
func (a *Authenticator) claims(r *http.Request, cookie, kind string) (primitive.ObjectID, error) {
	raw := tokenFrom(r, cookie)
	if raw == "" {
		return primitive.NilObjectID, apperr.Unauthorized("Access denied. No token provided.")
	}
	claims, err := a.Parse(raw)
	if err != nil || claims.Kind != kind {
		return primitive.NilObjectID, apperr.Unauthorized("Invalid token.")
	}
	id, err := primitive.ObjectIDFromHex(claims.ID)
	if err != nil {
		return primitive.NilObjectID, apperr.Unauthorized("Invalid token.")
	}
	return id, nil
}

func (a *Authenticator) loadUser(r *http.Request) (*Principal, error) {
	id, err := a.claims(r, UserCookie, KindUser)
	if err != nil {
		return nil, err
	}
	user, err := a.accounts.UserByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, apperr.Unauthorized("User not found or account deactivated.")
	}
	return &Principal{ID: user.ID, Kind: KindUser, Role: user.Role, User: user}, nil
}

// User requires a valid shopper token for an active account.
func (a *Authenticator) User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.loadUser(r)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Admin requires a valid back-office token.
func (a *Authenticator) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.claims(r, AdminCookie, KindAdmin)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		admin, err := a.accounts.AdminByID(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		if admin == nil {
			a.fail(w, r, apperr.Unauthorized("Admin not found."))
			return
		}
		p := &Principal{ID: admin.ID, Kind: KindAdmin, Role: models.RoleAdmin, Admin: admin}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Optional attaches the shopper when a good token is present and carries on either way.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, err := a.loadUser(r); err == nil {
			r = r.WithContext(WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}

// Authorize lets the request through only when the authenticated caller has one of roles.
func Authorize(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok {
				respond.Fail(w, apperr.Unauthorized("Authentication required."), false)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Fail(w, apperr.Forbidden(fmt.Sprintf("Access denied. %s role is not authorized.", p.Role)), false)
		})
	}
}
