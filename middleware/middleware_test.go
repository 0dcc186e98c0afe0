package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/manojkumarsharma/bookstore/logging"
	"github.com/manojkumarsharma/bookstore/models"
)

type accountsMock struct{ mock.Mock }

func (m *accountsMock) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *accountsMock) AdminByID(ctx context.Context, id primitive.ObjectID) (*models.Admin, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*models.Admin)
	return a, args.Error(1)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if p, found := PrincipalFrom(r.Context()); found {
		w.Header().Set("X-Principal", p.Kind+":"+p.Role)
	}
	w.WriteHeader(http.StatusOK)
})

func newAuth(accounts Accounts) *Authenticator {
	return NewAuthenticator("test-secret", time.Hour, accounts, logging.Discard(), false)
}

func activeUser(role string) *models.User {
	return &models.User{ID: primitive.NewObjectID(), Name: "Jane", Email: "jane@example.com", Role: role, IsActive: true}
}

func TestUserTokenSources(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	u := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, u.ID).Return(u, nil)
	token, err := a.IssueUserToken(u)
	require.NoError(t, err)

	requests := map[string]*http.Request{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	requests["header"] = r
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: UserCookie, Value: token})
	requests["cookie"] = r
	requests["query"] = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)

	for name, req := range requests {
		rec := httptest.NewRecorder()
		a.User(okHandler).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, name)
		assert.Equal(t, "user:user", rec.Header().Get("X-Principal"), name)
	}
}

func TestHeaderTokenWinsOverCookie(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	u := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, u.ID).Return(u, nil)
	token, err := a.IssueUserToken(u)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	r.AddCookie(&http.Cookie{Name: UserCookie, Value: token})
	rec := httptest.NewRecorder()
	a.User(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token.", decode(t, rec)["message"])
}

func TestNonBearerHeaderFallsBackToCookie(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	u := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, u.ID).Return(u, nil)
	token, err := a.IssueUserToken(u)
	require.NoError(t, err)

	for _, header := range []string{"Basic YWxhZGRpbjpvcGVuc2VzYW1l", "Bearer", "Token " + token} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", header)
		r.AddCookie(&http.Cookie{Name: UserCookie, Value: token})
		rec := httptest.NewRecorder()
		a.User(okHandler).ServeHTTP(rec, r)
		assert.Equal(t, http.StatusOK, rec.Code, header)
	}

	r := httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	r.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	a.User(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code, "query token after a non-bearer header")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer "+token)
	rec = httptest.NewRecorder()
	a.User(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code, "scheme is case-insensitive")
}

func TestUserRejections(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)

	inactive := activeUser(models.RoleUser)
	inactive.IsActive = false
	accounts.On("UserByID", mock.Anything, inactive.ID).Return(inactive, nil)
	missing := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, missing.ID).Return(nil, nil)

	inactiveToken, _ := a.IssueUserToken(inactive)
	missingToken, _ := a.IssueUserToken(missing)
	adminToken, _ := a.IssueAdminToken(&models.Admin{ID: primitive.NewObjectID()})

	// expired an hour ago
	a.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _ := a.IssueUserToken(missing)
	a.now = time.Now

	other := NewAuthenticator("other-secret", time.Hour, accounts, logging.Discard(), false)
	forged, _ := other.IssueUserToken(missing)

	cases := map[string]struct {
		token string
		msg   string
	}{
		"none":     {"", "Access denied. No token provided."},
		"garbage":  {"abc.def.ghi", "Invalid token."},
		"expired":  {expiredToken, "Invalid token."},
		"forged":   {forged, "Invalid token."},
		"kind":     {adminToken, "Invalid token."},
		"missing":  {missingToken, "User not found or account deactivated."},
		"inactive": {inactiveToken, "User not found or account deactivated."},
	}
	for name, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.token != "" {
			r.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()
		a.User(okHandler).ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		body := decode(t, rec)
		assert.Equal(t, false, body["success"], name)
		assert.Equal(t, tc.msg, body["message"], name)
	}
}

func TestRejectsNoneAlgorithm(t *testing.T) {
	a := newAuth(&accountsMock{})
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{ID: primitive.NewObjectID().Hex(), Kind: KindUser})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Parse(raw)
	assert.Error(t, err)
}

func TestUserLookupErrorIs500(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	u := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, u.ID).Return(nil, errors.New("db down"))
	token, _ := a.IssueUserToken(u)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.User(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, decode(t, rec)["error"], "raw error hidden outside debug")
}

func TestAdminMiddleware(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	admin := &models.Admin{ID: primitive.NewObjectID(), Role: models.RoleAdmin}
	gone := &models.Admin{ID: primitive.NewObjectID()}
	accounts.On("AdminByID", mock.Anything, admin.ID).Return(admin, nil)
	accounts.On("AdminByID", mock.Anything, gone.ID).Return(nil, nil)

	token, _ := a.IssueAdminToken(admin)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: AdminCookie, Value: token})
	rec := httptest.NewRecorder()
	a.Admin(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin:admin", rec.Header().Get("X-Principal"))

	goneToken, _ := a.IssueAdminToken(gone)
	r = httptest.NewRequest(http.MethodGet, "/?token="+goneToken, nil)
	rec = httptest.NewRecorder()
	a.Admin(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Admin not found.", decode(t, rec)["message"])

	// a shopper token never opens the back office
	userToken, _ := a.IssueUserToken(activeUser(models.RoleAdmin))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()
	a.Admin(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOptionalSwallowsFailures(t *testing.T) {
	accounts := &accountsMock{}
	a := newAuth(accounts)
	u := activeUser(models.RoleUser)
	accounts.On("UserByID", mock.Anything, u.ID).Return(u, nil)
	token, _ := a.IssueUserToken(u)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer nonsense")
	rec := httptest.NewRecorder()
	a.Optional(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Principal"))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	a.Optional(okHandler).ServeHTTP(rec, r)
	assert.Equal(t, "user:user", rec.Header().Get("X-Principal"))
}

func TestAuthorize(t *testing.T) {
	gate := Authorize(models.RoleAdmin, models.RoleModerator)(okHandler)

	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for role, want := range map[string]int{
		models.RoleUser:      http.StatusForbidden,
		models.RoleModerator: http.StatusOK,
		models.RoleAdmin:     http.StatusOK,
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r = r.WithContext(WithPrincipal(r.Context(), &Principal{Kind: KindUser, Role: role}))
		rec := httptest.NewRecorder()
		gate.ServeHTTP(rec, r)
		assert.Equal(t, want, rec.Code, role)
		if want == http.StatusForbidden {
			assert.Equal(t, "Access denied. user role is not authorized.", decode(t, rec)["message"])
		}
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMemoryStoreSlidingWindow(t *testing.T) {
	c := &clock{t: time.Unix(1700000000, 0)}
	s := NewMemoryStore()
	s.now = c.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := s.Allow(ctx, "ip", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
		c.t = c.t.Add(10 * time.Second)
	}
	// three hits at 0s, 10s, 20s; now 30s
	allowed, _ := s.Allow(ctx, "ip", time.Minute, 3)
	assert.False(t, allowed)
	allowed, _ = s.Allow(ctx, "other", time.Minute, 3)
	assert.True(t, allowed, "clients are limited separately")

	// at exactly 60s the first hit is at the window edge and no longer counts
	c.t = time.Unix(1700000000, 0).Add(time.Minute)
	allowed, _ = s.Allow(ctx, "ip", time.Minute, 3)
	assert.True(t, allowed)
	allowed, _ = s.Allow(ctx, "ip", time.Minute, 3)
	assert.False(t, allowed, "rejected hits are not recorded but the new one is")
}

func TestMemoryStoreSweepsIdleClients(t *testing.T) {
	c := &clock{t: time.Unix(1700000000, 0)}
	s := NewMemoryStore()
	s.now = c.now
	ctx := context.Background()
	_, _ = s.Allow(ctx, "idle", time.Second, 5)
	c.t = c.t.Add(time.Hour)
	for i := 0; i < sweepEvery; i++ {
		_, _ = s.Allow(ctx, "busy", time.Second, 5000)
	}
	assert.Equal(t, 1, s.Len())
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, time.Duration, int) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimit(NewMemoryStore(), "test", time.Minute, 2, logging.Discard())(okHandler)
	do := func(ip string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, do("10.0.0.1").Code)
	rec := do("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Too many requests. Please try again later.", body["message"])
	assert.Equal(t, http.StatusOK, do("10.0.0.2").Code)

	open := RateLimit(failingStore{}, "test", time.Minute, 1, logging.Discard())(okHandler)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedisStoreSlidingWindow(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	s := NewRedisStore(client)
	c := &clock{t: time.Now()}
	s.now = c.now
	key := "test:" + primitive.NewObjectID().Hex()
	defer client.Del(ctx, s.prefix+key)

	for i := 0; i < 2; i++ {
		allowed, err := s.Allow(ctx, key, time.Minute, 2)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := s.Allow(ctx, key, time.Minute, 2)
	require.NoError(t, err)
	assert.False(t, allowed)

	c.t = c.t.Add(time.Minute + time.Millisecond)
	allowed, err = s.Allow(ctx, key, time.Minute, 2)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:3000", "https://shop.example.com/"})(okHandler)

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/books", nil)
	r.Header.Set("Origin", "https://shop.example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://shop.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	r = httptest.NewRequest(http.MethodOptions, "/api/v1/books", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/v1/books", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverer(t *testing.T) {
	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	Recoverer(logging.Discard(), false)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Internal server error", body["message"])
	assert.Nil(t, body["error"])

	rec = httptest.NewRecorder()
	Recoverer(logging.Discard(), true)(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "panic: boom", decode(t, rec)["error"])
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
