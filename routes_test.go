package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manojkumarsharma/bookstore/handlers"
	"github.com/manojkumarsharma/bookstore/logging"
	"github.com/manojkumarsharma/bookstore/middleware"
	"github.com/manojkumarsharma/bookstore/models"
)

func testAPI(t *testing.T) api {
	t.Helper()
	log := logging.Discard()
	base := handlers.Base{Log: log}
	return api{
		Auth:    &handlers.AuthHandler{Base: base},
		Users:   &handlers.UsersHandler{Base: base},
		Admin:   &handlers.AdminHandler{Base: base},
		Books:   &handlers.BooksHandler{Base: base},
		Upload:  &handlers.UploadHandler{Base: base},
		Cart:    &handlers.CartHandler{Base: base},
		Orders:  &handlers.OrdersHandler{Base: base},
		System:  &handlers.SystemHandler{Base: base, Started: time.Now()},
		Authn:   middleware.NewAuthenticator("test-secret", time.Hour, nil, log, true),
		Origins: []string{"http://localhost:3000"},
	}
}

func testRouter(t *testing.T, uploadDir string) http.Handler {
	t.Helper()
	a := testAPI(t)
	a.UploadDir = uploadDir
	return newRouter(a, logging.Discard())
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestDocsListsMountedRoutes(t *testing.T) {
	rec, body := get(t, testRouter(t, ""), "/api/docs")

	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Bookstore API", data["name"])
	var seen []string
	for _, e := range data["endpoints"].([]any) {
		ep := e.(map[string]any)
		seen = append(seen, ep["method"].(string)+" "+ep["path"].(string))
	}
	for _, want := range []string{
		"GET /api/health",
		"GET /api/v1/books/",
		"GET /api/v1/books/slug/{slug}",
		"POST /api/v1/auth/login",
		"POST /api/v1/upload/single",
		"POST /api/v1/orders/",
		"PUT /api/v1/orders/{id}/status",
		"DELETE /api/v1/cart/clear",
		"GET /api/v1/admin/settings",
	} {
		assert.Contains(t, seen, want)
	}
}

func TestUnknownRouteEnvelope(t *testing.T) {
	rec, body := get(t, testRouter(t, ""), "/api/v1/nothing-here")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Route not found", body["message"])
	assert.Equal(t, "/api/v1/nothing-here", body["path"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	router := testRouter(t, "")
	for _, target := range []string{"/api/v1/cart/", "/api/v1/orders/my-orders", "/api/v1/admin/dashboard", "/api/v1/auth/me"} {
		rec, body := get(t, router, target)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
		assert.Equal(t, "Access denied. No token provided.", body["message"], target)
	}
}

func TestUserTokenDoesNotOpenAdminRoutes(t *testing.T) {
	router := testRouter(t, "")
	authn := middleware.NewAuthenticator("test-secret", time.Hour, nil, logging.Discard(), true)
	token, err := authn.IssueUserToken(&models.User{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadsServedWithoutListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "books"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "books", "cover.png"), []byte("png"), 0o644))
	router := testRouter(t, dir)

	rec, _ := get(t, router, "/uploads/books/cover.png")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png", rec.Body.String())

	rec, _ = get(t, router, "/uploads/books/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitKeysOnSocketAddress(t *testing.T) {
	statuses := func(trustProxy bool) []int {
		a := testAPI(t)
		a.TrustProxy = trustProxy
		a.Limit = middleware.RateLimit(middleware.NewMemoryStore(), "api", time.Minute, 1, logging.Discard())
		router := newRouter(a, logging.Discard())

		var codes []int
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart/", nil)
			req.RemoteAddr = "203.0.113.9:5555"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)
		}
		return codes
	}

	assert.Equal(t, []int{401, 429, 429, 429}, statuses(false), "forwarded headers ignored by default")
	assert.Equal(t, []int{401, 401, 401, 401}, statuses(true), "each forwarded address gets its own window")
}
