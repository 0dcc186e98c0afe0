package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/manojkumarsharma/bookstore/respond"
)

type SystemHandler struct {
	Base
	DB          Pinger
	Environment string
	Started     time.Time
}

type HealthResponse struct {
	Status      string    `json:"status"`
	Environment string    `json:"environment"`
	Database    string    `json:"database"`
	Uptime      float64   `json:"uptime"`
	Timestamp   time.Time `json:"timestamp"`
}

// Health reports 503 when the database does not answer within two seconds.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	res := HealthResponse{
		Status:      "ok",
		Environment: h.Environment,
		Database:    "connected",
		Uptime:      now.Sub(h.Started).Seconds(),
		Timestamp:   now,
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		h.Log.WithError(err).Warn("health check: database unreachable")
		res.Status, res.Database = "degraded", "disconnected"
		respond.JSON(w, http.StatusServiceUnavailable, respond.Envelope{Success: false, Message: "Database unreachable", Data: res})
		return
	}
	respond.Message(w, "Server is running", res)
}

type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Docs lists every route mounted on router, sorted by path.
func Docs(router chi.Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoints := []Endpoint{}
		err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
			route = strings.ReplaceAll(route, "/*/", "/")
			endpoints = append(endpoints, Endpoint{Method: method, Path: route})
			return nil
		})
		if err != nil {
			respond.Fail(w, err, false)
			return
		}
		sort.Slice(endpoints, func(i, j int) bool {
			if endpoints[i].Path != endpoints[j].Path {
				return endpoints[i].Path < endpoints[j].Path
			}
			return endpoints[i].Method < endpoints[j].Method
		})
		respond.OK(w, map[string]any{
			"name":      "Bookstore API",
			"version":   "v1",
			"endpoints": endpoints,
		})
	}
}
