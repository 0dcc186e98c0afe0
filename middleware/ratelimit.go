package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/manojkumarsharma/bookstore/apperr"
	"github.com/manojkumarsharma/bookstore/metrics"
	"github.com/manojkumarsharma/bookstore/respond"
)

// LimitStore keeps the hit history of each client for the sliding-window limiter.
type LimitStore interface {
	// Allow drops hits older than window, then either records one more hit and returns true,
	// or returns false when max hits are already inside the window.
	Allow(ctx context.Context, key string, window time.Duration, max int) (bool, error)
}

// ClientIP is the caller address without the port. It reflects proxy headers only when chi's RealIP ran first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit rejects a client with 429 once it made max requests within window.
// name labels the limiter in keys and metrics. Store errors let the request through.
func RateLimit(store LimitStore, name string, window time.Duration, max int, log logrus.FieldLogger) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(math.Ceil(window.Seconds())))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ok, err := store.Allow(r.Context(), name+":"+ip, window, max)
			if err != nil {
				log.WithError(err).WithField("limiter", name).Warn("rate limit store unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(max))
			if !ok {
				metrics.RecordRateLimitDrop(name)
				log.WithFields(logrus.Fields{"limiter": name, "ip": ip}).Debug("rate limited")
				w.Header().Set("Retry-After", retryAfter)
				respond.Fail(w, apperr.TooManyRequests(), false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
