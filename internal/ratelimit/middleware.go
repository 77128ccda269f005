package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/promotion-engine/internal/common"
)

// Policy describes how to derive the limit key and thresholds for a route.
type Policy struct {
	Key    func(*http.Request) string
	Window time.Duration
	Max    int
}

// Handler enforces a Policy before delegating to the next handler. Limiter
// errors fail open: a Redis outage must not block voucher submission.
type Handler struct {
	Limiter Limiter
	Policy  Policy
	OnError func(error)
}

// Middleware implements chi middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Policy.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := h.Policy.Key(r)
		allowed, remaining, resetAt, err := h.Limiter.Allow(r.Context(), key, h.Policy.Window, h.Policy.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		limitValue := h.Policy.Max
		if limitValue < 0 {
			limitValue = 0
		}
		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(limitValue))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many voucher submissions", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
