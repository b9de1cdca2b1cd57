package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"prompt-cache/internal/common/logging"
)

// KeyFunc extracts the rate limit identifier from a request. An empty
// identifier lets the request through unchecked.
type KeyFunc func(*http.Request) string

// HTTPMiddleware rejects requests over limit per window with 429 Too Many
// Requests. A non-positive limit or window uses the configured defaults.
func (l *Limiter) HTTPMiddleware(action string, limit int, window time.Duration, keyFunc KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			identifier := keyFunc(r)
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := l.CheckAndConsume(r.Context(), identifier, action, limit, window)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", d.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", d.Remaining))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", d.ResetAt.Unix()))

			if !d.Allowed {
				retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				l.logger.WithContext(r.Context()).Info("Rate limit exceeded",
					logging.String("action", action),
					logging.String("path", r.URL.Path),
				)
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Throttle caps the request rate of this process with a token bucket,
// independent of the store. It guards endpoints whose work is expensive for
// the store itself, such as pattern purges.
func Throttle(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKey identifies the client by the first forwarded address, falling back
// to the connection's remote host.
func IPKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return "ip:" + first
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return "ip:" + ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// UserKey identifies the client by the X-User-ID header set by the
// authenticating proxy.
func UserKey(r *http.Request) string {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		return ""
	}
	return "user:" + userID
}

func EndpointKey(r *http.Request) string {
	return fmt.Sprintf("endpoint:%s:%s", r.Method, r.URL.Path)
}
