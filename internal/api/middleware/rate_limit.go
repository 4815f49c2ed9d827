package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ryuu1kyou/anomaly-analytics/internal/metrics"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
)

// idleLimiterTTL is how long an unused per-client limiter is kept.
const idleLimiterTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

// NewRateLimiter allows requestsPerSecond per client with the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *RateLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if c, ok := l.clients[ip]; ok {
		c.lastSeen = now
		return c.limiter
	}
	// Evict idle clients on insert so the map stays bounded by active callers.
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > idleLimiterTTL {
			delete(l.clients, key)
		}
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.clients[ip] = &clientLimiter{limiter: lim, lastSeen: now}
	return lim
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware rejects requests over the limit with 429. Probe and metrics endpoints are exempt.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/ready", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		lim := l.get(clientIP(r))
		reservation := lim.ReserveN(l.now(), 1)
		if !reservation.OK() || reservation.DelayFrom(l.now()) > 0 {
			retryAfter := 1
			if reservation.OK() {
				retryAfter = max(int(math.Ceil(reservation.DelayFrom(l.now()).Seconds())), 1)
				reservation.CancelAt(l.now())
			}
			metrics.RateLimitRejectedTotal.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":      "Too Many Requests",
				"code":       "RATE_LIMITED",
				"message":    "too many requests, retry after " + strconv.Itoa(retryAfter) + "s",
				"request_id": logger.FromContext(r.Context()),
			})
			return
		}
		remaining := max(int(lim.TokensAt(l.now())), 0)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		next.ServeHTTP(w, r)
	})
}
