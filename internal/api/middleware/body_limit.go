package middleware

import "net/http"

// DefaultMaxBodyBytes caps request bodies when no limit is configured (8MB).
const DefaultMaxBodyBytes = 8 << 20

// MaxBodySize limits request bodies to limit bytes. Reads past the limit fail and the handler
// answers 413.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
