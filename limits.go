package lessweb

import (
	"context"
	"net/http"
	"time"
)

// BodyLimit returns middleware that limits the maximum request body size.
// Binding a body larger than maxBytes fails with 413 Payload Too Large.
func BodyLimit(maxBytes int64) HTTPMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout returns middleware that bounds the request context. Binding that
// observes the expired context fails with a Canceled resolution error.
func Timeout(d time.Duration) HTTPMiddleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
