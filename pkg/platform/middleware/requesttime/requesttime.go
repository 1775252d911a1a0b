// Package requesttime pins one clock reading per request, so the exchange-code
// expiry, audit timestamp and user timestamps written by a callback agree.
package requesttime

import (
	"net/http"
	"time"

	"rpgateway/pkg/requestcontext"
)

// Middleware stamps the request with time.Now in UTC.
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock is Middleware with an injected clock.
func WithClock(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock().UTC())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
