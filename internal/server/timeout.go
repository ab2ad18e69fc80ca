package server

import (
	"context"
	"net/http"
	"time"
)

// TimeoutMiddleware bounds the webhook and health endpoints. The media-stream
// route is mounted outside it: a live call outlasts any request deadline.
// Cancellation is cooperative; handlers must watch context.Done().
func TimeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
