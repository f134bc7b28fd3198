// Package requesttime pins one "now" per request so every record written by
// an operation carries the same timestamp.
package requesttime

import (
	"net/http"
	"time"

	"organmatch/pkg/requestcontext"
)

// Middleware stores the request start time, in UTC, in the context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
