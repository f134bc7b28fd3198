package testutil

import (
	"net/http"
	"time"

	id "organmatch/pkg/domain"
	"organmatch/pkg/requestcontext"
)

// WithCaller sets the request caller the way the auth middleware would.
// Invalid ids are ignored and leave the request anonymous.
func WithCaller(req *http.Request, caller string) *http.Request {
	parsed, err := id.ParseAccountID(caller)
	if err != nil {
		return req
	}
	return req.WithContext(requestcontext.WithCaller(req.Context(), parsed))
}

// WithRequestTime pins the request clock.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}

// WithBearer sets the Authorization header.
func WithBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}
