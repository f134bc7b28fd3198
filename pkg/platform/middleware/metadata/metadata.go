package metadata

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"organmatch/pkg/requestcontext"
)

// HeaderRequestID is read from and echoed on every response.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLen bounds caller supplied request ids.
const maxRequestIDLen = 128

type contextKeyClientIP struct{}

// ClientMetadata assigns the request id, derives the client label from the
// User-Agent and records the client IP. It should be applied early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := r.Context()
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithClient(ctx, ClientLabel(r.Header.Get("User-Agent")))
		ctx = context.WithValue(ctx, contextKeyClientIP{}, ClientIPFromRequest(r))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientLabel reduces a User-Agent to a short label such as "Firefox/Linux"
// or "bot:Googlebot". Unparseable agents yield "unknown".
func ClientLabel(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "unknown"
	}
	ua := useragent.New(userAgent)
	name, _ := ua.Browser()
	if name == "" {
		name = "unknown"
	}
	if ua.Bot() {
		return "bot:" + name
	}
	label := name
	if os := ua.OS(); os != "" {
		label += "/" + os
	}
	if ua.Mobile() {
		label += "/mobile"
	}
	return label
}

// GetClientIP retrieves the client IP address from the context.
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return ip
	}
	return ""
}

// ClientIPFromRequest extracts the client IP, honoring proxy headers.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if addr := r.RemoteAddr; addr != "" {
		// [::1]:port or 127.0.0.1:port
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}
	return "unknown"
}
