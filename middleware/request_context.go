package middleware

import (
	"net/http"

	"github.com/gfmateus5/Mateus2121/internal/observability"
	"github.com/gfmateus5/Mateus2121/services/audit"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RequestContext copies chi's request ID and the caller's address into the
// context keys read by handlers, the service logger and the login audit.
// It must run after chi's RequestID and RealIP middleware.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := chimiddleware.GetReqID(ctx)

		ctx = WithRequestID(ctx, requestID)
		ctx = observability.WithRequestID(ctx, requestID)
		ctx = audit.WithRequestInfo(ctx, audit.RequestInfo{
			ID:        requestID,
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
