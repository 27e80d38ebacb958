package audit

import (
	"context"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
)

// LoginRecord describes one finished login attempt
type LoginRecord struct {
	Username     string
	User         *models.User
	Outcome      models.LoginOutcome
	Branch       string
	Attempts     int
	Latency      time.Duration
	ExtraCourses int
	Request      RequestInfo
	Err          error
}

// AuditLog converts the record into a persisted audit entry
func (r LoginRecord) AuditLog() *models.AuditLog {
	entry := models.NewAuditLog(r.Username, r.Outcome).
		WithUser(r.User).
		WithRequest(r.Request.ID, r.Request.IPAddress, r.Request.UserAgent)

	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	entry.WithAttempts(attempts, r.Latency)

	if r.Branch != "" {
		entry.WithDetails(map[string]interface{}{
			"branch":        r.Branch,
			"extra_courses": r.ExtraCourses,
		})
	}
	if r.Err != nil {
		entry.WithError(r.Err.Error())
	}
	return entry
}

// RequestInfo carries the HTTP request metadata recorded with a login
type RequestInfo struct {
	ID        string
	IPAddress string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo stores request metadata on the context
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the request metadata stored on ctx, if any
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}
