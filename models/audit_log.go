package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LoginOutcome represents how a login attempt ended
type LoginOutcome string

const (
	LoginOutcomeSuccess            LoginOutcome = "success"
	LoginOutcomeNotEnrolled        LoginOutcome = "not_enrolled"
	LoginOutcomeProviderError      LoginOutcome = "provider_error"
	LoginOutcomeConfigurationError LoginOutcome = "configuration_error"
	LoginOutcomePersistenceError   LoginOutcome = "persistence_error"
)

// AuditLog represents an audit trail entry for a login attempt
type AuditLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Username     string          `json:"username" db:"username"`
	Role         *UserRole       `json:"role,omitempty" db:"role"`
	Outcome      LoginOutcome    `json:"outcome" db:"outcome"`
	Attempts     int             `json:"attempts" db:"attempts"`
	Details      json.RawMessage `json:"details" db:"details"` // JSONB for flexible metadata
	IPAddress    string          `json:"ip_address" db:"ip_address"`
	UserAgent    string          `json:"user_agent" db:"user_agent"`
	RequestID    string          `json:"request_id" db:"request_id"`
	LatencyMs    int             `json:"latency_ms" db:"latency_ms"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(username string, outcome LoginOutcome) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Username:  username,
		Outcome:   outcome,
		Attempts:  1,
		Timestamp: time.Now(),
	}
}

// WithUser sets the resolved user
func (a *AuditLog) WithUser(user *User) *AuditLog {
	if user == nil {
		return a
	}
	id := user.ID
	role := user.Role
	a.UserID = &id
	a.Role = &role
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress, userAgent string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	a.UserAgent = userAgent
	return a
}

// WithAttempts records how many transactional attempts were made
func (a *AuditLog) WithAttempts(attempts int, latency time.Duration) *AuditLog {
	a.Attempts = attempts
	a.LatencyMs = int(latency.Milliseconds())
	return a
}

// WithError sets error information
func (a *AuditLog) WithError(errorMessage string) *AuditLog {
	a.ErrorMessage = &errorMessage
	return a
}
