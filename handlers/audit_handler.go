package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/utils"
	"go.uber.org/zap"
)

const defaultAuditPageSize = 50

// AuditHandler serves the login audit trail
type AuditHandler struct {
	audit  repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(audit repositories.AuditRepository, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// loginAuditQuery are the query parameters of GET /api/v1/audit/logins.
// Either username or both from and to must be set.
type loginAuditQuery struct {
	Username string `validate:"omitempty,max=64"`
	From     time.Time
	To       time.Time
	Limit    int `validate:"min=1,max=500"`
	Offset   int `validate:"min=0"`
}

// HandleListLogins handles GET /api/v1/audit/logins
func (h *AuditHandler) HandleListLogins(w http.ResponseWriter, r *http.Request) {
	query, err := parseLoginAuditQuery(r)
	if err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(query); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var logs []*models.AuditLog
	if query.Username != "" {
		logs, err = h.audit.GetByUsername(r.Context(), query.Username, query.Limit, query.Offset)
	} else {
		logs, err = h.audit.GetByDateRange(r.Context(), query.From, query.To, query.Limit, query.Offset)
	}
	if err != nil {
		HandleServiceError(w, services.WrapInternal("failed to list login audit", err), h.logger)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	_ = utils.WriteOK(w, logs)
}

func parseLoginAuditQuery(r *http.Request) (*loginAuditQuery, error) {
	values := r.URL.Query()
	query := &loginAuditQuery{
		Username: values.Get("username"),
		Limit:    defaultAuditPageSize,
	}

	var err error
	if v := values.Get("limit"); v != "" {
		if query.Limit, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("limit must be an integer")
		}
	}
	if v := values.Get("offset"); v != "" {
		if query.Offset, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("offset must be an integer")
		}
	}
	if v := values.Get("from"); v != "" {
		if query.From, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("from must be an RFC3339 timestamp")
		}
	}
	if v := values.Get("to"); v != "" {
		if query.To, err = time.Parse(time.RFC3339, v); err != nil {
			return nil, fmt.Errorf("to must be an RFC3339 timestamp")
		}
	}
	if query.Username == "" && (query.From.IsZero() || query.To.IsZero()) {
		return nil, fmt.Errorf("username or from and to are required")
	}
	if query.Username == "" && !query.To.After(query.From) {
		return nil, fmt.Errorf("to must be after from")
	}

	return query, nil
}
