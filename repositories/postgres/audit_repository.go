package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const selectAuditColumns = `
		SELECT id, user_id, username, role, outcome, attempts, details,
		       ip_address, user_agent, request_id, latency_ms, error_message, timestamp
		FROM login_audit
`

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO login_audit (
			id, user_id, username, role, outcome, attempts, details,
			ip_address, user_agent, request_id, latency_ms, error_message, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.UserID,
		log.Username,
		log.Role,
		log.Outcome,
		log.Attempts,
		details,
		log.IPAddress,
		log.UserAgent,
		log.RequestID,
		log.LatencyMs,
		log.ErrorMessage,
		log.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted",
		zap.String("id", log.ID.String()),
		zap.String("outcome", string(log.Outcome)))
	return nil
}

// GetByUsername retrieves audit logs for a username with pagination
func (r *AuditRepository) GetByUsername(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error) {
	query := selectAuditColumns + `
		WHERE username = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryAuditLogs(ctx, query, username, limit, offset)
}

// GetByDateRange retrieves audit logs within a date range
func (r *AuditRepository) GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error) {
	query := selectAuditColumns + `
		WHERE timestamp >= $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT $3 OFFSET $4
	`
	return r.queryAuditLogs(ctx, query, start, end, limit, offset)
}

func (r *AuditRepository) queryAuditLogs(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var details []byte
		err := rows.Scan(
			&log.ID,
			&log.UserID,
			&log.Username,
			&log.Role,
			&log.Outcome,
			&log.Attempts,
			&details,
			&log.IPAddress,
			&log.UserAgent,
			&log.RequestID,
			&log.LatencyMs,
			&log.ErrorMessage,
			&log.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Details = details
		logs = append(logs, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log rows: %w", err)
	}

	return logs, nil
}
