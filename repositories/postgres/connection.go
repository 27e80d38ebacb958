package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return NewDBFromConn(db, logger), nil
}

// NewDBFromConn wraps an already opened pool
func NewDBFromConn(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// InitSchema initializes the database schema
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
		-- Course executions are maintained by course management; login only links them
		CREATE TABLE IF NOT EXISTS course_executions (
			id UUID PRIMARY KEY,
			acronym VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL DEFAULT '',
			academic_term VARCHAR(100) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL DEFAULT 'ACTIVE'
		);

		-- Users table
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			role VARCHAR(20) NOT NULL,
			course_execution_acronyms TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Enrollment links
		CREATE TABLE IF NOT EXISTS users_course_executions (
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			course_execution_id UUID NOT NULL REFERENCES course_executions(id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, course_execution_id)
		);

		-- Login audit table
		CREATE TABLE IF NOT EXISTS login_audit (
			id UUID PRIMARY KEY,
			user_id UUID REFERENCES users(id) ON DELETE SET NULL,
			username VARCHAR(255) NOT NULL,
			role VARCHAR(20),
			outcome VARCHAR(50) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 1,
			details JSONB,
			ip_address VARCHAR(45),
			user_agent TEXT,
			request_id VARCHAR(255),
			latency_ms INTEGER,
			error_message TEXT,
			timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		-- Indexes for performance
		CREATE INDEX IF NOT EXISTS idx_users_course_executions_course ON users_course_executions(course_execution_id);
		CREATE INDEX IF NOT EXISTS idx_login_audit_username ON login_audit(username);
		CREATE INDEX IF NOT EXISTS idx_login_audit_timestamp ON login_audit(timestamp);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully")
	return nil
}
