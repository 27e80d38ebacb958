package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gfmateus5/Mateus2121/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger from configuration. "json" selects the production
// encoder, anything else a console encoder.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	var zapCfg zap.Config
	if strings.EqualFold(cfg.LogFormat, "json") {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

type requestIDKey struct{}

// WithRequestID stores the request ID used by LoggerFromContext
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// LoggerFromContext returns logger annotated with the request ID on ctx, if any
func LoggerFromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return logger.With(zap.String("request_id", id))
	}
	return logger
}
