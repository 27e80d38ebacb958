package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gfmateus5/Mateus2121/auth"
	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/handlers"
	"github.com/gfmateus5/Mateus2121/internal/observability"
	"github.com/gfmateus5/Mateus2121/middleware"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/gfmateus5/Mateus2121/repositories/cache"
	"github.com/gfmateus5/Mateus2121/repositories/postgres"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/services/audit"
	"github.com/gfmateus5/Mateus2121/services/authentication"
	"github.com/gfmateus5/Mateus2121/services/fenix"
	"github.com/gfmateus5/Mateus2121/services/token"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// auditStopTimeout bounds how long Close waits for queued audit entries
const auditStopTimeout = 5 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Users            repositories.UserRepository
	CourseExecutions repositories.CourseExecutionRepository
	AuditLogs        repositories.AuditRepository
	TxManager        repositories.TransactionManager
	CourseCache      *cache.CourseExecutionCache // nil when disabled

	// Observability
	Registry *prometheus.Registry
	Metrics  *observability.Metrics // nil when disabled

	// Services
	AuditService *audit.AuditService // nil when disabled
	TokenIssuer  *token.Issuer       // nil when no signing key is configured
	AuthService  *authentication.Service

	// HTTP
	AuthHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	UserHandler    *handlers.UserHandler
	AuditHandler   *handlers.AuditHandler
	HealthHandler  *handlers.HealthHandler

	fenixHTTPClient *http.Client
	signingErr      error
}

// NewDependencies connects to PostgreSQL and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesWithDB(ctx, cfg, logger, factory.GetDB())
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithDB wires the application around an already opened pool
func NewDependenciesWithDB(ctx context.Context, cfg *config.Config, logger *zap.Logger, db *postgres.DB) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		RepoFactory: postgres.NewRepositoryFactoryFromDB(db, logger),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories(cfg)
	deps.initObservability(cfg)

	if err := deps.initAudit(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	deps.initAuth(cfg)
	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase verifies the pool and creates the schema when configured
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := d.DB.InitSchema(ctx); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories(cfg *config.Config) {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.CourseExecutions = repos.CourseExecutions
	d.AuditLogs = repos.AuditLogs
	d.TxManager = d.RepoFactory.GetTransactionManager()

	if cfg.CourseCache.Size > 0 {
		d.CourseCache = cache.NewCourseExecutionCache(repos.CourseExecutions, cfg.CourseCache.Size, cfg.CourseCache.TTL, d.Logger)
		d.CourseExecutions = d.CourseCache
		d.Logger.Info("course execution cache enabled",
			zap.Int("size", cfg.CourseCache.Size),
			zap.Duration("ttl", cfg.CourseCache.TTL))
	}

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initObservability(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		return
	}

	var hitRatio func() float64
	if d.CourseCache != nil {
		courseCache := d.CourseCache
		hitRatio = func() float64 {
			stats := courseCache.Stats()
			total := stats.Hits + stats.Misses
			if total == 0 {
				return 0
			}
			return float64(stats.Hits) / float64(total)
		}
	}

	d.Registry = prometheus.NewRegistry()
	d.Metrics = observability.NewMetrics(d.Registry, hitRatio)
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Enabled {
		d.Logger.Warn("login audit disabled")
		return nil
	}

	svc := audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.Workers,
	})
	if err := svc.Start(); err != nil {
		return err
	}
	d.AuditService = svc
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	d.fenixHTTPClient = &http.Client{Timeout: cfg.Fenix.HTTPTimeout}

	issuer, err := token.NewIssuer(cfg.JWT)
	if err != nil {
		d.Logger.Warn("session tokens disabled", zap.Error(err))
		d.signingErr = err
		d.AuthMiddleware = middleware.NewAuthMiddleware(unavailableIssuer{err: err}, d.Logger)
	} else {
		d.TokenIssuer = issuer
		d.AuthMiddleware = middleware.NewAuthMiddleware(issuer, d.Logger)
	}

	opts := authentication.Options{
		Providers:   d.newIdentityProvider,
		TxManager:   d.TxManager,
		Users:       d.Users,
		Courses:     d.CourseExecutions,
		Tokens:      unavailableIssuer{err: d.signingErr},
		Metrics:     d.Metrics,
		RetryPolicy: services.NewRetryPolicy(cfg.Retry),
		Logger:      d.Logger,
	}
	if d.TokenIssuer != nil {
		opts.Tokens = d.TokenIssuer
	}
	if d.AuditService != nil {
		opts.Audit = d.AuditService
	}
	d.AuthService = authentication.NewService(opts)

	d.AuthHandler = auth.NewHandler(cfg, d.AuthService, d.authorizeURL, d.Logger)
	d.Logger.Info("auth handler initialized", zap.String("fenix", cfg.Fenix.BaseURL))
}

func (d *Dependencies) initHandlers() {
	d.UserHandler = handlers.NewUserHandler(d.Users, d.CourseExecutions, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.AuditLogs, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Logger, map[string]handlers.ReadinessCheck{
		"fenix":       d.checkFenix,
		"signing_key": d.checkSigningKey,
	})
}

// newIdentityProvider builds a Fenix client for one login. Configuration is
// read at call time so a misconfigured deployment fails per login, not at startup.
func (d *Dependencies) newIdentityProvider() (authentication.IdentityProvider, error) {
	client, err := fenix.NewFenixClient(d.Config.Fenix, d.fenixHTTPClient)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (d *Dependencies) authorizeURL(state string) (string, error) {
	client, err := fenix.NewFenixClient(d.Config.Fenix, d.fenixHTTPClient)
	if err != nil {
		return "", err
	}
	return client.AuthCodeURL(state), nil
}

func (d *Dependencies) checkFenix(context.Context) error {
	_, err := fenix.NewFenixClient(d.Config.Fenix, d.fenixHTTPClient)
	return err
}

func (d *Dependencies) checkSigningKey(context.Context) error {
	return d.signingErr
}

// unavailableIssuer stands in for the token issuer when no signing key is
// configured. Logins fail with a configuration error and every token is rejected.
type unavailableIssuer struct {
	err error
}

func (u unavailableIssuer) Issue(*models.User) (string, error) {
	return "", u.unavailable()
}

func (u unavailableIssuer) ValidateToken(context.Context, string) (*token.Claims, error) {
	return nil, u.unavailable()
}

func (u unavailableIssuer) unavailable() error {
	if u.err == nil {
		return services.ErrSigningKeyUnavailable
	}
	return u.err
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Drain the audit queue before the pool goes away
	if d.AuditService != nil {
		if err := d.AuditService.Stop(auditStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
