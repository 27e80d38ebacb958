// Package authentication runs the Fenix login: code exchange, enrollment
// reconciliation inside a retried transaction, and token issuance.
package authentication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gfmateus5/Mateus2121/internal/observability"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/services/audit"
	"github.com/gfmateus5/Mateus2121/services/enrollment"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// IdentityProvider is the part of the Fenix client used during login
type IdentityProvider interface {
	ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error)
	GetProfile(ctx context.Context, token *oauth2.Token) (*models.Profile, error)
	GetEnrollments(ctx context.Context, token *oauth2.Token) (*models.Enrollments, error)
}

// ProviderFactory builds the identity provider client for one login
type ProviderFactory func() (IdentityProvider, error)

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(user *models.User) (string, error)
}

// LoginRecorder receives finished logins for auditing. It must not block.
type LoginRecorder interface {
	RecordLogin(rec audit.LoginRecord) error
}

// Options holds the collaborators of a Service
type Options struct {
	Providers   ProviderFactory
	TxManager   repositories.TransactionManager
	Users       repositories.UserRepository
	Courses     repositories.CourseExecutionRepository
	Tokens      TokenIssuer
	Audit       LoginRecorder          // optional
	Metrics     *observability.Metrics // optional
	RetryPolicy services.RetryPolicy
	Logger      *zap.Logger
}

// Service authenticates Fenix users
type Service struct {
	providers  ProviderFactory
	txManager  repositories.TransactionManager
	users      repositories.UserRepository
	courses    repositories.CourseExecutionRepository
	reconciler *enrollment.Reconciler
	tokens     TokenIssuer
	audit      LoginRecorder
	metrics    *observability.Metrics
	policy     services.RetryPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates an authentication service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := opts.RetryPolicy
	if policy.MaxAttempts < 1 {
		policy = services.DefaultRetryPolicy()
	}

	return &Service{
		providers:  opts.Providers,
		txManager:  opts.TxManager,
		users:      opts.Users,
		courses:    opts.Courses,
		reconciler: enrollment.NewReconciler(opts.Courses, logger),
		tokens:     opts.Tokens,
		audit:      opts.Audit,
		metrics:    opts.Metrics,
		policy:     policy,
		logger:     logger,
		now:        time.Now,
	}
}

// providerData is what Fenix told us about the person. It is fetched once per
// login and reused by every transaction attempt.
type providerData struct {
	profile     *models.Profile
	enrollments *models.Enrollments
}

// Authenticate exchanges an authorization code for a session token, creating
// or updating the local user from the person's Fenix enrollments.
func (s *Service) Authenticate(ctx context.Context, code string) (result *models.AuthResult, err error) {
	start := s.now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	rec := audit.LoginRecord{Request: audit.RequestInfoFromContext(ctx)}
	var outcome *enrollment.Outcome
	defer func() {
		rec.Latency = s.now().Sub(start)
		rec.Err = err
		rec.Outcome = loginOutcome(err)
		if outcome != nil {
			rec.User = outcome.User
			rec.Branch = string(outcome.Branch)
			rec.ExtraCourses = len(outcome.ExtraCourses)
		}
		s.finish(logger, rec, outcome)
	}()

	data, err := s.fetch(ctx, code)
	if err != nil {
		return nil, err
	}
	rec.Username = data.profile.Username

	outcome, rec.Attempts, err = services.WithRetry(ctx, s.policy, logger,
		func(ctx context.Context, attempt int) (*enrollment.Outcome, error) {
			return services.WithTransactionResult(ctx, s.txManager,
				func(ctx context.Context, _ repositories.Transaction) (*enrollment.Outcome, error) {
					return s.reconcile(ctx, data)
				})
		})
	if err != nil {
		outcome = nil
		if services.GetErrorType(err) == "" {
			err = services.WrapInternal("failed to reconcile enrollments", err)
		}
		return nil, err
	}

	token, err := s.tokens.Issue(outcome.User)
	if err != nil {
		if !services.IsConfigurationError(err) {
			err = services.WrapInternal("failed to issue token", err)
		}
		return nil, err
	}

	return &models.AuthResult{
		Token:        token,
		User:         models.NewAuthUser(outcome.User),
		ExtraCourses: outcome.ExtraCourses,
	}, nil
}

// fetch talks to Fenix. Nothing here is retried.
func (s *Service) fetch(ctx context.Context, code string) (*providerData, error) {
	provider, err := s.providers()
	if err != nil {
		return nil, services.NewProviderConfigurationError(err)
	}

	token, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, services.NewProviderAuthError(err)
	}

	profile, err := provider.GetProfile(ctx, token)
	if err != nil {
		return nil, services.NewProviderAuthError(fmt.Errorf("failed to fetch person: %w", err))
	}

	enrollments, err := provider.GetEnrollments(ctx, token)
	if err != nil {
		return nil, services.NewProviderAuthError(fmt.Errorf("failed to fetch courses: %w", err))
	}

	return &providerData{profile: profile, enrollments: enrollments}, nil
}

// reconcile loads the user, applies the enrollment rules and persists the delta.
// ctx carries the transaction.
func (s *Service) reconcile(ctx context.Context, data *providerData) (*enrollment.Outcome, error) {
	existing, err := s.users.GetByUsername(ctx, data.profile.Username)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load user: %w", err)
	default:
		existing.CourseExecutions, err = s.courses.GetByUserID(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load course links: %w", err)
		}
	}

	out, err := s.reconciler.Reconcile(ctx, enrollment.Input{
		Profile:     *data.profile,
		Enrollments: *data.enrollments,
		Existing:    existing,
	})
	if err != nil {
		return nil, err
	}

	if out.Created {
		if err := s.users.Create(ctx, out.User); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	}
	for _, course := range out.NewLinks {
		if err := s.users.AddCourseExecution(ctx, out.User.ID, course.ID); err != nil {
			return nil, fmt.Errorf("failed to link course %s: %w", course.Acronym, err)
		}
	}
	if out.AcronymsChanged && !out.Created {
		if err := s.users.UpdateCourseExecutionAcronyms(ctx, out.User.ID, out.User.CourseExecutionAcronyms); err != nil {
			return nil, fmt.Errorf("failed to update course acronyms: %w", err)
		}
	}

	return out, nil
}

func (s *Service) finish(logger *zap.Logger, rec audit.LoginRecord, outcome *enrollment.Outcome) {
	fields := []zap.Field{
		zap.String("username", rec.Username),
		zap.String("outcome", string(rec.Outcome)),
		zap.Int("attempts", rec.Attempts),
		zap.Duration("latency", rec.Latency),
	}
	if rec.Err != nil {
		logger.Warn("fenix login failed", append(fields, zap.Error(rec.Err))...)
	} else {
		logger.Info("fenix login succeeded", append(fields, zap.String("branch", rec.Branch))...)
	}

	obs := observability.LoginObservation{
		Outcome:      rec.Outcome,
		Branch:       rec.Branch,
		Attempts:     rec.Attempts,
		Duration:     rec.Latency,
		ExtraCourses: rec.ExtraCourses,
	}
	if outcome != nil && outcome.Created {
		obs.CreatedRole = outcome.User.Role
	}
	s.metrics.RecordLogin(obs)

	if s.audit != nil {
		if err := s.audit.RecordLogin(rec); err != nil {
			logger.Warn("failed to record login audit", zap.Error(err))
		}
	}
}

func loginOutcome(err error) models.LoginOutcome {
	switch {
	case err == nil:
		return models.LoginOutcomeSuccess
	case services.IsForbiddenError(err):
		return models.LoginOutcomeNotEnrolled
	case services.IsUnauthorizedError(err):
		return models.LoginOutcomeProviderError
	case services.IsConfigurationError(err):
		return models.LoginOutcomeConfigurationError
	default:
		return models.LoginOutcomePersistenceError
	}
}
