package authentication

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gfmateus5/Mateus2121/config"
	"github.com/gfmateus5/Mateus2121/internal/observability"
	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/gfmateus5/Mateus2121/services/audit"
	"github.com/gfmateus5/Mateus2121/services/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// fakeProvider serves a fixed person and course list
type fakeProvider struct {
	profile     *models.Profile
	enrollments *models.Enrollments

	exchangeErr error
	profileErr  error
	coursesErr  error

	exchanges atomic.Int32
	fetches   atomic.Int32
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	p.exchanges.Add(1)
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	return &oauth2.Token{AccessToken: "access-" + code}, nil
}

func (p *fakeProvider) GetProfile(ctx context.Context, tok *oauth2.Token) (*models.Profile, error) {
	p.fetches.Add(1)
	if p.profileErr != nil {
		return nil, p.profileErr
	}
	return p.profile, nil
}

func (p *fakeProvider) GetEnrollments(ctx context.Context, tok *oauth2.Token) (*models.Enrollments, error) {
	p.fetches.Add(1)
	if p.coursesErr != nil {
		return nil, p.coursesErr
	}
	return p.enrollments, nil
}

// recordingAudit keeps every login record
type recordingAudit struct {
	mu      sync.Mutex
	records []audit.LoginRecord
}

func (a *recordingAudit) RecordLogin(rec audit.LoginRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return nil
}

func (a *recordingAudit) last(t *testing.T) audit.LoginRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.records)
	return a.records[len(a.records)-1]
}

type fixture struct {
	service  *Service
	store    *memStore
	provider *fakeProvider
	audit    *recordingAudit
	metrics  *observability.Metrics
	issuer   *token.Issuer
}

var (
	courseES  = models.NewCourseExecution("ES", "Engenharia de Software", "1 Semestre 2019/2020")
	courseASA = models.NewCourseExecution("ASA", "Analise e Sintese de Algoritmos", "1 Semestre 2019/2020")
	courseT1  = models.NewCourseExecution("T1", "Teaching One", "2019/2020")
)

func ref(acronym string) models.CourseReference {
	return models.CourseReference{Acronym: acronym, Name: acronym + " name", AcademicTerm: "2019/2020"}
}

func newFixture(t *testing.T, provider *fakeProvider) *fixture {
	t.Helper()

	store := newMemStore(courseES, courseASA, courseT1)
	issuer, err := token.NewIssuer(config.JWTConfig{Secret: "test-secret", Issuer: "tutor-auth", TTL: time.Hour})
	require.NoError(t, err)

	rec := &recordingAudit{}
	metrics := observability.NewMetrics(prometheus.NewRegistry(), nil)

	svc := NewService(Options{
		Providers: func() (IdentityProvider, error) { return provider, nil },
		TxManager: store,
		Users:     store,
		Courses:   store,
		Tokens:    issuer,
		Audit:     rec,
		Metrics:   metrics,
		RetryPolicy: services.RetryPolicy{
			MaxAttempts: 3,
			Delay:       0,
		},
		Logger: zap.NewNop(),
	})

	return &fixture{
		service:  svc,
		store:    store,
		provider: provider,
		audit:    rec,
		metrics:  metrics,
		issuer:   issuer,
	}
}

func studentProvider(username string, attending ...string) *fakeProvider {
	e := &models.Enrollments{}
	for _, a := range attending {
		e.Attending = append(e.Attending, ref(a))
	}
	return &fakeProvider{
		profile:     &models.Profile{Username: username, DisplayName: "Ana Silva"},
		enrollments: e,
	}
}

func TestService_Authenticate_NewStudent(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES", "ASA", "UNKNOWN"))

	result, err := f.service.Authenticate(context.Background(), "code-1")
	require.NoError(t, err)

	assert.NotEmpty(t, result.Token)
	assert.Equal(t, "ist1", result.User.Username)
	assert.Equal(t, models.RoleStudent, result.User.Role)
	assert.Len(t, result.User.Courses["1 Semestre 2019/2020"], 2)
	assert.Empty(t, result.ExtraCourses)

	stored, ok := f.store.user("ist1")
	require.True(t, ok)
	assert.Equal(t, models.RoleStudent, stored.Role)
	assert.Equal(t, "Ana Silva", stored.Name)
	assert.True(t, stored.HasCourse(courseES))
	assert.True(t, stored.HasCourse(courseASA))

	claims, err := f.issuer.ValidateToken(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, stored.ID.String(), claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)

	rec := f.audit.last(t)
	assert.Equal(t, models.LoginOutcomeSuccess, rec.Outcome)
	assert.Equal(t, "student", rec.Branch)
	assert.Equal(t, 1, rec.Attempts)
	assert.NoError(t, rec.Err)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.UsersCreatedTotal.WithLabelValues(string(models.RoleStudent))))
}

func TestService_Authenticate_NewTeacherWithExtraCourses(t *testing.T) {
	provider := &fakeProvider{
		profile: &models.Profile{Username: "ist2", DisplayName: "Rui"},
		enrollments: &models.Enrollments{
			Teaching: []models.CourseReference{ref("T1"), ref("T2")},
		},
	}
	f := newFixture(t, provider)

	result, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, models.RoleTeacher, result.User.Role)
	require.Len(t, result.ExtraCourses, 1)
	assert.Equal(t, "T2", result.ExtraCourses[0].Acronym)

	stored, ok := f.store.user("ist2")
	require.True(t, ok)
	assert.Equal(t, "T1,T2", stored.CourseExecutionAcronyms)
	assert.True(t, stored.HasCourse(courseT1))
	require.Len(t, stored.CourseExecutions, 1)

	rec := f.audit.last(t)
	assert.Equal(t, "teacher", rec.Branch)
	assert.Equal(t, 1, rec.ExtraCourses)
}

func TestService_Authenticate_ExistingTeacherAcronymsUpdated(t *testing.T) {
	provider := &fakeProvider{
		profile: &models.Profile{Username: "ist2", DisplayName: "Rui"},
		enrollments: &models.Enrollments{
			Teaching: []models.CourseReference{ref("T1"), ref("T3")},
		},
	}
	f := newFixture(t, provider)

	teacher := models.NewUser("Rui", "ist2", models.RoleTeacher)
	teacher.CourseExecutionAcronyms = "T1"
	teacher.AddCourse(courseT1)
	f.store.seed(teacher)

	_, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	stored, _ := f.store.user("ist2")
	assert.Equal(t, "T1,T3", stored.CourseExecutionAcronyms)
	assert.Len(t, stored.CourseExecutions, 1)
	assert.Equal(t, teacher.ID, stored.ID)
}

func TestService_Authenticate_ExistingAdmin(t *testing.T) {
	provider := &fakeProvider{
		profile:     &models.Profile{Username: "admin", DisplayName: "Admin"},
		enrollments: &models.Enrollments{},
	}
	f := newFixture(t, provider)
	admin := models.NewUser("Admin", "admin", models.RoleAdmin)
	f.store.seed(admin)

	result, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, models.RoleAdmin, result.User.Role)
	assert.Equal(t, admin.ID, result.User.ID)
	assert.Equal(t, "admin", f.audit.last(t).Branch)
}

func TestService_Authenticate_ExistingStudentGainsCourse(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES", "ASA"))

	student := models.NewUser("Ana Silva", "ist1", models.RoleStudent)
	student.AddCourse(courseES)
	f.store.seed(student)

	_, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	stored, _ := f.store.user("ist1")
	assert.Equal(t, models.RoleStudent, stored.Role)
	assert.Len(t, stored.CourseExecutions, 2)
	assert.True(t, stored.HasCourse(courseASA))
	assert.Equal(t, 1, f.store.linkWrites, "the existing ES link is loaded, not written again")
}

func TestService_Authenticate_CourseLinkLookupFails(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))
	f.store.seed(models.NewUser("Ana Silva", "ist1", models.RoleStudent))
	f.store.linksErr = errors.New("connection reset")

	result, err := f.service.Authenticate(context.Background(), "code")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to load course links")
	assert.Equal(t, 0, f.store.linkWrites)
	assert.Equal(t, 0, f.store.commits)
}

func TestService_Authenticate_TeacherAttendingKeepsRole(t *testing.T) {
	f := newFixture(t, studentProvider("ist2", "ES"))
	f.store.seed(models.NewUser("Rui", "ist2", models.RoleTeacher))

	result, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, models.RoleTeacher, result.User.Role)
	assert.Equal(t, "student", f.audit.last(t).Branch)
}

func TestService_Authenticate_Idempotent(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))

	first, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)
	second, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, first.User, second.User)
	assert.NotEqual(t, first.Token, second.Token, "every login gets a fresh token")
	assert.Equal(t, 1, f.store.userCount())

	stored, _ := f.store.user("ist1")
	assert.Len(t, stored.CourseExecutions, 1)
	assert.Equal(t, 1, f.store.linkWrites, "second login finds the link")
}

func TestService_Authenticate_NotEnrolled(t *testing.T) {
	tests := []struct {
		name     string
		seed     *models.User
		teaching []models.CourseReference
	}{
		{"unknown person", nil, nil},
		{"unknown courses only", nil, []models.CourseReference{ref("T9")}},
		{"existing student without courses", models.NewUser("Ana", "ist1", models.RoleStudent), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{
				profile:     &models.Profile{Username: "ist1", DisplayName: "Ana"},
				enrollments: &models.Enrollments{Teaching: tt.teaching},
			}
			f := newFixture(t, provider)
			if tt.seed != nil {
				f.store.seed(tt.seed)
			}
			usersBefore := f.store.userCount()

			result, err := f.service.Authenticate(context.Background(), "code")
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, services.IsForbiddenError(err))
			assert.ErrorIs(t, err, services.ErrUserNotEnrolled)
			assert.Equal(t, "ist1", services.GetErrorDetails(err)["username"])

			assert.Equal(t, usersBefore, f.store.userCount(), "nothing is persisted")
			assert.Equal(t, int32(1), provider.exchanges.Load())

			rec := f.audit.last(t)
			assert.Equal(t, models.LoginOutcomeNotEnrolled, rec.Outcome)
			assert.Equal(t, 1, rec.Attempts, "not enrolled is never retried")
		})
	}
}

func TestService_Authenticate_ProviderFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		provider     *fakeProvider
		factoryErr   error
		wantOutcome  models.LoginOutcome
		wantExchange int32
		check        func(t *testing.T, err error)
	}{
		{
			name:         "client cannot be built",
			provider:     studentProvider("ist1", "ES"),
			factoryErr:   errors.New("consumer key is required"),
			wantOutcome:  models.LoginOutcomeConfigurationError,
			wantExchange: 0,
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsConfigurationError(err))
				assert.ErrorIs(t, err, services.ErrProviderConfiguration)
			},
		},
		{
			name:         "code rejected",
			provider:     &fakeProvider{exchangeErr: boom},
			wantOutcome:  models.LoginOutcomeProviderError,
			wantExchange: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrProviderAuth)
				assert.ErrorIs(t, err, boom)
			},
		},
		{
			name:         "person fetch fails",
			provider:     &fakeProvider{profileErr: boom},
			wantOutcome:  models.LoginOutcomeProviderError,
			wantExchange: 1,
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsUnauthorizedError(err))
			},
		},
		{
			name:         "courses fetch fails",
			provider:     &fakeProvider{profile: &models.Profile{Username: "ist1"}, coursesErr: boom},
			wantOutcome:  models.LoginOutcomeProviderError,
			wantExchange: 1,
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsUnauthorizedError(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.provider)
			if tt.factoryErr != nil {
				f.service.providers = func() (IdentityProvider, error) { return nil, tt.factoryErr }
			}

			_, err := f.service.Authenticate(context.Background(), "code")
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, tt.wantExchange, tt.provider.exchanges.Load(), "provider calls are never retried")
			assert.Equal(t, 0, f.store.userCount())
			assert.Equal(t, 0, f.store.commits)
			assert.Equal(t, tt.wantOutcome, f.audit.last(t).Outcome)
		})
	}
}

func TestService_Authenticate_RetriesConflicts(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))
	f.store.failCommits = 2

	result, err := f.service.Authenticate(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, result.User.Role)

	assert.Equal(t, int32(1), f.provider.exchanges.Load(), "provider data is reused across attempts")
	assert.Equal(t, int32(2), f.provider.fetches.Load())
	assert.Equal(t, 1, f.store.userCount())

	rec := f.audit.last(t)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, models.LoginOutcomeSuccess, rec.Outcome)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.PersistenceRetries))
}

func TestService_Authenticate_RetriesExhausted(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))
	f.store.failCommits = 10

	result, err := f.service.Authenticate(context.Background(), "code")
	require.Error(t, err)
	assert.Nil(t, result)

	assert.True(t, services.IsInternalError(err))
	assert.ErrorIs(t, err, services.ErrPersistenceFailure)
	assert.Equal(t, 3, services.GetErrorDetails(err)["attempts"])
	assert.Equal(t, 0, f.store.userCount())
	assert.Equal(t, 7, f.store.failCommits)

	rec := f.audit.last(t)
	assert.Equal(t, models.LoginOutcomePersistenceError, rec.Outcome)
	assert.Equal(t, 3, rec.Attempts)
}

func TestService_Authenticate_ConcurrentSameUsername(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))
	f.store.commitGate = &sync.WaitGroup{}
	f.store.commitGate.Add(2)

	var wg sync.WaitGroup
	results := make([]*models.AuthResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.service.Authenticate(context.Background(), "code")
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, f.store.userCount(), "exactly one user row")

	stored, _ := f.store.user("ist1")
	assert.Equal(t, stored.ID, results[0].User.ID)
	assert.Equal(t, stored.ID, results[1].User.ID)
	assert.Len(t, stored.CourseExecutions, 1)

	attempts := []int{f.audit.records[0].Attempts, f.audit.records[1].Attempts}
	assert.ElementsMatch(t, []int{1, 2}, attempts, "the loser retries once and observes the winner")
}

func TestService_Authenticate_RequestInfoReachesAudit(t *testing.T) {
	f := newFixture(t, studentProvider("ist1", "ES"))

	ctx := audit.WithRequestInfo(context.Background(), audit.RequestInfo{ID: "req-7", IPAddress: "10.0.0.9", UserAgent: "browser"})
	_, err := f.service.Authenticate(ctx, "code")
	require.NoError(t, err)

	rec := f.audit.last(t)
	assert.Equal(t, "req-7", rec.Request.ID)
	assert.Equal(t, "10.0.0.9", rec.Request.IPAddress)
	assert.Equal(t, "ist1", rec.Username)
	require.NotNil(t, rec.User)
	assert.Equal(t, "ist1", rec.User.Username)
}

func TestLoginOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want models.LoginOutcome
	}{
		{nil, models.LoginOutcomeSuccess},
		{services.NewUserNotEnrolledError("x"), models.LoginOutcomeNotEnrolled},
		{services.NewProviderAuthError(nil), models.LoginOutcomeProviderError},
		{services.NewProviderConfigurationError(nil), models.LoginOutcomeConfigurationError},
		{services.NewPersistenceFailureError(3, nil), models.LoginOutcomePersistenceError},
		{errors.New("plain"), models.LoginOutcomePersistenceError},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, loginOutcome(tt.err))
		})
	}
}
