package observability

import (
	"net/http"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the login Prometheus collectors
type Metrics struct {
	LoginsTotal         *prometheus.CounterVec
	LoginDuration       *prometheus.HistogramVec
	LoginAttempts       prometheus.Histogram
	PersistenceRetries  prometheus.Counter
	UsersCreatedTotal   *prometheus.CounterVec
	ExtraCoursesTotal   prometheus.Counter
	CourseCacheHitRatio prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewMetrics creates the collectors and registers them on registry.
// cacheHitRatio may be nil when the course cache is disabled.
func NewMetrics(registry *prometheus.Registry, cacheHitRatio func() float64) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_auth_logins_total",
				Help: "Total number of Fenix logins by outcome",
			},
			[]string{"outcome", "branch"},
		),
		LoginDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tutor_auth_login_duration_seconds",
				Help:    "Fenix login duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		LoginAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tutor_auth_login_transaction_attempts",
				Help:    "Transaction attempts needed per login",
				Buckets: []float64{1, 2, 3, 5, 10},
			},
		),
		PersistenceRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tutor_auth_persistence_retries_total",
				Help: "Total number of transaction retries after a conflict",
			},
		),
		UsersCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_auth_users_created_total",
				Help: "Total number of users created on first login",
			},
			[]string{"role"},
		),
		ExtraCoursesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tutor_auth_extra_courses_total",
				Help: "Total number of teaching references with no local course execution",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.LoginDuration,
		m.LoginAttempts,
		m.PersistenceRetries,
		m.UsersCreatedTotal,
		m.ExtraCoursesTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cacheHitRatio != nil {
		m.CourseCacheHitRatio = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "tutor_auth_course_cache_hit_ratio",
				Help: "Hit ratio of the course execution cache",
			},
			cacheHitRatio,
		)
		registry.MustRegister(m.CourseCacheHitRatio)
	}

	return m
}

// LoginObservation describes a finished login for metrics
type LoginObservation struct {
	Outcome      models.LoginOutcome
	Branch       string
	Attempts     int
	Duration     time.Duration
	CreatedRole  models.UserRole
	ExtraCourses int
}

// RecordLogin records a finished login. Safe on a nil receiver.
func (m *Metrics) RecordLogin(obs LoginObservation) {
	if m == nil {
		return
	}

	m.LoginsTotal.WithLabelValues(string(obs.Outcome), obs.Branch).Inc()
	m.LoginDuration.WithLabelValues(string(obs.Outcome)).Observe(obs.Duration.Seconds())

	if obs.Attempts > 0 {
		m.LoginAttempts.Observe(float64(obs.Attempts))
	}
	if obs.Attempts > 1 {
		m.PersistenceRetries.Add(float64(obs.Attempts - 1))
	}
	if obs.CreatedRole != "" {
		m.UsersCreatedTotal.WithLabelValues(string(obs.CreatedRole)).Inc()
	}
	if obs.ExtraCourses > 0 {
		m.ExtraCoursesTotal.Add(float64(obs.ExtraCourses))
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
