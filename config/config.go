package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Fenix         FenixConfig
	JWT           JWTConfig
	Retry         RetryConfig
	CourseCache   CourseCacheConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// FenixConfig holds the FenixEdu OAuth client configuration
type FenixConfig struct {
	BaseURL        string // e.g. https://fenix.tecnico.ulisboa.pt
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string        // OAuth2 redirect URI registered with Fenix
	HTTPTimeout    time.Duration // applies to code exchange and API calls
	FrontEndURL    string        // Post-login redirect target (loaded from FRONT_END_URL)
}

// JWTConfig holds session token signing configuration
type JWTConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
}

// RetryConfig bounds the retry loop around the login transaction
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// CourseCacheConfig sizes the course execution lookup cache. Size 0 disables it.
type CourseCacheConfig struct {
	Size int
	TTL  time.Duration
}

// AuditConfig holds the asynchronous login audit pipeline settings
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	Workers    int
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Fenix: FenixConfig{
			BaseURL:        strings.TrimRight(getEnv("FENIX_BASE_URL", "https://fenix.tecnico.ulisboa.pt"), "/"),
			ConsumerKey:    getEnv("FENIX_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("FENIX_CONSUMER_SECRET", ""),
			CallbackURL:    getEnv("FENIX_CALLBACK_URL", "http://localhost:8080/auth/fenix/callback"),
			HTTPTimeout:    getEnvAsDuration("FENIX_HTTP_TIMEOUT", 10*time.Second),
			FrontEndURL:    getEnv("FRONT_END_URL", "http://localhost:8081"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "tutor-auth"),
			TTL:    getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("AUTH_RETRY_MAX_ATTEMPTS", 3),
			Delay:       getEnvAsDuration("AUTH_RETRY_DELAY", 5*time.Second),
		},
		CourseCache: CourseCacheConfig{
			Size: getEnvAsInt("COURSE_CACHE_SIZE", 512),
			TTL:  getEnvAsDuration("COURSE_CACHE_TTL", 5*time.Minute),
		},
		Audit: AuditConfig{
			Enabled:    getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	// Fenix and signing secrets are required in production
	if c.IsProduction() {
		if c.Fenix.ConsumerKey == "" || c.Fenix.ConsumerSecret == "" {
			return fmt.Errorf("fenix consumer key and secret are required in production")
		}
		if c.JWT.Secret == "" {
			return fmt.Errorf("jwt secret is required in production")
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}

	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "tutor")
	cfg.Password = getEnv("DB_PASSWORD", "tutor")
	cfg.Database = getEnv("DB_NAME", "tutordb")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
