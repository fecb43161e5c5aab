package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Upstream      UpstreamConfig
	OAuth         OAuthConfig
	Session       SessionConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
	RateLimit     RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// UpstreamConfig holds the upstream FHIR server configuration
type UpstreamConfig struct {
	// APIServer is the base URL of the FHIR server being proxied.
	APIServer string
	// APIServerName is a display name surfaced in health and logs.
	APIServerName string
	// BaseURL is the canonical external base for browser-facing URLs
	// (authorize, manage). Deriving those from the Host header breaks
	// behind load balancers, so operators set this explicitly.
	BaseURL string
	// Timeout bounds every outbound call, including the metadata fetch.
	Timeout time.Duration
	// EnableUnsecureFHIR exposes the /api/open-fhir passthrough.
	EnableUnsecureFHIR bool
}

// OAuthConfig holds authorization engine configuration
type OAuthConfig struct {
	AccessLifetime   time.Duration
	GrantLifetime    time.Duration
	ApprovalLifetime time.Duration
	// EnableDebugEndpoints exposes /oauth/debug. Never enable in production.
	EnableDebugEndpoints bool
}

// SessionConfig holds session management configuration
type SessionConfig struct {
	CookieName     string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	Lifetime       time.Duration
	IdleTimeout    time.Duration
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	SecretKey        string
	PBKDF2Rounds     int
	PBKDF2SaltLength int
	PBKDF2KeyLength  int
}

// ObservabilityConfig holds logging and tracing configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "60s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Upstream: UpstreamConfig{
			APIServer:          getEnv("API_SERVER", ""),
			APIServerName:      getEnv("API_SERVER_NAME", "fhir"),
			BaseURL:            getEnv("BASE_URL", ""),
			Timeout:            parseDuration("UPSTREAM_TIMEOUT", "30s"),
			EnableUnsecureFHIR: parseBool("ENABLE_UNSECURE_FHIR", false),
		},
		OAuth: OAuthConfig{
			AccessLifetime:       parseDuration("OAUTH_ACCESS_LIFETIME", "1h"),
			GrantLifetime:        parseDuration("OAUTH_GRANT_LIFETIME", "100s"),
			ApprovalLifetime:     parseDuration("OAUTH_APPROVAL_LIFETIME", "8760h"),
			EnableDebugEndpoints: parseBool("ENABLE_DEBUG_ENDPOINTS", false),
		},
		Session: SessionConfig{
			CookieName:     getEnv("SESSION_COOKIE_NAME", "fhirgate_session"),
			CookiePath:     getEnv("SESSION_COOKIE_PATH", "/"),
			CookieSecure:   parseBool("SESSION_COOKIE_SECURE", false),
			CookieHTTPOnly: parseBool("SESSION_COOKIE_HTTP_ONLY", true),
			Lifetime:       parseDuration("SESSION_LIFETIME", "24h"),
			IdleTimeout:    parseDuration("SESSION_IDLE_TIMEOUT", "1h"),
		},
		Security: SecurityConfig{
			SecretKey:        getEnv("SECRET_KEY", ""),
			PBKDF2Rounds:     parseInt("PBKDF2_ROUNDS", 29000),
			PBKDF2SaltLength: parseInt("PBKDF2_SALT_LENGTH", 16),
			PBKDF2KeyLength:  parseInt("PBKDF2_KEY_LENGTH", 64),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "fhirgate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: float64(parseInt("RATELIMIT_RPS", 10)),
			Burst:             parseInt("RATELIMIT_BURST", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Upstream.APIServer == "" {
		return fmt.Errorf("API_SERVER is required")
	}
	if c.Security.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}
