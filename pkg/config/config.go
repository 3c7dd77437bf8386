package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/auth"
	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Catalog       CatalogConfig
	Cache         CacheConfig
	Audit         AuditConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Jobs          JobsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig selects and sizes the access store
type DatabaseConfig struct {
	Driver          string // postgres or sqlite3
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Pool returns the connection pool settings
func (d DatabaseConfig) Pool() rbac.PoolConfig {
	return rbac.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}
}

// CatalogConfig controls where the catalogs come from and how they are seeded
type CatalogConfig struct {
	// Path overrides the embedded default catalog
	Path string
	// Overwrite updates drifted permissions and roles while seeding
	Overwrite bool
	// SeedOnStart runs SeedAll before the server starts accepting requests
	SeedOnStart bool
}

// CacheConfig holds cache settings
type CacheConfig struct {
	RouteCacheSize int
	RouteCacheTTL  time.Duration

	// RedisURL enables the shared effective-permission cache
	RedisURL      string
	PermissionTTL time.Duration
}

// AuditConfig selects the audit sinks
type AuditConfig struct {
	Database     bool
	FileDir      string
	FileMaxSize  int64
	FileMaxFiles int

	// S3.Bucket enables archiving of rotated audit files
	S3 audit.S3Config
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

// RateLimitConfig holds admin API rate limits
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// JobsConfig holds background job settings
type JobsConfig struct {
	// ValidationSchedule is a cron spec for route mapping validation
	ValidationSchedule string
	DBStatsInterval    time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Catalog:       loadCatalogConfig(),
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("RBACD_HOST", "0.0.0.0"),
		Port:            getEnv("RBACD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("RBACD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("RBACD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("RBACD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("RBACD_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("RBACD_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("RBACD_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("RBACD_DB_DRIVER", rbac.DriverPostgres),
		DSN:             getEnv("RBACD_DB_DSN", ""),
		MaxOpenConns:    getEnvInt("RBACD_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("RBACD_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("RBACD_DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Path:        getEnv("RBACD_CATALOG_PATH", ""),
		Overwrite:   getEnvBool("RBACD_SEED_OVERWRITE", false),
		SeedOnStart: getEnvBool("RBACD_SEED_ON_START", true),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		RouteCacheSize: getEnvInt("RBACD_ROUTE_CACHE_SIZE", 1024),
		RouteCacheTTL:  getEnvDuration("RBACD_ROUTE_CACHE_TTL", 5*time.Minute),
		RedisURL:       getEnv("RBACD_REDIS_URL", ""),
		PermissionTTL:  getEnvDuration("RBACD_PERMISSION_CACHE_TTL", time.Minute),
	}
}

func loadAuditConfig() AuditConfig {
	defaults := audit.DefaultFileSinkConfig()
	return AuditConfig{
		Database:     getEnvBool("RBACD_AUDIT_DB", true),
		FileDir:      getEnv("RBACD_AUDIT_FILE_DIR", ""),
		FileMaxSize:  getEnvInt64("RBACD_AUDIT_FILE_MAX_SIZE", defaults.MaxSize),
		FileMaxFiles: getEnvInt("RBACD_AUDIT_FILE_MAX_FILES", defaults.MaxFiles),
		S3: audit.S3Config{
			Bucket:       getEnv("RBACD_AUDIT_S3_BUCKET", ""),
			Prefix:       getEnv("RBACD_AUDIT_S3_PREFIX", "audit"),
			Region:       getEnv("RBACD_AUDIT_S3_REGION", "us-east-1"),
			Endpoint:     getEnv("RBACD_AUDIT_S3_ENDPOINT", ""),
			AccessKey:    getEnv("RBACD_AUDIT_S3_ACCESS_KEY", ""),
			SecretKey:    getEnv("RBACD_AUDIT_S3_SECRET_KEY", ""),
			UsePathStyle: getEnvBool("RBACD_AUDIT_S3_USE_PATH_STYLE", false),
			DeleteLocal:  getEnvBool("RBACD_AUDIT_S3_DELETE_LOCAL", false),
		},
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("RBACD_JWT_SECRET", ""),
		JWTIssuer: getEnv("RBACD_JWT_ISSUER", "rbacd"),
		TokenTTL:  getEnvDuration("RBACD_TOKEN_TTL", time.Hour),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("RBACD_RATE_LIMIT_ENABLED", true),
		RequestsPerMinute: getEnvInt("RBACD_RATE_LIMIT_PER_MINUTE", 120),
		Burst:             getEnvInt("RBACD_RATE_LIMIT_BURST", 20),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		ValidationSchedule: getEnv("RBACD_VALIDATION_SCHEDULE", "@every 15m"),
		DBStatsInterval:    getEnvDuration("RBACD_DB_STATS_INTERVAL", 15*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("RBACD_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("RBACD_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("RBACD_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("RBACD_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("RBACD_OTEL_SERVICE_NAME", "rbacd"),
		OTelServiceVersion: getEnv("RBACD_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("RBACD_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("RBACD_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case rbac.DriverPostgres, rbac.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, rbac.DriverPostgres, rbac.DriverSQLite)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("JWT secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Cache.RouteCacheSize <= 0 {
		return fmt.Errorf("route cache size must be positive")
	}

	if c.Audit.S3.Bucket != "" && c.Audit.FileDir == "" {
		return fmt.Errorf("audit S3 archive requires an audit file directory")
	}
	if !c.Audit.Database && c.Audit.FileDir == "" {
		return fmt.Errorf("at least one audit sink (database or file) is required")
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate limit must be positive when enabled")
	}

	if c.Jobs.ValidationSchedule != "" {
		if _, err := cron.ParseStandard(c.Jobs.ValidationSchedule); err != nil {
			return fmt.Errorf("invalid validation schedule %q: %w", c.Jobs.ValidationSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
