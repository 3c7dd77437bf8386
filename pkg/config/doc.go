// Package config loads rbacd configuration from environment variables.
//
// Every setting has a default except the database DSN and the JWT secret.
// LoadConfig validates the result before returning it.
//
// # Server
//
//	RBACD_HOST="0.0.0.0"
//	RBACD_PORT="8080"
//	RBACD_HEALTH_PORT="9090"
//	RBACD_READ_TIMEOUT="15s"
//	RBACD_WRITE_TIMEOUT="15s"
//	RBACD_SHUTDOWN_TIMEOUT="30s"
//	RBACD_MAX_BODY_BYTES="1048576"
//
// # Database
//
//	RBACD_DB_DRIVER="postgres"   # postgres or sqlite3
//	RBACD_DB_DSN="postgres://rbacd@localhost/rbacd?sslmode=disable"
//	RBACD_DB_MAX_OPEN_CONNS="25"
//	RBACD_DB_MAX_IDLE_CONNS="5"
//	RBACD_DB_CONN_MAX_LIFETIME="5m"
//
// # Catalog and seeding
//
//	RBACD_CATALOG_PATH=""        # empty uses the embedded catalog
//	RBACD_SEED_ON_START="true"
//	RBACD_SEED_OVERWRITE="false"
//
// # Caches
//
//	RBACD_ROUTE_CACHE_SIZE="1024"
//	RBACD_ROUTE_CACHE_TTL="5m"
//	RBACD_REDIS_URL=""           # enables the shared permission cache
//	RBACD_PERMISSION_CACHE_TTL="1m"
//
// # Audit
//
//	RBACD_AUDIT_DB="true"
//	RBACD_AUDIT_FILE_DIR=""
//	RBACD_AUDIT_FILE_MAX_SIZE="52428800"
//	RBACD_AUDIT_FILE_MAX_FILES="10"
//	RBACD_AUDIT_S3_BUCKET=""     # archives rotated audit files
//	RBACD_AUDIT_S3_PREFIX="audit"
//	RBACD_AUDIT_S3_REGION="us-east-1"
//	RBACD_AUDIT_S3_ENDPOINT=""
//	RBACD_AUDIT_S3_USE_PATH_STYLE="false"
//	RBACD_AUDIT_S3_DELETE_LOCAL="false"
//
// # Tokens and rate limiting
//
//	RBACD_JWT_SECRET=""          # at least 32 bytes
//	RBACD_JWT_ISSUER="rbacd"
//	RBACD_TOKEN_TTL="1h"
//	RBACD_RATE_LIMIT_ENABLED="true"
//	RBACD_RATE_LIMIT_PER_MINUTE="120"
//	RBACD_RATE_LIMIT_BURST="20"
//
// # Jobs and observability
//
//	RBACD_VALIDATION_SCHEDULE="@every 15m"
//	RBACD_DB_STATS_INTERVAL="15s"
//	RBACD_LOG_LEVEL="info"
//	RBACD_METRICS_ENABLED="true"
//	RBACD_OTEL_ENABLED="false"
//	RBACD_OTEL_ENDPOINT="localhost:4317"
//	RBACD_OTEL_SAMPLE_RATIO="1"
package config
