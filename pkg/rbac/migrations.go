package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/rbacd/pkg/observability"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Migration represents a schema migration with one statement set per driver
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// SQL returns the statements for driver
func (m Migration) SQL(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return m.Postgres, nil
	case DriverSQLite:
		return m.SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// GetMigrations returns all access-control migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create permissions and roles tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS permissions (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					category VARCHAR(100) NOT NULL DEFAULT '',
					resource VARCHAR(100),
					action VARCHAR(50),
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);

				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					type VARCHAR(20) NOT NULL CHECK (type IN ('business', 'admin')),
					priority INTEGER NOT NULL DEFAULT 0,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_roles_type ON roles(type);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					category TEXT NOT NULL DEFAULT '',
					resource TEXT,
					action TEXT,
					is_system BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_permissions_category ON permissions(category);

				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT NOT NULL DEFAULT '',
					type TEXT NOT NULL CHECK (type IN ('business', 'admin')),
					priority INTEGER NOT NULL DEFAULT 0,
					is_default BOOLEAN NOT NULL DEFAULT 0,
					is_system BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_roles_type ON roles(type);
			`,
		},
		{
			Version:     2,
			Description: "Create role_permissions table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id BIGSERIAL PRIMARY KEY,
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(role_id, permission_id)
				);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS role_permissions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					role_id INTEGER NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
					created_at TIMESTAMP NOT NULL,
					UNIQUE(role_id, permission_id)
				);
				CREATE INDEX IF NOT EXISTS idx_role_permissions_permission_id ON role_permissions(permission_id);
			`,
		},
		{
			// (path, method) uniqueness is kept by the seeder; validation
			// reports any duplicates.
			Version:     3,
			Description: "Create routes table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS routes (
					id BIGSERIAL PRIMARY KEY,
					method VARCHAR(10) NOT NULL,
					path TEXT NOT NULL,
					permission_id BIGINT REFERENCES permissions(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_routes_path_method ON routes(path, method);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS routes (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					method TEXT NOT NULL,
					path TEXT NOT NULL,
					permission_id INTEGER REFERENCES permissions(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_routes_path_method ON routes(path, method);
			`,
		},
		{
			Version:     4,
			Description: "Create users table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					assigned_role_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					restriction_kind VARCHAR(10) CHECK (restriction_kind IN ('ban', 'suspend')),
					restriction_reason TEXT,
					restriction_expires_at TIMESTAMP,
					restricted_by BIGINT,
					restricted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_users_restriction_expires_at ON users(restriction_expires_at);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					email TEXT NOT NULL UNIQUE,
					role_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
					assigned_role_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
					restriction_kind TEXT CHECK (restriction_kind IN ('ban', 'suspend')),
					restriction_reason TEXT,
					restriction_expires_at TIMESTAMP,
					restricted_by INTEGER,
					restricted_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_users_restriction_expires_at ON users(restriction_expires_at);
			`,
		},
		{
			Version:     5,
			Description: "Create security_audit_log table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS security_audit_log (
					id VARCHAR(36) PRIMARY KEY,
					timestamp TIMESTAMP NOT NULL,
					actor_id BIGINT,
					action VARCHAR(64) NOT NULL,
					severity VARCHAR(16) NOT NULL,
					resource_type VARCHAR(64),
					resource_id VARCHAR(255),
					permission VARCHAR(100),
					success BOOLEAN NOT NULL,
					failure_reason TEXT,
					request_id VARCHAR(64),
					ip_address VARCHAR(64),
					metadata JSONB
				);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_timestamp ON security_audit_log(timestamp);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_actor_id ON security_audit_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_action ON security_audit_log(action);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS security_audit_log (
					id TEXT PRIMARY KEY,
					timestamp TIMESTAMP NOT NULL,
					actor_id INTEGER,
					action TEXT NOT NULL,
					severity TEXT NOT NULL,
					resource_type TEXT,
					resource_id TEXT,
					permission TEXT,
					success BOOLEAN NOT NULL,
					failure_reason TEXT,
					request_id TEXT,
					ip_address TEXT,
					metadata TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_timestamp ON security_audit_log(timestamp);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_actor_id ON security_audit_log(actor_id);
				CREATE INDEX IF NOT EXISTS idx_security_audit_log_action ON security_audit_log(action);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, driver string) error {
	logger := observability.FromContext(ctx).WithField("component", "migrations")

	if _, err := (Migration{}).SQL(driver); err != nil {
		return err
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rbac_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		stmts, err := migration.SQL(driver)
		if err != nil {
			return err
		}

		logger.Infof("Running migration %d: %s", migration.Version, migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, stmts); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM rbac_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
