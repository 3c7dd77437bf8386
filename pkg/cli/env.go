package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/rbacd/pkg/api"
	"github.com/platinummonkey/rbacd/pkg/audit"
	"github.com/platinummonkey/rbacd/pkg/catalog"
	"github.com/platinummonkey/rbacd/pkg/rbac"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

// options are the connection flags shared by every database command.
// Defaults come from the same RBACD_ variables the server reads.
type options struct {
	driver      string
	dsn         string
	catalogPath string
	redisURL    string
	json        bool
}

func bindOptions(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.driver, "driver", envOr("RBACD_DB_DRIVER", rbac.DriverPostgres), "Database driver (postgres or sqlite3)")
	fs.StringVar(&o.dsn, "dsn", os.Getenv("RBACD_DB_DSN"), "Database DSN")
	fs.StringVar(&o.catalogPath, "catalog", os.Getenv("RBACD_CATALOG_PATH"), "Catalog YAML file (default: embedded catalog)")
	fs.StringVar(&o.redisURL, "redis-url", os.Getenv("RBACD_REDIS_URL"), "Shared permission cache to invalidate after changes")
	fs.BoolVar(&o.json, "json", false, "Print results as JSON")
	return o
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// environment is an opened store with a seeder over the admin route table
type environment struct {
	opts     *options
	db       *sql.DB
	store    *rbac.Store
	catalog  *catalog.Catalog
	recorder *audit.Recorder
	seeder   *seeder.Seeder
	redis    *redis.Client
}

func open(ctx context.Context, o *options, overwrite bool) (*environment, error) {
	if o.dsn == "" {
		return nil, errors.New("database DSN is required (-dsn or RBACD_DB_DSN)")
	}

	c, err := loadCatalog(o.catalogPath)
	if err != nil {
		return nil, err
	}

	db, err := rbac.OpenDB(ctx, o.driver, o.dsn, rbac.PoolConfig{MaxOpenConns: 4})
	if err != nil {
		return nil, err
	}

	sink, err := audit.NewDBSink(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	env := &environment{
		opts:     o,
		db:       db,
		store:    rbac.NewStore(db),
		catalog:  c,
		recorder: audit.NewRecorder(sink, nil),
	}

	if o.redisURL != "" {
		client, err := rbac.NewRedisClient(ctx, o.redisURL)
		if err != nil {
			// the cache expires on its own; seeding still proceeds
			log.WithError(err).Warn("permission cache unavailable, it will not be invalidated")
		} else {
			env.redis = client
		}
	}

	if err := env.reseeder(c, overwrite); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// reseeder swaps in a seeder for c
func (e *environment) reseeder(c *catalog.Catalog, overwrite bool) error {
	s, err := seeder.New(e.store, seeder.Config{
		Catalog:   c,
		Source:    api.RouteTable(),
		Overwrite: overwrite,
		Recorder:  e.recorder,
	})
	if err != nil {
		return err
	}
	e.catalog = c
	e.seeder = s
	return nil
}

// invalidateCaches drops the shared permission cache so running servers
// resolve against the new data
func (e *environment) invalidateCaches(ctx context.Context) {
	if e.redis == nil {
		return
	}
	if err := rbac.NewRedisPermissionCache(e.redis, 0, nil).Invalidate(ctx); err != nil {
		log.WithError(err).Warn("failed to invalidate permission cache")
		return
	}
	log.Info("permission cache invalidated")
}

func (e *environment) Close() error {
	if e.redis != nil {
		e.redis.Close()
	}
	e.recorder.Close()
	return e.db.Close()
}

// loadCatalog loads and validates a catalog. Warnings are logged, errors
// refuse the catalog.
func loadCatalog(path string) (*catalog.Catalog, error) {
	c, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	report := c.Validate()
	for _, issue := range report.Issues {
		if issue.Severity == catalog.SeverityWarning {
			log.WithField("subject", issue.Subject).Warn(issue.Message)
		}
	}
	if err := report.Err(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return c, nil
}

// printJSON writes v to stdout
func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
