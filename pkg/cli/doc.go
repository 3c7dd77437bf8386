// Package cli implements rbacctl, the operator command line for rbacd.
//
// Every command that touches the store accepts -driver, -dsn, -catalog,
// -redis-url and -json. Their defaults come from RBACD_DB_DRIVER,
// RBACD_DB_DSN, RBACD_CATALOG_PATH and RBACD_REDIS_URL. Progress is logged
// to stderr; results go to stdout.
//
// seed: reconcile catalogs and the admin routes into the store
//
//	rbacctl seed -dsn "$DSN" -overwrite
//
// validate: check catalog integrity and stored route mappings
//
//	rbacctl validate -catalog ./catalog.yaml -catalog-only
//	rbacctl validate -dsn "$DSN"
//
// report, stats, health: inspect the stored data
//
//	rbacctl report -dsn "$DSN" -unmapped
//	rbacctl stats -dsn "$DSN" -json
//	rbacctl health -dsn "$DSN"
//
// cleanup: delete every role, permission and role link
//
//	rbacctl cleanup -dsn "$DSN" -confirm DELETE-ACCESS-CONTROL
//
// watch: re-seed whenever a catalog file changes
//
//	rbacctl watch -dsn "$DSN" -catalog ./catalog.yaml -delay 5s
//
// token: issue an access token for an existing account
//
//	rbacctl token -dsn "$DSN" -user 42 -secret "$RBACD_JWT_SECRET"
package cli
