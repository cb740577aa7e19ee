// Package storage opens the PostgreSQL connection pool and owns the
// database schema shared by the users, auth and rbac stores.
//
// Migrations are versioned and applied in order inside one transaction
// each; applied versions are recorded in schema_migrations so Migrate is
// safe to run on every start.
package storage
