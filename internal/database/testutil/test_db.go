// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/animehub/internal/database"
)

// TestDBOption customises MustOpenTestDB.
type TestDBOption func(*options)

type options struct {
	migrate bool
	seed    *database.SeedOptions
}

// WithAutoMigrate creates the schema after opening.
func WithAutoMigrate() TestDBOption {
	return func(o *options) { o.migrate = true }
}

// WithSeedData creates the schema and seeds it with seed.
func WithSeedData(seed database.SeedOptions) TestDBOption {
	return func(o *options) {
		o.migrate = true
		o.seed = &seed
	}
}

// MustOpenTestDB opens a private in-memory SQLite database that is closed when t finishes.
// Each call gets its own named database, so parallel tests never share rows.
func MustOpenTestDB(t testing.TB, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_foreign_keys=1"
	db, err := database.Open(database.Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	switch {
	case o.seed != nil:
		require.NoError(t, database.AutoMigrateAndSeed(db, *o.seed))
	case o.migrate:
		require.NoError(t, database.AutoMigrate(db))
	}
	return db
}
