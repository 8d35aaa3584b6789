package database

import (
	"context"
	stdsql "database/sql"
	"testing"

	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/test/util"
	"github.com/stretchr/testify/require"
)

// SharedTestDB creates a single PostgreSQL schema that can be shared by
// multiple replicas. Each replica gets its own connection pool via
// NewClient, but all pools point to the same schema, which is what
// cross-replica NOTIFY/LISTEN tests need.
type SharedTestDB struct {
	dsn string
}

// NewSharedTestDB creates a schema, migrates it once, and drops it after
// every replica's cleanup has run.
func NewSharedTestDB(t *testing.T) *SharedTestDB {
	t.Helper()

	base := util.GetBaseConnectionString(t)
	schema := util.GenerateSchemaName(t)
	util.CreateSchema(t, base, schema)
	// Registered before any replica, so it runs last.
	t.Cleanup(func() { util.DropSchema(t, base, schema) })

	dsn := util.AddSearchPathToConnString(base, schema)
	db, err := stdsql.Open("pgx", dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db, "test"))
	_ = db.Close()

	return &SharedTestDB{dsn: dsn}
}

// ConnString returns the connection string for the shared schema. The
// NOTIFY listener uses it for its dedicated connection.
func (s *SharedTestDB) ConnString() string {
	return s.dsn
}

// NewClient creates an independent *database.Client backed by a fresh
// connection pool to the shared schema. Closed via t.Cleanup.
func (s *SharedTestDB) NewClient(t *testing.T) *database.Client {
	t.Helper()

	db, err := stdsql.Open("pgx", s.dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	client := database.NewClientFromDB(db)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
