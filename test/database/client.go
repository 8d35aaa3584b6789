package database

import (
	"context"
	"testing"

	"github.com/codeready-toolchain/flowscope/pkg/database"
	"github.com/codeready-toolchain/flowscope/test/util"
	"github.com/stretchr/testify/require"
)

// NewTestClient creates a test database client with migrations applied.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	db := util.SetupTestDatabase(t)
	require.NoError(t, database.Migrate(context.Background(), db, "test"))

	// Note: cleanup (schema drop and connection close) is handled by SetupTestDatabase
	return database.NewClientFromDB(db)
}
