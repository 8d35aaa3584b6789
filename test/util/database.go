// Package util provides PostgreSQL fixtures for tests.
//
// Every test gets its own schema inside one database. The database is
// CI_DATABASE_URL when set, otherwise a postgres testcontainer started once
// per test binary. FLOWSCOPE_TEST_PG_IMAGE overrides the container image.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const defaultImage = "postgres:17-alpine"

// maxSchemaPrefix keeps generated names under PostgreSQL's 63-byte
// identifier limit once the prefix and random suffix are added.
const maxSchemaPrefix = 40

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// SetupTestDatabase creates a schema for t and returns a pool whose
// search_path points at it. The schema is dropped when t ends. Migrations
// are left to the caller so this package does not import the application.
func SetupTestDatabase(t *testing.T) *stdsql.DB {
	t.Helper()

	base := GetBaseConnectionString(t)
	schema := GenerateSchemaName(t)
	CreateSchema(t, base, schema)

	db, err := stdsql.Open("pgx", AddSearchPathToConnString(base, schema))
	require.NoError(t, err)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	t.Cleanup(func() {
		_ = db.Close()
		DropSchema(t, base, schema)
	})
	return db
}

// GetBaseConnectionString returns the DSN of the shared database without a
// search_path. NOTIFY/LISTEN is database-wide, so listeners can use it
// whatever schema the test writes to.
func GetBaseConnectionString(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("CI_DATABASE_URL"); dsn != "" {
		return dsn
	}

	containerOnce.Do(func() {
		containerDSN, containerErr = startContainer(t)
	})
	require.NoError(t, containerErr, "failed to start shared postgres container")
	return containerDSN
}

func startContainer(t *testing.T) (string, error) {
	ctx := context.Background()
	image := os.Getenv("FLOWSCOPE_TEST_PG_IMAGE")
	if image == "" {
		image = defaultImage
	}
	t.Logf("Starting shared PostgreSQL container (%s)", image)

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("flowscope"),
		postgres.WithUsername("flowscope"),
		postgres.WithPassword("flowscope"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to start postgres container: %w", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return "", fmt.Errorf("failed to get container connection string: %w", err)
	}
	return dsn, nil
}

// CreateSchema creates schema in the database behind dsn.
func CreateSchema(t *testing.T, dsn, schema string) {
	t.Helper()
	db, err := stdsql.Open("pgx", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.ExecContext(context.Background(), "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	require.NoError(t, err)
	t.Logf("Created test schema %s", schema)
}

// DropSchema drops schema and everything in it. Failures are only logged:
// it runs from cleanups, after the test outcome is decided.
func DropSchema(t *testing.T, dsn, schema string) {
	t.Helper()
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		t.Logf("Warning: could not connect to drop schema %s: %v", schema, err)
		return
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
		t.Logf("Warning: failed to drop schema %s: %v", schema, err)
	}
}

// GenerateSchemaName derives a unique lowercase schema name from the test
// name: test_<name>_<8 hex digits>.
func GenerateSchemaName(t *testing.T) string {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))
	if len(name) > maxSchemaPrefix {
		name = name[:maxSchemaPrefix]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("failed to generate schema suffix: %v", err)
	}
	return "test_" + name + "_" + hex.EncodeToString(suffix)
}

// AddSearchPathToConnString points every connection opened with dsn at
// schema. Both URL and keyword/value DSNs are supported.
func AddSearchPathToConnString(dsn, schema string) string {
	if u, err := url.Parse(dsn); err == nil && (u.Scheme == "postgres" || u.Scheme == "postgresql") {
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return dsn + " search_path=" + schema
}
