//go:build integration_test

package sqltest

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"testing"

	// Register the pgx driver under name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	// Register SQLite driver under name "sqlite".
	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"
)

// DBFactory is a function type that creates a new database connection for
// testing purposes. It takes a testing.TB interface to allow for test failure
// when cannot create the database connection, add cleanup logic and create a
// unique and isolated database for each test case.
type DBFactory func(t testing.TB) *sql.DB

// Backend describes the database a test runs against.
type Backend struct {
	// Name is the subtest name.
	Name string

	// Dialect is the schema dialect of the backend, "postgres" or
	// "sqlite", matching the store's migration directories.
	Dialect string

	// NewDB creates a fresh isolated database.
	NewDB DBFactory
}

// DBTestFunc is a function type that defines the signature for database test
// functions that will be run against different database implementations.
type DBTestFunc func(t *testing.T, backend Backend)

// Backends lists every database implementation tests run against.
var Backends = []Backend{
	{Name: "Postgres", Dialect: "postgres", NewDB: NewPostgresDB},
	{Name: "SQLite", Dialect: "sqlite", NewDB: NewSQLiteDB},
}

// RunDatabaseTest runs the same test function against both PostgreSQL and
// SQLite databases. Each backend runs as a parallel subtest and every
// NewDB call yields an isolated database.
func RunDatabaseTest(t *testing.T, testFunc DBTestFunc) {
	t.Helper()

	for _, backend := range Backends {
		t.Run(backend.Name, func(t *testing.T) {
			t.Parallel()
			testFunc(t, backend)
		})
	}
}

// deterministicTestID generates a deterministic identifier based on the test
// name. This ensures that Golang test caching works properly by avoiding
// random generations for the database name. We need to use this hash to avoid
// long database names that can be cropped by some database systems.
func deterministicTestID(t testing.TB) string {
	t.Helper()
	h := fnv.New32a()
	_, err := h.Write([]byte(t.Name()))

	// This should never fail, but we handle it just in case.
	require.NoError(t, err)

	hashed := fmt.Sprintf("%08x", h.Sum32())
	t.Logf("db name hash: %s", hashed)
	return hashed
}
