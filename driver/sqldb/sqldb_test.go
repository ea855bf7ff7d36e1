package sqldb_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/root-talis/ayumi/driver/sqldb"
	"github.com/root-talis/ayumi/migration"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestMigrateRunsScript(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	drv := sqldb.New(db)
	ref := migration.Ref{Key: 1, ID: "0001-users"}

	err := drv.Migrate(ctx, migration.Env{Direction: migration.Up}, ref,
		"CREATE TABLE users (id INTEGER PRIMARY KEY);\nCREATE TABLE roles (id INTEGER PRIMARY KEY);")
	require.NoError(t, err)
	assert.True(t, tableExists(t, db, "users"))
	assert.True(t, tableExists(t, db, "roles"))

	err = drv.Migrate(ctx, migration.Env{Direction: migration.Down}, ref, "DROP TABLE roles; DROP TABLE users;")
	require.NoError(t, err)
	assert.False(t, tableExists(t, db, "users"))
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)
	ref := migration.Ref{Key: 2, ID: "0002-broken"}

	err := sqldb.New(db).Migrate(ctx, migration.Env{Direction: migration.Up}, ref,
		"CREATE TABLE half (id INTEGER); INSERT INTO missing VALUES (1);")
	assert.ErrorContains(t, err, "0002-broken")
	assert.False(t, tableExists(t, db, "half"))
}

func TestMigrateWithoutTransaction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	err := sqldb.New(db, sqldb.WithoutTransaction()).Migrate(ctx, migration.Env{Direction: migration.Up},
		migration.Ref{Key: 1, ID: "0001"}, "CREATE TABLE plain (id INTEGER);")
	require.NoError(t, err)
	assert.True(t, tableExists(t, db, "plain"))
}
