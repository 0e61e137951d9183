package sqlitemigrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openTestDB(t)

	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id INTEGER PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;"),
		},
	}

	require.NoError(t, ApplyMigrations(context.Background(), db, migrations, "", zerolog.Nop()))
	require.Equal(t, int64(1), queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"))
	require.Equal(t, int64(1), queryInt64(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'items'"))
}

func TestApplyMigrationsSkipsAlreadyApplied(t *testing.T) {
	db := openTestDB(t)

	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items(id INTEGER PRIMARY KEY);")},
	}
	require.NoError(t, ApplyMigrations(context.Background(), db, migrations, "", zerolog.Nop()))
	require.NoError(t, ApplyMigrations(context.Background(), db, migrations, "", zerolog.Nop()))
	require.Equal(t, int64(1), queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApplyMigrationsRejectsEditedMigration(t *testing.T) {
	db := openTestDB(t)

	first := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items(id INTEGER PRIMARY KEY);")},
	}
	require.NoError(t, ApplyMigrations(context.Background(), db, first, "", zerolog.Nop()))

	edited := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{Data: []byte("CREATE TABLE items(id INTEGER PRIMARY KEY, name TEXT);")},
	}
	err := ApplyMigrations(context.Background(), db, edited, "", zerolog.Nop())
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestApplyMigrationsRollsBackFailedFile(t *testing.T) {
	db := openTestDB(t)

	migrations := fstest.MapFS{
		"001_ok.sql":  &fstest.MapFile{Data: []byte("CREATE TABLE items(id INTEGER PRIMARY KEY);")},
		"002_bad.sql": &fstest.MapFile{Data: []byte("CREATE TABLE broken(;")},
	}
	require.Error(t, ApplyMigrations(context.Background(), db, migrations, "", zerolog.Nop()))
	require.Equal(t, int64(1), queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"))
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	require.Error(t, ApplyMigrations(context.Background(), nil, fstest.MapFS{}, "", zerolog.Nop()))
}

func TestExtractUpMigration(t *testing.T) {
	require.Equal(t, "\nA;\n", ExtractUpMigration("-- +migrate Up\nA;\n-- +migrate Down\nB;"))
	require.Equal(t, "\nA;", ExtractUpMigration("-- +migrate Up\nA;"))
	require.Equal(t, "A;", ExtractUpMigration("A;"))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queryInt64(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	require.NoError(t, db.QueryRow(query).Scan(&value))
	return value
}
