package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "crawlgate.db"))
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantDriver string
		wantSource string
		wantErr    bool
	}{
		{"sqlite relative", "sqlite://data/crawlgate.db", "sqlite3", "data/crawlgate.db?" + sqliteBusyTimeout, false},
		{"sqlite absolute", "sqlite:///var/lib/crawlgate.db", "sqlite3", "/var/lib/crawlgate.db?" + sqliteBusyTimeout, false},
		{"sqlite with params", "sqlite:///tmp/x.db?_fk=1", "sqlite3", "/tmp/x.db?_fk=1&" + sqliteBusyTimeout, false},
		{"postgres", "postgres://u:p@localhost:5432/cg?sslmode=disable", "postgres", "postgres://u:p@localhost:5432/cg?sslmode=disable", false},
		{"mysql", "mysql://localhost/cg", "", "", true},
		{"sqlite without path", "sqlite://", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, source, err := parseURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseURL() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseURL() error = %v, want nil", err)
			}
			if driver != tt.wantDriver || source != tt.wantSource {
				t.Errorf("parseURL() = (%q, %q), want (%q, %q)", driver, source, tt.wantDriver, tt.wantSource)
			}
		})
	}
}

func TestMigrateUp_SQLite(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	applied, err := MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"001_rules.sql", "002_evaluation_events.sql", "003_api_keys.sql"}, applied)

	again, err := MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, again)

	statuses, err := MigrateStatus(ctx, database)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.ID)
		assert.NotNil(t, s.AppliedAt, s.ID)
	}

	for _, table := range []string{"rules", "evaluation_events", "api_keys"} {
		var n int
		require.NoError(t, database.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table), table)
	}
}

func TestMigrateUp_ChecksumMismatch(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()

	_, err := MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)
	_, err = database.ExecContext(ctx, "UPDATE migrations SET checksum = 'tampered' WHERE migration_id = '001_rules.sql'")
	require.NoError(t, err)

	_, err = MigrateUp(ctx, database, zerolog.Nop())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestMigrateStatus_Pending(t *testing.T) {
	statuses, err := MigrateStatus(context.Background(), openTestDB(t))
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.False(t, s.Applied, s.ID)
		assert.Len(t, s.Checksum, 64)
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header comment\nCREATE TABLE a (x INT);\n\n-- second\nCREATE INDEX i ON a (x);\n"
	got := splitStatements(sql)
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}

func TestQueries_NamedLookup(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	_, err := MigrateUp(ctx, database, zerolog.Nop())
	require.NoError(t, err)

	q, err := LoadQueries(database)
	require.NoError(t, err)

	var n int
	require.NoError(t, q.Get(ctx, "count-evaluation-events", &n, "pub-1"))
	assert.Zero(t, n)

	_, err = q.Exec(ctx, "no-such-query")
	assert.ErrorIs(t, err, ErrQueryNotFound)
}
