package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	embeddedmigrations "github.com/solatis/crawlgate/migrations"
)

// ErrChecksumMismatch is returned when an applied migration no longer matches
// the embedded file of the same name.
var ErrChecksumMismatch = errors.New("migration checksum mismatch")

// MigrationStatus is the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// MigrateUp applies pending migrations in filename order, each in its own
// transaction together with its bookkeeping row. Returns the IDs applied.
func MigrateUp(ctx context.Context, db *sqlx.DB, logger zerolog.Logger) ([]string, error) {
	migrations, err := prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	if err := validateChecksums(ctx, db, migrations); err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, "query applied migrations")
	}

	var done []string
	for _, m := range migrations {
		if _, ok := applied[m.ID]; ok {
			continue
		}

		start := time.Now()
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return done, errors.Wrapf(err, "begin migration %s", m.ID)
		}
		if err := applyMigration(ctx, tx, m); err != nil {
			_ = tx.Rollback()
			return done, errors.Wrapf(err, "apply migration %s", m.ID)
		}
		elapsed := time.Since(start)
		if err := recordMigration(ctx, tx, m, elapsed); err != nil {
			_ = tx.Rollback()
			return done, errors.Wrapf(err, "record migration %s", m.ID)
		}
		if err := tx.Commit(); err != nil {
			return done, errors.Wrapf(err, "commit migration %s", m.ID)
		}

		logger.Info().Str("migration", m.ID).Dur("elapsed", elapsed).Msg("migration applied")
		done = append(done, m.ID)
	}

	return done, nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	migrations, err := prepare(ctx, db)
	if err != nil {
		return nil, err
	}
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return nil, errors.Wrap(err, "query applied migrations")
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, m := range migrations {
		if s, ok := applied[m.ID]; ok {
			statuses = append(statuses, s)
			continue
		}
		statuses = append(statuses, MigrationStatus{ID: m.ID, Checksum: m.Checksum})
	}
	return statuses, nil
}

// prepare ensures the bookkeeping table exists and loads the driver's migrations.
func prepare(ctx context.Context, db *sqlx.DB) ([]migration, error) {
	fsys, dir, err := migrationSource(db.DriverName())
	if err != nil {
		return nil, err
	}
	if err := createMigrationsTable(ctx, db); err != nil {
		return nil, errors.Wrap(err, "create migrations table")
	}
	migrations, err := parseMigrationFiles(fsys, dir)
	if err != nil {
		return nil, errors.Wrap(err, "parse migrations")
	}
	return migrations, nil
}

func migrationSource(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return embeddedmigrations.SqliteMigrations, "sqlite", nil
	case "postgres":
		return embeddedmigrations.PostgresMigrations, "postgres", nil
	default:
		return embed.FS{}, "", errors.Newf("unsupported database driver: %s", driver)
	}
}

func parseMigrationFiles(fsys embed.FS, dir string) ([]migration, error) {
	var migrations []migration

	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".sql") {
			return nil
		}
		content, err := fsys.ReadFile(p)
		if err != nil {
			return errors.Wrapf(err, "read %s", p)
		}
		sum := sha256.Sum256(content)
		migrations = append(migrations, migration{
			ID:       path.Base(p),
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(migrations, func(a, b migration) int { return strings.Compare(a.ID, b.ID) })
	return migrations, nil
}

func createMigrationsTable(ctx context.Context, db *sqlx.DB) error {
	createSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL,
			execution_ms INTEGER NOT NULL
		)`
	if db.DriverName() == "sqlite3" {
		createSQL = `
			CREATE TABLE IF NOT EXISTS migrations (
				migration_id TEXT PRIMARY KEY,
				checksum TEXT NOT NULL,
				applied_at TIMESTAMP NOT NULL,
				execution_ms INTEGER NOT NULL
			)`
	}
	_, err := db.ExecContext(ctx, createSQL)
	return err
}

func appliedMigrations(ctx context.Context, db *sqlx.DB) (map[string]MigrationStatus, error) {
	var rows []struct {
		ID          string    `db:"migration_id"`
		Checksum    string    `db:"checksum"`
		AppliedAt   time.Time `db:"applied_at"`
		ExecutionMs int64     `db:"execution_ms"`
	}
	if err := db.SelectContext(ctx, &rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, err
	}

	applied := make(map[string]MigrationStatus, len(rows))
	for _, r := range rows {
		at := r.AppliedAt
		applied[r.ID] = MigrationStatus{
			ID:          r.ID,
			Checksum:    r.Checksum,
			Applied:     true,
			AppliedAt:   &at,
			ExecutionMs: r.ExecutionMs,
		}
	}
	return applied, nil
}

// validateChecksums rejects applied migrations that were edited or removed.
func validateChecksums(ctx context.Context, db *sqlx.DB, migrations []migration) error {
	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return errors.Wrap(err, "query applied migrations")
	}

	embedded := make(map[string]string, len(migrations))
	for _, m := range migrations {
		embedded[m.ID] = m.Checksum
	}
	for id, s := range applied {
		want, ok := embedded[id]
		if !ok {
			return errors.Wrapf(ErrChecksumMismatch, "migration %s applied but not embedded", id)
		}
		if s.Checksum != want {
			return errors.Wrapf(ErrChecksumMismatch, "migration %s: applied %s, embedded %s", id, s.Checksum, want)
		}
	}
	return nil
}

// applyMigration runs each statement separately; lib/pq rejects multi-statement Exec.
func applyMigration(ctx context.Context, tx *sqlx.Tx, m migration) error {
	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "statement %q", firstLine(stmt))
		}
	}
	return nil
}

// splitStatements drops "--" comment lines and splits on semicolons.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func recordMigration(ctx context.Context, tx *sqlx.Tx, m migration, elapsed time.Duration) error {
	_, err := tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC(), elapsed.Milliseconds(),
	)
	return err
}
