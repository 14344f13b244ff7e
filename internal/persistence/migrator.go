package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMigrationModified is returned when an applied up-migration no longer
// matches the checksum recorded when it ran.
var ErrMigrationModified = errors.New("applied migration was modified")

// migrationLockKey serializes migrators across replicas that start at the
// same time. Any constant works as long as every binary uses the same one.
const migrationLockKey int64 = 0x7472616e636865 // "tranche"

// Migrator applies the tranche_ledger schema files from migrationsDir.
// Files follow the golang-migrate naming {version}_{name}.up.sql and
// .down.sql. Applied versions and their checksums are recorded in
// public.tranche_ledger_migrations, outside the schema they create.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

// MigrationStatus describes one up-migration file.
type MigrationStatus struct {
	Version  string
	File     string
	Applied  bool
	Modified bool
}

type migrationFile struct {
	version  string
	name     string
	checksum string
	sql      string
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Status lists every up-migration with whether it ran and whether the file
// changed since.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, err := m.loadFiles(".up.sql")
	if err != nil {
		return nil, err
	}
	if err := ensureMigrationTable(ctx, m.db); err != nil {
		return nil, err
	}
	applied, err := appliedChecksums(ctx, m.db)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		sum, ok := applied[f.version]
		out = append(out, MigrationStatus{
			Version:  f.version,
			File:     f.name,
			Applied:  ok,
			Modified: ok && sum != f.checksum,
		})
	}
	return out, nil
}

// Up applies all pending up-migrations in version order, each in its own
// transaction, under a session advisory lock.
func (m *Migrator) Up(ctx context.Context) error {
	files, err := m.loadFiles(".up.sql")
	if err != nil {
		return err
	}

	return m.locked(ctx, func(conn *sql.Conn) error {
		if err := ensureMigrationTable(ctx, conn); err != nil {
			return err
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}
		pending, err := planMigrations(files, applied)
		if err != nil {
			return err
		}

		for _, f := range pending {
			m.logger.Info().Str("file", f.name).Msg("applying migration")
			err := inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, f.sql); err != nil {
					return fmt.Errorf("exec migration %s: %w", f.name, err)
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.tranche_ledger_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
					f.version, f.name, f.checksum,
				)
				if err != nil {
					return fmt.Errorf("record migration %s: %w", f.name, err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.logger.Info().Str("version", f.version).Str("checksum", f.checksum[:12]).Msg("applied migration")
		}
		if len(pending) == 0 {
			m.logger.Debug().Msg("schema up to date")
		}
		return nil
	})
}

// Down rolls back the most recently applied version.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		if err := ensureMigrationTable(ctx, conn); err != nil {
			return err
		}

		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.tranche_ledger_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downFile := strings.TrimSuffix(filename, ".up.sql") + ".down.sql"
		content, err := os.ReadFile(filepath.Join(m.migrationsDir, downFile))
		if err != nil {
			return fmt.Errorf("read down migration: %w", err)
		}

		err = inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(content)); err != nil {
				return fmt.Errorf("exec down migration %s: %w", downFile, err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM public.tranche_ledger_migrations WHERE version = $1`, version,
			); err != nil {
				return fmt.Errorf("remove migration record %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.logger.Info().Str("file", downFile).Msg("rolled back migration")
		return nil
	})
}

// locked runs fn on one pooled connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()
	return fn(conn)
}

func (m *Migrator) loadFiles(suffix string) ([]migrationFile, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var files []migrationFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(m.migrationsDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		files = append(files, migrationFile{
			version:  extractVersion(e.Name()),
			name:     e.Name(),
			checksum: checksum(content),
			sql:      string(content),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// planMigrations returns the files not yet applied. An applied file whose
// content changed stops the plan.
func planMigrations(files []migrationFile, applied map[string]string) ([]migrationFile, error) {
	var pending []migrationFile
	for _, f := range files {
		sum, ok := applied[f.version]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if sum != f.checksum {
			return nil, fmt.Errorf("%w: %s", ErrMigrationModified, f.name)
		}
	}
	return pending, nil
}

type queryExecer interface {
	execer
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func ensureMigrationTable(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.tranche_ledger_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return nil
}

func appliedChecksums(ctx context.Context, db queryExecer) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, checksum FROM public.tranche_ledger_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var version, sum string
		if err := rows.Scan(&version, &sum); err != nil {
			return nil, err
		}
		applied[version] = sum
	}
	return applied, rows.Err()
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// extractVersion returns the numeric prefix of a migration file name:
// "000001_tranche_ledger.up.sql" gives "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
