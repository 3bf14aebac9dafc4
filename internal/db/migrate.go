package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const migrationLockID = 7462839

type migration struct {
	version  string
	filename string
	checksum string
	sql      string
}

// Migrate applies every NNN_name.sql file in files that has not been applied
// yet, each in its own transaction, under a session advisory lock. An applied
// version whose checksum changed is an error.
func Migrate(ctx context.Context, pool *pgxpool.Pool, files fs.FS, log logrus.FieldLogger) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration lock: %w", err)
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockID).Scan(&locked); err != nil {
		return fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !locked {
		return errors.New("another migrator is currently running")
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	migrations, err := discoverMigrations(files)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		applied, err := applyMigration(ctx, conn.Conn(), m)
		if err != nil {
			return err
		}
		if applied {
			log.WithField("migration", m.filename).Info("migration applied")
		} else {
			log.WithField("migration", m.filename).Debug("migration already applied")
		}
	}
	return nil
}

func discoverMigrations(files fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	seen := make(map[string]string)
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filename := entry.Name()
		version, _, ok := strings.Cut(filename, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("invalid migration filename %s, expected NNN_description.sql", filename)
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %s (%s, %s)", version, prev, filename)
		}
		seen[version] = filename

		body, err := fs.ReadFile(files, filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", filename, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			version:  version,
			filename: filename,
			checksum: hex.EncodeToString(sum[:]),
			sql:      string(body),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].filename < out[j].filename })
	return out, nil
}

func applyMigration(ctx context.Context, conn *pgx.Conn, m migration) (bool, error) {
	var existing string
	err := conn.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.version).Scan(&existing)
	switch {
	case err == nil:
		if existing != m.checksum {
			return false, fmt.Errorf("checksum mismatch for %s: recorded %s, file %s", m.filename, existing, m.checksum)
		}
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("failed to query schema_migrations for %s: %w", m.filename, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for %s: %w", m.filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return false, fmt.Errorf("failed to execute migration %s: %w", m.filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.version, m.filename, m.checksum,
	); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", m.filename, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", m.filename, err)
	}
	return true, nil
}
