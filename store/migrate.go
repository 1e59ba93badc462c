// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations
var migrations embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`

// migration is a single numbered schema change.
type migration struct {
	version    int
	name       string
	statements []string
}

// loadMigrations returns the up migrations of a dialect, ordered by
// version.
func loadMigrations(dialect Dialect) ([]migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", dialect, err)
	}

	var out []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}

		body, err := fs.ReadFile(migrations, path.Join(dir, name))
		if err != nil {
			return nil, err
		}

		out = append(out, migration{
			version:    version,
			name:       name,
			statements: splitStatements(string(body)),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].version < out[j].version
	})

	return out, nil
}

// splitStatements splits a migration script on statement terminators. The
// scripts never carry semicolons inside literals.
func splitStatements(script string) []string {
	var stmts []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// Migrate applies every migration of the dialect that the database has not
// seen yet. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	all, err := loadMigrations(dialect)
	if err != nil {
		return err
	}

	var current int
	err = db.QueryRowContext(
		ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version",
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range all {
		if m.version <= current {
			continue
		}

		log.Infof("Applying migration %s", m.name)
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(
		ctx, "INSERT INTO schema_version (version, applied_at) "+
			"VALUES ($1, $2)", m.version, time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}
