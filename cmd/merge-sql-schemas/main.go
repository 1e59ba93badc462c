// Command merge-sql-schemas applies the store's SQLite migrations against an
// in-memory database and exports the consolidated schema with a
// deterministic order.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coinroster/cgsd/store"
	flags "github.com/jessevdk/go-flags"
	_ "modernc.org/sqlite" // Register the pure-Go SQLite driver.
)

const (
	schemaFilename = "generated_sqlite_schema.sql"

	dirPerm        = 0o750
	filePerm       = 0o600
	defaultTimeout = 3 * time.Minute
)

type options struct {
	OutDir string `long:"outdir" description:"Directory the schema file is written to"`
}

func main() {
	opts := options{OutDir: filepath.Join("store", "schemas")}
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	err := run(opts)
	if err != nil {
		log.Fatal(err)
	}
}

func run(opts options) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open in-memory db: %w", err)
	}

	defer func() { _ = db.Close() }()

	// A second connection would see a different in-memory database.
	db.SetMaxOpenConns(1)

	err = store.Migrate(ctx, db, store.SQLite)
	if err != nil {
		return err
	}

	schema, err := extractSchema(ctx, db)
	if err != nil {
		return err
	}

	outPath := filepath.Join(opts.OutDir, schemaFilename)

	err = writeSchema(outPath, schema)
	if err != nil {
		return err
	}

	log.Printf("Final consolidated schema written to %s", outPath)

	return nil
}

// extractSchema lists the tables, views and indexes in creation order.
// The migration bookkeeping table is left out.
func extractSchema(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT sql FROM sqlite_master
        WHERE type IN ('table','view','index') AND sql IS NOT NULL
            AND name <> 'schema_version'
        ORDER BY
            CASE type
                WHEN 'table' THEN 1
                WHEN 'view' THEN 2
                WHEN 'index' THEN 3
                ELSE 4
            END,
            name`)
	if err != nil {
		return "", fmt.Errorf("failed to query schema: %w", err)
	}

	defer func() { _ = rows.Close() }()

	var b strings.Builder
	for rows.Next() {
		var sqlDef string

		err := rows.Scan(&sqlDef)
		if err != nil {
			return "", fmt.Errorf(
				"failed to scan schema row: %w",
				err,
			)
		}

		b.WriteString(sqlDef)
		b.WriteString(";\n")
	}

	err = rows.Err()
	if err != nil {
		return "", fmt.Errorf("failed to iterate schema rows: %w", err)
	}

	return b.String(), nil
}

func writeSchema(outPath, schema string) error {
	// Ensure the destination directory exists.
	err := os.MkdirAll(filepath.Dir(outPath), dirPerm)
	if err != nil {
		return fmt.Errorf("failed to create schema dir: %w", err)
	}

	err = os.WriteFile(outPath, []byte(schema), filePerm)
	if err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	return nil
}
