// Package catalog implements the transfer metadata store using SQLite via
// database/sql. One row per report records the last completed transfer and
// its inferred schema, so re-runs can compare checksums and the warehouse
// loader can create tables without re-sampling the source.
//
// SQLite keeps the catalog a single local file; writes happen once per
// transfer, so batched-INSERT performance concerns do not apply here.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/report2bq/internal/schema"
)

// ErrNotFound is returned by Get for a report with no catalog entry.
var ErrNotFound = errors.New("catalog: transfer not found")

// Entry is one cataloged transfer result.
type Entry struct {
	// ReportID is the transfer's report identifier (primary key).
	ReportID string

	// Object is the destination path, "bucket/object".
	Object string

	// Format is the source format the report was transferred as.
	Format string

	// Schema is the inferred destination schema.
	Schema schema.Schema

	BytesDownloaded int64
	BytesCommitted  int64
	Parts           int

	// Checksum is the xxh3 hash of the committed bytes, hex encoded.
	Checksum string

	CompletedAt time.Time
}

const createTables = `
CREATE TABLE IF NOT EXISTS transfers (
	report_id        TEXT PRIMARY KEY,
	object           TEXT NOT NULL,
	format           TEXT NOT NULL,
	bytes_downloaded INTEGER NOT NULL,
	bytes_committed  INTEGER NOT NULL,
	parts            INTEGER NOT NULL,
	checksum         TEXT NOT NULL,
	completed_at     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schema_fields (
	report_id TEXT NOT NULL,
	position  INTEGER NOT NULL,
	name      TEXT NOT NULL,
	type      TEXT NOT NULL,
	mode      TEXT NOT NULL,
	PRIMARY KEY (report_id, position)
);`

// Catalog is a SQLite-backed transfer metadata store.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path and returns
// the Catalog plus a close function for cleanup.
//
// The path is passed directly to database/sql; for example:
//
//	"transfers.db"
//	"file:transfers.db?cache=shared"
func Open(ctx context.Context, path string) (*Catalog, func(), error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("catalog: path must not be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("catalog: ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTables); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("catalog: create tables: %w", err)
	}

	closeFn := func() { db.Close() }
	return &Catalog{db: db}, closeFn, nil
}

// Put records e, replacing any previous entry for the same report. The entry
// and its schema fields are written in one transaction.
func (c *Catalog) Put(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.ReportID) == "" {
		return fmt.Errorf("catalog: report id must not be empty")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO transfers
			(report_id, object, format, bytes_downloaded, bytes_committed, parts, checksum, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ReportID, e.Object, e.Format,
		e.BytesDownloaded, e.BytesCommitted, e.Parts,
		e.Checksum, e.CompletedAt.UTC().Format(time.RFC3339))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("catalog: insert transfer: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_fields WHERE report_id = ?`, e.ReportID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("catalog: clear schema: %w", err)
	}
	for i, f := range e.Schema {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_fields (report_id, position, name, type, mode)
			 VALUES (?, ?, ?, ?, ?)`,
			e.ReportID, i, f.Name, f.Type, f.Mode)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog: insert schema field: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}
	return nil
}

// Get returns the cataloged entry for reportID, or ErrNotFound.
func (c *Catalog) Get(ctx context.Context, reportID string) (Entry, error) {
	var (
		e  Entry
		at string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT report_id, object, format, bytes_downloaded, bytes_committed, parts, checksum, completed_at
		 FROM transfers WHERE report_id = ?`, reportID).
		Scan(&e.ReportID, &e.Object, &e.Format,
			&e.BytesDownloaded, &e.BytesCommitted, &e.Parts,
			&e.Checksum, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, reportID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: select transfer: %w", err)
	}
	if e.CompletedAt, err = time.Parse(time.RFC3339, at); err != nil {
		return Entry{}, fmt.Errorf("catalog: parse completed_at: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT name, type, mode FROM schema_fields
		 WHERE report_id = ? ORDER BY position`, reportID)
	if err != nil {
		return Entry{}, fmt.Errorf("catalog: select schema: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f schema.Field
		if err := rows.Scan(&f.Name, &f.Type, &f.Mode); err != nil {
			return Entry{}, fmt.Errorf("catalog: scan schema field: %w", err)
		}
		e.Schema = append(e.Schema, f)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, fmt.Errorf("catalog: iterate schema: %w", err)
	}
	return e, nil
}
