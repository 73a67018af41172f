// Package postgres implements the Postgres warehouse backend using pgx v5.
// Rows are streamed in with COPY; the target table can be created from the
// inferred report schema.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/report2bq/internal/schema"
)

// Config holds Postgres repository configuration.
type Config struct {
	DSN   string // connection string for pgxpool
	Table string // possibly schema-qualified target table, e.g. "public.dcm_123"
}

// Repository is a Postgres-backed warehouse destination.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a close function for
// cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.Table) == "" {
		return nil, nil, fmt.Errorf("postgres: table must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// CopyFrom bulk-inserts rows into the configured table. It satisfies
// warehouse.CopyFn.
func (r *Repository) CopyFrom(ctx context.Context, columns []string, rows [][]any) (int64, error) {
	return r.pool.CopyFrom(ctx, splitFQN(r.cfg.Table), columns, pgx.CopyFromRows(rows))
}

// EnsureTable creates the configured table from the inferred schema if it
// does not exist yet. Existing tables are left untouched, including ones
// whose columns no longer match the schema.
func (r *Repository) EnsureTable(ctx context.Context, s schema.Schema) error {
	ddl, err := BuildCreateTableSQL(r.cfg.Table, s)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// BuildCreateTableSQL builds a deterministic CREATE TABLE IF NOT EXISTS
// statement for the given schema. Every column is nullable: report columns
// routinely carry empty cells and the load must not reject them.
func BuildCreateTableSQL(table string, s schema.Schema) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("postgres ddl: table name must not be empty")
	}
	if len(s) == 0 {
		return "", fmt.Errorf("postgres ddl: at least one column is required")
	}

	cols := make([]string, 0, len(s))
	for _, f := range s {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return "", fmt.Errorf("postgres ddl: column with empty name in table %s", table)
		}
		cols = append(cols, quoteIdent(name)+" "+sqlType(f.Type))
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		quoteFQN(table),
		strings.Join(cols, ",\n  "),
	), nil
}

// sqlType maps an inferred field type to its Postgres column type. Unknown
// types load as TEXT, matching the inference fallback.
func sqlType(t string) string {
	switch t {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeDatetime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// quoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	quoteIdent(`clicks`)     => `"clicks"`
//	quoteIdent(`weird"name`) => `"weird""name"`
func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// quoteFQN quotes a possibly schema-qualified name like "public.dcm_123" to
// `"public"."dcm_123"`. Empty segments are ignored.
func quoteFQN(f string) string {
	parts := strings.Split(f, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, quoteIdent(p))
	}
	return strings.Join(out, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
