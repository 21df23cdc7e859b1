package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultCatalogTimeout bounds one information_schema query.
const DefaultCatalogTimeout = 5 * time.Second

// PgCatalog reads column metadata from information_schema for tables in
// the public schema.
type PgCatalog struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPgCatalog creates a catalog over the given pool.
func NewPgCatalog(pool *pgxpool.Pool, timeout time.Duration) (*PgCatalog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if timeout <= 0 {
		timeout = DefaultCatalogTimeout
	}
	return &PgCatalog{pool: pool, timeout: timeout}, nil
}

// Columns returns the table's columns in ordinal position. An unknown
// table yields an empty slice; the introspector turns that into
// ErrNotFound.
func (c *PgCatalog) Columns(ctx context.Context, table string) ([]Column, error) {
	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rows, err := c.pool.Query(queryCtx,
		`SELECT column_name, data_type
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1
		 ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating columns: %w", err)
	}
	return columns, nil
}
