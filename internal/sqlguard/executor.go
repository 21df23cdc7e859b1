package sqlguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDatabase indicates the analytic database rejected or failed an
// already-validated statement. Distinct from ErrUnsafeQuery: a fixed
// statement may be retried, and a found fix feeds the learning capture
// path.
var ErrDatabase = errors.New("database error")

// DefaultExecTimeout bounds a single guarded execution.
const DefaultExecTimeout = 30 * time.Second

// ResultSet holds the rows a guarded execution returned.
type ResultSet struct {
	Columns []string
	Rows    []map[string]any
}

// Executor runs validated statements on the analytic database inside a
// read-only transaction. The transaction access mode backstops Validate:
// even a statement that slipped through lexical checks cannot write.
type Executor struct {
	pool    *pgxpool.Pool
	guard   *Guard
	logger  *slog.Logger
	timeout time.Duration
}

// NewExecutor creates an Executor over the given pool and guard.
func NewExecutor(pool *pgxpool.Pool, guard *Guard, timeout time.Duration, logger *slog.Logger) (*Executor, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("guard is required")
	}
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{pool: pool, guard: guard, logger: logger, timeout: timeout}, nil
}

// Execute validates raw SQL and runs it, returning the bounded result
// set. Validation failures surface as ErrUnsafeQuery; execution failures
// as ErrDatabase.
func (e *Executor) Execute(ctx context.Context, raw string) (*ResultSet, error) {
	stmt, err := e.guard.Validate(raw)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	tx, err := e.pool.BeginTx(execCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("%w: beginning read-only transaction: %w", ErrDatabase, err)
	}
	defer func() {
		if rbErr := tx.Rollback(execCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			e.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	rows, err := tx.Query(execCtx, stmt.Raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}
	defer rows.Close()

	result, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	if err := tx.Commit(execCtx); err != nil {
		return nil, fmt.Errorf("%w: committing read-only transaction: %w", ErrDatabase, err)
	}

	e.logger.Debug("executed guarded query",
		"rows", len(result.Rows), "row_limit", stmt.RowLimit)
	return result, nil
}

// collectRows materializes a pgx result into column-ordered maps.
func collectRows(rows pgx.Rows) (*ResultSet, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	out := &ResultSet{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row values: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
