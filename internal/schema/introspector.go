// Package schema provides on-demand, cached introspection of analytic
// database tables: which columns a table has and their types, straight
// from the live catalog.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNotFound indicates the table has no columns in the catalog, which
// for introspection purposes means it does not exist.
var ErrNotFound = errors.New("table not found")

// DefaultTTL bounds how long a cached descriptor stays fresh.
const DefaultTTL = 5 * time.Minute

// Column is one column of a described table, in ordinal position.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Descriptor is the cached description of one table.
type Descriptor struct {
	Table     string    `json:"table"`
	Columns   []Column  `json:"columns"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Catalog is the data source for descriptors. The pgx-backed
// implementation lives in catalog.go; tests substitute fakes.
type Catalog interface {
	Columns(ctx context.Context, table string) ([]Column, error)
}

// Introspector serves descriptors from a TTL cache, collapsing
// concurrent misses for the same table into one catalog query.
type Introspector struct {
	catalog Catalog
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]Descriptor

	group singleflight.Group
}

// New creates an Introspector. A non-positive ttl falls back to
// DefaultTTL.
func New(catalog Catalog, ttl time.Duration, logger *slog.Logger) (*Introspector, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Introspector{
		catalog: catalog,
		ttl:     ttl,
		logger:  logger,
		cache:   make(map[string]Descriptor),
	}, nil
}

// Describe returns the table's descriptor, from cache when fresh. A
// missing table surfaces as ErrNotFound, never as an empty descriptor.
func (in *Introspector) Describe(ctx context.Context, table string) (Descriptor, error) {
	table = strings.ToLower(strings.TrimSpace(table))
	if table == "" {
		return Descriptor{}, fmt.Errorf("table name is empty")
	}

	if desc, ok := in.cached(table); ok {
		return desc, nil
	}
	return in.fetch(ctx, table)
}

// Refresh drops the cached entry and fetches a fresh descriptor.
func (in *Introspector) Refresh(ctx context.Context, table string) (Descriptor, error) {
	table = strings.ToLower(strings.TrimSpace(table))
	if table == "" {
		return Descriptor{}, fmt.Errorf("table name is empty")
	}

	in.mu.Lock()
	delete(in.cache, table)
	in.mu.Unlock()

	return in.fetch(ctx, table)
}

// cached returns the descriptor if present and inside its TTL.
func (in *Introspector) cached(table string) (Descriptor, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()

	desc, ok := in.cache[table]
	if !ok || time.Since(desc.FetchedAt) > in.ttl {
		return Descriptor{}, false
	}
	return desc, true
}

// fetch queries the catalog through singleflight so N concurrent misses
// for one table produce one underlying query; the rest await its result.
func (in *Introspector) fetch(ctx context.Context, table string) (Descriptor, error) {
	v, err, shared := in.group.Do(table, func() (any, error) {
		columns, err := in.catalog.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("describing %s: %w", table, err)
		}
		if len(columns) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, table)
		}

		desc := Descriptor{Table: table, Columns: columns, FetchedAt: time.Now()}
		in.mu.Lock()
		in.cache[table] = desc
		in.mu.Unlock()

		return desc, nil
	})
	if err != nil {
		return Descriptor{}, err
	}
	if shared {
		in.logger.Debug("catalog query collapsed", "table", table)
	}
	return v.(Descriptor), nil
}
