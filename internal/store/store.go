// Package store implements the vector store backing the knowledge and
// learnings collections: pgvector similarity plus PostgreSQL full-text
// search, combined into one hybrid ranking.
//
// One Store instance wraps one table. Writes embed the content and insert
// in a single transaction; dedup-keyed writes replace the existing row for
// the key (or a near-identical neighbor) instead of appending. Searches
// degrade to lexical-only when the embedder is unavailable.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// storeTables whitelists the tables a Store may wrap and fixes the origin
// tag for each. Table names are interpolated into SQL, so construction
// outside this map is refused.
var storeTables = map[string]Origin{
	"knowledge_items": OriginKnowledge,
	"learning_items":  OriginLearning,
}

// itemCols is the standard SELECT column list for scanResults.
const itemCols = `id, content, attrs, tags, source, dedup_key, embedding, created_at`

// Config holds Store construction parameters.
type Config struct {
	Table         string
	VectorWeight  float64 // hybrid weight for cosine similarity
	LexicalWeight float64 // hybrid weight for ts_rank
	Dimension     int     // fixed embedding dimensionality
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
	EmbedRPS      float64 // embed calls per second, 0 disables limiting
}

// Store manages one vector-backed item collection.
type Store struct {
	pool          *pgxpool.Pool
	embedder      ai.Embedder
	limiter       *rate.Limiter
	logger        *slog.Logger
	table         string
	origin        Origin
	vectorWeight  float64
	lexicalWeight float64
	dimension     int
	embedTimeout  time.Duration
	searchTimeout time.Duration
}

// New creates a Store over one of the whitelisted tables.
func New(pool *pgxpool.Pool, embedder ai.Embedder, cfg Config, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	origin, ok := storeTables[cfg.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, cfg.Table)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}

	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}
	searchTimeout := cfg.SearchTimeout
	if searchTimeout <= 0 {
		searchTimeout = 10 * time.Second
	}

	return &Store{
		pool:          pool,
		embedder:      embedder,
		limiter:       newLimiter(cfg.EmbedRPS),
		logger:        logger.With("store", cfg.Table),
		table:         cfg.Table,
		origin:        origin,
		vectorWeight:  cfg.VectorWeight,
		lexicalWeight: cfg.LexicalWeight,
		dimension:     cfg.Dimension,
		embedTimeout:  embedTimeout,
		searchTimeout: searchTimeout,
	}, nil
}

// Origin returns the origin tag this store stamps on its results.
func (s *Store) Origin() Origin {
	return s.origin
}

// validateItem checks required fields before any embedding work.
func validateItem(item Item) error {
	if strings.TrimSpace(item.Content) == "" {
		return ErrEmptyContent
	}
	if len(item.Content) > MaxContentLength {
		return fmt.Errorf("content length %d exceeds maximum %d", len(item.Content), MaxContentLength)
	}
	return nil
}

// Put embeds and inserts an item, returning its ID.
// Writes never degrade: an unavailable embedder fails the write, keeping
// the invariant that every stored item carries a non-empty embedding.
func (s *Store) Put(ctx context.Context, item Item) (uuid.UUID, error) {
	if err := validateItem(item); err != nil {
		return uuid.Nil, err
	}

	vec, err := s.embed(ctx, item.Content)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embedding item: %w", err)
	}

	id := item.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	if err := s.insertRow(ctx, s.pool, id, item, vec); err != nil {
		return uuid.Nil, err
	}

	s.logger.Debug("stored item", "id", id, "content_length", len(item.Content))
	return id, nil
}

// PutReplacing embeds and writes an item under its dedup key, replacing the
// existing row for the key (or a near-identical neighbor above the given
// cosine threshold) instead of appending. The replaced row keeps its ID;
// created_at is reset so the latest write wins ordering ties.
//
// The write runs in a transaction holding an advisory lock on the dedup
// key, so concurrent writers for the same key serialize: both observe
// success, the last committer's content survives.
func (s *Store) PutReplacing(ctx context.Context, item Item, threshold float64) (id uuid.UUID, replaced bool, err error) {
	if err := validateItem(item); err != nil {
		return uuid.Nil, false, err
	}
	if strings.TrimSpace(item.DedupKey) == "" {
		return uuid.Nil, false, fmt.Errorf("dedup key is required")
	}
	if threshold <= 0 || threshold > 1 {
		return uuid.Nil, false, fmt.Errorf("threshold %g outside (0, 1]", threshold)
	}

	// Embed outside the transaction so no DB connection is held during the call.
	vec, err := s.embed(ctx, item.Content)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("embedding item: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Serialize concurrent writes for the same key.
	// pg_advisory_xact_lock releases automatically at commit/rollback.
	lockKey := s.table + "/" + item.DedupKey
	if _, lockErr := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); lockErr != nil {
		return uuid.Nil, false, fmt.Errorf("acquiring advisory lock: %w", lockErr)
	}

	targetID, found, err := s.findReplaceTarget(ctx, tx, item.DedupKey, vec, threshold)
	if err != nil {
		return uuid.Nil, false, err
	}

	if found {
		if err := s.replaceRow(ctx, tx, targetID, item, vec); err != nil {
			return uuid.Nil, false, err
		}
		id = targetID
		replaced = true
	} else {
		id = item.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if err := s.insertRow(ctx, tx, id, item, vec); err != nil {
			return uuid.Nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, false, fmt.Errorf("committing write: %w", err)
	}

	s.logger.Debug("stored item with dedup", "id", id, "dedup_key", item.DedupKey, "replaced", replaced)
	return id, replaced, nil
}

// findReplaceTarget locates the row a dedup-keyed write must replace:
// the exact key match first, otherwise the nearest neighbor at or above
// the similarity threshold.
func (s *Store) findReplaceTarget(ctx context.Context, q querier, dedupKey string, vec pgvector.Vector, threshold float64) (uuid.UUID, bool, error) {
	var id uuid.UUID

	err := q.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE dedup_key = $1`, s.table),
		dedupKey,
	).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, false, fmt.Errorf("querying dedup key: %w", err)
	}

	var similarity float64
	err = q.QueryRow(ctx,
		fmt.Sprintf(`SELECT id, 1 - (embedding <=> $1) AS similarity
		 FROM %s
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1
		 LIMIT 1`, s.table),
		vec,
	).Scan(&id, &similarity)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, false, nil
	case err != nil:
		return uuid.Nil, false, fmt.Errorf("querying nearest neighbor: %w", err)
	}

	if similarity >= threshold {
		return id, true, nil
	}
	return uuid.Nil, false, nil
}

// insertRow writes a new row using the provided querier (pool or tx).
func (s *Store) insertRow(ctx context.Context, q querier, id uuid.UUID, item Item, vec pgvector.Vector) error {
	attrsJSON, err := marshalAttrs(item.Attrs)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, content, attrs, tags, source, dedup_key, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now())`, s.table),
		id, item.Content, attrsJSON, item.Tags, string(sourceOrDefault(item.Source)), item.DedupKey, vec,
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// replaceRow overwrites an existing row in place, preserving its ID.
// created_at is reset: replacement is a fresh assertion of the fact.
func (s *Store) replaceRow(ctx context.Context, q querier, id uuid.UUID, item Item, vec pgvector.Vector) error {
	attrsJSON, err := marshalAttrs(item.Attrs)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx,
		fmt.Sprintf(`UPDATE %s
		 SET content = $1, attrs = $2, tags = $3, source = $4,
		     dedup_key = NULLIF($5, ''), embedding = $6, created_at = now()
		 WHERE id = $7`, s.table),
		item.Content, attrsJSON, item.Tags, string(sourceOrDefault(item.Source)), item.DedupKey, vec, id,
	)
	if err != nil {
		return fmt.Errorf("replacing item %s: %w", id, err)
	}
	return nil
}

// Search returns up to k results for the query, ordered by descending
// score with recency breaking ties. In hybrid and vector modes an
// unavailable embedder degrades the call to lexical-only and flags every
// result Degraded; lexical mode never needs the embedder.
func (s *Store) Search(ctx context.Context, query string, k int, mode SearchMode) ([]QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return []QueryResult{}, nil
	}
	if k <= 0 {
		k = 5
	}
	if !mode.Valid() {
		mode = ModeHybrid
	}

	searchCtx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	if mode == ModeLexical {
		return s.searchLexical(searchCtx, query, k, false)
	}

	vec, err := s.embed(searchCtx, query)
	if err != nil {
		if !errors.Is(err, ErrEmbeddingUnavailable) {
			return nil, err
		}
		// Degraded path: keep answering on lexical rank alone.
		s.logger.Warn("embedder unavailable, degrading to lexical search", "error", err)
		return s.searchLexical(searchCtx, query, k, true)
	}

	switch mode {
	case ModeVector:
		return s.searchVector(searchCtx, query, vec, k)
	default:
		return s.searchHybrid(searchCtx, query, vec, k)
	}
}

// searchHybrid ranks by the weighted sum of cosine similarity and
// normalized ts_rank, computed in SQL like a single-pass ORDER BY.
func (s *Store) searchHybrid(ctx context.Context, query string, vec pgvector.Vector, k int) ([]QueryResult, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT `+itemCols+`,
		        ($2 * (1 - (embedding <=> $1))
		         + $3 * LEAST(1.0, COALESCE(ts_rank_cd(search_text, plainto_tsquery('english', $4), 1), 0))
		        ) AS score
		 FROM %s
		 WHERE embedding IS NOT NULL
		 ORDER BY score DESC, created_at DESC, id
		 LIMIT $5`, s.table),
		vec, s.vectorWeight, s.lexicalWeight, query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows, false)
}

// searchVector ranks by cosine similarity alone.
func (s *Store) searchVector(ctx context.Context, _ string, vec pgvector.Vector, k int) ([]QueryResult, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT `+itemCols+`, 1 - (embedding <=> $1) AS score
		 FROM %s
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1, created_at DESC, id
		 LIMIT $2`, s.table),
		vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows, false)
}

// searchLexical ranks by full-text match only; degraded marks results as
// produced without the embedder.
func (s *Store) searchLexical(ctx context.Context, query string, k int, degraded bool) ([]QueryResult, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT `+itemCols+`,
		        LEAST(1.0, ts_rank_cd(search_text, plainto_tsquery('english', $1), 1)) AS score
		 FROM %s
		 WHERE search_text @@ plainto_tsquery('english', $1)
		 ORDER BY score DESC, created_at DESC, id
		 LIMIT $2`, s.table),
		query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows, degraded)
}

// Count returns the number of items in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting items: %w", err)
	}
	return count, nil
}

// Delete removes an item by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table), id)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	return nil
}

// scanResults reads QueryResults from rows carrying itemCols plus a
// trailing score column.
func (s *Store) scanResults(rows pgx.Rows, degraded bool) ([]QueryResult, error) {
	results := []QueryResult{}
	for rows.Next() {
		var (
			item      Item
			attrsJSON []byte
			source    string
			dedupKey  *string
			vec       *pgvector.Vector
			score     float64
		)
		if err := rows.Scan(
			&item.ID, &item.Content, &attrsJSON, &item.Tags,
			&source, &dedupKey, &vec, &item.CreatedAt, &score,
		); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}

		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &item.Attrs); err != nil {
				s.logger.Warn("parsing item attrs", "id", item.ID, "error", err)
				item.Attrs = map[string]string{}
			}
		}
		item.Source = Source(source)
		if dedupKey != nil {
			item.DedupKey = *dedupKey
		}

		var embedding []float32
		if vec != nil {
			embedding = vec.Slice()
		}

		results = append(results, QueryResult{
			Item:      item,
			Origin:    s.origin,
			Score:     clampScore(score),
			Degraded:  degraded,
			Embedding: embedding,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}
	return results, nil
}

// marshalAttrs serializes item attributes, defaulting to an empty object.
func marshalAttrs(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshaling attrs: %w", err)
	}
	return b, nil
}

// sourceOrDefault fills in the source for items that didn't set one.
func sourceOrDefault(src Source) Source {
	if src == "" {
		return SourceAgentSaved
	}
	return src
}

// clampScore keeps composite scores inside [0, 1]; float drift in the SQL
// expression can nudge them past either bound.
func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
