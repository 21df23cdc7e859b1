// Package knowledge manages the curated knowledge collection: schema
// notes, business rules, and user-validated queries. The collection is
// read-mostly; every write is an explicit save action, never an implicit
// side effect of answering.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/koopa0/da/internal/store"
)

// TagValidatedQuery marks knowledge items holding a user-confirmed SQL
// statement.
const TagValidatedQuery = "validated_query"

// DefaultDedupThreshold is the embedding cosine similarity above which a
// re-validated query replaces an existing one instead of appending.
const DefaultDedupThreshold = 0.92

// Store wraps the vector store backing the knowledge collection.
type Store struct {
	items     *store.Store
	threshold float64
	logger    *slog.Logger
}

// NewStore creates a knowledge store over the given vector store.
func NewStore(items *store.Store, threshold float64, logger *slog.Logger) (*Store, error) {
	if items == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if items.Origin() != store.OriginKnowledge {
		return nil, fmt.Errorf("vector store origin %q, want %q", items.Origin(), store.OriginKnowledge)
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{items: items, threshold: threshold, logger: logger}, nil
}

// Save writes a curated fact. The knowledge collection is append-only:
// saves never replace existing items.
func (s *Store) Save(ctx context.Context, text string, tags []string, source store.Source) (uuid.UUID, error) {
	id, err := s.items.Put(ctx, store.Item{
		Content: text,
		Tags:    normalizeTags(tags),
		Source:  source,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving knowledge item: %w", err)
	}
	return id, nil
}

// SaveValidatedQuery stores a user-confirmed SQL statement as curated
// knowledge. The statement and its description are embedded together so
// searches match on either. Re-validating the same statement (keyed by
// its normalized text, or a near-identical embedding) replaces the
// earlier item so one query stays one fact.
func (s *Store) SaveValidatedQuery(ctx context.Context, sql, description string, tags []string) (uuid.UUID, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return uuid.Nil, fmt.Errorf("validated query SQL is empty")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return uuid.Nil, fmt.Errorf("validated query description is empty")
	}

	content := description + "\n\n" + sql
	id, replaced, err := s.items.PutReplacing(ctx, store.Item{
		Content: content,
		Attrs: map[string]string{
			"sql":         sql,
			"description": description,
		},
		Tags:     normalizeTags(append(tags, TagValidatedQuery)),
		Source:   store.SourceAgentSaved,
		DedupKey: NormalizeSQL(sql),
	}, s.threshold)
	if err != nil {
		return uuid.Nil, fmt.Errorf("saving validated query: %w", err)
	}

	s.logger.Info("saved validated query", "id", id, "description", description, "replaced", replaced)
	return id, nil
}

// Search runs a hybrid search over the knowledge collection.
func (s *Store) Search(ctx context.Context, query string, k int) ([]store.QueryResult, error) {
	return s.items.Search(ctx, query, k, store.ModeHybrid)
}

// Count reports the number of curated items.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.items.Count(ctx)
}

// NormalizeSQL lowercases a statement and collapses its whitespace so
// formatting variants of one query dedup to the same key.
func NormalizeSQL(sql string) string {
	return strings.Join(strings.Fields(strings.ToLower(sql)), " ")
}

// normalizeTags lowercases, trims, and de-duplicates tags, preserving
// first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
