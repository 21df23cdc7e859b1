// Package learning manages the self-accumulating learnings collection
// and the capture policy that decides what an interaction outcome is
// worth persisting.
//
// A learning is a discovered fact: an error fix, a gotcha, a user
// correction. Unlike curated knowledge the collection is written during
// normal operation, so every write runs dedup-replace: one row per
// gotcha, the latest write wins.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/koopa0/da/internal/store"
)

// DefaultDedupThreshold is the fingerprint cosine similarity above which
// a new learning replaces an existing one.
const DefaultDedupThreshold = 0.92

// Learning is one discovered fact before storage. Title doubles as the
// dedup key after normalization; Learning is the actionable fact;
// Context says when it applies.
type Learning struct {
	Title    string
	Learning string
	Context  string
	Tags     []string
}

// Store wraps the vector store backing the learnings collection.
type Store struct {
	items     *store.Store
	threshold float64
	logger    *slog.Logger
}

// NewStore creates a learning store over the given vector store.
func NewStore(items *store.Store, threshold float64, logger *slog.Logger) (*Store, error) {
	if items == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if items.Origin() != store.OriginLearning {
		return nil, fmt.Errorf("vector store origin %q, want %q", items.Origin(), store.OriginLearning)
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultDedupThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{items: items, threshold: threshold, logger: logger}, nil
}

// Save writes a learning, replacing any existing item whose normalized
// title matches or whose fingerprint similarity reaches the threshold.
// Reports the surviving item's ID and whether an earlier item was
// replaced.
func (s *Store) Save(ctx context.Context, l Learning) (uuid.UUID, bool, error) {
	if strings.TrimSpace(l.Title) == "" {
		return uuid.Nil, false, fmt.Errorf("learning title is empty")
	}
	if strings.TrimSpace(l.Learning) == "" {
		return uuid.Nil, false, fmt.Errorf("learning text is empty")
	}

	id, replaced, err := s.items.PutReplacing(ctx, store.Item{
		Content: renderContent(l),
		Attrs: map[string]string{
			"title":    l.Title,
			"learning": l.Learning,
			"context":  l.Context,
		},
		Tags:     l.Tags,
		Source:   store.SourceAgentSaved,
		DedupKey: NormalizeTitle(l.Title),
	}, s.threshold)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("saving learning: %w", err)
	}

	s.logger.Info("saved learning", "id", id, "title", l.Title, "replaced", replaced)
	return id, replaced, nil
}

// Search runs a hybrid search over the learnings collection.
func (s *Store) Search(ctx context.Context, query string, k int) ([]store.QueryResult, error) {
	return s.items.Search(ctx, query, k, store.ModeHybrid)
}

// Count reports the number of stored learnings.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.items.Count(ctx)
}

// renderContent flattens a learning into the embedded/searchable text.
func renderContent(l Learning) string {
	var b strings.Builder
	b.WriteString(l.Title)
	b.WriteString("\n")
	b.WriteString(l.Learning)
	if strings.TrimSpace(l.Context) != "" {
		b.WriteString("\nApplies when: ")
		b.WriteString(l.Context)
	}
	return b.String()
}

// NormalizeTitle lowercases a title and collapses internal whitespace so
// case and spacing variants dedup to the same key.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
