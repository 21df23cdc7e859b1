// Package retrieval merges results from the knowledge and learnings
// collections into the single ranked context block that feeds answer
// generation. Read-only: retrieval never writes to either store.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/koopa0/da/internal/store"
)

// Defaults for the merge stage; all tunable through Options.
const (
	DefaultKnowledgeK     = 5
	DefaultLearningsK     = 5
	DefaultMergedMax      = 8
	DefaultDedupThreshold = 0.92
)

// Searcher is the store surface the orchestrator consumes; both the
// knowledge and learning stores satisfy it through small adapters.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]store.QueryResult, error)
}

// Options tunes the merge stage.
type Options struct {
	KnowledgeK     int
	LearningsK     int
	MergedMax      int
	DedupThreshold float64
}

func (o Options) withDefaults() Options {
	if o.KnowledgeK <= 0 {
		o.KnowledgeK = DefaultKnowledgeK
	}
	if o.LearningsK <= 0 {
		o.LearningsK = DefaultLearningsK
	}
	if o.MergedMax <= 0 {
		o.MergedMax = DefaultMergedMax
	}
	if o.DedupThreshold <= 0 || o.DedupThreshold > 1 {
		o.DedupThreshold = DefaultDedupThreshold
	}
	return o
}

// ContextBlock is the merged, deduplicated, origin-tagged retrieval
// output for one question.
type ContextBlock struct {
	Entries []store.QueryResult

	// Degraded is set when any entry came from a lexical-only search.
	Degraded bool
}

// Orchestrator queries both collections and merges the results.
type Orchestrator struct {
	knowledge Searcher
	learnings Searcher
	opts      Options
	logger    *slog.Logger
}

// New creates an Orchestrator over the two collection searchers.
func New(knowledge, learnings Searcher, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	if knowledge == nil {
		return nil, fmt.Errorf("knowledge searcher is required")
	}
	if learnings == nil {
		return nil, fmt.Errorf("learnings searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		knowledge: knowledge,
		learnings: learnings,
		opts:      opts.withDefaults(),
		logger:    logger,
	}, nil
}

// Retrieve queries both stores for the question and returns the merged
// context block. Deterministic for a fixed store state: the same
// question yields the same ordered entries.
func (o *Orchestrator) Retrieve(ctx context.Context, question string) (*ContextBlock, error) {
	if strings.TrimSpace(question) == "" {
		return &ContextBlock{Entries: []store.QueryResult{}}, nil
	}

	fromKnowledge, err := o.knowledge.Search(ctx, question, o.opts.KnowledgeK)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge: %w", err)
	}
	fromLearnings, err := o.learnings.Search(ctx, question, o.opts.LearningsK)
	if err != nil {
		return nil, fmt.Errorf("searching learnings: %w", err)
	}

	merged := mergeByScore(fromKnowledge, fromLearnings)
	deduped := dedupBySimilarity(merged, o.opts.DedupThreshold)
	if len(deduped) > o.opts.MergedMax {
		deduped = deduped[:o.opts.MergedMax]
	}

	block := &ContextBlock{Entries: deduped}
	for _, e := range deduped {
		if e.Degraded {
			block.Degraded = true
			break
		}
	}
	if block.Degraded {
		o.logger.Warn("retrieval degraded to lexical-only results", "question_length", len(question))
	}

	o.logger.Debug("retrieved context",
		"knowledge", len(fromKnowledge), "learnings", len(fromLearnings), "merged", len(block.Entries))
	return block, nil
}

// mergeByScore interleaves two score-descending sequences into one.
// Ties go to the newer item; equal timestamps order by ID so the merge
// is total and repeatable.
func mergeByScore(a, b []store.QueryResult) []store.QueryResult {
	out := make([]store.QueryResult, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Item.CreatedAt.Equal(out[j].Item.CreatedAt) {
			return out[i].Item.CreatedAt.After(out[j].Item.CreatedAt)
		}
		return out[i].Item.ID.String() < out[j].Item.ID.String()
	})
	return out
}

// dedupBySimilarity drops entries near-identical to a higher-scored one.
// Similarity is embedding cosine when both sides carry vectors, falling
// back to normalized-text equality for degraded results.
func dedupBySimilarity(entries []store.QueryResult, threshold float64) []store.QueryResult {
	kept := make([]store.QueryResult, 0, len(entries))
	for _, candidate := range entries {
		dup := false
		for _, existing := range kept {
			if similar(candidate, existing, threshold) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// similar reports whether two results describe the same fact.
func similar(a, b store.QueryResult, threshold float64) bool {
	if len(a.Embedding) > 0 && len(a.Embedding) == len(b.Embedding) {
		return cosine(a.Embedding, b.Embedding) >= threshold
	}
	return normalizeText(a.Item.Content) == normalizeText(b.Item.Content)
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float64 {
	fa := make([]float64, len(a))
	fb := make([]float64, len(b))
	for i := range a {
		fa[i] = float64(a[i])
		fb[i] = float64(b[i])
	}
	na := floats.Norm(fa, 2)
	nb := floats.Norm(fb, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(fa, fb) / (na * nb)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Render formats the block for inclusion in a prompt: one origin-tagged
// paragraph per entry, best first.
func (b *ContextBlock) Render() string {
	if len(b.Entries) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, e := range b.Entries {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("[")
		sb.WriteString(string(e.Origin))
		sb.WriteString("] ")
		sb.WriteString(strings.TrimSpace(e.Item.Content))
	}
	return sb.String()
}
