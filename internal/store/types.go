package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Origin identifies which logical store produced a search result.
type Origin string

const (
	// OriginKnowledge marks results from the curated knowledge store.
	OriginKnowledge Origin = "knowledge"

	// OriginLearning marks results from the discovered learnings store.
	OriginLearning Origin = "learning"
)

// Source records how an item entered a store.
type Source string

const (
	// SourceSeed marks items loaded from curated seed content.
	SourceSeed Source = "seed"

	// SourceAgentSaved marks items written by the agent during operation.
	SourceAgentSaved Source = "agent_saved"
)

// SearchMode selects the scoring strategy for Search.
type SearchMode string

const (
	// ModeHybrid combines vector similarity and lexical rank (default).
	ModeHybrid SearchMode = "hybrid"

	// ModeVector scores by cosine similarity only.
	ModeVector SearchMode = "vector"

	// ModeLexical scores by full-text rank only.
	ModeLexical SearchMode = "lexical"
)

// Valid reports whether the mode is one of the known search modes.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeHybrid, ModeVector, ModeLexical:
		return true
	}
	return false
}

// Item is a stored document: the embedded content plus structured attributes.
// Attrs carries store-specific fields (a learning's title/context, a
// validated query's SQL) without widening the table schema.
type Item struct {
	ID        uuid.UUID
	Content   string
	Attrs     map[string]string
	Tags      []string
	Source    Source
	DedupKey  string // empty = append-only, non-empty = single row per key
	CreatedAt time.Time
}

// QueryResult is one ranked search hit. Ephemeral: produced by Search,
// consumed by the retrieval merge step, never persisted.
type QueryResult struct {
	Item     Item
	Origin   Origin
	Score    float64 // composite relevance in [0, 1]
	Degraded bool    // true when the embedder was unavailable (lexical-only)

	// Embedding is the stored vector, carried so the merge step can
	// compute cross-store similarity without re-embedding.
	Embedding []float32
}

var (
	// ErrEmbeddingUnavailable indicates the embedder failed or timed out.
	// Search degrades to lexical-only on this error; writes fail with it.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrUnknownTable indicates a table name outside the store whitelist.
	ErrUnknownTable = errors.New("unknown store table")

	// ErrEmptyContent indicates an item with no content to embed.
	ErrEmptyContent = errors.New("item content is empty")
)

// MaxContentLength bounds stored item content. Prevents runaway embedding
// cost from oversized documents.
const MaxContentLength = 10_000
