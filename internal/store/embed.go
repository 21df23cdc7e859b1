package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// embed generates a vector embedding for the given text.
// The call is rate-limited and bounded by the configured embed timeout;
// all failures are reported as ErrEmbeddingUnavailable so callers can
// decide between degrading (search) and failing (writes).
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	if s.limiter != nil {
		if err := s.limiter.Wait(embedCtx); err != nil {
			return pgvector.Vector{}, fmt.Errorf("%w: rate limit wait: %w", ErrEmbeddingUnavailable, err)
		}
	}

	dim := int32(s.dimension)
	resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return pgvector.Vector{}, fmt.Errorf("%w: embedding timeout: %w", ErrEmbeddingUnavailable, err)
		}
		return pgvector.Vector{}, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("%w: empty embedding response", ErrEmbeddingUnavailable)
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != s.dimension {
		return pgvector.Vector{}, fmt.Errorf("%w: embedder returned %d dimensions, store requires %d",
			ErrEmbeddingUnavailable, len(vec), s.dimension)
	}

	return pgvector.NewVector(vec), nil
}

// newLimiter builds the embed rate limiter; zero or negative rps disables it.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
