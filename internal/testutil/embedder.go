package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// StubEmbedder implements ai.Embedder with deterministic vectors, so
// store and retrieval tests run without a model API key. Identical text
// always embeds to the identical vector; unrelated texts land far apart.
type StubEmbedder struct {
	Dimension int
	Err       error // returned from every Embed call when set

	// Fixed pins specific texts to specific vectors, letting tests
	// construct near-duplicates with a known cosine similarity.
	Fixed map[string][]float32

	mu        sync.Mutex
	callCount int
}

// NewStubEmbedder returns a stub producing unit vectors of the given
// dimensionality.
func NewStubEmbedder(dimension int) *StubEmbedder {
	return &StubEmbedder{Dimension: dimension}
}

func (e *StubEmbedder) Name() string { return "stub-embedder" }

func (e *StubEmbedder) Register(api.Registry) {}

func (e *StubEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	e.callCount++
	e.mu.Unlock()

	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embeddings := make([]*ai.Embedding, 0, len(req.Input))
	for _, doc := range req.Input {
		text := ""
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		embeddings = append(embeddings, &ai.Embedding{Embedding: e.vectorFor(text)})
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// CallCount reports how many Embed calls the stub has served.
func (e *StubEmbedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.callCount
}

// vectorFor returns the pinned vector for the text if one exists,
// otherwise a unit vector seeded from the text's hash.
func (e *StubEmbedder) vectorFor(text string) []float32 {
	if fixed, ok := e.Fixed[text]; ok {
		return fixed
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, e.Dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// UnitVector builds a normalized vector with the given leading components;
// the remaining dimensions are zero. Useful with StubEmbedder.Fixed to pin
// two texts at a chosen cosine similarity.
func UnitVector(dimension int, leading ...float64) []float32 {
	vec := make([]float32, dimension)
	var norm float64
	for i, v := range leading {
		if i >= dimension {
			break
		}
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range leading {
		if i >= dimension {
			break
		}
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
