package retrieval

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/da/internal/log"
	"github.com/koopa0/da/internal/store"
	"github.com/koopa0/da/internal/testutil"
)

type fakeSearcher struct {
	results []store.QueryResult
	err     error
	calls   int
	lastK   int
}

func (f *fakeSearcher) Search(_ context.Context, _ string, k int) ([]store.QueryResult, error) {
	f.calls++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func result(origin store.Origin, content string, score float64, age time.Duration, embedding []float32) store.QueryResult {
	return store.QueryResult{
		Item: store.Item{
			ID:        uuid.New(),
			Content:   content,
			CreatedAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(-age),
		},
		Origin:    origin,
		Score:     score,
		Embedding: embedding,
	}
}

func newOrchestrator(t *testing.T, knowledge, learnings Searcher, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(knowledge, learnings, opts, log.NewNop())
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return o
}

func TestRetrieveMergesByScore(t *testing.T) {
	dim := 8
	know := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginKnowledge, "races has a year column", 0.9, time.Hour, testutil.UnitVector(dim, 1)),
		result(store.OriginKnowledge, "points changed in 2010", 0.5, time.Hour, testutil.UnitVector(dim, 0, 1)),
	}}
	learn := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginLearning, "position is TEXT", 0.7, time.Hour, testutil.UnitVector(dim, 0, 0, 1)),
	}}

	o := newOrchestrator(t, know, learn, Options{})
	block, err := o.Retrieve(context.Background(), "how many races in 2021")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}

	wantOrder := []string{
		"races has a year column",
		"position is TEXT",
		"points changed in 2010",
	}
	if len(block.Entries) != len(wantOrder) {
		t.Fatalf("Retrieve() returned %d entries, want %d", len(block.Entries), len(wantOrder))
	}
	for i, want := range wantOrder {
		if got := block.Entries[i].Item.Content; got != want {
			t.Errorf("entry %d = %q, want %q", i, got, want)
		}
	}
	if block.Degraded {
		t.Error("block marked degraded without degraded inputs")
	}
}

func TestRetrieveTieBreaksByRecency(t *testing.T) {
	dim := 8
	older := result(store.OriginKnowledge, "older fact", 0.8, 48*time.Hour, testutil.UnitVector(dim, 1))
	newer := result(store.OriginLearning, "newer fact", 0.8, time.Hour, testutil.UnitVector(dim, 0, 1))

	know := &fakeSearcher{results: []store.QueryResult{older}}
	learn := &fakeSearcher{results: []store.QueryResult{newer}}

	o := newOrchestrator(t, know, learn, Options{})
	block, err := o.Retrieve(context.Background(), "fact")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if block.Entries[0].Item.Content != "newer fact" {
		t.Errorf("tie broken for %q, want the newer item first", block.Entries[0].Item.Content)
	}
}

func TestRetrieveCapsMergedOutput(t *testing.T) {
	dim := 8
	var knowResults, learnResults []store.QueryResult
	for i := 0; i < 6; i++ {
		v := testutil.UnitVector(dim, float64(i+1), 1)
		knowResults = append(knowResults, result(store.OriginKnowledge, "k", 0.9-float64(i)*0.01, time.Hour, v))
		w := testutil.UnitVector(dim, 1, float64(i+1)*7)
		learnResults = append(learnResults, result(store.OriginLearning, "l", 0.8-float64(i)*0.01, time.Hour, w))
	}

	o := newOrchestrator(t, &fakeSearcher{results: knowResults}, &fakeSearcher{results: learnResults}, Options{
		MergedMax:      8,
		DedupThreshold: 0.9999,
	})
	block, err := o.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if len(block.Entries) != 8 {
		t.Errorf("Retrieve() returned %d entries, want cap of 8", len(block.Entries))
	}
}

func TestRetrieveDeduplicatesKeepingHigherScore(t *testing.T) {
	dim := 8
	shared := testutil.UnitVector(dim, 1, 0.05)
	nearShared := testutil.UnitVector(dim, 1, 0)

	know := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginKnowledge, "the duplicate, higher scored", 0.9, time.Hour, shared),
	}}
	learn := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginLearning, "the duplicate, lower scored", 0.6, time.Hour, nearShared),
		result(store.OriginLearning, "an unrelated learning", 0.5, time.Hour, testutil.UnitVector(dim, 0, 0, 1)),
	}}

	o := newOrchestrator(t, know, learn, Options{DedupThreshold: 0.92})
	block, err := o.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}

	if len(block.Entries) != 2 {
		t.Fatalf("Retrieve() returned %d entries, want 2 after dedup", len(block.Entries))
	}
	if block.Entries[0].Item.Content != "the duplicate, higher scored" {
		t.Errorf("kept %q, want the higher-scored duplicate", block.Entries[0].Item.Content)
	}
	for _, e := range block.Entries {
		if e.Item.Content == "the duplicate, lower scored" {
			t.Error("lower-scored duplicate survived dedup")
		}
	}
}

func TestRetrieveDedupFallsBackToTextForDegraded(t *testing.T) {
	a := result(store.OriginKnowledge, "Position  Is TEXT", 0.9, time.Hour, nil)
	a.Degraded = true
	b := result(store.OriginLearning, "position is text", 0.6, time.Hour, nil)
	b.Degraded = true

	o := newOrchestrator(t, &fakeSearcher{results: []store.QueryResult{a}}, &fakeSearcher{results: []store.QueryResult{b}}, Options{})
	block, err := o.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if len(block.Entries) != 1 {
		t.Fatalf("Retrieve() returned %d entries, want 1 after text dedup", len(block.Entries))
	}
	if !block.Degraded {
		t.Error("block not marked degraded despite degraded entries")
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	dim := 8
	know := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginKnowledge, "a", 0.9, time.Hour, testutil.UnitVector(dim, 1)),
		result(store.OriginKnowledge, "b", 0.7, time.Hour, testutil.UnitVector(dim, 0, 1)),
	}}
	learn := &fakeSearcher{results: []store.QueryResult{
		result(store.OriginLearning, "c", 0.8, time.Hour, testutil.UnitVector(dim, 0, 0, 1)),
	}}

	o := newOrchestrator(t, know, learn, Options{})

	first, err := o.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	second, err := o.Retrieve(context.Background(), "question")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first.Entries, second.Entries) {
		t.Error("Retrieve() is not deterministic for a fixed store state")
	}
}

func TestRetrievePropagatesSearchErrors(t *testing.T) {
	boom := errors.New("connection refused")

	o := newOrchestrator(t, &fakeSearcher{err: boom}, &fakeSearcher{}, Options{})
	if _, err := o.Retrieve(context.Background(), "question"); !errors.Is(err, boom) {
		t.Errorf("Retrieve() error = %v, want wrapped %v", err, boom)
	}

	o = newOrchestrator(t, &fakeSearcher{}, &fakeSearcher{err: boom}, Options{})
	if _, err := o.Retrieve(context.Background(), "question"); !errors.Is(err, boom) {
		t.Errorf("Retrieve() error = %v, want wrapped %v", err, boom)
	}
}

func TestRetrieveBlankQuestion(t *testing.T) {
	know := &fakeSearcher{}
	o := newOrchestrator(t, know, &fakeSearcher{}, Options{})

	block, err := o.Retrieve(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if len(block.Entries) != 0 {
		t.Errorf("Retrieve() on blank question returned %d entries, want 0", len(block.Entries))
	}
	if know.calls != 0 {
		t.Errorf("blank question still searched stores %d times", know.calls)
	}
}

func TestRetrieveUsesConfiguredK(t *testing.T) {
	know := &fakeSearcher{}
	learn := &fakeSearcher{}

	o := newOrchestrator(t, know, learn, Options{KnowledgeK: 3, LearningsK: 7})
	if _, err := o.Retrieve(context.Background(), "question"); err != nil {
		t.Fatalf("Retrieve() unexpected error: %v", err)
	}
	if know.lastK != 3 {
		t.Errorf("knowledge searched with k=%d, want 3", know.lastK)
	}
	if learn.lastK != 7 {
		t.Errorf("learnings searched with k=%d, want 7", learn.lastK)
	}
}

func TestRender(t *testing.T) {
	block := &ContextBlock{Entries: []store.QueryResult{
		result(store.OriginKnowledge, "races has a year column", 0.9, time.Hour, nil),
		result(store.OriginLearning, "position is TEXT", 0.7, time.Hour, nil),
	}}

	got := block.Render()
	want := "[knowledge] races has a year column\n\n[learning] position is TEXT"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}

	empty := &ContextBlock{}
	if got := empty.Render(); got != "" {
		t.Errorf("Render() on empty block = %q, want empty", got)
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("cosine(%v, %v) = %g, want %g", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
