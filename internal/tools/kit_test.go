package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/da/internal/learning"
	"github.com/koopa0/da/internal/log"
	"github.com/koopa0/da/internal/schema"
	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/store"
)

type fakeKnowledge struct {
	results []store.QueryResult
	err     error
	lastK   int
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, k int) ([]store.QueryResult, error) {
	f.lastK = k
	return f.results, f.err
}

func (f *fakeKnowledge) SaveValidatedQuery(_ context.Context, sql, _ string, _ []string) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return uuid.New(), nil
}

type fakeLearnings struct {
	results []store.QueryResult
	err     error
	saved   []learning.Learning
}

func (f *fakeLearnings) Search(_ context.Context, _ string, _ int) ([]store.QueryResult, error) {
	return f.results, f.err
}

func (f *fakeLearnings) Save(_ context.Context, l learning.Learning) (uuid.UUID, bool, error) {
	if f.err != nil {
		return uuid.Nil, false, f.err
	}
	f.saved = append(f.saved, l)
	return uuid.New(), len(f.saved) > 1, nil
}

type fakeIntrospector struct {
	desc schema.Descriptor
	err  error
}

func (f *fakeIntrospector) Describe(context.Context, string) (schema.Descriptor, error) {
	return f.desc, f.err
}

type fakeExecutor struct {
	result *sqlguard.ResultSet
	err    error
}

func (f *fakeExecutor) Execute(context.Context, string) (*sqlguard.ResultSet, error) {
	return f.result, f.err
}

func newTestKit(t *testing.T, cfg KitConfig) *Kit {
	t.Helper()
	if cfg.Knowledge == nil {
		cfg.Knowledge = &fakeKnowledge{}
	}
	if cfg.Learnings == nil {
		cfg.Learnings = &fakeLearnings{}
	}
	if cfg.Introspector == nil {
		cfg.Introspector = &fakeIntrospector{}
	}
	if cfg.Executor == nil {
		cfg.Executor = &fakeExecutor{}
	}
	cfg.Logger = log.NewNop()

	k, err := NewKit(cfg)
	if err != nil {
		t.Fatalf("NewKit() unexpected error: %v", err)
	}
	return k
}

func TestNewKitRequiresDependencies(t *testing.T) {
	base := KitConfig{
		Knowledge:    &fakeKnowledge{},
		Learnings:    &fakeLearnings{},
		Introspector: &fakeIntrospector{},
		Executor:     &fakeExecutor{},
	}

	tests := []struct {
		name   string
		mutate func(*KitConfig)
	}{
		{"missing knowledge", func(c *KitConfig) { c.Knowledge = nil }},
		{"missing learnings", func(c *KitConfig) { c.Learnings = nil }},
		{"missing introspector", func(c *KitConfig) { c.Introspector = nil }},
		{"missing executor", func(c *KitConfig) { c.Executor = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if _, err := NewKit(cfg); err == nil {
				t.Error("NewKit() succeeded with missing dependency, want error")
			}
		})
	}
}

func TestDispatchSearchKnowledge(t *testing.T) {
	know := &fakeKnowledge{results: []store.QueryResult{
		{
			Item: store.Item{
				ID:        uuid.New(),
				Content:   "races has a year column",
				Tags:      []string{"schema"},
				CreatedAt: time.Now(),
			},
			Origin: store.OriginKnowledge,
			Score:  0.91,
		},
	}}
	k := newTestKit(t, KitConfig{Knowledge: know})

	res, err := k.Dispatch(context.Background(), NameSearchKnowledge,
		json.RawMessage(`{"query": "races year"}`))
	if err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q, want ok (error: %+v)", res.Status, res.Error)
	}

	hits, okCast := res.Data.([]SearchHit)
	if !okCast {
		t.Fatalf("data type = %T, want []SearchHit", res.Data)
	}
	if len(hits) != 1 || hits[0].Origin != "knowledge" {
		t.Errorf("hits = %+v, want one knowledge hit", hits)
	}
	if know.lastK != defaultTopK {
		t.Errorf("search used k=%d, want default %d", know.lastK, defaultTopK)
	}
}

func TestDispatchSearchEmptyQuery(t *testing.T) {
	k := newTestKit(t, KitConfig{})

	res, err := k.Dispatch(context.Background(), NameSearchLearnings,
		json.RawMessage(`{"query": "  "}`))
	if err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %q, want error for empty query", res.Status)
	}
}

func TestDispatchSaveLearning(t *testing.T) {
	learn := &fakeLearnings{}
	k := newTestKit(t, KitConfig{Learnings: learn})

	res, err := k.Dispatch(context.Background(), NameSaveLearning,
		json.RawMessage(`{"title": "position column type", "learning": "position is TEXT", "tags": ["type"]}`))
	if err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}
	if res.Status != StatusOK {
		t.Fatalf("status = %q, want ok (error: %+v)", res.Status, res.Error)
	}
	if len(learn.saved) != 1 || learn.saved[0].Title != "position column type" {
		t.Errorf("saved = %+v, want the dispatched learning", learn.saved)
	}

	out, okCast := res.Data.(SaveOutput)
	if !okCast {
		t.Fatalf("data type = %T, want SaveOutput", res.Data)
	}
	if out.ID == "" {
		t.Error("save output has empty ID")
	}
}

func TestDispatchExecuteSQLErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		execErr  error
		wantCode string
	}{
		{
			name:     "unsafe query",
			execErr:  fmt.Errorf("%w: wildcard column selection", sqlguard.ErrUnsafeQuery),
			wantCode: "unsafe_query",
		},
		{
			name:     "database failure",
			execErr:  fmt.Errorf("%w: relation does not exist", sqlguard.ErrDatabase),
			wantCode: "database_error",
		},
		{
			name:     "unexpected failure",
			execErr:  errors.New("pool closed"),
			wantCode: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newTestKit(t, KitConfig{Executor: &fakeExecutor{err: tt.execErr}})

			res, err := k.Dispatch(context.Background(), NameExecuteSQL,
				json.RawMessage(`{"sql": "SELECT surname FROM drivers"}`))
			if err != nil {
				t.Fatalf("Dispatch() unexpected error: %v", err)
			}
			if res.Status != StatusError {
				t.Fatalf("status = %q, want error", res.Status)
			}
			if res.Error.Code != tt.wantCode {
				t.Errorf("error code = %q, want %q", res.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestDispatchExecuteSQLRows(t *testing.T) {
	k := newTestKit(t, KitConfig{Executor: &fakeExecutor{result: &sqlguard.ResultSet{
		Columns: []string{"surname"},
		Rows:    []map[string]any{{"surname": "Hamilton"}},
	}}})

	res, err := k.Dispatch(context.Background(), NameExecuteSQL,
		json.RawMessage(`{"sql": "SELECT surname FROM drivers"}`))
	if err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}
	out, okCast := res.Data.(ExecuteSQLOutput)
	if !okCast {
		t.Fatalf("data type = %T, want ExecuteSQLOutput", res.Data)
	}
	if len(out.Rows) != 1 || out.Rows[0]["surname"] != "Hamilton" {
		t.Errorf("rows = %+v, want the fixture row", out.Rows)
	}
}

func TestDispatchIntrospectSchema(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		k := newTestKit(t, KitConfig{Introspector: &fakeIntrospector{desc: schema.Descriptor{
			Table:   "drivers",
			Columns: []schema.Column{{Name: "surname", Type: "text"}},
		}}})

		res, err := k.Dispatch(context.Background(), NameIntrospectSchema,
			json.RawMessage(`{"table": "drivers"}`))
		if err != nil {
			t.Fatalf("Dispatch() unexpected error: %v", err)
		}
		if res.Status != StatusOK {
			t.Fatalf("status = %q, want ok", res.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		k := newTestKit(t, KitConfig{Introspector: &fakeIntrospector{
			err: fmt.Errorf("%w: standings_view", schema.ErrNotFound),
		}})

		res, err := k.Dispatch(context.Background(), NameIntrospectSchema,
			json.RawMessage(`{"table": "standings_view"}`))
		if err != nil {
			t.Fatalf("Dispatch() unexpected error: %v", err)
		}
		if res.Status != StatusError || res.Error.Code != "schema_not_found" {
			t.Errorf("result = %+v, want schema_not_found error", res)
		}
	})
}

func TestDispatchUnknownTool(t *testing.T) {
	k := newTestKit(t, KitConfig{})

	if _, err := k.Dispatch(context.Background(), Name("generate_image"), json.RawMessage(`{}`)); err == nil {
		t.Error("Dispatch() with unknown tool succeeded, want error")
	}
}

func TestDispatchMalformedInput(t *testing.T) {
	k := newTestKit(t, KitConfig{})

	if _, err := k.Dispatch(context.Background(), NameSearchKnowledge, json.RawMessage(`{"query":`)); err == nil {
		t.Error("Dispatch() with malformed JSON succeeded, want error")
	}
}

func TestClampTopK(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, defaultTopK},
		{-3, defaultTopK},
		{1, 1},
		{20, 20},
		{50, maxTopK},
	}
	for _, tt := range tests {
		if got := clampTopK(tt.in); got != tt.want {
			t.Errorf("clampTopK(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDegradedFlagPropagates(t *testing.T) {
	learn := &fakeLearnings{results: []store.QueryResult{
		{
			Item:     store.Item{ID: uuid.New(), Content: "lexical only"},
			Origin:   store.OriginLearning,
			Score:    0.4,
			Degraded: true,
		},
	}}
	k := newTestKit(t, KitConfig{Learnings: learn})

	res, err := k.Dispatch(context.Background(), NameSearchLearnings,
		json.RawMessage(`{"query": "anything"}`))
	if err != nil {
		t.Fatalf("Dispatch() unexpected error: %v", err)
	}
	hits := res.Data.([]SearchHit)
	if !hits[0].Degraded {
		t.Error("degraded flag lost in serialization")
	}
}
