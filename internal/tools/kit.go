// Package tools exposes the retrieval-and-learning operations as a fixed
// tool surface for the answer-generation step: two searches, two saves,
// schema introspection, and guarded SQL execution.
//
// Handlers return the Result envelope instead of bare errors so the
// model sees structured failures (an unsafe query reads differently from
// a broken database) and can correct course.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/koopa0/da/internal/learning"
	"github.com/koopa0/da/internal/schema"
	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/store"
)

const (
	defaultTopK = 5
	maxTopK     = 20
)

// KnowledgeStore is the knowledge surface the kit needs.
type KnowledgeStore interface {
	Search(ctx context.Context, query string, k int) ([]store.QueryResult, error)
	SaveValidatedQuery(ctx context.Context, sql, description string, tags []string) (uuid.UUID, error)
}

// LearningStore is the learnings surface the kit needs.
type LearningStore interface {
	Search(ctx context.Context, query string, k int) ([]store.QueryResult, error)
	Save(ctx context.Context, l learning.Learning) (uuid.UUID, bool, error)
}

// Introspector is the schema lookup surface the kit needs.
type Introspector interface {
	Describe(ctx context.Context, table string) (schema.Descriptor, error)
}

// Executor is the guarded SQL surface the kit needs.
type Executor interface {
	Execute(ctx context.Context, raw string) (*sqlguard.ResultSet, error)
}

// KitConfig holds the kit's required dependencies.
type KitConfig struct {
	Knowledge    KnowledgeStore
	Learnings    LearningStore
	Introspector Introspector
	Executor     Executor
	Logger       *slog.Logger
}

// Kit implements the tool surface over the injected stores.
type Kit struct {
	knowledge    KnowledgeStore
	learnings    LearningStore
	introspector Introspector
	executor     Executor
	logger       *slog.Logger
}

// NewKit creates a Kit, failing fast on any missing dependency.
func NewKit(cfg KitConfig) (*Kit, error) {
	if cfg.Knowledge == nil {
		return nil, fmt.Errorf("KitConfig.Knowledge is required")
	}
	if cfg.Learnings == nil {
		return nil, fmt.Errorf("KitConfig.Learnings is required")
	}
	if cfg.Introspector == nil {
		return nil, fmt.Errorf("KitConfig.Introspector is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("KitConfig.Executor is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Kit{
		knowledge:    cfg.Knowledge,
		learnings:    cfg.Learnings,
		introspector: cfg.Introspector,
		executor:     cfg.Executor,
		logger:       logger,
	}, nil
}

// Register defines every tool with Genkit. The handler set mirrors All().
func (k *Kit) Register(g *genkit.Genkit) error {
	if g == nil {
		return fmt.Errorf("genkit instance is required")
	}

	genkit.DefineTool(g, string(NameSearchKnowledge),
		"Search the curated knowledge base: table schemas, business rules, "+
			"and previously validated queries. Use before answering questions "+
			"about the data model or writing SQL.",
		k.SearchKnowledge)

	genkit.DefineTool(g, string(NameSearchLearnings),
		"Search accumulated learnings: past error fixes, gotchas, and user "+
			"corrections. Use before writing SQL to avoid repeating known mistakes.",
		k.SearchLearnings)

	genkit.DefineTool(g, string(NameSaveLearning),
		"Save a newly discovered fact (an error fix, a gotcha, a correction). "+
			"A learning with an equivalent title replaces the earlier one.",
		k.SaveLearning)

	genkit.DefineTool(g, string(NameSaveValidatedQuery),
		"Save a SQL query the user confirmed as correct and reusable, with a "+
			"short description of what it answers.",
		k.SaveValidatedQuery)

	genkit.DefineTool(g, string(NameIntrospectSchema),
		"Look up a table's columns and their types from the live database catalog.",
		k.IntrospectSchema)

	genkit.DefineTool(g, string(NameExecuteSQL),
		"Run a read-only SQL query against the analytic database. Only single "+
			"SELECT statements with explicit columns are accepted; results are "+
			"row-limited.",
		k.ExecuteSQL)

	k.logger.Info("registered tools", "count", len(All()))
	return nil
}

// Genkit handler adapters. Tool failures are reported inside the Result
// envelope, not as Go errors, so generation continues with a structured
// failure the model can read.

func (k *Kit) SearchKnowledge(tc *ai.ToolContext, in SearchInput) (Result, error) {
	return k.searchKnowledge(tc.Context, in), nil
}

func (k *Kit) SearchLearnings(tc *ai.ToolContext, in SearchInput) (Result, error) {
	return k.searchLearnings(tc.Context, in), nil
}

func (k *Kit) SaveLearning(tc *ai.ToolContext, in SaveLearningInput) (Result, error) {
	return k.saveLearning(tc.Context, in), nil
}

func (k *Kit) SaveValidatedQuery(tc *ai.ToolContext, in SaveValidatedQueryInput) (Result, error) {
	return k.saveValidatedQuery(tc.Context, in), nil
}

func (k *Kit) IntrospectSchema(tc *ai.ToolContext, in IntrospectSchemaInput) (Result, error) {
	return k.introspectSchema(tc.Context, in), nil
}

func (k *Kit) ExecuteSQL(tc *ai.ToolContext, in ExecuteSQLInput) (Result, error) {
	return k.executeSQL(tc.Context, in), nil
}

// Dispatch serves non-genkit callers (the CLI, tests) from the same
// fixed table of handlers.
func (k *Kit) Dispatch(ctx context.Context, name Name, raw json.RawMessage) (Result, error) {
	switch name {
	case NameSearchKnowledge:
		var in SearchInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.searchKnowledge(ctx, in), nil
	case NameSearchLearnings:
		var in SearchInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.searchLearnings(ctx, in), nil
	case NameSaveLearning:
		var in SaveLearningInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.saveLearning(ctx, in), nil
	case NameSaveValidatedQuery:
		var in SaveValidatedQueryInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.saveValidatedQuery(ctx, in), nil
	case NameIntrospectSchema:
		var in IntrospectSchemaInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.introspectSchema(ctx, in), nil
	case NameExecuteSQL:
		var in ExecuteSQLInput
		if err := json.Unmarshal(raw, &in); err != nil {
			return Result{}, fmt.Errorf("decoding %s input: %w", name, err)
		}
		return k.executeSQL(ctx, in), nil
	default:
		return Result{}, fmt.Errorf("unknown tool %q", name)
	}
}

func (k *Kit) searchKnowledge(ctx context.Context, in SearchInput) Result {
	if strings.TrimSpace(in.Query) == "" {
		return fail(fmt.Errorf("query is empty"))
	}
	results, err := k.knowledge.Search(ctx, in.Query, clampTopK(in.TopK))
	if err != nil {
		k.logger.Error("knowledge search failed", "error", err)
		return fail(err)
	}
	return ok(toHits(results))
}

func (k *Kit) searchLearnings(ctx context.Context, in SearchInput) Result {
	if strings.TrimSpace(in.Query) == "" {
		return fail(fmt.Errorf("query is empty"))
	}
	results, err := k.learnings.Search(ctx, in.Query, clampTopK(in.TopK))
	if err != nil {
		k.logger.Error("learnings search failed", "error", err)
		return fail(err)
	}
	return ok(toHits(results))
}

func (k *Kit) saveLearning(ctx context.Context, in SaveLearningInput) Result {
	id, replaced, err := k.learnings.Save(ctx, learning.Learning{
		Title:    in.Title,
		Learning: in.Learning,
		Context:  in.Context,
		Tags:     in.Tags,
	})
	if err != nil {
		k.logger.Error("save learning failed", "error", err)
		return fail(err)
	}
	return ok(SaveOutput{ID: id.String(), Replaced: replaced})
}

func (k *Kit) saveValidatedQuery(ctx context.Context, in SaveValidatedQueryInput) Result {
	id, err := k.knowledge.SaveValidatedQuery(ctx, in.SQL, in.Description, in.Tags)
	if err != nil {
		k.logger.Error("save validated query failed", "error", err)
		return fail(err)
	}
	return ok(SaveOutput{ID: id.String()})
}

func (k *Kit) introspectSchema(ctx context.Context, in IntrospectSchemaInput) Result {
	desc, err := k.introspector.Describe(ctx, in.Table)
	if err != nil {
		k.logger.Error("schema introspection failed", "table", in.Table, "error", err)
		return fail(err)
	}
	return ok(desc)
}

func (k *Kit) executeSQL(ctx context.Context, in ExecuteSQLInput) Result {
	result, err := k.executor.Execute(ctx, in.SQL)
	if err != nil {
		k.logger.Error("guarded execution failed", "error", err)
		return fail(err)
	}
	return ok(ExecuteSQLOutput{Columns: result.Columns, Rows: result.Rows})
}

// clampTopK bounds the requested result count.
func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}

// toHits serializes store results for the model.
func toHits(results []store.QueryResult) []SearchHit {
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{
			ID:       r.Item.ID.String(),
			Content:  r.Item.Content,
			Origin:   string(r.Origin),
			Score:    r.Score,
			Tags:     r.Item.Tags,
			Attrs:    r.Item.Attrs,
			Degraded: r.Degraded,
		})
	}
	return hits
}
