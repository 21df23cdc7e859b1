package tools

import (
	"errors"

	"github.com/koopa0/da/internal/schema"
	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/store"
)

// Name identifies one operation on the tool surface. The set is fixed:
// handlers are registered from this enumeration, never discovered.
type Name string

const (
	NameSearchKnowledge    Name = "search_knowledge"
	NameSearchLearnings    Name = "search_learnings"
	NameSaveLearning       Name = "save_learning"
	NameSaveValidatedQuery Name = "save_validated_query"
	NameIntrospectSchema   Name = "introspect_schema"
	NameExecuteSQL         Name = "execute_sql"
)

// All returns every tool name, in registration order.
func All() []Name {
	return []Name{
		NameSearchKnowledge,
		NameSearchLearnings,
		NameSaveLearning,
		NameSaveValidatedQuery,
		NameIntrospectSchema,
		NameExecuteSQL,
	}
}

// Status reports whether a tool call succeeded.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Error is the structured failure format returned to the model, so it
// can distinguish a rejected query from a broken database and react.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the envelope every tool handler returns.
type Result struct {
	Status Status `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

func ok(data any) Result {
	return Result{Status: StatusOK, Data: data}
}

func fail(err error) Result {
	return Result{Status: StatusError, Error: &Error{Code: errorCode(err), Message: err.Error()}}
}

// errorCode maps the error taxonomy onto stable codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, sqlguard.ErrUnsafeQuery):
		return "unsafe_query"
	case errors.Is(err, sqlguard.ErrDatabase):
		return "database_error"
	case errors.Is(err, schema.ErrNotFound):
		return "schema_not_found"
	case errors.Is(err, store.ErrEmbeddingUnavailable):
		return "embedding_unavailable"
	default:
		return "internal"
	}
}

// SearchInput queries one of the two collections.
type SearchInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// SearchHit is one serialized search result.
type SearchHit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Origin   string            `json:"origin"`
	Score    float64           `json:"score"`
	Tags     []string          `json:"tags,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
}

// SaveLearningInput persists a discovered fact.
type SaveLearningInput struct {
	Title    string   `json:"title"`
	Learning string   `json:"learning"`
	Context  string   `json:"context,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// SaveValidatedQueryInput persists a user-confirmed reusable query.
type SaveValidatedQueryInput struct {
	SQL         string   `json:"sql"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// SaveOutput reports a completed save.
type SaveOutput struct {
	ID       string `json:"id"`
	Replaced bool   `json:"replaced,omitempty"`
}

// IntrospectSchemaInput names the table to describe.
type IntrospectSchemaInput struct {
	Table string `json:"table"`
}

// ExecuteSQLInput carries the raw statement to validate and run.
type ExecuteSQLInput struct {
	SQL string `json:"sql"`
}

// ExecuteSQLOutput carries the bounded result set.
type ExecuteSQLOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}
