package learning

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/koopa0/da/internal/sqlguard"
	"github.com/koopa0/da/internal/store"
)

// Event identifies an interaction outcome worth considering for capture.
type Event string

const (
	// EventErrorFixed fires when a failed SQL statement was repaired.
	EventErrorFixed Event = "error_fixed"

	// EventUserCorrected fires when the user corrected an assertion.
	EventUserCorrected Event = "user_corrected"

	// EventQueryValidated fires when the user confirmed a query as
	// correct and reusable.
	EventQueryValidated Event = "query_validated"
)

// ErrorFixedPayload carries the failing statement, the error it
// produced, and the working fix.
type ErrorFixedPayload struct {
	Statement string
	ErrorText string
	Fix       string
}

// UserCorrectedPayload carries the prior wrong assertion and its
// correction. Business marks domain-semantics corrections as opposed to
// mechanical ones.
type UserCorrectedPayload struct {
	Prior      string
	Correction string
	Business   bool
}

// QueryValidatedPayload carries a user-confirmed reusable query.
type QueryValidatedPayload struct {
	SQL         string
	Description string
	Tags        []string
}

// Result reports what a capture persisted and where.
type Result struct {
	Origin   store.Origin
	ID       uuid.UUID
	Replaced bool
}

// learningWriter and knowledgeWriter are the narrow store surfaces the
// policy needs; tests substitute fakes.
type learningWriter interface {
	Save(ctx context.Context, l Learning) (uuid.UUID, bool, error)
}

type knowledgeWriter interface {
	SaveValidatedQuery(ctx context.Context, sql, description string, tags []string) (uuid.UUID, error)
}

type sqlValidator interface {
	Validate(raw string) (sqlguard.Statement, error)
}

// CapturePolicy turns interaction outcomes into store writes. Learnings
// go to the learning store with dedup-replace; validated queries are
// curated fact and go to the knowledge store, gated by the SQL guard.
type CapturePolicy struct {
	learnings learningWriter
	knowledge knowledgeWriter
	guard     sqlValidator
	logger    *slog.Logger
}

// NewCapturePolicy wires the policy to its stores and guard.
func NewCapturePolicy(learnings learningWriter, knowledge knowledgeWriter, guard sqlValidator, logger *slog.Logger) (*CapturePolicy, error) {
	if learnings == nil {
		return nil, fmt.Errorf("learning store is required")
	}
	if knowledge == nil {
		return nil, fmt.Errorf("knowledge store is required")
	}
	if guard == nil {
		return nil, fmt.Errorf("sql guard is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CapturePolicy{learnings: learnings, knowledge: knowledge, guard: guard, logger: logger}, nil
}

// Capture persists the outcome described by the event. The item is
// fully assembled before any store call, so a cancelled context never
// leaves a partial write.
func (p *CapturePolicy) Capture(ctx context.Context, event Event, payload any) (*Result, error) {
	switch event {
	case EventErrorFixed:
		pl, ok := payload.(ErrorFixedPayload)
		if !ok {
			return nil, fmt.Errorf("event %q requires ErrorFixedPayload, got %T", event, payload)
		}
		return p.captureErrorFixed(ctx, pl)
	case EventUserCorrected:
		pl, ok := payload.(UserCorrectedPayload)
		if !ok {
			return nil, fmt.Errorf("event %q requires UserCorrectedPayload, got %T", event, payload)
		}
		return p.captureUserCorrected(ctx, pl)
	case EventQueryValidated:
		pl, ok := payload.(QueryValidatedPayload)
		if !ok {
			return nil, fmt.Errorf("event %q requires QueryValidatedPayload, got %T", event, payload)
		}
		return p.captureQueryValidated(ctx, pl)
	default:
		return nil, fmt.Errorf("unknown capture event %q", event)
	}
}

func (p *CapturePolicy) captureErrorFixed(ctx context.Context, pl ErrorFixedPayload) (*Result, error) {
	if strings.TrimSpace(pl.ErrorText) == "" || strings.TrimSpace(pl.Fix) == "" {
		return nil, fmt.Errorf("error_fixed capture requires error text and fix")
	}

	l := classifyErrorFix(pl)
	id, replaced, err := p.learnings.Save(ctx, l)
	if err != nil {
		return nil, err
	}
	return &Result{Origin: store.OriginLearning, ID: id, Replaced: replaced}, nil
}

func (p *CapturePolicy) captureUserCorrected(ctx context.Context, pl UserCorrectedPayload) (*Result, error) {
	if strings.TrimSpace(pl.Correction) == "" {
		return nil, fmt.Errorf("user_corrected capture requires a correction")
	}

	tags := []string{"correction"}
	if pl.Business {
		tags = append(tags, "business")
	}

	l := Learning{
		Title:    truncate(pl.Correction, 80),
		Learning: pl.Correction,
		Context:  "Previously asserted: " + pl.Prior,
		Tags:     tags,
	}
	id, replaced, err := p.learnings.Save(ctx, l)
	if err != nil {
		return nil, err
	}
	return &Result{Origin: store.OriginLearning, ID: id, Replaced: replaced}, nil
}

func (p *CapturePolicy) captureQueryValidated(ctx context.Context, pl QueryValidatedPayload) (*Result, error) {
	// Even a user-confirmed query goes through the guard: curated
	// knowledge must only ever hold statements the executor would run.
	stmt, err := p.guard.Validate(pl.SQL)
	if err != nil {
		return nil, fmt.Errorf("validated query rejected: %w", err)
	}

	id, err := p.knowledge.SaveValidatedQuery(ctx, stmt.Raw, pl.Description, pl.Tags)
	if err != nil {
		return nil, err
	}
	return &Result{Origin: store.OriginKnowledge, ID: id}, nil
}

// typeMismatchRe matches database complaints of the shape
// "column position is integer but value is '1'" or
// "column position is of type integer but expression is of type text".
var typeMismatchRe = regexp.MustCompile(`(?i)column\s+"?([a-zA-Z_][a-zA-Z0-9_]*)"?\s+is\s+(?:of\s+type\s+)?([a-zA-Z_]+)\s+but`)

// classifyErrorFix builds the learning for a repaired statement. The one
// pattern worth special-casing is the type mismatch fixed by quoting:
// analytic imports often store numeric-looking columns as TEXT.
func classifyErrorFix(pl ErrorFixedPayload) Learning {
	if m := typeMismatchRe.FindStringSubmatch(pl.ErrorText); m != nil {
		column := m[1]
		if fixQuotesColumn(pl.Fix, column) {
			return Learning{
				Title:    column + " column type",
				Learning: fmt.Sprintf("%s is TEXT, not %s; compare it with quoted string literals as in %q.", column, strings.ToLower(m[2]), pl.Fix),
				Context:  "Statement: " + pl.Statement,
				Tags:     []string{"type"},
			}
		}
	}

	return Learning{
		Title:    truncate(firstLine(pl.ErrorText), 80),
		Learning: fmt.Sprintf("Failed with %q; working fix: %s", firstLine(pl.ErrorText), pl.Fix),
		Context:  "Statement: " + pl.Statement,
		Tags:     []string{"sql", "error"},
	}
}

// fixQuotesColumn reports whether the fix compares the column against a
// quoted string literal.
func fixQuotesColumn(fix, column string) bool {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(column) + `\s*(?:=|<>|!=|in\s*\()\s*'`)
	return re.MatchString(fix)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Back up to a rune start so the cut never splits a multibyte rune.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	cut := s[:n]
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut
}
