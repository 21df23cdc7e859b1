// Package sqlguard is the single enforcement point for SQL the agent
// wants to run: only one read-only statement at a time, explicit columns,
// and a bounded row limit. Nothing else in the system executes SQL on the
// analytic database without passing Validate first.
package sqlguard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnsafeQuery indicates a statement Validate refused. The attempt is
// non-recoverable: callers must not retry the same text verbatim.
var ErrUnsafeQuery = errors.New("unsafe query")

// DefaultRowLimit bounds result sets when the caller configures nothing.
const DefaultRowLimit = 50

// Statement is a validated, bounded SQL statement ready for execution.
type Statement struct {
	Raw      string // normalized text including the enforced LIMIT
	RowLimit int
}

// mutating verbs rejected anywhere in the statement, even inside
// subqueries or CTE bodies.
var mutatingVerbs = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {},
	"truncate": {}, "create": {}, "grant": {}, "revoke": {}, "copy": {},
	"vacuum": {}, "call": {}, "do": {}, "merge": {},
}

var (
	wordRe = regexp.MustCompile(`[a-zA-Z_][a-zA-Z0-9_]*`)

	// Row-bound tails PostgreSQL accepts: LIMIT n [OFFSET m [ROW|ROWS]]
	// and the standard FETCH {FIRST|NEXT} [n] {ROW|ROWS} ONLY.
	limitTailRe = regexp.MustCompile(`(?is)\blimit\s+(\d+|all)(\s+offset\s+\d+(?:\s+rows?)?)?\s*$`)
	fetchTailRe = regexp.MustCompile(`(?is)\bfetch\s+(?:first|next)(?:\s+(\d+))?\s+rows?\s+only\s*$`)
)

// Guard validates statements against a configured row-limit ceiling.
type Guard struct {
	rowLimit int
}

// New creates a Guard. A non-positive ceiling falls back to DefaultRowLimit.
func New(rowLimit int) *Guard {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &Guard{rowLimit: rowLimit}
}

// Validate checks raw SQL and returns the bounded statement to execute.
//
// Rejected: empty input, multiple statements, anything that is not a
// SELECT (or a WITH feeding a SELECT), any mutating verb regardless of
// case or comment obfuscation, and wildcard column selection. A LIMIT
// at or under the ceiling is kept; a missing or oversized one is
// injected or clamped.
func (g *Guard) Validate(raw string) (Statement, error) {
	stripped, err := stripComments(raw)
	if err != nil {
		return Statement{}, err
	}
	stripped = strings.TrimSpace(stripped)
	stripped = strings.TrimSuffix(stripped, ";")
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		return Statement{}, fmt.Errorf("%w: empty statement", ErrUnsafeQuery)
	}

	if containsBareSemicolon(stripped) {
		return Statement{}, fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}

	masked := maskStrings(stripped)

	first := strings.ToLower(firstWord(masked))
	if first != "select" && first != "with" {
		return Statement{}, fmt.Errorf("%w: only SELECT statements are allowed, got %q", ErrUnsafeQuery, first)
	}

	for _, word := range wordRe.FindAllString(masked, -1) {
		if _, bad := mutatingVerbs[strings.ToLower(word)]; bad {
			return Statement{}, fmt.Errorf("%w: mutating verb %q", ErrUnsafeQuery, strings.ToLower(word))
		}
	}

	if hasWildcardColumns(masked) {
		return Statement{}, fmt.Errorf("%w: wildcard column selection, list columns explicitly", ErrUnsafeQuery)
	}

	bounded, limit := g.enforceLimit(stripped, masked)
	return Statement{Raw: bounded, RowLimit: limit}, nil
}

// RowLimitCeiling reports the configured ceiling.
func (g *Guard) RowLimitCeiling() int {
	return g.rowLimit
}

// enforceLimit keeps an in-bounds row bound (LIMIT, including LIMIT 0,
// or FETCH FIRST), clamps an oversized or unbounded one in place, and
// appends the ceiling only when the statement carries no bound at all.
// masked and stmt are the same length, so match indexes transfer.
func (g *Guard) enforceLimit(stmt, masked string) (string, int) {
	if m := limitTailRe.FindStringSubmatchIndex(masked); m != nil {
		offsetTail := ""
		if m[4] >= 0 {
			offsetTail = stmt[m[4]:m[5]]
		}
		n, err := strconv.Atoi(masked[m[2]:m[3]])
		if err == nil && n <= g.rowLimit {
			return stmt, n
		}
		// Oversized count or LIMIT ALL: clamp, preserving any OFFSET.
		return stmt[:m[0]] + "LIMIT " + strconv.Itoa(g.rowLimit) + offsetTail, g.rowLimit
	}

	if m := fetchTailRe.FindStringSubmatchIndex(masked); m != nil {
		n := 1 // FETCH FIRST ROW ONLY implies a count of one
		if m[2] >= 0 {
			if parsed, err := strconv.Atoi(masked[m[2]:m[3]]); err == nil {
				n = parsed
			}
		}
		if n <= g.rowLimit {
			return stmt, n
		}
		return stmt[:m[0]] + "FETCH FIRST " + strconv.Itoa(g.rowLimit) + " ROWS ONLY", g.rowLimit
	}

	return stmt + " LIMIT " + strconv.Itoa(g.rowLimit), g.rowLimit
}

// stripComments removes -- line comments and /* */ block comments
// (nested, as PostgreSQL nests them), leaving string literals intact.
func stripComments(sql string) (string, error) {
	var b strings.Builder
	depth := 0
	inSingle := false
	inDollar := false
	var dollarTag string

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if depth > 0 {
			switch {
			case c == '*' && i+1 < len(sql) && sql[i+1] == '/':
				depth--
				i++
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				depth++
				i++
			}
			continue
		}

		if inSingle {
			b.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b.WriteByte(sql[i+1])
					i++
				} else {
					inSingle = false
				}
			}
			continue
		}

		if inDollar {
			b.WriteByte(c)
			if c == '$' && strings.HasPrefix(sql[i:], dollarTag) {
				b.WriteString(sql[i+1 : i+len(dollarTag)])
				i += len(dollarTag) - 1
				inDollar = false
			}
			continue
		}

		switch {
		case c == '\'':
			inSingle = true
			b.WriteByte(c)
		case c == '$':
			if tag, ok := dollarQuoteTag(sql[i:]); ok {
				inDollar = true
				dollarTag = tag
				b.WriteString(tag)
				i += len(tag) - 1
			} else {
				b.WriteByte(c)
			}
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			b.WriteByte('\n')
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			depth++
			i++
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}

	if depth > 0 {
		return "", fmt.Errorf("%w: unterminated block comment", ErrUnsafeQuery)
	}
	if inSingle || inDollar {
		return "", fmt.Errorf("%w: unterminated string literal", ErrUnsafeQuery)
	}
	return b.String(), nil
}

// dollarQuoteTag parses a $tag$ opener at the start of s.
func dollarQuoteTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 1 && c >= '0' && c <= '9')) {
			return "", false
		}
	}
	return "", false
}

// maskStrings blanks out string literal contents so keyword and wildcard
// scans cannot be fooled by text inside quotes.
func maskStrings(sql string) string {
	out := []byte(sql)
	inSingle := false
	inDollar := false
	var dollarTag string

	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case inSingle:
			if c == '\'' {
				if i+1 < len(out) && out[i+1] == '\'' {
					out[i+1] = ' '
					i++
				} else {
					inSingle = false
				}
			} else {
				out[i] = ' '
			}
		case inDollar:
			if c == '$' && strings.HasPrefix(string(out[i:]), dollarTag) {
				i += len(dollarTag) - 1
				inDollar = false
			} else {
				out[i] = ' '
			}
		case c == '\'':
			inSingle = true
		case c == '$':
			if tag, ok := dollarQuoteTag(string(out[i:])); ok {
				inDollar = true
				dollarTag = tag
				i += len(tag) - 1
			}
		}
	}
	return string(out)
}

// containsBareSemicolon reports whether a semicolon separates statements
// (string literals already handled by the caller flow via maskStrings).
func containsBareSemicolon(sql string) bool {
	return strings.Contains(maskStrings(sql), ";")
}

// hasWildcardColumns scans each top-level select list for a bare * or
// qualified t.* projection. COUNT(*) and other aggregate forms inside
// parentheses are allowed.
func hasWildcardColumns(masked string) bool {
	lower := strings.ToLower(masked)
	for start := 0; ; {
		idx := indexWord(lower[start:], "select")
		if idx < 0 {
			return false
		}
		idx += start
		if wildcardInSelectList(lower[idx+len("select"):]) {
			return true
		}
		start = idx + len("select")
	}
}

// wildcardInSelectList inspects the projection list that follows a
// SELECT keyword, stopping at the matching FROM. A star counts as a
// wildcard only when it stands alone as a projection (`*`, `t.*`), not
// when it multiplies two expressions (`price * qty`).
func wildcardInSelectList(rest string) bool {
	depth := 0
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch c {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case '*':
			if depth == 0 && starIsProjection(rest, i) {
				return true
			}
		case 'f', 'F':
			if depth == 0 && isWordAt(rest, i, "from") {
				return false
			}
		}
	}
	return false
}

// starIsProjection reports whether the star at rest[i] projects whole
// rows: preceded by nothing, a comma, or a dot, and followed by nothing,
// a comma, or the FROM keyword.
func starIsProjection(rest string, i int) bool {
	before := strings.TrimSpace(rest[:i])
	if before != "" && !strings.HasSuffix(before, ",") && !strings.HasSuffix(before, ".") &&
		!strings.HasSuffix(before, "distinct") && !strings.HasSuffix(before, "all") {
		return false
	}
	after := strings.TrimSpace(rest[i+1:])
	if after == "" || after[0] == ',' {
		return true
	}
	return isWordAt(after, 0, "from")
}

// indexWord finds a whole-word occurrence of word in s, or -1.
func indexWord(s, word string) int {
	for start := 0; ; {
		idx := strings.Index(s[start:], word)
		if idx < 0 {
			return -1
		}
		idx += start
		if isWordAt(s, idx, word) {
			return idx
		}
		start = idx + 1
	}
}

// isWordAt reports whether s[i:] begins the whole word.
func isWordAt(s string, i int, word string) bool {
	if !strings.HasPrefix(s[i:], word) {
		return false
	}
	before := i == 0 || !isWordByte(s[i-1])
	afterIdx := i + len(word)
	after := afterIdx >= len(s) || !isWordByte(s[afterIdx])
	return before && after
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// firstWord returns the leading identifier of the statement.
func firstWord(s string) string {
	s = strings.TrimSpace(s)
	loc := wordRe.FindStringIndex(s)
	if loc == nil || loc[0] != 0 {
		return ""
	}
	return s[loc[0]:loc[1]]
}
