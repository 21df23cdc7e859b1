package sqlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	g := New(50)

	tests := []struct {
		name      string
		sql       string
		wantRaw   string
		wantLimit int
	}{
		{
			name:      "plain select gains limit",
			sql:       "SELECT surname, points FROM drivers",
			wantRaw:   "SELECT surname, points FROM drivers LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "existing limit under ceiling kept",
			sql:       "SELECT surname FROM drivers LIMIT 10",
			wantRaw:   "SELECT surname FROM drivers LIMIT 10",
			wantLimit: 10,
		},
		{
			name:      "oversized limit clamped",
			sql:       "SELECT surname FROM drivers LIMIT 5000",
			wantRaw:   "SELECT surname FROM drivers LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "limit with offset kept",
			sql:       "SELECT surname FROM drivers LIMIT 10 OFFSET 5",
			wantRaw:   "SELECT surname FROM drivers LIMIT 10 OFFSET 5",
			wantLimit: 10,
		},
		{
			name:      "oversized limit clamped keeping offset",
			sql:       "SELECT surname FROM drivers LIMIT 5000 OFFSET 5",
			wantRaw:   "SELECT surname FROM drivers LIMIT 50 OFFSET 5",
			wantLimit: 50,
		},
		{
			name:      "limit zero kept",
			sql:       "SELECT surname FROM drivers LIMIT 0",
			wantRaw:   "SELECT surname FROM drivers LIMIT 0",
			wantLimit: 0,
		},
		{
			name:      "limit all clamped",
			sql:       "SELECT surname FROM drivers LIMIT ALL",
			wantRaw:   "SELECT surname FROM drivers LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "fetch first kept",
			sql:       "SELECT surname FROM drivers FETCH FIRST 10 ROWS ONLY",
			wantRaw:   "SELECT surname FROM drivers FETCH FIRST 10 ROWS ONLY",
			wantLimit: 10,
		},
		{
			name:      "fetch first without count kept",
			sql:       "SELECT surname FROM drivers FETCH FIRST ROW ONLY",
			wantRaw:   "SELECT surname FROM drivers FETCH FIRST ROW ONLY",
			wantLimit: 1,
		},
		{
			name:      "oversized fetch clamped",
			sql:       "SELECT surname FROM drivers FETCH NEXT 500 ROWS ONLY",
			wantRaw:   "SELECT surname FROM drivers FETCH FIRST 50 ROWS ONLY",
			wantLimit: 50,
		},
		{
			name:      "offset rows before fetch kept",
			sql:       "SELECT surname FROM drivers OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY",
			wantRaw:   "SELECT surname FROM drivers OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY",
			wantLimit: 10,
		},
		{
			name:      "count star allowed",
			sql:       "SELECT COUNT(*) FROM races WHERE year = 2021",
			wantRaw:   "SELECT COUNT(*) FROM races WHERE year = 2021 LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "multiplication is not a wildcard",
			sql:       "SELECT points * 2 AS doubled FROM results",
			wantRaw:   "SELECT points * 2 AS doubled FROM results LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "cte select",
			sql:       "WITH winners AS (SELECT race_id, driver_id FROM results WHERE position = '1') SELECT driver_id FROM winners",
			wantLimit: 50,
		},
		{
			name:      "trailing semicolon stripped",
			sql:       "SELECT surname FROM drivers;",
			wantRaw:   "SELECT surname FROM drivers LIMIT 50",
			wantLimit: 50,
		},
		{
			name:      "mutating verb inside string literal",
			sql:       "SELECT surname FROM drivers WHERE surname = 'drop table'",
			wantLimit: 50,
		},
		{
			name:      "column named like a verb",
			sql:       "SELECT created_at, updated_count FROM audit_views",
			wantLimit: 50,
		},
		{
			name:      "comments stripped before checks",
			sql:       "SELECT surname -- pick the driver name\nFROM drivers /* full table */",
			wantLimit: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := g.Validate(tt.sql)
			if err != nil {
				t.Fatalf("Validate(%q) unexpected error: %v", tt.sql, err)
			}
			if tt.wantRaw != "" && stmt.Raw != tt.wantRaw {
				t.Errorf("Validate(%q).Raw = %q, want %q", tt.sql, stmt.Raw, tt.wantRaw)
			}
			if stmt.RowLimit != tt.wantLimit {
				t.Errorf("Validate(%q).RowLimit = %d, want %d", tt.sql, stmt.RowLimit, tt.wantLimit)
			}
			if stmt.RowLimit > g.RowLimitCeiling() {
				t.Errorf("RowLimit %d exceeds ceiling %d", stmt.RowLimit, g.RowLimitCeiling())
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	g := New(50)

	tests := []struct {
		name string
		sql  string
	}{
		{"empty", ""},
		{"whitespace only", "   \n\t"},
		{"comment only", "-- nothing here"},
		{"wildcard", "SELECT * FROM drivers"},
		{"qualified wildcard", "SELECT d.* FROM drivers d"},
		{"wildcard after column", "SELECT surname, * FROM drivers"},
		{"distinct wildcard", "SELECT DISTINCT * FROM drivers"},
		{"wildcard in subquery", "SELECT surname FROM (SELECT * FROM drivers) d"},
		{"insert", "INSERT INTO drivers (surname) VALUES ('x')"},
		{"update", "UPDATE drivers SET surname = 'x'"},
		{"delete", "DELETE FROM drivers"},
		{"drop", "DROP TABLE drivers"},
		{"alter", "ALTER TABLE drivers ADD COLUMN x int"},
		{"truncate", "TRUNCATE drivers"},
		{"create", "CREATE TABLE x (id int)"},
		{"grant", "GRANT ALL ON drivers TO public"},
		{"copy", "COPY drivers TO '/tmp/out'"},
		{"mixed case mutation", "InSeRt INTO drivers VALUES (1)"},
		{"comment obfuscated mutation", "SELECT surname FROM drivers; --\nDROP TABLE drivers"},
		{"block comment obfuscation", "DR/**/OP TABLE drivers"},
		{"multiple statements", "SELECT surname FROM drivers; SELECT code FROM drivers"},
		{"mutation in cte body", "WITH x AS (DELETE FROM drivers RETURNING id) SELECT id FROM x"},
		{"select for update", "SELECT surname FROM drivers FOR UPDATE"},
		{"not a select", "EXPLAIN SELECT surname FROM drivers"},
		{"unterminated string", "SELECT surname FROM drivers WHERE surname = 'open"},
		{"unterminated comment", "SELECT surname /* FROM drivers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Validate(tt.sql)
			if !errors.Is(err, ErrUnsafeQuery) {
				t.Fatalf("Validate(%q) error = %v, want ErrUnsafeQuery", tt.sql, err)
			}
		})
	}
}

// Property from the data-model invariants: no accepted statement carries
// a mutating verb, a wildcard projection, or an out-of-bounds limit.
func TestValidateAcceptedStatementsAreBounded(t *testing.T) {
	g := New(25)

	accepted := []string{
		"SELECT surname FROM drivers",
		"SELECT surname FROM drivers LIMIT 10",
		"SELECT surname FROM drivers LIMIT 100",
		"SELECT surname FROM drivers LIMIT 100 OFFSET 10",
		"SELECT surname FROM drivers FETCH FIRST 80 ROWS ONLY",
		"select code, count(code) from drivers group by code order by count(code) desc",
		"WITH t AS (SELECT year FROM races) SELECT year FROM t LIMIT 99",
	}

	for _, sql := range accepted {
		stmt, err := g.Validate(sql)
		if err != nil {
			t.Fatalf("Validate(%q) unexpected error: %v", sql, err)
		}
		if stmt.RowLimit > 25 {
			t.Errorf("Validate(%q).RowLimit = %d, want <= 25", sql, stmt.RowLimit)
		}
		lower := strings.ToLower(stmt.Raw)
		for verb := range mutatingVerbs {
			if indexWord(lower, verb) >= 0 {
				t.Errorf("Validate(%q).Raw contains mutating verb %q", sql, verb)
			}
		}
		if !strings.Contains(lower, "limit") && !strings.Contains(lower, "fetch") {
			t.Errorf("Validate(%q).Raw has no row bound: %q", sql, stmt.Raw)
		}
		if strings.Count(lower, "limit") > 1 {
			t.Errorf("Validate(%q).Raw has duplicate LIMIT clauses: %q", sql, stmt.Raw)
		}
	}
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "line comment",
			in:   "SELECT a -- comment\nFROM t",
			want: "SELECT a \nFROM t",
		},
		{
			name: "block comment",
			in:   "SELECT a /* comment */ FROM t",
			want: "SELECT a   FROM t",
		},
		{
			name: "nested block comment",
			in:   "SELECT a /* outer /* inner */ still outer */ FROM t",
			want: "SELECT a   FROM t",
		},
		{
			name: "comment marker inside string",
			in:   "SELECT a FROM t WHERE note = '-- not a comment'",
			want: "SELECT a FROM t WHERE note = '-- not a comment'",
		},
		{
			name: "escaped quote in string",
			in:   "SELECT a FROM t WHERE name = 'O''Brien'",
			want: "SELECT a FROM t WHERE name = 'O''Brien'",
		},
		{
			name: "dollar quoted string survives",
			in:   "SELECT $tag$ -- kept $tag$ FROM t",
			want: "SELECT $tag$ -- kept $tag$ FROM t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := stripComments(tt.in)
			if err != nil {
				t.Fatalf("stripComments(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("stripComments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewDefaultCeiling(t *testing.T) {
	if got := New(0).RowLimitCeiling(); got != DefaultRowLimit {
		t.Errorf("New(0).RowLimitCeiling() = %d, want %d", got, DefaultRowLimit)
	}
	if got := New(-5).RowLimitCeiling(); got != DefaultRowLimit {
		t.Errorf("New(-5).RowLimitCeiling() = %d, want %d", got, DefaultRowLimit)
	}
}
