package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect renders the engine-specific fragments of the sampling SQL.
type Dialect interface {
	// Name is the engine name used in config and flags.
	Name() string
	// DriverName is the database/sql driver registered for the engine.
	DriverName() string
	// DefaultSchema is the schema searched when none is configured.
	DefaultSchema() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// SampleRows returns a SELECT over relation yielding n rows chosen
	// uniformly at random. relation is already quoted.
	SampleRows(relation string, n int64) string
	// SamplePercent returns a SELECT over relation using block/system sampling.
	SamplePercent(relation string, percentage float64) string
}

// UnsupportedEngineError is returned for an unknown engine name.
type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return "unsupported database engine: " + e.Engine
}

// DialectFor returns the dialect for the given engine name.
func DialectFor(engine string) (Dialect, error) {
	switch strings.ToLower(engine) {
	case "", "duckdb":
		return DuckDB{}, nil
	case "postgres", "postgresql":
		return Postgres{}, nil
	default:
		return nil, &UnsupportedEngineError{Engine: engine}
	}
}

// QuoteIdent quotes an identifier with double quotes, doubling embedded quotes.
// Both supported engines use the SQL-standard form.
func QuoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// QuoteLiteral quotes a string literal with single quotes.
func QuoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

// FormatNumber renders a percentage as a SQL numeric literal.
func FormatNumber(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Placeholders returns n bind markers starting at offset+1, comma separated.
func Placeholders(d Dialect, offset, n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = d.Placeholder(offset + i + 1)
	}
	return strings.Join(marks, ", ")
}

// exactPercent handles the bounds where block sampling is not needed.
func exactPercent(relation string, percentage float64) (string, bool) {
	switch {
	case percentage <= 0:
		return fmt.Sprintf("SELECT * FROM %s LIMIT 0", relation), true
	case percentage >= 100:
		return "SELECT * FROM " + relation, true
	}
	return "", false
}

// DuckDB is the dialect of the embedded DuckDB engine.
type DuckDB struct{}

func (DuckDB) Name() string          { return "duckdb" }
func (DuckDB) DriverName() string    { return "duckdb" }
func (DuckDB) DefaultSchema() string { return "main" }
func (DuckDB) Placeholder(int) string {
	return "?"
}

func (DuckDB) SampleRows(relation string, n int64) string {
	if n <= 0 {
		return fmt.Sprintf("SELECT * FROM %s LIMIT 0", relation)
	}
	return fmt.Sprintf("SELECT * FROM %s USING SAMPLE reservoir(%d ROWS)", relation, n)
}

func (DuckDB) SamplePercent(relation string, percentage float64) string {
	if q, ok := exactPercent(relation, percentage); ok {
		return q
	}
	return fmt.Sprintf("SELECT * FROM %s USING SAMPLE %s PERCENT (system)", relation, FormatNumber(percentage))
}

// Postgres is the dialect of PostgreSQL reached through pgx.
type Postgres struct{}

func (Postgres) Name() string          { return "postgres" }
func (Postgres) DriverName() string    { return "pgx" }
func (Postgres) DefaultSchema() string { return "public" }
func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (Postgres) SampleRows(relation string, n int64) string {
	if n <= 0 {
		return fmt.Sprintf("SELECT * FROM %s LIMIT 0", relation)
	}
	return fmt.Sprintf("SELECT * FROM %s ORDER BY random() LIMIT %d", relation, n)
}

func (Postgres) SamplePercent(relation string, percentage float64) string {
	if q, ok := exactPercent(relation, percentage); ok {
		return q
	}
	return fmt.Sprintf("SELECT * FROM %s TABLESAMPLE SYSTEM (%s)", relation, FormatNumber(percentage))
}
