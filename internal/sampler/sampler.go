// Package sampler implements the row-thinning operations that shrink an
// OMOP-CDM database: person sampling with cascade, exclusion-aware sampling,
// system sampling, concept removal and thinning, and orphan visit cleanup.
//
// Every operation runs as plain SQL on the store's single connection. Table
// rebuilds go through a transient "<table>_sampled" table that is swapped in
// with store.ReplaceTable.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cdmslim/cdmslim/internal/store"
)

const (
	PersonTable          = "person"
	PersonIDColumn       = "person_id"
	VisitIDColumn        = "visit_occurrence_id"
	VisitOccurrenceTable = "visit_occurrence"
	VisitDetailTable     = "visit_detail"
	SampledSuffix        = "_sampled"
)

// DefaultFactTables are the event tables whose visit references keep a visit alive.
var DefaultFactTables = []string{
	"measurement",
	"observation",
	"condition_occurrence",
	"drug_exposure",
	"device_exposure",
	"procedure_occurrence",
}

var (
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrInvalidSampleSize = errors.New("sample size must not be negative")
	ErrNoConcepts        = errors.New("at least one concept code is required")
	ErrNoFactTables      = errors.New("at least one fact table is required")
)

// TableChange records the row count of one table around a step.
type TableChange struct {
	Table      string `json:"table"`
	RowsBefore int64  `json:"rows_before"`
	RowsAfter  int64  `json:"rows_after"`
}

// Removed is the number of rows the step took out of the table.
func (c TableChange) Removed() int64 {
	return c.RowsBefore - c.RowsAfter
}

// Result is the outcome of one sampler operation.
type Result struct {
	Step     string        `json:"step"`
	Changes  []TableChange `json:"changes"`
	Duration time.Duration `json:"duration_ns"`
}

// RowsRemoved sums the removed rows over all touched tables.
func (r *Result) RowsRemoved() int64 {
	var n int64
	for _, c := range r.Changes {
		n += c.Removed()
	}
	return n
}

// Sampler runs the thinning operations against a store.
type Sampler struct {
	store  *store.Store
	logger *slog.Logger

	// ConceptColumns overrides the naming convention used by ConceptColumn,
	// keyed by table name.
	ConceptColumns map[string]string
}

// New creates a Sampler. A nil logger falls back to slog.Default.
func New(s *store.Store, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{store: s, logger: logger}
}

func (s *Sampler) conceptColumn(table string) string {
	if col, ok := s.ConceptColumns[table]; ok && col != "" {
		return col
	}
	return ConceptColumn(table)
}

// rebuild materializes query into "<table>_sampled" and swaps it in for table.
func (s *Sampler) rebuild(ctx context.Context, table, query string, args ...any) error {
	sampled := table + SampledSuffix
	// Leftover from an aborted run.
	if err := s.store.DropTable(ctx, sampled); err != nil {
		return err
	}
	if err := s.store.CreateTableAs(ctx, sampled, query, args...); err != nil {
		return err
	}
	if err := s.store.ReplaceTable(ctx, table, sampled); err != nil {
		return err
	}
	return nil
}

func checkPercentage(p float64) error {
	if math.IsNaN(p) || p < 0 || p > 100 {
		return fmt.Errorf("%w: got %v", ErrInvalidPercentage, p)
	}
	return nil
}

// keepCount is floor(n * percentage / 100).
func keepCount(n int64, percentage float64) int64 {
	return int64(math.Floor(float64(n) * percentage / 100))
}

func uniqueCodes(codes []int64) []int64 {
	seen := make(map[int64]bool, len(codes))
	out := make([]int64, 0, len(codes))
	for _, c := range codes {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func codeArgs(codes []int64) []any {
	args := make([]any, len(codes))
	for i, c := range codes {
		args[i] = c
	}
	return args
}
