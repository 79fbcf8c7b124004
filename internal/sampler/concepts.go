package sampler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cdmslim/cdmslim/internal/store"
)

// ConceptColumn derives the concept column of an OMOP table: the part of the
// table name before the first underscore plus "_concept_id", so
// procedure_occurrence maps to procedure_concept_id and measurement to
// measurement_concept_id.
func ConceptColumn(table string) string {
	if i := strings.Index(table, "_"); i >= 0 {
		return table[:i] + "_concept_id"
	}
	return table + "_concept_id"
}

// IDColumn is the primary key column of an OMOP table.
func IDColumn(table string) string {
	return table + "_id"
}

// RemoveConcepts deletes every row of table whose concept is one of codes.
func (s *Sampler) RemoveConcepts(ctx context.Context, table string, codes []int64) (*Result, error) {
	codes = uniqueCodes(codes)
	if len(codes) == 0 {
		return nil, fmt.Errorf("removing concepts from %s: %w", table, ErrNoConcepts)
	}
	start := time.Now()

	before, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		s.store.Table(table),
		store.QuoteIdent(s.conceptColumn(table)),
		store.Placeholders(s.store.Dialect(), 0, len(codes)))
	deleted, err := s.store.Exec(ctx, q, codeArgs(codes)...)
	if err != nil {
		return nil, fmt.Errorf("removing concepts from %s: %w", table, err)
	}

	result := &Result{
		Step:     "remove_concepts",
		Changes:  []TableChange{{Table: table, RowsBefore: before, RowsAfter: before - deleted}},
		Duration: time.Since(start),
	}
	s.logger.Info("removed concepts", "table", table, "codes", codes, "rows_removed", deleted, "duration", result.Duration)
	return result, nil
}

// DownsampleConcept keeps floor(matching*percentage/100) randomly ranked rows
// of table carrying concept code and deletes the other matching rows in place.
func (s *Sampler) DownsampleConcept(ctx context.Context, table string, code int64, percentage float64) (*Result, error) {
	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}
	start := time.Now()
	d := s.store.Dialect()
	id := store.QuoteIdent(IDColumn(table))
	col := store.QuoteIdent(s.conceptColumn(table))
	tbl := s.store.Table(table)

	before, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`DELETE FROM %[1]s WHERE %[2]s IN (
		SELECT %[2]s FROM (
			SELECT %[2]s,
				ROW_NUMBER() OVER (ORDER BY random()) AS rn,
				COUNT(*) OVER () AS total_rows
			FROM %[1]s
			WHERE %[3]s = %[4]s
		) ranked
		WHERE rn > total_rows * %[5]s / 100.0
	)`, tbl, id, col, d.Placeholder(1), store.FormatNumber(percentage))

	deleted, err := s.store.Exec(ctx, q, code)
	if err != nil {
		return nil, fmt.Errorf("downsampling concept %d in %s: %w", code, table, err)
	}

	result := &Result{
		Step:     "downsample_concept",
		Changes:  []TableChange{{Table: table, RowsBefore: before, RowsAfter: before - deleted}},
		Duration: time.Since(start),
	}
	s.logger.Info("downsampled concept", "table", table, "code", code, "percentage", percentage,
		"rows_removed", deleted, "duration", result.Duration)
	return result, nil
}
