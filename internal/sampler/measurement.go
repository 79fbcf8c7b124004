package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/cdmslim/cdmslim/internal/store"
)

// SampleExcluding thins table to percentage of its candidate rows while keeping
// every row whose concept is in excluded. The candidate pool is every other row,
// NULL concepts included, and exactly floor(candidates*percentage/100) of them
// survive. An empty excluded set makes the whole table the candidate pool.
func (s *Sampler) SampleExcluding(ctx context.Context, table string, percentage float64, excluded []int64) (*Result, error) {
	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}
	start := time.Now()
	d := s.store.Dialect()
	col := store.QuoteIdent(s.conceptColumn(table))
	tbl := s.store.Table(table)
	codes := uniqueCodes(excluded)

	before, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	var (
		candidates int64
		query      string
		args       []any
	)
	if len(codes) == 0 {
		candidates = before
		query = fmt.Sprintf("SELECT * FROM %s ORDER BY random() LIMIT %d", tbl, keepCount(candidates, percentage))
	} else {
		candidatePred := fmt.Sprintf("%s IS NULL OR %s NOT IN (%s)", col, col, store.Placeholders(d, 0, len(codes)))
		candidates, err = s.store.CountWhere(ctx, table, candidatePred, codeArgs(codes)...)
		if err != nil {
			return nil, err
		}
		query = fmt.Sprintf(`SELECT * FROM %[1]s WHERE %[2]s IN (%[3]s)
			UNION ALL
			SELECT * FROM (
				SELECT * FROM %[1]s WHERE %[2]s IS NULL OR %[2]s NOT IN (%[4]s)
				ORDER BY random()
				LIMIT %[5]d
			) candidates`,
			tbl, col,
			store.Placeholders(d, 0, len(codes)),
			store.Placeholders(d, len(codes), len(codes)),
			keepCount(candidates, percentage))
		args = append(codeArgs(codes), codeArgs(codes)...)
	}

	s.logger.Info("sampling with exclusions", "table", table, "percentage", percentage,
		"excluded_codes", codes, "candidates", candidates, "protected", before-candidates)

	if err := s.rebuild(ctx, table, query, args...); err != nil {
		return nil, err
	}
	after, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Step:     "sample_excluding",
		Changes:  []TableChange{{Table: table, RowsBefore: before, RowsAfter: after}},
		Duration: time.Since(start),
	}
	s.logger.Info("sampled with exclusions", "table", table, "rows_before", before, "rows_after", after, "duration", result.Duration)
	return result, nil
}
