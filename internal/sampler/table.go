package sampler

import (
	"context"
	"time"
)

// SampleTable keeps roughly percentage of table using the engine's block
// sampling. The resulting row count is approximate.
func (s *Sampler) SampleTable(ctx context.Context, table string, percentage float64) (*Result, error) {
	if err := checkPercentage(percentage); err != nil {
		return nil, err
	}
	start := time.Now()

	before, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}
	s.logger.Info("sampling table", "table", table, "percentage", percentage, "rows_before", before)

	if err := s.rebuild(ctx, table, s.store.Dialect().SamplePercent(s.store.Table(table), percentage)); err != nil {
		return nil, err
	}
	after, err := s.store.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Step:     "sample_table",
		Changes:  []TableChange{{Table: table, RowsBefore: before, RowsAfter: after}},
		Duration: time.Since(start),
	}
	s.logger.Info("sampled table", "table", table, "rows_after", after, "duration", result.Duration)
	return result, nil
}
