package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/store"
)

// SamplePersons keeps n randomly chosen persons and deletes every row of every
// table with a person_id column that no longer references a kept person.
func (s *Sampler) SamplePersons(ctx context.Context, n int64) (*Result, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleSize, n)
	}
	start := time.Now()
	sampled := PersonTable + SampledSuffix

	dependents, err := catalog.TablesWithColumn(ctx, s.store, PersonIDColumn, PersonTable, sampled)
	if err != nil {
		return nil, err
	}

	personBefore, err := s.store.RowCount(ctx, PersonTable)
	if err != nil {
		return nil, err
	}

	s.logger.Info("sampling persons", "target", n, "population", personBefore, "dependents", len(dependents))

	if err := s.store.DropTable(ctx, sampled); err != nil {
		return nil, err
	}
	if err := s.store.CreateTableAs(ctx, sampled, s.store.Dialect().SampleRows(s.store.Table(PersonTable), n)); err != nil {
		return nil, err
	}

	result := &Result{Step: "sample_person"}
	for _, table := range dependents {
		change, err := s.cascadePersons(ctx, table, sampled)
		if err != nil {
			return nil, err
		}
		result.Changes = append(result.Changes, change)
	}

	if err := s.store.ReplaceTable(ctx, PersonTable, sampled); err != nil {
		return nil, err
	}
	personAfter, err := s.store.RowCount(ctx, PersonTable)
	if err != nil {
		return nil, err
	}

	result.Changes = append([]TableChange{{
		Table:      PersonTable,
		RowsBefore: personBefore,
		RowsAfter:  personAfter,
	}}, result.Changes...)
	result.Duration = time.Since(start)

	s.logger.Info("sampled persons", "rows_before", personBefore, "rows_after", personAfter,
		"dependent_rows_removed", result.RowsRemoved()-(personBefore-personAfter),
		"duration", result.Duration)
	return result, nil
}

func (s *Sampler) cascadePersons(ctx context.Context, table, sampled string) (TableChange, error) {
	before, err := s.store.RowCount(ctx, table)
	if err != nil {
		return TableChange{}, err
	}

	q := fmt.Sprintf(`DELETE FROM %[1]s AS t WHERE NOT EXISTS (
		SELECT 1 FROM %[2]s kept WHERE kept.%[3]s = t.%[3]s
	)`, s.store.Table(table), s.store.Table(sampled), store.QuoteIdent(PersonIDColumn))

	deleted, err := s.store.Exec(ctx, q)
	if err != nil {
		return TableChange{}, fmt.Errorf("removing unsampled persons from %s: %w", table, err)
	}

	s.logger.Debug("removed unsampled persons", "table", table, "rows_removed", deleted)
	return TableChange{Table: table, RowsBefore: before, RowsAfter: before - deleted}, nil
}
