package sampler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cdmslim/cdmslim/internal/store"
)

const referencedVisitsTable = "referenced_visits"

// CleanOrphanVisits deletes visit_detail and visit_occurrence rows whose visit
// is no longer referenced by any of factTables. Both tables are checked
// against the same reference set; a NULL visit reference counts as
// unreferenced.
func (s *Sampler) CleanOrphanVisits(ctx context.Context, factTables []string) (*Result, error) {
	if len(factTables) == 0 {
		return nil, ErrNoFactTables
	}
	start := time.Now()
	visitCol := store.QuoteIdent(VisitIDColumn)
	ref := store.QuoteIdent(referencedVisitsTable)

	selects := make([]string, len(factTables))
	for i, t := range factTables {
		selects[i] = fmt.Sprintf("SELECT %s FROM %s", visitCol, s.store.Table(t))
	}
	create := fmt.Sprintf("CREATE TEMPORARY TABLE %s AS %s", ref, strings.Join(selects, " UNION "))

	if _, err := s.store.Exec(ctx, "DROP TABLE IF EXISTS "+ref); err != nil {
		return nil, fmt.Errorf("dropping stale visit references: %w", err)
	}
	if _, err := s.store.Exec(ctx, create); err != nil {
		return nil, fmt.Errorf("collecting visit references: %w", err)
	}
	defer func() {
		if _, err := s.store.Exec(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+ref); err != nil {
			s.logger.Warn("dropping visit references", "error", err)
		}
	}()

	result := &Result{Step: "clean_visits"}
	for _, table := range []string{VisitDetailTable, VisitOccurrenceTable} {
		before, err := s.store.RowCount(ctx, table)
		if err != nil {
			return nil, err
		}

		q := fmt.Sprintf(`DELETE FROM %[1]s AS t WHERE NOT EXISTS (
			SELECT 1 FROM %[3]s rv WHERE rv.%[2]s = t.%[2]s
		)`, s.store.Table(table), visitCol, ref)

		deleted, err := s.store.Exec(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("removing orphan visits from %s: %w", table, err)
		}
		s.logger.Info("removed orphan visits", "table", table, "rows_removed", deleted)
		result.Changes = append(result.Changes, TableChange{Table: table, RowsBefore: before, RowsAfter: before - deleted})
	}

	result.Duration = time.Since(start)
	return result, nil
}
