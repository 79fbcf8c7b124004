// Package verify checks that a downsampled database is referentially
// consistent: no fact rows for removed persons and no unreferenced visits.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/store"
)

// Check names.
const (
	CheckPersonOrphans = "person_orphans"
	CheckOrphanVisits  = "orphan_visits"
)

// Result holds the outcome of verification.
type Result struct {
	Status      string        `json:"status"` // PASS, FAIL, PARTIAL
	Checks      []CheckResult `json:"checks"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// CheckResult is one check against one table.
type CheckResult struct {
	Check      string `json:"check"`
	Table      string `json:"table"`
	Violations int64  `json:"violations"`
	Status     string `json:"status"` // PASS, FAIL
	Message    string `json:"message,omitempty"`
}

// Verifier runs the consistency checks.
type Verifier struct {
	Store      *store.Store
	FactTables []string
	Logger     *slog.Logger
	Callback   func(table, check string, passed bool)
}

// Verify runs every check.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	result := &Result{StartedAt: time.Now()}

	persons, err := v.CheckPersonOrphans(ctx)
	if err != nil {
		return nil, err
	}
	visits, err := v.CheckOrphanVisits(ctx)
	if err != nil {
		return nil, err
	}
	result.Checks = append(persons, visits...)

	result.CompletedAt = time.Now()
	result.Status = computeOverallStatus(result.Checks)
	return result, nil
}

// CheckPersonOrphans counts, per table with a person_id column, rows whose
// person is not in the person table.
func (v *Verifier) CheckPersonOrphans(ctx context.Context) ([]CheckResult, error) {
	ok, err := catalog.TableExists(ctx, v.Store, sampler.PersonTable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %s not found", sampler.PersonTable)
	}

	tables, err := catalog.TablesWithColumn(ctx, v.Store, sampler.PersonIDColumn, sampler.PersonTable)
	if err != nil {
		return nil, err
	}

	col := store.QuoteIdent(sampler.PersonIDColumn)
	var checks []CheckResult
	for _, table := range tables {
		where := fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = t.%s)",
			v.Store.Table(sampler.PersonTable), col, col)
		n, err := v.Store.CountWhere(ctx, table, where)
		if err != nil {
			return nil, fmt.Errorf("checking person orphans in %s: %w", table, err)
		}
		cr := newCheck(CheckPersonOrphans, table, n, "rows reference persons not in person")
		v.notify(cr)
		checks = append(checks, cr)
	}
	return checks, nil
}

// CheckOrphanVisits counts visit_occurrence and visit_detail rows not
// referenced by any existing fact table.
func (v *Verifier) CheckOrphanVisits(ctx context.Context) ([]CheckResult, error) {
	factTables := v.FactTables
	if len(factTables) == 0 {
		factTables = sampler.DefaultFactTables
	}

	col := store.QuoteIdent(sampler.VisitIDColumn)
	var existing []string
	for _, f := range factTables {
		ok, err := catalog.TableExists(ctx, v.Store, f)
		if err != nil {
			return nil, err
		}
		if !ok {
			v.logger().Debug("fact table not found, skipping", "table", f)
			continue
		}
		existing = append(existing, f)
	}

	var checks []CheckResult
	for _, table := range []string{sampler.VisitDetailTable, sampler.VisitOccurrenceTable} {
		ok, err := catalog.TableExists(ctx, v.Store, table)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		var n int64
		if len(existing) == 0 {
			n, err = v.Store.RowCount(ctx, table)
		} else {
			refs := make([]string, len(existing))
			for i, f := range existing {
				refs[i] = fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s f WHERE f.%s = t.%s)",
					v.Store.Table(f), col, col)
			}
			n, err = v.Store.CountWhere(ctx, table, strings.Join(refs, " AND "))
		}
		if err != nil {
			return nil, fmt.Errorf("checking orphan visits in %s: %w", table, err)
		}
		cr := newCheck(CheckOrphanVisits, table, n, "visits are not referenced by any fact table")
		v.notify(cr)
		checks = append(checks, cr)
	}
	return checks, nil
}

func newCheck(check, table string, violations int64, what string) CheckResult {
	cr := CheckResult{Check: check, Table: table, Violations: violations, Status: "PASS"}
	if violations > 0 {
		cr.Status = "FAIL"
		cr.Message = fmt.Sprintf("%d %s", violations, what)
	}
	return cr
}

func (v *Verifier) notify(cr CheckResult) {
	v.logger().Info("verified", "check", cr.Check, "table", cr.Table, "status", cr.Status, "violations", cr.Violations)
	if v.Callback != nil {
		v.Callback(cr.Table, cr.Check, cr.Status == "PASS")
	}
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

func computeOverallStatus(checks []CheckResult) string {
	if len(checks) == 0 {
		return "PASS"
	}
	failCount := 0
	for _, c := range checks {
		if c.Status == "FAIL" {
			failCount++
		}
	}
	if failCount == 0 {
		return "PASS"
	}
	if failCount == len(checks) {
		return "FAIL"
	}
	return "PARTIAL"
}
