package verify

import (
	"context"
	"testing"

	"github.com/cdmslim/cdmslim/internal/store"
)

func newDatabase(t *testing.T, ddl ...string) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "duckdb", "", "")
	if err != nil {
		t.Fatalf("opening duckdb: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	base := []string{
		"CREATE TABLE person AS SELECT range + 1 AS person_id FROM range(10)",
		`CREATE TABLE measurement AS
			SELECT range + 1 AS measurement_id, range % 10 + 1 AS person_id, range + 1 AS visit_occurrence_id FROM range(30)`,
		`CREATE TABLE visit_occurrence AS
			SELECT range + 1 AS visit_occurrence_id, range % 10 + 1 AS person_id FROM range(30)`,
		`CREATE TABLE visit_detail AS
			SELECT range + 1 AS visit_detail_id, range + 1 AS visit_occurrence_id, range % 10 + 1 AS person_id FROM range(30)`,
		"CREATE TABLE concept (concept_id BIGINT)",
	}
	for _, q := range append(base, ddl...) {
		if _, err := s.Exec(ctx, q); err != nil {
			t.Fatalf("fixture %q: %v", q, err)
		}
	}
	return s
}

func TestVerifyConsistentDatabase(t *testing.T) {
	s := newDatabase(t)
	var calls int
	v := &Verifier{
		Store:    s,
		Callback: func(table, check string, passed bool) { calls++ },
	}

	result, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "PASS" {
		t.Errorf("expected PASS, got %s: %+v", result.Status, result.Checks)
	}
	// person orphans: measurement, visit_detail, visit_occurrence; orphan visits: visit_detail, visit_occurrence.
	if len(result.Checks) != 5 {
		t.Errorf("expected 5 checks, got %d: %+v", len(result.Checks), result.Checks)
	}
	if calls != len(result.Checks) {
		t.Errorf("callback should fire per check, got %d", calls)
	}
}

func TestVerifyPersonOrphans(t *testing.T) {
	s := newDatabase(t,
		"INSERT INTO measurement VALUES (100, 999, 1), (101, NULL, 2)",
	)
	v := &Verifier{Store: s}

	checks, err := v.CheckPersonOrphans(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range checks {
		switch c.Table {
		case "measurement":
			if c.Status != "FAIL" || c.Violations != 2 {
				t.Errorf("expected 2 measurement violations, got %+v", c)
			}
			if c.Message == "" {
				t.Error("failed check should carry a message")
			}
		default:
			if c.Status != "PASS" {
				t.Errorf("unexpected failure: %+v", c)
			}
		}
	}
}

func TestVerifyOrphanVisits(t *testing.T) {
	s := newDatabase(t,
		"INSERT INTO visit_occurrence VALUES (500, 1), (501, 2)",
		"INSERT INTO visit_detail VALUES (500, 500, 1)",
	)
	v := &Verifier{Store: s, FactTables: []string{"measurement", "observation"}}

	result, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "PARTIAL" {
		t.Errorf("expected PARTIAL, got %s", result.Status)
	}
	got := map[string]int64{}
	for _, c := range result.Checks {
		if c.Check == CheckOrphanVisits {
			got[c.Table] = c.Violations
		}
	}
	if got["visit_occurrence"] != 2 || got["visit_detail"] != 1 {
		t.Errorf("unexpected orphan visit counts: %v", got)
	}
}

func TestVerifyWithoutFactTables(t *testing.T) {
	s := newDatabase(t)
	v := &Verifier{Store: s, FactTables: []string{"specimen"}}
	checks, err := v.CheckOrphanVisits(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range checks {
		if c.Violations != 30 {
			t.Errorf("every visit is unreferenced without fact tables, got %+v", c)
		}
	}
}

func TestVerifyRequiresPerson(t *testing.T) {
	s := newDatabase(t, "DROP TABLE person")
	v := &Verifier{Store: s}
	if _, err := v.Verify(context.Background()); err == nil {
		t.Fatal("expected error without a person table")
	}
}

func TestComputeOverallStatus(t *testing.T) {
	pass := CheckResult{Status: "PASS"}
	fail := CheckResult{Status: "FAIL"}
	cases := []struct {
		checks []CheckResult
		want   string
	}{
		{nil, "PASS"},
		{[]CheckResult{pass, pass}, "PASS"},
		{[]CheckResult{pass, fail}, "PARTIAL"},
		{[]CheckResult{fail, fail}, "FAIL"},
	}
	for _, tc := range cases {
		if got := computeOverallStatus(tc.checks); got != tc.want {
			t.Errorf("computeOverallStatus(%v) = %s, want %s", tc.checks, got, tc.want)
		}
	}
}

func TestVerifyOrphanVisitsCountsNullReferences(t *testing.T) {
	s := newDatabase(t,
		"INSERT INTO visit_detail VALUES (100, NULL, 1)",
	)
	v := &Verifier{Store: s, FactTables: []string{"measurement"}}

	checks, err := v.CheckOrphanVisits(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range checks {
		if c.Table == "visit_detail" && c.Violations != 1 {
			t.Errorf("expected the NULL visit reference to count as an orphan, got %+v", c)
		}
	}
}
