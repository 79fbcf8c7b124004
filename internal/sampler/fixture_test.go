package sampler

import (
	"context"
	"fmt"
	"testing"

	"github.com/cdmslim/cdmslim/internal/store"
)

// Fixture layout:
//   - person: 50 persons
//   - measurement: 100 rows, ids 1..10 carry 3012888, visits 1..100
//   - observation: 20 rows, visits 1..20
//   - procedure_occurrence: 40 rows, 1..20 carry 4146536, 21..25 carry 4627459, visits 1..40
//   - condition_occurrence, drug_exposure, device_exposure: empty
//   - visit_occurrence, visit_detail: 150 visits each
var fixtureDDL = []string{
	`CREATE TABLE person AS
		SELECT range + 1 AS person_id, 1950 + range % 50 AS year_of_birth FROM range(50)`,
	`CREATE TABLE measurement AS
		SELECT i AS measurement_id,
			i % 50 + 1 AS person_id,
			CASE WHEN i <= 10 THEN 3012888 ELSE 1000 + i % 5 END AS measurement_concept_id,
			i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(100))`,
	`CREATE TABLE observation AS
		SELECT i AS observation_id, i % 50 + 1 AS person_id, 2000 + i % 3 AS observation_concept_id, i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(20))`,
	`CREATE TABLE procedure_occurrence AS
		SELECT i AS procedure_occurrence_id,
			i % 50 + 1 AS person_id,
			CASE WHEN i <= 20 THEN 4146536 WHEN i <= 25 THEN 4627459 ELSE 9999 END AS procedure_concept_id,
			i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(40))`,
	`CREATE TABLE condition_occurrence (condition_occurrence_id BIGINT, person_id BIGINT, condition_concept_id BIGINT, visit_occurrence_id BIGINT)`,
	`CREATE TABLE drug_exposure (drug_exposure_id BIGINT, person_id BIGINT, drug_concept_id BIGINT, visit_occurrence_id BIGINT)`,
	`CREATE TABLE device_exposure (device_exposure_id BIGINT, person_id BIGINT, device_concept_id BIGINT, visit_occurrence_id BIGINT)`,
	`CREATE TABLE visit_occurrence AS
		SELECT i AS visit_occurrence_id, i % 50 + 1 AS person_id, 9201 AS visit_concept_id
		FROM (SELECT range + 1 AS i FROM range(150))`,
	`CREATE TABLE visit_detail AS
		SELECT i AS visit_detail_id, i AS visit_occurrence_id, i % 50 + 1 AS person_id, 9201 AS visit_detail_concept_id
		FROM (SELECT range + 1 AS i FROM range(150))`,
	`CREATE TABLE concept (concept_id BIGINT, concept_name VARCHAR)`,
}

func newFixture(t *testing.T) (*Sampler, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "duckdb", "", "")
	if err != nil {
		t.Fatalf("opening duckdb: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	execAll(t, s, fixtureDDL)
	return New(s, nil), s
}

// newSchemaFixture builds the fixture inside schema and leaves the session
// default schema at main, which only holds a 7 row person table.
func newSchemaFixture(t *testing.T, schema string) (*Sampler, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), "duckdb", "", schema)
	if err != nil {
		t.Fatalf("opening duckdb: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	execAll(t, s, []string{
		"CREATE SCHEMA " + store.QuoteIdent(schema),
		"SET schema = " + store.QuoteLiteral(schema),
	})
	execAll(t, s, fixtureDDL)
	execAll(t, s, []string{
		"SET schema = 'main'",
		"CREATE TABLE person AS SELECT range + 1 AS person_id FROM range(7)",
	})
	return New(s, nil), s
}

func execAll(t *testing.T, s *store.Store, statements []string) {
	t.Helper()
	for _, q := range statements {
		if _, err := s.Exec(context.Background(), q); err != nil {
			t.Fatalf("fixture: %v\n%s", err, q)
		}
	}
}

func mustCount(t *testing.T, s *store.Store, table string) int64 {
	t.Helper()
	n, err := s.RowCount(context.Background(), table)
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func mustCountWhere(t *testing.T, s *store.Store, table, where string, args ...any) int64 {
	t.Helper()
	n, err := s.CountWhere(context.Background(), table, where, args...)
	if err != nil {
		t.Fatalf("counting %s where %s: %v", table, where, err)
	}
	return n
}

func personOrphans(t *testing.T, s *store.Store, table string) int64 {
	t.Helper()
	where := fmt.Sprintf(`NOT EXISTS (SELECT 1 FROM %s p WHERE p.person_id = t.person_id)`, s.Table("person"))
	return mustCountWhere(t, s, table, where)
}
