package sampler

import (
	"context"
	"errors"
	"testing"
)

func TestConceptColumn(t *testing.T) {
	cases := map[string]string{
		"measurement":          "measurement_concept_id",
		"observation":          "observation_concept_id",
		"procedure_occurrence": "procedure_concept_id",
		"drug_exposure":        "drug_concept_id",
		"visit_detail":         "visit_concept_id",
		"a_b_c":                "a_concept_id",
	}
	for table, want := range cases {
		if got := ConceptColumn(table); got != want {
			t.Errorf("ConceptColumn(%q) = %s, want %s", table, got, want)
		}
	}
}

func TestIDColumn(t *testing.T) {
	if got := IDColumn("procedure_occurrence"); got != "procedure_occurrence_id" {
		t.Errorf("got %s", got)
	}
}

func TestRemoveConceptsIsIdempotent(t *testing.T) {
	sm, s := newFixture(t)
	ctx := context.Background()

	first, err := sm.RemoveConcepts(ctx, "procedure_occurrence", []int64{4627459, 35621997})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.RowsRemoved() != 5 {
		t.Errorf("expected 5 rows removed, got %d", first.RowsRemoved())
	}
	if got := mustCount(t, s, "procedure_occurrence"); got != 35 {
		t.Errorf("expected 35 rows left, got %d", got)
	}

	second, err := sm.RemoveConcepts(ctx, "procedure_occurrence", []int64{4627459, 35621997})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.RowsRemoved() != 0 {
		t.Errorf("second run should remove nothing, removed %d", second.RowsRemoved())
	}
}

func TestRemoveConceptsSingleCode(t *testing.T) {
	sm, s := newFixture(t)
	if _, err := sm.RemoveConcepts(context.Background(), "measurement", []int64{3012888}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustCount(t, s, "measurement"); got != 90 {
		t.Errorf("expected 90 rows, got %d", got)
	}
}

func TestRemoveConceptsRequiresCodes(t *testing.T) {
	sm, _ := newFixture(t)
	_, err := sm.RemoveConcepts(context.Background(), "measurement", nil)
	if !errors.Is(err, ErrNoConcepts) {
		t.Fatalf("expected ErrNoConcepts, got %v", err)
	}
}

func TestRemoveConceptsColumnOverride(t *testing.T) {
	sm, s := newFixture(t)
	ctx := context.Background()
	if _, err := s.Exec(ctx, "CREATE TABLE note (note_id BIGINT, person_id BIGINT, note_type_concept_id BIGINT)"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Exec(ctx, "INSERT INTO note VALUES (1, 1, 44814645), (2, 1, 44814646)"); err != nil {
		t.Fatal(err)
	}

	sm.ConceptColumns = map[string]string{"note": "note_type_concept_id"}
	if _, err := sm.RemoveConcepts(ctx, "note", []int64{44814645}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustCount(t, s, "note"); got != 1 {
		t.Errorf("expected 1 note left, got %d", got)
	}
}

func TestDownsampleConcept(t *testing.T) {
	cases := []struct {
		name       string
		percentage float64
		retained   int64
	}{
		{"quarter", 25, 5},
		{"five percent", 5, 1},
		{"fraction rounds down", 12, 2},
		{"zero deletes all matches", 0, 0},
		{"hundred keeps all matches", 100, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sm, s := newFixture(t)
			result, err := sm.DownsampleConcept(context.Background(), "procedure_occurrence", 4146536, tc.percentage)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := mustCountWhere(t, s, "procedure_occurrence", "procedure_concept_id = ?", int64(4146536))
			if got != tc.retained {
				t.Errorf("expected %d matching rows retained, got %d", tc.retained, got)
			}
			if other := mustCountWhere(t, s, "procedure_occurrence", "procedure_concept_id <> ?", int64(4146536)); other != 20 {
				t.Errorf("non-matching rows must be untouched, got %d", other)
			}
			if result.RowsRemoved() != 20-tc.retained {
				t.Errorf("expected %d removed, got %d", 20-tc.retained, result.RowsRemoved())
			}
		})
	}
}

func TestDownsampleConceptNoMatches(t *testing.T) {
	sm, s := newFixture(t)
	result, err := sm.DownsampleConcept(context.Background(), "procedure_occurrence", 123, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RowsRemoved() != 0 || mustCount(t, s, "procedure_occurrence") != 40 {
		t.Error("no rows should be removed when the concept is absent")
	}
}
