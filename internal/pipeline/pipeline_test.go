package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/store"
)

var fixtureDDL = []string{
	"CREATE TABLE person AS SELECT range + 1 AS person_id FROM range(20)",
	`CREATE TABLE measurement AS
		SELECT i AS measurement_id, i % 20 + 1 AS person_id,
			CASE WHEN i <= 10 THEN 3012888 ELSE 1000 END AS measurement_concept_id,
			i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(100))`,
	`CREATE TABLE observation AS
		SELECT i AS observation_id, i % 20 + 1 AS person_id, 2000 AS observation_concept_id, i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(20))`,
	`CREATE TABLE procedure_occurrence AS
		SELECT i AS procedure_occurrence_id, i % 20 + 1 AS person_id,
			CASE WHEN i <= 20 THEN 4146536 WHEN i <= 25 THEN 4627459 ELSE 9999 END AS procedure_concept_id,
			i AS visit_occurrence_id
		FROM (SELECT range + 1 AS i FROM range(40))`,
	"CREATE TABLE condition_occurrence (condition_occurrence_id BIGINT, person_id BIGINT, condition_concept_id BIGINT, visit_occurrence_id BIGINT)",
	"CREATE TABLE drug_exposure (drug_exposure_id BIGINT, person_id BIGINT, drug_concept_id BIGINT, visit_occurrence_id BIGINT)",
	"CREATE TABLE device_exposure (device_exposure_id BIGINT, person_id BIGINT, device_concept_id BIGINT, visit_occurrence_id BIGINT)",
	"CREATE TABLE visit_occurrence AS SELECT range + 1 AS visit_occurrence_id, range % 20 + 1 AS person_id FROM range(150)",
	"CREATE TABLE visit_detail AS SELECT range + 1 AS visit_detail_id, range + 1 AS visit_occurrence_id, range % 20 + 1 AS person_id FROM range(150)",
}

func newFixture(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, "duckdb", "", "")
	if err != nil {
		t.Fatalf("opening duckdb: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	for _, q := range fixtureDDL {
		if _, err := s.Exec(ctx, q); err != nil {
			t.Fatalf("fixture: %v\n%s", err, q)
		}
	}
	return s
}

func count(t *testing.T, s *store.Store, table, where string, args ...any) int64 {
	t.Helper()
	var (
		n   int64
		err error
	)
	if where == "" {
		n, err = s.RowCount(context.Background(), table)
	} else {
		n, err = s.CountWhere(context.Background(), table, where, args...)
	}
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		PersonSampleSize:         1_000_000,
		MeasurementTable:         "measurement",
		MeasurementPercentage:    10,
		MeasurementExcludedCodes: []int64{3012888},
		RemovalCodes:             map[string][]int64{"procedure_occurrence": {4627459}},
		ConcentratedDownsamples: []config.ConceptDownsample{
			{Table: "procedure_occurrence", Code: 4146536, Percentage: 25},
		},
		FactTables: sampler.DefaultFactTables,
	}
}

func taskNames(tasks []Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name
	}
	return names
}

func TestPlanOrder(t *testing.T) {
	got := taskNames(Plan(config.DefaultPipeline()))
	want := []string{
		"sample person",
		"sample measurement",
		"sample observation",
		"sample procedure_occurrence",
		"remove concepts from measurement",
		"remove concepts from procedure_occurrence",
		"downsample concept in procedure_occurrence",
		"clean orphan visits",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d tasks, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("task %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestPlanSkips(t *testing.T) {
	cfg := config.DefaultPipeline()
	cfg.Skip = []string{config.StepPerson, config.StepTables, config.StepVisits}
	tasks := Plan(cfg)
	if len(tasks) != 4 {
		t.Fatalf("expected 4 tasks, got %v", taskNames(tasks))
	}
	for _, task := range tasks {
		if cfg.Skips(task.Group) {
			t.Errorf("skipped group %s was planned", task.Group)
		}
	}
}

func TestRun(t *testing.T) {
	s := newFixture(t)
	var started, done int
	p := &Pipeline{
		Sampler: sampler.New(s, nil),
		Config:  testConfig(),
		Callbacks: Callbacks{
			OnStepStart: func(task Task, index, total int) {
				started++
				if total != 5 || index != started {
					t.Errorf("unexpected progress %d/%d", index, total)
				}
			},
			OnStepDone: func(task Task, result *sampler.Result, err error) {
				done++
				if err != nil {
					t.Errorf("%s failed: %v", task.Name, err)
				}
			},
		},
	}

	outcome, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started != 5 || done != 5 || len(outcome.Results) != 5 {
		t.Fatalf("expected 5 steps, started=%d done=%d results=%d", started, done, len(outcome.Results))
	}

	if got := count(t, s, "person", ""); got != 20 {
		t.Errorf("expected all 20 persons, got %d", got)
	}
	if got := count(t, s, "measurement", ""); got != 19 {
		t.Errorf("expected 10 protected + 9 sampled measurements, got %d", got)
	}
	if got := count(t, s, "procedure_occurrence", "procedure_concept_id = ?", int64(4627459)); got != 0 {
		t.Errorf("removed concept still has %d rows", got)
	}
	if got := count(t, s, "procedure_occurrence", "procedure_concept_id = ?", int64(4146536)); got != 5 {
		t.Errorf("expected 5 downsampled rows, got %d", got)
	}
	if got := count(t, s, "procedure_occurrence", ""); got != 20 {
		t.Errorf("expected 20 procedures, got %d", got)
	}

	unreferenced := `visit_occurrence_id NOT IN (
		SELECT visit_occurrence_id FROM measurement
		UNION SELECT visit_occurrence_id FROM observation
		UNION SELECT visit_occurrence_id FROM procedure_occurrence)`
	for _, table := range []string{"visit_occurrence", "visit_detail"} {
		if n := count(t, s, table, unreferenced); n != 0 {
			t.Errorf("%s keeps %d unreferenced visits", table, n)
		}
	}
	if outcome.RowsRemoved() <= 0 {
		t.Error("expected rows to be removed")
	}
}

func TestRunStopsAtFirstError(t *testing.T) {
	s := newFixture(t)
	cfg := testConfig()
	cfg.RemovalCodes = map[string][]int64{"specimen": {1}}

	var failed string
	p := &Pipeline{
		Sampler: sampler.New(s, nil),
		Config:  cfg,
		Callbacks: Callbacks{
			OnStepDone: func(task Task, _ *sampler.Result, err error) {
				if err != nil {
					failed = task.Name
				}
			},
		},
	}

	outcome, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error for missing table")
	}
	if failed != "remove concepts from specimen" {
		t.Errorf("unexpected failed step %q", failed)
	}
	if len(outcome.Results) != 2 {
		t.Errorf("expected the 2 earlier steps to be recorded, got %d", len(outcome.Results))
	}
	if got := count(t, s, "procedure_occurrence", "procedure_concept_id = ?", int64(4146536)); got != 20 {
		t.Errorf("later steps must not run, got %d dialysis rows", got)
	}
}

func TestRunCancelled(t *testing.T) {
	s := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{Sampler: sampler.New(s, nil), Config: testConfig()}
	outcome, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(outcome.Results) != 0 {
		t.Errorf("no step should run, got %d", len(outcome.Results))
	}
	if got := count(t, s, "measurement", ""); got != 100 {
		t.Errorf("measurement should be untouched, got %d", got)
	}
}

func TestFormatCodes(t *testing.T) {
	if got := FormatCodes([]int64{3012888, 3004249}); got != "3012888, 3004249" {
		t.Errorf("got %q", got)
	}
	if got := FormatCodes(nil); got != "nothing" {
		t.Errorf("empty list: got %q", got)
	}
}
