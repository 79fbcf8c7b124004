package report

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cdmslim/cdmslim/internal/pipeline"
	"github.com/cdmslim/cdmslim/internal/rebuild"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/verify"
)

func testOutcome() *pipeline.Outcome {
	return &pipeline.Outcome{
		Results: []*sampler.Result{
			{
				Step: "sample_person",
				Changes: []sampler.TableChange{
					{Table: "person", RowsBefore: 2_000_000, RowsAfter: 1_000_000},
					{Table: "measurement", RowsBefore: 900, RowsAfter: 400},
				},
				Duration: 2 * time.Second,
			},
			{
				Step:    "clean_visits",
				Changes: []sampler.TableChange{{Table: "visit_occurrence", RowsBefore: 50, RowsAfter: 40}},
			},
		},
		Skipped:  []string{"tables"},
		Duration: 3 * time.Second,
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	runID := NewRunID()

	report := GenerateReport(runID, "duckdb", "/data/synthea.duckdb", testOutcome(),
		&rebuild.Result{Engine: "duckdb", Output: "/data/synthea-1M.duckdb"},
		&verify.Result{Status: "PASS"},
		nil,
	)
	if err := WriteJSON(report, path); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	loaded, err := ReadJSON(path)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if loaded.RunID != runID || len(runID) != 36 {
		t.Errorf("expected run id %s, got %s", runID, loaded.RunID)
	}
	if loaded.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", loaded.Status)
	}
	if loaded.RowsRemoved != 1_000_510 {
		t.Errorf("expected 1000510 rows removed, got %d", loaded.RowsRemoved)
	}
	if len(loaded.Steps) != 2 || loaded.Steps[0].DurationMS != 2000 {
		t.Errorf("unexpected steps %+v", loaded.Steps)
	}
	if loaded.Database.Output != "/data/synthea-1M.duckdb" {
		t.Errorf("expected rebuild output, got %q", loaded.Database.Output)
	}
	if loaded.Validation == nil || loaded.Validation.Status != "PASS" {
		t.Error("verification should round-trip")
	}
	if len(loaded.NextSteps) != 0 {
		t.Errorf("a clean run needs no next steps, got %v", loaded.NextSteps)
	}
}

func TestFailedRun(t *testing.T) {
	report := GenerateReport(NewRunID(), "postgres", "postgres://cdm:pw@db/cdm", testOutcome(), nil,
		&verify.Result{
			Status: "PARTIAL",
			Checks: []verify.CheckResult{
				{Check: verify.CheckPersonOrphans, Table: "measurement", Status: "PASS"},
				{Check: verify.CheckOrphanVisits, Table: "visit_detail", Status: "FAIL", Message: "3 visits are not referenced by any fact table"},
			},
		},
		errors.New("remove concepts from specimen: table not found"),
	)

	if report.Status != StatusFailed || report.Error == "" {
		t.Errorf("expected failed status with error, got %s %q", report.Status, report.Error)
	}
	if strings.Contains(report.Database.Path, "pw") {
		t.Errorf("password leaked into report: %s", report.Database.Path)
	}
	if len(report.NextSteps) != 2 {
		t.Errorf("expected restore and verification next steps, got %v", report.NextSteps)
	}
}

func TestFormatText(t *testing.T) {
	report := GenerateReport("run-1", "duckdb", "/data/synthea.duckdb", testOutcome(),
		&rebuild.Result{Output: "/data/synthea-1M.duckdb", ArchiveURI: "s3://cdm/run-1/"},
		&verify.Result{
			Status: "PASS",
			Checks: []verify.CheckResult{{Check: verify.CheckOrphanVisits, Table: "visit_occurrence", Status: "PASS"}},
		},
		nil,
	)

	text := FormatText(report)
	for _, want := range []string{
		"cdmslim Run Report",
		"run-1",
		"2,000,000",
		"skipped: tables",
		"Rows removed: 1,000,510",
		"s3://cdm/run-1/",
		"[PASS] orphan_visits visit_occurrence",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text report missing %q:\n%s", want, text)
		}
	}
}

func TestGenerateReportWithoutOutcome(t *testing.T) {
	report := GenerateReport("run-2", "duckdb", "x.duckdb", nil, nil, nil, errors.New("locked"))
	if report.Status != StatusFailed || len(report.Steps) != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if text := FormatText(report); !strings.Contains(text, "Error:     locked") {
		t.Errorf("text should carry the error:\n%s", text)
	}
}
