package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/pipeline"
	"github.com/cdmslim/cdmslim/internal/rebuild"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/store"
	"github.com/cdmslim/cdmslim/internal/verify"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunReport is the record of one downsampling run.
type RunReport struct {
	Version     string          `json:"version"`
	RunID       string          `json:"run_id"`
	GeneratedAt time.Time       `json:"generated_at"`
	Database    DatabaseSummary `json:"database"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Steps       []StepSummary   `json:"steps"`
	Skipped     []string        `json:"skipped,omitempty"`
	RowsRemoved int64           `json:"rows_removed"`
	Duration    time.Duration   `json:"duration_ns"`
	Rebuild     *rebuild.Result `json:"rebuild,omitempty"`
	Validation  *verify.Result  `json:"verification,omitempty"`
	NextSteps   []string        `json:"next_steps,omitempty"`
}

// DatabaseSummary describes the database that was downsampled.
type DatabaseSummary struct {
	Engine string `json:"engine"`
	Path   string `json:"path"`
	Output string `json:"output,omitempty"`
}

// StepSummary is one pipeline step.
type StepSummary struct {
	Step        string                `json:"step"`
	Tables      []sampler.TableChange `json:"tables"`
	RowsRemoved int64                 `json:"rows_removed"`
	DurationMS  int64                 `json:"duration_ms"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// GenerateReport assembles a RunReport. outcome, rebuilt and verified may
// be nil; runErr marks the run failed.
func GenerateReport(
	runID, engine, path string,
	outcome *pipeline.Outcome,
	rebuilt *rebuild.Result,
	verified *verify.Result,
	runErr error,
) *RunReport {
	r := &RunReport{
		Version:     "1",
		RunID:       runID,
		GeneratedAt: time.Now(),
		Database:    DatabaseSummary{Engine: engine, Path: store.RedactDSN(path)},
		Status:      StatusCompleted,
		Rebuild:     rebuilt,
		Validation:  verified,
	}
	if rebuilt != nil {
		r.Database.Output = rebuilt.Output
	}

	if outcome != nil {
		for _, res := range outcome.Results {
			r.Steps = append(r.Steps, StepSummary{
				Step:        res.Step,
				Tables:      res.Changes,
				RowsRemoved: res.RowsRemoved(),
				DurationMS:  res.Duration.Milliseconds(),
			})
		}
		r.Skipped = outcome.Skipped
		r.RowsRemoved = outcome.RowsRemoved()
		r.Duration = outcome.Duration
	}

	if runErr != nil {
		r.Status = StatusFailed
		r.Error = runErr.Error()
		r.NextSteps = append(r.NextSteps,
			"Earlier steps are committed; restore the database from a copy before re-running")
	}
	if verified != nil && verified.Status != "PASS" {
		for _, c := range verified.Checks {
			if c.Status != "PASS" {
				r.NextSteps = append(r.NextSteps, fmt.Sprintf("%s: %s", c.Table, c.Message))
			}
		}
	}
	return r
}

// WriteJSON writes the report as JSON.
func WriteJSON(report *RunReport, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadJSON reads a report from a JSON file.
func ReadJSON(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &RunReport{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// FormatText renders the report as human-readable text.
func FormatText(report *RunReport) string {
	var b strings.Builder

	b.WriteString("=== cdmslim Run Report ===\n")
	fmt.Fprintf(&b, "Run:       %s\n", report.RunID)
	fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Status:    %s\n", report.Status)
	if report.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", report.Error)
	}
	b.WriteString("\n")

	b.WriteString("Database:\n")
	fmt.Fprintf(&b, "  Engine: %s\n", report.Database.Engine)
	fmt.Fprintf(&b, "  Path:   %s\n", report.Database.Path)
	if report.Database.Output != "" {
		fmt.Fprintf(&b, "  Output: %s\n", report.Database.Output)
	}
	b.WriteString("\n")

	b.WriteString("Steps:\n")
	for _, s := range report.Steps {
		fmt.Fprintf(&b, "  %s (%d ms)\n", s.Step, s.DurationMS)
		for _, t := range s.Tables {
			fmt.Fprintf(&b, "    %-24s %14s -> %14s\n", t.Table,
				catalog.FormatCount(t.RowsBefore), catalog.FormatCount(t.RowsAfter))
		}
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(&b, "  skipped: %s\n", strings.Join(report.Skipped, ", "))
	}
	fmt.Fprintf(&b, "Rows removed: %s\n\n", catalog.FormatCount(report.RowsRemoved))

	if report.Rebuild != nil && report.Rebuild.ArchiveURI != "" {
		fmt.Fprintf(&b, "Archive: %s\n\n", report.Rebuild.ArchiveURI)
	}

	if report.Validation != nil {
		fmt.Fprintf(&b, "Verification: %s\n", report.Validation.Status)
		for _, c := range report.Validation.Checks {
			fmt.Fprintf(&b, "  [%s] %s %s\n", c.Status, c.Check, c.Table)
		}
		b.WriteString("\n")
	}

	if len(report.NextSteps) > 0 {
		b.WriteString("Next Steps:\n")
		for i, s := range report.NextSteps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, s)
		}
	}
	return b.String()
}
