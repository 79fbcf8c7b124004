// Package pipeline runs the downsampling steps in their fixed order.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/sampler"
)

// Task is one planned sampler call.
type Task struct {
	Group  string // pipeline.skip name
	Name   string
	Detail string
	run    func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error)
}

// Callbacks report progress. Both are optional.
type Callbacks struct {
	OnStepStart func(task Task, index, total int)
	OnStepDone  func(task Task, result *sampler.Result, err error)
}

// Outcome collects the results of a run. On failure it holds the steps that
// completed before the error.
type Outcome struct {
	Results  []*sampler.Result `json:"results"`
	Skipped  []string          `json:"skipped,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
}

// RowsRemoved sums removed rows over all steps.
func (o *Outcome) RowsRemoved() int64 {
	var n int64
	for _, r := range o.Results {
		n += r.RowsRemoved()
	}
	return n
}

// Pipeline drives a Sampler through the configured steps.
type Pipeline struct {
	Sampler   *sampler.Sampler
	Config    config.PipelineConfig
	Logger    *slog.Logger
	Callbacks Callbacks
}

// Plan lists the tasks Run will execute, in order, leaving out skipped
// groups. Table-keyed parameters run in table name order.
func Plan(cfg config.PipelineConfig) []Task {
	var tasks []Task
	add := func(t Task) {
		if !cfg.Skips(t.Group) {
			tasks = append(tasks, t)
		}
	}

	size := cfg.PersonSampleSize
	add(Task{
		Group:  config.StepPerson,
		Name:   "sample person",
		Detail: fmt.Sprintf("keep %d persons", size),
		run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
			return s.SamplePersons(ctx, size)
		},
	})

	mTable, mPct, mCodes := cfg.MeasurementTable, cfg.MeasurementPercentage, cfg.MeasurementExcludedCodes
	add(Task{
		Group:  config.StepMeasurement,
		Name:   "sample " + mTable,
		Detail: fmt.Sprintf("keep %v%% excluding %s", mPct, FormatCodes(mCodes)),
		run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
			return s.SampleExcluding(ctx, mTable, mPct, mCodes)
		},
	})

	for _, table := range sortedKeys(cfg.TablePercentages) {
		pct := cfg.TablePercentages[table]
		add(Task{
			Group:  config.StepTables,
			Name:   "sample " + table,
			Detail: fmt.Sprintf("keep %v%%", pct),
			run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
				return s.SampleTable(ctx, table, pct)
			},
		})
	}

	for _, table := range sortedKeys(cfg.RemovalCodes) {
		codes := cfg.RemovalCodes[table]
		add(Task{
			Group:  config.StepRemovals,
			Name:   "remove concepts from " + table,
			Detail: FormatCodes(codes),
			run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
				return s.RemoveConcepts(ctx, table, codes)
			},
		})
	}

	for _, d := range cfg.ConcentratedDownsamples {
		add(Task{
			Group:  config.StepDownsamples,
			Name:   "downsample concept in " + d.Table,
			Detail: fmt.Sprintf("keep %v%% of %d", d.Percentage, d.Code),
			run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
				return s.DownsampleConcept(ctx, d.Table, d.Code, d.Percentage)
			},
		})
	}

	facts := cfg.FactTables
	add(Task{
		Group:  config.StepVisits,
		Name:   "clean orphan visits",
		Detail: strings.Join(facts, ", "),
		run: func(ctx context.Context, s *sampler.Sampler) (*sampler.Result, error) {
			return s.CleanOrphanVisits(ctx, facts)
		},
	})
	return tasks
}

// Run executes the plan. Each step commits before the next starts; the
// first error stops the run.
func (p *Pipeline) Run(ctx context.Context) (*Outcome, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(p.Config.ConceptColumns) > 0 {
		p.Sampler.ConceptColumns = p.Config.ConceptColumns
	}

	start := time.Now()
	outcome := &Outcome{Skipped: p.Config.Skip}
	tasks := Plan(p.Config)
	for _, g := range p.Config.Skip {
		logger.Info("skipping step", "step", g)
	}

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			outcome.Duration = time.Since(start)
			return outcome, fmt.Errorf("before %s: %w", task.Name, err)
		}
		if p.Callbacks.OnStepStart != nil {
			p.Callbacks.OnStepStart(task, i+1, len(tasks))
		}
		logger.Info("step started", "step", task.Name, "detail", task.Detail)

		result, err := task.run(ctx, p.Sampler)
		if p.Callbacks.OnStepDone != nil {
			p.Callbacks.OnStepDone(task, result, err)
		}
		if err != nil {
			outcome.Duration = time.Since(start)
			return outcome, fmt.Errorf("%s: %w", task.Name, err)
		}

		logger.Info("step finished", "step", task.Name,
			"rows_removed", result.RowsRemoved(), "duration", result.Duration.Round(time.Millisecond))
		outcome.Results = append(outcome.Results, result)
	}

	outcome.Duration = time.Since(start)
	return outcome, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatCodes renders concept codes as a comma separated list, or "nothing"
// for an empty list.
func FormatCodes(codes []int64) string {
	if len(codes) == 0 {
		return "nothing"
	}
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprint(c)
	}
	return strings.Join(parts, ", ")
}
