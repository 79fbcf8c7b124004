package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/metrics"
	"github.com/cdmslim/cdmslim/internal/pipeline"
	"github.com/cdmslim/cdmslim/internal/rebuild"
	"github.com/cdmslim/cdmslim/internal/report"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/verify"
)

var (
	runDryRun    bool
	runNoRebuild bool
	runSize      int64
	runSkip      []string
	runReport    string
)

var runCmd = &cobra.Command{
	Use:   "run <database>",
	Short: "Run the full downsampling pipeline",
	Long: `Run every step in order: person sampling, measurement sampling with protected
concepts, table sampling, concept removals, concentrated downsamples and orphan
visit cleanup. Then rebuild the database, verify it and write a run report.

Parameters come from the pipeline section of the config; without a config file
the defaults produce the 1M person extract.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("size") {
			cfg.Pipeline.PersonSampleSize = runSize
		}
		cfg.Pipeline.Skip = append(cfg.Pipeline.Skip, runSkip...)
		if runNoRebuild {
			cfg.Rebuild.Disabled = true
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		if runDryRun {
			printPlan(cfg)
			return nil
		}

		sess, err := openSessionWithConfig(ctx, cfg, args, true)
		if err != nil {
			return err
		}
		defer sess.Close()

		runID := report.NewRunID()
		sess.logger = sess.logger.With("run_id", runID)
		m := metrics.New()
		started := time.Now()

		printTitle("Downsampling " + sess.database)
		p := &pipeline.Pipeline{
			Sampler: sampler.New(sess.store, sess.logger),
			Config:  cfg.Pipeline,
			Logger:  sess.logger,
			Callbacks: pipeline.Callbacks{
				OnStepStart: func(task pipeline.Task, index, total int) {
					fmt.Printf("[%d/%d] %s %s\n", index, total, highlightStyle.Render(task.Name), dimStyle.Render(task.Detail))
				},
				OnStepDone: func(task pipeline.Task, result *sampler.Result, err error) {
					m.ObserveStep(result, err)
					if err != nil {
						fmt.Println(errStyle.Render("    failed: " + err.Error()))
						return
					}
					printResult(result)
				},
			},
		}
		outcome, runErr := p.Run(ctx)

		var rebuilt *rebuild.Result
		if runErr == nil && !cfg.Rebuild.Disabled {
			fmt.Println()
			printTitle("Rebuilding")
			rebuilt, runErr = rebuildDatabase(ctx, sess, runID)
			if runErr == nil {
				printRebuild(rebuilt)
			}
		}

		var verified *verify.Result
		if runErr == nil {
			fmt.Println()
			printTitle("Verifying")
			v := &verify.Verifier{Store: sess.store, FactTables: cfg.Pipeline.FactTables, Logger: sess.logger}
			verified, runErr = v.Verify(ctx)
			if runErr == nil {
				printVerification(verified)
			}
		}

		rep := report.GenerateReport(runID, sess.store.Dialect().Name(), args0(args, cfg), outcome, rebuilt, verified, runErr)
		reportPath := runReport
		if reportPath == "" {
			reportPath = cfg.Report.Path
		}
		if reportPath == "" {
			reportPath = filepath.Join(config.ExpandHome("~/.cdmslim/reports"), runID+".json")
		}
		if err := report.WriteJSON(rep, config.ExpandHome(reportPath)); err != nil {
			sess.logger.Error("writing report", "error", err)
		} else {
			fmt.Printf("\nReport saved to: %s\n", reportPath)
		}

		if cfg.Metrics.Textfile != "" {
			m.ObserveRun(runErr == nil, time.Since(started), time.Now())
			if err := m.WriteTextfile(config.ExpandHome(cfg.Metrics.Textfile)); err != nil {
				sess.logger.Error("writing metrics", "error", err)
			}
		}

		if runErr != nil {
			return runErr
		}
		if verified.Status != "PASS" {
			return fmt.Errorf("verification %s", verified.Status)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf("\nDone: %s rows removed in %s",
			catalog.FormatCount(outcome.RowsRemoved()), time.Since(started).Round(time.Second))))
		return nil
	},
}

func printPlan(cfg *config.Config) {
	printTitle("Plan")
	tasks := pipeline.Plan(cfg.Pipeline)
	for i, t := range tasks {
		fmt.Printf("%d. %s %s\n", i+1, t.Name, dimStyle.Render(t.Detail))
	}
	if len(cfg.Pipeline.Skip) > 0 {
		fmt.Printf("\nskipped: %s\n", dimStyle.Render(fmt.Sprint(cfg.Pipeline.Skip)))
	}
	if cfg.Rebuild.Disabled {
		fmt.Println("rebuild: disabled")
	} else {
		suffix := cfg.Rebuild.Suffix
		if suffix == "" {
			suffix = rebuild.DefaultSuffix(cfg.Pipeline.PersonSampleSize)
		}
		fmt.Printf("rebuild: output suffix %s\n", suffix)
	}
}

func args0(args []string, cfg *config.Config) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Database.DSN
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the steps without touching the database")
	runCmd.Flags().BoolVar(&runNoRebuild, "no-rebuild", false, "skip the rebuild after sampling")
	runCmd.Flags().Int64Var(&runSize, "size", 0, "persons to keep (default: pipeline.person_sample_size)")
	runCmd.Flags().StringSliceVar(&runSkip, "skip", nil, "steps to skip: person, measurement, tables, removals, downsamples, visits")
	runCmd.Flags().StringVar(&runReport, "report", "", "report path (default: report.path or ~/.cdmslim/reports/<run id>.json)")
	rootCmd.AddCommand(runCmd)
}
