package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/pipeline"
	"github.com/cdmslim/cdmslim/internal/sampler"
)

var (
	measurementTable      string
	measurementPercentage float64
	measurementExclude    []int64
)

var sampleMeasurementCmd = &cobra.Command{
	Use:   "sample-measurement <database>",
	Short: "Sample a fact table while keeping every row of the excluded concepts",
	Long: `Keep every row whose concept is in the exclusion list and a uniform random
percentage of the remaining rows. Rows with a NULL concept count as remaining
rows. Defaults come from pipeline.measurement_*.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd.Context(), args, "Sampling with protected concepts",
			func(ctx context.Context, sm *sampler.Sampler, cfg *config.Config) (*sampler.Result, error) {
				table := cfg.Pipeline.MeasurementTable
				if cmd.Flags().Changed("table") {
					table = measurementTable
				}
				pct := cfg.Pipeline.MeasurementPercentage
				if cmd.Flags().Changed("percentage") {
					pct = measurementPercentage
				}
				codes := cfg.Pipeline.MeasurementExcludedCodes
				if cmd.Flags().Changed("exclude") {
					codes = measurementExclude
				}
				fmt.Printf("  %s: keeping %v%% of rows outside [%s]\n", table, pct, pipeline.FormatCodes(codes))
				return sm.SampleExcluding(ctx, table, pct, codes)
			})
	},
}

func init() {
	sampleMeasurementCmd.Flags().StringVar(&measurementTable, "table", "measurement", "table to sample")
	sampleMeasurementCmd.Flags().Float64Var(&measurementPercentage, "percentage", 10, "percentage of non-excluded rows to keep")
	sampleMeasurementCmd.Flags().Int64SliceVar(&measurementExclude, "exclude", nil, "concept codes kept in full (comma separated)")
	rootCmd.AddCommand(sampleMeasurementCmd)
}
