package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/sampler"
)

var (
	sampleTableName       string
	sampleTablePercentage float64
)

var sampleTableCmd = &cobra.Command{
	Use:   "sample-table <database>",
	Short: "Keep an approximate percentage of a table using system sampling",
	Long: `Replace a table with a block-level system sample of itself. The number of rows
kept is approximate; 0 and 100 are exact.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sampleTableName == "" {
			return fmt.Errorf("--table is required")
		}
		return runStep(cmd.Context(), args, "Sampling "+sampleTableName,
			func(ctx context.Context, sm *sampler.Sampler, _ *config.Config) (*sampler.Result, error) {
				fmt.Printf("  keeping about %v%%\n", sampleTablePercentage)
				return sm.SampleTable(ctx, sampleTableName, sampleTablePercentage)
			})
	},
}

func init() {
	sampleTableCmd.Flags().StringVar(&sampleTableName, "table", "", "table to sample")
	sampleTableCmd.Flags().Float64Var(&sampleTablePercentage, "percentage", 10, "approximate percentage of rows to keep")
	rootCmd.AddCommand(sampleTableCmd)
}
