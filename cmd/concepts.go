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
	removeTable string
	removeCodes []int64

	downsampleTable      string
	downsampleCode       int64
	downsamplePercentage float64
)

var removeConceptsCmd = &cobra.Command{
	Use:   "remove-concepts <database>",
	Short: "Delete every row of a table carrying one of the given concepts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if removeTable == "" {
			return fmt.Errorf("--table is required")
		}
		return runStep(cmd.Context(), args, "Removing concepts from "+removeTable,
			func(ctx context.Context, sm *sampler.Sampler, _ *config.Config) (*sampler.Result, error) {
				fmt.Printf("  codes: %s\n", pipeline.FormatCodes(removeCodes))
				return sm.RemoveConcepts(ctx, removeTable, removeCodes)
			})
	},
}

var downsampleConceptCmd = &cobra.Command{
	Use:   "downsample-concept <database>",
	Short: "Thin the rows of one over-represented concept",
	Long: `Keep floor(total * percentage / 100) randomly chosen rows among those carrying
the concept. Other rows of the table are untouched.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if downsampleTable == "" || !cmd.Flags().Changed("code") {
			return fmt.Errorf("--table and --code are required")
		}
		return runStep(cmd.Context(), args, "Downsampling concept in "+downsampleTable,
			func(ctx context.Context, sm *sampler.Sampler, _ *config.Config) (*sampler.Result, error) {
				fmt.Printf("  keeping %v%% of concept %d\n", downsamplePercentage, downsampleCode)
				return sm.DownsampleConcept(ctx, downsampleTable, downsampleCode, downsamplePercentage)
			})
	},
}

func init() {
	removeConceptsCmd.Flags().StringVar(&removeTable, "table", "", "table to delete from")
	removeConceptsCmd.Flags().Int64SliceVar(&removeCodes, "codes", nil, "concept codes to remove (comma separated)")
	rootCmd.AddCommand(removeConceptsCmd)

	downsampleConceptCmd.Flags().StringVar(&downsampleTable, "table", "", "table to thin")
	downsampleConceptCmd.Flags().Int64Var(&downsampleCode, "code", 0, "concept code to thin")
	downsampleConceptCmd.Flags().Float64Var(&downsamplePercentage, "percentage", 5, "percentage of the concept's rows to keep")
	rootCmd.AddCommand(downsampleConceptCmd)
}
