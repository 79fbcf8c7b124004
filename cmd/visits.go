package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/sampler"
)

var visitFactTables []string

var cleanVisitsCmd = &cobra.Command{
	Use:   "clean-visits <database>",
	Short: "Delete visits no fact table refers to",
	Long: `Delete visit_detail and visit_occurrence rows whose visit_occurrence_id does not
appear in any fact table (default: pipeline.fact_tables).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd.Context(), args, "Cleaning orphan visits",
			func(ctx context.Context, sm *sampler.Sampler, cfg *config.Config) (*sampler.Result, error) {
				tables := cfg.Pipeline.FactTables
				if cmd.Flags().Changed("fact-tables") {
					tables = visitFactTables
				}
				fmt.Printf("  fact tables: %s\n", strings.Join(tables, ", "))
				return sm.CleanOrphanVisits(ctx, tables)
			})
	},
}

func init() {
	cleanVisitsCmd.Flags().StringSliceVar(&visitFactTables, "fact-tables", nil, "tables whose visit references keep a visit")
	rootCmd.AddCommand(cleanVisitsCmd)
}
