package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/sampler"
)

var personSize int64

var samplePersonCmd = &cobra.Command{
	Use:   "sample-person <database>",
	Short: "Keep a random sample of persons and everything that references them",
	Long: `Keep a uniform random sample of person rows and delete, from every table with a
person_id column, the rows whose person was not kept. Tables are found through
information_schema, so vocabulary tables are left alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStep(cmd.Context(), args, "Sampling persons",
			func(ctx context.Context, sm *sampler.Sampler, cfg *config.Config) (*sampler.Result, error) {
				size := cfg.Pipeline.PersonSampleSize
				if cmd.Flags().Changed("size") {
					size = personSize
				}
				fmt.Printf("  keeping %d persons\n", size)
				return sm.SamplePersons(ctx, size)
			})
	},
}

func init() {
	samplePersonCmd.Flags().Int64Var(&personSize, "size", 0, "persons to keep (default: pipeline.person_sample_size)")
	rootCmd.AddCommand(samplePersonCmd)
}
