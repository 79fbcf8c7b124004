package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/verify"
)

var verifyFactTables []string

var verifyCmd = &cobra.Command{
	Use:   "verify <database>",
	Short: "Check a downsampled database for orphaned rows",
	Long: `Count rows whose person_id is not in person and visits that no fact table
references. Exits non-zero unless every check passes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, args, false)
		if err != nil {
			return err
		}
		defer sess.Close()

		facts := sess.cfg.Pipeline.FactTables
		if len(verifyFactTables) > 0 {
			facts = verifyFactTables
		}

		printTitle("Verifying " + sess.database)
		v := &verify.Verifier{Store: sess.store, FactTables: facts, Logger: sess.logger}
		result, err := v.Verify(ctx)
		if err != nil {
			return err
		}
		printVerification(result)
		if result.Status != "PASS" {
			return fmt.Errorf("verification %s", result.Status)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringSliceVar(&verifyFactTables, "fact-tables", nil, "tables whose visit_occurrence_id keeps a visit (default: pipeline.fact_tables)")
	rootCmd.AddCommand(verifyCmd)
}
