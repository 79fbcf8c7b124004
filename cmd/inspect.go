package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/config"
)

var inspectOutput string

var inspectCmd = &cobra.Command{
	Use:   "inspect <database>",
	Short: "List tables with their row counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, args, false)
		if err != nil {
			return err
		}
		defer sess.Close()

		inv, err := catalog.Discover(ctx, sess.store)
		if err != nil {
			return err
		}

		printTitle(fmt.Sprintf("%s (%s, schema %s)", sess.database, inv.Engine, inv.SchemaName))
		for _, t := range inv.Tables {
			marks := ""
			if t.HasPersonID {
				marks += " person_id"
			}
			if t.HasVisitID {
				marks += " visit_occurrence_id"
			}
			fmt.Printf("  %-28s %16s %s\n", t.Name, catalog.FormatCount(t.RowCount), dimStyle.Render(marks))
		}
		fmt.Println()
		fmt.Println(inv.Summary())

		if inspectOutput != "" {
			path := config.ExpandHome(inspectOutput)
			if err := inv.WriteYAML(path); err != nil {
				return err
			}
			fmt.Printf("\nInventory saved to: %s\n", path)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "write the inventory as YAML")
	rootCmd.AddCommand(inspectCmd)
}
