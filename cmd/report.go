package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/report"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report <report.json>",
	Short: "Show a saved run report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := report.ReadJSON(config.ExpandHome(args[0]))
		if err != nil {
			return err
		}
		if reportJSON {
			data, err := json.MarshalIndent(r, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Print(report.FormatText(r))
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "print the raw JSON")
	rootCmd.AddCommand(reportCmd)
}
