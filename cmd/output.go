package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/verify"
)

// styles
var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.DoubleBorder()).BorderBottom(true).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func printTitle(s string) {
	fmt.Println(titleStyle.Render(s))
	fmt.Println()
}

// printResult prints the row changes of one sampler step.
func printResult(r *sampler.Result) {
	if r == nil {
		return
	}
	for _, c := range r.Changes {
		removed := dimStyle.Render("unchanged")
		if c.Removed() > 0 {
			removed = highlightStyle.Render("-" + catalog.FormatCount(c.Removed()))
		}
		fmt.Printf("    %-24s %14s -> %14s  %s\n", c.Table,
			catalog.FormatCount(c.RowsBefore), catalog.FormatCount(c.RowsAfter), removed)
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("    %s removed in %s", catalog.FormatCount(r.RowsRemoved()), r.Duration.Round(time.Millisecond))))
}

func statusLabel(status string) string {
	switch status {
	case "PASS":
		return successStyle.Render(status)
	case "PARTIAL":
		return warnStyle.Render(status)
	default:
		return errStyle.Render(status)
	}
}

func printVerification(r *verify.Result) {
	for _, c := range r.Checks {
		line := fmt.Sprintf("  [%s] %s: %s", statusLabel(c.Status), c.Check, c.Table)
		if c.Message != "" {
			line += dimStyle.Render(" (" + c.Message + ")")
		}
		fmt.Println(line)
	}
	fmt.Printf("\nOverall: %s\n", statusLabel(r.Status))
}
