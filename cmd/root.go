package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	engineFlag string
	version    = "dev"
	commit     = "none"
	date       = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "cdmslim",
	Short: "cdmslim: downsample an OMOP CDM database",
	Long: `cdmslim shrinks an OMOP Common Data Model database (DuckDB or PostgreSQL)
into a smaller, referentially consistent copy: it samples persons and cascades
the removal to every table with a person_id, thins high-volume fact tables,
removes or downsamples noisy concepts, drops visits nothing refers to any more,
and rebuilds the database file so the space is actually returned.

Run "cdmslim run <database>" for the full pipeline, or one of the step
subcommands to apply a single operation.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context
// passed to subcommands.
func Execute() {
	rootCmd.Version = version + " (" + commit + ", " + date + ")"
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.cdmslim/cdmslim.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "database engine (duckdb, postgres); overrides the config")
}
