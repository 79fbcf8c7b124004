package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cdmslim/cdmslim/internal/archive"
	"github.com/cdmslim/cdmslim/internal/catalog"
	"github.com/cdmslim/cdmslim/internal/rebuild"
	"github.com/cdmslim/cdmslim/internal/report"
)

var (
	rebuildSuffix     string
	rebuildExportDir  string
	rebuildKeepExport bool
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild <database>",
	Short: "Compact the database after downsampling",
	Long: `DuckDB: export the database to Parquet, delete the original file and import the
export into <stem><suffix><ext> (default suffix: -<person sample size>, e.g. -1M).
When rebuild.archive.bucket is set the export is uploaded to S3 first.

PostgreSQL: VACUUM (FULL, ANALYZE) in place.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx, args, true)
		if err != nil {
			return err
		}
		defer sess.Close()

		if cmd.Flags().Changed("suffix") {
			sess.cfg.Rebuild.Suffix = rebuildSuffix
		}
		if rebuildExportDir != "" {
			sess.cfg.Rebuild.ExportDir = rebuildExportDir
		}
		if rebuildKeepExport {
			sess.cfg.Rebuild.KeepExport = true
		}

		printTitle("Rebuilding " + sess.database)
		result, err := rebuildDatabase(ctx, sess, report.NewRunID())
		if err != nil {
			return err
		}
		printRebuild(result)
		return nil
	},
}

// rebuildDatabase compacts the session's database. For DuckDB the session
// is switched to the rebuilt file.
func rebuildDatabase(ctx context.Context, sess *session, runID string) (*rebuild.Result, error) {
	if sess.store.Dialect().Name() == "postgres" {
		return rebuild.Vacuum(ctx, sess.store, sess.logger)
	}

	rc := sess.cfg.Rebuild
	opts := rebuild.Options{
		ExportDir:  rc.ExportDir,
		Suffix:     rc.Suffix,
		KeepExport: rc.KeepExport,
		Logger:     sess.logger,
	}
	if opts.Suffix == "" {
		opts.Suffix = rebuild.DefaultSuffix(sess.cfg.Pipeline.PersonSampleSize)
	}
	if rc.Archive.Bucket != "" {
		client, err := archive.NewRealClient(ctx, archive.ClientOptions{
			Profile:   rc.Archive.Profile,
			Region:    rc.Archive.Region,
			Endpoint:  rc.Archive.Endpoint,
			PathStyle: rc.Archive.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		opts.Archiver = archive.NewUploader(client, rc.Archive.Bucket, rc.Archive.Prefix, runID)
	}

	rebuilt, result, err := rebuild.DuckDB(ctx, sess.store, sess.database, opts)
	if err != nil {
		return nil, fmt.Errorf("rebuilding: %w", err)
	}
	sess.store = rebuilt
	sess.database = result.Output
	return result, nil
}

func printRebuild(r *rebuild.Result) {
	if r.Output != "" {
		fmt.Printf("  output:  %s\n", highlightStyle.Render(r.Output))
		fmt.Printf("  size:    %s -> %s bytes\n", catalog.FormatCount(r.SizeBefore), catalog.FormatCount(r.SizeAfter))
	}
	if r.ArchiveURI != "" {
		fmt.Printf("  archive: %s\n", r.ArchiveURI)
	}
	if r.ExportDir != "" {
		fmt.Printf("  export:  %s\n", r.ExportDir)
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("  rebuilt in %s", r.Duration.Round(time.Millisecond))))
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildSuffix, "suffix", "", "output file suffix (default: rebuild.suffix or -<person sample size>)")
	rebuildCmd.Flags().StringVar(&rebuildExportDir, "export-dir", "", "directory for the Parquet export (default: temporary)")
	rebuildCmd.Flags().BoolVar(&rebuildKeepExport, "keep-export", false, "keep the Parquet export after importing")
	rootCmd.AddCommand(rebuildCmd)
}
