// Package rebuild compacts a database after downsampling. Deleting rows does
// not shrink a DuckDB file, so the database is exported to Parquet and
// imported into a fresh file. PostgreSQL is compacted in place.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cdmslim/cdmslim/internal/store"
)

// Archiver copies an export directory somewhere durable before it is
// discarded and returns its location.
type Archiver interface {
	Archive(ctx context.Context, dir string) (string, error)
}

// Options controls the DuckDB rebuild.
type Options struct {
	ExportDir  string // empty: a temporary directory
	Suffix     string // appended to the file stem of the output
	KeepExport bool
	Archiver   Archiver
	Logger     *slog.Logger
}

// Result describes a finished rebuild.
type Result struct {
	Engine     string        `json:"engine"`
	Source     string        `json:"source,omitempty"`
	Output     string        `json:"output,omitempty"`
	ExportDir  string        `json:"export_dir,omitempty"`
	ArchiveURI string        `json:"archive_uri,omitempty"`
	SizeBefore int64         `json:"size_before,omitempty"`
	SizeAfter  int64         `json:"size_after,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ErrOutputExists is returned when the rebuild target is already present.
var ErrOutputExists = errors.New("rebuild output already exists")

// Humanize renders a count with a K/M/B suffix: 1000000 is "1M", 250000 is
// "250K", 1500000 is "1.5M".
func Humanize(n int64) string {
	units := []struct {
		size   float64
		suffix string
	}{
		{1e9, "B"},
		{1e6, "M"},
		{1e3, "K"},
	}
	for _, u := range units {
		if float64(n) >= u.size {
			v := math.Floor(float64(n)/u.size*10) / 10
			return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0") + u.suffix
		}
	}
	return strconv.FormatInt(n, 10)
}

// DefaultSuffix is the output suffix for a person sample size.
func DefaultSuffix(sampleSize int64) string {
	return "-" + Humanize(sampleSize)
}

// OutputPath inserts suffix between the stem and extension of path.
func OutputPath(path, suffix string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + suffix + ext
}

// DuckDB exports the database behind s to Parquet, closes s, deletes the
// original file and opens a new database at OutputPath(path, opts.Suffix)
// populated from the export. The returned store replaces s.
//
// Once the original file is deleted a failure leaves the export directory in
// place; its path is part of the returned error.
func DuckDB(ctx context.Context, s *store.Store, path string, opts Options) (*store.Store, *Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if s.Dialect().Name() != "duckdb" {
		return nil, nil, fmt.Errorf("export rebuild requires duckdb, got %s", s.Dialect().Name())
	}
	if path == "" {
		return nil, nil, fmt.Errorf("export rebuild requires a database file")
	}

	start := time.Now()
	output := OutputPath(path, opts.Suffix)
	if output != path {
		if _, err := os.Stat(output); err == nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrOutputExists, output)
		}
	}

	exportDir, cleanup, err := exportDirectory(opts.ExportDir)
	if err != nil {
		return nil, nil, err
	}

	result := &Result{
		Engine:     "duckdb",
		Source:     path,
		Output:     output,
		ExportDir:  exportDir,
		SizeBefore: fileSize(path) + fileSize(path+".wal"),
	}

	logger.Info("exporting database", "path", path, "export_dir", exportDir)
	if _, err := s.Exec(ctx, fmt.Sprintf("EXPORT DATABASE %s (FORMAT PARQUET)", store.QuoteLiteral(exportDir))); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("exporting database: %w", err)
	}
	if err := s.Close(); err != nil {
		return nil, nil, fmt.Errorf("closing database after export: %w", err)
	}

	if opts.Archiver != nil {
		uri, err := opts.Archiver.Archive(ctx, exportDir)
		if err != nil {
			return nil, nil, fmt.Errorf("archiving export %s: %w", exportDir, err)
		}
		result.ArchiveURI = uri
		logger.Info("archived export", "uri", uri)
	}

	for _, f := range []string{path, path + ".wal"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("removing %s (export kept at %s): %w", f, exportDir, err)
		}
	}

	logger.Info("importing database", "output", output)
	rebuilt, err := store.Open(ctx, "duckdb", output, s.Schema())
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s (export kept at %s): %w", output, exportDir, err)
	}
	if _, err := rebuilt.Exec(ctx, "IMPORT DATABASE "+store.QuoteLiteral(exportDir)); err != nil {
		rebuilt.Close()
		return nil, nil, fmt.Errorf("importing into %s (export kept at %s): %w", output, exportDir, err)
	}

	if opts.KeepExport {
		logger.Info("keeping export", "export_dir", exportDir)
	} else {
		cleanup()
		result.ExportDir = ""
	}

	result.SizeAfter = fileSize(output)
	result.Duration = time.Since(start)
	logger.Info("rebuild complete", "output", output,
		"size_before", result.SizeBefore, "size_after", result.SizeAfter,
		"duration", result.Duration.Round(time.Millisecond))
	return rebuilt, result, nil
}

// Vacuum compacts a PostgreSQL database in place.
func Vacuum(ctx context.Context, s *store.Store, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if s.Dialect().Name() != "postgres" {
		return nil, fmt.Errorf("vacuum rebuild requires postgres, got %s", s.Dialect().Name())
	}
	start := time.Now()
	logger.Info("vacuuming database")
	if _, err := s.Exec(ctx, "VACUUM (FULL, ANALYZE)"); err != nil {
		return nil, fmt.Errorf("vacuum: %w", err)
	}
	result := &Result{Engine: "postgres", Duration: time.Since(start)}
	logger.Info("vacuum complete", "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// exportDirectory returns a directory path that does not exist yet, so that
// EXPORT DATABASE creates it, and a cleanup func that removes what was
// created.
func exportDirectory(configured string) (string, func(), error) {
	if configured != "" {
		if entries, err := os.ReadDir(configured); err == nil && len(entries) > 0 {
			return "", nil, fmt.Errorf("export directory %s is not empty", configured)
		}
		return configured, func() { os.RemoveAll(configured) }, nil
	}
	parent, err := os.MkdirTemp("", "cdmslim-export-")
	if err != nil {
		return "", nil, fmt.Errorf("creating export directory: %w", err)
	}
	return filepath.Join(parent, "export"), func() { os.RemoveAll(parent) }, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
