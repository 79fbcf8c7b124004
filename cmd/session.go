package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cdmslim/cdmslim/internal/config"
	"github.com/cdmslim/cdmslim/internal/lock"
	"github.com/cdmslim/cdmslim/internal/logging"
	"github.com/cdmslim/cdmslim/internal/sampler"
	"github.com/cdmslim/cdmslim/internal/store"
)

// session is an open database with its config, logger and lock.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	database string
	lockPath string
	logFile  io.Closer
}

// loadConfig reads the config and applies the persistent flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if engineFlag != "" {
		cfg.Database.Engine = engineFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if _, err := store.DialectFor(cfg.Database.Engine); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSession loads the config, sets up logging and opens the database named
// by args[0], falling back to database.dsn. Exclusive sessions hold the lock
// file for the database until close.
func openSession(ctx context.Context, args []string, exclusive bool) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openSessionWithConfig(ctx, cfg, args, exclusive)
}

func openSessionWithConfig(ctx context.Context, cfg *config.Config, args []string, exclusive bool) (*session, error) {
	database := cfg.Database.DSN
	if len(args) > 0 {
		database = args[0]
	}
	database, err := config.ResolveValue(database)
	if err != nil {
		return nil, fmt.Errorf("resolving database: %w", err)
	}
	if database == "" {
		return nil, errors.New("no database given: pass a DuckDB file or PostgreSQL DSN, or set database.dsn")
	}

	dialect, _ := store.DialectFor(cfg.Database.Engine)
	if dialect.Name() == "duckdb" {
		if _, err := os.Stat(database); err != nil {
			return nil, fmt.Errorf("database %s: %w", database, err)
		}
	}

	logger, logFile, err := logging.Setup(cfg.Logging.Level, cfg.Logging.Directory)
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	sess := &session{cfg: cfg, logger: logger, database: database, logFile: logFile}

	if exclusive {
		sess.lockPath = lock.PathFor(database, config.ExpandHome("~/.cdmslim"))
		if err := lock.Acquire(sess.lockPath); err != nil {
			sess.lockPath = ""
			sess.Close()
			return nil, err
		}
	}

	sess.store, err = store.Open(ctx, dialect.Name(), database, cfg.Database.Schema)
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("opening %s: %w", store.RedactDSN(database), err)
	}
	logger.Debug("opened database", "engine", dialect.Name(), "database", store.RedactDSN(database), "schema", sess.store.Schema())
	return sess, nil
}

// Close releases the database, the lock and the log file.
func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("closing database", "error", err)
		}
	}
	if s.lockPath != "" {
		if err := lock.Release(s.lockPath); err != nil {
			s.logger.Warn("releasing lock", "path", s.lockPath, "error", err)
		}
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

// runStep opens an exclusive session on args and applies one sampler
// operation.
func runStep(ctx context.Context, args []string, title string, op func(context.Context, *sampler.Sampler, *config.Config) (*sampler.Result, error)) error {
	sess, err := openSession(ctx, args, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	sm := sampler.New(sess.store, sess.logger)
	sm.ConceptColumns = sess.cfg.Pipeline.ConceptColumns

	printTitle(title)
	result, err := op(ctx, sm, sess.cfg)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}
