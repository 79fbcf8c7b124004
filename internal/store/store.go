package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// Store is a single-connection handle on the database being downsampled.
type Store struct {
	db      *sql.DB
	dialect Dialect
	schema  string
}

// Open connects to the database. For DuckDB dsn is a file path (empty for an
// in-memory database); for PostgreSQL it is a connection string.
func Open(ctx context.Context, engine, dsn, schema string) (*Store, error) {
	d, err := DialectFor(engine)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", d.Name(), err)
	}
	// Temporary tables and transactions are bound to one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", d.Name(), err)
	}

	if schema == "" {
		schema = d.DefaultSchema()
	}
	return &Store{db: db, dialect: d, schema: schema}, nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the engine dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Schema returns the schema holding the CDM tables.
func (s *Store) Schema() string { return s.schema }

// Table returns the quoted, schema-qualified name of a table.
func (s *Store) Table(name string) string {
	return QuoteIdent(s.schema) + "." + QuoteIdent(name)
}

// Exec runs a statement and returns the number of affected rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// DDL results do not always carry a row count.
		return 0, nil
	}
	return n, nil
}

// RowCount counts the rows of a table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.Table(table))
	if err := s.db.QueryRowContext(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

// CountWhere counts the rows of a table matching a predicate. The predicate
// can refer to the table as t.
func (s *Store) CountWhere(ctx context.Context, table, where string, args ...any) (int64, error) {
	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s t WHERE %s", s.Table(table), where)
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	return count, nil
}

// DropTable drops a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.Table(table)); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	return nil
}

// CreateTableAs materializes a query into a new table.
func (s *Store) CreateTableAs(ctx context.Context, table, query string, args ...any) error {
	q := fmt.Sprintf("CREATE TABLE %s AS %s", s.Table(table), query)
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}
	return nil
}

// ReplaceTable drops table and renames replacement into its place in a single
// transaction, so table always names either the old or the new rows. Both
// live in the store's schema.
func (s *Store) ReplaceTable(ctx context.Context, table, replacement string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning replace of %s: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE "+s.Table(table)); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	rename := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.Table(replacement), QuoteIdent(table))
	if _, err := tx.ExecContext(ctx, rename); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", replacement, table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace of %s: %w", table, err)
	}
	return nil
}

// Close closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
