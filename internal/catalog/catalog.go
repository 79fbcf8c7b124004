package catalog

import (
	"context"
	"fmt"

	"github.com/cdmslim/cdmslim/internal/store"
)

// Inventory is a snapshot of the base tables in the inspected schema.
type Inventory struct {
	Engine     string  `yaml:"engine"`
	SchemaName string  `yaml:"schema_name"`
	Tables     []Table `yaml:"tables"`
}

// Table describes one base table.
type Table struct {
	Name        string   `yaml:"name"`
	Columns     []string `yaml:"columns"`
	RowCount    int64    `yaml:"row_count"`
	HasPersonID bool     `yaml:"has_person_id,omitempty"`
	HasVisitID  bool     `yaml:"has_visit_occurrence_id,omitempty"`
}

// TablesWithColumn lists base tables carrying a column with exactly the given
// name, skipping the excluded table names.
func TablesWithColumn(ctx context.Context, s *store.Store, column string, exclude ...string) ([]string, error) {
	d := s.Dialect()
	query := fmt.Sprintf(`
		SELECT DISTINCT c.table_name
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema
		 AND t.table_name = c.table_name
		 AND t.table_catalog = c.table_catalog
		WHERE c.table_catalog = current_database()
		  AND c.table_schema = %s
		  AND c.column_name = %s
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name`, d.Placeholder(1), d.Placeholder(2))

	rows, err := s.DB().QueryContext(ctx, query, s.Schema(), column)
	if err != nil {
		return nil, fmt.Errorf("listing tables with column %s: %w", column, err)
	}
	defer rows.Close()

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if skip[name] {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// TableExists reports whether a base table exists in the inspected schema.
func TableExists(ctx context.Context, s *store.Store, table string) (bool, error) {
	d := s.Dialect()
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_catalog = current_database()
		  AND table_schema = %s
		  AND table_name = %s
		  AND table_type = 'BASE TABLE'`, d.Placeholder(1), d.Placeholder(2))

	var n int64
	if err := s.DB().QueryRowContext(ctx, query, s.Schema(), table).Scan(&n); err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	return n > 0, nil
}

// Discover lists every base table with its columns and row count.
func Discover(ctx context.Context, s *store.Store) (*Inventory, error) {
	d := s.Dialect()
	query := fmt.Sprintf(`
		SELECT c.table_name, c.column_name
		FROM information_schema.columns c
		JOIN information_schema.tables t
		  ON t.table_schema = c.table_schema
		 AND t.table_name = c.table_name
		 AND t.table_catalog = c.table_catalog
		WHERE c.table_catalog = current_database()
		  AND c.table_schema = %s
		  AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`, d.Placeholder(1))

	rows, err := s.DB().QueryContext(ctx, query, s.Schema())
	if err != nil {
		return nil, fmt.Errorf("discovering columns: %w", err)
	}

	var tables []Table
	index := make(map[string]int)
	for rows.Next() {
		var tableName, colName string
		if err := rows.Scan(&tableName, &colName); err != nil {
			rows.Close()
			return nil, err
		}
		i, ok := index[tableName]
		if !ok {
			i = len(tables)
			index[tableName] = i
			tables = append(tables, Table{Name: tableName})
		}
		t := &tables[i]
		t.Columns = append(t.Columns, colName)
		switch colName {
		case "person_id":
			t.HasPersonID = true
		case "visit_occurrence_id":
			t.HasVisitID = true
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Row counts need the single connection back.
	rows.Close()

	for i := range tables {
		n, err := s.RowCount(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].RowCount = n
	}

	return &Inventory{
		Engine:     d.Name(),
		SchemaName: s.Schema(),
		Tables:     tables,
	}, nil
}

// Table returns the named table, or nil.
func (inv *Inventory) Table(name string) *Table {
	for i := range inv.Tables {
		if inv.Tables[i].Name == name {
			return &inv.Tables[i]
		}
	}
	return nil
}
