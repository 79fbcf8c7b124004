package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads an inventory from a YAML file.
func LoadYAML(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}
	inv := &Inventory{}
	if err := yaml.Unmarshal(data, inv); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	return inv, nil
}

// WriteYAML writes the inventory to a YAML file at the given path.
func (inv *Inventory) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshaling inventory: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Summary returns a human-readable summary of the inventory.
func (inv *Inventory) Summary() string {
	var totalRows int64
	var personTables, visitTables int

	for _, t := range inv.Tables {
		totalRows += t.RowCount
		if t.HasPersonID {
			personTables++
		}
		if t.HasVisitID {
			visitTables++
		}
	}

	return fmt.Sprintf(
		"Found %d tables (%d reference person_id, %d reference visit_occurrence_id)\nTotal rows: %s",
		len(inv.Tables), personTables, visitTables, FormatCount(totalRows),
	)
}

// FormatCount renders a row count with thousands separators.
func FormatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if n < 0 {
		neg = true
		s = s[1:]
	}
	var out []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
