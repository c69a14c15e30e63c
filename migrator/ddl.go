package migrator

import (
	"fmt"
	"strings"
)

// columnTypes maps attribute types to the declared SQLite column type.
// Dates are stored as RFC 3339 text so the driver never reinterprets them.
var columnTypes = map[string]string{
	TypeInteger: "INTEGER",
	TypeDouble:  "REAL",
	TypeString:  "TEXT",
	TypeBoolean: "INTEGER",
	TypeDate:    "TEXT",
	TypeBinary:  "BLOB",
}

const metadataDDL = `CREATE TABLE z_metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE z_entity_hashes (
  entity TEXT PRIMARY KEY,
  hash TEXT NOT NULL
)`

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// generateCreateTable produces the CREATE TABLE statement for an entity.
// Defaults are applied by the mapping during copy, not by the table.
func generateCreateTable(e *Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n  %s INTEGER PRIMARY KEY", quoteIdent(e.Name), pkColumn)
	for _, a := range e.Attributes {
		fmt.Fprintf(&b, ",\n  %s %s", quoteIdent(a.Name), columnTypes[a.Type])
		if !a.Optional {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")
	return b.String()
}

// generateInsert produces a parameterized INSERT for the entity's pk and
// attributes, in model order.
func generateInsert(e *Entity) string {
	cols := make([]string, 0, len(e.Attributes)+1)
	marks := make([]string, 0, len(e.Attributes)+1)
	cols = append(cols, pkColumn)
	marks = append(marks, "?")
	for _, a := range e.Attributes {
		cols = append(cols, quoteIdent(a.Name))
		marks = append(marks, "?")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(e.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// generateSelect reads the pk and the given source columns.
func generateSelect(e *Entity) string {
	cols := make([]string, 0, len(e.Attributes)+1)
	cols = append(cols, pkColumn)
	for _, a := range e.Attributes {
		cols = append(cols, quoteIdent(a.Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		strings.Join(cols, ", "), quoteIdent(e.Name), pkColumn)
}
