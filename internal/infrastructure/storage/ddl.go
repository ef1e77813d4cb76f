package storage

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"TelegramPipeline/internal/ports"
)

func qualifiedName(table ports.Table) string {
	if table.Schema == "" {
		return pq.QuoteIdentifier(table.Name)
	}
	return pq.QuoteIdentifier(table.Schema) + "." + pq.QuoteIdentifier(table.Name)
}

func createSchemaSQL(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(schema)
}

func dropTableSQL(table ports.Table) string {
	return "DROP TABLE IF EXISTS " + qualifiedName(table)
}

func createTableSQL(table ports.Table) (string, error) {
	if len(table.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", table.Name)
	}
	defs := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		defs[i] = pq.QuoteIdentifier(col.Name) + " " + col.Type
	}
	return fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", qualifiedName(table), strings.Join(defs, ",\n    ")), nil
}

func quotedColumns(table ports.Table) []string {
	cols := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		cols[i] = pq.QuoteIdentifier(col.Name)
	}
	return cols
}
