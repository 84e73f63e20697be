package db

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// QuoteTable handles schema-qualified table names like "public.companies".
func QuoteTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// QuoteColumn quotes a single column identifier.
func QuoteColumn(col string) string {
	return pgx.Identifier{col}.Sanitize()
}
