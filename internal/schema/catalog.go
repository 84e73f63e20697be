// Package schema discovers which tables and columns actually exist in a
// deployment. Deployments drift: legacy installs carry old column names and
// some auxiliary tables are simply absent, so nothing here treats a missing
// table as an error.
package schema

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/analysis-engine/internal/db"
)

// TableMetadata describes one discovered table. Columns maps the lowercased
// column name to its actual catalog spelling.
type TableMetadata struct {
	Table     string
	Columns   map[string]string
	Available bool
	FetchedAt time.Time
}

// HasColumn reports whether the table has a column, case-insensitively.
func (m TableMetadata) HasColumn(name string) bool {
	_, ok := m.Columns[strings.ToLower(name)]
	return ok
}

// Column returns the actual catalog spelling of a column name.
func (m TableMetadata) Column(name string) (string, bool) {
	c, ok := m.Columns[strings.ToLower(name)]
	return c, ok
}

// Catalog caches table/column discovery per (schema, logical name) with a
// TTL. Lookups are idempotent, so concurrent refreshes of the same key may
// race; the loser's overwrite carries the same data.
type Catalog struct {
	pool db.Pool
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]TableMetadata
}

// NewCatalog creates a Catalog with the given metadata TTL.
func NewCatalog(pool db.Pool, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		pool:    pool,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]TableMetadata),
	}
}

// WithNow sets a fixed clock for testing.
func (c *Catalog) WithNow(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// Resolve returns metadata for a table looked up case-insensitively inside
// schemaName. A table that does not exist yields Available=false, not an
// error; so does any failure to read the database catalog.
func (c *Catalog) Resolve(ctx context.Context, schemaName, logicalName string) TableMetadata {
	key := schemaName + "." + strings.ToLower(logicalName)

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		return cached
	}

	meta, err := c.lookup(ctx, schemaName, logicalName)
	if err != nil {
		zap.L().Warn("schema: table discovery failed, treating as absent",
			zap.String("schema", schemaName),
			zap.String("table", logicalName),
			zap.Error(err),
		)
		meta = TableMetadata{Available: false}
	}
	meta.FetchedAt = c.now()

	c.mu.Lock()
	c.entries[key] = meta
	c.mu.Unlock()
	return meta
}

func (c *Catalog) lookup(ctx context.Context, schemaName, logicalName string) (TableMetadata, error) {
	var table string
	err := c.pool.QueryRow(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = $1 AND lower(table_name) = lower($2)
		LIMIT 1`, schemaName, logicalName).Scan(&table)
	if err != nil {
		if err == pgx.ErrNoRows {
			return TableMetadata{Available: false}, nil
		}
		return TableMetadata{}, eris.Wrapf(err, "schema: resolve table %s.%s", schemaName, logicalName)
	}

	rows, err := c.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2`, schemaName, table)
	if err != nil {
		return TableMetadata{}, eris.Wrapf(err, "schema: list columns for %s.%s", schemaName, table)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return TableMetadata{}, eris.Wrap(err, "schema: scan column")
		}
		cols[strings.ToLower(col)] = col
	}
	if err := rows.Err(); err != nil {
		return TableMetadata{}, eris.Wrap(err, "schema: iterate columns")
	}

	return TableMetadata{Table: table, Columns: cols, Available: true}, nil
}
