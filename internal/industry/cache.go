// Package industry resolves an industry id to the set of classification-code
// prefixes it covers, cached with a TTL.
package industry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/analysis-engine/internal/db"
)

// Cache is a TTL cache over the industry_codes lookup table. Values are
// idempotently recomputable, so concurrent refreshes of the same id may race.
type Cache struct {
	pool       db.Pool
	schemaName string
	ttl        time.Duration
	now        func() time.Time

	mu      sync.RWMutex
	entries map[int64]entry
}

type entry struct {
	prefixes  []string
	fetchedAt time.Time
}

// NewCache creates a Cache reading from <schema>.industry_codes.
func NewCache(pool db.Pool, schemaName string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		pool:       pool,
		schemaName: schemaName,
		ttl:        ttl,
		now:        time.Now,
		entries:    make(map[int64]entry),
	}
}

// WithNow sets a fixed clock for testing.
func (c *Cache) WithNow(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Prefixes returns the classification-code prefixes for an industry id. A
// failed lookup degrades to an empty set, which the query planner turns into
// an explicit empty result page.
func (c *Cache) Prefixes(ctx context.Context, industryID int64) []string {
	c.mu.RLock()
	e, ok := c.entries[industryID]
	c.mu.RUnlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return e.prefixes
	}

	prefixes, err := c.fetch(ctx, industryID)
	if err != nil {
		zap.L().Warn("industry: prefix lookup failed, treating as empty",
			zap.Int64("industry_id", industryID),
			zap.Error(err),
		)
		prefixes = nil
	}

	c.mu.Lock()
	c.entries[industryID] = entry{prefixes: prefixes, fetchedAt: c.now()}
	c.mu.Unlock()
	return prefixes
}

func (c *Cache) fetch(ctx context.Context, industryID int64) ([]string, error) {
	sql := fmt.Sprintf(
		`SELECT code_prefix FROM %s WHERE industry_id = $1 ORDER BY code_prefix`,
		db.QuoteTable(c.schemaName+".industry_codes"),
	)
	rows, err := c.pool.Query(ctx, sql, industryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefixes []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, rows.Err()
}
