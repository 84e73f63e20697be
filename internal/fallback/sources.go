package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/record"
	"github.com/sells-group/analysis-engine/internal/schema"
)

// Resolver is the subset of the schema catalog the sources need.
type Resolver interface {
	Resolve(ctx context.Context, schemaName, logicalName string) schema.TableMetadata
}

// listSource reads one structured extraction table holding one item per row
// and aggregates the items into a list per identifier. Covers the equipment
// catalog and the goods/equipment extraction tables.
type listSource struct {
	pool       db.Pool
	catalog    Resolver
	schemaName string

	table    string
	itemCols []string
	assign   func(*record.FallbackRecord, []string)
}

func (s *listSource) Name() string { return s.table }

func (s *listSource) Load(ctx context.Context, ids []string) (map[string]record.FallbackRecord, error) {
	meta := s.catalog.Resolve(ctx, s.schemaName, s.table)
	if !meta.Available {
		return nil, nil
	}
	key, ok := firstColumn(meta, keyCandidates)
	if !ok {
		return nil, nil
	}
	item, ok := firstColumn(meta, s.itemCols)
	if !ok {
		return nil, nil
	}

	sql := fmt.Sprintf(
		`SELECT t.%s, t.%s FROM %s t WHERE t.%s = ANY($1) ORDER BY t.%s`,
		db.QuoteColumn(key), db.QuoteColumn(item),
		db.QuoteTable(s.schemaName+"."+meta.Table),
		db.QuoteColumn(key), db.QuoteColumn(key),
	)
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: query %s", s.table)
	}
	defer rows.Close()

	items := make(map[string][]string)
	for rows.Next() {
		var id string
		var val *string
		if err := rows.Scan(&id, &val); err != nil {
			return nil, eris.Wrapf(err, "fallback: scan %s", s.table)
		}
		if val == nil || strings.TrimSpace(*val) == "" {
			continue
		}
		items[id] = append(items[id], strings.TrimSpace(*val))
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "fallback: iterate %s", s.table)
	}

	out := make(map[string]record.FallbackRecord, len(items))
	for id, list := range items {
		var fb record.FallbackRecord
		s.assign(&fb, list)
		out[id] = fb
	}
	return out, nil
}

// scalarSource reads one row per identifier from a cache table, most recent
// first, selecting whichever of its optional columns exist. Covers the
// site-parse cache and the AI-response cache.
type scalarSource struct {
	pool       db.Pool
	catalog    Resolver
	schemaName string

	table  string
	fields []scalarField
}

type scalarField struct {
	candidates []string
	assign     func(*record.FallbackRecord, string)
}

func (s *scalarSource) Name() string { return s.table }

func (s *scalarSource) Load(ctx context.Context, ids []string) (map[string]record.FallbackRecord, error) {
	meta := s.catalog.Resolve(ctx, s.schemaName, s.table)
	if !meta.Available {
		return nil, nil
	}
	key, ok := firstColumn(meta, keyCandidates)
	if !ok {
		return nil, nil
	}

	exprs := []string{"t." + db.QuoteColumn(key)}
	var assigns []func(*record.FallbackRecord, string)
	for _, f := range s.fields {
		col, ok := firstColumn(meta, f.candidates)
		if !ok {
			continue
		}
		exprs = append(exprs, "t."+db.QuoteColumn(col))
		assigns = append(assigns, f.assign)
	}
	if len(assigns) == 0 {
		return nil, nil
	}

	order := "t." + db.QuoteColumn(key)
	if recency, ok := recencyColumn(meta); ok {
		order += ", t." + db.QuoteColumn(recency) + " DESC"
	}
	sql := fmt.Sprintf(
		`SELECT DISTINCT ON (t.%s) %s FROM %s t WHERE t.%s = ANY($1) ORDER BY %s`,
		db.QuoteColumn(key), strings.Join(exprs, ", "),
		db.QuoteTable(s.schemaName+"."+meta.Table),
		db.QuoteColumn(key), order,
	)
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, eris.Wrapf(err, "fallback: query %s", s.table)
	}
	defer rows.Close()

	out := make(map[string]record.FallbackRecord)
	for rows.Next() {
		var id string
		vals := make([]*string, len(assigns))
		targets := make([]any, 0, len(assigns)+1)
		targets = append(targets, &id)
		for i := range vals {
			targets = append(targets, &vals[i])
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, eris.Wrapf(err, "fallback: scan %s", s.table)
		}

		var fb record.FallbackRecord
		for i, val := range vals {
			if val == nil || strings.TrimSpace(*val) == "" {
				continue
			}
			assigns[i](&fb, strings.TrimSpace(*val))
		}
		if !fb.Empty() {
			out[id] = fb
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "fallback: iterate %s", s.table)
	}
	return out, nil
}

// classificationSource reads the classification-match cache. Matches are
// keyed by a parse/session id, not the company identifier, so they are
// reached by bridging through the site-parse cache.
type classificationSource struct {
	pool       db.Pool
	catalog    Resolver
	schemaName string
}

func (s *classificationSource) Name() string { return "classification_matches" }

func (s *classificationSource) Load(ctx context.Context, ids []string) (map[string]record.FallbackRecord, error) {
	matches := s.catalog.Resolve(ctx, s.schemaName, "classification_matches")
	bridge := s.catalog.Resolve(ctx, s.schemaName, "site_parse_cache")
	if !matches.Available || !bridge.Available {
		return nil, nil
	}

	bridgeKey, ok := firstColumn(bridge, keyCandidates)
	if !ok {
		return nil, nil
	}
	bridgeID, ok := bridge.Column("id")
	if !ok {
		return nil, nil
	}
	parseRef, ok := firstColumn(matches, []string{"parse_id", "session_id"})
	if !ok {
		return nil, nil
	}
	category, hasCategory := firstColumn(matches, []string{"category", "classification", "class_name"})
	desc, hasDesc := firstColumn(matches, []string{"description", "match_description"})
	if !hasCategory && !hasDesc {
		return nil, nil
	}

	exprs := []string{"p." + db.QuoteColumn(bridgeKey)}
	if hasCategory {
		exprs = append(exprs, "m."+db.QuoteColumn(category))
	}
	if hasDesc {
		exprs = append(exprs, "m."+db.QuoteColumn(desc))
	}

	order := "p." + db.QuoteColumn(bridgeKey)
	if recency, ok := recencyColumn(matches); ok {
		order += ", m." + db.QuoteColumn(recency) + " DESC"
	}
	sql := fmt.Sprintf(
		`SELECT DISTINCT ON (p.%s) %s FROM %s m JOIN %s p ON m.%s = p.%s WHERE p.%s = ANY($1) ORDER BY %s`,
		db.QuoteColumn(bridgeKey), strings.Join(exprs, ", "),
		db.QuoteTable(s.schemaName+"."+matches.Table),
		db.QuoteTable(s.schemaName+"."+bridge.Table),
		db.QuoteColumn(parseRef), db.QuoteColumn(bridgeID),
		db.QuoteColumn(bridgeKey), order,
	)
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, eris.Wrap(err, "fallback: query classification_matches")
	}
	defer rows.Close()

	out := make(map[string]record.FallbackRecord)
	for rows.Next() {
		var id string
		var cat, d *string
		targets := []any{&id}
		if hasCategory {
			targets = append(targets, &cat)
		}
		if hasDesc {
			targets = append(targets, &d)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, eris.Wrap(err, "fallback: scan classification_matches")
		}

		var fb record.FallbackRecord
		if cat != nil {
			fb.Category = strings.TrimSpace(*cat)
		}
		if d != nil {
			fb.Description = strings.TrimSpace(*d)
		}
		if !fb.Empty() {
			out[id] = fb
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "fallback: iterate classification_matches")
	}
	return out, nil
}
