package fallback

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/record"
)

// Aggregator queries all configured auxiliary sources concurrently and
// layers their results per identifier. Source order is precedence order:
// structured extraction tables first, cached AI responses after. For scalar
// fields the first layer with a value wins outright; list fields are taken
// wholesale from the first layer that returns any items.
type Aggregator struct {
	sources []Source
	log     *zap.Logger
}

// New wires the default auxiliary sources against one schema.
func New(pool db.Pool, catalog Resolver, schemaName string) *Aggregator {
	return &Aggregator{
		sources: []Source{
			&listSource{
				pool: pool, catalog: catalog, schemaName: schemaName,
				table:    "equipment_catalog",
				itemCols: []string{"equipment_name", "name", "label"},
				assign:   func(fb *record.FallbackRecord, items []string) { fb.Equipment = items },
			},
			&listSource{
				pool: pool, catalog: catalog, schemaName: schemaName,
				table:    "extracted_equipment",
				itemCols: []string{"equipment_name", "name"},
				assign:   func(fb *record.FallbackRecord, items []string) { fb.Equipment = items },
			},
			&listSource{
				pool: pool, catalog: catalog, schemaName: schemaName,
				table:    "extracted_goods",
				itemCols: []string{"goods_name", "product_name", "name"},
				assign:   func(fb *record.FallbackRecord, items []string) { fb.Products = items },
			},
			&classificationSource{pool: pool, catalog: catalog, schemaName: schemaName},
			&scalarSource{
				pool: pool, catalog: catalog, schemaName: schemaName,
				table: "site_parse_cache",
				fields: []scalarField{
					{candidates: []string{"description", "parsed_description", "summary"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Description = v }},
					{candidates: []string{"sites", "site_urls", "urls"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Sites = record.ParseStringList(v) }},
					{candidates: []string{"emails", "email_list"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Emails = record.ParseStringList(v) }},
				},
			},
			&scalarSource{
				pool: pool, catalog: catalog, schemaName: schemaName,
				table: "ai_response_cache",
				fields: []scalarField{
					{candidates: []string{"description", "summary", "response_text"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Description = v }},
					{candidates: []string{"category"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Category = v }},
					{candidates: []string{"equipment"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Equipment = record.ParseStringList(v) }},
					{candidates: []string{"products", "goods"},
						assign: func(fb *record.FallbackRecord, v string) { fb.Products = record.ParseStringList(v) }},
				},
			},
		},
		log: zap.L().With(zap.String("component", "fallback")),
	}
}

// WithSources replaces the source list, in precedence order. For tests.
func (a *Aggregator) WithSources(sources ...Source) *Aggregator {
	a.sources = sources
	return a
}

// Load fetches fallback facts for a batch of identifiers. An empty batch
// returns an empty map without touching the database. A failing source is
// logged and contributes nothing; only the whole-request context being
// canceled stops the load early.
func (a *Aggregator) Load(ctx context.Context, ids []string) map[string]record.FallbackRecord {
	if len(ids) == 0 {
		return map[string]record.FallbackRecord{}
	}

	results := make([]map[string]record.FallbackRecord, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			got, err := src.Load(gctx, ids)
			if err != nil {
				a.log.Warn("source failed, skipping",
					zap.String("source", src.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = got
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]record.FallbackRecord)
	for _, got := range results {
		for id, fb := range got {
			merged[id] = layer(merged[id], fb)
		}
	}
	return merged
}

// layer fills only the gaps in dst from src.
func layer(dst, src record.FallbackRecord) record.FallbackRecord {
	if dst.Description == "" {
		dst.Description = src.Description
	}
	if dst.Category == "" {
		dst.Category = src.Category
	}
	if len(dst.Equipment) == 0 {
		dst.Equipment = src.Equipment
	}
	if len(dst.Products) == 0 {
		dst.Products = src.Products
	}
	if len(dst.Sites) == 0 {
		dst.Sites = src.Sites
	}
	if len(dst.Emails) == 0 {
		dst.Emails = src.Emails
	}
	return dst
}
