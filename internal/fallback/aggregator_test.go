//go:build !integration

package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/analysis-engine/internal/record"
	"github.com/sells-group/analysis-engine/internal/schema"
)

type stubSource struct {
	name string
	got  map[string]record.FallbackRecord
	err  error
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Load(context.Context, []string) (map[string]record.FallbackRecord, error) {
	return s.got, s.err
}

func TestLoad_EmptyBatchIsNoOp(t *testing.T) {
	failing := &stubSource{name: "boom", err: errors.New("must not be called")}
	agg := (&Aggregator{}).WithSources(failing)

	got := agg.Load(context.Background(), nil)
	assert.Empty(t, got)
}

func TestLoad_LayersInPrecedenceOrder(t *testing.T) {
	detailed := &stubSource{name: "detailed", got: map[string]record.FallbackRecord{
		"A": {Category: "metalworks", Equipment: []string{"press", "lathe"}},
	}}
	cached := &stubSource{name: "cached", got: map[string]record.FallbackRecord{
		"A": {Description: "makes parts", Category: "generic", Equipment: []string{"unknown"}},
		"B": {Description: "cached only"},
	}}
	agg := New(nil, nil, "public").WithSources(detailed, cached)

	got := agg.Load(context.Background(), []string{"A", "B"})
	require.Len(t, got, 2)

	// First layer wins per field; lists are wholesale, not unioned.
	assert.Equal(t, "metalworks", got["A"].Category)
	assert.Equal(t, []string{"press", "lathe"}, got["A"].Equipment)
	// Gaps in the first layer fall through to the next.
	assert.Equal(t, "makes parts", got["A"].Description)
	assert.Equal(t, "cached only", got["B"].Description)
}

func TestLoad_FailingSourceIsSkipped(t *testing.T) {
	broken := &stubSource{name: "broken", err: errors.New("relation vanished")}
	healthy := &stubSource{name: "healthy", got: map[string]record.FallbackRecord{
		"A": {Description: "still here"},
	}}
	agg := New(nil, nil, "public").WithSources(broken, healthy)

	got := agg.Load(context.Background(), []string{"A"})
	assert.Equal(t, "still here", got["A"].Description)
}

// stubResolver serves fixed table metadata keyed by logical name.
type stubResolver map[string]schema.TableMetadata

func (s stubResolver) Resolve(_ context.Context, _, logicalName string) schema.TableMetadata {
	return s[logicalName]
}

func strPtr(s string) *string { return &s }

func tableMeta(table string, cols ...string) schema.TableMetadata {
	m := schema.TableMetadata{Table: table, Columns: map[string]string{}, Available: true}
	for _, c := range cols {
		m.Columns[c] = c
	}
	return m
}

func TestListSource_AggregatesItemsPerIdentifier(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	src := &listSource{
		pool:       mock,
		catalog:    stubResolver{"equipment_catalog": tableMeta("equipment_catalog", "identifier", "equipment_name")},
		schemaName: "public",
		table:      "equipment_catalog",
		itemCols:   []string{"equipment_name", "name"},
		assign:     func(fb *record.FallbackRecord, items []string) { fb.Equipment = items },
	}

	mock.ExpectQuery(`SELECT t\."identifier", t\."equipment_name" FROM "public"\."equipment_catalog" t WHERE t\."identifier" = ANY\(\$1\)`).
		WithArgs([]string{"A", "B"}).
		WillReturnRows(mock.NewRows([]string{"identifier", "equipment_name"}).
			AddRow("A", strPtr("press")).
			AddRow("A", strPtr("lathe")).
			AddRow("B", strPtr("kiln")))

	got, err := src.Load(context.Background(), []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"press", "lathe"}, got["A"].Equipment)
	assert.Equal(t, []string{"kiln"}, got["B"].Equipment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSource_UnavailableTableSkips(t *testing.T) {
	src := &listSource{
		catalog:    stubResolver{},
		schemaName: "public",
		table:      "equipment_catalog",
		itemCols:   []string{"equipment_name"},
		assign:     func(fb *record.FallbackRecord, items []string) { fb.Equipment = items },
	}

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListSource_MissingJoinKeySkips(t *testing.T) {
	src := &listSource{
		catalog:    stubResolver{"extracted_goods": tableMeta("extracted_goods", "something_else", "goods_name")},
		schemaName: "public",
		table:      "extracted_goods",
		itemCols:   []string{"goods_name"},
		assign:     func(fb *record.FallbackRecord, items []string) { fb.Products = items },
	}

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScalarSource_MostRecentRowWins(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	src := &scalarSource{
		pool: mock,
		catalog: stubResolver{"ai_response_cache": tableMeta(
			"ai_response_cache", "identifier", "description", "category", "updated_at")},
		schemaName: "public",
		table:      "ai_response_cache",
		fields: []scalarField{
			{candidates: []string{"description", "summary"},
				assign: func(fb *record.FallbackRecord, v string) { fb.Description = v }},
			{candidates: []string{"category"},
				assign: func(fb *record.FallbackRecord, v string) { fb.Category = v }},
		},
	}

	mock.ExpectQuery(`SELECT DISTINCT ON \(t\."identifier"\) .+ FROM "public"\."ai_response_cache" t WHERE t\."identifier" = ANY\(\$1\) ORDER BY t\."identifier", t\."updated_at" DESC`).
		WithArgs([]string{"A"}).
		WillReturnRows(mock.NewRows([]string{"identifier", "description", "category"}).
			AddRow("A", strPtr("freshest summary"), nil))

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, "freshest summary", got["A"].Description)
	assert.Empty(t, got["A"].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScalarSource_NoUsableColumnsSkips(t *testing.T) {
	src := &scalarSource{
		catalog:    stubResolver{"site_parse_cache": tableMeta("site_parse_cache", "identifier", "irrelevant")},
		schemaName: "public",
		table:      "site_parse_cache",
		fields: []scalarField{
			{candidates: []string{"description"},
				assign: func(fb *record.FallbackRecord, v string) { fb.Description = v }},
		},
	}

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClassificationSource_BridgesThroughParseCache(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer mock.Close()

	src := &classificationSource{
		pool: mock,
		catalog: stubResolver{
			"classification_matches": tableMeta("classification_matches", "parse_id", "category", "id"),
			"site_parse_cache":       tableMeta("site_parse_cache", "identifier", "id"),
		},
		schemaName: "public",
	}

	mock.ExpectQuery(`SELECT DISTINCT ON \(p\."identifier"\) .+ FROM "public"\."classification_matches" m JOIN "public"\."site_parse_cache" p ON m\."parse_id" = p\."id" WHERE p\."identifier" = ANY\(\$1\)`).
		WithArgs([]string{"A"}).
		WillReturnRows(mock.NewRows([]string{"identifier", "category"}).
			AddRow("A", strPtr("foundry")))

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, "foundry", got["A"].Category)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassificationSource_MissingBridgeSkips(t *testing.T) {
	src := &classificationSource{
		catalog: stubResolver{
			"classification_matches": tableMeta("classification_matches", "parse_id", "category"),
		},
		schemaName: "public",
	}

	got, err := src.Load(context.Background(), []string{"A"})
	require.NoError(t, err)
	assert.Nil(t, got)
}
