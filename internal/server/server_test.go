//go:build !integration

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/analysis-engine/internal/config"
	"github.com/sells-group/analysis-engine/internal/engine"
	"github.com/sells-group/analysis-engine/internal/query"
)

type stubEngine struct {
	gotFilters query.Filters
	page       *engine.Page
	err        error
}

func (s *stubEngine) Fetch(_ context.Context, f query.Filters) (*engine.Page, error) {
	s.gotFilters = f
	if s.err != nil {
		return nil, s.err
	}
	return s.page, nil
}

func (s *stubEngine) EmptyPage(_ context.Context, f query.Filters) *engine.Page {
	return &engine.Page{Items: []engine.Item{}, Page: f.Page, PageSize: f.PageSize}
}

func (s *stubEngine) Capabilities(context.Context) map[string]bool {
	return map[string]bool{"status": true, "score": false}
}

func get(t *testing.T, eng Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := New(eng, config.ServerConfig{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, &stubEngine{}, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCompanies_ParsesFilters(t *testing.T) {
	eng := &stubEngine{page: &engine.Page{Items: []engine.Item{}, Total: 7, Page: 2, PageSize: 10}}
	rec := get(t, eng, "/api/v1/companies?code=25.62&broad=true&page=2&page_size=10&industry=7&q=acme&sort=started_at&outcome=completed,failed")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, query.Filters{
		Code:       "25.62",
		Broad:      true,
		IndustryID: 7,
		Query:      "acme",
		Outcomes:   []string{"completed", "failed"},
		Sort:       query.SortStartedAt,
		Page:       2,
		PageSize:   10,
	}, eng.gotFilters)

	var page engine.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(7), page.Total)
}

func TestCompanies_DefaultsSortToRevenue(t *testing.T) {
	eng := &stubEngine{page: &engine.Page{Items: []engine.Item{}}}
	rec := get(t, eng, "/api/v1/companies")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, query.SortRevenue, eng.gotFilters.Sort)
}

func TestCompanies_BadParams(t *testing.T) {
	for _, path := range []string{
		"/api/v1/companies?page=abc",
		"/api/v1/companies?page_size=x",
		"/api/v1/companies?industry=seven",
		"/api/v1/companies?sort=name",
	} {
		rec := get(t, &stubEngine{}, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestCompanies_FailureYieldsWellFormedEmptyPage(t *testing.T) {
	eng := &stubEngine{err: errors.New("primary table exploded")}
	rec := get(t, eng, "/api/v1/companies?page=3&page_size=10")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var page engine.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.Total)
	assert.Equal(t, 3, page.Page)
	// The error text never leaks into the body.
	assert.NotContains(t, rec.Body.String(), "exploded")
}

func TestCapabilities(t *testing.T) {
	rec := get(t, &stubEngine{}, "/api/v1/capabilities")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"available":{"status":true,"score":false}}`, rec.Body.String())
}
