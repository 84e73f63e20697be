//go:build !integration

package industry

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockCache(t *testing.T) (*Cache, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return NewCache(mock, "public", 10*time.Minute), mock
}

func TestCache_Prefixes(t *testing.T) {
	c, mock := newMockCache(t)

	mock.ExpectQuery(`SELECT code_prefix FROM "public"\."industry_codes"`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"code_prefix"}).AddRow("25.6").AddRow("28"))

	got := c.Prefixes(context.Background(), 7)
	assert.Equal(t, []string{"25.6", "28"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())

	// Cached: no second query.
	got = c.Prefixes(context.Background(), 7)
	assert.Equal(t, []string{"25.6", "28"}, got)
}

func TestCache_Prefixes_ErrorDegradesToEmpty(t *testing.T) {
	c, mock := newMockCache(t)

	mock.ExpectQuery(`SELECT code_prefix`).
		WithArgs(int64(3)).
		WillReturnError(assert.AnError)

	got := c.Prefixes(context.Background(), 3)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_Prefixes_TTLExpiry(t *testing.T) {
	c, mock := newMockCache(t)

	current := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	c.WithNow(func() time.Time { return current })

	mock.ExpectQuery(`SELECT code_prefix`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"code_prefix"}).AddRow("25"))
	_ = c.Prefixes(context.Background(), 7)

	current = current.Add(11 * time.Minute)
	mock.ExpectQuery(`SELECT code_prefix`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"code_prefix"}).AddRow("25").AddRow("26"))

	got := c.Prefixes(context.Background(), 7)
	assert.Equal(t, []string{"25", "26"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
