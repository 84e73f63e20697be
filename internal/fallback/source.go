// Package fallback loads gap-filling facts for a batch of company
// identifiers from auxiliary tables whose presence and column names are not
// guaranteed. Every source probes its own schema through the catalog and
// skips itself silently when the deployment lacks it.
package fallback

import (
	"context"

	"github.com/sells-group/analysis-engine/internal/record"
	"github.com/sells-group/analysis-engine/internal/schema"
)

// Source is one auxiliary table (or bridged pair of tables) that can
// contribute partial facts for a batch of identifiers. Load must batch with
// ANY(), never query per identifier, and must return its facts keyed by the
// primary identifier.
type Source interface {
	Name() string
	Load(ctx context.Context, ids []string) (map[string]record.FallbackRecord, error)
}

// Join-key candidates shared by the auxiliary tables.
var keyCandidates = []string{"identifier", "company_identifier", "tax_id"}

// Recency candidates for most-recent-row-per-identifier selection.
var recencyCandidates = []string{"updated_at", "created_at", "fetched_at"}

// firstColumn returns the actual spelling of the first candidate present.
func firstColumn(meta schema.TableMetadata, candidates []string) (string, bool) {
	for _, cand := range candidates {
		if col, ok := meta.Column(cand); ok {
			return col, true
		}
	}
	return "", false
}

// recencyColumn picks the ordering column for duplicate resolution: a
// timestamp column when one exists, else the primary key descending.
func recencyColumn(meta schema.TableMetadata) (string, bool) {
	if col, ok := firstColumn(meta, recencyCandidates); ok {
		return col, true
	}
	return meta.Column("id")
}
