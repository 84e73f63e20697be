// Package record defines the reconciled company analysis record and the
// merge rules that combine the primary row, auxiliary fallback sources, and
// the embedded analyzer payload.
package record

import "time"

// CompanyRecord is the unified read-side view of one company's analysis,
// keyed by its unique business identifier. It is assembled per request and
// never persisted.
type CompanyRecord struct {
	// Identity
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	LegalName  string `json:"legal_name,omitempty"`
	Address    string `json:"address,omitempty"`
	Code       string `json:"code,omitempty"` // primary classification code
	Revenue    *int64 `json:"revenue,omitempty"`

	// Analysis lifecycle
	Status       string     `json:"status,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	Progress     *float64   `json:"progress,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	QueuedAt     *time.Time `json:"queued_at,omitempty"`
	DurationSecs *int64     `json:"duration_secs,omitempty"`
	Attempts     *int64     `json:"attempts,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	SiteFound    *bool      `json:"site_found,omitempty"`
	ErrorFlag    *bool      `json:"error_flag,omitempty"`

	// Content
	Sites       []string `json:"sites,omitempty"`
	Emails      []string `json:"emails,omitempty"`
	Equipment   []string `json:"equipment,omitempty"`
	Products    []string `json:"products,omitempty"`
	Description string   `json:"description,omitempty"`

	// Analyzer payload, reconciled with the structured fields above.
	Payload map[string]any `json:"payload,omitempty"`

	Steps []PipelineStep `json:"steps,omitempty"`
}

// FallbackRecord is the partial view of a company assembled from auxiliary
// sources. It only ever fills gaps in a CompanyRecord, never overrides a
// present primary value.
type FallbackRecord struct {
	Description string
	Category    string
	Equipment   []string
	Products    []string
	Sites       []string
	Emails      []string
}

// Empty reports whether the fallback carries no usable facts.
func (f FallbackRecord) Empty() bool {
	return f.Description == "" && f.Category == "" &&
		len(f.Equipment) == 0 && len(f.Products) == 0 &&
		len(f.Sites) == 0 && len(f.Emails) == 0
}

// PipelineStep is one stage of the analyzer pipeline, used for display of
// the current stage only.
type PipelineStep struct {
	Label  string `json:"label"`
	Status string `json:"status,omitempty"`
}
