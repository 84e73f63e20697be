// Package activity derives a company's pipeline execution state from the
// inconsistent signals the analyzer leaves behind: status text, progress
// ratio, lifecycle timestamps and queue freshness. There is no authoritative
// "is this running" flag anywhere; it is inferred here, in one place.
package activity

import (
	"sort"
	"strings"
	"time"
)

// State is the derived activity state of a record.
type State string

const (
	StateRunning State = "running"
	StateQueued  State = "queued"
	StateIdle    State = "idle"
)

// Outcome labels how the last analysis ended, evaluated only for idle
// records.
type Outcome string

const (
	OutcomeCompleted  Outcome = "completed"
	OutcomePartial    Outcome = "partial"
	OutcomeFailed     Outcome = "failed"
	OutcomeNotStarted Outcome = "not_started"
	OutcomePending    Outcome = "pending"
)

// Signals are the raw inputs the classifier reads. All of them may be
// absent.
type Signals struct {
	Status     string
	Outcome    string
	Progress   *float64
	StartedAt  *time.Time
	FinishedAt *time.Time
	QueuedAt   *time.Time
	SiteFound  *bool
	ErrorFlag  *bool
}

// Result is the classification of one record.
type Result struct {
	State   State   `json:"state"`
	Outcome Outcome `json:"outcome"`
}

var runningSynonyms = map[string]bool{
	"running":     true,
	"in_progress": true,
	"processing":  true,
	"analyzing":   true,
	"crawling":    true,
	"classifying": true,
	"extracting":  true,
	"started":     true,
}

var queuedSynonyms = map[string]bool{
	"queued":    true,
	"pending":   true,
	"waiting":   true,
	"scheduled": true,
	"enqueued":  true,
}

var completedSynonyms = map[string]bool{
	"completed": true,
	"complete":  true,
	"success":   true,
	"succeeded": true,
	"done":      true,
	"finished":  true,
}

var failedSynonyms = map[string]bool{
	"failed":  true,
	"failure": true,
	"error":   true,
	"crashed": true,
}

// RunningSynonyms returns the status strings that mean a run is in flight,
// for use in SQL aggregate predicates. Sorted for deterministic queries.
func RunningSynonyms() []string { return sortedKeys(runningSynonyms) }

// QueuedSynonyms returns the status strings that mean a run is waiting.
func QueuedSynonyms() []string { return sortedKeys(queuedSynonyms) }

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Classifier derives activity state with a fixed staleness window. A start
// or queue timestamp older than the window no longer counts as active; the
// record is treated as abandoned.
type Classifier struct {
	StalenessWindow time.Duration
}

// NewClassifier creates a Classifier; a non-positive window defaults to two
// hours.
func NewClassifier(window time.Duration) Classifier {
	if window <= 0 {
		window = 2 * time.Hour
	}
	return Classifier{StalenessWindow: window}
}

// Classify is pure and deterministic for a given record and now.
func (c Classifier) Classify(sig Signals, now time.Time) Result {
	if c.isRunning(sig, now) {
		return Result{State: StateRunning, Outcome: OutcomePending}
	}
	if c.isQueued(sig, now) {
		return Result{State: StateQueued, Outcome: OutcomePending}
	}
	return Result{State: StateIdle, Outcome: c.outcome(sig)}
}

func (c Classifier) isRunning(sig Signals, now time.Time) bool {
	if runningSynonyms[normalizeStatus(sig.Status)] {
		return true
	}
	if sig.Progress != nil && *sig.Progress > 0 && *sig.Progress < 0.999 {
		return true
	}
	if sig.StartedAt != nil && sig.FinishedAt == nil && c.fresh(*sig.StartedAt, now) {
		return true
	}
	return false
}

func (c Classifier) isQueued(sig Signals, now time.Time) bool {
	if sig.QueuedAt == nil {
		return false
	}
	if !c.fresh(*sig.QueuedAt, now) {
		return false
	}
	if queuedSynonyms[normalizeStatus(sig.Status)] {
		return true
	}
	// A queue entry fresher than the last finish means the record was
	// re-enqueued after its previous run.
	return sig.FinishedAt == nil || sig.QueuedAt.After(*sig.FinishedAt)
}

func (c Classifier) outcome(sig Signals) Outcome {
	// Explicit stored outcome wins.
	if o, ok := parseOutcome(sig.Outcome); ok {
		return o
	}
	// Fall back to terminal status text.
	if o, ok := parseOutcome(sig.Status); ok {
		return o
	}
	// Then the success/error/no-site flags.
	if sig.ErrorFlag != nil && *sig.ErrorFlag {
		return OutcomeFailed
	}
	if sig.SiteFound != nil {
		if !*sig.SiteFound {
			return OutcomeFailed
		}
		if sig.FinishedAt != nil {
			return OutcomeCompleted
		}
	}
	// Finished without a clear success signal.
	if sig.FinishedAt != nil {
		return OutcomePartial
	}
	// A stale queue entry or queued status with no run yet.
	if queuedSynonyms[normalizeStatus(sig.Status)] || sig.QueuedAt != nil {
		return OutcomePending
	}
	return OutcomeNotStarted
}

// fresh reports whether t is strictly within the staleness window of now.
// At exactly the boundary the signal is stale.
func (c Classifier) fresh(t, now time.Time) bool {
	return now.Sub(t) < c.StalenessWindow
}

func parseOutcome(s string) (Outcome, bool) {
	switch norm := normalizeStatus(s); {
	case completedSynonyms[norm]:
		return OutcomeCompleted, true
	case failedSynonyms[norm]:
		return OutcomeFailed, true
	case norm == "partial":
		return OutcomePartial, true
	case norm == "not_started":
		return OutcomeNotStarted, true
	default:
		return "", false
	}
}

func normalizeStatus(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
