package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }
func fp(f float64) *float64     { return &f }
func bp(b bool) *bool           { return &b }

func classify(sig Signals) Result {
	return NewClassifier(2 * time.Hour).Classify(sig, now)
}

func TestClassify_RunningByProgress(t *testing.T) {
	// status null, progress mid-flight, started recently, not finished.
	res := classify(Signals{
		Progress:  fp(0.65),
		StartedAt: tp(now.Add(-5 * time.Minute)),
	})
	assert.Equal(t, StateRunning, res.State)
}

func TestClassify_CompleteNotRunning(t *testing.T) {
	sig := Signals{
		Progress:   fp(1.0),
		StartedAt:  tp(now.Add(-30 * time.Minute)),
		FinishedAt: tp(now.Add(-5 * time.Minute)),
	}

	res := classify(sig)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, OutcomePartial, res.Outcome)

	sig.SiteFound = bp(true)
	res = classify(sig)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestClassify_RunningByStatusText(t *testing.T) {
	res := classify(Signals{Status: "Crawling"})
	assert.Equal(t, StateRunning, res.State)
}

func TestClassify_StaleStartIsAbandoned(t *testing.T) {
	res := classify(Signals{StartedAt: tp(now.Add(-3 * time.Hour))})
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, OutcomeNotStarted, res.Outcome)
}

func TestClassify_StalenessBoundaryExact(t *testing.T) {
	c := NewClassifier(2 * time.Hour)
	started := now.Add(-2 * time.Hour)

	// One nanosecond inside the window: still running.
	res := c.Classify(Signals{StartedAt: tp(started.Add(time.Nanosecond))}, now)
	assert.Equal(t, StateRunning, res.State)

	// Exactly at the boundary: idle, not before.
	res = c.Classify(Signals{StartedAt: tp(started)}, now)
	assert.Equal(t, StateIdle, res.State)
}

func TestClassify_QueuedByStatusAndFreshTimestamp(t *testing.T) {
	res := classify(Signals{
		Status:   "queued",
		QueuedAt: tp(now.Add(-time.Minute)),
	})
	assert.Equal(t, StateQueued, res.State)
}

func TestClassify_QueuedStatusWithoutTimestampIsNotQueued(t *testing.T) {
	res := classify(Signals{Status: "queued"})
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, OutcomePending, res.Outcome)
}

func TestClassify_ReenqueuedAfterFinish(t *testing.T) {
	res := classify(Signals{
		FinishedAt: tp(now.Add(-time.Hour)),
		QueuedAt:   tp(now.Add(-10 * time.Minute)),
	})
	assert.Equal(t, StateQueued, res.State)
}

func TestClassify_StaleQueueEntryIgnored(t *testing.T) {
	res := classify(Signals{
		Status:   "queued",
		QueuedAt: tp(now.Add(-3 * time.Hour)),
	})
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, OutcomePending, res.Outcome)
}

func TestClassify_QueueBoundaryExact(t *testing.T) {
	c := NewClassifier(2 * time.Hour)
	queued := now.Add(-2 * time.Hour)

	res := c.Classify(Signals{Status: "queued", QueuedAt: tp(queued.Add(time.Nanosecond))}, now)
	assert.Equal(t, StateQueued, res.State)

	res = c.Classify(Signals{Status: "queued", QueuedAt: tp(queued)}, now)
	assert.Equal(t, StateIdle, res.State)
}

func TestClassify_RunningTakesPriorityOverQueued(t *testing.T) {
	res := classify(Signals{
		Status:   "queued",
		Progress: fp(0.5),
		QueuedAt: tp(now.Add(-time.Minute)),
	})
	assert.Equal(t, StateRunning, res.State)
}

func TestClassify_ExplicitOutcomeWins(t *testing.T) {
	res := classify(Signals{
		Outcome:    "failed",
		FinishedAt: tp(now.Add(-time.Hour)),
		SiteFound:  bp(true),
	})
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestClassify_OutcomeFromFlags(t *testing.T) {
	res := classify(Signals{ErrorFlag: bp(true)})
	assert.Equal(t, OutcomeFailed, res.Outcome)

	res = classify(Signals{SiteFound: bp(false)})
	assert.Equal(t, OutcomeFailed, res.Outcome)
}

func TestClassify_NoSignalsIsNotStarted(t *testing.T) {
	res := classify(Signals{})
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, OutcomeNotStarted, res.Outcome)
}

func TestClassify_Deterministic(t *testing.T) {
	sig := Signals{Status: "running", Progress: fp(0.3)}
	a := classify(sig)
	b := classify(sig)
	assert.Equal(t, a, b)
}
