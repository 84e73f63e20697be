// Package analyzer probes the upstream analyzer service that writes the
// analysis tables. The engine never calls the analyzer for data; it only
// reports whether the integration looks reachable so operators can tell a
// dead pipeline from an empty one.
package analyzer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/analysis-engine/internal/resilience"
)

// Health describes the analyzer integration as seen from this process.
type Health struct {
	Reachable bool   `json:"reachable"`
	Detail    string `json:"detail,omitempty"`
}

// Checker probes the analyzer's health endpoint, caching the verdict for a
// TTL and rate-limiting outbound probes so that a burst of page requests
// cannot hammer a struggling analyzer.
type Checker struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	ttl     time.Duration
	log     *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	cached    Health
	fetchedAt time.Time
}

// NewChecker creates a Checker. An empty baseURL disables probing; Health
// then always reports unconfigured.
func NewChecker(baseURL string, timeout, ttl time.Duration, probesPerSec float64) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if probesPerSec <= 0 {
		probesPerSec = 1
	}
	return &Checker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(probesPerSec), 1),
		ttl:     ttl,
		log:     zap.L().With(zap.String("component", "analyzer")),
		now:     time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (c *Checker) WithNow(now func() time.Time) *Checker {
	c.now = now
	return c
}

// Health returns the cached verdict, probing at most once per TTL window.
// It never returns an error; a failed probe is itself the verdict.
func (c *Checker) Health(ctx context.Context) Health {
	if c.baseURL == "" {
		return Health{Reachable: false, Detail: "analyzer integration not configured"}
	}

	c.mu.Lock()
	cached, fetchedAt := c.cached, c.fetchedAt
	c.mu.Unlock()
	if !fetchedAt.IsZero() && c.now().Sub(fetchedAt) < c.ttl {
		return cached
	}

	// Past the TTL but over the probe rate: serve the stale verdict rather
	// than queueing behind the limiter.
	if !c.limiter.Allow() {
		if !fetchedAt.IsZero() {
			return cached
		}
		return Health{Reachable: false, Detail: "health probe rate limited"}
	}

	verdict := c.probe(ctx)

	c.mu.Lock()
	c.cached = verdict
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return verdict
}

func (c *Checker) probe(ctx context.Context) Health {
	err := resilience.Do(ctx, resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: 200 * time.Millisecond,
		OnRetry:        resilience.RetryLogger("analyzer", "health"),
	}, func(ctx context.Context) error {
		return c.ping(ctx)
	})
	if err != nil {
		c.log.Warn("analyzer unreachable", zap.Error(err))
		return Health{Reachable: false, Detail: eris.Cause(err).Error()}
	}
	return Health{Reachable: true}
}

func (c *Checker) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return eris.Wrap(err, "analyzer: build health request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "analyzer: health request")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err := eris.New(fmt.Sprintf("analyzer: health status %d", resp.StatusCode))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
