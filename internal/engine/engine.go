// Package engine composes the read-side aggregation pipeline: schema
// discovery, capability resolution, query planning, fallback loading,
// record merging and activity classification, returned as one page.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/analysis-engine/internal/activity"
	"github.com/sells-group/analysis-engine/internal/analyzer"
	"github.com/sells-group/analysis-engine/internal/capability"
	"github.com/sells-group/analysis-engine/internal/config"
	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/fallback"
	"github.com/sells-group/analysis-engine/internal/industry"
	"github.com/sells-group/analysis-engine/internal/query"
	"github.com/sells-group/analysis-engine/internal/record"
	"github.com/sells-group/analysis-engine/internal/schema"
)

// Logical table names resolved through the schema catalog.
const (
	primaryTable = "companies"
	queueTable   = "analysis_queue"
)

// Item is one reconciled record with its derived activity annotation.
type Item struct {
	record.CompanyRecord
	Activity activity.Result `json:"activity"`
}

// ActiveSummary counts currently running and queued records matching the
// request's filter.
type ActiveSummary struct {
	Running int64 `json:"running"`
	Queued  int64 `json:"queued"`
}

// Page is the composed response for one read request.
type Page struct {
	Items     []Item          `json:"items"`
	Total     int64           `json:"total"`
	Page      int             `json:"page"`
	PageSize  int             `json:"page_size"`
	Available map[string]bool `json:"available"`
	Active    ActiveSummary   `json:"active"`
	Analyzer  analyzer.Health `json:"analyzer"`
}

// HealthChecker reports the upstream analyzer's reachability.
type HealthChecker interface {
	Health(ctx context.Context) analyzer.Health
}

// tableResolver is the slice of the schema catalog the engine uses.
type tableResolver interface {
	Resolve(ctx context.Context, schemaName, logicalName string) schema.TableMetadata
}

// fallbackLoader is the slice of the fallback aggregator the engine uses.
type fallbackLoader interface {
	Load(ctx context.Context, ids []string) map[string]record.FallbackRecord
}

// Engine serves read requests against the analysis tables. All state it
// holds is process-wide caches; per-request state lives on the stack.
type Engine struct {
	pool       db.Pool
	cfg        config.EngineConfig
	fields     []capability.FieldSpec
	catalog    tableResolver
	planner    *query.Planner
	fallbacks  fallbackLoader
	classifier activity.Classifier
	checker    HealthChecker
	log        *zap.Logger
	now        func() time.Time
}

// New wires an Engine and its caches against one pool.
func New(pool db.Pool, cfg config.EngineConfig, checker HealthChecker) (*Engine, error) {
	fields, err := capability.LoadFields(cfg.FieldsFile)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load field specs")
	}

	catalog := schema.NewCatalog(pool, cfg.MetadataTTL())
	industries := industry.NewCache(pool, cfg.Schema, cfg.IndustryTTL())

	return &Engine{
		pool:       pool,
		cfg:        cfg,
		fields:     fields,
		catalog:    catalog,
		planner:    query.NewPlanner(cfg.Schema, industries, cfg.StalenessWindow()),
		fallbacks:  fallback.New(pool, catalog, cfg.Schema),
		classifier: activity.NewClassifier(cfg.StalenessWindow()),
		checker:    checker,
		log:        zap.L().With(zap.String("component", "engine")),
		now:        time.Now,
	}, nil
}

// Fields returns the field specs the engine resolves against the schema.
func (e *Engine) Fields() []capability.FieldSpec { return e.fields }

// Capabilities resolves the current availability map without running a page
// request.
func (e *Engine) Capabilities(ctx context.Context) map[string]bool {
	meta := e.catalog.Resolve(ctx, e.cfg.Schema, primaryTable)
	return capability.Resolve(e.fields, meta).Available()
}

// Fetch runs one read request. Auxiliary failures degrade to absent data;
// only a failure on the primary query path returns an error.
func (e *Engine) Fetch(ctx context.Context, f query.Filters) (*Page, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout())
	defer cancel()

	f = e.clampPaging(f)

	primary := e.catalog.Resolve(ctx, e.cfg.Schema, primaryTable)
	if !primary.Available {
		return nil, eris.New("engine: primary analysis table unavailable")
	}
	queue := e.catalog.Resolve(ctx, e.cfg.Schema, queueTable)

	// Snapshot the capability plan for the whole request; the catalog may
	// refresh concurrently but these bindings must not move.
	plan := capability.Resolve(e.fields, primary)

	queries := e.planner.Build(ctx, f, plan, primary, queue)
	if queries.Empty {
		e.log.Debug("filter provably matches nothing, short-circuiting",
			zap.String("code", f.Code),
			zap.Int64("industry_id", f.IndustryID),
		)
		page := e.emptyPage(f, plan)
		page.Analyzer = e.checker.Health(ctx)
		return page, nil
	}

	var (
		total  int64
		active ActiveSummary
		rows   []*rowScan
		health analyzer.Health
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := e.pool.QueryRow(gctx, queries.Count.SQL, queries.Count.Args...).Scan(&total)
		return eris.Wrap(err, "engine: count query")
	})
	g.Go(func() error {
		err := e.pool.QueryRow(gctx, queries.Active.SQL, queries.Active.Args...).Scan(&active.Running, &active.Queued)
		return eris.Wrap(err, "engine: active summary query")
	})
	g.Go(func() error {
		var err error
		rows, err = e.fetchRows(gctx, queries.Page, plan)
		return err
	})
	g.Go(func() error {
		health = e.checker.Health(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.identifier
	}
	fallbacks := e.fallbacks.Load(ctx, ids)

	now := e.now()
	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		rec := r.toRecord()
		fb := fallbacks[rec.Identifier]
		record.Merge(&rec, &fb)
		items = append(items, Item{
			CompanyRecord: rec,
			Activity: e.classifier.Classify(activity.Signals{
				Status:     rec.Status,
				Outcome:    rec.Outcome,
				Progress:   rec.Progress,
				StartedAt:  rec.StartedAt,
				FinishedAt: rec.FinishedAt,
				QueuedAt:   rec.QueuedAt,
				SiteFound:  rec.SiteFound,
				ErrorFlag:  rec.ErrorFlag,
			}, now),
		})
	}

	return &Page{
		Items:     items,
		Total:     total,
		Page:      f.Page,
		PageSize:  f.PageSize,
		Available: plan.Available(),
		Active:    active,
		Analyzer:  health,
	}, nil
}

func (e *Engine) clampPaging(f query.Filters) query.Filters {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = e.cfg.DefaultPageSize
	}
	if e.cfg.MaxPageSize > 0 && f.PageSize > e.cfg.MaxPageSize {
		f.PageSize = e.cfg.MaxPageSize
	}
	return f
}

// EmptyPage is the well-formed zero-result shape, used both for provably
// empty filters and as the safe payload on request failure.
func (e *Engine) EmptyPage(ctx context.Context, f query.Filters) *Page {
	f = e.clampPaging(f)
	meta := e.catalog.Resolve(ctx, e.cfg.Schema, primaryTable)
	return e.emptyPage(f, capability.Resolve(e.fields, meta))
}

func (e *Engine) emptyPage(f query.Filters, plan *capability.Plan) *Page {
	return &Page{
		Items:     []Item{},
		Total:     0,
		Page:      f.Page,
		PageSize:  f.PageSize,
		Available: plan.Available(),
	}
}

func (e *Engine) fetchRows(ctx context.Context, q query.SQLQuery, plan *capability.Plan) ([]*rowScan, error) {
	rows, err := e.pool.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, eris.Wrap(err, "engine: page query")
	}
	defer rows.Close()

	aliases := query.SelectAliases(plan)
	var out []*rowScan
	for rows.Next() {
		r := &rowScan{}
		targets := make([]any, len(aliases))
		for i, alias := range aliases {
			targets[i] = r.dest(alias)
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, eris.Wrap(err, "engine: scan page row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "engine: iterate page rows")
	}
	return out, nil
}

// rowScan receives one page row in SelectAliases order. Every field except
// the identifier may be NULL.
type rowScan struct {
	identifier string
	name       *string
	legalName  *string
	address    *string
	code       *string
	revenue    *int64

	status      *string
	outcome     *string
	progress    *float64
	startedAt   *time.Time
	finishedAt  *time.Time
	queuedAt    *time.Time
	duration    *int64
	attempts    *int64
	score       *float64
	payload     []byte
	steps       []byte
	sites       *string
	emails      *string
	description *string
	siteFound   *bool
	errorFlag   *bool
	extraCodes  []byte
}

func (r *rowScan) dest(alias string) any {
	switch alias {
	case "identifier":
		return &r.identifier
	case "name":
		return &r.name
	case "legal_name":
		return &r.legalName
	case "address":
		return &r.address
	case "activity_code":
		return &r.code
	case "revenue":
		return &r.revenue
	case capability.FieldStatus:
		return &r.status
	case capability.FieldOutcome:
		return &r.outcome
	case capability.FieldProgress:
		return &r.progress
	case capability.FieldStartedAt:
		return &r.startedAt
	case capability.FieldFinishedAt:
		return &r.finishedAt
	case "queued_at":
		return &r.queuedAt
	case capability.FieldDuration:
		return &r.duration
	case capability.FieldAttempts:
		return &r.attempts
	case capability.FieldScore:
		return &r.score
	case capability.FieldPayload:
		return &r.payload
	case capability.FieldSteps:
		return &r.steps
	case capability.FieldSites:
		return &r.sites
	case capability.FieldEmails:
		return &r.emails
	case capability.FieldDescription:
		return &r.description
	case capability.FieldSiteFound:
		return &r.siteFound
	case capability.FieldErrorFlag:
		return &r.errorFlag
	case capability.FieldExtraCodes:
		return &r.extraCodes
	default:
		// Custom field-file aliases the engine does not map.
		return new(any)
	}
}

func (r *rowScan) toRecord() record.CompanyRecord {
	rec := record.CompanyRecord{
		Identifier:   r.identifier,
		Name:         deref(r.name),
		LegalName:    deref(r.legalName),
		Address:      deref(r.address),
		Code:         deref(r.code),
		Revenue:      r.revenue,
		Status:       deref(r.status),
		Outcome:      deref(r.outcome),
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
		QueuedAt:     r.queuedAt,
		DurationSecs: r.duration,
		Attempts:     r.attempts,
		Score:        r.score,
		SiteFound:    r.siteFound,
		ErrorFlag:    r.errorFlag,
		Sites:        record.ParseStringList(deref(r.sites)),
		Emails:       record.ParseStringList(deref(r.emails)),
		Description:  deref(r.description),
		Steps:        record.ParseSteps(r.steps),
	}
	if r.progress != nil {
		rec.Progress = record.NormalizeProgress(*r.progress)
	}
	if len(r.payload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(r.payload, &payload); err == nil {
			rec.Payload = payload
		}
	}
	return rec
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
