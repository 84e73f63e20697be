// Package query builds the parameterized filter/sort/paginate queries against
// the primary analysis table. Literal values are always bound parameters;
// only identifiers chosen from the capability plan are interpolated, quoted
// against reserved characters.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/analysis-engine/internal/activity"
	"github.com/sells-group/analysis-engine/internal/capability"
	"github.com/sells-group/analysis-engine/internal/db"
	"github.com/sells-group/analysis-engine/internal/schema"
)

// SortKey selects the page ordering.
type SortKey string

const (
	SortRevenue   SortKey = "revenue"
	SortStartedAt SortKey = "started_at"
)

// Outcome filter tokens accepted from callers.
const (
	TokenCompleted  = "completed"
	TokenFailed     = "failed"
	TokenPartial    = "partial"
	TokenNotStarted = "not_started"
)

// Filters are the caller-supplied request parameters.
type Filters struct {
	Code       string
	Broad      bool
	IndustryID int64
	Query      string
	Outcomes   []string
	Sort       SortKey
	Page       int
	PageSize   int
}

// SQLQuery is one parameterized statement ready to execute.
type SQLQuery struct {
	SQL  string
	Args []any
}

// Queries holds the three statements built for one request. When Empty is
// set the filter provably matches nothing and none of them may be executed.
type Queries struct {
	Page   SQLQuery
	Count  SQLQuery
	Active SQLQuery
	Empty  bool
}

// PrefixResolver resolves an industry id to classification-code prefixes.
// Satisfied by industry.Cache.
type PrefixResolver interface {
	Prefixes(ctx context.Context, industryID int64) []string
}

// Entity statuses that keep a company visible in the catalog.
var visibleEntityStatuses = []string{"ACTIVE", "REORGANIZING"}

// Queue-table column candidates, probed at plan time.
var (
	queueKeyCandidates     = []string{"identifier", "company_identifier", "tax_id"}
	queueRecencyCandidates = []string{"queued_at", "enqueued_at", "created_at"}
)

// Planner builds SQL for the primary record table.
type Planner struct {
	schemaName string
	industries PrefixResolver
	window     time.Duration
	now        func() time.Time
}

// NewPlanner creates a Planner. window is the activity staleness window used
// in the running/queued aggregate predicates.
func NewPlanner(schemaName string, industries PrefixResolver, window time.Duration) *Planner {
	if window <= 0 {
		window = 2 * time.Hour
	}
	return &Planner{
		schemaName: schemaName,
		industries: industries,
		window:     window,
		now:        time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (p *Planner) WithNow(now func() time.Time) *Planner {
	p.now = now
	return p
}

// builder accumulates WHERE fragments and their bound arguments.
type builder struct {
	conds []string
	args  []any
}

// bind appends an argument and returns its placeholder.
func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *builder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// Build composes the page, count and active-summary queries for one request.
// The capability plan is snapshotted by the caller; bindings do not change
// mid-request.
func (p *Planner) Build(ctx context.Context, f Filters, plan *capability.Plan, primary, queue schema.TableMetadata) Queries {
	table := db.QuoteTable(p.schemaName + "." + primary.Table)

	b := &builder{}
	b.conds = append(b.conds,
		fmt.Sprintf(`c."entity_status" = ANY(%s)`, b.bind(visibleEntityStatuses)))

	if f.Code != "" {
		cond, ok := p.codeCondition(b, f, plan)
		if !ok {
			return Queries{Empty: true}
		}
		b.conds = append(b.conds, cond)
	}

	if f.IndustryID > 0 {
		prefixes := p.industries.Prefixes(ctx, f.IndustryID)
		if len(prefixes) == 0 {
			return Queries{Empty: true}
		}
		patterns := make([]string, len(prefixes))
		for i, prefix := range prefixes {
			patterns[i] = likeEscape(prefix) + "%"
		}
		b.conds = append(b.conds,
			fmt.Sprintf(`c."activity_code" LIKE ANY(%s)`, b.bind(patterns)))
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		ph := b.bind("%" + likeEscape(q) + "%")
		b.conds = append(b.conds,
			fmt.Sprintf(`(c."name" ILIKE %s OR c."identifier" ILIKE %s)`, ph, ph))
	}

	if cond := p.outcomeCondition(b, f.Outcomes, plan); cond != "" {
		b.conds = append(b.conds, cond)
	}

	join, queuedExpr := p.queueJoin(queue)
	where := b.where()

	page := p.buildPage(f, plan, table, join, queuedExpr, where, b)
	count := SQLQuery{
		SQL:  "SELECT count(*) FROM " + table + " c" + where,
		Args: b.args,
	}
	active := p.buildActive(plan, table, join, queuedExpr, where, b)

	return Queries{Page: page, Count: count, Active: active}
}

// codeCondition builds the classification-code predicate. Returns ok=false
// when a broad match was requested but no 2-digit parent prefix can be
// parsed, which must short-circuit to an empty page.
func (p *Planner) codeCondition(b *builder, f Filters, plan *capability.Plan) (string, bool) {
	if !f.Broad {
		return fmt.Sprintf(`c."activity_code" = %s`, b.bind(f.Code)), true
	}

	prefix := parentPrefix(f.Code)
	if prefix == "" {
		return "", false
	}

	ph := b.bind(likeEscape(prefix) + "%")
	cond := fmt.Sprintf(`c."activity_code" LIKE %s`, ph)
	if extra, ok := plan.Column(capability.FieldExtraCodes); ok {
		cond += fmt.Sprintf(
			` OR EXISTS (SELECT 1 FROM jsonb_array_elements_text(c.%s) AS x(code) WHERE x.code LIKE %s)`,
			db.QuoteColumn(extra), ph)
	}
	return "(" + cond + ")", true
}

// outcomeCondition ORs the requested outcome tokens together. A token whose
// backing columns are not in the plan is silently skipped, mirroring the
// availability map surfaced to callers.
func (p *Planner) outcomeCondition(b *builder, tokens []string, plan *capability.Plan) string {
	outcomeCol, hasOutcome := plan.Column(capability.FieldOutcome)
	statusCol, hasStatus := plan.Column(capability.FieldStatus)
	errorCol, hasError := plan.Column(capability.FieldErrorFlag)
	startedCol, hasStarted := plan.Column(capability.FieldStartedAt)

	// Terminal-outcome text lives in the outcome column when present, else
	// in the status column.
	textCol := ""
	if hasOutcome {
		textCol = outcomeCol
	} else if hasStatus {
		textCol = statusCol
	}

	var conds []string
	for _, token := range tokens {
		switch strings.ToLower(strings.TrimSpace(token)) {
		case TokenCompleted:
			if textCol != "" {
				conds = append(conds, fmt.Sprintf(`lower(c.%s) = ANY(%s)`,
					db.QuoteColumn(textCol), b.bind([]string{"completed", "complete", "success", "succeeded", "done", "finished"})))
			}
		case TokenFailed:
			var parts []string
			if textCol != "" {
				parts = append(parts, fmt.Sprintf(`lower(c.%s) = ANY(%s)`,
					db.QuoteColumn(textCol), b.bind([]string{"failed", "failure", "error", "crashed"})))
			}
			if hasError {
				parts = append(parts, fmt.Sprintf(`c.%s IS TRUE`, db.QuoteColumn(errorCol)))
			}
			if len(parts) > 0 {
				conds = append(conds, "("+strings.Join(parts, " OR ")+")")
			}
		case TokenPartial:
			if textCol != "" {
				conds = append(conds, fmt.Sprintf(`lower(c.%s) = %s`,
					db.QuoteColumn(textCol), b.bind("partial")))
			}
		case TokenNotStarted:
			if hasStarted {
				conds = append(conds, fmt.Sprintf(`c.%s IS NULL`, db.QuoteColumn(startedCol)))
			}
		}
	}
	if len(conds) == 0 {
		return ""
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

// queueJoin returns the lateral join clause picking the freshest queue entry
// per identifier, and the expression exposing it as queued_at. Without a
// usable queue table the expression degrades to a typed NULL.
func (p *Planner) queueJoin(queue schema.TableMetadata) (join, queuedExpr string) {
	if !queue.Available {
		return "", `NULL::timestamptz AS "queued_at"`
	}
	key := firstColumn(queue, queueKeyCandidates)
	if key == "" {
		return "", `NULL::timestamptz AS "queued_at"`
	}
	recency := firstColumn(queue, queueRecencyCandidates)
	if recency == "" {
		return "", `NULL::timestamptz AS "queued_at"`
	}

	join = fmt.Sprintf(
		` LEFT JOIN LATERAL (SELECT q.%s AS queued_at FROM %s q WHERE q.%s = c."identifier" ORDER BY q.%s DESC LIMIT 1) q ON TRUE`,
		db.QuoteColumn(recency),
		db.QuoteTable(p.schemaName+"."+queue.Table),
		db.QuoteColumn(key),
		db.QuoteColumn(recency),
	)
	return join, `q."queued_at" AS "queued_at"`
}

// identityColumns are the primary-table columns assumed present in every
// deployment.
var identityColumns = []string{"identifier", "name", "legal_name", "address", "activity_code", "revenue"}

// SelectAliases returns the output column order of the page query: identity
// columns, then the plan's logical fields, then queued_at. Callers scan rows
// in exactly this order.
func SelectAliases(plan *capability.Plan) []string {
	out := append([]string{}, identityColumns...)
	out = append(out, plan.Aliases()...)
	return append(out, "queued_at")
}

func (p *Planner) buildPage(f Filters, plan *capability.Plan, table, join, queuedExpr, where string, b *builder) SQLQuery {
	exprs := make([]string, 0, len(identityColumns)+8)
	for _, col := range identityColumns {
		exprs = append(exprs, "c."+db.QuoteColumn(col))
	}
	for _, alias := range plan.Aliases() {
		exprs = append(exprs, plan.QualifiedSelectExpr("c", alias))
	}
	exprs = append(exprs, queuedExpr)

	pageSize := f.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	pageNum := f.Page
	if pageNum <= 0 {
		pageNum = 1
	}

	args := append([]any{}, b.args...)
	pb := &builder{args: args}
	sql := "SELECT " + strings.Join(exprs, ", ") +
		" FROM " + table + " c" + join + where +
		p.orderBy(f.Sort, plan) +
		" OFFSET " + pb.bind((pageNum-1)*pageSize) +
		" LIMIT " + pb.bind(pageSize)

	return SQLQuery{SQL: sql, Args: pb.args}
}

// orderBy guarantees deterministic pagination: every sort is tie-broken by
// identifier.
func (p *Planner) orderBy(sort SortKey, plan *capability.Plan) string {
	if sort == SortStartedAt {
		if col, ok := plan.Column(capability.FieldStartedAt); ok {
			return fmt.Sprintf(` ORDER BY c.%s DESC NULLS LAST, c."identifier" ASC`, db.QuoteColumn(col))
		}
	}
	return ` ORDER BY c."revenue" DESC NULLS LAST, c."identifier" ASC`
}

// buildActive composes the running/queued aggregate over the same filter.
func (p *Planner) buildActive(plan *capability.Plan, table, join, queuedExpr, where string, b *builder) SQLQuery {
	args := append([]any{}, b.args...)
	ab := &builder{args: args}

	cutoff := p.now().Add(-p.window)

	var runningParts []string
	if col, ok := plan.Column(capability.FieldStatus); ok {
		runningParts = append(runningParts, fmt.Sprintf(`lower(c.%s) = ANY(%s)`,
			db.QuoteColumn(col), ab.bind(activity.RunningSynonyms())))
	}
	if col, ok := plan.Column(capability.FieldProgress); ok {
		// Stored progress may be a 0-100 percentage; normalize before the
		// strict in-flight range check.
		norm := fmt.Sprintf(`(CASE WHEN c.%[1]s > 1 THEN c.%[1]s / 100.0 ELSE c.%[1]s END)`, db.QuoteColumn(col))
		runningParts = append(runningParts, fmt.Sprintf(`(%[1]s > 0 AND %[1]s < 0.999)`, norm))
	}
	if started, ok := plan.Column(capability.FieldStartedAt); ok {
		part := fmt.Sprintf(`(c.%s > %s`, db.QuoteColumn(started), ab.bind(cutoff))
		if finished, ok := plan.Column(capability.FieldFinishedAt); ok {
			part += fmt.Sprintf(` AND c.%s IS NULL`, db.QuoteColumn(finished))
		}
		runningParts = append(runningParts, part+")")
	}

	running := "FALSE"
	if len(runningParts) > 0 {
		running = "(" + strings.Join(runningParts, " OR ") + ")"
	}

	queued := "FALSE"
	if strings.HasPrefix(queuedExpr, "q.") {
		queuedCond := fmt.Sprintf(`q."queued_at" IS NOT NULL AND q."queued_at" > %s`, ab.bind(cutoff))
		if col, ok := plan.Column(capability.FieldStatus); ok {
			extra := fmt.Sprintf(`lower(c.%s) = ANY(%s)`, db.QuoteColumn(col), ab.bind(activity.QueuedSynonyms()))
			if finished, ok := plan.Column(capability.FieldFinishedAt); ok {
				extra += fmt.Sprintf(` OR c.%s IS NULL OR q."queued_at" > c.%s`,
					db.QuoteColumn(finished), db.QuoteColumn(finished))
			}
			queuedCond += " AND (" + extra + ")"
		}
		queued = "(NOT " + running + " AND " + queuedCond + ")"
	}

	sql := "SELECT count(*) FILTER (WHERE " + running + ") AS running, " +
		"count(*) FILTER (WHERE " + queued + ") AS queued" +
		" FROM " + table + " c" + join + where

	return SQLQuery{SQL: sql, Args: ab.args}
}

// parentPrefix extracts the 2-digit parent classification prefix from a code
// like "25.62". Empty when unparsable.
func parentPrefix(code string) string {
	code = strings.TrimSpace(code)
	var digits []rune
	for _, r := range code {
		if !unicode.IsDigit(r) {
			break
		}
		digits = append(digits, r)
	}
	if len(digits) < 2 {
		return ""
	}
	return string(digits[:2])
}

// likeEscape escapes LIKE metacharacters in user-supplied match text.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

func firstColumn(meta schema.TableMetadata, candidates []string) string {
	for _, cand := range candidates {
		if col, ok := meta.Column(cand); ok {
			return col
		}
	}
	return ""
}
